// Package observability provides logging and tracing for the resilience
// layer.
//
// Logging is structured via zap behind the Logger interface:
//
//	logger, err := observability.NewLogger(observability.DefaultLogConfig())
//	if err != nil {
//	    return err
//	}
//	defer logger.Sync()
//
//	logger.Info("circuit breaker state changed",
//	    observability.String("name", "auth-service"),
//	    observability.String("to", "open"),
//	)
//
// Tracing uses OpenTelemetry with an optional OTLP gRPC exporter:
//
//	tracer, err := observability.NewTracer(ctx, observability.TracerConfig{
//	    Enabled:      true,
//	    OTLPEndpoint: "otel-collector:4317",
//	    SamplingRate: 0.1,
//	})
//	defer tracer.Shutdown(ctx)
//
// Prometheus collectors live next to the component they describe
// (circuitbreaker, backend, health) and register on the default registry.
package observability
