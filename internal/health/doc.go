// Package health actively probes upstream instances and keeps the latest
// results as a snapshot.
//
// A Checker runs one probe tick immediately on StartMonitoring and then once
// per interval. Each tick probes every target concurrently (HTTP GET on
// baseUrl+healthCheckPath, or grpc.health.v1 Check), replaces the snapshot
// wholesale and feeds the results to a hysteresis tracker. When an instance
// crosses the unhealthy or healthy threshold the checker flips it in the
// load balancer through the InstanceMarker interface.
//
// Probe failures never surface as errors; they are recorded as status
// strings such as "unhealthy (HTTP 503)".
package health
