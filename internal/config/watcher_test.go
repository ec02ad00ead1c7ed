package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const watchedConfig = `
healthCheckIntervalSeconds: %d
upstreamServices:
  - name: auth-service
    baseUrl: http://auth:8080
`

func writeConfig(t *testing.T, path string, interval int) {
	t.Helper()
	data := []byte(fmt.Sprintf(watchedConfig, interval))
	require.NoError(t, os.WriteFile(path, data, 0o600))
}

func TestWatcher_ReloadsOnChange(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "gateway.yaml")
	writeConfig(t, path, 10)

	var latest atomic.Int64
	w, err := NewWatcher(path, func(cfg *GatewayConfig) {
		latest.Store(int64(cfg.HealthCheckIntervalSeconds))
	}, WithDebounceDelay(10*time.Millisecond))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, w.Start(ctx))
	defer func() { _ = w.Stop() }()

	require.NotNil(t, w.Current())
	assert.Equal(t, 10, w.Current().HealthCheckIntervalSeconds)

	writeConfig(t, path, 20)

	assert.Eventually(t, func() bool {
		return latest.Load() == 20
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 20, w.Current().HealthCheckIntervalSeconds)
}

func TestWatcher_InvalidRevisionKeepsCurrent(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "gateway.yaml")
	writeConfig(t, path, 10)

	var errCount atomic.Int32
	w, err := NewWatcher(path, nil,
		WithDebounceDelay(10*time.Millisecond),
		WithErrorFunc(func(error) { errCount.Add(1) }),
	)
	require.NoError(t, err)

	require.NoError(t, w.Start(context.Background()))
	defer func() { _ = w.Stop() }()

	require.NoError(t, os.WriteFile(path, []byte("upstreamServices:\n  - name: \"\"\n"), 0o600))

	assert.Eventually(t, func() bool {
		return errCount.Load() > 0
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 10, w.Current().HealthCheckIntervalSeconds)
}

func TestWatcher_StartFailsOnInvalidFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "gateway.yaml")
	require.NoError(t, os.WriteFile(path, []byte("loadBalancer:\n  algorithm: fastest\n"), 0o600))

	w, err := NewWatcher(path, nil)
	require.NoError(t, err)
	defer func() { _ = w.Stop() }()

	assert.Error(t, w.Start(context.Background()))
}

func TestWatcher_StopIsIdempotent(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "gateway.yaml")
	writeConfig(t, path, 10)

	w, err := NewWatcher(path, nil)
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))
	require.NoError(t, w.Start(context.Background()))

	require.NoError(t, w.Stop())
	_ = w.Stop()
}
