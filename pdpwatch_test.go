package pdpwatch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func requireUnix(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires Unix-like environment")
	}
}

func TestArgsFacade(t *testing.T) {
	b := NewBuilder().WithArgs(Module("uvicorn"), App("pdp.main:app"), Port(7001), LogLevel(LevelDebug))
	require.NotNil(t, b)
	assert.Equal(t, []string{"--port", "7001"}, Port(7001).Args())
	assert.Equal(t, []string{"--log-level", "critical"}, LogLevel(LevelCritical).Args())
}

func TestBuilderFacade_MissingPython(t *testing.T) {
	_, err := NewBuilder().
		WithPythonPath(filepath.Join(t.TempDir(), "nope")).
		WithPDPDir(t.TempDir()).
		Build()
	assert.ErrorIs(t, err, ErrBinaryNotFound)
}

func TestLoadConfigFacade(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Health.FailureThreshold)
}

func TestRegisterMetrics(t *testing.T) {
	require.NoError(t, RegisterMetrics(prometheus.NewRegistry()))
	require.NoError(t, RegisterMetricsDefault())
}

func TestEngineFacadeWithAdminHandler(t *testing.T) {
	requireUnix(t)
	if testing.Short() {
		t.Skip("spawns a child process")
	}
	dir := t.TempDir()
	py := filepath.Join(dir, "python3")
	require.NoError(t, os.WriteFile(py, []byte("#!/bin/sh\nexec sleep 60\n"), 0o755))
	pdp := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer pdp.Close()

	eng, err := NewBuilder().
		WithPythonPath(py).
		WithPDPDir(dir).
		WithBaseURL(pdp.URL + "/").
		WithHealthTimeout(5 * time.Second).
		WithHealthCheckInterval(50 * time.Millisecond).
		WithStartupDelay(10 * time.Millisecond).
		Start(context.Background())
	require.NoError(t, err)
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = eng.Stop(ctx)
	}()

	h := NewAdminHandler(eng.Watchdog(), "/api")
	require.Eventually(t, func() bool {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/healthz", nil))
		return rec.Code == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)
}
