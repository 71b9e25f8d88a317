package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/gestionale/internal/config"
	"github.com/JakeFAU/gestionale/internal/store"
)

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{Port: 8080, ShutdownTimeoutSeconds: 2},
		HTTP:   config.HTTPConfig{RequestTimeoutSeconds: 5, QueryTimeoutSeconds: 2},
		Database: config.DatabaseConfig{
			Driver:   config.DriverSQLite,
			DSN:      ":memory:",
			PageSize: 10,
		},
		Progress: config.ProgressConfig{
			Backend:              config.BackendMemory,
			RetentionMinutes:     1,
			SweepIntervalSeconds: 1,
		},
	}
}

func TestBuildWithSQLiteAndMemoryTracker(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	app, err := buildWithLogger(ctx, testConfig(), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close() })

	rec := httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/viaggi/stats", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var stats store.TripStats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, store.Pagination{Page: 1, PageSize: 10}, stats.Pagination)

	rec = httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	require.NoError(t, app.Tracker().Create(ctx, "abc", store.ImportStatus{CurrentStep: "start"}))
	rec = httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/import/abc/status", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"progress":0,"currentStep":"start","completed":false}`, rec.Body.String())
}

func TestBuildWithRedisTracker(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	cfg := testConfig()
	cfg.Progress.Backend = config.BackendRedis
	cfg.Progress.Redis = config.RedisConfig{Addr: mr.Addr(), Prefix: "test:"}

	ctx := context.Background()
	app, err := buildWithLogger(ctx, cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close() })

	require.NoError(t, app.Tracker().Create(ctx, "abc", store.ImportStatus{}))
	assert.True(t, mr.Exists("test:abc"))
	assert.Nil(t, app.sweeper)
}

func TestBuildFailsWhenRedisUnreachable(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	cfg := testConfig()
	cfg.Progress.Backend = config.BackendRedis
	cfg.Progress.Redis = config.RedisConfig{Addr: addr}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := buildWithLogger(ctx, cfg, zap.NewNop())
	require.ErrorContains(t, err, "redis tracker init failed")
}

func TestBuildFailsOnInvalidPostgresDSN(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Database.Driver = config.DriverPostgres
	cfg.Database.DSN = "postgres://%zz"

	_, err := buildWithLogger(context.Background(), cfg, zap.NewNop())
	require.ErrorContains(t, err, "postgres init failed")
}

func TestServeShutsDownOnCancel(t *testing.T) {
	t.Parallel()

	app, err := buildWithLogger(context.Background(), testConfig(), zap.NewNop())
	require.NoError(t, err)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Serve(ctx, ln) }()

	url := fmt.Sprintf("http://%s/healthz", ln.Addr().String())
	require.Eventually(t, func() bool {
		resp, err := http.Get(url) //nolint:noctx // test probe
		if err != nil {
			return false
		}
		defer resp.Body.Close() //nolint:errcheck
		body, _ := io.ReadAll(resp.Body)
		return resp.StatusCode == http.StatusOK && string(body) == "{\"status\":\"ok\"}\n"
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
	require.NoError(t, app.Close())
}
