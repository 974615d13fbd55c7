package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crypto-morph/newsfinder/internal/config"
	"github.com/crypto-morph/newsfinder/internal/infrastructure/memstore"
	"github.com/crypto-morph/newsfinder/internal/ledger"
	"github.com/crypto-morph/newsfinder/internal/logging"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Ledger.Backend = config.LedgerMemory
	cfg.Storage.AlertLogPath = filepath.Join(dir, "alerts.jsonl")
	cfg.Storage.ProfilesPath = filepath.Join(dir, "missing.yaml")
	cfg.Metrics.Addr = ""
	return cfg
}

func TestNewWithInMemoryBackends(t *testing.T) {
	cfg := testConfig(t)
	a, err := New(context.Background(), cfg, logging.Discard())
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	assert.IsType(t, &memstore.Store{}, a.Store)
	assert.IsType(t, &ledger.Cached{}, a.Ledger)
	assert.Nil(t, a.Archive)
	assert.NotNil(t, a.Runner)
	assert.NotNil(t, a.Reappraiser)
	assert.NotNil(t, a.Reembedder)
}

func TestNewWithSQLiteLedger(t *testing.T) {
	cfg := testConfig(t)
	cfg.Ledger.Backend = config.LedgerSQLite
	cfg.Ledger.Path = filepath.Join(t.TempDir(), "ledger.db")
	cfg.Ledger.CacheSize = 0

	a, err := New(context.Background(), cfg, logging.Discard())
	require.NoError(t, err)
	require.NoError(t, a.Close())
	assert.FileExists(t, cfg.Ledger.Path)
}

func TestRunOnceWithoutSources(t *testing.T) {
	cfg := testConfig(t)
	a, err := New(context.Background(), cfg, logging.Discard())
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	summary, err := a.RunOnce(ctx, false)
	require.NoError(t, err)
	assert.Zero(t, summary.Total)
}

func TestPolicyFromConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Company.ID = "acme"
	cfg.Pipeline.Keywords = []string{"clinic"}
	cfg.Pipeline.RelevanceMin = 6

	p := Policy(cfg)
	assert.Equal(t, "acme", p.CompanyID)
	assert.Equal(t, []string{"clinic"}, p.Keywords)
	assert.Equal(t, 6, p.Thresholds.RelevanceMin)
	assert.Equal(t, cfg.Retry.AnalysisAttempts, p.Retry.AnalysisAttempts)
	assert.Equal(t, cfg.Timeouts.Store, p.Timeouts.Store)
}

func TestMetricsServerRoutes(t *testing.T) {
	cfg := testConfig(t)
	a, err := New(context.Background(), cfg, logging.Discard())
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	srv := httptest.NewServer(a.metricsServer(":0").Handler)
	defer srv.Close()

	for _, path := range []string{"/healthz", "/metrics"} {
		resp, err := http.Get(srv.URL + path)
		require.NoError(t, err)
		_ = resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
	}
}

func TestServeStopsOnCancel(t *testing.T) {
	cfg := testConfig(t)
	cfg.Scheduler.RunOnStart = false
	a, err := New(context.Background(), cfg, logging.Discard())
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Serve(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not stop")
	}
}
