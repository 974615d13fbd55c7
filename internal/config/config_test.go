package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv(configPathEnv, "")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Pipeline.RelevanceMin)
	assert.Equal(t, 7, cfg.Pipeline.ImpactMin)
	assert.InDelta(t, 0.10, cfg.Pipeline.SampleRate, 1e-9)
	assert.Equal(t, 120*time.Second, cfg.Timeouts.Analysis)
	assert.Equal(t, "sqlite", cfg.Ledger.Backend)
	assert.Equal(t, "UTC", cfg.Scheduler.Location().String())
}

func TestLoadOverlaysFile(t *testing.T) {
	path := writeConfig(t, `
company:
  id: acme
pipeline:
  keywords: [clinic, telehealth]
  relevanceMin: 8
  sampleRate: 0
timeouts:
  analysis: 45s
ledger:
  backend: memory
scheduler:
  interval: 15m
  timezone: Europe/London
sources:
  - name: wire
    scanner: rss
    feeds:
      - name: health
        url: https://wire.example/health.xml
    options:
      max_items: "20"
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "acme", cfg.Company.ID)
	assert.Equal(t, []string{"clinic", "telehealth"}, cfg.Pipeline.Keywords)
	assert.Equal(t, 8, cfg.Pipeline.RelevanceMin)
	assert.Equal(t, 7, cfg.Pipeline.ImpactMin, "unset fields keep defaults")
	assert.Zero(t, cfg.Pipeline.SampleRate, "explicit zero must survive")
	assert.Equal(t, 45*time.Second, cfg.Timeouts.Analysis)
	assert.Equal(t, 60*time.Second, cfg.Timeouts.Verification)
	assert.Equal(t, 15*time.Minute, cfg.Scheduler.Interval)
	assert.Equal(t, "Europe/London", cfg.Scheduler.Location().String())
	require.Len(t, cfg.Sources, 1)
	assert.Equal(t, "https://wire.example/health.xml", cfg.Sources[0].Feeds[0].URL)
	assert.Equal(t, "20", cfg.Sources[0].Options["max_items"])
}

func TestLoadEnvOverrides(t *testing.T) {
	path := writeConfig(t, "database:\n  dsn: postgres://file\n")
	t.Setenv(databaseDSNEnv, "postgres://env")
	t.Setenv(llmAPIKeyEnv, "sk-test")
	t.Setenv(telegramTokenEnv, "bot")
	t.Setenv(telegramChatIDEnv, "42")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "postgres://env", cfg.Database.DSN)
	assert.Equal(t, "sk-test", cfg.LLM.APIKey)
	assert.True(t, cfg.Notifications.Telegram.Enabled())
}

func TestLoadPathFromEnv(t *testing.T) {
	path := writeConfig(t, "company:\n  id: from-env\n")
	t.Setenv(configPathEnv, path)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Company.ID)
}

func TestLoadErrors(t *testing.T) {
	t.Setenv(configPathEnv, "")

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "pipeline: [not, a, map]\n"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	t.Parallel()

	cases := map[string]func(*Config){
		"relevance above range": func(c *Config) { c.Pipeline.RelevanceMin = 11 },
		"impact below range":    func(c *Config) { c.Pipeline.ImpactMin = 0 },
		"sample rate":           func(c *Config) { c.Pipeline.SampleRate = 1.5 },
		"concurrency":           func(c *Config) { c.Pipeline.Concurrency = 0 },
		"attempts":              func(c *Config) { c.Retry.StoreAttempts = 0 },
		"timeout":               func(c *Config) { c.Timeouts.Embedding = 0 },
		"ledger backend":        func(c *Config) { c.Ledger.Backend = "etcd" },
		"redis without url":     func(c *Config) { c.Ledger.Backend = "redis" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}

	assert.NoError(t, Default().Validate())
}
