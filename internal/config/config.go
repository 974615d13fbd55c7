package config

import (
	"errors"
	"fmt"
	"os"
	"time"
	_ "time/tzdata"

	"gopkg.in/yaml.v3"
)

const (
	defaultTimezone   = "UTC"
	configPathEnv     = "NEWSFINDER_CONFIG"
	databaseDSNEnv    = "DATABASE_DSN"
	redisURLEnv       = "REDIS_URL"
	llmAPIKeyEnv      = "LLM_API_KEY"
	verifierAPIKeyEnv = "VERIFIER_API_KEY"
	telegramTokenEnv  = "TELEGRAM_BOT_TOKEN"
	telegramChatIDEnv = "TELEGRAM_CHAT_ID"
	meilisearchKeyEnv = "MEILISEARCH_API_KEY"
	logLevelEnv       = "NEWSFINDER_LOG_LEVEL"
)

// Ledger backends.
const (
	LedgerMemory = "memory"
	LedgerSQLite = "sqlite"
	LedgerRedis  = "redis"
)

// Config holds high-level settings required across the application.
type Config struct {
	Company       CompanyConfig      `yaml:"company"`
	Pipeline      PipelineConfig     `yaml:"pipeline"`
	Retry         RetryConfig        `yaml:"retry"`
	Timeouts      TimeoutConfig      `yaml:"timeouts"`
	Fingerprint   FingerprintConfig  `yaml:"fingerprint"`
	Ledger        LedgerConfig       `yaml:"ledger"`
	Database      DatabaseConfig     `yaml:"database"`
	Redis         RedisConfig        `yaml:"redis"`
	LLM           ModelConfig        `yaml:"llm"`
	Verifier      ModelConfig        `yaml:"verifier"`
	Embedding     EmbeddingConfig    `yaml:"embedding"`
	Notifications NotificationConfig `yaml:"notifications"`
	Search        SearchConfig       `yaml:"search"`
	Storage       StorageConfig      `yaml:"storage"`
	Scheduler     SchedulerConfig    `yaml:"scheduler"`
	Metrics       MetricsConfig      `yaml:"metrics"`
	Logging       LoggingConfig      `yaml:"logging"`
	Sources       []SourceConfig     `yaml:"sources"`
}

// CompanyConfig selects the profile used to ground analysis.
type CompanyConfig struct {
	ID string `yaml:"id"`
}

// PipelineConfig holds the policy values consumed by the orchestrator.
type PipelineConfig struct {
	Keywords        []string `yaml:"keywords"`
	BlockedTags     []string `yaml:"blockedTags"`
	RelevanceMin    int      `yaml:"relevanceMin"`
	ImpactMin       int      `yaml:"impactMin"`
	SampleRate      float64  `yaml:"sampleRate"`
	FlagDiscrepancy int      `yaml:"flagDiscrepancy"`
	Concurrency     int      `yaml:"concurrency"`
	MaxTextRunes    int      `yaml:"maxTextRunes"`
}

// RetryConfig bounds attempts per stage.
type RetryConfig struct {
	AnalysisAttempts  int           `yaml:"analysisAttempts"`
	EmbeddingAttempts int           `yaml:"embeddingAttempts"`
	StoreAttempts     int           `yaml:"storeAttempts"`
	BaseDelay         time.Duration `yaml:"baseDelay"`
	MaxDelay          time.Duration `yaml:"maxDelay"`
}

// TimeoutConfig is the independent deadline of every external call.
type TimeoutConfig struct {
	Analysis     time.Duration `yaml:"analysis"`
	Verification time.Duration `yaml:"verification"`
	Embedding    time.Duration `yaml:"embedding"`
	Store        time.Duration `yaml:"store"`
}

// FingerprintConfig tunes URL normalization.
type FingerprintConfig struct {
	DenyParams  []string `yaml:"denyParams"`
	AllowParams []string `yaml:"allowParams"`
	StripWWW    bool     `yaml:"stripWww"`
}

// LedgerConfig picks the reservation backend.
type LedgerConfig struct {
	Backend        string        `yaml:"backend"`
	Path           string        `yaml:"path"`
	KeyPrefix      string        `yaml:"keyPrefix"`
	ReservationTTL time.Duration `yaml:"reservationTtl"`
	CacheSize      int           `yaml:"cacheSize"`
}

// DatabaseConfig describes Postgres connection details. An empty DSN keeps records in memory.
type DatabaseConfig struct {
	DSN      string `yaml:"dsn"`
	MaxConns int    `yaml:"maxConns"`
	Migrate  bool   `yaml:"migrate"`
}

// RedisConfig is used by the redis ledger backend.
type RedisConfig struct {
	URL string `yaml:"url"`
}

// ModelConfig defines how to contact an OpenAI-compatible chat completion API.
type ModelConfig struct {
	Enabled           bool    `yaml:"enabled"`
	Endpoint          string  `yaml:"endpoint"`
	Model             string  `yaml:"model"`
	APIKey            string  `yaml:"apiKey"`
	RequestsPerSecond float64 `yaml:"requestsPerSecond"`
	Burst             int     `yaml:"burst"`
}

// EmbeddingConfig describes the embedding service.
type EmbeddingConfig struct {
	Endpoint          string  `yaml:"endpoint"`
	Model             string  `yaml:"model"`
	Dimensions        int     `yaml:"dimensions"`
	RequestsPerSecond float64 `yaml:"requestsPerSecond"`
	Burst             int     `yaml:"burst"`
}

// NotificationConfig encapsulates outbound channels (Telegram, etc.).
type NotificationConfig struct {
	Telegram TelegramConfig `yaml:"telegram"`
}

// TelegramConfig wires all data required to send messages.
type TelegramConfig struct {
	BotToken string `yaml:"botToken"`
	ChatID   string `yaml:"chatId"`
	APIBase  string `yaml:"apiBase"`
}

// Enabled reports whether both credentials are present.
func (t TelegramConfig) Enabled() bool {
	return t.BotToken != "" && t.ChatID != ""
}

// SearchConfig points at the Meilisearch archive mirror. An empty host disables it.
type SearchConfig struct {
	Host   string `yaml:"host"`
	APIKey string `yaml:"apiKey"`
	Index  string `yaml:"index"`
}

// StorageConfig holds local file locations.
type StorageConfig struct {
	AlertLogPath string `yaml:"alertLogPath"`
	ProfilesPath string `yaml:"profilesPath"`
}

// SchedulerConfig defines when runs are triggered by serve.
type SchedulerConfig struct {
	Interval   time.Duration  `yaml:"interval"`
	Timezone   string         `yaml:"timezone"`
	RunOnStart bool           `yaml:"runOnStart"`
	location   *time.Location `yaml:"-"`
}

// Location resolves the scheduler timezone string to a time.Location.
func (s SchedulerConfig) Location() *time.Location {
	if s.location != nil {
		return s.location
	}
	loc, _ := time.LoadLocation(defaultTimezone)
	return loc
}

// MetricsConfig controls the Prometheus endpoint of serve.
type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// LoggingConfig selects slog level and handler.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// SourceConfig describes a single news source with its scanner strategy.
type SourceConfig struct {
	Name    string            `yaml:"name"`
	Scanner string            `yaml:"scanner"`
	Feeds   []FeedConfig      `yaml:"feeds"`
	Options map[string]string `yaml:"options"`
}

// FeedConfig holds the concrete endpoints to fetch.
type FeedConfig struct {
	Name string `yaml:"name"`
	URL  string `yaml:"url"`
}

// Load reads YAML configuration over the defaults and applies environment overrides.
// An empty path falls back to $NEWSFINDER_CONFIG; no path at all yields the defaults.
func Load(path string) (Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv(configPathEnv)
	}
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	cfg.applyEnvOverrides()
	cfg.bindTimezone()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv(databaseDSNEnv); v != "" {
		c.Database.DSN = v
	}

	if v := os.Getenv(redisURLEnv); v != "" {
		c.Redis.URL = v
	}

	if v := os.Getenv(llmAPIKeyEnv); v != "" {
		c.LLM.APIKey = v
	}

	if v := os.Getenv(verifierAPIKeyEnv); v != "" {
		c.Verifier.APIKey = v
	}

	if v := os.Getenv(telegramTokenEnv); v != "" {
		c.Notifications.Telegram.BotToken = v
	}

	if v := os.Getenv(telegramChatIDEnv); v != "" {
		c.Notifications.Telegram.ChatID = v
	}

	if v := os.Getenv(meilisearchKeyEnv); v != "" {
		c.Search.APIKey = v
	}

	if v := os.Getenv(logLevelEnv); v != "" {
		c.Logging.Level = v
	}
}

func (c *Config) bindTimezone() {
	tz := c.Scheduler.Timezone
	if tz == "" {
		tz = defaultTimezone
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		loc, _ = time.LoadLocation(defaultTimezone)
	}
	c.Scheduler.location = loc
}

// Validate rejects values the pipeline cannot honour.
func (c Config) Validate() error {
	var errs []error
	p := c.Pipeline
	if p.RelevanceMin < 1 || p.RelevanceMin > 10 {
		errs = append(errs, fmt.Errorf("pipeline.relevanceMin %d outside [1,10]", p.RelevanceMin))
	}
	if p.ImpactMin < 1 || p.ImpactMin > 10 {
		errs = append(errs, fmt.Errorf("pipeline.impactMin %d outside [1,10]", p.ImpactMin))
	}
	if p.SampleRate < 0 || p.SampleRate > 1 {
		errs = append(errs, fmt.Errorf("pipeline.sampleRate %v outside [0,1]", p.SampleRate))
	}
	if p.Concurrency < 1 {
		errs = append(errs, fmt.Errorf("pipeline.concurrency must be at least 1"))
	}
	r := c.Retry
	if r.AnalysisAttempts < 1 || r.EmbeddingAttempts < 1 || r.StoreAttempts < 1 {
		errs = append(errs, errors.New("retry attempts must be at least 1"))
	}
	t := c.Timeouts
	if t.Analysis <= 0 || t.Verification <= 0 || t.Embedding <= 0 || t.Store <= 0 {
		errs = append(errs, errors.New("timeouts must be positive"))
	}
	switch c.Ledger.Backend {
	case LedgerMemory, LedgerSQLite:
	case LedgerRedis:
		if c.Redis.URL == "" {
			errs = append(errs, errors.New("ledger.backend redis requires redis.url"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown ledger.backend %q", c.Ledger.Backend))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

// Default returns the built-in configuration.
func Default() Config {
	tz, _ := time.LoadLocation(defaultTimezone)
	return Config{
		Company: CompanyConfig{ID: "default"},
		Pipeline: PipelineConfig{
			RelevanceMin:    7,
			ImpactMin:       7,
			SampleRate:      0.10,
			FlagDiscrepancy: 4,
			Concurrency:     4,
			MaxTextRunes:    4000,
		},
		Retry: RetryConfig{
			AnalysisAttempts:  3,
			EmbeddingAttempts: 3,
			StoreAttempts:     2,
			BaseDelay:         500 * time.Millisecond,
			MaxDelay:          5 * time.Second,
		},
		Timeouts: TimeoutConfig{
			Analysis:     120 * time.Second,
			Verification: 60 * time.Second,
			Embedding:    30 * time.Second,
			Store:        10 * time.Second,
		},
		Ledger: LedgerConfig{
			Backend:        LedgerSQLite,
			Path:           "data/ledger.db",
			KeyPrefix:      "newsfinder:fp:",
			ReservationTTL: 30 * time.Minute,
			CacheSize:      4096,
		},
		Database: DatabaseConfig{MaxConns: 10, Migrate: true},
		LLM: ModelConfig{
			Enabled:  true,
			Endpoint: "http://localhost:11434/v1/chat/completions",
			Model:    "llama3.1",
		},
		Verifier: ModelConfig{
			Enabled:  false,
			Endpoint: "https://api.openai.com/v1/chat/completions",
			Model:    "gpt-4o-mini",
		},
		Embedding: EmbeddingConfig{
			Endpoint: "http://localhost:11434",
			Model:    "nomic-embed-text",
		},
		Search: SearchConfig{Index: "articles"},
		Storage: StorageConfig{
			AlertLogPath: "data/alerts.jsonl",
			ProfilesPath: "config/companies.yaml",
		},
		Scheduler: SchedulerConfig{Interval: time.Hour, Timezone: defaultTimezone, RunOnStart: true, location: tz},
		Metrics:   MetricsConfig{Addr: ":9464"},
		Logging:   LoggingConfig{Level: "info", Format: "text"},
	}
}
