package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/crypto-morph/newsfinder/internal/alert"
	"github.com/crypto-morph/newsfinder/internal/analysis"
	"github.com/crypto-morph/newsfinder/internal/config"
	"github.com/crypto-morph/newsfinder/internal/domain"
	"github.com/crypto-morph/newsfinder/internal/fingerprint"
	"github.com/crypto-morph/newsfinder/internal/infrastructure/alertlog"
	"github.com/crypto-morph/newsfinder/internal/infrastructure/contextprofile"
	"github.com/crypto-morph/newsfinder/internal/infrastructure/llm"
	"github.com/crypto-morph/newsfinder/internal/infrastructure/memstore"
	"github.com/crypto-morph/newsfinder/internal/infrastructure/ml"
	"github.com/crypto-morph/newsfinder/internal/infrastructure/parser"
	"github.com/crypto-morph/newsfinder/internal/infrastructure/scheduler"
	"github.com/crypto-morph/newsfinder/internal/infrastructure/search"
	"github.com/crypto-morph/newsfinder/internal/infrastructure/storage"
	"github.com/crypto-morph/newsfinder/internal/infrastructure/telegram"
	"github.com/crypto-morph/newsfinder/internal/ledger"
	"github.com/crypto-morph/newsfinder/internal/logging"
	"github.com/crypto-morph/newsfinder/internal/metrics"
	"github.com/crypto-morph/newsfinder/internal/ports"
	"github.com/crypto-morph/newsfinder/internal/scanner"
	"github.com/crypto-morph/newsfinder/internal/usecase"
	"github.com/crypto-morph/newsfinder/internal/verification"
	applog "github.com/crypto-morph/newsfinder/pkg/logger"
)

const (
	profileCacheTTL   = 5 * time.Minute
	alertQueueSize    = 64
	fetchTimeout      = 30 * time.Second
	shutdownTimeout   = 15 * time.Second
	readHeaderTimeout = 5 * time.Second
)

// Application wires configs to use cases and lifecycle orchestration.
type Application struct {
	cfg    config.Config
	base   *slog.Logger
	logger *slog.Logger

	Normalizer  *fingerprint.Normalizer
	Ledger      ports.Ledger
	Store       ports.KnowledgeStore
	Verdicts    ports.VerdictStore
	History     ports.HistoryStore
	Discoveries ports.DiscoveryStore
	Alerts      ports.AlertLog
	Archive     ports.Archive

	Pipeline    *usecase.Pipeline
	Runner      *usecase.Runner
	Reappraiser *usecase.Reappraiser
	Reembedder  *usecase.Reembedder

	dispatcher *alert.Dispatcher
	closers    []func() error
}

// New builds every adapter named by cfg. The caller must Close the application.
func New(ctx context.Context, cfg config.Config, baseLogger *slog.Logger) (*Application, error) {
	if baseLogger == nil {
		baseLogger = logging.NewWithFormat(os.Stderr, cfg.Logging.Level, cfg.Logging.Format)
	}
	a := &Application{
		cfg:        cfg,
		base:       baseLogger,
		logger:     baseLogger.With("component", "app"),
		Normalizer: NewNormalizer(cfg.Fingerprint),
	}

	if err := a.build(ctx, baseLogger); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func (a *Application) build(ctx context.Context, baseLogger *slog.Logger) error {
	cfg := a.cfg

	fpLedger, err := a.openLedger(ctx)
	if err != nil {
		return err
	}
	a.Ledger = fpLedger

	if err := a.openStores(ctx); err != nil {
		return err
	}

	alertLog, err := alertlog.NewFileLog(cfg.Storage.AlertLogPath)
	if err != nil {
		return fmt.Errorf("open alert log: %w", err)
	}
	a.Alerts = alertLog

	var notifier ports.Notifier
	if cfg.Notifications.Telegram.Enabled() {
		tg := cfg.Notifications.Telegram
		notifier = telegram.NewNotifier(tg.BotToken, tg.ChatID, tg.APIBase)
	}
	a.dispatcher = alert.NewDispatcher(alertLog, notifier, baseLogger, alertQueueSize)
	a.closers = append(a.closers, func() error {
		a.dispatcher.Close()
		return nil
	})

	if cfg.Search.Host != "" {
		archive := search.NewMeiliArchive(cfg.Search.Host, cfg.Search.APIKey, cfg.Search.Index)
		if err := archive.Healthy(); err != nil {
			a.logger.Warn("search archive unreachable, mirror disabled", "host", cfg.Search.Host, "error", err)
		} else {
			a.Archive = archive
		}
	}

	deps := usecase.PipelineDeps{
		Source:      a.candidateSource(baseLogger),
		Contexts:    a.contextProvider(),
		Normalizer:  a.Normalizer,
		Ledger:      a.Ledger,
		Embedder:    a.embedder(),
		Store:       a.Store,
		Verdicts:    a.Verdicts,
		Discoveries: a.Discoveries,
		Alerts:      a.dispatcher,
		Archive:     a.Archive,
		Logger:      baseLogger,
	}
	opts := analysis.Options{MaxTextRunes: cfg.Pipeline.MaxTextRunes, BlockedTags: cfg.Pipeline.BlockedTags}
	if cfg.LLM.Enabled {
		deps.Analysis = analysis.NewStage(modelClient(cfg.LLM, "analysis"), opts)
	} else {
		a.logger.Warn("analysis model disabled, every ingested article will fail analysis")
	}
	if cfg.Verifier.Enabled {
		sampler := verification.NewSampler(verification.Config{
			SampleRate:      cfg.Pipeline.SampleRate,
			RelevanceMin:    cfg.Pipeline.RelevanceMin,
			ImpactMin:       cfg.Pipeline.ImpactMin,
			FlagDiscrepancy: cfg.Pipeline.FlagDiscrepancy,
		})
		deps.Verification = verification.NewStage(modelClient(cfg.Verifier, "verification"), sampler)
	}

	a.Pipeline = usecase.NewPipeline(deps, Policy(cfg))
	a.Runner = usecase.NewRunner(a.Pipeline, baseLogger)
	a.Reappraiser = usecase.NewReappraiser(a.Pipeline, a.History)
	a.Reembedder = usecase.NewReembedder(a.Pipeline)
	return nil
}

// NewNormalizer builds the URL normalizer described by cfg.
func NewNormalizer(cfg config.FingerprintConfig) *fingerprint.Normalizer {
	return fingerprint.New(fingerprint.Options{
		DenyParams:  cfg.DenyParams,
		AllowParams: cfg.AllowParams,
		StripWWW:    cfg.StripWWW,
	})
}

// Policy maps configuration onto the orchestrator policy.
func Policy(cfg config.Config) usecase.Policy {
	return usecase.Policy{
		CompanyID:   cfg.Company.ID,
		Keywords:    cfg.Pipeline.Keywords,
		Thresholds:  alert.Thresholds{RelevanceMin: cfg.Pipeline.RelevanceMin, ImpactMin: cfg.Pipeline.ImpactMin},
		Concurrency: cfg.Pipeline.Concurrency,
		Retry: usecase.RetryPolicy{
			AnalysisAttempts:  cfg.Retry.AnalysisAttempts,
			EmbeddingAttempts: cfg.Retry.EmbeddingAttempts,
			StoreAttempts:     cfg.Retry.StoreAttempts,
			BaseDelay:         cfg.Retry.BaseDelay,
			MaxDelay:          cfg.Retry.MaxDelay,
		},
		Timeouts: usecase.Timeouts{
			Analysis:     cfg.Timeouts.Analysis,
			Verification: cfg.Timeouts.Verification,
			Embedding:    cfg.Timeouts.Embedding,
			Store:        cfg.Timeouts.Store,
		},
	}
}

func (a *Application) openLedger(ctx context.Context) (ports.Ledger, error) {
	cfg := a.cfg.Ledger
	var next ports.Ledger
	switch cfg.Backend {
	case config.LedgerMemory:
		a.logger.Warn("in-memory ledger: reservations do not survive restarts")
		next = ledger.NewMemory(cfg.ReservationTTL)
	case config.LedgerRedis:
		client, err := storage.NewRedisClient(a.cfg.Redis.URL)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", domain.ErrLedgerUnavailable, err)
		}
		a.closers = append(a.closers, client.Close)
		rl := storage.NewRedisLedger(client, cfg.KeyPrefix, cfg.ReservationTTL)
		if err := rl.Ping(ctx); err != nil {
			return nil, fmt.Errorf("%w: %w", domain.ErrLedgerUnavailable, err)
		}
		next = rl
	default:
		sl, err := storage.OpenSQLiteLedger(ctx, cfg.Path, cfg.ReservationTTL)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", domain.ErrLedgerUnavailable, err)
		}
		a.closers = append(a.closers, sl.Close)
		next = sl
	}

	if cfg.CacheSize <= 0 {
		return next, nil
	}
	cached, err := ledger.NewCached(next, cfg.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("ledger cache: %w", err)
	}
	return cached, nil
}

func (a *Application) openStores(ctx context.Context) error {
	db := a.cfg.Database
	if db.DSN == "" {
		a.logger.Warn("no database configured, knowledge store is in memory")
		mem := memstore.New()
		a.Store, a.Verdicts, a.History, a.Discoveries = mem, mem, mem, mem
		return nil
	}

	pool, err := storage.NewPostgresPool(ctx, db.DSN, db.MaxConns)
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrStoreUnavailable, err)
	}
	a.closers = append(a.closers, func() error {
		pool.Close()
		return nil
	})
	if db.Migrate {
		version, dirty, err := storage.RunMigrations(pool)
		if err != nil {
			return fmt.Errorf("run migrations: %w", err)
		}
		a.logger.Info("database migrated", "version", version, "dirty", dirty)
	}

	repo := storage.NewPostgresRepository(pool)
	a.Store, a.Verdicts, a.History, a.Discoveries = repo, repo, repo, repo
	return nil
}

func (a *Application) candidateSource(baseLogger *slog.Logger) ports.CandidateSource {
	client := &http.Client{Timeout: fetchTimeout}
	registry := scanner.NewRegistry()
	registry.Register(parser.NewRSSScanner(client))
	registry.Register(parser.NewHTMLScanner(client))
	return parser.NewStrategySource(registry, a.cfg.Sources, baseLogger)
}

func (a *Application) contextProvider() ports.ContextProvider {
	path := a.cfg.Storage.ProfilesPath
	if _, err := os.Stat(path); err == nil {
		return contextprofile.NewFileProvider(path, profileCacheTTL)
	}
	a.logger.Warn("company profile file missing, using a bare profile", "path", path, "company", a.cfg.Company.ID)
	return contextprofile.Static(domain.CompanyContext{
		CompanyID:     a.cfg.Company.ID,
		Name:          a.cfg.Company.ID,
		FocusKeywords: a.cfg.Pipeline.Keywords,
	})
}

func (a *Application) embedder() ports.Embedder {
	e := a.cfg.Embedding
	return ml.NewClient(e.Endpoint, e.Model, e.Dimensions, a.cfg.Timeouts.Embedding).
		WithRateLimit(e.RequestsPerSecond, e.Burst)
}

func modelClient(cfg config.ModelConfig, role string) *llm.Client {
	return llm.NewClient(
		llm.Config{Endpoint: cfg.Endpoint, Model: cfg.Model, APIKey: cfg.APIKey},
		llm.WithRateLimit(cfg.RequestsPerSecond, cfg.Burst),
		llm.WithObserver(metrics.ModelObserver(role)),
	)
}

// RunOnce executes a single run and waits for it.
func (a *Application) RunOnce(ctx context.Context, discovery bool) (usecase.Summary, error) {
	runID, err := a.Runner.StartRun(ctx, usecase.RunConfig{Discovery: discovery})
	if err != nil {
		return usecase.Summary{}, err
	}
	return a.Runner.Wait(ctx, runID)
}

// Serve runs on the configured interval and exposes metrics until ctx is done.
func (a *Application) Serve(ctx context.Context) error {
	var srv *http.Server
	serveErr := make(chan error, 1)
	if addr := a.cfg.Metrics.Addr; addr != "" {
		srv = a.metricsServer(addr)
		go func() {
			a.logger.Info("metrics listening", "addr", addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serveErr <- err
			}
		}()
	}

	sched := usecase.NewScheduler(
		scheduler.NewIntervalScheduler(a.cfg.Scheduler.Interval, a.cfg.Scheduler.RunOnStart),
		a.Runner,
		usecase.RunConfig{},
		a.base,
	)
	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	a.logger.Info("scheduler started",
		"interval", a.cfg.Scheduler.Interval,
		"run_on_start", a.cfg.Scheduler.RunOnStart,
		"local_time", time.Now().In(a.cfg.Scheduler.Location()).Format(time.RFC3339))

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-serveErr:
		runErr = fmt.Errorf("metrics server: %w", runErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	var errs []error
	if err := sched.Stop(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("stop scheduler: %w", err))
	}
	if srv != nil {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("stop metrics server: %w", err))
		}
	}
	return errors.Join(append([]error{runErr}, errs...)...)
}

func (a *Application) metricsServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := a.Store.Ping(r.Context()); err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("ok"))
	})
	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: readHeaderTimeout,
		ErrorLog:          applog.New(a.logger, "metrics", slog.LevelError),
	}
}

// Close releases adapters in reverse order of creation.
func (a *Application) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
