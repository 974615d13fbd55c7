package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/crypto-morph/newsfinder/internal/alert"
	"github.com/crypto-morph/newsfinder/internal/analysis"
	"github.com/crypto-morph/newsfinder/internal/domain"
	"github.com/crypto-morph/newsfinder/internal/filter"
	"github.com/crypto-morph/newsfinder/internal/fingerprint"
	"github.com/crypto-morph/newsfinder/internal/metrics"
	"github.com/crypto-morph/newsfinder/internal/ports"
	"github.com/crypto-morph/newsfinder/internal/retry"
	"github.com/crypto-morph/newsfinder/internal/verification"
)

// Timeouts bound every external call independently of run cancellation.
type Timeouts struct {
	Analysis     time.Duration
	Verification time.Duration
	Embedding    time.Duration
	Store        time.Duration
}

func (t Timeouts) withDefaults() Timeouts {
	def := DefaultPolicy().Timeouts
	if t.Analysis <= 0 {
		t.Analysis = def.Analysis
	}
	if t.Verification <= 0 {
		t.Verification = def.Verification
	}
	if t.Embedding <= 0 {
		t.Embedding = def.Embedding
	}
	if t.Store <= 0 {
		t.Store = def.Store
	}
	return t
}

// RetryPolicy sets attempts per stage. Verification is never retried.
type RetryPolicy struct {
	AnalysisAttempts  int
	EmbeddingAttempts int
	StoreAttempts     int
	BaseDelay         time.Duration
	MaxDelay          time.Duration
}

// Policy holds the plain configuration values the orchestrator acts on.
type Policy struct {
	CompanyID   string
	Keywords    []string
	Thresholds  alert.Thresholds
	Concurrency int
	Retry       RetryPolicy
	Timeouts    Timeouts
}

// DefaultPolicy mirrors the built-in configuration defaults.
func DefaultPolicy() Policy {
	return Policy{
		Thresholds:  alert.Thresholds{RelevanceMin: 7, ImpactMin: 7},
		Concurrency: 4,
		Retry: RetryPolicy{
			AnalysisAttempts:  3,
			EmbeddingAttempts: 3,
			StoreAttempts:     2,
			BaseDelay:         500 * time.Millisecond,
			MaxDelay:          5 * time.Second,
		},
		Timeouts: Timeouts{
			Analysis:     120 * time.Second,
			Verification: 60 * time.Second,
			Embedding:    30 * time.Second,
			Store:        10 * time.Second,
		},
	}
}

// RunConfig tunes a single run.
type RunConfig struct {
	// Discovery records candidates without filtering, reserving or calling models.
	Discovery bool
	// Candidates replaces the candidate source when non-nil.
	Candidates []domain.RawCandidate
}

// PipelineDeps wires all driven adapters into the orchestration pipeline.
// Verification, Verdicts, Discoveries, Alerts and Archive are optional.
type PipelineDeps struct {
	Source       ports.CandidateSource
	Contexts     ports.ContextProvider
	Normalizer   *fingerprint.Normalizer
	Ledger       ports.Ledger
	Analysis     *analysis.Stage
	Verification *verification.Stage
	Embedder     ports.Embedder
	Store        ports.KnowledgeStore
	Verdicts     ports.VerdictStore
	Discoveries  ports.DiscoveryStore
	Alerts       *alert.Dispatcher
	Archive      ports.Archive
	Logger       *slog.Logger
}

// Pipeline implements the per-article ingestion state machine.
type Pipeline struct {
	source       ports.CandidateSource
	contexts     ports.ContextProvider
	normalizer   *fingerprint.Normalizer
	ledger       ports.Ledger
	analysis     *analysis.Stage
	verification *verification.Stage
	embedder     ports.Embedder
	store        ports.KnowledgeStore
	verdicts     ports.VerdictStore
	discoveries  ports.DiscoveryStore
	alerts       *alert.Dispatcher
	archive      ports.Archive

	policy        Policy
	keywords      filter.KeywordSet
	analysisRetry *retry.Retrier
	embedRetry    *retry.Retrier
	storeRetry    *retry.Retrier
	logger        *slog.Logger
	now           func() time.Time
}

// NewPipeline constructs the orchestration component.
func NewPipeline(deps PipelineDeps, policy Policy) *Pipeline {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "pipeline")
	if policy.Concurrency < 1 {
		policy.Concurrency = 1
	}
	policy.Timeouts = policy.Timeouts.withDefaults()
	normalizer := deps.Normalizer
	if normalizer == nil {
		normalizer = fingerprint.New(fingerprint.Options{})
	}

	retryConfig := func(attempts int) retry.Config {
		return retry.Config{
			MaxAttempts:   attempts,
			BaseDelay:     policy.Retry.BaseDelay,
			MaxDelay:      policy.Retry.MaxDelay,
			BackoffFactor: 2,
			JitterFactor:  0.2,
		}
	}

	return &Pipeline{
		source:        deps.Source,
		contexts:      deps.Contexts,
		normalizer:    normalizer,
		ledger:        deps.Ledger,
		analysis:      deps.Analysis,
		verification:  deps.Verification,
		embedder:      deps.Embedder,
		store:         deps.Store,
		verdicts:      deps.Verdicts,
		discoveries:   deps.Discoveries,
		alerts:        deps.Alerts,
		archive:       deps.Archive,
		policy:        policy,
		keywords:      filter.NewKeywordSet(policy.Keywords),
		analysisRetry: retry.New(retryConfig(policy.Retry.AnalysisAttempts), retry.Transient, logger),
		embedRetry:    retry.New(retryConfig(policy.Retry.EmbeddingAttempts), retry.Transient, logger),
		storeRetry:    retry.New(retryConfig(policy.Retry.StoreAttempts), retry.Transient, logger),
		logger:        logger,
		now:           time.Now,
	}
}

// Run executes one pipeline run. The returned error is run-level (store or
// ledger unavailable, company context missing, cancellation); per-article
// failures are reported through the summary outcomes.
func (p *Pipeline) Run(ctx context.Context, runID string, cfg RunConfig, progress *Progress) (Summary, error) {
	if progress == nil {
		progress = &Progress{}
	}
	logger := p.logger.With("run_id", runID)
	summary := Summary{RunID: runID, Discovery: cfg.Discovery, StartedAt: p.now().UTC()}

	finish := func(outcomes []domain.Outcome, err error) (Summary, error) {
		summary.FinishedAt = p.now().UTC()
		summary.tally(outcomes)
		metrics.RecordRun(runStateFor(err).String())
		if err != nil {
			logger.Error("run aborted", "error", err, "processed", summary.Total)
		} else {
			logger.Info("run finished",
				"candidates", summary.Total,
				"stored", summary.Stored,
				"alerted", summary.Alerted,
				"duplicates", summary.Duplicates,
				"failed", summary.Failed,
				"elapsed", summary.FinishedAt.Sub(summary.StartedAt))
		}
		return summary, err
	}

	if err := p.preflight(ctx); err != nil {
		return finish(nil, err)
	}

	company, err := p.companyContext(ctx)
	if err != nil {
		return finish(nil, err)
	}

	candidates := cfg.Candidates
	if candidates == nil {
		if p.source == nil {
			return finish(nil, errors.New("candidate source is not configured"))
		}
		candidates, err = p.source.FetchCandidates(ctx)
		if err != nil {
			return finish(nil, fmt.Errorf("fetch candidates: %w", err))
		}
	}
	progress.total.Store(int64(len(candidates)))
	logger.Info("run started", "candidates", len(candidates), "discovery", cfg.Discovery)

	var outcomes []domain.Outcome
	if cfg.Discovery {
		outcomes, err = p.discover(ctx, runID, candidates, progress, logger)
	} else {
		outcomes, err = p.ingest(ctx, runID, candidates, company, progress, logger)
	}
	if err == nil && ctx.Err() != nil {
		err = fmt.Errorf("run cancelled: %w", ctx.Err())
	}
	return finish(outcomes, err)
}

func (p *Pipeline) preflight(ctx context.Context) error {
	if p.ledger == nil {
		return fmt.Errorf("%w: not configured", domain.ErrLedgerUnavailable)
	}
	if p.store == nil {
		return fmt.Errorf("%w: not configured", domain.ErrStoreUnavailable)
	}
	pingCtx, cancel := context.WithTimeout(ctx, p.policy.Timeouts.Store)
	defer cancel()
	if err := p.store.Ping(pingCtx); err != nil {
		if errors.Is(err, domain.ErrStoreUnavailable) {
			return err
		}
		return fmt.Errorf("%w: %w", domain.ErrStoreUnavailable, err)
	}
	return nil
}

func (p *Pipeline) companyContext(ctx context.Context) (domain.CompanyContext, error) {
	if p.contexts == nil {
		return domain.CompanyContext{CompanyID: p.policy.CompanyID}, nil
	}
	company, err := p.contexts.CompanyContext(ctx, p.policy.CompanyID)
	if err != nil {
		return domain.CompanyContext{}, fmt.Errorf("company context %q: %w", p.policy.CompanyID, err)
	}
	return company, nil
}

func (p *Pipeline) ingest(ctx context.Context, runID string, candidates []domain.RawCandidate, company domain.CompanyContext, progress *Progress, logger *slog.Logger) ([]domain.Outcome, error) {
	outcomes := make([]domain.Outcome, len(candidates))
	var background sync.WaitGroup

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.policy.Concurrency)
	for i := range candidates {
		if gctx.Err() != nil {
			outcomes[i] = p.cancelled(candidates[i])
			progress.observe(outcomes[i])
			continue
		}
		g.Go(func() error {
			out, err := p.process(gctx, runID, candidates[i], company, progress, &background, logger)
			outcomes[i] = out
			progress.observe(out)
			metrics.RecordOutcome(string(out.State))
			return err
		})
	}

	err := g.Wait()
	background.Wait()
	if p.alerts != nil {
		if ferr := p.alerts.Flush(context.WithoutCancel(ctx)); ferr != nil {
			logger.Error("flush alerts", "error", ferr)
		}
	}
	return outcomes, err
}

func (p *Pipeline) cancelled(candidate domain.RawCandidate) domain.Outcome {
	now := p.now().UTC()
	out := domain.Outcome{URL: candidate.URL, Title: candidate.Title, StartedAt: now, FinishedAt: now}
	out.Advance(domain.StateCancelled)
	return out
}

// process drives one candidate through the state machine. The error return is
// reserved for run-level failures; everything else lands in the outcome.
func (p *Pipeline) process(ctx context.Context, runID string, candidate domain.RawCandidate, company domain.CompanyContext, progress *Progress, background *sync.WaitGroup, base *slog.Logger) (out domain.Outcome, fatal error) {
	out = domain.Outcome{URL: candidate.URL, Title: candidate.Title, StartedAt: p.now().UTC()}
	defer func() { out.FinishedAt = p.now().UTC() }()
	out.Advance(domain.StateFetched)

	if stopped(ctx, &out) {
		return out, nil
	}

	fp, err := p.normalizer.Fingerprint(candidate.URL)
	if err != nil {
		fail(&out, domain.StageFilter, err)
		base.Warn("candidate has unusable url", "url", candidate.URL, "error", err)
		return out, nil
	}
	out.Fingerprint = fp
	logger := base.With("fingerprint", fp.Short(), "url", candidate.URL)

	if !filter.Passes(candidate, p.keywords) {
		out.RejectReason = domain.RejectFilter
		out.Advance(domain.StateRejected)
		logger.Debug("candidate filtered")
		return out, nil
	}
	out.Advance(domain.StateFiltered)

	// Ledger calls and stage calls run detached so a cancelled run still
	// finishes the current stage and hands back its reservation.
	detached := context.WithoutCancel(ctx)

	var reservation ports.Reservation
	err = p.ledgerCall(detached, func(c context.Context) error {
		var err error
		reservation, err = p.ledger.Reserve(c, fp)
		return err
	})
	if err != nil {
		fail(&out, domain.StageLedger, err)
		return out, fmt.Errorf("reserve %s: %w", fp.Short(), err)
	}
	if !reservation.Held() {
		out.RejectReason = domain.RejectDuplicate
		out.Advance(domain.StateRejected)
		logger.Debug("duplicate fingerprint")
		return out, nil
	}
	out.Advance(domain.StateReserved)

	// The record may exist without a committed fingerprint: a commit that
	// never landed, or a ledger that started empty next to a durable store.
	if p.alreadyStored(detached, fp, logger) {
		if err := p.commit(ctx, fp); err != nil {
			fail(&out, domain.StageLedger, err)
			return out, fmt.Errorf("commit %s: %w", fp.Short(), err)
		}
		out.RejectReason = domain.RejectDuplicate
		out.Advance(domain.StateRejected)
		logger.Debug("fingerprint already stored, ledger repaired")
		return out, nil
	}

	stored := false
	defer func() {
		if stored {
			return
		}
		err := p.ledgerCall(detached, func(c context.Context) error {
			return p.ledger.Release(c, fp, reservation.Token)
		})
		if err != nil {
			logger.Error("release reservation", "error", err)
			if fatal == nil {
				fatal = fmt.Errorf("release %s: %w", fp.Short(), err)
			}
			return
		}
		out.Released = true
		out.Trail = append(out.Trail, domain.StateReleased)
		logger.Debug("reservation released", "state", out.State)
	}()

	if stopped(ctx, &out) {
		return out, nil
	}
	article, err := p.analyze(ctx, candidate, fp, company)
	if err != nil {
		if !stoppedBy(ctx, err, &out) {
			fail(&out, domain.StageAnalysis, err)
			logger.Warn("analysis failed", "stage", domain.StageAnalysis, "error", err)
		}
		return out, nil
	}
	scores := article.Scores
	out.Scores = &scores
	out.Advance(domain.StateAnalyzed)
	progress.markAnalyzed()

	var verdict *domain.VerificationVerdict
	if p.verification != nil && p.verification.Sampler().ShouldVerify(article) {
		if stopped(ctx, &out) {
			return out, nil
		}
		v, err := p.verify(detached, candidate, article, company)
		if err != nil {
			logger.Warn("verification failed, continuing", "stage", domain.StageVerification, "error", err)
			out.Advance(domain.StateVerificationSkipped)
		} else {
			verdict = &v
			out.Verdict = verdict
			out.Verified = true
			out.Advance(domain.StateVerified)
			if v.Flagged {
				metrics.RecordFlagged()
				logger.Warn("verification discrepancy flagged",
					"discrepancy", v.Discrepancy,
					"verifier", v.VerifierIdentity,
					"relevance", article.Scores.Relevance,
					"impact", article.Scores.Impact)
			}
		}
	} else {
		out.Advance(domain.StateVerificationSkipped)
	}

	if stopped(ctx, &out) {
		return out, nil
	}
	vector, err := p.embed(ctx, article.SummaryText)
	needsReembed := false
	if err != nil {
		if stoppedBy(ctx, err, &out) {
			return out, nil
		}
		logger.Warn("embedding exhausted, storing without vector", "stage", domain.StageEmbedding, "error", err)
		vector, needsReembed = nil, true
		out.StoredNoVec = true
	} else {
		out.Advance(domain.StateEmbedded)
	}

	if stopped(ctx, &out) {
		return out, nil
	}
	now := p.now().UTC()
	record := domain.StoredRecord{
		Article:      article,
		Embedding:    vector,
		NeedsReembed: needsReembed,
		FirstSeenAt:  now,
		StoredAt:     now,
	}
	if err := p.persist(ctx, record); err != nil {
		if !stoppedBy(ctx, err, &out) {
			fail(&out, domain.StageStore, err)
			logger.Error("store failed", "stage", domain.StageStore, "error", err)
		}
		return out, nil
	}
	stored = true
	out.Advance(domain.StateStored)

	if err := p.commit(ctx, fp); err != nil {
		logger.Error("commit fingerprint", "error", err)
		return out, fmt.Errorf("commit %s: %w", fp.Short(), err)
	}

	if verdict != nil {
		p.recordVerdict(detached, article, verdict, logger)
	}
	p.mirror(detached, record, background, logger)

	if p.policy.Thresholds.Evaluate(article.Scores) {
		event := alert.NewEvent(article, runID, p.now())
		out.Alert = &event
		if p.alerts != nil {
			if err := p.alerts.Dispatch(detached, event); err != nil {
				logger.Error("dispatch alert", "stage", domain.StageAlert, "error", err)
			}
		}
		out.Advance(domain.StateAlerted)
	} else {
		out.Advance(domain.StateNotAlerted)
	}
	logger.Debug("article processed", "state", out.State, "relevance", article.Scores.Relevance, "impact", article.Scores.Impact)
	return out, nil
}

// attempt runs one retried stage: backoff waits follow run cancellation,
// each call gets a fresh detached deadline.
func (p *Pipeline) attempt(ctx context.Context, r *retry.Retrier, stage domain.Stage, timeout time.Duration, call func(context.Context) error) error {
	detached := context.WithoutCancel(ctx)
	_, err := r.Do(ctx, func(context.Context) error {
		callCtx, cancel := context.WithTimeout(detached, timeout)
		defer cancel()
		started := time.Now()
		err := call(callCtx)
		metrics.ObserveStage(string(stage), time.Since(started))
		return err
	})
	return err
}

func (p *Pipeline) analyze(ctx context.Context, candidate domain.RawCandidate, fp domain.Fingerprint, company domain.CompanyContext) (domain.AnalyzedArticle, error) {
	if p.analysis == nil {
		return domain.AnalyzedArticle{}, fmt.Errorf("%w: no analysis client", domain.ErrAnalysisFailure)
	}
	var article domain.AnalyzedArticle
	err := p.attempt(ctx, p.analysisRetry, domain.StageAnalysis, p.policy.Timeouts.Analysis, func(c context.Context) error {
		a, err := p.analysis.Analyze(c, candidate, fp, company)
		if err != nil {
			return err
		}
		article = a
		return nil
	})
	return article, err
}

func (p *Pipeline) verify(ctx context.Context, candidate domain.RawCandidate, article domain.AnalyzedArticle, company domain.CompanyContext) (domain.VerificationVerdict, error) {
	callCtx, cancel := context.WithTimeout(ctx, p.policy.Timeouts.Verification)
	defer cancel()
	started := time.Now()
	v, err := p.verification.Verify(callCtx, p.analysis.Text(candidate), article, company)
	metrics.ObserveStage(string(domain.StageVerification), time.Since(started))
	return v, err
}

func (p *Pipeline) embed(ctx context.Context, summary string) ([]float32, error) {
	if p.embedder == nil {
		return nil, fmt.Errorf("%w: no embedder", domain.ErrEmbeddingFailure)
	}
	var vector []float32
	err := p.attempt(ctx, p.embedRetry, domain.StageEmbedding, p.policy.Timeouts.Embedding, func(c context.Context) error {
		v, err := p.embedder.Embed(c, summary)
		if err != nil {
			return fmt.Errorf("%w: %w", domain.ErrEmbeddingFailure, err)
		}
		vector = v
		return nil
	})
	return vector, err
}

func (p *Pipeline) persist(ctx context.Context, record domain.StoredRecord) error {
	return p.attempt(ctx, p.storeRetry, domain.StageStore, p.policy.Timeouts.Store, func(c context.Context) error {
		if err := p.store.Upsert(c, record); err != nil {
			return fmt.Errorf("%w: %w", domain.ErrStoreFailure, err)
		}
		return nil
	})
}

// commit marks fp stored in the ledger. It retries with the store policy and
// ignores run cancellation: the record is already written.
func (p *Pipeline) commit(ctx context.Context, fp domain.Fingerprint) error {
	return p.attempt(context.WithoutCancel(ctx), p.storeRetry, domain.StageLedger, p.policy.Timeouts.Store, func(c context.Context) error {
		return p.ledgerCall(c, func(c context.Context) error {
			return p.ledger.Commit(c, fp)
		})
	})
}

// alreadyStored reports whether the knowledge store has a record for fp. A
// failed lookup is treated as not stored; the upsert that follows is idempotent.
func (p *Pipeline) alreadyStored(ctx context.Context, fp domain.Fingerprint, logger *slog.Logger) bool {
	callCtx, cancel := context.WithTimeout(ctx, p.policy.Timeouts.Store)
	defer cancel()
	exists, err := p.store.Exists(callCtx, fp)
	if err != nil {
		logger.Warn("lookup stored record", "error", err)
		return false
	}
	return exists
}

func (p *Pipeline) ledgerCall(ctx context.Context, call func(context.Context) error) error {
	callCtx, cancel := context.WithTimeout(ctx, p.policy.Timeouts.Store)
	defer cancel()
	err := call(callCtx)
	if err != nil && !errors.Is(err, domain.ErrLedgerUnavailable) {
		err = fmt.Errorf("%w: %w", domain.ErrLedgerUnavailable, err)
	}
	return err
}

func (p *Pipeline) recordVerdict(ctx context.Context, article domain.AnalyzedArticle, verdict *domain.VerificationVerdict, logger *slog.Logger) {
	if p.verdicts == nil {
		return
	}
	callCtx, cancel := context.WithTimeout(ctx, p.policy.Timeouts.Store)
	defer cancel()

	reconciled := p.verification.Sampler().Reconcile(article, verdict)
	if err := p.verdicts.AppendVerdict(callCtx, *verdict); err != nil {
		logger.Warn("append verdict", "verdict_id", verdict.ID, "error", err)
		return
	}
	if reconciled.Correction == nil {
		return
	}
	if err := p.verdicts.AppendCorrection(callCtx, *reconciled.Correction); err != nil {
		logger.Warn("append score correction", "verdict_id", verdict.ID, "error", err)
	}
}

func (p *Pipeline) mirror(ctx context.Context, record domain.StoredRecord, background *sync.WaitGroup, logger *slog.Logger) {
	if p.archive == nil {
		return
	}
	background.Add(1)
	go func() {
		defer background.Done()
		callCtx, cancel := context.WithTimeout(ctx, p.policy.Timeouts.Store)
		defer cancel()
		if err := p.archive.Persist(callCtx, record); err != nil {
			logger.Warn("archive mirror failed", "error", err)
		}
	}()
}

func (p *Pipeline) discover(ctx context.Context, runID string, candidates []domain.RawCandidate, progress *Progress, logger *slog.Logger) ([]domain.Outcome, error) {
	outcomes := make([]domain.Outcome, len(candidates))
	stored, err := p.storedAmong(ctx, candidates)
	if err != nil {
		for i := range candidates {
			outcomes[i] = p.cancelled(candidates[i])
		}
		return outcomes, err
	}

	for i, candidate := range candidates {
		if ctx.Err() != nil {
			outcomes[i] = p.cancelled(candidate)
			progress.observe(outcomes[i])
			continue
		}

		out := domain.Outcome{URL: candidate.URL, Title: candidate.Title, StartedAt: p.now().UTC()}
		out.Advance(domain.StateFetched)

		fp, err := p.normalizer.Fingerprint(candidate.URL)
		if err != nil {
			fail(&out, domain.StageFilter, err)
			out.FinishedAt = p.now().UTC()
			outcomes[i] = out
			progress.observe(out)
			continue
		}
		out.Fingerprint = fp

		// A stored record is known even when the ledger has lost its entry.
		known := stored[fp]
		if !known {
			seenCtx, cancel := context.WithTimeout(ctx, p.policy.Timeouts.Store)
			known, err = p.ledger.Seen(seenCtx, fp)
			cancel()
		}
		if err != nil {
			if !errors.Is(err, domain.ErrLedgerUnavailable) {
				err = fmt.Errorf("%w: %w", domain.ErrLedgerUnavailable, err)
			}
			fail(&out, domain.StageLedger, err)
			outcomes[i] = out
			for j := i + 1; j < len(candidates); j++ {
				outcomes[j] = p.cancelled(candidates[j])
			}
			return outcomes, fmt.Errorf("seen %s: %w", fp.Short(), err)
		}

		item := domain.DiscoveryItem{
			Fingerprint:  fp,
			Candidate:    candidate,
			KeywordHits:  filter.Matches(candidate, p.keywords),
			Known:        known,
			DiscoveredAt: p.now().UTC(),
			RunID:        runID,
		}
		if p.discoveries != nil {
			callCtx, cancel := context.WithTimeout(ctx, p.policy.Timeouts.Store)
			err = p.discoveries.SaveDiscovery(callCtx, item)
			cancel()
			if err != nil {
				fail(&out, domain.StageStore, err)
				logger.Warn("save discovery", "fingerprint", fp.Short(), "error", err)
				out.FinishedAt = p.now().UTC()
				outcomes[i] = out
				progress.observe(out)
				continue
			}
		}

		out.Advance(domain.StateDiscovered)
		out.FinishedAt = p.now().UTC()
		outcomes[i] = out
		progress.observe(out)
		metrics.RecordOutcome(string(out.State))
	}
	return outcomes, nil
}

// storedAmong looks up which candidates already have a knowledge record in a
// single store call. Unusable URLs are skipped here and fail later.
func (p *Pipeline) storedAmong(ctx context.Context, candidates []domain.RawCandidate) (map[domain.Fingerprint]bool, error) {
	fps := make([]domain.Fingerprint, 0, len(candidates))
	for _, candidate := range candidates {
		if fp, err := p.normalizer.Fingerprint(candidate.URL); err == nil {
			fps = append(fps, fp)
		}
	}
	callCtx, cancel := context.WithTimeout(ctx, p.policy.Timeouts.Store)
	defer cancel()
	stored, err := p.store.AlreadyStored(callCtx, fps)
	if err != nil {
		if errors.Is(err, domain.ErrStoreUnavailable) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: lookup stored: %w", domain.ErrStoreUnavailable, err)
	}
	return stored, nil
}

func fail(out *domain.Outcome, stage domain.Stage, err error) {
	out.FailedStage = stage
	out.Reason = err.Error()
	out.Advance(domain.StateFailed)
}

func stopped(ctx context.Context, out *domain.Outcome) bool {
	if ctx.Err() == nil {
		return false
	}
	out.Advance(domain.StateCancelled)
	return true
}

// stoppedBy reports whether a stage error came from run cancellation during backoff.
func stoppedBy(ctx context.Context, err error, out *domain.Outcome) bool {
	if ctx.Err() == nil || !errors.Is(err, ctx.Err()) {
		return false
	}
	out.Advance(domain.StateCancelled)
	return true
}
