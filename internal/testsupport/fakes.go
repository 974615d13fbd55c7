// Package testsupport holds hand-written fakes of the ports shared by package tests.
package testsupport

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/crypto-morph/newsfinder/internal/domain"
	"github.com/crypto-morph/newsfinder/internal/ports"
)

// ErrInjected is returned by fakes configured to fail.
var ErrInjected = errors.New("injected failure")

// Source serves a fixed candidate list.
type Source struct {
	Candidates []domain.RawCandidate
	Err        error
}

func (s *Source) FetchCandidates(context.Context) ([]domain.RawCandidate, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	return append([]domain.RawCandidate(nil), s.Candidates...), nil
}

// Company returns one profile for every id.
type Company struct {
	Profile domain.CompanyContext
	Err     error
}

func (c Company) CompanyContext(context.Context, string) (domain.CompanyContext, error) {
	return c.Profile, c.Err
}

// Analyzer answers every call through Respond; a nil Respond returns scores 5/5.
type Analyzer struct {
	Respond func(text string) (ports.RawAnalysis, error)
	calls   atomic.Int64
}

func (a *Analyzer) Analyze(ctx context.Context, text string, _ domain.CompanyContext) (ports.RawAnalysis, error) {
	a.calls.Add(1)
	if err := ctx.Err(); err != nil {
		return ports.RawAnalysis{}, err
	}
	if a.Respond == nil {
		return Analysis(5, 5), nil
	}
	return a.Respond(text)
}

// Calls reports how many model calls were made.
func (a *Analyzer) Calls() int64 {
	return a.calls.Load()
}

// Analysis builds a well-formed raw answer.
func Analysis(relevance, impact int) ports.RawAnalysis {
	return ports.RawAnalysis{
		Summary:            fmt.Sprintf("summary %d/%d", relevance, impact),
		RelevanceScore:     float64(relevance),
		ImpactScore:        float64(impact),
		RelevanceReasoning: "test reasoning",
		TopicTags:          []any{"market"},
		Model:              "fake-analyst",
	}
}

// ScoreByTitle returns an Analyzer.Respond that scores by a title marker like "[8/9]".
func ScoreByTitle(text string) (ports.RawAnalysis, error) {
	var r, i int
	if start := strings.Index(text, "["); start >= 0 {
		if _, err := fmt.Sscanf(text[start:], "[%d/%d]", &r, &i); err == nil {
			return Analysis(r, i), nil
		}
	}
	return Analysis(5, 5), nil
}

// Verifier answers verification calls.
type Verifier struct {
	Respond func(article domain.AnalyzedArticle) (ports.RawVerdict, error)
	calls   atomic.Int64
}

func (v *Verifier) Verify(_ context.Context, _ string, article domain.AnalyzedArticle, _ domain.CompanyContext) (ports.RawVerdict, error) {
	v.calls.Add(1)
	if v.Respond == nil {
		agrees := true
		return ports.RawVerdict{Agrees: &agrees, RelevanceScore: float64(article.Scores.Relevance), ImpactScore: float64(article.Scores.Impact)}, nil
	}
	return v.Respond(article)
}

func (v *Verifier) Identity() string { return "fake-verifier" }

// Calls reports how many verification calls were made.
func (v *Verifier) Calls() int64 {
	return v.calls.Load()
}

// Embedder returns a fixed vector, failing the first FailFirst calls (or all when FailAlways).
type Embedder struct {
	FailFirst  int64
	FailAlways bool
	// Gate, when set, blocks every call until it is closed.
	Gate  <-chan struct{}
	calls atomic.Int64
}

func (e *Embedder) Embed(_ context.Context, text string) ([]float32, error) {
	if e.Gate != nil {
		<-e.Gate
	}
	n := e.calls.Add(1)
	if e.FailAlways || n <= e.FailFirst {
		return nil, ErrInjected
	}
	return []float32{float32(len(text)), 1, 0}, nil
}

// Calls reports how many embedding calls were made.
func (e *Embedder) Calls() int64 {
	return e.calls.Load()
}

// FailingStore wraps a knowledge store and fails Upsert for fingerprints in FailFor,
// or always when FailAll is set. PingErr is returned by Ping.
type FailingStore struct {
	ports.KnowledgeStore
	PingErr error
	FailAll bool

	mu      sync.Mutex
	failFor map[domain.Fingerprint]bool
	upserts atomic.Int64
}

// FailUpsert makes Upsert fail for fp.
func (s *FailingStore) FailUpsert(fp domain.Fingerprint) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failFor == nil {
		s.failFor = map[domain.Fingerprint]bool{}
	}
	s.failFor[fp] = true
}

func (s *FailingStore) Upsert(ctx context.Context, record domain.StoredRecord) error {
	s.upserts.Add(1)
	s.mu.Lock()
	fail := s.FailAll || s.failFor[record.Fingerprint()]
	s.mu.Unlock()
	if fail {
		return ErrInjected
	}
	return s.KnowledgeStore.Upsert(ctx, record)
}

func (s *FailingStore) Ping(ctx context.Context) error {
	if s.PingErr != nil {
		return s.PingErr
	}
	return s.KnowledgeStore.Ping(ctx)
}

// Upserts reports how many Upsert calls were made.
func (s *FailingStore) Upserts() int64 {
	return s.upserts.Load()
}

// BrokenLedger fails every operation.
type BrokenLedger struct{}

func (BrokenLedger) Seen(context.Context, domain.Fingerprint) (bool, error) {
	return false, fmt.Errorf("%w: %w", domain.ErrLedgerUnavailable, ErrInjected)
}

func (BrokenLedger) Reserve(context.Context, domain.Fingerprint) (ports.Reservation, error) {
	return ports.Reservation{}, fmt.Errorf("%w: %w", domain.ErrLedgerUnavailable, ErrInjected)
}

func (BrokenLedger) Release(context.Context, domain.Fingerprint, string) error {
	return fmt.Errorf("%w: %w", domain.ErrLedgerUnavailable, ErrInjected)
}

func (BrokenLedger) Commit(context.Context, domain.Fingerprint) error {
	return fmt.Errorf("%w: %w", domain.ErrLedgerUnavailable, ErrInjected)
}

// FlakyLedger wraps a ledger and fails the first CommitFailures commits.
type FlakyLedger struct {
	ports.Ledger
	CommitFailures int64
	commits        atomic.Int64
}

func (l *FlakyLedger) Commit(ctx context.Context, fp domain.Fingerprint) error {
	if l.commits.Add(1) <= l.CommitFailures {
		return fmt.Errorf("%w: %w", domain.ErrLedgerUnavailable, ErrInjected)
	}
	return l.Ledger.Commit(ctx, fp)
}

// Commits reports how many commit calls were made.
func (l *FlakyLedger) Commits() int64 {
	return l.commits.Load()
}

// Notifier records notified events.
type Notifier struct {
	mu     sync.Mutex
	events []domain.AlertEvent
}

func (n *Notifier) NotifyAlert(_ context.Context, event domain.AlertEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
	return nil
}

// Events returns a copy of the notified events.
func (n *Notifier) Events() []domain.AlertEvent {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]domain.AlertEvent(nil), n.events...)
}

// Archive records persisted records.
type Archive struct {
	mu      sync.Mutex
	records []domain.StoredRecord
	Err     error
}

func (a *Archive) Persist(_ context.Context, record domain.StoredRecord) error {
	if a.Err != nil {
		return a.Err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.records = append(a.records, record)
	return nil
}

func (a *Archive) List(_ context.Context, limit int) ([]domain.StoredRecord, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := append([]domain.StoredRecord(nil), a.records...)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
