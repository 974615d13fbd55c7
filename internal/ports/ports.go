package ports

import (
	"context"
	"time"

	"github.com/crypto-morph/newsfinder/internal/domain"
)

// CandidateSource pulls raw article candidates from the aggregator.
type CandidateSource interface {
	FetchCandidates(ctx context.Context) ([]domain.RawCandidate, error)
}

// ContextProvider returns the structured profile produced by the context profiler.
type ContextProvider interface {
	CompanyContext(ctx context.Context, companyID string) (domain.CompanyContext, error)
}

// RawAnalysis is the loosely typed model answer; the analysis stage validates it.
type RawAnalysis struct {
	Summary            string `json:"summary"`
	RelevanceScore     any    `json:"relevance_score"`
	ImpactScore        any    `json:"impact_score"`
	RelevanceReasoning string `json:"relevance_reasoning"`
	KeyEntities        []any  `json:"key_entities"`
	TopicTags          []any  `json:"topic_tags"`
	GoalMatches        []any  `json:"goal_matches"`
	Model              string `json:"-"`
}

// AnalysisClient scores article text against the company context.
type AnalysisClient interface {
	Analyze(ctx context.Context, text string, company domain.CompanyContext) (RawAnalysis, error)
}

// RawVerdict is the loosely typed second-opinion answer.
type RawVerdict struct {
	Agrees             *bool  `json:"agrees"`
	RelevanceScore     any    `json:"relevance_score"`
	ImpactScore        any    `json:"impact_score"`
	HallucinationFlags []any  `json:"hallucination_flags"`
	Reasoning          string `json:"reasoning"`
}

// VerificationClient audits an analysis with an independent model.
type VerificationClient interface {
	Verify(ctx context.Context, text string, article domain.AnalyzedArticle, company domain.CompanyContext) (RawVerdict, error)
	Identity() string
}

// Embedder converts summary text to a fixed-length vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// MarkResult is the answer of a reservation attempt.
type MarkResult int

const (
	// MarkOK means the caller now holds the reservation.
	MarkOK MarkResult = iota + 1
	// MarkAlreadyMarked means another caller holds it or it is already committed.
	MarkAlreadyMarked
)

func (m MarkResult) String() string {
	switch m {
	case MarkOK:
		return "ok"
	case MarkAlreadyMarked:
		return "already_marked"
	default:
		return "unknown"
	}
}

// Reservation is the answer of Reserve. Token identifies the holder and is
// empty unless Result is MarkOK.
type Reservation struct {
	Result MarkResult
	Token  string
}

// Held reports whether the caller won the reservation.
func (r Reservation) Held() bool {
	return r.Result == MarkOK
}

// Ledger is the durable set of article identities with atomic reservations.
// Release removes a reservation only while it still carries token, so a holder
// whose lease expired cannot drop the reservation of whoever took it over.
type Ledger interface {
	Seen(ctx context.Context, fp domain.Fingerprint) (bool, error)
	Reserve(ctx context.Context, fp domain.Fingerprint) (Reservation, error)
	Release(ctx context.Context, fp domain.Fingerprint, token string) error
	Commit(ctx context.Context, fp domain.Fingerprint) error
}

// KnowledgeStore persists analyzed records with their vectors.
type KnowledgeStore interface {
	Upsert(ctx context.Context, record domain.StoredRecord) error
	Exists(ctx context.Context, fp domain.Fingerprint) (bool, error)
	// AlreadyStored returns the subset of fps that have a record.
	AlreadyStored(ctx context.Context, fps []domain.Fingerprint) (map[domain.Fingerprint]bool, error)
	Get(ctx context.Context, fp domain.Fingerprint) (*domain.StoredRecord, error)
	ListRecent(ctx context.Context, limit int) ([]domain.StoredRecord, error)
	ListNeedingEmbedding(ctx context.Context, limit int) ([]domain.StoredRecord, error)
	Ping(ctx context.Context) error
}

// VerdictStore keeps verification verdicts and score corrections as append-only history.
type VerdictStore interface {
	AppendVerdict(ctx context.Context, verdict domain.VerificationVerdict) error
	AppendCorrection(ctx context.Context, correction domain.ScoreCorrection) error
	ListVerdicts(ctx context.Context, fp domain.Fingerprint) ([]domain.VerificationVerdict, error)
	ListRecentVerdicts(ctx context.Context, limit int) ([]domain.VerificationVerdict, error)
}

// HistoryStore records re-appraisal diffs.
type HistoryStore interface {
	AppendHistory(ctx context.Context, entry domain.HistoryEntry) error
	History(ctx context.Context, fp domain.Fingerprint) ([]domain.HistoryEntry, error)
}

// DiscoveryStore backs the unscored discovery view.
type DiscoveryStore interface {
	SaveDiscovery(ctx context.Context, item domain.DiscoveryItem) error
	ListDiscoveries(ctx context.Context, limit int) ([]domain.DiscoveryItem, error)
}

// AlertLog is the append-only alert event log read by the dashboard.
type AlertLog interface {
	Append(ctx context.Context, event domain.AlertEvent) error
	List(ctx context.Context, limit int) ([]domain.AlertEvent, error)
}

// Notifier pushes alert events to an outbound channel.
type Notifier interface {
	NotifyAlert(ctx context.Context, event domain.AlertEvent) error
}

// Archive is a best-effort mirror of stored records.
type Archive interface {
	Persist(ctx context.Context, record domain.StoredRecord) error
	List(ctx context.Context, limit int) ([]domain.StoredRecord, error)
}

// Scheduler controls when pipeline runs are triggered.
type Scheduler interface {
	Start(ctx context.Context, job func(time.Time)) error
	Stop(ctx context.Context) error
}
