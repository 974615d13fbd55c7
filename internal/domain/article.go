package domain

import "time"

// Fingerprint is the stable identity of an article derived from its normalized URL.
type Fingerprint string

// String returns the hex form of the fingerprint.
func (f Fingerprint) String() string {
	return string(f)
}

// Short returns a log-friendly prefix of the fingerprint.
func (f Fingerprint) Short() string {
	if len(f) <= 12 {
		return string(f)
	}
	return string(f[:12])
}

// RawCandidate is an article as produced by the aggregator, before any processing.
type RawCandidate struct {
	URL         string
	Title       string
	RawText     string
	SourceName  string
	PublishedAt *time.Time
	FetchedAt   time.Time
}

// Scores holds the two model-assigned integer scores, each in [1,10].
type Scores struct {
	Relevance int `json:"relevance_score"`
	Impact    int `json:"impact_score"`
}

// Valid reports whether both scores fall inside the closed range [1,10].
func (s Scores) Valid() bool {
	return s.Relevance >= 1 && s.Relevance <= 10 && s.Impact >= 1 && s.Impact <= 10
}

// AnalyzedArticle is a candidate enriched by the analysis stage.
type AnalyzedArticle struct {
	Candidate          RawCandidate
	Fingerprint        Fingerprint
	SummaryText        string
	Scores             Scores
	RelevanceReasoning string
	KeyEntities        []string
	TopicTags          []string
	GoalMatches        []string
	Model              string
	AnalyzedAt         time.Time
}

// StoredRecord is what the knowledge store persists for a fingerprint.
type StoredRecord struct {
	Article          AnalyzedArticle
	Embedding        []float32
	NeedsReembed     bool
	FirstSeenAt      time.Time
	StoredAt         time.Time
	ReappraisedCount int
	PreviousScores   *Scores
}

// Fingerprint returns the identity the record is keyed by.
func (r StoredRecord) Fingerprint() Fingerprint {
	return r.Article.Fingerprint
}

// HasVector reports whether an embedding is attached.
func (r StoredRecord) HasVector() bool {
	return len(r.Embedding) > 0
}

// AlertEvent is appended once for every stored article whose scores cross the thresholds.
type AlertEvent struct {
	Fingerprint    Fingerprint `json:"fingerprint"`
	Title          string      `json:"title"`
	URL            string      `json:"url"`
	Source         string      `json:"source"`
	RelevanceScore int         `json:"relevance_score"`
	ImpactScore    int         `json:"impact_score"`
	Summary        string      `json:"summary"`
	RunID          string      `json:"run_id,omitempty"`
	TriggeredAt    time.Time   `json:"triggered_at"`
}

// DiscoveryItem is an unscored candidate surfaced by discovery mode.
type DiscoveryItem struct {
	Fingerprint  Fingerprint
	Candidate    RawCandidate
	KeywordHits  []string
	Known        bool
	DiscoveredAt time.Time
	RunID        string
}

// FieldChange records the before/after value of one tracked field.
type FieldChange struct {
	From any `json:"from"`
	To   any `json:"to"`
}

// HistoryEntry is an append-only record of a re-appraisal.
type HistoryEntry struct {
	Fingerprint Fingerprint            `json:"fingerprint"`
	ChangeType  string                 `json:"type"`
	Changes     map[string]FieldChange `json:"changes"`
	RecordedAt  time.Time              `json:"timestamp"`
}
