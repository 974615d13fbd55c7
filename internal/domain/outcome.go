package domain

import "time"

// ArticleState enumerates the per-article pipeline states.
type ArticleState string

const (
	StateFetched             ArticleState = "fetched"
	StateFiltered            ArticleState = "filtered"
	StateReserved            ArticleState = "reserved"
	StateAnalyzed            ArticleState = "analyzed"
	StateVerified            ArticleState = "verified"
	StateVerificationSkipped ArticleState = "verification_skipped"
	StateEmbedded            ArticleState = "embedded"
	StateStored              ArticleState = "stored"
	StateAlerted             ArticleState = "alerted"
	StateNotAlerted          ArticleState = "not_alerted"

	StateRejected   ArticleState = "rejected"
	StateFailed     ArticleState = "failed"
	StateReleased   ArticleState = "released"
	StateCancelled  ArticleState = "cancelled"
	StateDiscovered ArticleState = "discovered"
)

// Terminal reports whether no further transition can follow the state.
func (s ArticleState) Terminal() bool {
	switch s {
	case StateAlerted, StateNotAlerted, StateRejected, StateFailed, StateReleased, StateCancelled, StateDiscovered:
		return true
	default:
		return false
	}
}

// Stage names an external step an article can fail in.
type Stage string

const (
	StageFilter       Stage = "filter"
	StageLedger       Stage = "ledger"
	StageAnalysis     Stage = "analysis"
	StageVerification Stage = "verification"
	StageEmbedding    Stage = "embedding"
	StageStore        Stage = "store"
	StageAlert        Stage = "alert"
)

// RejectReason distinguishes the two expected rejections.
type RejectReason string

const (
	RejectFilter    RejectReason = "filter"
	RejectDuplicate RejectReason = "duplicate"
)

// Outcome is the per-article result of one pipeline run.
type Outcome struct {
	Fingerprint  Fingerprint
	URL          string
	Title        string
	State        ArticleState
	Trail        []ArticleState
	RejectReason RejectReason
	FailedStage  Stage
	Reason       string

	// Released is set when a reservation was handed back to the ledger.
	Released    bool
	Verified    bool
	StoredNoVec bool
	Scores      *Scores
	Alert       *AlertEvent
	Verdict     *VerificationVerdict
	StartedAt   time.Time
	FinishedAt  time.Time
}

// Advance records a transition.
func (o *Outcome) Advance(state ArticleState) {
	o.State = state
	o.Trail = append(o.Trail, state)
}

// Reached reports whether the outcome passed through the given state.
func (o Outcome) Reached(state ArticleState) bool {
	for _, s := range o.Trail {
		if s == state {
			return true
		}
	}
	return false
}
