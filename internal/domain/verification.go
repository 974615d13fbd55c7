package domain

import "time"

// VerificationVerdict is the second-opinion audit of one analysis. Verdicts are never mutated.
type VerificationVerdict struct {
	ID                 string
	Fingerprint        Fingerprint
	Agrees             bool
	OriginalScores     Scores
	CorrectedScores    *Scores
	HallucinationFlags []string
	VerifierIdentity   string
	Reasoning          string
	Discrepancy        int
	Flagged            bool
	CreatedAt          time.Time
}

// ScoreCorrection is the explicit, separately stored artifact produced when a verifier disagrees.
type ScoreCorrection struct {
	Fingerprint Fingerprint
	VerdictID   string
	Original    Scores
	Corrected   Scores
}

// ReconciledArticle pairs the primary analysis with its verdict. The analysis keeps its original scores.
type ReconciledArticle struct {
	Article    AnalyzedArticle
	Verdict    *VerificationVerdict
	Correction *ScoreCorrection
}
