// Package verification selects analyzed articles for a second-opinion audit and
// reconciles the verifier's verdict with the primary analysis.
package verification

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/crypto-morph/newsfinder/internal/analysis"
	"github.com/crypto-morph/newsfinder/internal/domain"
	"github.com/crypto-morph/newsfinder/internal/ports"
)

const (
	DefaultSampleRate      = 0.10
	DefaultFlagDiscrepancy = 4
)

// Config is the sampling policy.
type Config struct {
	SampleRate float64
	// High interest means both scores strictly exceed these minimums.
	RelevanceMin int
	ImpactMin    int
	// FlagDiscrepancy marks verdicts whose largest score gap reaches this value.
	FlagDiscrepancy int
	// Salt varies the per-article draw between deployments.
	Salt uint64
}

// Sampler makes deterministic, per-article sampling decisions.
type Sampler struct {
	cfg Config
	now func() time.Time
}

// NewSampler builds a sampler. A negative SampleRate disables random sampling.
func NewSampler(cfg Config) *Sampler {
	if cfg.FlagDiscrepancy <= 0 {
		cfg.FlagDiscrepancy = DefaultFlagDiscrepancy
	}
	return &Sampler{cfg: cfg, now: time.Now}
}

// HighInterest reports whether both scores exceed the configured minimums.
func (s *Sampler) HighInterest(scores domain.Scores) bool {
	return scores.Relevance > s.cfg.RelevanceMin && scores.Impact > s.cfg.ImpactMin
}

// ShouldVerify always selects high-interest articles and samples the rest at SampleRate.
// The draw is seeded by the fingerprint so it does not depend on ingestion order.
func (s *Sampler) ShouldVerify(article domain.AnalyzedArticle) bool {
	if s.HighInterest(article.Scores) {
		return true
	}
	if s.cfg.SampleRate <= 0 {
		return false
	}
	if s.cfg.SampleRate >= 1 {
		return true
	}
	return s.draw(article.Fingerprint) < s.cfg.SampleRate
}

func (s *Sampler) draw(fp domain.Fingerprint) float64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(fp))
	return rand.New(rand.NewPCG(h.Sum64(), s.cfg.Salt)).Float64()
}

// BuildVerdict validates a raw verifier answer. Failures wrap domain.ErrVerificationFailure.
func (s *Sampler) BuildVerdict(article domain.AnalyzedArticle, raw ports.RawVerdict, identity string) (domain.VerificationVerdict, error) {
	if raw.Agrees == nil {
		return domain.VerificationVerdict{}, fmt.Errorf("%w: missing agrees", domain.ErrVerificationFailure)
	}

	verdict := domain.VerificationVerdict{
		ID:               uuid.NewString(),
		Fingerprint:      article.Fingerprint,
		Agrees:           *raw.Agrees,
		OriginalScores:   article.Scores,
		VerifierIdentity: identity,
		Reasoning:        strings.TrimSpace(raw.Reasoning),
		CreatedAt:        s.now().UTC(),
	}

	flags, err := analysis.StringList("hallucination_flags", raw.HallucinationFlags)
	if err != nil {
		return domain.VerificationVerdict{}, verificationErr(err)
	}
	verdict.HallucinationFlags = flags

	if raw.RelevanceScore != nil || raw.ImpactScore != nil {
		relevance, err := analysis.ParseScore(raw.RelevanceScore)
		if err != nil {
			return domain.VerificationVerdict{}, verificationErr(err)
		}
		impact, err := analysis.ParseScore(raw.ImpactScore)
		if err != nil {
			return domain.VerificationVerdict{}, verificationErr(err)
		}
		corrected := domain.Scores{Relevance: relevance, Impact: impact}
		if !verdict.Agrees && corrected != article.Scores {
			verdict.CorrectedScores = &corrected
		}
	}

	verdict.Discrepancy = Discrepancy(article.Scores, verdict.CorrectedScores)
	verdict.Flagged = verdict.Discrepancy >= s.cfg.FlagDiscrepancy
	return verdict, nil
}

// Reconcile pairs the analysis with its verdict. The analysis scores are never overwritten;
// a disagreement with corrected scores yields a separate ScoreCorrection.
func (s *Sampler) Reconcile(article domain.AnalyzedArticle, verdict *domain.VerificationVerdict) domain.ReconciledArticle {
	out := domain.ReconciledArticle{Article: article, Verdict: verdict}
	if verdict != nil && !verdict.Agrees && verdict.CorrectedScores != nil {
		out.Correction = &domain.ScoreCorrection{
			Fingerprint: article.Fingerprint,
			VerdictID:   verdict.ID,
			Original:    article.Scores,
			Corrected:   *verdict.CorrectedScores,
		}
	}
	return out
}

// Discrepancy is the largest absolute gap between original and corrected scores.
func Discrepancy(original domain.Scores, corrected *domain.Scores) int {
	if corrected == nil {
		return 0
	}
	return max(abs(original.Relevance-corrected.Relevance), abs(original.Impact-corrected.Impact))
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

func verificationErr(err error) error {
	if errors.Is(err, domain.ErrVerificationFailure) {
		return err
	}
	return fmt.Errorf("%w: %w", domain.ErrVerificationFailure, err)
}

// Stage runs one verification call for a sampled article. It is never retried.
type Stage struct {
	client  ports.VerificationClient
	sampler *Sampler
}

// NewStage binds a verifier client to the sampling policy.
func NewStage(client ports.VerificationClient, sampler *Sampler) *Stage {
	return &Stage{client: client, sampler: sampler}
}

// Sampler exposes the policy used by the stage.
func (s *Stage) Sampler() *Sampler {
	return s.sampler
}

// Verify audits the article and returns a validated verdict.
func (s *Stage) Verify(ctx context.Context, text string, article domain.AnalyzedArticle, company domain.CompanyContext) (domain.VerificationVerdict, error) {
	raw, err := s.client.Verify(ctx, text, article, company)
	if err != nil {
		return domain.VerificationVerdict{}, verificationErr(err)
	}
	return s.sampler.BuildVerdict(article, raw, s.client.Identity())
}
