package verification

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crypto-morph/newsfinder/internal/domain"
	"github.com/crypto-morph/newsfinder/internal/fingerprint"
	"github.com/crypto-morph/newsfinder/internal/ports"
)

func newSampler() *Sampler {
	return NewSampler(Config{SampleRate: DefaultSampleRate, RelevanceMin: 7, ImpactMin: 7})
}

func articleFor(i int, scores domain.Scores) domain.AnalyzedArticle {
	return domain.AnalyzedArticle{
		Fingerprint: fingerprint.Of(fmt.Sprintf("https://example.com/story/%d", i)),
		Scores:      scores,
	}
}

func TestSampleRateBand(t *testing.T) {
	t.Parallel()

	s := newSampler()
	sampled := 0
	for i := 0; i < 10000; i++ {
		if s.ShouldVerify(articleFor(i, domain.Scores{Relevance: 5, Impact: 9})) {
			sampled++
		}
	}
	assert.GreaterOrEqual(t, sampled, 800)
	assert.LessOrEqual(t, sampled, 1200)
}

func TestHighInterestAlwaysSampled(t *testing.T) {
	t.Parallel()

	s := NewSampler(Config{SampleRate: 0, RelevanceMin: 7, ImpactMin: 7})
	for i := 0; i < 500; i++ {
		require.True(t, s.ShouldVerify(articleFor(i, domain.Scores{Relevance: 8, Impact: 8})))
	}
	assert.False(t, s.ShouldVerify(articleFor(1, domain.Scores{Relevance: 7, Impact: 10})))
}

func TestShouldVerifyIsDeterministicPerArticle(t *testing.T) {
	t.Parallel()

	s := newSampler()
	a := articleFor(42, domain.Scores{Relevance: 2, Impact: 2})
	first := s.ShouldVerify(a)
	for i := 0; i < 20; i++ {
		assert.Equal(t, first, s.ShouldVerify(a))
	}
}

func boolPtr(b bool) *bool { return &b }

func TestBuildVerdictAndReconcile(t *testing.T) {
	t.Parallel()

	s := newSampler()
	article := articleFor(1, domain.Scores{Relevance: 9, Impact: 8})
	raw := ports.RawVerdict{
		Agrees:             boolPtr(false),
		RelevanceScore:     float64(4),
		ImpactScore:        float64(7),
		HallucinationFlags: []any{"claims Acme is mentioned"},
		Reasoning:          "article never names Acme",
	}

	verdict, err := s.BuildVerdict(article, raw, "verifier-model")
	require.NoError(t, err)
	assert.NotEmpty(t, verdict.ID)
	assert.Equal(t, domain.Scores{Relevance: 4, Impact: 7}, *verdict.CorrectedScores)
	assert.Equal(t, 5, verdict.Discrepancy)
	assert.True(t, verdict.Flagged)
	assert.Equal(t, "verifier-model", verdict.VerifierIdentity)

	rec := s.Reconcile(article, &verdict)
	assert.Equal(t, domain.Scores{Relevance: 9, Impact: 8}, rec.Article.Scores, "primary scores must survive")
	require.NotNil(t, rec.Correction)
	assert.Equal(t, verdict.ID, rec.Correction.VerdictID)
	assert.Equal(t, domain.Scores{Relevance: 4, Impact: 7}, rec.Correction.Corrected)
}

func TestAgreeingVerdictHasNoCorrection(t *testing.T) {
	t.Parallel()

	s := newSampler()
	article := articleFor(2, domain.Scores{Relevance: 8, Impact: 8})
	verdict, err := s.BuildVerdict(article, ports.RawVerdict{Agrees: boolPtr(true), RelevanceScore: float64(7), ImpactScore: float64(8)}, "v")
	require.NoError(t, err)
	assert.Nil(t, verdict.CorrectedScores)
	assert.False(t, verdict.Flagged)
	assert.Nil(t, s.Reconcile(article, &verdict).Correction)
}

func TestBuildVerdictRejectsMalformed(t *testing.T) {
	t.Parallel()

	s := newSampler()
	article := articleFor(3, domain.Scores{Relevance: 8, Impact: 8})
	for name, raw := range map[string]ports.RawVerdict{
		"missing agrees": {RelevanceScore: float64(3), ImpactScore: float64(3)},
		"bad score":      {Agrees: boolPtr(false), RelevanceScore: "x", ImpactScore: float64(3)},
		"bad flags":      {Agrees: boolPtr(true), HallucinationFlags: []any{1.0}},
	} {
		_, err := s.BuildVerdict(article, raw, "v")
		assert.ErrorIs(t, err, domain.ErrVerificationFailure, name)
	}
}

type failingVerifier struct{}

func (failingVerifier) Verify(context.Context, string, domain.AnalyzedArticle, domain.CompanyContext) (ports.RawVerdict, error) {
	return ports.RawVerdict{}, errors.New("timeout")
}

func (failingVerifier) Identity() string { return "failing" }

func TestStageWrapsClientError(t *testing.T) {
	t.Parallel()

	stage := NewStage(failingVerifier{}, newSampler())
	_, err := stage.Verify(context.Background(), "text", articleFor(4, domain.Scores{Relevance: 9, Impact: 9}), domain.CompanyContext{})
	assert.ErrorIs(t, err, domain.ErrVerificationFailure)
}
