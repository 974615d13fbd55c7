package usecase

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crypto-morph/newsfinder/internal/domain"
	"github.com/crypto-morph/newsfinder/internal/ports"
	"github.com/crypto-morph/newsfinder/internal/testsupport"
)

func TestReappraiseRescoresAndRecordsHistory(t *testing.T) {
	h := newHarness()
	p := h.pipeline(t)

	summary := run(t, p, candidate(1, "[5/5]"))
	fp := summary.Outcomes[0].Fingerprint
	before, err := h.store.Get(context.Background(), fp)
	require.NoError(t, err)

	h.analyzer.Respond = func(string) (ports.RawAnalysis, error) {
		return testsupport.Analysis(9, 8), nil
	}
	result, err := NewReappraiser(p, h.store).Reappraise(context.Background(), fp)
	require.NoError(t, err)

	assert.Equal(t, 1, result.Record.ReappraisedCount)
	require.NotNil(t, result.Record.PreviousScores)
	assert.Equal(t, domain.Scores{Relevance: 5, Impact: 5}, *result.Record.PreviousScores)
	assert.Equal(t, ChangeReappraisal, result.Entry.ChangeType)
	assert.Equal(t, domain.FieldChange{From: 5, To: 9}, result.Entry.Changes["relevance_score"])
	assert.Equal(t, domain.FieldChange{From: 5, To: 8}, result.Entry.Changes["impact_score"])
	assert.Contains(t, result.Entry.Changes, "summary")
	assert.NotContains(t, result.Entry.Changes, "relevance_reasoning")

	after, err := h.store.Get(context.Background(), fp)
	require.NoError(t, err)
	assert.Equal(t, domain.Scores{Relevance: 9, Impact: 8}, after.Article.Scores)
	assert.True(t, before.FirstSeenAt.Equal(after.FirstSeenAt))
	assert.True(t, after.HasVector())

	history, err := h.store.History(context.Background(), fp)
	require.NoError(t, err)
	assert.Len(t, history, 1)

	// 9/8 is high interest, so the new analysis is verified.
	require.NotNil(t, result.Verdict)
	verdicts, err := h.store.ListVerdicts(context.Background(), fp)
	require.NoError(t, err)
	assert.Len(t, verdicts, 1)
}

func TestReappraiseUnknownFingerprint(t *testing.T) {
	h := newHarness()
	p := h.pipeline(t)

	_, err := NewReappraiser(p, h.store).Reappraise(context.Background(), domain.Fingerprint("missing"))
	require.ErrorIs(t, err, domain.ErrNotFound)
	assert.Zero(t, h.analyzer.Calls())
}

func TestReappraiseKeepsRecordWhenAnalysisFails(t *testing.T) {
	h := newHarness()
	p := h.pipeline(t)

	summary := run(t, p, candidate(1, "[6/6]"))
	fp := summary.Outcomes[0].Fingerprint

	h.analyzer.Respond = func(string) (ports.RawAnalysis, error) {
		return ports.RawAnalysis{}, testsupport.ErrInjected
	}
	_, err := NewReappraiser(p, h.store).Reappraise(context.Background(), fp)
	require.ErrorIs(t, err, domain.ErrAnalysisFailure)

	rec, err := h.store.Get(context.Background(), fp)
	require.NoError(t, err)
	assert.Equal(t, domain.Scores{Relevance: 6, Impact: 6}, rec.Article.Scores)
	assert.Zero(t, rec.ReappraisedCount)

	history, err := h.store.History(context.Background(), fp)
	require.NoError(t, err)
	assert.Empty(t, history)
}
