package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crypto-morph/newsfinder/internal/domain"
	"github.com/crypto-morph/newsfinder/internal/ports"
)

type stubClient struct {
	raw  ports.RawAnalysis
	err  error
	text string
}

func (s *stubClient) Analyze(_ context.Context, text string, _ domain.CompanyContext) (ports.RawAnalysis, error) {
	s.text = text
	return s.raw, s.err
}

var company = domain.CompanyContext{
	Name:          "Acme Health",
	BusinessGoals: []string{"Grow corporate screening contracts", "Expand into Ireland"},
}

func TestParseScore(t *testing.T) {
	t.Parallel()

	valid := []struct {
		in   any
		want int
	}{
		{float64(7), 7},
		{json.Number("10"), 10},
		{json.Number("3.0"), 3},
		{" 4 ", 4},
		{1, 1},
	}
	for _, tc := range valid {
		got, err := ParseScore(tc.in)
		require.NoError(t, err, "%#v", tc.in)
		assert.Equal(t, tc.want, got)
	}

	invalid := []any{nil, float64(7.5), float64(0), float64(11), "high", "8.5", true, json.Number("2.5"), -3}
	for _, in := range invalid {
		_, err := ParseScore(in)
		assert.ErrorIs(t, err, domain.ErrAnalysisFailure, "%#v", in)
	}
}

func TestValidateBuildsArticle(t *testing.T) {
	t.Parallel()

	stage := NewStage(nil, Options{BlockedTags: []string{"News"}})
	raw := ports.RawAnalysis{
		Summary:            "  Acme rival launches screening bundle.  ",
		RelevanceScore:     float64(8),
		ImpactScore:        "6",
		RelevanceReasoning: "\"new corporate screening\" offer",
		KeyEntities:        []any{"BetaCorp", "betacorp", " Acme "},
		TopicTags:          []any{"Screening", "news", "screening"},
		Model:              "primary",
	}
	candidate := domain.RawCandidate{Title: "Rival launches corporate screening", URL: "https://example.com/a"}

	article, err := stage.Validate(raw, candidate, "fp", company)
	require.NoError(t, err)

	assert.Equal(t, "Acme rival launches screening bundle.", article.SummaryText)
	assert.Equal(t, domain.Scores{Relevance: 8, Impact: 6}, article.Scores)
	assert.Equal(t, []string{"BetaCorp", "Acme"}, article.KeyEntities)
	assert.Equal(t, []string{"Screening"}, article.TopicTags)
	assert.Equal(t, []string{"Grow corporate screening contracts"}, article.GoalMatches)
	assert.Equal(t, domain.Fingerprint("fp"), article.Fingerprint)
	assert.Equal(t, "primary", article.Model)
}

func TestValidateKeepsOnlyConfiguredGoals(t *testing.T) {
	t.Parallel()

	stage := NewStage(nil, Options{})
	raw := ports.RawAnalysis{
		Summary:        "Rival launches corporate screening.",
		RelevanceScore: "7",
		ImpactScore:    "5",
		GoalMatches:    []any{" expand into IRELAND", "World domination"},
	}
	candidate := domain.RawCandidate{Title: "Rival launches corporate screening", URL: "https://example.com/a"}

	article, err := stage.Validate(raw, candidate, "fp", company)
	require.NoError(t, err)
	assert.Equal(t, []string{"Expand into Ireland", "Grow corporate screening contracts"}, article.GoalMatches)
}

func TestKnownGoals(t *testing.T) {
	t.Parallel()

	goals := []string{"Grow corporate screening contracts", "Expand into Ireland"}
	assert.Equal(t, []string{"Expand into Ireland"}, KnownGoals([]string{"expand into ireland", "unrelated"}, goals))
	assert.Empty(t, KnownGoals([]string{"anything"}, nil))
}

func TestValidateRejects(t *testing.T) {
	t.Parallel()

	good := func() ports.RawAnalysis {
		return ports.RawAnalysis{Summary: "ok", RelevanceScore: float64(5), ImpactScore: float64(5)}
	}
	cases := map[string]func(r *ports.RawAnalysis){
		"empty summary":      func(r *ports.RawAnalysis) { r.Summary = "   " },
		"fractional score":   func(r *ports.RawAnalysis) { r.RelevanceScore = 7.5 },
		"out of range score": func(r *ports.RawAnalysis) { r.ImpactScore = float64(12) },
		"missing score":      func(r *ports.RawAnalysis) { r.ImpactScore = nil },
		"non-string entity":  func(r *ports.RawAnalysis) { r.KeyEntities = []any{"ok", float64(3)} },
		"non-string tag":     func(r *ports.RawAnalysis) { r.TopicTags = []any{map[string]any{}} },
	}

	stage := NewStage(nil, Options{})
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			raw := good()
			mutate(&raw)
			_, err := stage.Validate(raw, domain.RawCandidate{}, "fp", company)
			assert.ErrorIs(t, err, domain.ErrAnalysisFailure)
		})
	}
}

func TestAnalyzeWrapsClientErrorsAndClipsText(t *testing.T) {
	t.Parallel()

	client := &stubClient{err: errors.New("connection refused")}
	stage := NewStage(client, Options{MaxTextRunes: 5})

	_, err := stage.Analyze(context.Background(), domain.RawCandidate{RawText: "ééééééééé"}, "fp", company)
	assert.ErrorIs(t, err, domain.ErrAnalysisFailure)
	assert.Equal(t, "ééééé", client.text)
}

func TestFallbackTagsFromTitleAndSummary(t *testing.T) {
	t.Parallel()

	stage := NewStage(nil, Options{})
	raw := ports.RawAnalysis{Summary: "Private clinic opens diagnostics centre", RelevanceScore: float64(3), ImpactScore: float64(2)}
	article, err := stage.Validate(raw, domain.RawCandidate{Title: "The clinic news"}, "fp", domain.CompanyContext{})
	require.NoError(t, err)
	assert.Equal(t, []string{"clinic", "news", "private", "opens"}, article.TopicTags)
}

func TestKeywordsAndClip(t *testing.T) {
	t.Parallel()

	assert.Equal(t, []string{"grow", "corporate", "screening", "contracts"}, Keywords("Grow corporate screening contracts for the business"))
	assert.Equal(t, "abc", Clip("abcdef", 3))
	assert.Equal(t, "abc", Clip("abc", 10))
	assert.Equal(t, "abcdef", Clip("abcdef", 0))
}
