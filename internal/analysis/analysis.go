// Package analysis turns a raw model answer into a validated AnalyzedArticle.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/cases"

	"github.com/crypto-morph/newsfinder/internal/domain"
	"github.com/crypto-morph/newsfinder/internal/ports"
)

// DefaultMaxTextRunes bounds the article text sent to the model.
const DefaultMaxTextRunes = 4000

// Options tunes validation.
type Options struct {
	MaxTextRunes int
	// BlockedTags are removed from topic tags regardless of case.
	BlockedTags []string
}

// Stage calls the analysis model once and validates its answer.
type Stage struct {
	client  ports.AnalysisClient
	opts    Options
	blocked map[string]struct{}
	now     func() time.Time
}

// NewStage builds an analysis stage.
func NewStage(client ports.AnalysisClient, opts Options) *Stage {
	if opts.MaxTextRunes == 0 {
		opts.MaxTextRunes = DefaultMaxTextRunes
	}
	fold := cases.Fold()
	blocked := make(map[string]struct{}, len(opts.BlockedTags))
	for _, tag := range opts.BlockedTags {
		if tag = strings.TrimSpace(tag); tag != "" {
			blocked[fold.String(tag)] = struct{}{}
		}
	}
	return &Stage{client: client, opts: opts, blocked: blocked, now: time.Now}
}

// Text builds the model input for a candidate.
func (s *Stage) Text(candidate domain.RawCandidate) string {
	text := candidate.RawText
	if candidate.Title != "" {
		text = candidate.Title + "\n\n" + text
	}
	return Clip(text, s.opts.MaxTextRunes)
}

// Analyze performs one model call. Every failure wraps domain.ErrAnalysisFailure.
func (s *Stage) Analyze(ctx context.Context, candidate domain.RawCandidate, fp domain.Fingerprint, company domain.CompanyContext) (domain.AnalyzedArticle, error) {
	raw, err := s.client.Analyze(ctx, s.Text(candidate), company)
	if err != nil {
		if errors.Is(err, domain.ErrAnalysisFailure) {
			return domain.AnalyzedArticle{}, err
		}
		return domain.AnalyzedArticle{}, fmt.Errorf("%w: %w", domain.ErrAnalysisFailure, err)
	}
	return s.Validate(raw, candidate, fp, company)
}

// Validate checks a raw answer. Invalid scores are rejected, never clamped.
func (s *Stage) Validate(raw ports.RawAnalysis, candidate domain.RawCandidate, fp domain.Fingerprint, company domain.CompanyContext) (domain.AnalyzedArticle, error) {
	summary := strings.TrimSpace(raw.Summary)
	if summary == "" {
		return domain.AnalyzedArticle{}, fmt.Errorf("%w: empty summary", domain.ErrAnalysisFailure)
	}

	relevance, err := ParseScore(raw.RelevanceScore)
	if err != nil {
		return domain.AnalyzedArticle{}, fmt.Errorf("relevance_score: %w", err)
	}
	impact, err := ParseScore(raw.ImpactScore)
	if err != nil {
		return domain.AnalyzedArticle{}, fmt.Errorf("impact_score: %w", err)
	}

	entities, err := StringList("key_entities", raw.KeyEntities)
	if err != nil {
		return domain.AnalyzedArticle{}, err
	}
	tags, err := StringList("topic_tags", raw.TopicTags)
	if err != nil {
		return domain.AnalyzedArticle{}, err
	}
	goals, err := StringList("goal_matches", raw.GoalMatches)
	if err != nil {
		return domain.AnalyzedArticle{}, err
	}

	tags = s.dropBlocked(tags)
	if len(tags) == 0 {
		tags = s.dropBlocked(fallbackTags(candidate.Title + " " + summary))
	}
	goals = Dedupe(append(KnownGoals(goals, company.BusinessGoals), MatchGoals(candidate.Title+" "+summary, company.BusinessGoals)...))

	return domain.AnalyzedArticle{
		Candidate:          candidate,
		Fingerprint:        fp,
		SummaryText:        summary,
		Scores:             domain.Scores{Relevance: relevance, Impact: impact},
		RelevanceReasoning: strings.TrimSpace(raw.RelevanceReasoning),
		KeyEntities:        entities,
		TopicTags:          tags,
		GoalMatches:        goals,
		Model:              raw.Model,
		AnalyzedAt:         s.now().UTC(),
	}, nil
}

func (s *Stage) dropBlocked(tags []string) []string {
	if len(s.blocked) == 0 {
		return tags
	}
	fold := cases.Fold()
	out := tags[:0]
	for _, tag := range tags {
		if _, ok := s.blocked[fold.String(tag)]; !ok {
			out = append(out, tag)
		}
	}
	return out
}

func fallbackTags(text string) []string {
	tags := Dedupe(Keywords(text))
	if len(tags) > 4 {
		tags = tags[:4]
	}
	return tags
}
