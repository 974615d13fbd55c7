package usecase

import (
	"context"
	"fmt"
	"strings"

	"github.com/crypto-morph/newsfinder/internal/domain"
	"github.com/crypto-morph/newsfinder/internal/ports"
)

// ChangeReappraisal is the history change type written by Reappraiser.
const ChangeReappraisal = "reappraisal"

// Reappraisal is the result of re-scoring one stored article.
type Reappraisal struct {
	Record  domain.StoredRecord
	Entry   domain.HistoryEntry
	Verdict *domain.VerificationVerdict
}

// Reappraiser re-runs analysis for an already stored article through the pipeline's stages.
type Reappraiser struct {
	pipeline *Pipeline
	history  ports.HistoryStore
}

// NewReappraiser reuses the pipeline's clients, stores and policy. history may be nil.
func NewReappraiser(pipeline *Pipeline, history ports.HistoryStore) *Reappraiser {
	return &Reappraiser{pipeline: pipeline, history: history}
}

// Reappraise analyzes the stored article again, upserts it with its first-seen
// time intact, and appends a history diff. Prior verdicts are never touched.
func (r *Reappraiser) Reappraise(ctx context.Context, fp domain.Fingerprint) (Reappraisal, error) {
	p := r.pipeline
	logger := p.logger.With("fingerprint", fp.Short(), "op", "reappraise")

	if err := p.preflight(ctx); err != nil {
		return Reappraisal{}, err
	}
	previous, err := p.store.Get(ctx, fp)
	if err != nil {
		return Reappraisal{}, fmt.Errorf("load %s: %w", fp.Short(), err)
	}
	company, err := p.companyContext(ctx)
	if err != nil {
		return Reappraisal{}, err
	}

	candidate := previous.Article.Candidate
	if strings.TrimSpace(candidate.RawText) == "" {
		candidate.RawText = previous.Article.SummaryText
	}

	article, err := p.analyze(ctx, candidate, fp, company)
	if err != nil {
		return Reappraisal{}, fmt.Errorf("reappraise %s: %w", fp.Short(), err)
	}

	vector, needsReembed := previous.Embedding, previous.NeedsReembed
	if article.SummaryText != previous.Article.SummaryText || len(vector) == 0 {
		if v, err := p.embed(ctx, article.SummaryText); err != nil {
			logger.Warn("embedding exhausted, storing without vector", "error", err)
			vector, needsReembed = nil, true
		} else {
			vector, needsReembed = v, false
		}
	}

	prevScores := previous.Article.Scores
	record := domain.StoredRecord{
		Article:          article,
		Embedding:        vector,
		NeedsReembed:     needsReembed,
		FirstSeenAt:      previous.FirstSeenAt,
		StoredAt:         p.now().UTC(),
		ReappraisedCount: previous.ReappraisedCount + 1,
		PreviousScores:   &prevScores,
	}
	if err := p.persist(ctx, record); err != nil {
		return Reappraisal{}, fmt.Errorf("reappraise %s: %w", fp.Short(), err)
	}

	result := Reappraisal{
		Record: record,
		Entry: domain.HistoryEntry{
			Fingerprint: fp,
			ChangeType:  ChangeReappraisal,
			Changes:     diffAnalysis(previous.Article, article),
			RecordedAt:  p.now().UTC(),
		},
	}
	if r.history != nil {
		if err := r.history.AppendHistory(ctx, result.Entry); err != nil {
			return result, fmt.Errorf("append history %s: %w", fp.Short(), err)
		}
	}

	if p.verification != nil && p.verification.Sampler().ShouldVerify(article) {
		v, err := p.verify(context.WithoutCancel(ctx), candidate, article, company)
		if err != nil {
			logger.Warn("verification failed, continuing", "error", err)
		} else {
			result.Verdict = &v
			p.recordVerdict(context.WithoutCancel(ctx), article, &v, logger)
		}
	}

	logger.Info("article reappraised",
		"relevance", article.Scores.Relevance,
		"impact", article.Scores.Impact,
		"previous_relevance", prevScores.Relevance,
		"previous_impact", prevScores.Impact,
		"changes", len(result.Entry.Changes))
	return result, nil
}

func diffAnalysis(before, after domain.AnalyzedArticle) map[string]domain.FieldChange {
	changes := map[string]domain.FieldChange{}
	if before.Scores.Relevance != after.Scores.Relevance {
		changes["relevance_score"] = domain.FieldChange{From: before.Scores.Relevance, To: after.Scores.Relevance}
	}
	if before.Scores.Impact != after.Scores.Impact {
		changes["impact_score"] = domain.FieldChange{From: before.Scores.Impact, To: after.Scores.Impact}
	}
	if before.RelevanceReasoning != after.RelevanceReasoning {
		changes["relevance_reasoning"] = domain.FieldChange{From: before.RelevanceReasoning, To: after.RelevanceReasoning}
	}
	if before.SummaryText != after.SummaryText {
		changes["summary"] = domain.FieldChange{From: before.SummaryText, To: after.SummaryText}
	}
	return changes
}
