package usecase

import (
	"context"
	"fmt"
)

// ReembedSummary counts one backfill pass.
type ReembedSummary struct {
	Scanned  int
	Embedded int
	Failed   int
}

// Reembedder fills in vectors for records stored while the embedder was down.
type Reembedder struct {
	pipeline *Pipeline
}

// NewReembedder reuses the pipeline's embedder, store and retry policy.
func NewReembedder(pipeline *Pipeline) *Reembedder {
	return &Reembedder{pipeline: pipeline}
}

// Run embeds up to limit records flagged NeedsReembed and upserts them.
func (r *Reembedder) Run(ctx context.Context, limit int) (ReembedSummary, error) {
	p := r.pipeline
	logger := p.logger.With("op", "reembed")

	if err := p.preflight(ctx); err != nil {
		return ReembedSummary{}, err
	}
	records, err := p.store.ListNeedingEmbedding(ctx, limit)
	if err != nil {
		return ReembedSummary{}, fmt.Errorf("list records needing embedding: %w", err)
	}

	var summary ReembedSummary
	for _, record := range records {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		summary.Scanned++
		fp := record.Fingerprint()

		vector, err := p.embed(ctx, record.Article.SummaryText)
		if err != nil {
			summary.Failed++
			logger.Warn("reembed failed", "fingerprint", fp.Short(), "error", err)
			continue
		}
		record.Embedding = vector
		record.NeedsReembed = false
		if err := p.persist(ctx, record); err != nil {
			summary.Failed++
			logger.Warn("reembed store failed", "fingerprint", fp.Short(), "error", err)
			continue
		}
		summary.Embedded++
	}

	logger.Info("reembed pass finished", "scanned", summary.Scanned, "embedded", summary.Embedded, "failed", summary.Failed)
	return summary, nil
}
