package parser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/crypto-morph/newsfinder/internal/config"
	"github.com/crypto-morph/newsfinder/internal/domain"
	"github.com/crypto-morph/newsfinder/internal/ports"
	"github.com/crypto-morph/newsfinder/internal/scanner"
)

// StrategySource implements CandidateSource via registered scanner strategies.
type StrategySource struct {
	registry *scanner.Registry
	sources  []config.SourceConfig
	logger   *slog.Logger
	now      func() time.Time
}

var _ ports.CandidateSource = (*StrategySource)(nil)

// NewStrategySource wires scanner registry with config-defined sources.
func NewStrategySource(reg *scanner.Registry, sources []config.SourceConfig, log *slog.Logger) *StrategySource {
	if log == nil {
		log = slog.Default()
	}
	return &StrategySource{
		registry: reg,
		sources:  sources,
		logger:   log.With("component", "aggregator"),
		now:      time.Now,
	}
}

// FetchCandidates runs every source. A failing source is logged and skipped;
// the call fails only when no source produced anything and at least one failed.
func (s *StrategySource) FetchCandidates(ctx context.Context) ([]domain.RawCandidate, error) {
	if s.registry == nil {
		return nil, fmt.Errorf("scanner registry is not configured")
	}

	now := s.now().UTC()
	s.logger.Debug("fetch candidates", "sources", len(s.sources))

	var (
		aggregated []domain.RawCandidate
		failures   []error
	)
	for _, src := range s.sources {
		if err := ctx.Err(); err != nil {
			return aggregated, err
		}

		strategy, err := s.registry.Resolve(src.Scanner)
		if err != nil {
			failures = append(failures, fmt.Errorf("source %s: %w", src.Name, err))
			s.logger.Warn("source has no scanner", "source", src.Name, "scanner", src.Scanner)
			continue
		}

		req := scanner.Request{
			Now:      now,
			SiteName: src.Name,
			Options:  src.Options,
			Feeds:    toScannerFeeds(src.Feeds),
		}

		results, err := strategy.Scan(ctx, req)
		if err != nil {
			failures = append(failures, fmt.Errorf("scan source %s: %w", src.Name, err))
			s.logger.Warn("source scan failed", "source", src.Name, "partial", len(results), "error", err)
		}

		for i := range results {
			if results[i].SourceName == "" {
				results[i].SourceName = src.Name
			}
			if results[i].FetchedAt.IsZero() {
				results[i].FetchedAt = now
			}
		}
		s.logger.Debug("source produced candidates", "source", src.Name, "count", len(results))
		aggregated = append(aggregated, results...)
	}

	if len(aggregated) == 0 && len(failures) > 0 {
		return nil, errors.Join(failures...)
	}

	s.logger.Debug("strategy source done", "total_candidates", len(aggregated), "failed_sources", len(failures))
	return aggregated, nil
}

func toScannerFeeds(cfg []config.FeedConfig) []scanner.Feed {
	feeds := make([]scanner.Feed, 0, len(cfg))
	for _, feed := range cfg {
		feeds = append(feeds, scanner.Feed{
			Name: feed.Name,
			URL:  feed.URL,
		})
	}
	return feeds
}
