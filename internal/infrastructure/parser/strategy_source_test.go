package parser

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/crypto-morph/newsfinder/internal/config"
	"github.com/crypto-morph/newsfinder/internal/domain"
	"github.com/crypto-morph/newsfinder/internal/scanner"
)

var testNow = time.Date(2025, 11, 8, 9, 0, 0, 0, time.UTC)

type stubScanner struct {
	name    string
	results []domain.RawCandidate
	err     error
	seen    *scanner.Request
}

func (s *stubScanner) Name() string { return s.name }

func (s *stubScanner) Scan(_ context.Context, req scanner.Request) ([]domain.RawCandidate, error) {
	s.seen = &req
	return s.results, s.err
}

func TestStrategySourceFetchCandidates(t *testing.T) {
	t.Parallel()

	ok := &stubScanner{name: "rss", results: []domain.RawCandidate{{URL: "https://a.example/1", Title: "One"}}}
	broken := &stubScanner{name: "html", err: errors.New("boom")}
	reg := scanner.NewRegistry()
	reg.Register(ok)
	reg.Register(broken)

	src := NewStrategySource(reg, []config.SourceConfig{
		{Name: "wire", Scanner: "rss", Feeds: []config.FeedConfig{{Name: "main", URL: "https://a.example/feed"}}},
		{Name: "portal", Scanner: "html"},
		{Name: "ghost", Scanner: "gopher"},
	}, nil)
	src.now = func() time.Time { return testNow }

	got, err := src.FetchCandidates(context.Background())
	if err != nil {
		t.Fatalf("FetchCandidates returned error: %v", err)
	}
	if len(got) != 1 || got[0].SourceName != "wire" || !got[0].FetchedAt.Equal(testNow) {
		t.Fatalf("unexpected candidates %+v", got)
	}
	if ok.seen == nil || len(ok.seen.Feeds) != 1 || ok.seen.Feeds[0].URL != "https://a.example/feed" {
		t.Fatalf("unexpected request %+v", ok.seen)
	}
}

func TestStrategySourceAllFailed(t *testing.T) {
	t.Parallel()

	reg := scanner.NewRegistry()
	reg.Register(&stubScanner{name: "rss", err: errors.New("down")})

	src := NewStrategySource(reg, []config.SourceConfig{{Name: "wire", Scanner: "rss"}}, nil)
	if _, err := src.FetchCandidates(context.Background()); err == nil {
		t.Fatal("expected error when every source fails")
	}
}
