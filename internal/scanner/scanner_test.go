package scanner

import (
	"context"
	"testing"

	"github.com/crypto-morph/newsfinder/internal/domain"
)

type namedScanner string

func (n namedScanner) Name() string { return string(n) }

func (n namedScanner) Scan(context.Context, Request) ([]domain.RawCandidate, error) {
	return nil, nil
}

func TestRegistry(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	reg.Register(namedScanner("rss"))
	reg.Register(namedScanner("html"))

	if _, err := reg.Resolve("rss"); err != nil {
		t.Fatalf("Resolve rss: %v", err)
	}
	if _, err := reg.Resolve("atom"); err == nil {
		t.Fatal("expected unknown scanner error")
	}
	names := reg.Names()
	if len(names) != 2 || names[0] != "html" || names[1] != "rss" {
		t.Fatalf("unexpected names %v", names)
	}
}
