package ledger

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/crypto-morph/newsfinder/internal/domain"
	"github.com/crypto-morph/newsfinder/internal/ports"
)

// Cached remembers committed fingerprints so repeated duplicates never reach the backend.
// Only commits are cached: a committed entry is permanent, a reservation is not.
type Cached struct {
	next      ports.Ledger
	committed *lru.Cache[domain.Fingerprint, struct{}]
}

var _ ports.Ledger = (*Cached)(nil)

// NewCached wraps a backend with an LRU of the given size.
func NewCached(next ports.Ledger, size int) (*Cached, error) {
	if size <= 0 {
		size = 4096
	}
	cache, err := lru.New[domain.Fingerprint, struct{}](size)
	if err != nil {
		return nil, fmt.Errorf("ledger cache: %w", err)
	}
	return &Cached{next: next, committed: cache}, nil
}

func (c *Cached) Seen(ctx context.Context, fp domain.Fingerprint) (bool, error) {
	if c.committed.Contains(fp) {
		return true, nil
	}
	return c.next.Seen(ctx, fp)
}

func (c *Cached) Reserve(ctx context.Context, fp domain.Fingerprint) (ports.Reservation, error) {
	if c.committed.Contains(fp) {
		return ports.Reservation{Result: ports.MarkAlreadyMarked}, nil
	}
	return c.next.Reserve(ctx, fp)
}

func (c *Cached) Release(ctx context.Context, fp domain.Fingerprint, token string) error {
	return c.next.Release(ctx, fp, token)
}

func (c *Cached) Commit(ctx context.Context, fp domain.Fingerprint) error {
	if err := c.next.Commit(ctx, fp); err != nil {
		return err
	}
	c.committed.Add(fp, struct{}{})
	return nil
}
