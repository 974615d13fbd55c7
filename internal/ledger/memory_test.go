package ledger

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crypto-morph/newsfinder/internal/domain"
	"github.com/crypto-morph/newsfinder/internal/ports"
)

const fp = domain.Fingerprint("0f1e2d3c4b5a69788796a5b4c3d2e1f00f1e2d3c4b5a69788796a5b4c3d2e1f0")

func TestReserveReleaseCommit(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	l := NewMemory(time.Minute)

	res, err := l.Reserve(ctx, fp)
	require.NoError(t, err)
	assert.Equal(t, ports.MarkOK, res.Result)
	assert.NotEmpty(t, res.Token)

	again, err := l.Reserve(ctx, fp)
	require.NoError(t, err)
	assert.Equal(t, ports.MarkAlreadyMarked, again.Result)
	assert.Empty(t, again.Token)

	require.NoError(t, l.Release(ctx, fp, res.Token))
	seen, err := l.Seen(ctx, fp)
	require.NoError(t, err)
	assert.False(t, seen)

	res, err = l.Reserve(ctx, fp)
	require.NoError(t, err)
	assert.Equal(t, ports.MarkOK, res.Result)
	require.NoError(t, l.Commit(ctx, fp))

	// committed entries survive a release
	require.NoError(t, l.Release(ctx, fp, res.Token))
	seen, err = l.Seen(ctx, fp)
	require.NoError(t, err)
	assert.True(t, seen)
}

func TestReservationExpires(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	l := NewMemory(time.Minute)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }

	stale, err := l.Reserve(ctx, fp)
	require.NoError(t, err)
	require.Equal(t, ports.MarkOK, stale.Result)

	now = now.Add(2 * time.Minute)
	res, err := l.Reserve(ctx, fp)
	require.NoError(t, err)
	assert.Equal(t, ports.MarkOK, res.Result, "stale reservation should be taken over")

	// the expired holder cannot drop the new reservation
	require.NoError(t, l.Release(ctx, fp, stale.Token))
	seen, err := l.Seen(ctx, fp)
	require.NoError(t, err)
	assert.True(t, seen)

	require.NoError(t, l.Commit(ctx, fp))
	now = now.Add(24 * time.Hour)
	seen, err = l.Seen(ctx, fp)
	require.NoError(t, err)
	assert.True(t, seen)
}

func TestConcurrentReserveHasSingleWinner(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	l := NewMemory(0)

	var (
		wg   sync.WaitGroup
		wins atomic.Int32
	)
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := l.Reserve(ctx, fp)
			if err == nil && res.Held() {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
	assert.Equal(t, 1, l.Len())
}

type countingLedger struct {
	*Memory
	reserves atomic.Int32
}

func (c *countingLedger) Reserve(ctx context.Context, f domain.Fingerprint) (ports.Reservation, error) {
	c.reserves.Add(1)
	return c.Memory.Reserve(ctx, f)
}

func TestCachedShortCircuitsCommitted(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	backend := &countingLedger{Memory: NewMemory(time.Minute)}
	c, err := NewCached(backend, 16)
	require.NoError(t, err)

	res, err := c.Reserve(ctx, fp)
	require.NoError(t, err)
	require.Equal(t, ports.MarkOK, res.Result)
	require.NoError(t, c.Commit(ctx, fp))

	res, err = c.Reserve(ctx, fp)
	require.NoError(t, err)
	assert.Equal(t, ports.MarkAlreadyMarked, res.Result)
	assert.Equal(t, int32(1), backend.reserves.Load())

	seen, err := c.Seen(ctx, fp)
	require.NoError(t, err)
	assert.True(t, seen)
}
