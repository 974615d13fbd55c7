package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/crypto-morph/newsfinder/internal/ports"
)

// IntervalScheduler fires a job on a fixed period using time.Ticker.
type IntervalScheduler struct {
	interval   time.Duration
	runOnStart bool

	mu   sync.Mutex
	stop chan struct{}
	done chan struct{}
}

var _ ports.Scheduler = (*IntervalScheduler)(nil)

// NewIntervalScheduler builds a scheduler; non-positive intervals fall back to one hour.
func NewIntervalScheduler(interval time.Duration, runOnStart bool) *IntervalScheduler {
	if interval <= 0 {
		interval = time.Hour
	}
	return &IntervalScheduler{interval: interval, runOnStart: runOnStart}
}

// Start begins ticking. Jobs run sequentially on the scheduler goroutine,
// so a slow run delays the next tick instead of overlapping it.
func (c *IntervalScheduler) Start(ctx context.Context, job func(time.Time)) error {
	if job == nil {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stop != nil {
		return nil
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	c.stop, c.done = stop, done

	go func() {
		defer close(done)
		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()
		if c.runOnStart {
			job(time.Now())
		}
		for {
			select {
			case t := <-ticker.C:
				job(t)
			case <-ctx.Done():
				return
			case <-stop:
				return
			}
		}
	}()

	return nil
}

// Stop halts the ticker goroutine and waits for an in-flight job or ctx.
func (c *IntervalScheduler) Stop(ctx context.Context) error {
	c.mu.Lock()
	stop, done := c.stop, c.done
	c.stop, c.done = nil, nil
	c.mu.Unlock()

	if stop == nil {
		return nil
	}
	close(stop)
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
