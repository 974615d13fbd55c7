// Package alert evaluates stored articles against the alert thresholds and appends
// alert events through a single writer.
package alert

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/crypto-morph/newsfinder/internal/domain"
	"github.com/crypto-morph/newsfinder/internal/ports"
)

// ErrClosed is returned by Dispatch once the dispatcher has been closed.
var ErrClosed = errors.New("alert dispatcher closed")

// Thresholds are exclusive minimums: 8/8 alerts against 7/7, 7/9 does not.
type Thresholds struct {
	RelevanceMin int
	ImpactMin    int
}

// Evaluate reports whether both scores strictly exceed the thresholds.
func (t Thresholds) Evaluate(scores domain.Scores) bool {
	return scores.Relevance > t.RelevanceMin && scores.Impact > t.ImpactMin
}

// NewEvent builds the event for a stored article.
func NewEvent(article domain.AnalyzedArticle, runID string, at time.Time) domain.AlertEvent {
	return domain.AlertEvent{
		Fingerprint:    article.Fingerprint,
		Title:          article.Candidate.Title,
		URL:            article.Candidate.URL,
		Source:         article.Candidate.SourceName,
		RelevanceScore: article.Scores.Relevance,
		ImpactScore:    article.Scores.Impact,
		Summary:        article.SummaryText,
		RunID:          runID,
		TriggeredAt:    at.UTC(),
	}
}

// Dispatcher serializes appends to the alert log. Append and notify failures are logged only.
type Dispatcher struct {
	log      ports.AlertLog
	notifier ports.Notifier
	logger   *slog.Logger

	mu     sync.RWMutex
	closed bool
	queue  chan request
	done   chan struct{}
}

// request is either an event to write or a flush marker. The writer closes
// flushed once every request queued ahead of it has been handled.
type request struct {
	event   domain.AlertEvent
	flushed chan struct{}
}

// NewDispatcher starts the writer goroutine. notifier may be nil.
func NewDispatcher(log ports.AlertLog, notifier ports.Notifier, logger *slog.Logger, buffer int) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	if buffer < 0 {
		buffer = 0
	}
	d := &Dispatcher{
		log:      log,
		notifier: notifier,
		logger:   logger.With("component", "alert_dispatcher"),
		queue:    make(chan request, buffer),
		done:     make(chan struct{}),
	}
	go d.run()
	return d
}

// Dispatch enqueues an event. It blocks until the writer accepts it or ctx is done.
func (d *Dispatcher) Dispatch(ctx context.Context, event domain.AlertEvent) error {
	return d.enqueue(ctx, request{event: event})
}

// Flush waits until every event the caller dispatched before it has been
// written. Concurrent callers each wait for their own marker only.
func (d *Dispatcher) Flush(ctx context.Context) error {
	flushed := make(chan struct{})
	if err := d.enqueue(ctx, request{flushed: flushed}); err != nil {
		if !errors.Is(err, ErrClosed) {
			return err
		}
		// Closed: the writer drains what is left and stops.
		flushed = d.done
	}
	select {
	case <-flushed:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) enqueue(ctx context.Context, req request) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrClosed
	}

	select {
	case d.queue <- req:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close drains the queue and stops the writer.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()
	<-d.done
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for req := range d.queue {
		if req.flushed != nil {
			close(req.flushed)
			continue
		}
		d.write(req.event)
	}
}

func (d *Dispatcher) write(event domain.AlertEvent) {
	ctx := context.Background()
	if err := d.log.Append(ctx, event); err != nil {
		d.logger.Error("append alert event", "fingerprint", event.Fingerprint.Short(), "error", err)
		return
	}
	d.logger.Info("alert raised",
		"fingerprint", event.Fingerprint.Short(),
		"relevance", event.RelevanceScore,
		"impact", event.ImpactScore,
		"title", event.Title)

	if d.notifier == nil {
		return
	}
	if err := d.notifier.NotifyAlert(ctx, event); err != nil {
		d.logger.Warn("notify alert", "fingerprint", event.Fingerprint.Short(), "error", err)
	}
}
