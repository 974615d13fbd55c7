// Package retry runs stage calls with bounded attempts and exponential backoff with jitter.
package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"time"
)

// Config bounds one retried operation.
type Config struct {
	MaxAttempts   int
	BaseDelay     time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
	JitterFactor  float64
}

// Classifier reports whether an error is worth another attempt.
type Classifier func(error) bool

// Retrier executes operations under a Config.
type Retrier struct {
	config      Config
	isRetryable Classifier
	logger      *slog.Logger
}

// New builds a Retrier. A nil classifier retries every error except context cancellation.
func New(config Config, classifier Classifier, logger *slog.Logger) *Retrier {
	if config.MaxAttempts < 1 {
		config.MaxAttempts = 1
	}
	if config.BackoffFactor <= 0 {
		config.BackoffFactor = 2
	}
	if classifier == nil {
		classifier = Transient
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Retrier{config: config, isRetryable: classifier, logger: logger}
}

// Transient treats everything but cancellation as retryable.
func Transient(err error) bool {
	return !errors.Is(err, context.Canceled)
}

// MaxAttempts returns the configured attempt bound.
func (r *Retrier) MaxAttempts() int {
	return r.config.MaxAttempts
}

// Do calls operation until it succeeds, returns a non-retryable error or the attempts run out.
// The returned count is the number of attempts made.
func (r *Retrier) Do(ctx context.Context, operation func(ctx context.Context) error) (int, error) {
	var lastErr error
	for attempt := 1; attempt <= r.config.MaxAttempts; attempt++ {
		lastErr = operation(ctx)
		if lastErr == nil {
			if attempt > 1 {
				r.logger.Debug("operation succeeded after retry", "attempt", attempt)
			}
			return attempt, nil
		}

		retryable := r.isRetryable(lastErr)
		r.logger.Debug("operation attempt failed",
			"attempt", attempt,
			"max_attempts", r.config.MaxAttempts,
			"retryable", retryable,
			"error", lastErr)

		if attempt == r.config.MaxAttempts || !retryable {
			return attempt, lastErr
		}

		delay := r.delay(attempt)
		if delay <= 0 {
			continue
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return attempt, fmt.Errorf("retry cancelled: %w", ctx.Err())
		case <-timer.C:
		}
	}
	return r.config.MaxAttempts, lastErr
}

func (r *Retrier) delay(attempt int) time.Duration {
	if r.config.BaseDelay <= 0 {
		return 0
	}
	d := float64(r.config.BaseDelay) * math.Pow(r.config.BackoffFactor, float64(attempt-1))
	if r.config.MaxDelay > 0 && d > float64(r.config.MaxDelay) {
		d = float64(r.config.MaxDelay)
	}
	d *= 1.0 + (rand.Float64()-0.5)*r.config.JitterFactor
	return time.Duration(d)
}
