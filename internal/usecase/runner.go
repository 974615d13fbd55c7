package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/crypto-morph/newsfinder/internal/domain"
)

const maxRetainedRuns = 64

// RunStatus is the externally visible state of a run.
type RunStatus struct {
	RunID      string
	State      RunState
	Discovery  bool
	StartedAt  time.Time
	FinishedAt time.Time
	Progress   ProgressSnapshot
	Err        error
}

type runHandle struct {
	id        string
	discovery bool
	startedAt time.Time
	cancel    context.CancelFunc
	progress  *Progress
	done      chan struct{}

	mu         sync.Mutex
	state      RunState
	finishedAt time.Time
	summary    Summary
	err        error
}

// Runner starts pipeline runs in the background and tracks them by id.
type Runner struct {
	pipeline *Pipeline
	logger   *slog.Logger
	newID    func() string

	mu   sync.Mutex
	runs map[string]*runHandle
}

// NewRunner wraps a pipeline.
func NewRunner(pipeline *Pipeline, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		pipeline: pipeline,
		logger:   logger.With("component", "runner"),
		newID:    uuid.NewString,
		runs:     map[string]*runHandle{},
	}
}

// StartRun launches a run. Cancelling ctx cancels the run like Cancel does.
func (r *Runner) StartRun(ctx context.Context, cfg RunConfig) (string, error) {
	if r.pipeline == nil {
		return "", errors.New("pipeline is not configured")
	}

	runCtx, cancel := context.WithCancel(ctx)
	h := &runHandle{
		id:        r.newID(),
		discovery: cfg.Discovery,
		startedAt: time.Now().UTC(),
		cancel:    cancel,
		progress:  &Progress{},
		done:      make(chan struct{}),
		state:     RunRunning,
	}

	r.mu.Lock()
	r.prune()
	r.runs[h.id] = h
	r.mu.Unlock()

	go func() {
		defer close(h.done)
		defer cancel()
		summary, err := r.pipeline.Run(runCtx, h.id, cfg, h.progress)

		h.mu.Lock()
		h.summary = summary
		h.err = err
		h.state = runStateFor(err)
		h.finishedAt = time.Now().UTC()
		h.mu.Unlock()
	}()

	r.logger.Debug("run started", "run_id", h.id, "discovery", cfg.Discovery)
	return h.id, nil
}

// prune drops the oldest finished runs. Caller holds r.mu.
func (r *Runner) prune() {
	if len(r.runs) < maxRetainedRuns {
		return
	}
	var oldest *runHandle
	for _, h := range r.runs {
		select {
		case <-h.done:
		default:
			continue
		}
		if oldest == nil || h.startedAt.Before(oldest.startedAt) {
			oldest = h
		}
	}
	if oldest != nil {
		delete(r.runs, oldest.id)
	}
}

func (r *Runner) lookup(runID string) (*runHandle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.runs[runID]
	if !ok {
		return nil, fmt.Errorf("run %s: %w", runID, domain.ErrRunNotFound)
	}
	return h, nil
}

// Progress reports counters and state of a run.
func (r *Runner) Progress(runID string) (RunStatus, error) {
	h, err := r.lookup(runID)
	if err != nil {
		return RunStatus{}, err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return RunStatus{
		RunID:      h.id,
		State:      h.state,
		Discovery:  h.discovery,
		StartedAt:  h.startedAt,
		FinishedAt: h.finishedAt,
		Progress:   h.progress.Snapshot(),
		Err:        h.err,
	}, nil
}

// Cancel asks a run to stop. In-flight articles finish their current stage.
func (r *Runner) Cancel(runID string) error {
	h, err := r.lookup(runID)
	if err != nil {
		return err
	}
	h.cancel()
	r.logger.Info("run cancel requested", "run_id", runID)
	return nil
}

// Wait blocks until the run finishes or ctx is done.
func (r *Runner) Wait(ctx context.Context, runID string) (Summary, error) {
	h, err := r.lookup(runID)
	if err != nil {
		return Summary{}, err
	}
	select {
	case <-h.done:
	case <-ctx.Done():
		return Summary{}, ctx.Err()
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.summary, h.err
}
