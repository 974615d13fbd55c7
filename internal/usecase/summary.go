package usecase

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/crypto-morph/newsfinder/internal/domain"
)

// Summary aggregates the outcomes of one run.
type Summary struct {
	RunID      string
	Discovery  bool
	StartedAt  time.Time
	FinishedAt time.Time

	Total               int
	Filtered            int
	Duplicates          int
	Analyzed            int
	Verified            int
	Flagged             int
	Stored              int
	StoredWithoutVector int
	Alerted             int
	Failed              int
	Released            int
	Cancelled           int
	Discovered          int

	Outcomes []domain.Outcome
}

func (s *Summary) tally(outcomes []domain.Outcome) {
	s.Outcomes = outcomes
	for _, o := range outcomes {
		s.Total++
		switch o.State {
		case domain.StateRejected:
			if o.RejectReason == domain.RejectDuplicate {
				s.Duplicates++
			} else {
				s.Filtered++
			}
		case domain.StateFailed:
			s.Failed++
		case domain.StateCancelled:
			s.Cancelled++
		case domain.StateAlerted:
			s.Alerted++
		case domain.StateDiscovered:
			s.Discovered++
		}
		if o.Reached(domain.StateAnalyzed) {
			s.Analyzed++
		}
		if o.Reached(domain.StateStored) {
			s.Stored++
			if o.StoredNoVec {
				s.StoredWithoutVector++
			}
		}
		if o.Verified {
			s.Verified++
			if o.Verdict != nil && o.Verdict.Flagged {
				s.Flagged++
			}
		}
		if o.Released {
			s.Released++
		}
	}
}

// Progress holds monotonic counters readable while a run is in flight.
// Analyzed moves as soon as an article passes analysis; the others move when
// an article reaches its final state.
type Progress struct {
	total      atomic.Int64
	processed  atomic.Int64
	filtered   atomic.Int64
	duplicates atomic.Int64
	analyzed   atomic.Int64
	stored     atomic.Int64
	alerted    atomic.Int64
	failed     atomic.Int64
	cancelled  atomic.Int64
}

// ProgressSnapshot is a point-in-time copy of Progress. Total is the number
// of fetched candidates.
type ProgressSnapshot struct {
	Total      int64
	Processed  int64
	Filtered   int64
	Duplicates int64
	Analyzed   int64
	Stored     int64
	Alerted    int64
	Failed     int64
	Cancelled  int64
}

func (p *Progress) markAnalyzed() {
	p.analyzed.Add(1)
}

func (p *Progress) observe(o domain.Outcome) {
	p.processed.Add(1)
	if o.Reached(domain.StateStored) {
		p.stored.Add(1)
	}
	switch o.State {
	case domain.StateAlerted:
		p.alerted.Add(1)
	case domain.StateRejected:
		if o.RejectReason == domain.RejectDuplicate {
			p.duplicates.Add(1)
		} else {
			p.filtered.Add(1)
		}
	case domain.StateFailed:
		p.failed.Add(1)
	case domain.StateCancelled:
		p.cancelled.Add(1)
	}
}

// Snapshot reads all counters.
func (p *Progress) Snapshot() ProgressSnapshot {
	return ProgressSnapshot{
		Total:      p.total.Load(),
		Processed:  p.processed.Load(),
		Filtered:   p.filtered.Load(),
		Duplicates: p.duplicates.Load(),
		Analyzed:   p.analyzed.Load(),
		Stored:     p.stored.Load(),
		Alerted:    p.alerted.Load(),
		Failed:     p.failed.Load(),
		Cancelled:  p.cancelled.Load(),
	}
}

// RunState is the lifecycle of a run tracked by the Runner.
type RunState int

const (
	RunRunning RunState = iota + 1
	RunCompleted
	RunFailed
	RunCancelled
)

func (s RunState) String() string {
	switch s {
	case RunRunning:
		return "running"
	case RunCompleted:
		return "completed"
	case RunFailed:
		return "failed"
	case RunCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

func runStateFor(err error) RunState {
	switch {
	case err == nil:
		return RunCompleted
	case errors.Is(err, context.Canceled):
		return RunCancelled
	default:
		return RunFailed
	}
}
