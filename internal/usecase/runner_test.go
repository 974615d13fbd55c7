package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crypto-morph/newsfinder/internal/domain"
	"github.com/crypto-morph/newsfinder/internal/logging"
	"github.com/crypto-morph/newsfinder/internal/ports"
	"github.com/crypto-morph/newsfinder/internal/testsupport"
)

func TestRunnerCompletesRun(t *testing.T) {
	h := newHarness()
	h.policy.Keywords = []string{"clinic"}
	runner := NewRunner(h.pipeline(t), logging.Discard())

	offTopic := domain.RawCandidate{URL: "https://news.example.com/weather", Title: "Sunny weekend ahead", RawText: "Warm and dry."}
	candidates := []domain.RawCandidate{candidate(1, "[8/8]"), candidate(2, ""), offTopic, candidate(2, "")}
	id, err := runner.StartRun(context.Background(), RunConfig{Candidates: candidates})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	summary, err := runner.Wait(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, id, summary.RunID)
	assert.Equal(t, 2, summary.Stored)

	status, err := runner.Progress(id)
	require.NoError(t, err)
	assert.Equal(t, RunCompleted, status.State)
	assert.Equal(t, ProgressSnapshot{
		Total:      4,
		Processed:  4,
		Filtered:   1,
		Duplicates: 1,
		Analyzed:   2,
		Stored:     2,
		Alerted:    1,
	}, status.Progress)
	assert.False(t, status.FinishedAt.IsZero())
}

func TestRunnerProgressCountsAnalyzedBeforeStore(t *testing.T) {
	h := newHarness()
	gate := make(chan struct{})
	h.embedder.Gate = gate
	runner := NewRunner(h.pipeline(t), logging.Discard())

	id, err := runner.StartRun(context.Background(), RunConfig{Candidates: []domain.RawCandidate{candidate(1, "[6/6]")}})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		status, err := runner.Progress(id)
		return err == nil && status.Progress.Analyzed == 1
	}, 5*time.Second, 5*time.Millisecond)

	status, err := runner.Progress(id)
	require.NoError(t, err)
	assert.Zero(t, status.Progress.Stored)
	assert.Zero(t, status.Progress.Processed)

	close(gate)
	_, err = runner.Wait(context.Background(), id)
	require.NoError(t, err)
	status, err = runner.Progress(id)
	require.NoError(t, err)
	assert.EqualValues(t, 1, status.Progress.Stored)
}

func TestRunnerCancelReleasesInFlightReservation(t *testing.T) {
	h := newHarness()
	h.policy.Concurrency = 1

	started := make(chan struct{}, 1)
	gate := make(chan struct{})
	h.analyzer.Respond = func(string) (ports.RawAnalysis, error) {
		select {
		case started <- struct{}{}:
		default:
		}
		<-gate
		return testsupport.Analysis(9, 9), nil
	}
	runner := NewRunner(h.pipeline(t), logging.Discard())

	candidates := []domain.RawCandidate{candidate(1, ""), candidate(2, ""), candidate(3, ""), candidate(4, "")}
	id, err := runner.StartRun(context.Background(), RunConfig{Candidates: candidates})
	require.NoError(t, err)

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("analysis never started")
	}
	require.NoError(t, runner.Cancel(id))
	close(gate)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	summary, err := runner.Wait(ctx, id)
	require.ErrorIs(t, err, context.Canceled)

	assert.Zero(t, summary.Stored)
	assert.Equal(t, 4, summary.Cancelled)
	inFlight := summary.Outcomes[0]
	assert.True(t, inFlight.Reached(domain.StateAnalyzed), "current stage finishes")
	assert.True(t, inFlight.Released)
	assert.EqualValues(t, 1, h.analyzer.Calls())
	assert.Zero(t, h.ledger.Len())

	status, err := runner.Progress(id)
	require.NoError(t, err)
	assert.Equal(t, RunCancelled, status.State)
}

func TestRunnerReportsFailedRun(t *testing.T) {
	h := newHarness()
	h.ledgerPort = testsupport.BrokenLedger{}
	runner := NewRunner(h.pipeline(t), logging.Discard())

	id, err := runner.StartRun(context.Background(), RunConfig{Candidates: []domain.RawCandidate{candidate(1, "")}})
	require.NoError(t, err)

	_, err = runner.Wait(context.Background(), id)
	require.ErrorIs(t, err, domain.ErrLedgerUnavailable)

	status, err := runner.Progress(id)
	require.NoError(t, err)
	assert.Equal(t, RunFailed, status.State)
	assert.ErrorIs(t, status.Err, domain.ErrLedgerUnavailable)
}

func TestRunnerUnknownRun(t *testing.T) {
	runner := NewRunner(newHarness().pipeline(t), logging.Discard())

	_, err := runner.Progress("nope")
	assert.ErrorIs(t, err, domain.ErrRunNotFound)
	assert.ErrorIs(t, runner.Cancel("nope"), domain.ErrRunNotFound)
	_, err = runner.Wait(context.Background(), "nope")
	assert.ErrorIs(t, err, domain.ErrRunNotFound)
}

func TestRunnerPrunesFinishedRuns(t *testing.T) {
	runner := NewRunner(newHarness().pipeline(t), logging.Discard())

	var first string
	for i := range maxRetainedRuns + 1 {
		id, err := runner.StartRun(context.Background(), RunConfig{Candidates: []domain.RawCandidate{}})
		require.NoError(t, err)
		_, err = runner.Wait(context.Background(), id)
		require.NoError(t, err)
		if i == 0 {
			first = id
		}
	}

	_, err := runner.Progress(first)
	assert.True(t, errors.Is(err, domain.ErrRunNotFound))
}

func TestRunStateFor(t *testing.T) {
	assert.Equal(t, RunCompleted, runStateFor(nil))
	assert.Equal(t, RunCancelled, runStateFor(context.Canceled))
	assert.Equal(t, RunFailed, runStateFor(domain.ErrStoreUnavailable))
}
