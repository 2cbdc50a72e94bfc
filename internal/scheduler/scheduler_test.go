package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentx/aitalk/internal/config"
	"github.com/agentx/aitalk/internal/logging"
	"github.com/agentx/aitalk/internal/models"
	"github.com/agentx/aitalk/internal/services"
)

type staticUsers struct {
	users []string
	since time.Time
	err   error
}

func (s *staticUsers) ListRecentUsers(_ context.Context, since time.Time) ([]string, error) {
	s.since = since
	return s.users, s.err
}

type fakeRunner struct {
	mu        sync.Mutex
	calls     []string
	outcomes  map[string]models.SummaryOutcome
	failures  map[string]error
	active    atomic.Int32
	maxActive atomic.Int32
	delay     time.Duration
}

func (f *fakeRunner) Run(_ context.Context, userID string) (*services.SummaryResult, error) {
	n := f.active.Add(1)
	defer f.active.Add(-1)
	for {
		m := f.maxActive.Load()
		if n <= m || f.maxActive.CompareAndSwap(m, n) {
			break
		}
	}
	time.Sleep(f.delay)

	f.mu.Lock()
	f.calls = append(f.calls, userID)
	f.mu.Unlock()

	if err := f.failures[userID]; err != nil {
		return nil, err
	}
	outcome, ok := f.outcomes[userID]
	if !ok {
		outcome = models.SummaryCreated
	}
	return &services.SummaryResult{Outcome: outcome}, nil
}

func (f *fakeRunner) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func TestRunOnce_ContinuesPastFailures(t *testing.T) {
	users := &staticUsers{users: []string{"a", "b", "c", "d"}}
	runner := &fakeRunner{
		outcomes: map[string]models.SummaryOutcome{"b": models.SummarySkippedNotDue, "c": models.SummarySkippedNoTurns},
		failures: map[string]error{"a": errors.New("llm down")},
	}
	cfg := config.SummaryConfig{Lookback: 6 * time.Hour, Parallelism: 2}
	s := New(runner, users, cfg, logging.Discard())
	now := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	report, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Report{Users: 4, Created: 1, Skipped: 2, Failed: 1}, report)
	assert.Equal(t, 4, runner.callCount())
	assert.Equal(t, now.Add(-6*time.Hour), users.since)
}

func TestRunOnce_RespectsParallelism(t *testing.T) {
	users := &staticUsers{users: []string{"a", "b", "c", "d", "e", "f"}}
	runner := &fakeRunner{delay: 20 * time.Millisecond}
	s := New(runner, users, config.SummaryConfig{Parallelism: 2}, logging.Discard())

	_, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 6, runner.callCount())
	assert.LessOrEqual(t, runner.maxActive.Load(), int32(2))
}

func TestRunOnce_ListFailure(t *testing.T) {
	users := &staticUsers{err: errors.New("db down")}
	runner := &fakeRunner{}
	s := New(runner, users, config.SummaryConfig{}, logging.Discard())

	_, err := s.RunOnce(context.Background())
	assert.Error(t, err)
	assert.Zero(t, runner.callCount())
}

func TestStart_InvalidSchedule(t *testing.T) {
	s := New(&fakeRunner{}, &staticUsers{}, config.SummaryConfig{Schedule: "every now and then"}, logging.Discard())
	assert.Error(t, s.Start())
}

func TestStart_TriggersSweep(t *testing.T) {
	runner := &fakeRunner{}
	s := New(runner, &staticUsers{users: []string{"u1"}}, config.SummaryConfig{Schedule: "@every 1s"}, logging.Discard())
	require.NoError(t, s.Start())
	defer s.Stop()

	assert.Eventually(t, func() bool { return runner.callCount() > 0 }, 3*time.Second, 50*time.Millisecond)
}
