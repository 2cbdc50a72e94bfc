package services

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentx/aitalk/internal/config"
	"github.com/agentx/aitalk/internal/database"
	"github.com/agentx/aitalk/internal/logging"
	"github.com/agentx/aitalk/internal/models"
	"github.com/agentx/aitalk/internal/repository/sqlstore"
)

var lastReport = time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)

func newSummaryFixture(now time.Time) (*SummaryService, *memTurns, *memSummaries, *fakeCompleter) {
	clock := func() time.Time { return now }
	turns := newMemTurns(clock)
	summaries := &memSummaries{}
	completer := &fakeCompleter{reply: "The user talked about hiking."}
	svc := NewSummaryService(turns, summaries, completer, time.Hour, logging.Discard())
	svc.now = clock
	return svc, turns, summaries, completer
}

func TestSummaryService_SkipsWhenNotDue(t *testing.T) {
	svc, turns, summaries, completer := newSummaryFixture(lastReport.Add(59 * time.Minute))
	summaries.records = append(summaries.records, models.SummaryRecord{UserID: "u1", CreatedAt: lastReport})
	turns.add("u1", models.DirectionInbound, "new turn", lastReport.Add(30*time.Minute))

	res, err := svc.Run(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, models.SummarySkippedNotDue, res.Outcome)
	assert.Equal(t, 1, summaries.count("u1"))
	assert.Zero(t, completer.calls())
}

func TestSummaryService_SkipsWithoutNewTurns(t *testing.T) {
	svc, turns, summaries, completer := newSummaryFixture(lastReport.Add(time.Hour))
	summaries.records = append(summaries.records, models.SummaryRecord{UserID: "u1", CreatedAt: lastReport})
	turns.add("u1", models.DirectionInbound, "old turn", lastReport.Add(-time.Minute))
	turns.add("u1", models.DirectionOutbound, "boundary turn", lastReport)

	res, err := svc.Run(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, models.SummarySkippedNoTurns, res.Outcome)
	assert.Equal(t, 1, summaries.count("u1"))
	assert.Zero(t, completer.calls())
}

func TestSummaryService_SummarizesOnlyNewTurns(t *testing.T) {
	now := lastReport.Add(90 * time.Minute)
	svc, turns, summaries, completer := newSummaryFixture(now)
	summaries.records = append(summaries.records, models.SummaryRecord{UserID: "u1", CreatedAt: lastReport})
	turns.add("u1", models.DirectionInbound, "already reported", lastReport)
	turns.add("u1", models.DirectionInbound, "I went hiking", lastReport.Add(10*time.Minute))
	turns.add("u1", models.DirectionOutbound, "Where did you go?", lastReport.Add(10*time.Minute))
	turns.add("u2", models.DirectionInbound, "another user", lastReport.Add(20*time.Minute))

	res, err := svc.Run(context.Background(), "u1")
	require.NoError(t, err)
	require.Equal(t, models.SummaryCreated, res.Outcome)
	require.NotNil(t, res.Record)
	assert.Equal(t, 2, res.Record.TurnCount)
	assert.Equal(t, now, res.Record.CreatedAt)
	assert.Equal(t, "The user talked about hiking.", res.Record.SummaryText)
	assert.Equal(t, 2, summaries.count("u1"))

	require.Len(t, completer.prompts, 1)
	prompt := completer.prompts[0]
	assert.Contains(t, prompt, "User: I went hiking\nAI: Where did you go?")
	assert.NotContains(t, prompt, "already reported")
	assert.NotContains(t, prompt, "another user")
}

func TestSummaryService_FirstSummaryCoversAllTurns(t *testing.T) {
	svc, turns, summaries, completer := newSummaryFixture(lastReport)
	turns.add("u1", models.DirectionInbound, "first ever", lastReport.Add(-48*time.Hour))
	turns.add("u1", models.DirectionOutbound, "welcome", lastReport.Add(-48*time.Hour))

	res, err := svc.Run(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, models.SummaryCreated, res.Outcome)
	assert.Equal(t, 1, summaries.count("u1"))
	assert.Contains(t, completer.prompts[0], "first ever")
}

func TestSummaryService_CompletionFailureWritesNothing(t *testing.T) {
	svc, turns, summaries, completer := newSummaryFixture(lastReport)
	turns.add("u1", models.DirectionInbound, "hello", lastReport.Add(-time.Minute))
	completer.err = errors.New("rate limited")

	_, err := svc.Run(context.Background(), "u1")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUpstream)
	assert.Zero(t, summaries.count("u1"))

	// The next trigger reconsiders the same window.
	completer.err = nil
	res, err := svc.Run(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, models.SummaryCreated, res.Outcome)
	assert.Contains(t, completer.prompts[1], "hello")
}

func TestSummaryService_ConcurrentRunsWriteOnce(t *testing.T) {
	svc, turns, summaries, completer := newSummaryFixture(lastReport)
	turns.add("u1", models.DirectionInbound, "hello", lastReport.Add(-time.Minute))
	completer.started = make(chan struct{}, 4)
	completer.gate = make(chan struct{})

	var wg sync.WaitGroup
	results := make([]*SummaryResult, 4)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := svc.Run(context.Background(), "u1")
			assert.NoError(t, err)
			results[i] = res
		}(i)
	}

	<-completer.started
	time.Sleep(20 * time.Millisecond)
	close(completer.gate)
	wg.Wait()

	assert.Equal(t, 1, summaries.count("u1"))
	assert.Equal(t, 1, completer.calls())
	for _, res := range results {
		require.NotNil(t, res)
		assert.NotEqual(t, models.SummarySkippedNoTurns, res.Outcome)
	}
}

func TestSummaryService_DifferentUsersRunInParallel(t *testing.T) {
	svc, turns, summaries, completer := newSummaryFixture(lastReport)
	turns.add("u1", models.DirectionInbound, "one", lastReport.Add(-time.Minute))
	turns.add("u2", models.DirectionInbound, "two", lastReport.Add(-time.Minute))
	completer.started = make(chan struct{}, 2)
	completer.gate = make(chan struct{})

	var wg sync.WaitGroup
	for _, user := range []string{"u1", "u2"} {
		wg.Add(1)
		go func(user string) {
			defer wg.Done()
			_, err := svc.Run(context.Background(), user)
			assert.NoError(t, err)
		}(user)
	}

	// Both users reach the provider before either is released.
	<-completer.started
	<-completer.started
	close(completer.gate)
	wg.Wait()

	assert.Equal(t, 1, summaries.count("u1"))
	assert.Equal(t, 1, summaries.count("u2"))
}

// A turn stamped just before a run but committed after it lands in the
// next report instead of falling behind the window.
func TestSummaryService_LateCommittedTurnIsReportedNext(t *testing.T) {
	svc, turns, summaries, completer := newSummaryFixture(lastReport)
	turns.add("u1", models.DirectionInbound, "earlier", lastReport.Add(-10*time.Minute))

	res, err := svc.Run(context.Background(), "u1")
	require.NoError(t, err)
	require.Equal(t, models.SummaryCreated, res.Outcome)
	assert.Equal(t, 1, res.Record.TurnCount)
	assert.True(t, res.Record.CoveredUntil.Before(lastReport))

	turns.add("u1", models.DirectionOutbound, "late commit", lastReport.Add(-time.Millisecond))

	svc.now = func() time.Time { return lastReport.Add(time.Hour) }
	res, err = svc.Run(context.Background(), "u1")
	require.NoError(t, err)
	require.Equal(t, models.SummaryCreated, res.Outcome)
	assert.Equal(t, 1, res.Record.TurnCount)
	assert.Equal(t, 2, summaries.count("u1"))

	require.Len(t, completer.prompts, 2)
	assert.Contains(t, completer.prompts[1], "late commit")
	assert.NotContains(t, completer.prompts[1], "earlier")
}

func TestSummaryService_CancelledCallerDoesNotFailOthers(t *testing.T) {
	svc, turns, summaries, completer := newSummaryFixture(lastReport)
	turns.add("u1", models.DirectionInbound, "hello", lastReport.Add(-time.Minute))
	completer.started = make(chan struct{}, 1)
	completer.gate = make(chan struct{})

	ctx, cancel := context.WithCancel(context.Background())
	first := make(chan error, 1)
	go func() {
		_, err := svc.Run(ctx, "u1")
		first <- err
	}()
	<-completer.started

	second := make(chan *SummaryResult, 1)
	go func() {
		res, err := svc.Run(context.Background(), "u1")
		assert.NoError(t, err)
		second <- res
	}()
	time.Sleep(20 * time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-first, context.Canceled)

	close(completer.gate)
	res := <-second
	require.NotNil(t, res)
	assert.Equal(t, models.SummaryCreated, res.Outcome)
	assert.Equal(t, 1, summaries.count("u1"))
	assert.Equal(t, 1, completer.calls())
}

func TestRenderSummaryPrompt(t *testing.T) {
	prompt := RenderSummaryPrompt([]models.Turn{
		{Direction: models.DirectionInbound, Text: "hi"},
		{Direction: models.DirectionOutbound, Text: "hello"},
	})
	assert.Contains(t, prompt, "User: hi\nAI: hello\n")
}

// Naive timestamps written by another system are read back as UTC.
func TestSummaryService_NaiveStoredTimestampIsUTC(t *testing.T) {
	cfg := config.DatabaseConfig{Driver: database.DriverSQLite, Path: filepath.Join(t.TempDir(), "aitalk.db")}
	db, err := database.NewConnection(cfg)
	require.NoError(t, err)
	defer db.Close()
	require.NoError(t, database.RunMigrations(context.Background(), db, cfg))

	_, err = db.Exec(`INSERT INTO summaries (user_id, summary_text, turn_count, created_at) VALUES ('u1', 'old', 1, '2024-01-01 10:00:00')`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO turns (user_id, direction, text, created_at) VALUES ('u1', 'inbound', 'after report', '2024-01-01 10:20:00.000000')`)
	require.NoError(t, err)

	completer := &fakeCompleter{reply: "report"}
	svc := NewSummaryService(sqlstore.NewTurnRepository(db.DB), sqlstore.NewSummaryRepository(db.DB), completer, time.Hour, logging.Discard())

	svc.now = func() time.Time { return time.Date(2024, 1, 1, 10, 59, 59, 0, time.UTC) }
	res, err := svc.Run(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, models.SummarySkippedNotDue, res.Outcome)

	svc.now = func() time.Time { return time.Date(2024, 1, 1, 11, 0, 0, 0, time.UTC) }
	res, err = svc.Run(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, models.SummaryCreated, res.Outcome)
	assert.Equal(t, 1, res.Record.TurnCount)
}
