package services

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/agentx/aitalk/internal/llm"
	"github.com/agentx/aitalk/internal/models"
)

type memTurns struct {
	mu     sync.Mutex
	turns  []models.Turn
	now    func() time.Time
	err    error
	nextID int64
}

func newMemTurns(now func() time.Time) *memTurns {
	return &memTurns{now: now}
}

func (m *memTurns) add(userID string, dir models.Direction, text string, at time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	m.turns = append(m.turns, models.Turn{ID: m.nextID, UserID: userID, Direction: dir, Text: text, CreatedAt: at})
}

func (m *memTurns) Append(_ context.Context, userID string, ex models.Exchange) ([]models.Turn, error) {
	if m.err != nil {
		return nil, m.err
	}
	at := m.now()
	var out []models.Turn
	if ex.Inbound != "" {
		m.add(userID, models.DirectionInbound, ex.Inbound, at)
		out = append(out, m.turns[len(m.turns)-1])
	}
	if ex.Outbound != "" {
		m.add(userID, models.DirectionOutbound, ex.Outbound, at)
		out = append(out, m.turns[len(m.turns)-1])
	}
	return out, nil
}

func (m *memTurns) QueryAfter(_ context.Context, userID string, after *time.Time, until time.Time) ([]models.Turn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Turn
	for _, t := range m.turns {
		if t.UserID != userID || t.CreatedAt.After(until) {
			continue
		}
		if after != nil && !t.CreatedAt.After(*after) {
			continue
		}
		out = append(out, t)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *memTurns) ListByUser(ctx context.Context, userID string, limit int) ([]models.Turn, error) {
	return m.QueryAfter(ctx, userID, nil, time.Now().Add(24*time.Hour))
}

func (m *memTurns) ListRecentUsers(_ context.Context, since time.Time) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := map[string]bool{}
	var users []string
	for _, t := range m.turns {
		if t.CreatedAt.After(since) && !seen[t.UserID] {
			seen[t.UserID] = true
			users = append(users, t.UserID)
		}
	}
	sort.Strings(users)
	return users, nil
}

func (m *memTurns) all() []models.Turn {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.Turn(nil), m.turns...)
}

type memSummaries struct {
	mu      sync.Mutex
	records []models.SummaryRecord
}

func (m *memSummaries) Latest(_ context.Context, userID string) (*models.SummaryRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var latest *models.SummaryRecord
	for i := range m.records {
		r := m.records[i]
		if r.UserID == userID && (latest == nil || r.CreatedAt.After(latest.CreatedAt)) {
			latest = &r
		}
	}
	return latest, nil
}

func (m *memSummaries) AppendIfDue(_ context.Context, record *models.SummaryRecord, cutoff time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.records {
		if r.UserID == record.UserID && r.CreatedAt.After(cutoff) {
			return false, nil
		}
	}
	record.ID = int64(len(m.records) + 1)
	m.records = append(m.records, *record)
	return true, nil
}

func (m *memSummaries) ListByUser(_ context.Context, userID string, limit int) ([]models.SummaryRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.SummaryRecord
	for _, r := range m.records {
		if r.UserID == userID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memSummaries) count(userID string) int {
	list, _ := m.ListByUser(context.Background(), userID, 0)
	return len(list)
}

// fakeCompleter records prompts. When gate is set each call blocks until
// the gate is closed.
type fakeCompleter struct {
	mu      sync.Mutex
	reply   string
	err     error
	prompts []string
	msgs    [][]llm.Message
	started chan struct{}
	gate    chan struct{}
}

func (f *fakeCompleter) Complete(ctx context.Context, prompt string) (string, error) {
	return f.Chat(ctx, []llm.Message{llm.User(prompt)}, llm.Options{})
}

func (f *fakeCompleter) Chat(ctx context.Context, messages []llm.Message, _ llm.Options) (string, error) {
	f.mu.Lock()
	f.prompts = append(f.prompts, messages[len(messages)-1].Content)
	f.msgs = append(f.msgs, messages)
	started, gate := f.started, f.gate
	f.mu.Unlock()

	if started != nil {
		started <- struct{}{}
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return f.reply, f.err
}

func (f *fakeCompleter) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.prompts)
}

type fakeTranscriber struct {
	text string
	err  error
}

func (f *fakeTranscriber) Transcribe(_ context.Context, audio []byte) (string, error) {
	if len(audio) == 0 {
		return "", errors.New("empty audio")
	}
	return f.text, f.err
}

type fakeMemory struct {
	mu        sync.Mutex
	recalled  []models.Memory
	recallErr error
	stored    [][]string
}

func (f *fakeMemory) Remember(_ context.Context, userID string, log []string) (*models.Memory, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stored = append(f.stored, log)
	return &models.Memory{UserID: userID}, nil
}

func (f *fakeMemory) Recall(context.Context, string, string) ([]models.Memory, error) {
	return f.recalled, f.recallErr
}
