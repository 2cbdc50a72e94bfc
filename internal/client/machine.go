package client

import (
	"sync"
	"time"

	"github.com/agentx/aitalk/internal/client/dispatch"
)

// Machine holds the session state and the in-memory history. State only
// changes through Transition, which is a compare-and-set against the
// allowed-transition table.
type Machine struct {
	mu       sync.Mutex
	state    State
	history  []Entry
	observer Observer
	queue    *dispatch.Queue
	now      func() time.Time
}

func NewMachine(observer Observer) *Machine {
	return &Machine{
		state:    Idle,
		observer: observer,
		queue:    dispatch.New(),
		now:      time.Now,
	}
}

func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Transition moves to `to` if the current state is one of from (any state
// when from is empty) and the move is legal. It reports whether the state
// changed.
func (m *Machine) Transition(to State, from ...State) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur := m.state
	if len(from) > 0 && !contains(from, cur) {
		return false
	}
	if !CanTransition(cur, to) {
		return false
	}
	m.state = to

	if fn := m.observer.OnStateChange; fn != nil {
		m.queue.Post(func() { fn(cur, to) })
	}
	if cur.RecordEnabled() != to.RecordEnabled() {
		if fn := m.observer.OnRecordEnabled; fn != nil {
			enabled := to.RecordEnabled()
			m.queue.Post(func() { fn(enabled) })
		}
	}
	return true
}

// Notify delivers a notice unless the session has terminated.
func (m *Machine) Notify(n Notice) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == Terminated {
		return
	}
	if fn := m.observer.OnNotice; fn != nil {
		m.queue.Post(func() { fn(n) })
	}
}

// Record appends to the history and reports the entry.
func (m *Machine) Record(role Role, text string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == Terminated {
		return
	}
	e := Entry{Role: role, Text: text, At: m.now()}
	m.history = append(m.history, e)
	if fn := m.observer.OnHistory; fn != nil {
		m.queue.Post(func() { fn(e) })
	}
}

func (m *Machine) History() []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Entry(nil), m.history...)
}

func (m *Machine) ClearHistory() {
	m.mu.Lock()
	m.history = nil
	m.mu.Unlock()
}

// Shutdown detaches the observer once everything already queued has been
// delivered.
func (m *Machine) Shutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observer = Observer{}
	q := m.queue
	q.Post(q.Stop)
}

// Drain waits until queued callbacks have run. Must not be called from an
// observer callback.
func (m *Machine) Drain() {
	m.queue.Drain()
}

func contains(states []State, s State) bool {
	for _, candidate := range states {
		if candidate == s {
			return true
		}
	}
	return false
}
