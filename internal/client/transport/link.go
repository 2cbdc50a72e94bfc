// Package transport keeps a duplex message link to the conversation server
// open, reconnecting after unexpected closures with a bounded retry budget.
package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/agentx/aitalk/internal/client/dispatch"
)

var (
	// ErrNotConnected is returned by Send when no connection is open.
	// Outbound frames are never buffered.
	ErrNotConnected = errors.New("transport: not connected")
	// ErrRetriesExhausted is reported through OnFailure once the reconnect
	// budget is spent.
	ErrRetriesExhausted = errors.New("transport: reconnect attempts exhausted")
)

const (
	DefaultReconnectDelay = 3 * time.Second
	DefaultMaxRetries     = 5
	DefaultDialTimeout    = 10 * time.Second
)

// Conn is one established connection. ReadMessage blocks until a message
// arrives or the connection ends.
type Conn interface {
	ReadMessage() ([]byte, error)
	WriteMessage(data []byte) error
	Close() error
}

// Dialer opens connections.
type Dialer interface {
	Dial(ctx context.Context, endpoint string) (Conn, error)
}

// Events receives link notifications. All callbacks run in order on a single
// goroutine owned by the link and never while the link's lock is held, so a
// callback may call back into the link.
type Events struct {
	OnOpen    func()
	OnMessage func(data []byte)
	// OnClose reports an unexpected closure, including a failed dial. It is
	// not called for Close(true).
	OnClose func(err error)
	// OnReconnecting is called when automatic attempt n (1-based) starts.
	OnReconnecting func(attempt int)
	// OnFailure is called once when the budget is exhausted. The link stays
	// down until Open is called again.
	OnFailure func(err error)
}

// Policy controls reconnection.
type Policy struct {
	Delay       time.Duration
	MaxRetries  int
	DialTimeout time.Duration
}

func DefaultPolicy() Policy {
	return Policy{
		Delay:       DefaultReconnectDelay,
		MaxRetries:  DefaultMaxRetries,
		DialTimeout: DefaultDialTimeout,
	}
}

type linkState int

const (
	stateIdle linkState = iota
	stateConnecting
	stateOpen
	stateWaiting
	stateFailed
	stateClosed
)

// Link owns at most one connection at a time.
type Link struct {
	dialer Dialer
	policy Policy
	events Events
	logger logrus.FieldLogger

	mu       sync.Mutex
	state    linkState
	endpoint string
	current  *handle
	retries  int
	timer    *time.Timer
	queue    *dispatch.Queue
	seq      uint64
}

func NewLink(dialer Dialer, policy Policy, events Events, logger logrus.FieldLogger) *Link {
	if policy.Delay <= 0 {
		policy.Delay = DefaultReconnectDelay
	}
	if policy.MaxRetries < 0 {
		policy.MaxRetries = 0
	}
	if policy.DialTimeout <= 0 {
		policy.DialTimeout = DefaultDialTimeout
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Link{
		dialer: dialer,
		policy: policy,
		events: events,
		logger: logger.WithField("component", "transport"),
	}
}

// Open starts connecting to endpoint and returns immediately; the outcome is
// reported through Events. Opening an already open or connecting link is a
// no-op. Open after Close(true) or after a terminal failure starts over with
// a fresh retry budget.
func (l *Link) Open(endpoint string) error {
	if endpoint == "" {
		return errors.New("transport: empty endpoint")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	switch l.state {
	case stateConnecting, stateOpen, stateWaiting:
		return nil
	}

	if l.queue == nil {
		l.queue = dispatch.New()
	}
	l.endpoint = endpoint
	l.retries = 0
	l.connectLocked()
	return nil
}

// Send writes one frame on the open connection.
func (l *Link) Send(data []byte) error {
	l.mu.Lock()
	h := l.current
	if l.state != stateOpen || h == nil || h.conn == nil {
		l.mu.Unlock()
		return ErrNotConnected
	}
	l.mu.Unlock()

	if err := h.write(data); err != nil {
		return fmt.Errorf("%w: %v", ErrNotConnected, err)
	}
	return nil
}

// Close shuts the current connection. A user-initiated close cancels any
// pending reconnect, detaches the connection's callbacks and silences the
// link. Otherwise the connection is dropped and the reconnect policy applies
// as for any unexpected closure.
func (l *Link) Close(userInitiated bool) {
	l.mu.Lock()
	h := l.current

	if !userInitiated {
		l.mu.Unlock()
		if h != nil && h.conn != nil {
			_ = h.conn.Close()
		}
		return
	}

	l.state = stateClosed
	l.current = nil
	l.stopTimerLocked()
	if l.queue != nil {
		l.queue.Stop()
		l.queue = nil
	}
	l.mu.Unlock()

	if h != nil {
		h.discard()
	}
}

// Connected reports whether a connection is currently open.
func (l *Link) Connected() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state == stateOpen
}

// Retries reports the number of automatic attempts made since the last
// successful open.
func (l *Link) Retries() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.retries
}

// connectLocked starts one attempt. Callers hold l.mu.
func (l *Link) connectLocked() {
	l.seq++
	ctx, cancel := context.WithTimeout(context.Background(), l.policy.DialTimeout)
	h := &handle{id: l.seq, cancel: cancel}
	h.onMessage = func(data []byte) { l.handleMessage(h, data) }
	h.onClose = func(err error) { l.handleClosure(h, err) }

	l.current = h
	l.state = stateConnecting

	go l.dial(ctx, h, l.endpoint)
}

func (l *Link) dial(ctx context.Context, h *handle, endpoint string) {
	conn, err := l.dialer.Dial(ctx, endpoint)
	h.cancel()

	l.mu.Lock()
	if l.current != h {
		// Superseded or closed while dialing.
		l.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
		return
	}
	if err != nil {
		l.mu.Unlock()
		l.logger.WithError(err).WithField("attempt", l.Retries()).Warn("dial failed")
		h.closed(err)
		return
	}

	h.attach(conn)
	l.state = stateOpen
	l.retries = 0
	l.post(l.events.OnOpen)
	l.mu.Unlock()

	l.logger.WithField("endpoint", endpoint).Info("link open")
	go h.readLoop()
}

func (l *Link) handleMessage(h *handle, data []byte) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.current != h || l.events.OnMessage == nil {
		return
	}
	fn := l.events.OnMessage
	l.post(func() { fn(data) })
}

func (l *Link) handleClosure(h *handle, err error) {
	l.mu.Lock()
	if l.current != h || l.state == stateClosed {
		l.mu.Unlock()
		return
	}
	l.current = nil

	if onClose := l.events.OnClose; onClose != nil {
		l.post(func() { onClose(err) })
	}

	if l.retries >= l.policy.MaxRetries {
		l.state = stateFailed
		failure := fmt.Errorf("%w after %d attempts: %v", ErrRetriesExhausted, l.retries, err)
		if onFailure := l.events.OnFailure; onFailure != nil {
			l.post(func() { onFailure(failure) })
		}
		l.mu.Unlock()
		h.discard()
		l.logger.WithError(err).Error("giving up on link")
		return
	}

	l.state = stateWaiting
	l.stopTimerLocked()
	l.timer = time.AfterFunc(l.policy.Delay, l.reconnect)
	l.mu.Unlock()
	h.discard()

	l.logger.WithError(err).WithField("delay", l.policy.Delay).Warn("link closed, reconnecting")
}

func (l *Link) reconnect() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state != stateWaiting {
		return
	}
	l.timer = nil
	l.retries++
	attempt := l.retries
	if onReconnecting := l.events.OnReconnecting; onReconnecting != nil {
		l.post(func() { onReconnecting(attempt) })
	}
	l.connectLocked()
}

func (l *Link) stopTimerLocked() {
	if l.timer != nil {
		l.timer.Stop()
		l.timer = nil
	}
}

// post queues fn for in-order delivery. Callers hold l.mu.
func (l *Link) post(fn func()) {
	if fn == nil || l.queue == nil {
		return
	}
	l.queue.Post(fn)
}

// handle is one connection attempt. Its callbacks are detached before it is
// discarded so a late read from a dead connection reaches nobody.
type handle struct {
	id     uint64
	cancel context.CancelFunc

	mu        sync.Mutex
	conn      Conn
	writeMu   sync.Mutex
	onMessage func([]byte)
	onClose   func(error)
}

func (h *handle) attach(conn Conn) {
	h.mu.Lock()
	h.conn = conn
	h.mu.Unlock()
}

func (h *handle) readLoop() {
	for {
		data, err := h.conn.ReadMessage()
		if err != nil {
			h.closed(err)
			return
		}
		h.mu.Lock()
		fn := h.onMessage
		h.mu.Unlock()
		if fn == nil {
			return
		}
		fn(data)
	}
}

func (h *handle) closed(err error) {
	h.mu.Lock()
	fn := h.onClose
	h.onClose = nil
	h.mu.Unlock()
	if fn != nil {
		fn(err)
	}
}

func (h *handle) write(data []byte) error {
	h.writeMu.Lock()
	defer h.writeMu.Unlock()
	return h.conn.WriteMessage(data)
}

// discard detaches the callbacks, aborts a dial in flight and closes the
// connection.
func (h *handle) discard() {
	h.mu.Lock()
	h.onMessage = nil
	h.onClose = nil
	conn := h.conn
	h.mu.Unlock()

	h.cancel()
	if conn != nil {
		_ = conn.Close()
	}
}
