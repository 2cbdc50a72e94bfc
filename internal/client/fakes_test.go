package client

import (
	"context"
	"errors"
	"sync"

	"github.com/agentx/aitalk/internal/client/transport"
)

type fakeRecorder struct {
	mu        sync.Mutex
	startErr  error
	audio     []byte
	running   bool
	attempts  int
	starts    int
	stops     int
	stopCalls int
}

func (r *fakeRecorder) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attempts++
	if r.startErr != nil {
		return r.startErr
	}
	r.running = true
	r.starts++
	return nil
}

func (r *fakeRecorder) Stop() ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopCalls++
	if !r.running {
		return nil, errors.New("not recording")
	}
	r.running = false
	r.stops++
	return r.audio, nil
}

func (r *fakeRecorder) counts() (starts, stops int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.starts, r.stops
}

// calls reports every Start and Stop call, successful or not.
func (r *fakeRecorder) calls() (starts, stops int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.attempts, r.stopCalls
}

type fakeSpeaker struct {
	mu      sync.Mutex
	texts   []string
	pending func(bool)
	cancels int
}

func (s *fakeSpeaker) Speak(text string, onDone func(bool)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.texts = append(s.texts, text)
	s.pending = onDone
	return nil
}

func (s *fakeSpeaker) Cancel() {
	s.mu.Lock()
	s.cancels++
	s.mu.Unlock()
	s.finish(false)
}

// finish completes the reply being played, if any.
func (s *fakeSpeaker) finish(completed bool) {
	s.mu.Lock()
	fn := s.pending
	s.pending = nil
	s.mu.Unlock()
	if fn != nil {
		fn(completed)
	}
}

func (s *fakeSpeaker) spoken() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.texts...)
}

type fakeSender struct {
	mu   sync.Mutex
	err  error
	sent [][]byte
}

func (s *fakeSender) Send(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, data)
	return nil
}

func (s *fakeSender) frames() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]byte(nil), s.sent...)
}

type observed struct {
	mu      sync.Mutex
	states  []State
	notices []Notice
	history []Entry
	enabled []bool
}

func (o *observed) observer() Observer {
	return Observer{
		OnStateChange: func(_, to State) {
			o.mu.Lock()
			o.states = append(o.states, to)
			o.mu.Unlock()
		},
		OnNotice: func(n Notice) {
			o.mu.Lock()
			o.notices = append(o.notices, n)
			o.mu.Unlock()
		},
		OnHistory: func(e Entry) {
			o.mu.Lock()
			o.history = append(o.history, e)
			o.mu.Unlock()
		},
		OnRecordEnabled: func(enabled bool) {
			o.mu.Lock()
			o.enabled = append(o.enabled, enabled)
			o.mu.Unlock()
		},
	}
}

func (o *observed) noticesOf(kind NoticeKind) []Notice {
	o.mu.Lock()
	defer o.mu.Unlock()
	var out []Notice
	for _, n := range o.notices {
		if n.Kind == kind {
			out = append(out, n)
		}
	}
	return out
}

func (o *observed) stateLog() []State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]State(nil), o.states...)
}

func (o *observed) historyLog() []Entry {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]Entry(nil), o.history...)
}

// pipeConn is a scripted server connection.
type pipeConn struct {
	inbox chan []byte
	fail  chan error

	mu      sync.Mutex
	written [][]byte
	closed  bool
}

func newPipeConn() *pipeConn {
	return &pipeConn{inbox: make(chan []byte, 16), fail: make(chan error, 1)}
}

func (c *pipeConn) ReadMessage() ([]byte, error) {
	select {
	case data := <-c.inbox:
		return data, nil
	case err := <-c.fail:
		return nil, err
	}
}

func (c *pipeConn) WriteMessage(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.New("closed")
	}
	c.written = append(c.written, data)
	return nil
}

func (c *pipeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		select {
		case c.fail <- errors.New("closed"):
		default:
		}
	}
	return nil
}

func (c *pipeConn) drop() {
	c.fail <- errors.New("connection reset by peer")
}

func (c *pipeConn) frames() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.written...)
}

func (c *pipeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// scriptDialer returns the scripted connections in order; nil entries and
// anything past the end fail.
type scriptDialer struct {
	mu        sync.Mutex
	script    []*pipeConn
	endpoints []string
}

func (d *scriptDialer) Dial(_ context.Context, endpoint string) (transport.Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := len(d.endpoints)
	d.endpoints = append(d.endpoints, endpoint)
	if n < len(d.script) && d.script[n] != nil {
		return d.script[n], nil
	}
	return nil, errors.New("connection refused")
}

func (d *scriptDialer) dials() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.endpoints...)
}
