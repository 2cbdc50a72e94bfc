package client

import (
	"fmt"
	"net/url"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/agentx/aitalk/internal/client/transport"
	"github.com/agentx/aitalk/internal/config"
)

type Options struct {
	ServerURL string
	Turns     TurnConfig
	Policy    transport.Policy
}

// OptionsFromConfig maps the client section of the config.
func OptionsFromConfig(cfg config.ClientConfig) Options {
	return Options{
		ServerURL: cfg.ServerURL,
		Turns: TurnConfig{
			SilenceTimeout: cfg.SilenceTimeout,
			RestartDelay:   cfg.RestartDelay,
		},
		Policy: transport.Policy{
			Delay:      cfg.ReconnectDelay,
			MaxRetries: cfg.MaxRetries,
		},
	}
}

// Session ties the state machine, the turn controller and the link together
// for one user.
type Session struct {
	userID  string
	opts    Options
	machine *Machine
	turns   *TurnController
	link    *transport.Link
	logger  logrus.FieldLogger

	endOnce sync.Once
}

func NewSession(userID string, dialer transport.Dialer, recorder Recorder, speaker Speaker, observer Observer, opts Options, logger logrus.FieldLogger) *Session {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	logger = logger.WithField("user_id", userID)
	if opts.Policy == (transport.Policy{}) {
		opts.Policy = transport.DefaultPolicy()
	}

	s := &Session{
		userID:  userID,
		opts:    opts,
		machine: NewMachine(observer),
		logger:  logger,
	}
	s.link = transport.NewLink(dialer, opts.Policy, transport.Events{
		OnOpen:         s.handleOpen,
		OnMessage:      s.handleMessage,
		OnClose:        s.handleClose,
		OnReconnecting: s.handleReconnecting,
		OnFailure:      s.handleFailure,
	}, logger)
	s.turns = NewTurnController(s.machine, recorder, speaker, s.link, opts.Turns, logger)
	return s
}

// Start connects to the server. It only acts from Idle.
func (s *Session) Start() error {
	endpoint, err := Endpoint(s.opts.ServerURL, s.userID)
	if err != nil {
		return err
	}
	if !s.machine.Transition(Connecting, Idle) {
		return fmt.Errorf("client: cannot start from %s", s.machine.State())
	}
	return s.link.Open(endpoint)
}

// Reconnect retries after a terminal connectivity failure with a fresh
// budget. Manual action is the only way out of that state.
func (s *Session) Reconnect() error {
	endpoint, err := Endpoint(s.opts.ServerURL, s.userID)
	if err != nil {
		return err
	}
	if !s.machine.Transition(Connecting, Disconnected) {
		return nil
	}
	return s.link.Open(endpoint)
}

// ToggleRecording stops a capture in progress or starts one when connected.
func (s *Session) ToggleRecording() error {
	if s.turns.Capturing() {
		return s.turns.StopCapture()
	}
	return s.turns.StartCapture()
}

func (s *Session) StartCapture() error { return s.turns.StartCapture() }
func (s *Session) StopCapture() error { return s.turns.StopCapture() }

func (s *Session) State() State { return s.machine.State() }
func (s *Session) History() []Entry { return s.machine.History() }
func (s *Session) UserID() string { return s.userID }
func (s *Session) Retries() int { return s.link.Retries() }
func (s *Session) Drain() { s.machine.Drain() }

// End terminates the session: timers are cancelled, capture and playback
// stop, the link closes without reconnecting, history is cleared and the
// observer is detached. Later calls do nothing.
func (s *Session) End() {
	s.endOnce.Do(func() {
		s.machine.Transition(Terminated)
		s.turns.Cleanup()
		s.link.Close(true)
		s.machine.ClearHistory()
		s.machine.Shutdown()
		s.logger.Info("session ended")
	})
}

func (s *Session) handleOpen() {
	if s.machine.Transition(Connected, Connecting) {
		s.logger.Info("connected")
	}
}

func (s *Session) handleMessage(data []byte) {
	if err := s.turns.HandleInbound(data); err != nil {
		s.logger.WithError(err).Warn("inbound frame")
	}
}

func (s *Session) handleClose(err error) {
	s.turns.Abandon()
	s.machine.Transition(Disconnected, Connecting, Connected, Recording, Processing, Speaking)
	s.logger.WithError(err).Warn("connection lost")
}

func (s *Session) handleReconnecting(attempt int) {
	if !s.machine.Transition(Connecting, Disconnected) {
		return
	}
	s.machine.Notify(Notice{
		Kind:    NoticeReconnecting,
		Message: fmt.Sprintf("Connection lost. Reconnecting (%d/%d)...", attempt, s.maxRetries()),
	})
}

func (s *Session) handleFailure(err error) {
	s.machine.Transition(Disconnected, Connecting)
	s.machine.Notify(Notice{
		Kind:    NoticeConnectivity,
		Message: "Could not reach the server. Check your connection and try again.",
		Fatal:   true,
		Err:     err,
	})
}

func (s *Session) maxRetries() int {
	if s.opts.Policy.MaxRetries > 0 {
		return s.opts.Policy.MaxRetries
	}
	return transport.DefaultMaxRetries
}

// Endpoint appends the user id to the server URL.
func Endpoint(serverURL, userID string) (string, error) {
	if userID == "" {
		return "", fmt.Errorf("client: empty user id")
	}
	u, err := url.Parse(serverURL)
	if err != nil {
		return "", fmt.Errorf("client: parse server url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return "", fmt.Errorf("client: server url must be ws:// or wss://, got %q", serverURL)
	}
	q := u.Query()
	q.Set("user_id", userID)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
