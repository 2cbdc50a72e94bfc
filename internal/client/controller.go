package client

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/agentx/aitalk/internal/protocol"
)

const (
	DefaultSilenceTimeout = 10 * time.Second
	DefaultRestartDelay   = 500 * time.Millisecond
)

// Recorder captures one utterance at a time.
type Recorder interface {
	Start() error
	// Stop ends the capture and returns what was recorded. Stopping a
	// recorder that is not running returns an error and no audio.
	Stop() ([]byte, error)
}

// Speaker plays replies aloud. Speak returns once playback has started;
// onDone is called exactly once, with completed=false when playback was
// cancelled or failed.
type Speaker interface {
	Speak(text string, onDone func(completed bool)) error
	Cancel()
}

// Sender writes an encoded frame to the server.
type Sender interface {
	Send(data []byte) error
}

type TurnConfig struct {
	SilenceTimeout time.Duration
	RestartDelay   time.Duration
}

// TurnController owns capture, playback and the timers around a turn.
// Timers carry the token of the turn or reply that armed them and do
// nothing if it is no longer current when they fire.
type TurnController struct {
	machine  *Machine
	recorder Recorder
	speaker  Speaker
	sender   Sender
	cfg      TurnConfig
	logger   logrus.FieldLogger

	mu        sync.Mutex
	capturing bool
	denied    bool
	turn      uint64
	reply     uint64
	silence   *time.Timer
	restart   *time.Timer
	closed    bool
}

func NewTurnController(machine *Machine, recorder Recorder, speaker Speaker, sender Sender, cfg TurnConfig, logger logrus.FieldLogger) *TurnController {
	if cfg.SilenceTimeout <= 0 {
		cfg.SilenceTimeout = DefaultSilenceTimeout
	}
	if cfg.RestartDelay <= 0 {
		cfg.RestartDelay = DefaultRestartDelay
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &TurnController{
		machine:  machine,
		recorder: recorder,
		speaker:  speaker,
		sender:   sender,
		cfg:      cfg,
		logger:   logger.WithField("component", "turns"),
	}
}

// StartCapture begins recording. Outside Connected it does nothing. Once
// the recorder has refused to start, every later call fails without
// touching it again.
func (c *TurnController) StartCapture() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || c.capturing {
		return nil
	}
	if c.denied {
		return ErrPermissionDenied
	}
	if !c.machine.Transition(Recording, Connected) {
		return nil
	}
	c.stopTimer(&c.restart)

	if err := c.recorder.Start(); err != nil {
		c.denied = true
		c.stopTimer(&c.restart)
		c.machine.Transition(Connected, Recording)
		c.machine.Notify(Notice{
			Kind:    NoticePermissionDenied,
			Message: "Microphone access is not available. Check the audio device and start a new session.",
			Fatal:   true,
			Err:     err,
		})
		c.logger.WithError(err).Warn("capture failed to start")
		return fmt.Errorf("%w: %v", ErrPermissionDenied, err)
	}

	c.capturing = true
	c.turn++
	token := c.turn
	c.silence = time.AfterFunc(c.cfg.SilenceTimeout, func() {
		c.finishCapture(token, true)
	})
	return nil
}

// StopCapture ends the current capture and sends the audio. Calling it when
// nothing is being captured is a no-op.
func (c *TurnController) StopCapture() error {
	return c.finishCapture(0, false)
}

func (c *TurnController) finishCapture(token uint64, silent bool) error {
	c.mu.Lock()
	if !c.capturing || (silent && token != c.turn) {
		c.mu.Unlock()
		return nil
	}
	c.capturing = false
	c.stopTimer(&c.silence)
	moved := c.machine.Transition(Processing, Recording)
	if moved && silent {
		c.machine.Notify(Notice{Kind: NoticeSilence, Message: "Conversation ended due to silence."})
	}
	c.mu.Unlock()

	audio, err := c.recorder.Stop()
	if !moved {
		// The turn was abandoned while stopping; drop the audio.
		return nil
	}
	if err == nil && len(audio) == 0 {
		err = ErrEmptyCapture
	}
	if err != nil {
		c.machine.Transition(Connected, Processing)
		c.machine.Notify(Notice{Kind: NoticeSendFailed, Message: "Nothing was recorded. Please try again.", Err: err})
		return err
	}

	data, err := protocol.Encode(protocol.AudioFrame(audio))
	if err == nil {
		err = c.sender.Send(data)
	}
	if err != nil {
		c.machine.Transition(Connected, Processing)
		c.machine.Notify(Notice{Kind: NoticeSendFailed, Message: "Your message could not be sent.", Err: err})
		c.logger.WithError(err).Warn("send audio")
		return err
	}

	c.logger.WithField("bytes", len(audio)).Debug("audio sent")
	return nil
}

// HandleInbound applies one frame from the server. Unknown frame types are
// ignored; malformed frames are logged and dropped.
func (c *TurnController) HandleInbound(data []byte) error {
	frame, err := protocol.Decode(data)
	if errors.Is(err, protocol.ErrUnknownType) {
		c.logger.WithField("type", frame.Type).Debug("ignoring frame")
		return nil
	}
	if err != nil {
		c.logger.WithError(err).Warn("dropping malformed frame")
		return err
	}

	switch frame.Type {
	case protocol.TypeUserMessage:
		c.machine.Record(RoleUser, frame.Content)
	case protocol.TypeAIMessage:
		c.machine.Record(RoleAI, frame.Content)
		c.speak(frame.Content)
	case protocol.TypeError:
		c.machine.Notify(Notice{Kind: NoticeServer, Message: frame.Content})
		c.machine.Transition(Connected, Processing)
	default:
		c.logger.WithField("type", frame.Type).Debug("unexpected frame from server")
	}
	return nil
}

// speak plays a reply when the session is waiting for one or idle on a live
// link. A reply that arrives while recording only lands in the history.
func (c *TurnController) speak(text string) {
	c.mu.Lock()
	if c.closed || !c.machine.Transition(Speaking, Processing, Connected) {
		c.mu.Unlock()
		return
	}
	c.stopTimer(&c.restart)
	c.reply++
	token := c.reply
	c.mu.Unlock()

	err := c.speaker.Speak(text, func(completed bool) {
		c.speechDone(token, completed)
	})
	if err != nil {
		c.logger.WithError(err).Warn("playback failed")
		c.speechDone(token, false)
	}
}

func (c *TurnController) speechDone(token uint64, completed bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if token != c.reply || c.closed {
		return
	}
	if !c.machine.Transition(Connected, Speaking) || !completed || c.denied {
		return
	}
	c.stopTimer(&c.restart)
	c.restart = time.AfterFunc(c.cfg.RestartDelay, func() {
		c.mu.Lock()
		current := token == c.reply && !c.closed
		c.mu.Unlock()
		if !current {
			return
		}
		if err := c.StartCapture(); err != nil {
			c.logger.WithError(err).Debug("automatic capture restart")
		}
	})
}

// Abandon drops the turn in progress after the link went away: timers are
// cancelled and any capture is stopped without sending. Playback is left to
// finish but will not restart capture.
func (c *TurnController) Abandon() {
	c.abandon(false)
}

// Cleanup releases capture and playback for good. The recorder is always
// asked to stop, whether or not a capture is known to be running. It is
// safe to call more than once.
func (c *TurnController) Cleanup() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()

	c.abandon(true)
	c.speaker.Cancel()
}

func (c *TurnController) abandon(always bool) {
	c.mu.Lock()
	capturing := c.capturing
	c.capturing = false
	c.turn++
	c.reply++
	c.stopTimer(&c.silence)
	c.stopTimer(&c.restart)
	c.mu.Unlock()

	if capturing || always {
		if _, err := c.recorder.Stop(); err != nil {
			c.logger.WithError(err).Debug("stop capture")
		}
	}
}

func (c *TurnController) Capturing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.capturing
}

// stopTimer cancels *t. Callers hold c.mu.
func (c *TurnController) stopTimer(t **time.Timer) {
	if *t != nil {
		(*t).Stop()
		*t = nil
	}
}
