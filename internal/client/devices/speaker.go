package devices

import (
	"context"
	"errors"
	"os/exec"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/agentx/aitalk/internal/client"
	"github.com/agentx/aitalk/internal/speech"
)

const synthesisTimeout = 30 * time.Second

// PlaybackSpeaker synthesizes a reply and pipes the audio into the play
// command. One reply plays at a time; a new one cancels the previous.
type PlaybackSpeaker struct {
	synth  speech.Synthesizer
	argv   []string
	logger logrus.FieldLogger

	mu     sync.Mutex
	cancel context.CancelFunc
}

var _ client.Speaker = (*PlaybackSpeaker)(nil)

func NewPlaybackSpeaker(synth speech.Synthesizer, argv []string, logger logrus.FieldLogger) *PlaybackSpeaker {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &PlaybackSpeaker{synth: synth, argv: argv, logger: logger.WithField("component", "speaker")}
}

func (s *PlaybackSpeaker) Speak(text string, onDone func(completed bool)) error {
	if len(s.argv) == 0 {
		return errors.New("devices: no play command configured")
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.cancel = cancel
	s.mu.Unlock()

	go func() {
		defer cancel()
		err := s.play(ctx, text)
		if err != nil && ctx.Err() == nil {
			s.logger.WithError(err).Warn("playback failed")
		}
		if onDone != nil {
			onDone(err == nil && ctx.Err() == nil)
		}
	}()
	return nil
}

func (s *PlaybackSpeaker) play(ctx context.Context, text string) error {
	synthCtx, cancel := context.WithTimeout(ctx, synthesisTimeout)
	defer cancel()

	audio, err := s.synth.Synthesize(synthCtx, text)
	if err != nil {
		return err
	}
	defer audio.Close()

	cmd := exec.CommandContext(ctx, s.argv[0], s.argv[1:]...)
	cmd.Stdin = audio
	cmd.WaitDelay = time.Second
	return cmd.Run()
}

// Cancel stops the reply being played, if any.
func (s *PlaybackSpeaker) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
}
