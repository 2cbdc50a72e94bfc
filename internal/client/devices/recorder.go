// Package devices connects the client to the local audio hardware through
// external commands: one that records to stdout and one that plays from
// stdin.
package devices

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/agentx/aitalk/internal/client"
)

var ErrNotRecording = errors.New("devices: not recording")

const stopGrace = 2 * time.Second

// CommandRecorder runs the record command for the length of one capture and
// returns everything it wrote to stdout.
type CommandRecorder struct {
	argv   []string
	logger logrus.FieldLogger

	mu     sync.Mutex
	cmd    *exec.Cmd
	out    *bytes.Buffer
	stderr *bytes.Buffer
	done   chan error
}

var _ client.Recorder = (*CommandRecorder)(nil)

func NewCommandRecorder(argv []string, logger logrus.FieldLogger) *CommandRecorder {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &CommandRecorder{argv: argv, logger: logger.WithField("component", "recorder")}
}

// Start launches the record command. A missing binary or a command that
// exits straight away is reported as a permission failure.
func (r *CommandRecorder) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cmd != nil {
		return errors.New("devices: already recording")
	}
	if len(r.argv) == 0 {
		return fmt.Errorf("%w: no record command configured", client.ErrPermissionDenied)
	}

	out, stderr := &bytes.Buffer{}, &bytes.Buffer{}
	cmd := exec.Command(r.argv[0], r.argv[1:]...)
	cmd.Stdout = out
	cmd.Stderr = stderr
	if err := cmd.Start(); err != nil {
		if errors.Is(err, exec.ErrNotFound) || errors.Is(err, os.ErrPermission) {
			return fmt.Errorf("%w: %v", client.ErrPermissionDenied, err)
		}
		return err
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	r.cmd, r.out, r.stderr, r.done = cmd, out, stderr, done
	return nil
}

// Stop interrupts the record command so it can finalize its output, then
// returns the captured bytes.
func (r *CommandRecorder) Stop() ([]byte, error) {
	r.mu.Lock()
	cmd, out, stderr, done := r.cmd, r.out, r.stderr, r.done
	r.cmd, r.out, r.stderr, r.done = nil, nil, nil, nil
	r.mu.Unlock()

	if cmd == nil {
		return nil, ErrNotRecording
	}

	_ = cmd.Process.Signal(os.Interrupt)

	var err error
	select {
	case err = <-done:
	case <-time.After(stopGrace):
		_ = cmd.Process.Kill()
		err = <-done
	}

	// Interrupted recorders usually exit non-zero; only an empty capture
	// counts as a failure.
	if out.Len() == 0 {
		r.logger.WithError(err).WithField("stderr", stderr.String()).Warn("capture produced no audio")
		if err == nil {
			return nil, client.ErrEmptyCapture
		}
		return nil, fmt.Errorf("%w: %v", client.ErrEmptyCapture, err)
	}
	return out.Bytes(), nil
}
