// Package protocol encodes and decodes the JSON frames exchanged over the
// conversation link.
package protocol

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
)

// FrameType discriminates frames on the wire.
type FrameType string

const (
	// TypeAudioData carries captured audio from client to server.
	TypeAudioData FrameType = "audio_data"
	// TypeUserMessage echoes the transcribed user speech back to the client.
	TypeUserMessage FrameType = "user_message"
	// TypeAIMessage carries the AI reply text.
	TypeAIMessage FrameType = "ai_message"
	// TypeError reports a failed turn to the client.
	TypeError FrameType = "error"
)

// Known reports whether the receiver understands t.
func (t FrameType) Known() bool {
	switch t {
	case TypeAudioData, TypeUserMessage, TypeAIMessage, TypeError:
		return true
	}
	return false
}

var (
	// ErrProtocol is wrapped by every decode failure that should be logged
	// and otherwise ignored.
	ErrProtocol = errors.New("protocol error")
	// ErrUnknownType is returned for well-formed frames of a type this
	// version does not handle. Callers drop such frames silently.
	ErrUnknownType = errors.New("unknown frame type")
)

// ProtocolError describes a malformed frame.
type ProtocolError struct {
	Reason string
	Err    error
}

func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("protocol error: %s: %v", e.Reason, e.Err)
	}
	return "protocol error: " + e.Reason
}

func (e *ProtocolError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrProtocol, e.Err}
	}
	return []error{ErrProtocol}
}

// Frame is one message on the link. Audio holds the decoded payload; on the
// wire it travels base64 encoded.
type Frame struct {
	Type    FrameType
	Content string
	Audio   []byte
}

type wireFrame struct {
	Type    FrameType `json:"type"`
	Content string    `json:"content,omitempty"`
	Audio   string    `json:"audio,omitempty"`
}

// AudioFrame builds an audio_data frame.
func AudioFrame(audio []byte) Frame {
	return Frame{Type: TypeAudioData, Audio: audio}
}

// UserMessage builds a user_message frame.
func UserMessage(text string) Frame {
	return Frame{Type: TypeUserMessage, Content: text}
}

// AIMessage builds an ai_message frame.
func AIMessage(text string) Frame {
	return Frame{Type: TypeAIMessage, Content: text}
}

// ErrorMessage builds an error frame.
func ErrorMessage(text string) Frame {
	return Frame{Type: TypeError, Content: text}
}

// Encode serializes a frame.
func Encode(f Frame) ([]byte, error) {
	if !f.Type.Known() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, f.Type)
	}
	if f.Type == TypeAudioData && len(f.Audio) == 0 {
		return nil, &ProtocolError{Reason: "audio_data frame without audio"}
	}

	w := wireFrame{Type: f.Type, Content: f.Content}
	if len(f.Audio) > 0 {
		w.Audio = base64.StdEncoding.EncodeToString(f.Audio)
	}
	return json.Marshal(w)
}

// Decode parses a frame. Malformed input yields a *ProtocolError; a
// well-formed frame of an unhandled type yields ErrUnknownType.
func Decode(data []byte) (Frame, error) {
	var w wireFrame
	if err := json.Unmarshal(data, &w); err != nil {
		return Frame{}, &ProtocolError{Reason: "invalid JSON", Err: err}
	}
	if w.Type == "" {
		return Frame{}, &ProtocolError{Reason: "missing type"}
	}
	if !w.Type.Known() {
		return Frame{Type: w.Type}, fmt.Errorf("%w: %q", ErrUnknownType, w.Type)
	}

	f := Frame{Type: w.Type, Content: w.Content}
	if w.Type == TypeAudioData {
		if w.Audio == "" {
			return Frame{}, &ProtocolError{Reason: "audio_data frame without audio"}
		}
		audio, err := base64.StdEncoding.DecodeString(w.Audio)
		if err != nil {
			return Frame{}, &ProtocolError{Reason: "audio is not valid base64", Err: err}
		}
		f.Audio = audio
	}
	return f, nil
}
