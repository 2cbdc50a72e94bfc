// Package speech adapts the OpenAI audio endpoints to speech-to-text and
// text-to-speech capabilities.
package speech

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/agentx/aitalk/internal/config"
)

// ErrEmptyAudio is returned when there is nothing to transcribe.
var ErrEmptyAudio = errors.New("empty audio payload")

// Transcriber converts an opaque audio payload to text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte) (string, error)
}

// Synthesizer renders text as playable audio.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) (io.ReadCloser, error)
}

// WhisperTranscriber implements Transcriber with the transcription API
type WhisperTranscriber struct {
	client   *openai.Client
	model    string
	language string
}

// NewWhisperTranscriber creates a transcriber for the configured model and
// language.
func NewWhisperTranscriber(client *openai.Client, cfg config.OpenAIConfig) *WhisperTranscriber {
	return &WhisperTranscriber{
		client:   client,
		model:    cfg.TranscriptionModel,
		language: cfg.Language,
	}
}

// Transcribe uploads the payload as a wav file and returns the trimmed text.
func (t *WhisperTranscriber) Transcribe(ctx context.Context, audio []byte) (string, error) {
	if len(audio) == 0 {
		return "", ErrEmptyAudio
	}

	resp, err := t.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    t.model,
		FilePath: "audio.wav",
		Reader:   bytes.NewReader(audio),
		Language: t.language,
	})
	if err != nil {
		return "", fmt.Errorf("transcription failed: %w", err)
	}
	return strings.TrimSpace(resp.Text), nil
}

// OpenAISynthesizer implements Synthesizer with the speech API
type OpenAISynthesizer struct {
	client *openai.Client
	model  string
	voice  string
}

// NewOpenAISynthesizer creates a synthesizer for the configured model and voice.
func NewOpenAISynthesizer(client *openai.Client, cfg config.OpenAIConfig) *OpenAISynthesizer {
	return &OpenAISynthesizer{
		client: client,
		model:  cfg.SpeechModel,
		voice:  cfg.Voice,
	}
}

// Synthesize returns an mp3 stream. The caller closes it.
func (s *OpenAISynthesizer) Synthesize(ctx context.Context, text string) (io.ReadCloser, error) {
	resp, err := s.client.CreateSpeech(ctx, openai.CreateSpeechRequest{
		Model:          openai.SpeechModel(s.model),
		Input:          text,
		Voice:          openai.SpeechVoice(s.voice),
		ResponseFormat: openai.SpeechResponseFormatMp3,
	})
	if err != nil {
		return nil, fmt.Errorf("speech synthesis failed: %w", err)
	}
	return resp, nil
}
