package protocol

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncode_AudioFrameIsBase64(t *testing.T) {
	data, err := Encode(AudioFrame([]byte("RIFF....WAVE")))
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"audio_data","audio":"UklGRi4uLi5XQVZF"}`, string(data))

	frame, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, TypeAudioData, frame.Type)
	assert.Equal(t, []byte("RIFF....WAVE"), frame.Audio)
}

func TestEncode_TextFrames(t *testing.T) {
	data, err := Encode(AIMessage("안녕하세요"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"ai_message","content":"안녕하세요"}`, string(data))

	_, err = Encode(Frame{Type: "ping"})
	assert.ErrorIs(t, err, ErrUnknownType)

	_, err = Encode(Frame{Type: TypeAudioData})
	assert.ErrorIs(t, err, ErrProtocol)
}

func TestDecode(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		want     Frame
		wantErr  error
		protoErr bool
	}{
		{
			name:  "user message",
			input: `{"type":"user_message","content":"hello"}`,
			want:  Frame{Type: TypeUserMessage, Content: "hello"},
		},
		{
			name:  "error frame",
			input: `{"type":"error","content":"upstream failed"}`,
			want:  Frame{Type: TypeError, Content: "upstream failed"},
		},
		{
			name:  "extra fields are tolerated",
			input: `{"type":"ai_message","content":"hi","voice":"alloy"}`,
			want:  Frame{Type: TypeAIMessage, Content: "hi"},
		},
		{
			name:    "unknown type is ignorable",
			input:   `{"type":"typing","content":"..."}`,
			wantErr: ErrUnknownType,
		},
		{
			name:     "not json",
			input:    `{"type":`,
			protoErr: true,
		},
		{
			name:     "missing type",
			input:    `{"content":"hi"}`,
			protoErr: true,
		},
		{
			name:     "audio_data without audio",
			input:    `{"type":"audio_data"}`,
			protoErr: true,
		},
		{
			name:     "audio_data with bad base64",
			input:    `{"type":"audio_data","audio":"%%%"}`,
			protoErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Decode([]byte(tt.input))
			switch {
			case tt.protoErr:
				require.Error(t, err)
				var pe *ProtocolError
				assert.True(t, errors.As(err, &pe))
				assert.ErrorIs(t, err, ErrProtocol)
				assert.NotErrorIs(t, err, ErrUnknownType)
			case tt.wantErr != nil:
				assert.ErrorIs(t, err, tt.wantErr)
				assert.NotErrorIs(t, err, ErrProtocol)
			default:
				require.NoError(t, err)
				assert.Equal(t, tt.want, got)
			}
		})
	}
}
