package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentx/aitalk/internal/config"
	"github.com/agentx/aitalk/internal/logging"
	"github.com/agentx/aitalk/internal/models"
)

type conversationFixture struct {
	svc         *ConversationService
	turns       *memTurns
	summaries   *memSummaries
	chat        *fakeCompleter
	transcriber *fakeTranscriber
	memory      *fakeMemory
}

func newConversationFixture() *conversationFixture {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	f := &conversationFixture{
		turns:       newMemTurns(clock),
		summaries:   &memSummaries{},
		chat:        &fakeCompleter{reply: "That sounds lovely!"},
		transcriber: &fakeTranscriber{text: "I walked in the park"},
		memory:      &fakeMemory{},
	}

	summarySvc := NewSummaryService(f.turns, f.summaries, f.chat, time.Hour, logging.Discard())
	summarySvc.now = func() time.Time { return now.Add(time.Minute) }

	cfg := config.ServerConfig{
		Greeting:           "Hello!",
		RetryPrompt:        "Could you say that again?",
		IgnoredTranscripts: []string{"시청해주셔서 감사합니다"},
		SystemPrompt:       "You are kind.",
	}
	f.svc = NewConversationService(f.turns, f.transcriber, f.chat, f.memory, summarySvc, cfg, logging.Discard())
	return f
}

func TestConversationService_HandleAudio(t *testing.T) {
	f := newConversationFixture()
	f.memory.recalled = []models.Memory{{Text: "The user likes parks."}}
	session := f.svc.StartSession("u1")

	res, err := f.svc.HandleAudio(context.Background(), session, []byte("wav"))
	require.NoError(t, err)
	assert.Equal(t, "I walked in the park", res.UserText)
	assert.Equal(t, "That sounds lovely!", res.Reply)

	stored := f.turns.all()
	require.Len(t, stored, 2)
	assert.Equal(t, models.DirectionInbound, stored[0].Direction)
	assert.Equal(t, "I walked in the park", stored[0].Text)
	assert.Equal(t, models.DirectionOutbound, stored[1].Direction)

	require.Len(t, f.chat.msgs, 1)
	system := f.chat.msgs[0][0].Content
	assert.Contains(t, system, "You are kind.")
	assert.Contains(t, system, "The user likes parks.")
	assert.Equal(t, []string{"User: I walked in the park", "AI: That sounds lovely!"}, session.Log())
}

func TestConversationService_UnintelligibleAudio(t *testing.T) {
	for _, transcript := range []string{"", "   ", "시청해주셔서 감사합니다."} {
		f := newConversationFixture()
		f.transcriber.text = transcript
		session := f.svc.StartSession("u1")

		res, err := f.svc.HandleAudio(context.Background(), session, []byte("wav"))
		require.NoError(t, err)
		assert.Empty(t, res.UserText)
		assert.Equal(t, "Could you say that again?", res.Reply)
		assert.Empty(t, f.turns.all())
		assert.Zero(t, f.chat.calls())
	}
}

func TestConversationService_UpstreamFailuresStoreNothing(t *testing.T) {
	t.Run("transcription", func(t *testing.T) {
		f := newConversationFixture()
		f.transcriber.err = errors.New("stt down")

		_, err := f.svc.HandleAudio(context.Background(), f.svc.StartSession("u1"), []byte("wav"))
		assert.ErrorIs(t, err, ErrUpstream)
		assert.Empty(t, f.turns.all())
	})

	t.Run("completion", func(t *testing.T) {
		f := newConversationFixture()
		f.chat.err = errors.New("llm down")

		_, err := f.svc.HandleAudio(context.Background(), f.svc.StartSession("u1"), []byte("wav"))
		assert.ErrorIs(t, err, ErrUpstream)
		assert.Empty(t, f.turns.all())
	})

	t.Run("store", func(t *testing.T) {
		f := newConversationFixture()
		f.turns.err = errors.New("db down")
		session := f.svc.StartSession("u1")

		_, err := f.svc.HandleAudio(context.Background(), session, []byte("wav"))
		assert.ErrorIs(t, err, ErrUpstream)
		assert.Empty(t, session.Log())
	})
}

func TestConversationService_RecallFailureIsNotFatal(t *testing.T) {
	f := newConversationFixture()
	f.memory.recallErr = errors.New("vector store unavailable")

	res, err := f.svc.HandleAudio(context.Background(), f.svc.StartSession("u1"), []byte("wav"))
	require.NoError(t, err)
	assert.Equal(t, "That sounds lovely!", res.Reply)
	assert.Contains(t, f.chat.msgs[0][0].Content, "No earlier conversations.")
}

func TestConversationService_EndSessionRemembersAndSummarizes(t *testing.T) {
	f := newConversationFixture()
	session := f.svc.StartSession("u1")

	_, err := f.svc.HandleAudio(context.Background(), session, []byte("wav"))
	require.NoError(t, err)

	f.svc.EndSession(session)
	f.svc.Wait()

	require.Len(t, f.memory.stored, 1)
	assert.Equal(t, session.Log(), f.memory.stored[0])
	assert.Equal(t, 1, f.summaries.count("u1"))
}

func TestConversationService_EndEmptySessionSkipsMemory(t *testing.T) {
	f := newConversationFixture()

	f.svc.EndSession(f.svc.StartSession("u1"))
	f.svc.Wait()

	assert.Empty(t, f.memory.stored)
	assert.Zero(t, f.summaries.count("u1"))
}
