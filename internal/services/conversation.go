package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/agentx/aitalk/internal/config"
	"github.com/agentx/aitalk/internal/llm"
	"github.com/agentx/aitalk/internal/models"
	"github.com/agentx/aitalk/internal/repository"
	"github.com/agentx/aitalk/internal/speech"
)

// Session wrap-up runs detached from the connection, bounded by this timeout.
const wrapUpTimeout = 2 * time.Minute

// MemoryStore is the long-term memory used to personalise replies.
type MemoryStore interface {
	Remember(ctx context.Context, userID string, sessionLog []string) (*models.Memory, error)
	Recall(ctx context.Context, userID, query string) ([]models.Memory, error)
}

// TurnResult is the outcome of one audio turn. UserText is empty when the
// audio could not be understood and Reply asks the user to repeat.
type TurnResult struct {
	UserText string
	Reply    string
}

// ChatSession is the server-side state of one live connection.
type ChatSession struct {
	UserID    string
	StartedAt time.Time

	mu  sync.Mutex
	log []string
}

func (s *ChatSession) record(turns ...models.Turn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range turns {
		s.log = append(s.log, t.String())
	}
}

// Log returns the rendered lines of the session so far.
func (s *ChatSession) Log() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.log...)
}

// ConversationService runs the server half of a turn: speech to text, reply
// generation and persistence. It also wraps up sessions when they end.
type ConversationService struct {
	turns       repository.TurnRepository
	transcriber speech.Transcriber
	chat        llm.ChatProvider
	memory      MemoryStore
	summaries   *SummaryService
	cfg         config.ServerConfig
	logger      logrus.FieldLogger
	background  sync.WaitGroup
}

// NewConversationService creates the turn pipeline. memory and summaries may
// be nil.
func NewConversationService(
	turns repository.TurnRepository,
	transcriber speech.Transcriber,
	chat llm.ChatProvider,
	memory MemoryStore,
	summaries *SummaryService,
	cfg config.ServerConfig,
	logger logrus.FieldLogger,
) *ConversationService {
	return &ConversationService{
		turns:       turns,
		transcriber: transcriber,
		chat:        chat,
		memory:      memory,
		summaries:   summaries,
		cfg:         cfg,
		logger:      logger,
	}
}

// Greeting is the first line the AI speaks on a new connection.
func (s *ConversationService) Greeting() string {
	return s.cfg.Greeting
}

// StartSession begins tracking a connection for userID.
func (s *ConversationService) StartSession(userID string) *ChatSession {
	s.logger.WithField("user_id", userID).Info("Session started")
	return &ChatSession{UserID: userID, StartedAt: time.Now().UTC()}
}

// HandleAudio turns one captured utterance into a stored exchange and the
// reply to speak. Any upstream failure abandons the turn without storing it.
func (s *ConversationService) HandleAudio(ctx context.Context, session *ChatSession, audio []byte) (*TurnResult, error) {
	log := s.logger.WithField("user_id", session.UserID)

	userText, err := s.transcriber.Transcribe(ctx, audio)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUpstream, err)
	}
	if s.unintelligible(userText) {
		log.WithField("transcript", userText).Info("Ignoring unintelligible transcript")
		return &TurnResult{Reply: s.cfg.RetryPrompt}, nil
	}

	var memories []models.Memory
	if s.memory != nil {
		memories, err = s.memory.Recall(ctx, session.UserID, userText)
		if err != nil {
			// Replies still work without memories.
			log.WithError(err).Warn("Failed to recall memories")
		}
	}

	reply, err := s.chat.Chat(ctx, BuildChatMessages(s.cfg.SystemPrompt, memories, userText), llm.Options{})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUpstream, err)
	}

	stored, err := s.turns.Append(ctx, session.UserID, models.Exchange{Inbound: userText, Outbound: reply})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUpstream, err)
	}
	session.record(stored...)

	log.WithField("memories", len(memories)).Debug("Turn completed")
	return &TurnResult{UserText: userText, Reply: reply}, nil
}

func (s *ConversationService) unintelligible(text string) bool {
	text = strings.TrimSpace(text)
	if text == "" {
		return true
	}
	for _, phrase := range s.cfg.IgnoredTranscripts {
		if phrase != "" && strings.Contains(text, phrase) {
			return true
		}
	}
	return false
}

// EndSession stores a long-term memory of the session and triggers the
// summary check. Both run concurrently in the background; Wait blocks until
// they finish.
func (s *ConversationService) EndSession(session *ChatSession) {
	log := s.logger.WithField("user_id", session.UserID)
	lines := session.Log()

	s.background.Add(1)
	go func() {
		defer s.background.Done()

		ctx, cancel := context.WithTimeout(context.Background(), wrapUpTimeout)
		defer cancel()

		var g errgroup.Group
		if s.memory != nil && len(lines) > 0 {
			g.Go(func() error {
				if _, err := s.memory.Remember(ctx, session.UserID, lines); err != nil {
					log.WithError(err).Error("Failed to store session memory")
					return err
				}
				return nil
			})
		}
		if s.summaries != nil {
			g.Go(func() error {
				res, err := s.summaries.Run(ctx, session.UserID)
				if err != nil {
					log.WithError(err).Error("Summary run failed")
					return err
				}
				log.WithField("outcome", res.Outcome).Info("Summary run finished")
				return nil
			})
		}

		if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
			log.Warn("Session wrap-up incomplete")
			return
		}
		log.Info("Session wrapped up")
	}()
}

// Wait blocks until background session wrap-ups have finished.
func (s *ConversationService) Wait() {
	s.background.Wait()
}

// BuildChatMessages assembles the persona, recalled memories and the user's
// words into the chat request.
func BuildChatMessages(systemPrompt string, memories []models.Memory, userText string) []llm.Message {
	var b strings.Builder
	b.WriteString(systemPrompt)
	b.WriteString("\n\n# Memories from earlier conversations\n")
	if len(memories) == 0 {
		b.WriteString("No earlier conversations.")
	}
	for i, m := range memories {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString("- ")
		b.WriteString(m.Text)
	}
	return []llm.Message{llm.System(b.String()), llm.User(userText)}
}
