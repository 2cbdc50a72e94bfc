// Package memory keeps long-term, per-user conversation memories in a
// chromem-go vector store and recalls the most relevant ones for a new
// utterance.
package memory

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	chromem "github.com/philippgille/chromem-go"
	"github.com/sashabaranov/go-openai"
	"github.com/sirupsen/logrus"

	"github.com/agentx/aitalk/internal/config"
	"github.com/agentx/aitalk/internal/llm"
	"github.com/agentx/aitalk/internal/models"
)

const (
	// Sessions with fewer lines than this are stored verbatim.
	shortSessionLines = 4

	similarityWeight = 0.7
	recencyWeight    = 0.3
	recencyHorizon   = 30 * 24 * time.Hour

	metaKind      = "kind"
	metaCreatedAt = "created_at"
)

const rememberPrompt = `From the conversation below, write a memory of one or two concise sentences capturing the user's main interests, feelings and important information. Always keep proper nouns such as names of people and places.

--- Conversation ---
%s
--------------------

Memory:`

// Store is the long-term memory of every user.
type Store struct {
	db        *chromem.DB
	embed     chromem.EmbeddingFunc
	completer llm.ChatProvider
	logger    logrus.FieldLogger
	topK      int
	keep      int
	now       func() time.Time
	mu        sync.Mutex
}

// Open creates (or reopens) the persistent store under cfg.Dir/memory.
func Open(cfg config.MemoryConfig, embed chromem.EmbeddingFunc, completer llm.ChatProvider, logger logrus.FieldLogger) (*Store, error) {
	dir := filepath.Join(cfg.Dir, "memory")
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create memory dir: %w", err)
	}
	db, err := chromem.NewPersistentDB(dir, false)
	if err != nil {
		return nil, fmt.Errorf("open memory store: %w", err)
	}
	return New(db, cfg, embed, completer, logger), nil
}

// New wraps an existing chromem database.
func New(db *chromem.DB, cfg config.MemoryConfig, embed chromem.EmbeddingFunc, completer llm.ChatProvider, logger logrus.FieldLogger) *Store {
	topK, keep := cfg.TopK, cfg.Keep
	if topK <= 0 {
		topK = 5
	}
	if keep <= 0 || keep > topK {
		keep = min(3, topK)
	}
	return &Store{
		db:        db,
		embed:     embed,
		completer: completer,
		logger:    logger,
		topK:      topK,
		keep:      keep,
		now:       time.Now,
	}
}

// OpenAIEmbeddings returns an embedding function backed by the embeddings API.
func OpenAIEmbeddings(client *openai.Client, model string) chromem.EmbeddingFunc {
	return func(ctx context.Context, text string) ([]float32, error) {
		resp, err := client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
			Input: []string{text},
			Model: openai.EmbeddingModel(model),
		})
		if err != nil {
			return nil, fmt.Errorf("embedding failed: %w", err)
		}
		if len(resp.Data) == 0 {
			return nil, errors.New("embedding response is empty")
		}
		return resp.Data[0].Embedding, nil
	}
}

func collectionName(userID string) string {
	return "user_" + userID
}

func (s *Store) collection(userID string, create bool) (*chromem.Collection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	name := collectionName(userID)
	if col := s.db.GetCollection(name, s.embed); col != nil || !create {
		return col, nil
	}
	return s.db.CreateCollection(name, map[string]string{"user_id": userID}, s.embed)
}

// Remember stores one memory for a finished session. Short sessions are
// kept as the raw utterances; longer ones are condensed by the completion
// provider. An empty log stores nothing and returns nil.
func (s *Store) Remember(ctx context.Context, userID string, sessionLog []string) (*models.Memory, error) {
	if len(sessionLog) == 0 {
		return nil, nil
	}

	transcript := strings.Join(sessionLog, "\n")
	mem := &models.Memory{
		ID:        uuid.NewString(),
		UserID:    userID,
		CreatedAt: s.now().UTC(),
	}

	if len(sessionLog) < shortSessionLines {
		mem.Kind = models.MemoryUtterance
		mem.Text = transcript
	} else {
		text, err := s.completer.Chat(ctx, []llm.Message{llm.User(fmt.Sprintf(rememberPrompt, transcript))}, llm.Options{MaxTokens: 200, Temperature: 0.3})
		if err != nil {
			return nil, fmt.Errorf("failed to condense session: %w", err)
		}
		mem.Kind = models.MemorySummary
		mem.Text = text
	}

	col, err := s.collection(userID, true)
	if err != nil {
		return nil, fmt.Errorf("failed to open memory collection: %w", err)
	}

	err = col.AddDocument(ctx, chromem.Document{
		ID:      mem.ID,
		Content: mem.Text,
		Metadata: map[string]string{
			metaKind:      string(mem.Kind),
			metaCreatedAt: strconv.FormatInt(mem.CreatedAt.Unix(), 10),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to store memory: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"user_id": userID,
		"kind":    mem.Kind,
	}).Info("Stored session memory")
	return mem, nil
}

// Recall returns the user's memories most relevant to query, best first.
// Candidates are ranked by similarity blended with recency.
func (s *Store) Recall(ctx context.Context, userID, query string) ([]models.Memory, error) {
	col, err := s.collection(userID, false)
	if err != nil || col == nil {
		return nil, err
	}

	n := min(s.topK, col.Count())
	if n == 0 {
		return nil, nil
	}

	results, err := col.Query(ctx, query, n, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to query memories: %w", err)
	}

	now := s.now()
	memories := make([]models.Memory, 0, len(results))
	for _, r := range results {
		createdAt := now
		if sec, err := strconv.ParseInt(r.Metadata[metaCreatedAt], 10, 64); err == nil {
			createdAt = time.Unix(sec, 0).UTC()
		}
		memories = append(memories, models.Memory{
			ID:        r.ID,
			UserID:    userID,
			Text:      r.Content,
			Kind:      models.MemoryKind(r.Metadata[metaKind]),
			CreatedAt: createdAt,
			Score:     Score(r.Similarity, createdAt, now),
		})
	}

	sort.SliceStable(memories, func(i, j int) bool {
		return memories[i].Score > memories[j].Score
	})
	if len(memories) > s.keep {
		memories = memories[:s.keep]
	}
	return memories, nil
}

// Score blends similarity with a recency term that decays linearly to zero
// over thirty days.
func Score(similarity float32, createdAt, now time.Time) float32 {
	age := now.Sub(createdAt)
	recency := 1 - float64(age)/float64(recencyHorizon)
	if recency < 0 {
		recency = 0
	}
	if recency > 1 {
		recency = 1
	}
	return float32(similarityWeight*float64(similarity) + recencyWeight*recency)
}
