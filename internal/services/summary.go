package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/agentx/aitalk/internal/llm"
	"github.com/agentx/aitalk/internal/models"
	"github.com/agentx/aitalk/internal/repository"
)

// ErrUpstream marks failures of the completion provider or the store. The
// turn or summary in progress is abandoned and nothing is persisted.
var ErrUpstream = errors.New("upstream failure")

// DefaultSummaryWindow is the minimum spacing between two summaries of one user.
const DefaultSummaryWindow = time.Hour

const (
	// summarySettle keeps the newest turns out of a report until any
	// transaction that could still commit an older timestamp has finished.
	summarySettle = 2 * repository.MaxAppendDuration
	// summaryRunTimeout bounds a shared run once no caller owns it.
	summaryRunTimeout = 2 * time.Minute
)

const summaryPrompt = `Below is the user's recent conversation with the AI companion. Based on it, write a short report describing the user's state and the main topics of the conversation.

--- Conversation ---
%s
--------------------

Report:`

// SummaryResult reports what a summary run did.
type SummaryResult struct {
	Outcome models.SummaryOutcome  `json:"outcome"`
	Record  *models.SummaryRecord `json:"record,omitempty"`
}

// SummaryService decides per user whether a report is due and, if so,
// condenses the turns since the previous report into a new one.
type SummaryService struct {
	turns     repository.TurnRepository
	summaries repository.SummaryRepository
	completer llm.CompletionProvider
	window    time.Duration
	logger    logrus.FieldLogger
	now       func() time.Time
	inflight  singleflight.Group
}

func NewSummaryService(turns repository.TurnRepository, summaries repository.SummaryRepository, completer llm.CompletionProvider, window time.Duration, logger logrus.FieldLogger) *SummaryService {
	if window <= 0 {
		window = DefaultSummaryWindow
	}
	return &SummaryService{
		turns:     turns,
		summaries: summaries,
		completer: completer,
		window:    window,
		logger:    logger,
		now:       time.Now,
	}
}

// Run executes one summary attempt for userID. Concurrent calls for the same
// user share a single execution and its result. A caller that gives up does
// not cancel the execution for the others.
func (s *SummaryService) Run(ctx context.Context, userID string) (*SummaryResult, error) {
	if userID == "" {
		return nil, errors.New("user id is required")
	}

	ch := s.inflight.DoChan(userID, func() (any, error) {
		runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), summaryRunTimeout)
		defer cancel()
		return s.run(runCtx, userID)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*SummaryResult), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *SummaryService) run(ctx context.Context, userID string) (*SummaryResult, error) {
	log := s.logger.WithField("user_id", userID)

	now := s.now().UTC()
	cutoff := now.Add(-s.window)
	horizon := now.Add(-summarySettle)

	last, err := s.summaries.Latest(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUpstream, err)
	}

	var after *time.Time
	if last != nil {
		lastAt := last.CreatedAt.UTC()
		if lastAt.After(cutoff) {
			log.WithField("last_summary", lastAt).Debug("Summary not due yet")
			return &SummaryResult{Outcome: models.SummarySkippedNotDue}, nil
		}
		anchor := last.Anchor()
		after = &anchor
	}

	turns, err := s.turns.QueryAfter(ctx, userID, after, horizon)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUpstream, err)
	}
	if len(turns) == 0 {
		log.Debug("No new turns to summarize")
		return &SummaryResult{Outcome: models.SummarySkippedNoTurns}, nil
	}

	text, err := s.completer.Complete(ctx, RenderSummaryPrompt(turns))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to generate summary: %w", ErrUpstream, err)
	}

	record := &models.SummaryRecord{
		UserID:       userID,
		SummaryText:  text,
		TurnCount:    len(turns),
		CreatedAt:    now,
		CoveredUntil: horizon,
	}
	written, err := s.summaries.AppendIfDue(ctx, record, cutoff)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUpstream, err)
	}
	if !written {
		// Another process wrote a summary for this window first.
		log.Info("Summary already written by a concurrent run")
		return &SummaryResult{Outcome: models.SummarySkippedNotDue}, nil
	}

	log.WithFields(logrus.Fields{
		"summary_id": record.ID,
		"turns":      record.TurnCount,
	}).Info("Summary created")
	return &SummaryResult{Outcome: models.SummaryCreated, Record: record}, nil
}

// RenderSummaryPrompt lays the turns out chronologically, one labelled line each.
func RenderSummaryPrompt(turns []models.Turn) string {
	var b strings.Builder
	for i, t := range turns {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(t.String())
	}
	return fmt.Sprintf(summaryPrompt, b.String())
}
