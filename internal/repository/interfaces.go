package repository

import (
	"context"
	"time"

	"github.com/agentx/aitalk/internal/models"
)

// MaxAppendDuration bounds how long an Append may run after stamping its
// turns. A turn stamped before now-MaxAppendDuration is either committed or
// was never stored.
const MaxAppendDuration = 10 * time.Second

// TurnRepository is the durable, append-only conversation log.
type TurnRepository interface {
	// Append stores the non-empty sides of an exchange in one transaction,
	// inbound first. It gives up after MaxAppendDuration.
	Append(ctx context.Context, userID string, exchange models.Exchange) ([]models.Turn, error)
	// QueryAfter returns the user's turns with after < created_at <= until in
	// creation order. A nil after means from the beginning.
	QueryAfter(ctx context.Context, userID string, after *time.Time, until time.Time) ([]models.Turn, error)
	// ListByUser returns the newest turns for a user, oldest first.
	ListByUser(ctx context.Context, userID string, limit int) ([]models.Turn, error)
	// ListRecentUsers returns users with at least one turn after since.
	ListRecentUsers(ctx context.Context, since time.Time) ([]string, error)
}

// SummaryRepository stores generated reports.
type SummaryRepository interface {
	// Latest returns the newest summary for the user, or nil when none exists.
	Latest(ctx context.Context, userID string) (*models.SummaryRecord, error)
	// AppendIfDue inserts the record unless the user already has a summary
	// created after cutoff. It reports whether the row was written.
	AppendIfDue(ctx context.Context, record *models.SummaryRecord, cutoff time.Time) (bool, error)
	// ListByUser returns the user's summaries, newest first.
	ListByUser(ctx context.Context, userID string, limit int) ([]models.SummaryRecord, error)
}
