package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/agentx/aitalk/internal/models"
	"github.com/agentx/aitalk/internal/repository"
)

// SummaryRepository implements repository.SummaryRepository
type SummaryRepository struct {
	base
}

// NewSummaryRepository creates a new SQL summary repository
func NewSummaryRepository(db *sqlx.DB) *SummaryRepository {
	return &SummaryRepository{base: newBase(db)}
}

var _ repository.SummaryRepository = (*SummaryRepository)(nil)

type summaryRow struct {
	ID           int64         `db:"id"`
	UserID       string        `db:"user_id"`
	SummaryText  string        `db:"summary_text"`
	TurnCount    int           `db:"turn_count"`
	CreatedAt    models.DBTime `db:"created_at"`
	CoveredUntil models.DBTime `db:"covered_until"`
}

func (r summaryRow) model() models.SummaryRecord {
	return models.SummaryRecord{
		ID:           r.ID,
		UserID:       r.UserID,
		SummaryText:  r.SummaryText,
		TurnCount:    r.TurnCount,
		CreatedAt:    r.CreatedAt.Time,
		CoveredUntil: r.CoveredUntil.Time,
	}
}

// Latest retrieves the newest summary for a user
func (r *SummaryRepository) Latest(ctx context.Context, userID string) (*models.SummaryRecord, error) {
	query := `
		SELECT id, user_id, summary_text, turn_count, created_at, covered_until
		FROM summaries
		WHERE user_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`

	var row summaryRow
	err := r.db.GetContext(ctx, &row, r.rebind(query), userID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch latest summary: %w", err)
	}

	record := row.model()
	return &record, nil
}

// AppendIfDue inserts a summary unless one already exists after cutoff
func (r *SummaryRepository) AppendIfDue(ctx context.Context, record *models.SummaryRecord, cutoff time.Time) (bool, error) {
	if record.CreatedAt.IsZero() {
		record.CreatedAt = r.now()
	}
	record.CreatedAt = record.CreatedAt.UTC()
	if record.CoveredUntil.IsZero() {
		record.CoveredUntil = record.CreatedAt
	}
	record.CoveredUntil = record.CoveredUntil.UTC()

	var query string
	switch r.dialect {
	case dialectPostgres:
		query = `
			INSERT INTO summaries (user_id, summary_text, turn_count, created_at, covered_until)
			SELECT ?::varchar, ?::text, ?::integer, ?::timestamptz, ?::timestamptz
			WHERE NOT EXISTS (SELECT 1 FROM summaries WHERE user_id = ? AND created_at > ?)`
	case dialectMySQL:
		query = `
			INSERT INTO summaries (user_id, summary_text, turn_count, created_at, covered_until)
			SELECT ?, ?, ?, ?, ? FROM DUAL
			WHERE NOT EXISTS (SELECT 1 FROM summaries WHERE user_id = ? AND created_at > ?)`
	default:
		query = `
			INSERT INTO summaries (user_id, summary_text, turn_count, created_at, covered_until)
			SELECT ?, ?, ?, ?, ?
			WHERE NOT EXISTS (SELECT 1 FROM summaries WHERE user_id = ? AND created_at > ?)`
	}

	id, ok, err := r.insertReturningID(ctx, r.db, query,
		record.UserID,
		record.SummaryText,
		record.TurnCount,
		r.timeArg(record.CreatedAt),
		r.timeArg(record.CoveredUntil),
		record.UserID,
		r.timeArg(cutoff),
	)
	if err != nil {
		return false, fmt.Errorf("failed to save summary: %w", err)
	}
	if ok {
		record.ID = id
	}
	return ok, nil
}

// ListByUser retrieves a user's summaries, newest first
func (r *SummaryRepository) ListByUser(ctx context.Context, userID string, limit int) ([]models.SummaryRecord, error) {
	if limit <= 0 {
		limit = 20
	}

	query := `
		SELECT id, user_id, summary_text, turn_count, created_at, covered_until
		FROM summaries
		WHERE user_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`

	var rows []summaryRow
	if err := r.db.SelectContext(ctx, &rows, r.rebind(query), userID, limit); err != nil {
		return nil, fmt.Errorf("failed to fetch summaries: %w", err)
	}

	records := make([]models.SummaryRecord, 0, len(rows))
	for _, row := range rows {
		records = append(records, row.model())
	}
	return records, nil
}
