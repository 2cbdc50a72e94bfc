package sqlstore

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/agentx/aitalk/internal/models"
	"github.com/agentx/aitalk/internal/repository"
)

// TurnRepository implements repository.TurnRepository
type TurnRepository struct {
	base
}

// NewTurnRepository creates a new SQL turn repository
func NewTurnRepository(db *sqlx.DB) *TurnRepository {
	return &TurnRepository{base: newBase(db)}
}

var _ repository.TurnRepository = (*TurnRepository)(nil)

type turnRow struct {
	ID        int64         `db:"id"`
	UserID    string        `db:"user_id"`
	Direction string        `db:"direction"`
	Text      string        `db:"text"`
	CreatedAt models.DBTime `db:"created_at"`
}

func (r turnRow) model() models.Turn {
	return models.Turn{
		ID:        r.ID,
		UserID:    r.UserID,
		Direction: models.Direction(r.Direction),
		Text:      r.Text,
		CreatedAt: r.CreatedAt.Time,
	}
}

// Append stores an exchange as up to two turns
func (r *TurnRepository) Append(ctx context.Context, userID string, exchange models.Exchange) ([]models.Turn, error) {
	if userID == "" {
		return nil, fmt.Errorf("user id is required")
	}

	sides := []struct {
		direction models.Direction
		text      string
	}{
		{models.DirectionInbound, exchange.Inbound},
		{models.DirectionOutbound, exchange.Outbound},
	}

	ctx, cancel := context.WithTimeout(ctx, repository.MaxAppendDuration)
	defer cancel()

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	createdAt := r.now().UTC()

	query := `INSERT INTO turns (user_id, direction, text, created_at) VALUES (?, ?, ?, ?)`

	var turns []models.Turn
	for _, side := range sides {
		if side.text == "" {
			continue
		}
		id, _, err := r.insertReturningID(ctx, tx, query, userID, string(side.direction), side.text, r.timeArg(createdAt))
		if err != nil {
			return nil, fmt.Errorf("failed to insert %s turn: %w", side.direction, err)
		}
		turns = append(turns, models.Turn{
			ID:        id,
			UserID:    userID,
			Direction: side.direction,
			Text:      side.text,
			CreatedAt: createdAt,
		})
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit turns: %w", err)
	}

	return turns, nil
}

// QueryAfter retrieves turns in (after, until] in creation order
func (r *TurnRepository) QueryAfter(ctx context.Context, userID string, after *time.Time, until time.Time) ([]models.Turn, error) {
	query := `SELECT id, user_id, direction, text, created_at FROM turns WHERE user_id = ? AND created_at <= ?`
	args := []any{userID, r.timeArg(until)}
	if after != nil {
		query += ` AND created_at > ?`
		args = append(args, r.timeArg(*after))
	}
	query += ` ORDER BY created_at ASC, id ASC`

	var rows []turnRow
	if err := r.db.SelectContext(ctx, &rows, r.rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to query turns: %w", err)
	}

	turns := make([]models.Turn, 0, len(rows))
	for _, row := range rows {
		turns = append(turns, row.model())
	}
	return turns, nil
}

// ListByUser retrieves the newest turns for a user in chronological order
func (r *TurnRepository) ListByUser(ctx context.Context, userID string, limit int) ([]models.Turn, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, user_id, direction, text, created_at
		FROM turns
		WHERE user_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`

	var rows []turnRow
	if err := r.db.SelectContext(ctx, &rows, r.rebind(query), userID, limit); err != nil {
		return nil, fmt.Errorf("failed to list turns: %w", err)
	}

	turns := make([]models.Turn, len(rows))
	for i, row := range rows {
		turns[len(rows)-1-i] = row.model()
	}
	return turns, nil
}

// ListRecentUsers returns users who spoke after since
func (r *TurnRepository) ListRecentUsers(ctx context.Context, since time.Time) ([]string, error) {
	query := `SELECT DISTINCT user_id FROM turns WHERE created_at > ? ORDER BY user_id`

	var users []string
	if err := r.db.SelectContext(ctx, &users, r.rebind(query), r.timeArg(since)); err != nil {
		return nil, fmt.Errorf("failed to list recent users: %w", err)
	}
	return users, nil
}
