package models

import "time"

// SummaryRecord is a generated report over a user's turns. The most recent
// record per user anchors the next reporting window.
type SummaryRecord struct {
	ID          int64     `json:"id" db:"id"`
	UserID      string    `json:"user_id" db:"user_id"`
	SummaryText string    `json:"summary_text" db:"summary_text"`
	TurnCount   int       `json:"turn_count" db:"turn_count"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
	// CoveredUntil is the newest turn timestamp the report was allowed to
	// include. Zero for rows written without it.
	CoveredUntil time.Time `json:"covered_until,omitempty" db:"covered_until"`
}

// Anchor is the point after which turns have not been reported yet.
func (r SummaryRecord) Anchor() time.Time {
	if r.CoveredUntil.IsZero() {
		return r.CreatedAt.UTC()
	}
	return r.CoveredUntil.UTC()
}

// SummaryOutcome reports what a scheduler invocation did.
type SummaryOutcome string

const (
	SummaryCreated        SummaryOutcome = "created"
	SummarySkippedNotDue  SummaryOutcome = "skipped_not_due"
	SummarySkippedNoTurns SummaryOutcome = "skipped_no_turns"
)
