package models

import "time"

// MemoryKind distinguishes verbatim session logs from condensed ones.
type MemoryKind string

const (
	MemoryUtterance MemoryKind = "utterance"
	MemorySummary   MemoryKind = "summary"
)

// Memory is a long-term recollection of a past session.
type Memory struct {
	ID        string     `json:"id"`
	UserID    string     `json:"user_id"`
	Text      string     `json:"text"`
	Kind      MemoryKind `json:"kind"`
	CreatedAt time.Time  `json:"created_at"`
	Score     float32    `json:"score,omitempty"`
}
