package models

import (
	"fmt"
	"time"
)

// Direction tells who produced a turn.
type Direction string

const (
	// DirectionInbound is transcribed user speech.
	DirectionInbound Direction = "inbound"
	// DirectionOutbound is an AI reply.
	DirectionOutbound Direction = "outbound"
)

// Label is the speaker prefix used when turns are rendered into prompts.
func (d Direction) Label() string {
	switch d {
	case DirectionInbound:
		return "User"
	case DirectionOutbound:
		return "AI"
	default:
		return string(d)
	}
}

func (d Direction) Valid() bool {
	return d == DirectionInbound || d == DirectionOutbound
}

// Turn is one stored conversational message. Turns are append-only.
type Turn struct {
	ID        int64     `json:"id" db:"id"`
	UserID    string    `json:"user_id" db:"user_id"`
	Direction Direction `json:"direction" db:"direction"`
	Text      string    `json:"text" db:"text"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

func (t Turn) String() string {
	return fmt.Sprintf("%s: %s", t.Direction.Label(), t.Text)
}

// Exchange is one user utterance and the reply to it. Either side may be
// empty, in which case no turn is stored for it.
type Exchange struct {
	Inbound  string
	Outbound string
}
