// Package client drives one spoken conversation with the server: the
// session state machine, the audio turn controller and the glue between
// them and the transport link.
package client

import "fmt"

type State int

const (
	Idle State = iota
	Connecting
	Connected
	Recording
	Processing
	Speaking
	Disconnected
	Terminated
)

var stateNames = map[State]string{
	Idle:         "idle",
	Connecting:   "connecting",
	Connected:    "connected",
	Recording:    "recording",
	Processing:   "processing",
	Speaking:     "speaking",
	Disconnected: "disconnected",
	Terminated:   "terminated",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Live reports whether a connection is established in this state.
func (s State) Live() bool {
	switch s {
	case Connected, Recording, Processing, Speaking:
		return true
	}
	return false
}

// RecordEnabled reports whether the record control should be usable.
func (s State) RecordEnabled() bool {
	return s == Connected || s == Recording
}

// allowed lists the legal successors of each state. Terminated has none.
var allowed = map[State][]State{
	Idle:         {Connecting, Terminated},
	Connecting:   {Connected, Disconnected, Terminated},
	Connected:    {Recording, Speaking, Disconnected, Terminated},
	Recording:    {Processing, Connected, Disconnected, Terminated},
	Processing:   {Speaking, Connected, Disconnected, Terminated},
	Speaking:     {Connected, Disconnected, Terminated},
	Disconnected: {Connecting, Terminated},
}

// CanTransition reports whether from → to is a legal move.
func CanTransition(from, to State) bool {
	for _, next := range allowed[from] {
		if next == to {
			return true
		}
	}
	return false
}
