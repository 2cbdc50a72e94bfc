package client

import (
	"errors"
	"time"
)

var (
	ErrPermissionDenied = errors.New("client: audio capture permission denied")
	ErrEmptyCapture     = errors.New("client: no audio captured")
)

type NoticeKind int

const (
	// NoticeConnectivity is raised once when reconnection gives up. Fatal.
	NoticeConnectivity NoticeKind = iota + 1
	// NoticeReconnecting reports an automatic reconnect attempt.
	NoticeReconnecting
	// NoticePermissionDenied reports that audio capture could not start.
	// Fatal; capture is not attempted again in the session.
	NoticePermissionDenied
	// NoticeServer carries the content of an error frame.
	NoticeServer
	// NoticeSilence reports that capture stopped after the silence timeout.
	NoticeSilence
	// NoticeSendFailed reports captured audio that could not be sent.
	NoticeSendFailed
)

var noticeNames = map[NoticeKind]string{
	NoticeConnectivity:     "connectivity_failure",
	NoticeReconnecting:     "reconnecting",
	NoticePermissionDenied: "permission_denied",
	NoticeServer:           "server_error",
	NoticeSilence:          "silence",
	NoticeSendFailed:       "send_failed",
}

func (k NoticeKind) String() string {
	if name, ok := noticeNames[k]; ok {
		return name
	}
	return "unknown"
}

// Notice is a user-facing message. Presentation is up to the observer.
type Notice struct {
	Kind    NoticeKind
	Message string
	Fatal   bool
	Err     error
}

type Role string

const (
	RoleUser Role = "user"
	RoleAI   Role = "ai"
)

// Entry is one line of the in-memory conversation history.
type Entry struct {
	Role Role
	Text string
	At   time.Time
}

// Observer receives everything the session exposes. Any field may be nil.
// Callbacks are delivered in order on one goroutine, never under a lock.
type Observer struct {
	OnStateChange   func(from, to State)
	OnNotice        func(Notice)
	OnHistory       func(Entry)
	OnRecordEnabled func(enabled bool)
}
