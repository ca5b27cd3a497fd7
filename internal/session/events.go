package session

import "github.com/google/uuid"

// EventKind distinguishes the notifications a session emits.
type EventKind string

const (
	EventState    EventKind = "state"
	EventProgress EventKind = "progress"
	EventNotice   EventKind = "notice"
)

// NoticeLevel is the severity of a transient user-facing message.
type NoticeLevel string

const (
	NoticeInfo    NoticeLevel = "info"
	NoticeSuccess NoticeLevel = "success"
	NoticeError   NoticeLevel = "error"
)

// Notice is a transient message for the user; it never changes session state.
type Notice struct {
	Level   NoticeLevel `json:"level"`
	Message string      `json:"message"`
}

// Event is delivered to observers after the session lock is released.
// Snapshot is set for EventState, Progress for EventProgress, Notice for EventNotice.
type Event struct {
	Kind     EventKind
	Session  uuid.UUID
	Snapshot Snapshot
	Progress int
	Notice   *Notice
}

// Observer receives session events synchronously; it must not block.
type Observer func(Event)
