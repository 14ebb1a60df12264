package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// ConversationMessage is one stored turn. Timestamp is in epoch seconds.
type ConversationMessage struct {
	Role      string
	Content   string
	Timestamp int64
}

type Conversation struct {
	Profile   string
	CreatedAt int64
	LastUsed  int64
	Messages  []ConversationMessage
}

// Interaction is the audit record of one processed request.
type Interaction struct {
	ID               string
	CreatedAt        time.Time
	Profile          string
	Question         string
	ResponseJSON     string
	Message          string
	Status           string // "completed" or "failed"
	ActionExecuted   bool
	NotificationSent bool
	Error            string
	DurationMs       int64
}
