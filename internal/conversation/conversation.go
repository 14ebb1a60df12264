package conversation

import (
	"context"
	"errors"
	"fmt"
	"time"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"

	DefaultMaxMessages = 20
	DefaultMaxAge      = time.Hour
)

// ErrInvalidProfile is returned when a mutation is attempted without a profile.
var ErrInvalidProfile = errors.New("profile is required")

// Message is one stored turn. Timestamp is in epoch seconds.
type Message struct {
	Role      string `json:"role"`
	Content   string `json:"content"`
	Timestamp int64  `json:"timestamp"`
}

// Record is the rolling history of one profile.
type Record struct {
	Profile   string    `json:"-"`
	Messages  []Message `json:"messages"`
	LastUsed  int64     `json:"last_used"`
	CreatedAt int64     `json:"created_at"`
}

// Store persists per-profile conversation history.
type Store interface {
	// History returns the stored messages in insertion order, or an empty
	// slice when the profile has none.
	History(ctx context.Context, profile string) ([]Message, error)
	// AppendTurn appends one message, keeps the newest MaxMessages and
	// refreshes last_used. The record is created on first use.
	AppendTurn(ctx context.Context, profile, role, content string) error
	// PruneExpired removes every profile idle for longer than MaxAge.
	PruneExpired(ctx context.Context) (int, error)
	Reset(ctx context.Context, profile string) error
	ResetAll(ctx context.Context) error
	Profiles(ctx context.Context) ([]Record, error)
	Close() error
}

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Options are shared by every backend.
type Options struct {
	MaxMessages int
	MaxAge      time.Duration
	Clock       Clock
}

func (o Options) withDefaults() Options {
	if o.MaxMessages <= 0 {
		o.MaxMessages = DefaultMaxMessages
	}
	if o.MaxAge <= 0 {
		o.MaxAge = DefaultMaxAge
	}
	if o.Clock == nil {
		o.Clock = realClock{}
	}
	return o
}

func (o Options) now() int64 { return o.Clock.Now().Unix() }

func (o Options) maxAgeSeconds() int64 { return int64(o.MaxAge / time.Second) }

// append adds msg, drops the oldest messages beyond max and bumps LastUsed.
func (r *Record) append(msg Message, max int) {
	if r.CreatedAt == 0 {
		r.CreatedAt = msg.Timestamp
	}
	r.Messages = append(r.Messages, msg)
	if len(r.Messages) > max {
		trimmed := make([]Message, max)
		copy(trimmed, r.Messages[len(r.Messages)-max:])
		r.Messages = trimmed
	}
	r.LastUsed = msg.Timestamp
}

// expired reports whether the record has been idle strictly longer than maxAge.
func (r Record) expired(now, maxAge int64) bool {
	return now-r.LastUsed > maxAge
}

func validRole(role string) error {
	if role != RoleUser && role != RoleAssistant {
		return fmt.Errorf("invalid role %q", role)
	}
	return nil
}

func copyMessages(msgs []Message) []Message {
	out := make([]Message, len(msgs))
	copy(out, msgs)
	return out
}
