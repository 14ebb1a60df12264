package conversation

import (
	"context"
	"errors"

	"github.com/kalambet/jarvis/internal/storage"
)

// ConversationDB is the subset of storage.Store used by SQLStore.
type ConversationDB interface {
	GetConversation(profile string) (storage.Conversation, error)
	AppendConversationMessage(profile string, msg storage.ConversationMessage, keep int) error
	DeleteConversationsIdleBefore(cutoff int64) (int, error)
	DeleteConversation(profile string) error
	DeleteAllConversations() error
	ListConversations() ([]storage.Conversation, error)
}

// SQLStore keeps conversations in the SQLite database. It does not own
// the database; Close is a no-op.
type SQLStore struct {
	db   ConversationDB
	opts Options
}

func NewSQLStore(db ConversationDB, opts Options) *SQLStore {
	return &SQLStore{db: db, opts: opts.withDefaults()}
}

func (s *SQLStore) History(_ context.Context, profile string) ([]Message, error) {
	c, err := s.db.GetConversation(profile)
	if errors.Is(err, storage.ErrNotFound) {
		return []Message{}, nil
	}
	if err != nil {
		return nil, err
	}
	return fromStorage(c).Messages, nil
}

func (s *SQLStore) AppendTurn(_ context.Context, profile, role, content string) error {
	if profile == "" {
		return ErrInvalidProfile
	}
	if err := validRole(role); err != nil {
		return err
	}
	msg := storage.ConversationMessage{Role: role, Content: content, Timestamp: s.opts.now()}
	return s.db.AppendConversationMessage(profile, msg, s.opts.MaxMessages)
}

func (s *SQLStore) PruneExpired(_ context.Context) (int, error) {
	return s.db.DeleteConversationsIdleBefore(s.opts.now() - s.opts.maxAgeSeconds())
}

func (s *SQLStore) Reset(_ context.Context, profile string) error {
	return s.db.DeleteConversation(profile)
}

func (s *SQLStore) ResetAll(_ context.Context) error {
	return s.db.DeleteAllConversations()
}

func (s *SQLStore) Profiles(_ context.Context) ([]Record, error) {
	convs, err := s.db.ListConversations()
	if err != nil {
		return nil, err
	}
	out := make([]Record, 0, len(convs))
	for _, c := range convs {
		out = append(out, fromStorage(c))
	}
	return out, nil
}

func (s *SQLStore) Close() error { return nil }

func fromStorage(c storage.Conversation) Record {
	rec := Record{
		Profile:   c.Profile,
		LastUsed:  c.LastUsed,
		CreatedAt: c.CreatedAt,
		Messages:  make([]Message, 0, len(c.Messages)),
	}
	for _, m := range c.Messages {
		rec.Messages = append(rec.Messages, Message{Role: m.Role, Content: m.Content, Timestamp: m.Timestamp})
	}
	return rec
}
