package storage

import (
	"database/sql"
	"errors"
	"fmt"
)

// GetConversation returns the stored conversation of profile, messages in
// insertion order, or ErrNotFound.
func (s *Store) GetConversation(profile string) (Conversation, error) {
	c := Conversation{Profile: profile}
	err := s.db.QueryRow(`SELECT created_at, last_used FROM conversations WHERE profile = ?`, profile).
		Scan(&c.CreatedAt, &c.LastUsed)
	if errors.Is(err, sql.ErrNoRows) {
		return Conversation{}, ErrNotFound
	}
	if err != nil {
		return Conversation{}, err
	}

	msgs, err := s.conversationMessages(profile)
	if err != nil {
		return Conversation{}, err
	}
	c.Messages = msgs
	return c, nil
}

func (s *Store) conversationMessages(profile string) ([]ConversationMessage, error) {
	rows, err := s.db.Query(`
		SELECT role, content, timestamp FROM conversation_messages
		WHERE profile = ? ORDER BY id ASC`, profile)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	msgs := []ConversationMessage{}
	for rows.Next() {
		var m ConversationMessage
		if err := rows.Scan(&m.Role, &m.Content, &m.Timestamp); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// AppendConversationMessage inserts msg, creating the conversation when
// needed, keeps only the newest keep messages and sets last_used to the
// message timestamp. Everything happens in one transaction.
func (s *Store) AppendConversationMessage(profile string, msg ConversationMessage, keep int) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`
		INSERT INTO conversations (profile, created_at, last_used) VALUES (?, ?, ?)
		ON CONFLICT(profile) DO UPDATE SET last_used = excluded.last_used`,
		profile, msg.Timestamp, msg.Timestamp,
	); err != nil {
		return fmt.Errorf("upserting conversation: %w", err)
	}

	if _, err := tx.Exec(`
		INSERT INTO conversation_messages (profile, role, content, timestamp) VALUES (?, ?, ?, ?)`,
		profile, msg.Role, msg.Content, msg.Timestamp,
	); err != nil {
		return fmt.Errorf("inserting message: %w", err)
	}

	if _, err := tx.Exec(`
		DELETE FROM conversation_messages
		WHERE profile = ? AND id NOT IN (
			SELECT id FROM conversation_messages WHERE profile = ? ORDER BY id DESC LIMIT ?
		)`, profile, profile, keep,
	); err != nil {
		return fmt.Errorf("truncating history: %w", err)
	}

	return tx.Commit()
}

// DeleteConversationsIdleBefore removes every conversation whose last_used
// is strictly older than cutoff (epoch seconds) and returns how many went.
func (s *Store) DeleteConversationsIdleBefore(cutoff int64) (int, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`
		DELETE FROM conversation_messages WHERE profile IN (
			SELECT profile FROM conversations WHERE last_used < ?
		)`, cutoff); err != nil {
		return 0, fmt.Errorf("deleting expired messages: %w", err)
	}
	res, err := tx.Exec(`DELETE FROM conversations WHERE last_used < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("deleting expired conversations: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), tx.Commit()
}

// DeleteConversation drops one profile's history. Missing profiles are not an error.
func (s *Store) DeleteConversation(profile string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM conversation_messages WHERE profile = ?`, profile); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM conversations WHERE profile = ?`, profile); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) DeleteAllConversations() error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM conversation_messages`); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM conversations`); err != nil {
		return err
	}
	return tx.Commit()
}

// ListConversations returns every conversation ordered by profile.
func (s *Store) ListConversations() ([]Conversation, error) {
	rows, err := s.db.Query(`SELECT profile, created_at, last_used FROM conversations ORDER BY profile ASC`)
	if err != nil {
		return nil, err
	}
	var convs []Conversation
	for rows.Next() {
		var c Conversation
		if err := rows.Scan(&c.Profile, &c.CreatedAt, &c.LastUsed); err != nil {
			rows.Close()
			return nil, err
		}
		convs = append(convs, c)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range convs {
		msgs, err := s.conversationMessages(convs[i].Profile)
		if err != nil {
			return nil, err
		}
		convs[i].Messages = msgs
	}
	return convs, nil
}
