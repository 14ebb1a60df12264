package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const interactionColumns = `id, created_at, profile, question, response_json, message, status,
	action_executed, notification_sent, error, duration_ms`

func (s *Store) SaveInteraction(i Interaction) error {
	status := i.Status
	if status == "" {
		status = "completed"
	}
	_, err := s.db.Exec(`
		INSERT INTO interactions (`+interactionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		i.ID, i.CreatedAt.UTC().Format(time.RFC3339), i.Profile, i.Question, i.ResponseJSON,
		i.Message, status, i.ActionExecuted, i.NotificationSent, i.Error, i.DurationMs,
	)
	return err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanInteraction(row scanner) (Interaction, error) {
	var i Interaction
	var createdAt string
	if err := row.Scan(&i.ID, &createdAt, &i.Profile, &i.Question, &i.ResponseJSON, &i.Message,
		&i.Status, &i.ActionExecuted, &i.NotificationSent, &i.Error, &i.DurationMs); err != nil {
		return Interaction{}, err
	}
	t, err := time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return Interaction{}, fmt.Errorf("parsing created_at: %w", err)
	}
	i.CreatedAt = t
	return i, nil
}

func (s *Store) GetInteraction(id string) (Interaction, error) {
	row := s.db.QueryRow(`SELECT `+interactionColumns+` FROM interactions WHERE id = ?`, id)
	i, err := scanInteraction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Interaction{}, ErrNotFound
	}
	return i, err
}

// GetRecentInteractions returns the newest interactions first. An empty
// profile matches every profile.
func (s *Store) GetRecentInteractions(profile string, limit int) ([]Interaction, error) {
	query := `SELECT ` + interactionColumns + ` FROM interactions`
	args := []any{}
	if profile != "" {
		query += ` WHERE profile = ?`
		args = append(args, profile)
	}
	query += ` ORDER BY created_at DESC, rowid DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Interaction
	for rows.Next() {
		i, err := scanInteraction(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, i)
	}
	return results, rows.Err()
}
