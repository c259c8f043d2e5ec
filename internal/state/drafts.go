package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Draft returns the unsent compose text for a conversation.
func (s *Store) Draft(ctx context.Context, conversationID string) (string, error) {
	if s == nil || s.db == nil {
		return "", ErrStoreClosed
	}
	var body string
	err := s.db.QueryRowContext(ctx,
		`SELECT body FROM drafts WHERE conversation_id = ?`,
		strings.TrimSpace(conversationID),
	).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to load draft: %w", err)
	}
	return body, nil
}

// SaveDraft stores body for conversationID. A blank body deletes the draft.
func (s *Store) SaveDraft(ctx context.Context, conversationID, body string) error {
	conversationID = strings.TrimSpace(conversationID)
	if conversationID == "" {
		return nil
	}
	if strings.TrimSpace(body) == "" {
		if _, err := s.exec(ctx, `DELETE FROM drafts WHERE conversation_id = ?`, conversationID); err != nil {
			return fmt.Errorf("failed to delete draft: %w", err)
		}
		return nil
	}
	_, err := s.exec(ctx, `
		INSERT INTO drafts (conversation_id, body, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(conversation_id) DO UPDATE SET body = excluded.body, updated_at = excluded.updated_at
	`, conversationID, body, formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("failed to save draft: %w", err)
	}
	return nil
}
