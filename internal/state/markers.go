package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ReadMarker is the last message the user has seen in a conversation.
type ReadMarker struct {
	ConversationID string
	MessageID      string
	MessageAt      time.Time
	UpdatedAt      time.Time
}

// ReadMarker returns the marker for conversationID. ok is false when none
// has been stored.
func (s *Store) ReadMarker(ctx context.Context, conversationID string) (ReadMarker, bool, error) {
	if s == nil || s.db == nil {
		return ReadMarker{}, false, ErrStoreClosed
	}
	conversationID = strings.TrimSpace(conversationID)
	if conversationID == "" {
		return ReadMarker{}, false, nil
	}

	var messageID, messageAt, updatedAt string
	err := s.db.QueryRowContext(ctx,
		`SELECT message_id, message_at, updated_at FROM read_markers WHERE conversation_id = ?`,
		conversationID,
	).Scan(&messageID, &messageAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ReadMarker{}, false, nil
	}
	if err != nil {
		return ReadMarker{}, false, fmt.Errorf("failed to load read marker: %w", err)
	}

	marker := ReadMarker{ConversationID: conversationID, MessageID: messageID}
	marker.MessageAt, _ = time.Parse(time.RFC3339Nano, messageAt)
	marker.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	return marker, true, nil
}

// SetReadMarker records messageID as read. The marker only moves forward:
// a message older than the stored one is ignored. It reports whether the
// marker changed.
func (s *Store) SetReadMarker(ctx context.Context, conversationID, messageID string, messageAt time.Time) (bool, error) {
	conversationID = strings.TrimSpace(conversationID)
	messageID = strings.TrimSpace(messageID)
	if conversationID == "" || messageID == "" {
		return false, nil
	}

	res, err := s.exec(ctx, `
		INSERT INTO read_markers (conversation_id, message_id, message_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(conversation_id) DO UPDATE SET
			message_id = excluded.message_id,
			message_at = excluded.message_at,
			updated_at = excluded.updated_at
		WHERE excluded.message_at > read_markers.message_at
	`, conversationID, messageID, formatTime(messageAt), formatTime(time.Now()))
	if err != nil {
		return false, fmt.Errorf("failed to save read marker: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, nil
	}
	return n > 0, nil
}

// formatTime renders t in a fixed-width UTC layout so stored values compare
// correctly as strings.
func formatTime(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000000000Z07:00")
}
