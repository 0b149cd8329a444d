package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// AppendTurn inserts one turn into the append-only conversation log. When
// t.CreatedAt is zero the current time is used. Deduplication of duplicate
// deliveries is the channel adapter's concern, not the log's.
func (s *Store) AppendTurn(ctx context.Context, t Turn) error {
	if t.ConversationID == "" || t.UserID == "" || t.ChannelID == "" {
		return fmt.Errorf("store: turn requires conversation, user, and channel ids")
	}
	if t.Role != RoleUser && t.Role != RoleAssistant {
		return fmt.Errorf("store: invalid turn role %q", t.Role)
	}

	createdAt := t.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO chat_messages (conversation_id, user_id, channel_id, role, content, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		t.ConversationID, t.UserID, t.ChannelID, t.Role, t.Content,
		createdAt.UTC().Format(timeFormat),
	)
	if err != nil {
		return fmt.Errorf("store: append turn: %w", err)
	}
	return nil
}

// LastTurn returns the conversation ID and timestamp of the most recent turn
// for a (user, channel) pair. When the pair has no turns at all, it returns
// an empty conversation ID and a zero time with no error.
func (s *Store) LastTurn(ctx context.Context, userID, channelID string) (string, time.Time, error) {
	var (
		conversationID string
		createdAt      string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT conversation_id, created_at
		FROM chat_messages
		WHERE user_id = ? AND channel_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT 1`,
		userID, channelID,
	).Scan(&conversationID, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return "", time.Time{}, nil
	}
	if err != nil {
		return "", time.Time{}, fmt.Errorf("store: last turn: %w", err)
	}

	at, err := time.Parse(timeFormat, createdAt)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("store: parse turn timestamp: %w", err)
	}
	return conversationID, at, nil
}

// LoadRecent returns the last limit turns of a conversation in chronological
// order (oldest of the window first).
func (s *Store) LoadRecent(ctx context.Context, conversationID string, limit int) ([]Turn, error) {
	if limit <= 0 {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, conversation_id, user_id, channel_id, role, content, created_at
		FROM chat_messages
		WHERE conversation_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?`,
		conversationID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("store: load recent turns: %w", err)
	}
	defer rows.Close()

	turns, err := collectTurns(rows)
	if err != nil {
		return nil, err
	}

	// The query returns newest first; reverse into chronological order.
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
	return turns, nil
}

// ConversationTurns returns every turn of a conversation in chronological
// order. Used by the memory manager when summarizing an expired conversation.
func (s *Store) ConversationTurns(ctx context.Context, conversationID string) ([]Turn, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, conversation_id, user_id, channel_id, role, content, created_at
		FROM chat_messages
		WHERE conversation_id = ?
		ORDER BY created_at ASC, id ASC`,
		conversationID,
	)
	if err != nil {
		return nil, fmt.Errorf("store: load conversation turns: %w", err)
	}
	defer rows.Close()

	return collectTurns(rows)
}

func collectTurns(rows *sql.Rows) ([]Turn, error) {
	var turns []Turn
	for rows.Next() {
		var (
			t         Turn
			createdAt string
		)
		if err := rows.Scan(&t.ID, &t.ConversationID, &t.UserID, &t.ChannelID, &t.Role, &t.Content, &createdAt); err != nil {
			return nil, fmt.Errorf("store: scan turn: %w", err)
		}
		at, err := time.Parse(timeFormat, createdAt)
		if err != nil {
			return nil, fmt.Errorf("store: parse turn timestamp: %w", err)
		}
		t.CreatedAt = at
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate turns: %w", err)
	}
	return turns, nil
}
