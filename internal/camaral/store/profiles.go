package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// LoadProfile returns the profile for a (user, channel) pair. When no row
// exists it returns an empty profile (zero Summary) with no error.
func (s *Store) LoadProfile(ctx context.Context, userID, channelID string) (Profile, error) {
	p := Profile{UserID: userID, ChannelID: channelID}

	var updatedAt string
	err := s.db.QueryRowContext(ctx, `
		SELECT profile_summary, updated_at
		FROM users
		WHERE user_id = ? AND channel_id = ?
		LIMIT 1`,
		userID, channelID,
	).Scan(&p.Summary, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return p, nil
	}
	if err != nil {
		return Profile{}, fmt.Errorf("store: load profile: %w", err)
	}

	if t, err := time.Parse(timeFormat, updatedAt); err == nil {
		p.UpdatedAt = t
	}
	return p, nil
}

// UpsertProfile replaces the profile summary for a (user, channel) pair.
// The summary is a full replacement, never a delta.
func (s *Store) UpsertProfile(ctx context.Context, userID, channelID, summary string) error {
	if userID == "" || channelID == "" {
		return fmt.Errorf("store: profile requires user and channel ids")
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (user_id, channel_id, profile_summary, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(user_id, channel_id) DO UPDATE SET
			profile_summary = excluded.profile_summary,
			updated_at = excluded.updated_at`,
		userID, channelID, summary, time.Now().UTC().Format(timeFormat),
	)
	if err != nil {
		return fmt.Errorf("store: upsert profile: %w", err)
	}
	return nil
}

// ResetProfile deletes the profile row for a (user, channel) pair. This is
// the only path that ever removes a profile (administrative reset).
func (s *Store) ResetProfile(ctx context.Context, userID, channelID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM users WHERE user_id = ? AND channel_id = ?`,
		userID, channelID,
	)
	if err != nil {
		return fmt.Errorf("store: reset profile: %w", err)
	}
	return nil
}
