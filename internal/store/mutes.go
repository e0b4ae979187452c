package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotMuted is returned by Unmute when the name is not on the list.
	ErrNotMuted = errors.New("player is not muted")

	// ErrAlreadyMuted is returned by Mute when the name is already on the list.
	ErrAlreadyMuted = errors.New("player is already muted")
)

// Mute is one entry of a channel's mute list.
type Mute struct {
	GuildID   string
	ChannelID string
	Name      string
	MutedBy   string
	CreatedAt time.Time
}

// Mute adds name to the mute list of the given channel. Names are matched
// exactly, as the game server reports them.
func (s *Store) Mute(ctx context.Context, guildID, channelID, name, mutedBy string) error {
	query := s.qb.Build(`INSERT INTO muted_players (guild_id, channel_id, name, muted_by, created_at)
		VALUES (?, ?, ?, ?, ?)`)
	_, err := s.db.ExecContext(ctx, query, guildID, channelID, name, mutedBy, time.Now().Unix())
	if err != nil {
		if s.dialect.IsDuplicateKeyError(err) {
			return ErrAlreadyMuted
		}
		return fmt.Errorf("failed to mute %q: %w", name, err)
	}
	return nil
}

// Unmute removes name from the mute list of the given channel.
func (s *Store) Unmute(ctx context.Context, guildID, channelID, name string) error {
	query := s.qb.Build(`DELETE FROM muted_players WHERE guild_id = ? AND channel_id = ? AND name = ?`)
	result, err := s.db.ExecContext(ctx, query, guildID, channelID, name)
	if err != nil {
		return fmt.Errorf("failed to unmute %q: %w", name, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to unmute %q: %w", name, err)
	}
	if rows == 0 {
		return ErrNotMuted
	}
	return nil
}

// IsMuted reports whether name is on the mute list of the given channel.
func (s *Store) IsMuted(ctx context.Context, guildID, channelID, name string) (bool, error) {
	query := s.qb.Build(`SELECT 1 FROM muted_players WHERE guild_id = ? AND channel_id = ? AND name = ?`)
	var one int
	err := s.db.QueryRowContext(ctx, query, guildID, channelID, name).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check mute for %q: %w", name, err)
	}
	return true, nil
}

// List returns the mute list of the given channel ordered by name.
func (s *Store) List(ctx context.Context, guildID, channelID string) ([]Mute, error) {
	query := s.qb.Build(`SELECT guild_id, channel_id, name, muted_by, created_at
		FROM muted_players WHERE guild_id = ? AND channel_id = ? ORDER BY name`)
	rows, err := s.db.QueryContext(ctx, query, guildID, channelID)
	if err != nil {
		return nil, fmt.Errorf("failed to list mutes: %w", err)
	}
	defer rows.Close()

	var mutes []Mute
	for rows.Next() {
		var m Mute
		var created int64
		if err := rows.Scan(&m.GuildID, &m.ChannelID, &m.Name, &m.MutedBy, &created); err != nil {
			return nil, fmt.Errorf("failed to scan mute: %w", err)
		}
		m.CreatedAt = time.Unix(created, 0)
		mutes = append(mutes, m)
	}
	return mutes, rows.Err()
}
