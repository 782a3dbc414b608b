package store

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
)

// maxConfigHistory bounds the config_history table to the last 16
// materially different effective configurations (spec §6).
const maxConfigHistory = 16

// RecordConfigIfChanged appends an entry to config_history iff hash
// differs from the most recently recorded one, then trims the table to
// the most recent maxConfigHistory rows.
func (s *Store) RecordConfigIfChanged(ctx context.Context, hash string, effective []byte) error {
	var lastHash string
	err := s.Pool.QueryRow(ctx, `SELECT config_hash FROM config_history ORDER BY id DESC LIMIT 1`).Scan(&lastHash)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return wrapErr("RecordConfigIfChanged select", err)
	}
	if lastHash == hash {
		return nil
	}

	if _, err := s.Pool.Exec(ctx, `
		INSERT INTO config_history (config_hash, effective) VALUES ($1, $2)`, hash, effective,
	); err != nil {
		return wrapErr("RecordConfigIfChanged insert", err)
	}

	_, err = s.Pool.Exec(ctx, `
		DELETE FROM config_history
		WHERE id NOT IN (SELECT id FROM config_history ORDER BY id DESC LIMIT $1)`, maxConfigHistory)
	return wrapErr("RecordConfigIfChanged trim", err)
}
