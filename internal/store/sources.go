package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
)

// Source mirrors the `sources` table (spec §3): one row per configured
// scraper, created once and mutated only by scraper runs.
type Source struct {
	SourceID    string
	Kind        string
	DisplayName string
	BaseURL     string
	LastScraped *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// UpsertSource creates the source row on first contact, or is a no-op on
// the identifying fields if the row already exists — display name and
// base URL may drift with configuration, so those are always refreshed.
func (s *Store) UpsertSource(ctx context.Context, sourceID, kind, displayName, baseURL string) error {
	const q = `
		INSERT INTO sources (source_id, kind, display_name, base_url)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (source_id) DO UPDATE
		SET display_name = EXCLUDED.display_name,
		    base_url = EXCLUDED.base_url,
		    updated_at = now()`
	_, err := s.Pool.Exec(ctx, q, sourceID, kind, displayName, baseURL)
	return wrapErr("UpsertSource", err)
}

// TouchLastScraped updates a source's last-scraped timestamp, the only
// field a scraper run is allowed to mutate (spec §3).
func (s *Store) TouchLastScraped(ctx context.Context, sourceID string, at time.Time) error {
	const q = `UPDATE sources SET last_scraped = $2, updated_at = now() WHERE source_id = $1`
	tag, err := s.Pool.Exec(ctx, q, sourceID, at)
	if err != nil {
		return wrapErr("TouchLastScraped", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// GetSource returns the source row, or ErrNotFound.
func (s *Store) GetSource(ctx context.Context, sourceID string) (Source, error) {
	const q = `
		SELECT source_id, kind, display_name, base_url, last_scraped, created_at, updated_at
		FROM sources WHERE source_id = $1`
	var src Source
	err := s.Pool.QueryRow(ctx, q, sourceID).Scan(
		&src.SourceID, &src.Kind, &src.DisplayName, &src.BaseURL,
		&src.LastScraped, &src.CreatedAt, &src.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return Source{}, ErrNotFound
	}
	if err != nil {
		return Source{}, wrapErr("GetSource", err)
	}
	return src, nil
}

// NeedsRefresh reports whether the source has never been scraped, or was
// last scraped longer than ttl ago (spec §6 "per-source refresh TTL").
func (s *Store) NeedsRefresh(ctx context.Context, sourceID string, ttl time.Duration, now time.Time) (bool, error) {
	src, err := s.GetSource(ctx, sourceID)
	if err != nil {
		return false, err
	}
	if src.LastScraped == nil {
		return true, nil
	}
	return now.Sub(*src.LastScraped) >= ttl, nil
}
