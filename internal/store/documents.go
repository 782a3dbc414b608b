package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
)

// Document mirrors the `documents` table (spec §3): one row per distinct
// logical artifact, identified by a stable string derived from source +
// canonical URL.
type Document struct {
	DocumentID   string
	SourceID     string
	CanonicalURL string
	Title        string
	Status       string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// DocumentVersion mirrors `document_versions`: an append-only, 1-indexed
// ordered list per document, one row per distinct content hash.
type DocumentVersion struct {
	ID           int64
	DocumentID   string
	Version      int
	FilePath     string
	ContentHash  string
	MimeType     string
	FileSize     int64
	FetchedAt    time.Time
	SourceURL    string
	LastModified *string
	PageCount    int
}

// GetOrCreateDocument inserts the document row if absent, leaving title
// and status untouched on conflict — those are owned by later writes
// (e.g. a content-disposition-derived title), not by first contact.
func (s *Store) GetOrCreateDocument(ctx context.Context, documentID, sourceID, canonicalURL string) (Document, error) {
	const q = `
		INSERT INTO documents (document_id, source_id, canonical_url)
		VALUES ($1, $2, $3)
		ON CONFLICT (document_id) DO UPDATE SET updated_at = documents.updated_at
		RETURNING document_id, source_id, canonical_url, title, status, created_at, updated_at`
	var d Document
	err := s.Pool.QueryRow(ctx, q, documentID, sourceID, canonicalURL).Scan(
		&d.DocumentID, &d.SourceID, &d.CanonicalURL, &d.Title, &d.Status, &d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		return Document{}, wrapErr("GetOrCreateDocument", err)
	}
	return d, nil
}

// SetDocumentTitleIfEmpty sets a document's title the first time one
// becomes available (e.g. from Content-Disposition filename parsing),
// without overwriting a title a later capture already set.
func (s *Store) SetDocumentTitleIfEmpty(ctx context.Context, documentID, title string) error {
	if title == "" {
		return nil
	}
	const q = `UPDATE documents SET title = $2, updated_at = now() WHERE document_id = $1 AND title = ''`
	_, err := s.Pool.Exec(ctx, q, documentID, title)
	return wrapErr("SetDocumentTitleIfEmpty", err)
}

// LatestVersion returns the highest-versioned row for a document, or
// ErrNotFound if the document has no versions yet.
func (s *Store) LatestVersion(ctx context.Context, documentID string) (DocumentVersion, error) {
	const q = `
		SELECT id, document_id, version, file_path, content_hash, mime_type, file_size,
		       fetched_at, source_url, last_modified, page_count
		FROM document_versions
		WHERE document_id = $1
		ORDER BY version DESC
		LIMIT 1`
	var v DocumentVersion
	err := s.Pool.QueryRow(ctx, q, documentID).Scan(
		&v.ID, &v.DocumentID, &v.Version, &v.FilePath, &v.ContentHash, &v.MimeType, &v.FileSize,
		&v.FetchedAt, &v.SourceURL, &v.LastModified, &v.PageCount,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return DocumentVersion{}, ErrNotFound
	}
	if err != nil {
		return DocumentVersion{}, wrapErr("LatestVersion", err)
	}
	return v, nil
}

// AppendVersionIfNewHash appends a new DocumentVersion iff contentHash
// differs from the latest version's hash (spec §3, §4.2). It returns the
// resulting version (either the freshly appended one, or the existing
// latest one when the hash was unchanged) and whether a new row was
// appended.
func (s *Store) AppendVersionIfNewHash(ctx context.Context, documentID, filePath, contentHash, mimeType string, fileSize int64, fetchedAt time.Time, sourceURL string, lastModified *string) (DocumentVersion, bool, error) {
	tx, err := s.Pool.Begin(ctx)
	if err != nil {
		return DocumentVersion{}, false, wrapErr("AppendVersionIfNewHash begin", err)
	}
	defer tx.Rollback(ctx)

	var latestVersion int
	var latestHash string
	err = tx.QueryRow(ctx, `
		SELECT version, content_hash FROM document_versions
		WHERE document_id = $1 ORDER BY version DESC LIMIT 1 FOR UPDATE`, documentID,
	).Scan(&latestVersion, &latestHash)

	switch {
	case errors.Is(err, pgx.ErrNoRows):
		latestVersion = 0
	case err != nil:
		return DocumentVersion{}, false, wrapErr("AppendVersionIfNewHash latest", err)
	default:
		if latestHash == contentHash {
			existing, getErr := s.LatestVersion(ctx, documentID)
			return existing, false, getErr
		}
	}

	var v DocumentVersion
	err = tx.QueryRow(ctx, `
		INSERT INTO document_versions
			(document_id, version, file_path, content_hash, mime_type, file_size, fetched_at, source_url, last_modified)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, document_id, version, file_path, content_hash, mime_type, file_size,
		          fetched_at, source_url, last_modified, page_count`,
		documentID, latestVersion+1, filePath, contentHash, mimeType, fileSize, fetchedAt, sourceURL, lastModified,
	).Scan(
		&v.ID, &v.DocumentID, &v.Version, &v.FilePath, &v.ContentHash, &v.MimeType, &v.FileSize,
		&v.FetchedAt, &v.SourceURL, &v.LastModified, &v.PageCount,
	)
	if err != nil {
		return DocumentVersion{}, false, wrapErr("AppendVersionIfNewHash insert", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return DocumentVersion{}, false, wrapErr("AppendVersionIfNewHash commit", err)
	}
	return v, true, nil
}

// SetVersionPageCount records the PDF page count determined during OCR
// sub-pipeline setup (spec §4.3 step 1).
func (s *Store) SetVersionPageCount(ctx context.Context, versionID int64, pageCount int) error {
	const q = `UPDATE document_versions SET page_count = $2 WHERE id = $1`
	_, err := s.Pool.Exec(ctx, q, versionID, pageCount)
	return wrapErr("SetVersionPageCount", err)
}

// GetVersion fetches a single version row by id.
func (s *Store) GetVersion(ctx context.Context, versionID int64) (DocumentVersion, error) {
	const q = `
		SELECT id, document_id, version, file_path, content_hash, mime_type, file_size,
		       fetched_at, source_url, last_modified, page_count
		FROM document_versions WHERE id = $1`
	var v DocumentVersion
	err := s.Pool.QueryRow(ctx, q, versionID).Scan(
		&v.ID, &v.DocumentID, &v.Version, &v.FilePath, &v.ContentHash, &v.MimeType, &v.FileSize,
		&v.FetchedAt, &v.SourceURL, &v.LastModified, &v.PageCount,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return DocumentVersion{}, ErrNotFound
	}
	if err != nil {
		return DocumentVersion{}, wrapErr("GetVersion", err)
	}
	return v, nil
}
