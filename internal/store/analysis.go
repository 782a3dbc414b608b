package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
)

// PendingBackend is the sentinel backend name a claim row carries until a
// worker completes or fails the task (spec §4.3 "Claim protocol").
const PendingBackend = "pending"

// AnalysisResult mirrors `document_analysis_results`: at most one row per
// (document_id, version_id, method), completion overwrites a prior
// pending claim (spec §3).
type AnalysisResult struct {
	DocumentID string
	VersionID  int64
	Method     string
	Backend    string
	Output     []byte
	Error      *string
	CreatedAt  time.Time
}

// ClaimAnalysis inserts a pending sentinel row. The unique primary key
// (document_id, version_id, method) causes a second worker's claim to
// fail; ok reports whether this call won the claim.
func (s *Store) ClaimAnalysis(ctx context.Context, documentID string, versionID int64, method string) (bool, error) {
	const q = `
		INSERT INTO document_analysis_results (document_id, version_id, method, backend, output, error)
		VALUES ($1, $2, $3, $4, NULL, NULL)
		ON CONFLICT (document_id, version_id, method) DO NOTHING`
	tag, err := s.Pool.Exec(ctx, q, documentID, versionID, method, PendingBackend)
	if err != nil {
		return false, wrapErr("ClaimAnalysis", err)
	}
	return tag.RowsAffected() > 0, nil
}

// StoreAnalysisResult replaces the pending (or prior failed) row with the
// final outcome. A nil errMsg means success.
func (s *Store) StoreAnalysisResult(ctx context.Context, documentID string, versionID int64, method, backend string, output []byte, errMsg *string) error {
	const q = `
		INSERT INTO document_analysis_results (document_id, version_id, method, backend, output, error, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, now())
		ON CONFLICT (document_id, version_id, method) DO UPDATE
		SET backend = EXCLUDED.backend, output = EXCLUDED.output, error = EXCLUDED.error, created_at = now()`
	_, err := s.Pool.Exec(ctx, q, documentID, versionID, method, backend, output, errMsg)
	return wrapErr("StoreAnalysisResult", err)
}

// GetAnalysisResult returns the current row for (document, version,
// method), or ErrNotFound.
func (s *Store) GetAnalysisResult(ctx context.Context, documentID string, versionID int64, method string) (AnalysisResult, error) {
	const q = `
		SELECT document_id, version_id, method, backend, output, error, created_at
		FROM document_analysis_results WHERE document_id = $1 AND version_id = $2 AND method = $3`
	var r AnalysisResult
	err := s.Pool.QueryRow(ctx, q, documentID, versionID, method).Scan(
		&r.DocumentID, &r.VersionID, &r.Method, &r.Backend, &r.Output, &r.Error, &r.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return AnalysisResult{}, ErrNotFound
	}
	if err != nil {
		return AnalysisResult{}, wrapErr("GetAnalysisResult", err)
	}
	return r, nil
}

// CountPendingAnalysis counts rows whose backend = "pending" for method
// (spec §4.3 "count_pending_analysis").
func (s *Store) CountPendingAnalysis(ctx context.Context, method string) (int64, error) {
	const q = `SELECT count(*) FROM document_analysis_results WHERE method = $1 AND backend = $2`
	var n int64
	err := s.Pool.QueryRow(ctx, q, method, PendingBackend).Scan(&n)
	return n, wrapErr("CountPendingAnalysis", err)
}

// CountSucceeded counts terminal successes (error IS NULL, backend not
// pending) for method.
func (s *Store) CountSucceeded(ctx context.Context, method string) (int64, error) {
	const q = `
		SELECT count(*) FROM document_analysis_results
		WHERE method = $1 AND backend != $2 AND error IS NULL`
	var n int64
	err := s.Pool.QueryRow(ctx, q, method, PendingBackend).Scan(&n)
	return n, wrapErr("CountSucceeded", err)
}

// CountRecentFailures counts rows with a non-NULL error recorded within
// retryInterval of now — the cooldown window (spec §4.3).
func (s *Store) CountRecentFailures(ctx context.Context, method string, retryInterval time.Duration, now time.Time) (int64, error) {
	const q = `
		SELECT count(*) FROM document_analysis_results
		WHERE method = $1 AND error IS NOT NULL AND created_at > $2`
	var n int64
	err := s.Pool.QueryRow(ctx, q, method, now.Add(-retryInterval)).Scan(&n)
	return n, wrapErr("CountRecentFailures", err)
}

// AnalysisFilter narrows the eligibility predicate (spec §4.3): an
// optional source and mime type, plus cursor pagination on document id.
type AnalysisFilter struct {
	SourceID *string
	MimeType *string
	Cursor   string
	Limit    int
}

// eligibleDocumentsQuery is shared by CountNeedingAnalysis and
// GetNeedingAnalysis: documents not in a terminal-failure status, joined
// against their latest version, excluding any (document, version, method)
// row that already succeeded or is within its failure cooldown, and
// excluding in-flight pending claims.
const eligibleDocumentsQuery = `
	SELECT d.document_id, v.id AS version_id
	FROM documents d
	JOIN document_versions v ON v.document_id = d.document_id
	WHERE d.status != 'failed'
	  AND v.version = (SELECT max(v2.version) FROM document_versions v2 WHERE v2.document_id = d.document_id)
	  AND ($1::text IS NULL OR d.source_id = $1)
	  AND ($2::text IS NULL OR v.mime_type = $2)
	  AND ($3::text IS NULL OR d.document_id > $3)
	  AND NOT EXISTS (
	      SELECT 1 FROM document_analysis_results r
	      WHERE r.document_id = d.document_id AND r.version_id = v.id AND r.method = $4
	        AND (r.backend = 'pending' OR r.error IS NULL OR r.created_at > $5)
	  )
	ORDER BY d.document_id ASC`

// CountNeedingAnalysis counts documents/versions eligible for method under
// filter, applying the retry-hours cooldown (spec §4.3 "count_needing_analysis").
func (s *Store) CountNeedingAnalysis(ctx context.Context, method string, filter AnalysisFilter, retryInterval time.Duration, now time.Time) (int64, error) {
	q := `SELECT count(*) FROM (` + eligibleDocumentsQuery + `) eligible`
	var n int64
	err := s.Pool.QueryRow(ctx, q, filter.SourceID, filter.MimeType, nullIfEmpty(filter.Cursor), method, now.Add(-retryInterval)).Scan(&n)
	return n, wrapErr("CountNeedingAnalysis", err)
}

// NeedingAnalysisItem is one (document, version) pair eligible for a
// method, returned in document-id ascending order for cursor pagination.
type NeedingAnalysisItem struct {
	DocumentID string
	VersionID  int64
}

// GetNeedingAnalysis returns up to filter.Limit eligible items, ordered by
// document id ascending (spec §4.3 "get_needing_analysis").
func (s *Store) GetNeedingAnalysis(ctx context.Context, method string, filter AnalysisFilter, retryInterval time.Duration, now time.Time) ([]NeedingAnalysisItem, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 20
	}
	q := eligibleDocumentsQuery + ` LIMIT $6`
	rows, err := s.Pool.Query(ctx, q, filter.SourceID, filter.MimeType, nullIfEmpty(filter.Cursor), method, now.Add(-retryInterval), limit)
	if err != nil {
		return nil, wrapErr("GetNeedingAnalysis", err)
	}
	defer rows.Close()

	var out []NeedingAnalysisItem
	for rows.Next() {
		var item NeedingAnalysisItem
		if err := rows.Scan(&item.DocumentID, &item.VersionID); err != nil {
			return nil, wrapErr("GetNeedingAnalysis scan", err)
		}
		out = append(out, item)
	}
	return out, wrapErr("GetNeedingAnalysis rows", rows.Err())
}

// CountEligibleDocuments counts all documents (not terminally failed) that
// have at least one version, for the universal invariant in spec §8:
// pending + succeeded + recent-failures + needing = eligible.
func (s *Store) CountEligibleDocuments(ctx context.Context, filter AnalysisFilter) (int64, error) {
	const q = `
		SELECT count(DISTINCT d.document_id)
		FROM documents d
		JOIN document_versions v ON v.document_id = d.document_id
		WHERE d.status != 'failed'
		  AND ($1::text IS NULL OR d.source_id = $1)
		  AND ($2::text IS NULL OR v.mime_type = $2)`
	var n int64
	err := s.Pool.QueryRow(ctx, q, filter.SourceID, filter.MimeType).Scan(&n)
	return n, wrapErr("CountEligibleDocuments", err)
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
