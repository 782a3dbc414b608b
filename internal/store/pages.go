package store

import (
	"context"

	"github.com/jackc/pgx/v5"
)

// PageStatus is the per-page sub-pipeline's state (spec §4.3).
type PageStatus string

const (
	PageStatusPending        PageStatus = "pending"
	PageStatusTextExtracted  PageStatus = "text_extracted"
	PageStatusOCRComplete    PageStatus = "ocr_complete"
	PageStatusFailed         PageStatus = "failed"
)

// DocumentPage mirrors the `document_pages` table.
type DocumentPage struct {
	ID         int64
	DocumentID string
	VersionID  int64
	PageNumber int
	PDFText    *string
	OCRText    *string
	FinalText  *string
	ImageHash  *string
	Status     PageStatus
}

// CreatePages creates rows 1..count in status pending for a version (spec
// §4.3 step 2). It is idempotent: existing rows for the same page numbers
// are left untouched.
func (s *Store) CreatePages(ctx context.Context, documentID string, versionID int64, count int) error {
	const q = `
		INSERT INTO document_pages (document_id, version_id, page_number, status)
		VALUES ($1, $2, $3, 'pending')
		ON CONFLICT (document_id, version_id, page_number) DO NOTHING`
	batch := &pgx.Batch{}
	for page := 1; page <= count; page++ {
		batch.Queue(q, documentID, versionID, page)
	}
	br := s.Pool.SendBatch(ctx, batch)
	defer br.Close()
	for page := 1; page <= count; page++ {
		if _, err := br.Exec(); err != nil {
			return wrapErr("CreatePages", err)
		}
	}
	return nil
}

// ListPages returns every page row for a version, ordered by page number.
func (s *Store) ListPages(ctx context.Context, versionID int64) ([]DocumentPage, error) {
	const q = `
		SELECT id, document_id, version_id, page_number, pdf_text, ocr_text, final_text, image_hash, status
		FROM document_pages WHERE version_id = $1 ORDER BY page_number ASC`
	rows, err := s.Pool.Query(ctx, q, versionID)
	if err != nil {
		return nil, wrapErr("ListPages", err)
	}
	defer rows.Close()

	var out []DocumentPage
	for rows.Next() {
		var p DocumentPage
		if err := rows.Scan(&p.ID, &p.DocumentID, &p.VersionID, &p.PageNumber, &p.PDFText, &p.OCRText, &p.FinalText, &p.ImageHash, &p.Status); err != nil {
			return nil, wrapErr("ListPages scan", err)
		}
		out = append(out, p)
	}
	return out, wrapErr("ListPages rows", rows.Err())
}

// SetPageExtractedText records raw-extractor output and advances the page
// to text_extracted (spec §4.3 step 3).
func (s *Store) SetPageExtractedText(ctx context.Context, pageID int64, text string) error {
	const q = `UPDATE document_pages SET pdf_text = $2, status = 'text_extracted', updated_at = now() WHERE id = $1`
	_, err := s.Pool.Exec(ctx, q, pageID, text)
	return wrapErr("SetPageExtractedText", err)
}

// CompletePage records the chosen final text (extractor or OCR, per the
// 120% rule) and advances the page to ocr_complete (spec §4.3 step 4-5).
func (s *Store) CompletePage(ctx context.Context, pageID int64, ocrText *string, finalText string, imageHash *string) error {
	const q = `
		UPDATE document_pages
		SET ocr_text = $2, final_text = $3, image_hash = $4, status = 'ocr_complete', updated_at = now()
		WHERE id = $1`
	_, err := s.Pool.Exec(ctx, q, pageID, ocrText, finalText, imageHash)
	return wrapErr("CompletePage", err)
}

// FailPage replaces a page row's status with failed so it may be retried
// by a later run (spec §3: "failed may be retried by replacing the row").
func (s *Store) FailPage(ctx context.Context, pageID int64) error {
	const q = `UPDATE document_pages SET status = 'failed', updated_at = now() WHERE id = $1`
	_, err := s.Pool.Exec(ctx, q, pageID)
	return wrapErr("FailPage", err)
}
