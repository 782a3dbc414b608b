package frontier

import (
	"context"
	"time"

	"github.com/foiacquire/crawler/internal/store"
)

// DocumentBackend is the narrow slice of *store.Store the conditional-fetch
// reconciliation step needs, kept separate from Backend because it
// concerns documents/versions rather than the crawl_urls row itself.
type DocumentBackend interface {
	GetOrCreateDocument(ctx context.Context, documentID, sourceID, canonicalURL string) (store.Document, error)
	AppendVersionIfNewHash(ctx context.Context, documentID, filePath, contentHash, mimeType string, fileSize int64, fetchedAt time.Time, sourceURL string, lastModified *string) (store.DocumentVersion, bool, error)
	SetDocumentTitleIfEmpty(ctx context.Context, documentID, title string) error
}

// ReconcileFetch is the fetcher's single entrypoint into the document
// store after a 2xx response body has been hashed and persisted to disk
// (spec §4.2 "Conditional fetch"): it appends a new DocumentVersion only
// when the content hash differs from the latest recorded one, and reports
// which FetchOutcome the frontier should apply.
//
// documentID is the caller's stable identifier for the logical document
// (typically derived from source + canonical URL); it does not change
// across versions.
func ReconcileFetch(ctx context.Context, docs DocumentBackend, documentID, sourceID, canonicalURL, filePath, contentHash, mimeType string, fileSize int64, fetchedAt time.Time, etag, lastModified *string) (FetchOutcome, string, error) {
	if _, err := docs.GetOrCreateDocument(ctx, documentID, sourceID, canonicalURL); err != nil {
		return FetchOutcome{}, "", err
	}

	version, appended, err := docs.AppendVersionIfNewHash(ctx, documentID, filePath, contentHash, mimeType, fileSize, fetchedAt, canonicalURL, lastModified)
	if err != nil {
		return FetchOutcome{}, "", err
	}

	if !appended {
		return OutcomeSkipped(fetchedAt, "content-unchanged"), version.ContentHash, nil
	}
	return OutcomeFetched(fetchedAt, etag, lastModified, contentHash, documentID), version.ContentHash, nil
}
