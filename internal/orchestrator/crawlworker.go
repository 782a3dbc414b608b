package orchestrator

import (
	"context"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/foiacquire/crawler/internal/fetcher"
	"github.com/foiacquire/crawler/internal/frontier"
	"github.com/foiacquire/crawler/internal/limiter"
	"github.com/foiacquire/crawler/internal/observability"
	"github.com/foiacquire/crawler/internal/scraper"
	"github.com/foiacquire/crawler/pkg/failure"
	"github.com/foiacquire/crawler/pkg/fileutil"
	"github.com/foiacquire/crawler/pkg/hashutil"
	"github.com/foiacquire/crawler/pkg/retry"
	"github.com/foiacquire/crawler/pkg/timeutil"
	"github.com/foiacquire/crawler/pkg/urlutil"
)

// artifactWriteRetry governs the disk-write retry inside fetchOne: a
// transient local I/O error (e.g. brief ENOSPC, concurrent mkdir) gets a
// few fast retries before the attempt is reported to the frontier as
// transient, distinct from the frontier's own durable retry schedule
// which governs whole-attempt retries across process restarts.
var artifactWriteRetry = retry.NewRetryParam(20*time.Millisecond, 20*time.Millisecond, 1, 3, timeutil.NewBackoffParam(20*time.Millisecond, 2.0, 200*time.Millisecond))

// CrawlWorker runs one fetch worker's loop for a single source (spec
// §4.4 "Workers... each loops: pick work, do it, repeat"): pull a batch,
// select the most-ready candidate by domain wait time, fetch, persist the
// body, and reconcile it against the document store.
type CrawlWorker struct {
	sourceID   string
	sourceKind string
	frontier   *frontier.Frontier
	docs       frontier.DocumentBackend
	fetcher    *fetcher.Client
	lim        limiter.Limiter
	rec        observability.Recorder
	dispatch   *scraper.Dispatcher
	dataDir    string
	batchSize  int
}

func NewCrawlWorker(sourceID, sourceKind string, fr *frontier.Frontier, docs frontier.DocumentBackend, fc *fetcher.Client, lim limiter.Limiter, rec observability.Recorder, dispatch *scraper.Dispatcher, dataDir string, batchSize int) *CrawlWorker {
	if batchSize <= 0 {
		batchSize = 20
	}
	return &CrawlWorker{
		sourceID: sourceID, sourceKind: sourceKind, frontier: fr, docs: docs, fetcher: fc,
		lim: lim, rec: rec, dispatch: dispatch, dataDir: dataDir, batchSize: batchSize,
	}
}

// Run drives the worker until ctx is canceled.
func (w *CrawlWorker) Run(ctx context.Context, pollInterval time.Duration) error {
	return runLoop(ctx, pollInterval, w.step)
}

func (w *CrawlWorker) step(ctx context.Context) (bool, error) {
	batch, err := w.frontier.NextBatch(ctx, w.sourceID, w.batchSize, time.Now())
	if err != nil {
		return false, err
	}
	if len(batch) == 0 {
		return false, nil
	}

	remaining := batch
	for len(remaining) > 0 {
		idx, err := w.pickReady(ctx, remaining)
		if err != nil {
			return true, err
		}
		candidate := remaining[idx]
		remaining = append(remaining[:idx], remaining[idx+1:]...)

		if err := w.fetchOne(ctx, candidate); err != nil {
			return true, err
		}
	}
	return true, nil
}

// pickReady consults the limiter for the candidate whose domain's
// time-until-ready is minimum, so concurrent workers don't herd onto one
// throttled domain (spec §4.4 "URL selection under rate limits").
func (w *CrawlWorker) pickReady(ctx context.Context, candidates []frontier.CandidateURL) (int, error) {
	if len(candidates) == 1 {
		return 0, nil
	}
	urls := make([]url.URL, len(candidates))
	for i, c := range candidates {
		urls[i] = c.URL
	}
	chosen, err := w.lim.FindReadyURL(ctx, urls)
	if err != nil {
		return 0, err
	}
	for i, c := range candidates {
		if c.URL.String() == chosen.String() {
			return i, nil
		}
	}
	return 0, nil
}

func (w *CrawlWorker) fetchOne(ctx context.Context, candidate frontier.CandidateURL) error {
	req := fetcher.NewRequest(candidate.URL, candidate.ETag, candidate.LastModified, "")
	resp, ferr := w.fetcher.Fetch(ctx, w.sourceID, req)
	if ferr != nil {
		if ferr.Category() == failure.CategoryInvariantViolation {
			return ferr
		}
		return w.complete(ctx, candidate, outcomeForFetchError(ferr))
	}

	if resp.NotModified() {
		return w.complete(ctx, candidate, frontier.OutcomeSkipped(time.Now(), "not-modified"))
	}

	body := resp.Body()
	contentHash, _ := hashutil.HashBytes(body, hashutil.HashAlgoSHA256)
	canonical := urlutil.Canonicalize(candidate.URL)
	documentID, _ := hashutil.HashBytes([]byte(w.sourceID+"|"+canonical.String()), hashutil.HashAlgoSHA256)
	mimeType := mimeTypeOf(resp.Headers().Get("Content-Type"))

	filePath, werr := w.writeArtifact(contentHash, body)
	if werr != nil {
		return w.complete(ctx, candidate, frontier.OutcomeTransientError(werr))
	}

	fetchedAt := time.Now()
	etag := headerPtr(resp.Headers(), "ETag")
	lastModified := headerPtr(resp.Headers(), "Last-Modified")

	outcome, _, err := frontier.ReconcileFetch(ctx, w.docs, documentID, w.sourceID, canonical.String(), filePath, contentHash, mimeType, int64(len(body)), fetchedAt, etag, lastModified)
	if err != nil {
		return err
	}

	if title := fetcher.ParseContentDispositionFilename(resp.Headers().Get("Content-Disposition")); title != "" {
		_ = w.docs.SetDocumentTitleIfEmpty(ctx, documentID, title)
	}

	if w.dispatch != nil {
		_ = w.dispatch.NotifyFetched(ctx, w.sourceID, w.sourceKind, scraper.Fetched{URL: candidate.URL, Body: body, MimeType: mimeType})
	}

	return w.complete(ctx, candidate, outcome)
}

func (w *CrawlWorker) complete(ctx context.Context, candidate frontier.CandidateURL, outcome frontier.FetchOutcome) error {
	return w.frontier.Complete(ctx, candidate, outcome)
}

// writeArtifact persists body under a content-addressed path so that two
// workers fetching identical bytes idempotently agree on where they live
// (spec §5 "File system: artifact paths are content-addressed").
func (w *CrawlWorker) writeArtifact(contentHash string, body []byte) (string, error) {
	result := retry.Retry(artifactWriteRetry, func() (string, failure.ClassifiedError) {
		dir := filepath.Join(w.dataDir, "artifacts", contentHash[:2], contentHash[2:4])
		if ferr := fileutil.EnsureDir(dir); ferr != nil {
			return "", ferr
		}
		path := filepath.Join(dir, contentHash)
		if err := os.WriteFile(path, body, 0o644); err != nil {
			return "", &fileutil.FileError{Message: err.Error(), Retryable: true, Cause: fileutil.ErrCausePathError}
		}
		return path, nil
	})
	return result.Value(), result.Err()
}

func outcomeForFetchError(ferr *fetcher.FetchError) frontier.FetchOutcome {
	switch ferr.Category() {
	case failure.CategoryRateLimit:
		return frontier.OutcomeRateLimited(ferr)
	case failure.CategoryAccessDenied, failure.CategoryNotFound:
		return frontier.OutcomeTerminalError(ferr)
	default:
		return frontier.OutcomeTransientError(ferr)
	}
}

func mimeTypeOf(contentType string) string {
	if contentType == "" {
		return "application/octet-stream"
	}
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return contentType
	}
	return mt
}

func headerPtr(h http.Header, key string) *string {
	v := h.Get(key)
	if v == "" {
		return nil
	}
	return &v
}
