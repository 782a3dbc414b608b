package fetcher

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/foiacquire/crawler/internal/limiter"
	"github.com/foiacquire/crawler/internal/observability"
	"github.com/foiacquire/crawler/internal/store"
	"github.com/foiacquire/crawler/pkg/failure"
)

// RequestLog is the slice of *store.Store the client needs for the
// append-only audit trail (spec §4.2 "Request log").
type RequestLog interface {
	InsertCrawlRequest(ctx context.Context, r store.CrawlRequest) error
}

// Client performs conditional GETs against arbitrary documents, gating
// every attempt through the rate limiter and reporting the observed
// response class back to it (spec §4.1 "one acquire/report round trip per
// request", §4.2 "Conditional fetch").
//
// Grounded in the teacher's HtmlFetcher.performFetch status-code switch
// and requestHeaders helper, generalized from an HTML-only fetch (which
// discarded non-HTML content outright) to an arbitrary-document fetch
// that leaves content-type handling to the caller.
type Client struct {
	httpClient *http.Client
	limiter    limiter.Limiter
	log        RequestLog
	rec        observability.Recorder
	userAgent  *UserAgentSelector
}

func NewClient(httpClient *http.Client, lim limiter.Limiter, log RequestLog, rec observability.Recorder, ua *UserAgentSelector) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	return &Client{httpClient: httpClient, limiter: lim, log: log, rec: rec, userAgent: ua}
}

// Fetch performs one conditional GET for req, gated by the limiter, and
// returns the classified outcome. sourceID is only used for the audit log
// and observability event, never for control flow.
func (c *Client) Fetch(ctx context.Context, sourceID string, req Request) (Response, *FetchError) {
	start := time.Now()
	u := req.URL()

	domain, err := c.limiter.Acquire(ctx, u)
	if err != nil {
		return Response{}, newFetchError(failure.CategoryInvariantViolation, "limiter acquire: %v", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return Response{}, newFetchError(failure.CategoryInvariantViolation, "build request: %v", err)
	}

	sent := c.requestHeaders(req)
	for k, v := range sent {
		httpReq.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		_ = c.limiter.ReportServerError(ctx, domain)
		c.audit(ctx, sourceID, req, sent, nil, start, 0, false, err)
		return Response{}, newFetchError(failure.CategoryTransient, "request failed: %v", err)
	}
	defer resp.Body.Close()

	body, readErr := io.ReadAll(resp.Body)
	duration := time.Since(start)
	wasConditional := req.ETag() != nil || req.LastModified() != nil

	fetchResp := Response{
		statusCode:  resp.StatusCode,
		headers:     resp.Header,
		body:        body,
		duration:    duration,
		sentHeaders: sent,
	}

	if readErr != nil {
		_ = c.limiter.ReportServerError(ctx, domain)
		c.audit(ctx, sourceID, req, sent, &fetchResp, start, 0, wasConditional, readErr)
		return Response{}, newFetchError(failure.CategoryTransient, "read body: %v", readErr)
	}

	fetchErr := c.classify(ctx, domain, u.String(), fetchResp)
	c.audit(ctx, sourceID, req, sent, &fetchResp, start, len(body), wasConditional, errOrNil(fetchErr))

	if fetchErr != nil {
		return Response{}, fetchErr
	}
	return fetchResp, nil
}

// classify maps a completed response onto the §7 error taxonomy and
// reports the matching signal to the limiter. A nil return means the
// response (including 304) is a success the caller should process.
func (c *Client) classify(ctx context.Context, domain, rawURL string, resp Response) *FetchError {
	switch {
	case resp.statusCode == http.StatusNotModified:
		_ = c.limiter.ReportSuccess(ctx, domain)
		return nil

	case resp.statusCode >= 200 && resp.statusCode < 300:
		_ = c.limiter.ReportSuccess(ctx, domain)
		return nil

	case resp.statusCode == http.StatusTooManyRequests || resp.statusCode == http.StatusServiceUnavailable:
		_ = c.limiter.ReportRateLimit(ctx, domain)
		return newFetchError(failure.CategoryRateLimit, "rate limited (%d)", resp.statusCode)

	case resp.statusCode == http.StatusForbidden:
		tipped, _ := c.limiter.Report403(ctx, domain, rawURL, resp.HasRetryAfter())
		if tipped {
			return newFetchError(failure.CategoryRateLimit, "confirmed rate limit (403)")
		}
		return newFetchError(failure.CategoryAccessDenied, "access forbidden (403)")

	case resp.statusCode == http.StatusNotFound:
		_ = c.limiter.ReportSuccess(ctx, domain)
		return newFetchError(failure.CategoryNotFound, "not found (404)")

	case resp.statusCode == http.StatusUnauthorized || resp.statusCode == http.StatusUnavailableForLegalReasons:
		_ = c.limiter.ReportSuccess(ctx, domain)
		return newFetchError(failure.CategoryAccessDenied, "access denied (%d)", resp.statusCode)

	case resp.statusCode == http.StatusGone:
		_ = c.limiter.ReportSuccess(ctx, domain)
		return newFetchError(failure.CategoryNotFound, "gone (410)")

	case resp.statusCode == http.StatusRequestTimeout:
		_ = c.limiter.ReportServerError(ctx, domain)
		return newFetchError(failure.CategoryTransient, "request timeout (408)")

	case resp.statusCode >= 500:
		_ = c.limiter.ReportServerError(ctx, domain)
		return newFetchError(failure.CategoryTransient, "server error (%d)", resp.statusCode)

	case resp.statusCode >= 400:
		_ = c.limiter.ReportSuccess(ctx, domain)
		return newFetchError(failure.CategoryAccessDenied, "client error (%d)", resp.statusCode)

	case resp.statusCode >= 300:
		_ = c.limiter.ReportSuccess(ctx, domain)
		return newFetchError(failure.CategoryTransient, "redirect limit exceeded (%d)", resp.statusCode)

	default:
		_ = c.limiter.ReportSuccess(ctx, domain)
		return newFetchError(failure.CategoryInvariantViolation, "unexpected status %d", resp.statusCode)
	}
}

// requestHeaders builds the outgoing header set, injecting If-None-Match
// / If-Modified-Since when the frontier supplied a cached validator (spec
// §4.2 "Conditional fetch").
func (c *Client) requestHeaders(req Request) map[string]string {
	ua := req.UserAgent()
	if ua == "" && c.userAgent != nil {
		ua = c.userAgent.Select()
	}
	if ua == "" {
		ua = DefaultUserAgent
	}

	h := map[string]string{
		"User-Agent":      ua,
		"Accept":          "*/*",
		"Accept-Language": "en-US,en;q=0.5",
		"Accept-Encoding": "gzip, deflate, br",
		"Connection":      "keep-alive",
	}
	if req.ETag() != nil {
		h["If-None-Match"] = *req.ETag()
	}
	if req.LastModified() != nil {
		h["If-Modified-Since"] = *req.LastModified()
	}
	return h
}

func (c *Client) audit(ctx context.Context, sourceID string, req Request, sent map[string]string, resp *Response, start time.Time, bytes int, wasConditional bool, err error) {
	reqURL := req.URL()
	row := store.CrawlRequest{
		SourceID:       sourceID,
		URL:            reqURL.String(),
		Method:         http.MethodGet,
		SentHeaders:    sent,
		Bytes:          int64(bytes),
		Duration:       time.Since(start),
		WasConditional: wasConditional,
	}
	if err != nil {
		msg := err.Error()
		row.Error = &msg
	}
	if resp != nil {
		status := resp.StatusCode()
		row.ResponseStatus = &status
		row.WasNotModified = resp.NotModified()
		received := make(map[string]string, len(resp.Headers()))
		for k, v := range resp.Headers() {
			if len(v) > 0 {
				received[k] = v[0]
			}
		}
		row.ReceivedHeaders = received
	}
	if logErr := c.log.InsertCrawlRequest(ctx, row); logErr != nil && c.rec != nil {
		c.rec.Invariant("fetcher", fmt.Sprintf("crawl request audit insert failed: %v", logErr))
	}

	if c.rec != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode()
		}
		reqURL2 := req.URL()
		c.rec.Fetch(observability.FetchEvent{
			SourceID:       sourceID,
			URL:            reqURL2.String(),
			Domain:         limiter.HostOf(req.URL()),
			Method:         http.MethodGet,
			Status:         status,
			Duration:       time.Since(start),
			Bytes:          bytes,
			WasConditional: wasConditional,
			WasNotModified: resp != nil && resp.NotModified(),
			Err:            err,
			Cause:          causeOf(err),
		})
	}
}

func errOrNil(e *FetchError) error {
	if e == nil {
		return nil
	}
	return e
}

// causeOf maps a fetch error onto its observability cause. Errors that
// are not a *FetchError (a plain transport error before classification)
// fall back to the network-failure cause.
func causeOf(err error) observability.EventCause {
	if err == nil {
		return observability.CauseUnknown
	}
	fe, ok := err.(*FetchError)
	if !ok {
		return observability.CauseNetworkFailure
	}
	switch fe.Category() {
	case failure.CategoryRateLimit:
		return observability.CauseRateLimited
	case failure.CategoryAccessDenied:
		return observability.CauseAccessDenied
	case failure.CategoryNotFound:
		return observability.CauseNotFound
	case failure.CategoryContentUnchanged:
		return observability.CauseContentUnchanged
	case failure.CategoryToolMissing:
		return observability.CauseToolMissing
	case failure.CategoryToolFailure:
		return observability.CauseToolFailure
	case failure.CategoryInvariantViolation:
		return observability.CauseInvariantViolated
	case failure.CategoryTransient:
		return observability.CauseNetworkFailure
	default:
		return observability.CauseUnknown
	}
}
