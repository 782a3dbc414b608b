// Package scraper is the registry boundary for the external collaborator
// spec §6 carves out: "each source has its own link-extraction rules —
// they emit URLs into the frontier and consume fetched bytes." The core
// never parses HTML or walks a source's pagination itself; it only hands
// a scraper its seed URL and the two callbacks a scraper needs to
// participate in the crawl.
//
// Grounded in the teacher's storage.Sink — a narrow, single-method
// interface the core calls without knowing the concrete implementation —
// generalized from one fixed write-path collaborator to a per-source-kind
// registry of many.
package scraper

import (
	"context"
	"net/url"

	"github.com/foiacquire/crawler/internal/frontier"
)

// EmitFunc is the add_url callback (spec §6 "emit add_url calls to the
// frontier"): a scraper calls it for every URL it discovers. The bool
// return mirrors Frontier.AddURL's idempotent-enqueue signal.
type EmitFunc func(ctx context.Context, u url.URL, meta frontier.DiscoveryMetadata) (bool, error)

// Fetched is what a scraper's completion callback receives once a URL it
// previously emitted has been fetched (spec §6 "it receives back the
// fetched bytes through a completion callback").
type Fetched struct {
	URL      url.URL
	Body     []byte
	MimeType string
}

// Scraper is the collaborator contract the core depends on. Seed begins a
// crawl from a configured starting point; OnFetched is called once per
// completed fetch of a URL this scraper is responsible for, so it can
// extract further links (pagination, index pages) and emit them in turn.
// Implementations own all source-specific parsing; the core never
// inspects response bodies for link extraction itself.
type Scraper interface {
	Kind() string
	Seed(ctx context.Context, seedURL url.URL, emit EmitFunc) error
	OnFetched(ctx context.Context, fetched Fetched, emit EmitFunc) error
}

// Registry maps a source's configured kind to its Scraper implementation
// (spec §6 "the core calls scrapers via a registry keyed by source
// kind").
type Registry struct {
	scrapers map[string]Scraper
}

func NewRegistry() *Registry {
	return &Registry{scrapers: make(map[string]Scraper)}
}

// Register adds s under its own Kind(), overwriting any prior
// registration for that kind.
func (r *Registry) Register(s Scraper) {
	r.scrapers[s.Kind()] = s
}

// Get returns the scraper registered for kind, or false if none is.
func (r *Registry) Get(kind string) (Scraper, bool) {
	s, ok := r.scrapers[kind]
	return s, ok
}

// Kinds lists every registered kind, for CLI validation and startup logs.
func (r *Registry) Kinds() []string {
	out := make([]string, 0, len(r.scrapers))
	for k := range r.scrapers {
		out = append(out, k)
	}
	return out
}
