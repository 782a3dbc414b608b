package scraper

import (
	"context"
	"fmt"
	"net/url"

	"github.com/foiacquire/crawler/internal/frontier"
)

// Dispatcher binds a Registry to one source's frontier, giving scrapers
// the concrete emit callback while keeping Scraper implementations free
// of any frontier import.
type Dispatcher struct {
	registry *Registry
	frontier *frontier.Frontier
}

func NewDispatcher(registry *Registry, fr *frontier.Frontier) *Dispatcher {
	return &Dispatcher{registry: registry, frontier: fr}
}

// Seed starts a crawl for sourceID/kind from seedURL, via whichever
// Scraper is registered for kind.
func (d *Dispatcher) Seed(ctx context.Context, sourceID, kind string, seedURL url.URL) error {
	s, ok := d.registry.Get(kind)
	if !ok {
		return fmt.Errorf("scraper: no scraper registered for kind %q", kind)
	}
	return s.Seed(ctx, seedURL, d.emitFor(ctx, sourceID))
}

// NotifyFetched hands a completed fetch back to the owning scraper so it
// can extract further links, per the completion-callback half of the
// collaborator contract (spec §6).
func (d *Dispatcher) NotifyFetched(ctx context.Context, sourceID, kind string, fetched Fetched) error {
	s, ok := d.registry.Get(kind)
	if !ok {
		return fmt.Errorf("scraper: no scraper registered for kind %q", kind)
	}
	return s.OnFetched(ctx, fetched, d.emitFor(ctx, sourceID))
}

func (d *Dispatcher) emitFor(_ context.Context, sourceID string) EmitFunc {
	return func(ctx context.Context, u url.URL, meta frontier.DiscoveryMetadata) (bool, error) {
		return d.frontier.AddURL(ctx, sourceID, u, "scraper", meta)
	}
}
