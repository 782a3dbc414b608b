package cli

import (
	"fmt"
	"net/url"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/foiacquire/crawler/internal/orchestrator"
	"github.com/foiacquire/crawler/internal/store"
)

var (
	crawlKind        string
	crawlSeedURL     string
	crawlDisplayName string
	crawlBaseURL     string
)

var crawlCmd = &cobra.Command{
	Use:   "crawl <source>",
	Short: "Run crawl-fetch workers for a configured source until interrupted",
	Args:  cobra.ExactArgs(1),
	RunE:  runCrawl,
}

func init() {
	crawlCmd.Flags().StringVar(&crawlKind, "kind", "", "scraper kind registered for this source (empty: fetch-only, no seeding)")
	crawlCmd.Flags().StringVar(&crawlSeedURL, "seed-url", "", "seed URL to hand the scraper, if --kind is set")
	crawlCmd.Flags().StringVar(&crawlDisplayName, "display-name", "", "human-readable name for the source row")
	crawlCmd.Flags().StringVar(&crawlBaseURL, "base-url", "", "base URL recorded on the source row")
}

func runCrawl(cmd *cobra.Command, args []string) error {
	sourceID := args[0]

	cfg, err := buildConfig()
	if err != nil {
		return failWith(ExitUsage, "config: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return failWith(ExitFailure, "startup: %w", err)
	}
	defer a.Close()

	kind := crawlKind
	if kind == "" {
		kind = "unknown"
	}
	if err := a.store.UpsertSource(ctx, sourceID, kind, crawlDisplayName, crawlBaseURL); err != nil {
		return failWith(ExitFailure, "upsert source: %w", err)
	}

	if crawlKind != "" && crawlSeedURL != "" {
		seed, err := url.Parse(crawlSeedURL)
		if err != nil {
			return failWith(ExitUsage, "seed url: %w", err)
		}
		if err := a.dispatch.Seed(ctx, sourceID, crawlKind, *seed); err != nil {
			return failWith(ExitFailure, "seed: %w", err)
		}
	}

	orch := orchestrator.New(
		orchestrator.Params{
			FetchWorkers:   cfg.FetchWorkers(),
			CrawlBatchSize: 20,
			PollInterval:   2 * time.Second,
			RetryInterval:  cfg.AnalysisRetryInterval(),
		},
		a.store, sourceID, kind, a.frontier, a.store, a.fetcher, a.lim, a.rec, a.dispatch, cfg.DataDir(),
		a.pipeline, nil, store.AnalysisFilter{},
	)

	if err := orch.Run(ctx); err != nil && ctx.Err() == nil {
		return failWith(ExitFailure, "crawl: %w", err)
	}

	if err := a.store.TouchLastScraped(ctx, sourceID, time.Now()); err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "warning: touch last_scraped: %v\n", err)
	}
	return nil
}
