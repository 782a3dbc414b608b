// Package cli is the CLI surface of spec §6: `crawl <source>`, `ocr`,
// `summarize`, `serve`, `stats`, wired through cobra exactly as the
// teacher's internal/cli/root.go does (persistent flags, an
// InitConfigWithError the Run funcs call into, process-exit codes).
package cli

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/foiacquire/crawler/internal/analysis"
	"github.com/foiacquire/crawler/internal/analysis/llm"
	"github.com/foiacquire/crawler/internal/config"
	"github.com/foiacquire/crawler/internal/fetcher"
	"github.com/foiacquire/crawler/internal/frontier"
	"github.com/foiacquire/crawler/internal/limiter"
	"github.com/foiacquire/crawler/internal/observability"
	"github.com/foiacquire/crawler/internal/scraper"
	"github.com/foiacquire/crawler/internal/store"
	"github.com/foiacquire/crawler/pkg/timeutil"
)

// Exit codes (spec §6 "Exit codes: 0 success, 1 generic failure, 2 usage
// error, 3 missing external tool").
const (
	ExitSuccess     = 0
	ExitFailure     = 1
	ExitUsage       = 2
	ExitMissingTool = 3
)

// app holds every dependency a subcommand needs, built once from Config
// per invocation (mirrors the teacher's Scheduler being the one place
// collaborators are wired together).
type app struct {
	cfg      config.Config
	log      zerolog.Logger
	store    *store.Store
	metrics  *observability.Metrics
	rec      observability.Recorder
	lim      limiter.Limiter
	fetcher  *fetcher.Client
	frontier *frontier.Frontier
	registry *scraper.Registry
	dispatch *scraper.Dispatcher
	pipeline *analysis.Pipeline
	tools    analysis.Tooling
}

func newApp(ctx context.Context, cfg config.Config) (*app, error) {
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).With().Timestamp().Logger()

	st, err := store.Open(ctx, cfg.DatabaseURL())
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	if err := st.Migrate(ctx); err != nil {
		return nil, fmt.Errorf("migrate store: %w", err)
	}

	metrics := observability.NewMetrics(prometheus.DefaultRegisterer)
	rec := observability.NewZerologRecorder(log, metrics)

	limParams := limiter.Params{
		BaseDelay: cfg.BaseDelay(), MinDelay: cfg.MinDelay(), MaxDelay: cfg.MaxDelay(),
		BackoffMultiplier: cfg.BackoffMultiplier(), MildBackoffMultiplier: cfg.MildBackoffMultiplier(),
		RecoveryMultiplier: cfg.RecoveryMultiplier(), RecoveryThreshold: cfg.RecoveryThreshold(),
		ForbiddenThreshold: cfg.ForbiddenThreshold(), ForbiddenWindow: cfg.ForbiddenWindow(),
	}
	sleeper := timeutil.NewRealSleeper()

	var lim limiter.Limiter
	if cfg.RateLimitBackend() == config.RateLimitBackendStore {
		lim = limiter.NewStoreLimiter(st, limParams, sleeper, rec)
	} else {
		lim = limiter.NewMemoryLimiter(limParams, sleeper, rec)
	}

	uaPolicy := string(cfg.UserAgentPolicy())
	if cfg.CustomUserAgent() != "" {
		uaPolicy = cfg.CustomUserAgent()
	}
	ua := fetcher.NewUserAgentSelector(uaPolicy, 0)
	httpClient := &http.Client{Timeout: cfg.RequestTimeout()}
	fc := fetcher.NewClient(httpClient, lim, st, rec, ua)

	fr := frontier.New(st, frontier.Params{
		RetryBaseDelay: cfg.RetryBaseDelay(), MaxRetryDelay: cfg.MaxRetryDelay(), MaxRetries: cfg.MaxRetries(),
	})

	registry := scraper.NewRegistry()
	dispatch := scraper.NewDispatcher(registry, fr)

	tools := analysis.NewTooling(cfg.PdftotextPath(), cfg.OCRToolPath(), cfg.PDFRenderToolPath(), cfg.OCRTimeout())
	pipeline := analysis.New(st, rec, cfg.AnalysisRetryInterval())

	return &app{
		cfg: cfg, log: log, store: st, metrics: metrics, rec: rec, lim: lim,
		fetcher: fc, frontier: fr, registry: registry, dispatch: dispatch,
		pipeline: pipeline, tools: tools,
	}, nil
}

func (a *app) Close() {
	if a.store != nil {
		a.store.Close()
	}
}

func (a *app) summarizeHandler() analysis.Handler {
	summarizer := llm.NewSummarizer(a.cfg.LLMEndpoint(), a.cfg.LLMAPIKey(), a.cfg.LLMModel())
	return analysis.NewSummarizeHandler(a.store, summarizer, a.tools)
}

func (a *app) ocrHandler() analysis.Handler {
	return analysis.NewOCRHandler(a.store, a.tools)
}
