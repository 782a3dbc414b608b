package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/foiacquire/crawler/internal/config"
)

var (
	cfgFile            string
	dataDir            string
	databaseURL        string
	userAgent          string
	requestTimeout     time.Duration
	baseDelay          time.Duration
	rateLimitBackend   string
	sourceRefreshDays  float64
	llmEndpoint        string
	llmModel           string
	analysisRetryHours float64
	fetchWorkers       int
	analysisWorkers    int
)

var rootCmd = &cobra.Command{
	Use:   "foiacrawl",
	Short: "A politeness-aware FOIA document crawler and analysis pipeline.",
	Long: `foiacrawl discovers, fetches, and analyzes documents published by FOIA
sources: a durable frontier with per-domain adaptive rate limiting, a
conditional-GET fetcher, and a claim-based OCR/summarization pipeline.`,
}

// Execute adds all child commands to the root command and runs it,
// terminating the process with the matching exit code on failure (spec
// §6 "Exit codes").
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(exitCodeFor(err))
	}
}

func exitCodeFor(err error) int {
	var coded *exitCodeError
	if asExitCodeError(err, &coded) {
		return coded.code
	}
	return ExitFailure
}

// exitCodeError lets a Run func pick a specific exit code without cobra
// printing its own usage banner for non-usage failures.
type exitCodeError struct {
	code int
	err  error
}

func (e *exitCodeError) Error() string { return e.err.Error() }
func (e *exitCodeError) Unwrap() error { return e.err }

func asExitCodeError(err error, target **exitCodeError) bool {
	coded, ok := err.(*exitCodeError)
	if !ok {
		return false
	}
	*target = coded
	return true
}

func failWith(code int, format string, args ...any) error {
	return &exitCodeError{code: code, err: fmt.Errorf(format, args...)}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config-file", "", "config file path (YAML)")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "root directory for content-addressed artifacts")
	rootCmd.PersistentFlags().StringVar(&databaseURL, "database-url", "", "database connection string")
	rootCmd.PersistentFlags().StringVar(&userAgent, "user-agent", "", "user agent policy: default | impersonate | a literal string")
	rootCmd.PersistentFlags().DurationVar(&requestTimeout, "request-timeout", 0, "per-request HTTP timeout")
	rootCmd.PersistentFlags().DurationVar(&baseDelay, "base-delay", 0, "base inter-request delay per domain")
	rootCmd.PersistentFlags().StringVar(&rateLimitBackend, "rate-limit-backend", "", "rate limiter backend: memory | store")
	rootCmd.PersistentFlags().Float64Var(&sourceRefreshDays, "source-refresh-days", 0, "per-source refresh TTL, in days")
	rootCmd.PersistentFlags().StringVar(&llmEndpoint, "llm-endpoint", "", "LLM API base URL (empty uses the provider default)")
	rootCmd.PersistentFlags().StringVar(&llmModel, "llm-model", "", "LLM model name")
	rootCmd.PersistentFlags().Float64Var(&analysisRetryHours, "analysis-retry-hours", 0, "analysis failure cooldown, in hours")
	rootCmd.PersistentFlags().IntVar(&fetchWorkers, "fetch-workers", 0, "number of concurrent crawl-fetch workers")
	rootCmd.PersistentFlags().IntVar(&analysisWorkers, "analysis-workers", 0, "number of concurrent analysis workers per method")

	rootCmd.AddCommand(crawlCmd, ocrCmd, summarizeCmd, serveCmd, statsCmd)
}

// buildConfig loads cfgFile/env, then layers any explicitly-set CLI flags
// on top, mirroring the teacher's InitConfigWithError override chain.
func buildConfig() (config.Config, error) {
	cfg, err := config.Load(cfgFile, func(key string) {
		fmt.Fprintf(os.Stderr, "warning: unrecognized config key %q\n", key)
	})
	if err != nil {
		return config.Config{}, err
	}

	builder := &cfg
	if dataDir != "" {
		builder = builder.WithDataDir(dataDir)
	}
	if databaseURL != "" {
		builder = builder.WithDatabaseURL(databaseURL)
	}
	if userAgent != "" {
		builder = builder.WithCustomUserAgent(userAgent)
	}
	if requestTimeout > 0 {
		builder = builder.WithRequestTimeout(requestTimeout)
	}
	if baseDelay > 0 {
		builder = builder.WithBaseDelay(baseDelay)
	}
	if rateLimitBackend != "" {
		builder = builder.WithRateLimitBackend(config.RateLimitBackend(rateLimitBackend))
	}
	if sourceRefreshDays > 0 {
		builder = builder.WithSourceRefreshTTL(time.Duration(sourceRefreshDays * float64(24*time.Hour)))
	}
	if llmEndpoint != "" {
		builder = builder.WithLLMEndpoint(llmEndpoint)
	}
	if llmModel != "" {
		builder = builder.WithLLMModel(llmModel)
	}
	if analysisRetryHours > 0 {
		builder = builder.WithAnalysisRetryInterval(time.Duration(analysisRetryHours * float64(time.Hour)))
	}
	if fetchWorkers > 0 {
		builder = builder.WithFetchWorkers(fetchWorkers)
	}
	if analysisWorkers > 0 {
		builder = builder.WithAnalysisWorkers(analysisWorkers)
	}

	return builder.Build()
}
