package cli

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/foiacquire/crawler/internal/analysis"
	"github.com/foiacquire/crawler/internal/orchestrator"
	"github.com/foiacquire/crawler/internal/store"
)

var statsSourceID string

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print crawl and analysis counts once and exit (spec: orchestrator surfaces only counts)",
	RunE:  runStats,
}

type statsReport struct {
	Crawl     *orchestrator.CrawlStats   `json:"crawl,omitempty"`
	Summarize orchestrator.AnalysisStats `json:"summarize"`
	OCR       orchestrator.AnalysisStats `json:"ocr"`
}

func init() {
	statsCmd.Flags().StringVar(&statsSourceID, "source", "", "restrict crawl and analysis counts to one source (empty: all sources, crawl counts omitted)")
}

func runStats(cmd *cobra.Command, args []string) error {
	cfg, err := buildConfig()
	if err != nil {
		return failWith(ExitUsage, "config: %w", err)
	}

	ctx := cmd.Context()
	a, err := newApp(ctx, cfg)
	if err != nil {
		return failWith(ExitFailure, "startup: %w", err)
	}
	defer a.Close()

	stats := orchestrator.NewStats(a.store, cfg.AnalysisRetryInterval())

	report, err := buildStatsReport(ctx, stats, statsSourceID)
	if err != nil {
		return failWith(ExitFailure, "stats: %w", err)
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		return failWith(ExitFailure, "encode: %w", err)
	}
	return nil
}

func buildStatsReport(ctx context.Context, stats *orchestrator.Stats, sourceID string) (statsReport, error) {
	var report statsReport

	if sourceID != "" {
		crawl, err := stats.Crawl(ctx, sourceID)
		if err != nil {
			return statsReport{}, fmt.Errorf("crawl stats: %w", err)
		}
		report.Crawl = &crawl
	}

	filter := store.AnalysisFilter{}
	if sourceID != "" {
		filter.SourceID = &sourceID
	}

	summarize, err := stats.Analysis(ctx, analysis.MethodSummarize, filter)
	if err != nil {
		return statsReport{}, fmt.Errorf("summarize stats: %w", err)
	}
	report.Summarize = summarize

	ocr, err := stats.Analysis(ctx, analysis.MethodOCR, filter)
	if err != nil {
		return statsReport{}, fmt.Errorf("ocr stats: %w", err)
	}
	report.OCR = ocr

	return report, nil
}
