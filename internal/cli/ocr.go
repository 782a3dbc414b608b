package cli

import (
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/foiacquire/crawler/internal/analysis"
	"github.com/foiacquire/crawler/internal/orchestrator"
	"github.com/foiacquire/crawler/internal/store"
)

var ocrSourceID string

var ocrCmd = &cobra.Command{
	Use:   "ocr",
	Short: "Run OCR analysis workers until interrupted",
	RunE:  runOCR,
}

func init() {
	ocrCmd.Flags().StringVar(&ocrSourceID, "source", "", "restrict to one source (empty: all sources)")
}

func runOCR(cmd *cobra.Command, args []string) error {
	return runAnalysisMethod(cmd, ocrSourceID, func(a *app) analysis.Handler { return a.ocrHandler() })
}

func runAnalysisMethod(cmd *cobra.Command, sourceID string, handler func(a *app) analysis.Handler) error {
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

	filter := store.AnalysisFilter{}
	if sourceID != "" {
		filter.SourceID = &sourceID
	}

	orch := orchestrator.New(
		orchestrator.Params{
			AnalysisWorkers: cfg.AnalysisWorkers(),
			AnalysisBatch:   20,
			PollInterval:    2 * time.Second,
			RetryInterval:   cfg.AnalysisRetryInterval(),
		},
		a.store, "", "", nil, a.store, nil, nil, a.rec, nil, cfg.DataDir(),
		a.pipeline, []analysis.Handler{handler(a)}, filter,
	)

	if err := orch.Run(ctx); err != nil && ctx.Err() == nil {
		return failWith(ExitFailure, "analysis: %w", err)
	}
	return nil
}
