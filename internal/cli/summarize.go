package cli

import (
	"github.com/spf13/cobra"

	"github.com/foiacquire/crawler/internal/analysis"
)

var summarizeSourceID string

var summarizeCmd = &cobra.Command{
	Use:   "summarize",
	Short: "Run summarization analysis workers until interrupted",
	RunE:  runSummarize,
}

func init() {
	summarizeCmd.Flags().StringVar(&summarizeSourceID, "source", "", "restrict to one source (empty: all sources)")
}

func runSummarize(cmd *cobra.Command, args []string) error {
	return runAnalysisMethod(cmd, summarizeSourceID, func(a *app) analysis.Handler { return a.summarizeHandler() })
}
