// Package analysis drives the claim-based per-page analysis pipeline of
// spec §4.3: at-most-one worker per (document, version, method), a
// cooldown-governed retry window on failure, and the OCR sub-pipeline's
// page-by-page extractor/OCR comparison.
//
// Grounded in the teacher's scheduler.Scheduler for the worker-loop shape
// (pick work, run it, classify the error, continue or abort) and in
// internal/store/analysis.go + pages.go for the claim protocol this
// package orchestrates rather than re-implements.
package analysis

import (
	"context"
	"time"

	"github.com/foiacquire/crawler/internal/store"
)

// Method names recognized by the pipeline (spec §4.3 "Work item key").
const (
	MethodOCR       = "ocr"
	MethodSummarize = "summarize"
)

// Backend is the slice of *store.Store the pipeline needs, named
// explicitly so tests can fake it without a database.
type Backend interface {
	ClaimAnalysis(ctx context.Context, documentID string, versionID int64, method string) (bool, error)
	StoreAnalysisResult(ctx context.Context, documentID string, versionID int64, method, backend string, output []byte, errMsg *string) error
	GetAnalysisResult(ctx context.Context, documentID string, versionID int64, method string) (store.AnalysisResult, error)
	CountNeedingAnalysis(ctx context.Context, method string, filter store.AnalysisFilter, retryInterval time.Duration, now time.Time) (int64, error)
	GetNeedingAnalysis(ctx context.Context, method string, filter store.AnalysisFilter, retryInterval time.Duration, now time.Time) ([]store.NeedingAnalysisItem, error)

	GetVersion(ctx context.Context, versionID int64) (store.DocumentVersion, error)
	SetVersionPageCount(ctx context.Context, versionID int64, pageCount int) error
	CreatePages(ctx context.Context, documentID string, versionID int64, count int) error
	ListPages(ctx context.Context, versionID int64) ([]store.DocumentPage, error)
	SetPageExtractedText(ctx context.Context, pageID int64, text string) error
	CompletePage(ctx context.Context, pageID int64, ocrText *string, finalText string, imageHash *string) error
	FailPage(ctx context.Context, pageID int64) error
}

// Handler implements one analysis method's actual work. Run must not
// call ClaimAnalysis or StoreAnalysisResult itself — Pipeline.RunOne
// owns the claim/store protocol around it.
type Handler interface {
	Method() string
	Run(ctx context.Context, documentID string, versionID int64) ([]byte, *AnalysisError)
}
