package analysis

import (
	"context"
	"os"

	"github.com/foiacquire/crawler/internal/analysis/htmltext"
	"github.com/foiacquire/crawler/internal/analysis/llm"
	"github.com/foiacquire/crawler/internal/store"
	"github.com/foiacquire/crawler/pkg/failure"
)

// SummarizeHandler implements the "summarize" method: gather a
// document version's text (HTML via htmltext, PDF via the already
// OCR'd page text when available, otherwise the raw extractor) and send
// it through the configured LLM backend (spec §6 "LLM endpoint, LLM
// model").
type SummarizeHandler struct {
	backend     Backend
	summarizer  llm.Summarizer
	tools       Tooling
}

func NewSummarizeHandler(backend Backend, summarizer llm.Summarizer, tools Tooling) *SummarizeHandler {
	return &SummarizeHandler{backend: backend, summarizer: summarizer, tools: tools}
}

func (h *SummarizeHandler) Method() string { return MethodSummarize }

func (h *SummarizeHandler) Run(ctx context.Context, documentID string, versionID int64) ([]byte, *AnalysisError) {
	version, err := h.backend.GetVersion(ctx, versionID)
	if err != nil {
		return nil, newAnalysisError(failure.CategoryInvariantViolation, "get version %d: %v", versionID, err)
	}

	text, aerr := h.gatherText(ctx, version)
	if aerr != nil {
		return nil, aerr
	}
	if text == "" {
		// Format unsupported / nothing to summarize: success, empty
		// output, never retried.
		return []byte{}, nil
	}

	summary, err := h.summarizer.Summarize(ctx, text)
	if err != nil {
		return nil, newAnalysisError(failure.CategoryToolFailure, "summarize: %v", err)
	}
	return []byte(summary), nil
}

// gatherText produces the plain text to summarize for version, per mime
// type. A PDF's already-OCR'd page text is preferred over re-running the
// raw extractor, since the OCR pipeline has already resolved the
// extractor-vs-OCR choice per page (spec §4.3 step 4).
func (h *SummarizeHandler) gatherText(ctx context.Context, version store.DocumentVersion) (string, *AnalysisError) {
	switch version.MimeType {
	case "text/html":
		raw, err := os.ReadFile(version.FilePath)
		if err != nil {
			return "", newAnalysisError(failure.CategoryInvariantViolation, "read %s: %v", version.FilePath, err)
		}
		text, err := htmltext.Extract(raw)
		if err != nil {
			return "", newAnalysisError(failure.CategoryToolFailure, "extract html text: %v", err)
		}
		return text, nil

	case "application/pdf":
		pages, err := h.backend.ListPages(ctx, version.ID)
		if err != nil {
			return "", newAnalysisError(failure.CategoryInvariantViolation, "list pages: %v", err)
		}
		var combined string
		for _, page := range pages {
			if page.FinalText == nil {
				continue
			}
			if combined != "" {
				combined += "\n\n"
			}
			combined += *page.FinalText
		}
		if combined != "" {
			return combined, nil
		}
		// OCR hasn't run for this version yet: fall back to a direct
		// raw-extraction pass over the whole document.
		raw, aerr := h.tools.run(ctx, h.tools.pdftotextPath, "-raw", version.FilePath, "-")
		if aerr != nil {
			return "", aerr
		}
		return string(raw), nil

	case "text/plain":
		raw, err := os.ReadFile(version.FilePath)
		if err != nil {
			return "", newAnalysisError(failure.CategoryInvariantViolation, "read %s: %v", version.FilePath, err)
		}
		return string(raw), nil

	default:
		return "", nil
	}
}
