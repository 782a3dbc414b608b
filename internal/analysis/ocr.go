package analysis

import (
	"context"
	"strings"

	"github.com/foiacquire/crawler/internal/store"
	"github.com/foiacquire/crawler/pkg/failure"
	"github.com/foiacquire/crawler/pkg/hashutil"
)

// ocrPreferenceRatio is the 120% rule of spec §4.3 step 4: OCR text
// replaces the extractor's text only when it yields at least this many
// times the extractor's whitespace-stripped character count.
const ocrPreferenceRatio = 1.2

// OCRHandler implements the "ocr" method's Handler: page count
// determination, raw extraction, OCR fallback with the 120% preference
// rule, and the tool-missing / tool-failure / format-unsupported
// taxonomy (spec §4.3 "Per-page sub-pipeline (OCR)").
type OCRHandler struct {
	backend Backend
	tools   Tooling
}

func NewOCRHandler(backend Backend, tools Tooling) *OCRHandler {
	return &OCRHandler{backend: backend, tools: tools}
}

func (h *OCRHandler) Method() string { return MethodOCR }

func (h *OCRHandler) Run(ctx context.Context, documentID string, versionID int64) ([]byte, *AnalysisError) {
	version, err := h.backend.GetVersion(ctx, versionID)
	if err != nil {
		return nil, newAnalysisError(failure.CategoryInvariantViolation, "get version %d: %v", versionID, err)
	}

	if version.MimeType != "application/pdf" {
		// Format unsupported: success with empty output, not an error,
		// so the task is never retried (spec §4.3 "Failure taxonomy").
		return []byte{}, nil
	}

	pageCount := version.PageCount
	if pageCount == 0 {
		counted, aerr := h.tools.PageCount(ctx, version.FilePath)
		if aerr != nil {
			return nil, aerr
		}
		if err := h.backend.SetVersionPageCount(ctx, versionID, counted); err != nil {
			return nil, newAnalysisError(failure.CategoryInvariantViolation, "set page count: %v", err)
		}
		pageCount = counted
	}

	if err := h.backend.CreatePages(ctx, documentID, versionID, pageCount); err != nil {
		return nil, newAnalysisError(failure.CategoryInvariantViolation, "create pages: %v", err)
	}

	pages, err := h.backend.ListPages(ctx, versionID)
	if err != nil {
		return nil, newAnalysisError(failure.CategoryInvariantViolation, "list pages: %v", err)
	}

	finalTexts := make([]string, 0, len(pages))
	for _, page := range pages {
		if page.Status == store.PageStatusOCRComplete && page.FinalText != nil {
			finalTexts = append(finalTexts, *page.FinalText)
			continue
		}

		text, aerr := h.processPage(ctx, version.FilePath, page)
		if aerr != nil {
			// A page-level failure fails the whole version's "ocr" row
			// so it becomes re-eligible after the cooldown; the page
			// itself is marked failed so a retry does not redo the
			// pages that already succeeded (spec §3 "failed may be
			// retried by replacing the row").
			_ = h.backend.FailPage(ctx, page.ID)
			return nil, aerr
		}
		finalTexts = append(finalTexts, text)
	}

	return []byte(strings.Join(finalTexts, "\n\n")), nil
}

// processPage runs steps 3-5 of the sub-pipeline for one page: raw
// extraction, OCR fallback, 120% comparison, and persistence of the
// winning text.
func (h *OCRHandler) processPage(ctx context.Context, filePath string, page store.DocumentPage) (string, *AnalysisError) {
	extracted, aerr := h.tools.ExtractPageText(ctx, filePath, page.PageNumber)
	if aerr != nil {
		return "", aerr
	}
	if err := h.backend.SetPageExtractedText(ctx, page.ID, extracted); err != nil {
		return "", newAnalysisError(failure.CategoryInvariantViolation, "set extracted text: %v", err)
	}

	extractedCount := strippedLen(extracted)

	image, aerr := h.tools.RenderPageImage(ctx, filePath, page.PageNumber)
	if aerr != nil {
		// Rendering failed but the extractor already produced text:
		// fall back to it rather than failing the page outright.
		if extractedCount > 0 {
			if err := h.backend.CompletePage(ctx, page.ID, nil, extracted, nil); err != nil {
				return "", newAnalysisError(failure.CategoryInvariantViolation, "complete page: %v", err)
			}
			return extracted, nil
		}
		return "", aerr
	}

	imageHash, _ := hashutil.HashBytes(image, hashutil.HashAlgoBLAKE3)

	ocrText, aerr := h.tools.OCRImage(ctx, image)
	if aerr != nil {
		if extractedCount > 0 {
			if err := h.backend.CompletePage(ctx, page.ID, nil, extracted, &imageHash); err != nil {
				return "", newAnalysisError(failure.CategoryInvariantViolation, "complete page: %v", err)
			}
			return extracted, nil
		}
		return "", aerr
	}

	ocrCount := strippedLen(ocrText)
	final := extracted
	if float64(ocrCount) >= float64(extractedCount)*ocrPreferenceRatio {
		final = ocrText
	}

	if err := h.backend.CompletePage(ctx, page.ID, &ocrText, final, &imageHash); err != nil {
		return "", newAnalysisError(failure.CategoryInvariantViolation, "complete page: %v", err)
	}
	return final, nil
}

// strippedLen counts characters with whitespace removed, the basis for
// the 120% OCR-preference comparison (spec §4.3 step 4).
func strippedLen(s string) int {
	n := 0
	for _, r := range s {
		if !isSpaceRune(r) {
			n++
		}
	}
	return n
}

func isSpaceRune(r rune) bool {
	switch r {
	case ' ', '\t', '\n', '\r', '\f', '\v':
		return true
	default:
		return false
	}
}

