// Package htmltext is the raw-text extraction backend for
// mime_type=text/html document versions in the per-page analysis
// pipeline (spec §4.3 step 3). It pulls visible body text, stripping
// script/style/navigation chrome, and hands back a single string — no
// page splitting, since HTML versions are not paginated the way PDFs are.
//
// Grounded in the teacher's internal/extractor.DomExtractor, narrowed
// from "isolate main documentation content with selector heuristics" to
// the pipeline's actual need: plain visible text to feed into OCR-style
// character-count comparisons and summarization.
package htmltext

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// noiseSelectors are removed before text is pulled, mirroring the
// teacher's chrome-stripping rules (nav, header/footer, scripts, styles).
var noiseSelectors = []string{
	"script", "style", "noscript", "nav", "header", "footer",
	"aside", "form", "iframe", "svg",
}

// Extract returns the visible text of an HTML document, whitespace
// collapsed to single spaces between block-level boundaries.
func Extract(htmlBytes []byte) (string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(htmlBytes))
	if err != nil {
		return "", fmt.Errorf("htmltext: parse: %w", err)
	}

	for _, sel := range noiseSelectors {
		doc.Find(sel).Remove()
	}

	body := doc.Find("body")
	if body.Length() == 0 {
		body = doc.Selection
	}

	// Insert a newline at each leaf block boundary before flattening to
	// text, so collapseWhitespace below doesn't run adjacent paragraphs
	// into one line while still doing a single non-duplicating text walk.
	body.Find("p, div, li, h1, h2, h3, h4, h5, h6, td, pre, blockquote, br").
		AfterHtml("\n")

	return collapseWhitespace(body.Text()), nil
}

// collapseWhitespace squashes runs of horizontal whitespace within each
// line while keeping the line breaks inserted at block boundaries, so
// paragraph structure survives for anything downstream that cares (a
// summarizer prompt, a human reading the extracted text).
func collapseWhitespace(s string) string {
	lines := strings.Split(s, "\n")
	var kept []string
	for _, line := range lines {
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		kept = append(kept, strings.Join(fields, " "))
	}
	return strings.Join(kept, "\n")
}
