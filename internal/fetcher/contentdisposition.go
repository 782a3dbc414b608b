package fetcher

import (
	"mime"
	"net/url"
	"strings"
)

// ParseContentDispositionFilename extracts a filename from a
// Content-Disposition header value, recognizing both RFC 2616
// (`filename="…"`) and RFC 5987 (`filename*=UTF-8''…`) forms (spec §4.2
// "Content-disposition filename parsing"). RFC 5987 takes precedence when
// both are present, since it carries an explicit charset and is the more
// recent of the two. Whitespace is trimmed; an empty header, or one from
// which no filename can be extracted, yields "" ("no filename"). A value
// mime.ParseMediaType rejects is scanned field by field instead.
func ParseContentDispositionFilename(header string) string {
	if strings.TrimSpace(header) == "" {
		return ""
	}

	_, params, err := mime.ParseMediaType(header)
	if err != nil {
		return extractFilenameStarManually(header)
	}

	if star := params["filename*"]; star != "" {
		if name := decodeRFC5987(star); name != "" {
			return name
		}
	}

	return strings.TrimSpace(params["filename"])
}

// decodeRFC5987 decodes the `charset'language'value` form mime.ParseMediaType
// leaves un-decoded (it hands back the raw extended-value string for the
// "filename*" key without interpreting the percent-encoding).
func decodeRFC5987(raw string) string {
	parts := strings.SplitN(raw, "'", 3)
	if len(parts) != 3 {
		return ""
	}
	decoded, err := url.QueryUnescape(parts[2])
	if err != nil {
		return ""
	}
	return strings.TrimSpace(decoded)
}

// extractFilenameStarManually is the fallback path for header values
// mime.ParseMediaType rejects outright (e.g. bare `filename*=...` with no
// disposition type), scanning for either form directly.
func extractFilenameStarManually(header string) string {
	for _, field := range strings.Split(header, ";") {
		field = strings.TrimSpace(field)
		if v, ok := cutPrefixFold(field, "filename*="); ok {
			if name := decodeRFC5987(strings.Trim(v, `"`)); name != "" {
				return name
			}
		}
	}
	for _, field := range strings.Split(header, ";") {
		field = strings.TrimSpace(field)
		if v, ok := cutPrefixFold(field, "filename="); ok {
			return strings.Trim(strings.TrimSpace(v), `"`)
		}
	}
	return ""
}

func cutPrefixFold(s, prefix string) (string, bool) {
	if len(s) < len(prefix) || !strings.EqualFold(s[:len(prefix)], prefix) {
		return "", false
	}
	return s[len(prefix):], true
}
