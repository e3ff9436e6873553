// Package textutil cleans free-form text supplied by clients.
package textutil

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

var strict = bluemonday.StrictPolicy()

// SanitizeText strips all markup and surrounding whitespace. Entities produced by the policy
// are unescaped again so stored values stay plain text.
func SanitizeText(value string) string {
	return strings.TrimSpace(html.UnescapeString(strict.Sanitize(value)))
}

// SanitizeContext returns a copy of a client supplied context map with every string value
// sanitised. Keys are trimmed and empty keys dropped. Nested maps and slices are walked;
// nil values are kept because they mark keys for deletion.
func SanitizeContext(values map[string]any) map[string]any {
	if values == nil {
		return nil
	}
	out := make(map[string]any, len(values))
	for key, value := range values {
		trimmed := SanitizeText(key)
		if trimmed == "" {
			continue
		}
		out[trimmed] = sanitizeValue(value)
	}
	return out
}

func sanitizeValue(value any) any {
	switch v := value.(type) {
	case string:
		return SanitizeText(v)
	case map[string]any:
		return SanitizeContext(v)
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = sanitizeValue(item)
		}
		return out
	default:
		return value
	}
}
