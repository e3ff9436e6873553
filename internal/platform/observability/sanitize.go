package observability

import (
	"strings"
	"unicode"
)

// sanitizeString drops control characters and truncates to limit runes so request
// values cannot forge log lines.
func sanitizeString(value string, limit int) string {
	var b strings.Builder
	n := 0
	for _, r := range value {
		if n == limit {
			break
		}
		if unicode.IsControl(r) {
			continue
		}
		b.WriteRune(r)
		n++
	}
	return b.String()
}

func SanitizeRoute(route string) string {
	if route = sanitizeString(route, 180); route == "" {
		return "/"
	}
	return route
}

func SanitizeMethod(method string) string { return sanitizeString(method, 10) }
