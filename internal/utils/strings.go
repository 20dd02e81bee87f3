// Package utils provides common utility functions.
package utils

// Truncate shortens s to at most max runes, appending "..." when cut.
// Use this when logging event payloads or chat text to keep log lines sane.
func Truncate(s string, max int) string {
	if max <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	if max <= 3 {
		return string(runes[:max])
	}
	return string(runes[:max-3]) + "..."
}
