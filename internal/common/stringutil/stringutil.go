// Package stringutil holds the small string helpers shared across packages.
package stringutil

import "strings"

// TruncateString cuts s down to at most maxLen bytes.
func TruncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}

// TruncateStringWithEllipsis cuts s down to at most maxLen bytes, replacing
// the tail with "..." when something was dropped. Below maxLen 4 there is no
// room for the marker, so it falls back to a plain cut.
func TruncateStringWithEllipsis(s string, maxLen int) string {
	if maxLen < 4 {
		return TruncateString(s, maxLen)
	}
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}

// NormalizeToken lowercases and trims a registry token so that assign/deny
// list entries match regardless of case or surrounding whitespace.
func NormalizeToken(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// FirstNonEmpty returns the first non-empty string from the arguments.
func FirstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
