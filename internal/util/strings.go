// Package util provides small internal helpers shared across packages.
package util

// SafeTruncate returns at most maxLen characters of s. Used when logging
// prefixes of secrets so the full value never reaches the logs.
func SafeTruncate(s string, maxLen int) string {
	if maxLen <= 0 {
		return ""
	}
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}
