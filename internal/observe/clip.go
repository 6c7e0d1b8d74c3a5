package observe

import "unicode/utf8"

// Clip shortens s to at most n bytes on a rune boundary, marking the cut.
func Clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	const marker = "..."
	if n <= len(marker) {
		return Prefix(s, n)
	}
	return Prefix(s, n-len(marker)) + marker
}

// Prefix returns the longest prefix of s that is at most n bytes and does
// not split a rune.
func Prefix(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:max(n, 0)]
}
