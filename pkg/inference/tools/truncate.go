package tools

import (
	"fmt"
	"unicode/utf8"
)

// TruncateOutput keeps the head and the tail of output so that the result,
// marker included, fits in maxChars. A non-positive maxChars disables
// truncation.
func TruncateOutput(output string, maxChars int) string {
	if maxChars <= 0 || len(output) <= maxChars {
		return output
	}

	marker := fmt.Sprintf("\n\n[output truncated: %d of %d characters removed. Re-run the tool with narrower parameters to see the rest.]\n\n",
		len(output)-maxChars, len(output))
	budget := maxChars - len(marker)
	if budget <= 0 {
		return CutPrefix(output, maxChars)
	}

	head := CutPrefix(output, budget-budget/2)
	tail := cutSuffix(output, budget/2)
	return head + marker + tail
}

// CutPrefix returns at most n leading bytes of s without splitting a rune.
func CutPrefix(s string, n int) string {
	if n >= len(s) {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// cutSuffix returns at most n trailing bytes of s without splitting a rune.
func cutSuffix(s string, n int) string {
	if n >= len(s) {
		return s
	}
	start := len(s) - n
	for start < len(s) && !utf8.RuneStart(s[start]) {
		start++
	}
	return s[start:]
}
