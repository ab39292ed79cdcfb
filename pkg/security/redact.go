package security

import "strings"

// Redact hides all but the last four characters of a secret so it can be
// logged to tell keys apart.
func Redact(secret string) string {
	if secret == "" {
		return ""
	}
	if len(secret) <= 8 {
		return strings.Repeat("*", len(secret))
	}
	return "..." + secret[len(secret)-4:]
}
