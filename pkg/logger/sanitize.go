package logger

import (
	"strings"
	"unicode/utf8"
)

// SanitizedEmail masks an email address for logging (e.g., "u***@e***.com")
func SanitizedEmail(email string) string {
	username, domain, ok := strings.Cut(email, "@")
	if !ok || username == "" || domain == "" || strings.Contains(domain, "@") {
		return "[invalid-email]"
	}

	// Mask username: keep first char, mask rest
	runes := []rune(username)
	if len(runes) > 1 {
		username = string(runes[0]) + strings.Repeat("*", len(runes)-1)
	}

	// Mask domain: keep TLD, mask the rest
	domainParts := strings.Split(domain, ".")
	if len(domainParts) > 1 {
		for i := 0; i < len(domainParts)-1; i++ {
			domainParts[i] = strings.Repeat("*", utf8.RuneCountInString(domainParts[i]))
		}
		domain = strings.Join(domainParts, ".")
	}

	return username + "@" + domain
}

// TokenFingerprint shortens a token digest to a log-safe prefix.
func TokenFingerprint(digest string) string {
	if len(digest) <= 8 {
		return digest
	}
	return digest[:8]
}

// SanitizeQueryString reports whether the query string carries sensitive
// parameters and must be redacted from request logs
func SanitizeQueryString(rawQuery string) bool {
	sensitiveParams := []string{
		"password",
		"token",
		"secret",
		"email",
		"auth",
		"key",
	}

	query := strings.ToLower(rawQuery)
	for _, param := range sensitiveParams {
		if strings.Contains(query, param) {
			return true
		}
	}
	return false
}
