package logger

import (
	"log/slog"
	"strings"
)

// SanitizedEmail masks an email address for logging (e.g., "u***@*****.com")
func SanitizedEmail(email string) string {
	username, domain, ok := strings.Cut(email, "@")
	if !ok || strings.Contains(domain, "@") {
		return "[invalid-email]"
	}

	if len(username) > 1 {
		username = username[:1] + strings.Repeat("*", len(username)-1)
	}

	// Mask all but the TLD
	domainParts := strings.Split(domain, ".")
	if len(domainParts) > 1 {
		for i := 0; i < len(domainParts)-1; i++ {
			domainParts[i] = strings.Repeat("*", len(domainParts[i]))
		}
		domain = strings.Join(domainParts, ".")
	}

	return username + "@" + domain
}

// SanitizedPhone keeps only the last two digits (e.g., "+*********42")
func SanitizedPhone(phone string) string {
	if len(phone) <= 2 {
		return strings.Repeat("*", len(phone))
	}
	prefix := ""
	rest := phone
	if strings.HasPrefix(phone, "+") {
		prefix = "+"
		rest = phone[1:]
	}
	if len(rest) <= 2 {
		return prefix + rest
	}
	return prefix + strings.Repeat("*", len(rest)-2) + rest[len(rest)-2:]
}

// SanitizedIdentifier masks an email or phone, whichever it looks like
func SanitizedIdentifier(identifier string) string {
	if strings.Contains(identifier, "@") {
		return SanitizedEmail(identifier)
	}
	return SanitizedPhone(identifier)
}

// RedactedAttr returns a redacted slog attribute for sensitive values.
// In production it returns "[REDACTED]"; elsewhere the actual value.
func RedactedAttr(key, value, env string) slog.Attr {
	if env == "production" {
		return slog.String(key, "[REDACTED]")
	}
	return slog.String(key, value)
}

var sensitiveParams = []string{
	"password", "token", "secret", "code", "invite", "email", "phone", "auth",
}

// SanitizeQueryString reports whether a query string carries sensitive
// parameters and should be dropped from access logs
func SanitizeQueryString(rawQuery string) bool {
	query := strings.ToLower(rawQuery)
	for _, param := range sensitiveParams {
		if strings.Contains(query, param) {
			return true
		}
	}
	return false
}
