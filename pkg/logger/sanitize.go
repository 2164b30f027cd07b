package logger

import (
	"strings"
)

// SanitizedEmail masks an email address for logging (e.g., "u***@e***.com")
func SanitizedEmail(email string) string {
	parts := strings.Split(strings.TrimSpace(email), "@")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "[invalid-email]"
	}

	username := parts[0]
	domain := parts[1]

	// keep the first character of the local part
	if len(username) > 1 {
		username = string(username[0]) + strings.Repeat("*", len(username)-1)
	}

	// keep the TLD only
	domainParts := strings.Split(domain, ".")
	if len(domainParts) > 1 {
		for i := 0; i < len(domainParts)-1; i++ {
			domainParts[i] = strings.Repeat("*", len(domainParts[i]))
		}
		domain = strings.Join(domainParts, ".")
	}

	return username + "@" + domain
}

var sensitiveQueryKeys = []string{
	"password", "token", "secret", "code", "otp", "mfa", "email", "auth",
}

// SensitiveQuery reports whether a raw query string mentions any sensitive
// parameter, in which case the whole query should be redacted
func SensitiveQuery(rawQuery string) bool {
	query := strings.ToLower(rawQuery)
	for _, key := range sensitiveQueryKeys {
		if strings.Contains(query, key) {
			return true
		}
	}
	return false
}
