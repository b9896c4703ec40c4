package logger

import (
	"log/slog"
	"strings"
)

// SanitizedUsername masks a username for logging (e.g., "k****a").
// Attempted usernames are attacker-controlled and may contain
// addresses or other identifying strings.
func SanitizedUsername(username string) string {
	if username == "" {
		return "[empty]"
	}
	if len(username) <= 2 {
		return strings.Repeat("*", len(username))
	}
	return string(username[0]) + strings.Repeat("*", len(username)-2) + string(username[len(username)-1])
}

// RedactedAttr returns a redacted slog attribute for sensitive values
// In production, returns "[REDACTED]"; in development, returns the actual value
func RedactedAttr(key, value, env string) slog.Attr {
	if env == "production" {
		return slog.String(key, "[REDACTED]")
	}
	return slog.String(key, value)
}

// SanitizeQueryString checks if query string contains sensitive parameters
// and returns true if the entire query string should be redacted
func SanitizeQueryString(rawQuery string) bool {
	sensitiveParams := map[string]bool{
		"password": true,
		"pin":      true,
		"token":    true,
		"secret":   true,
		"api_key":  true,
		"apikey":   true,
		"username": true,
		"auth":     true,
	}

	query := strings.ToLower(rawQuery)
	for param := range sensitiveParams {
		if strings.Contains(query, param) {
			return true
		}
	}
	return false
}
