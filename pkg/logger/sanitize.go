package logger

import (
	"net/url"
	"strings"
)

const redacted = "[REDACTED]"

// sensitiveParams are query keys whose values never reach the logs
var sensitiveParams = map[string]bool{
	"password":      true,
	"token":         true,
	"secret":        true,
	"code":          true,
	"email":         true,
	"access_token":  true,
	"refresh_token": true,
	"auth":          true,
}

// SanitizedEmail masks an email address for logging (e.g., "u***@*******.com")
func SanitizedEmail(email string) string {
	at := strings.LastIndex(email, "@")
	if at <= 0 || at == len(email)-1 {
		return "[invalid-email]"
	}

	username := email[:at]
	domain := email[at+1:]

	// Keep the first character of the local part
	if len(username) > 1 {
		username = username[:1] + strings.Repeat("*", len(username)-1)
	}

	// Keep only the TLD of the domain
	domainParts := strings.Split(domain, ".")
	if len(domainParts) > 1 {
		for i := 0; i < len(domainParts)-1; i++ {
			domainParts[i] = strings.Repeat("*", len(domainParts[i]))
		}
		domain = strings.Join(domainParts, ".")
	}

	return username + "@" + domain
}

// SanitizeQueryString reports whether the query carries a sensitive parameter
func SanitizeQueryString(rawQuery string) bool {
	if rawQuery == "" {
		return false
	}
	values, err := url.ParseQuery(rawQuery)
	if err != nil {
		// Unparseable queries are treated as sensitive
		return true
	}
	for key := range values {
		if sensitiveParams[strings.ToLower(key)] {
			return true
		}
	}
	return false
}

// RedactQuery returns rawQuery with the values of sensitive parameters replaced.
// Keys are kept so the access log still shows the request shape.
func RedactQuery(rawQuery string) string {
	if !SanitizeQueryString(rawQuery) {
		return rawQuery
	}
	values, err := url.ParseQuery(rawQuery)
	if err != nil {
		return redacted
	}
	for key := range values {
		if sensitiveParams[strings.ToLower(key)] {
			values[key] = []string{redacted}
		}
	}
	return values.Encode()
}
