// Package privacy scrubs values that must not leave the service, such as
// presigned URL signatures, credentials in connection strings and user ids
// embedded in object keys, from text sent to telemetry and event consumers.
package privacy

import (
	"crypto/sha256"
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

const redacted = "REDACTED"

var (
	urlPattern = regexp.MustCompile(`\b(?:https?|tcp|ssl|wss?|mqtts?|mysql|postgres(?:ql)?)://[^\s"'<>]+`)

	// Object keys are uploads/<owner>/<uuid>.<ext>
	userKeyPattern = regexp.MustCompile(`\buploads/[^/\s"']+/`)

	bearerPattern = regexp.MustCompile(`(?i)\bbearer\s+[A-Za-z0-9._~+/=-]+`)
)

// ScrubMessage redacts URLs, bearer tokens and owner ids in a free form
// message.
func ScrubMessage(message string) string {
	if message == "" {
		return message
	}
	message = urlPattern.ReplaceAllStringFunc(message, RedactURL)
	message = bearerPattern.ReplaceAllString(message, "Bearer "+redacted)
	return userKeyPattern.ReplaceAllString(message, "uploads/"+redacted+"/")
}

// RedactURL keeps the scheme and host of a URL and replaces credentials, the
// path and the query. A presigned URL becomes
// "https://s3.example.com/REDACTED?REDACTED". Unparsable input is hashed.
func RedactURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		hash := sha256.Sum256([]byte(rawURL))
		return fmt.Sprintf("url-hash-%x", hash[:8])
	}

	var b strings.Builder
	b.WriteString(u.Scheme)
	b.WriteString("://")
	if u.User != nil {
		b.WriteString(redacted)
		b.WriteByte('@')
	}
	b.WriteString(u.Host)
	if u.Path != "" && u.Path != "/" {
		b.WriteString("/" + redacted)
	}
	if u.RawQuery != "" {
		b.WriteString("?" + redacted)
	}
	return b.String()
}
