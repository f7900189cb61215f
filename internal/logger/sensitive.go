package logger

import (
	"regexp"
	"strings"
)

const redactedValue = "[REDACTED]"

// sensitiveKeywords mark field keys whose string values are never written
var sensitiveKeywords = []string{
	"password", "passwd", "secret", "token", "api_key", "apikey",
	"authorization", "access_key", "signature",
}

// sensitivePatterns match credentials embedded in free text
var sensitivePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(bearer\s+)([A-Za-z0-9\-._~+/]+=*)`),
	regexp.MustCompile(`(?i)(x-api-key[\s:=]+)([^;,\s]{3,})`),
	regexp.MustCompile(`(?i)(X-Amz-(?:Signature|Credential|Security-Token)=)([^&\s]+)`),
}

func isSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, kw := range sensitiveKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// RedactSensitiveData masks bearer tokens, API keys and presigned URL
// signatures in free text such as upstream error bodies.
func RedactSensitiveData(input string) string {
	for _, pattern := range sensitivePatterns {
		input = pattern.ReplaceAllString(input, "${1}"+redactedValue)
	}
	return input
}
