package shared

import (
	"fmt"
	"regexp"
	"strings"
)

const redactedPlaceholder = "[REDACTED]"

// secretPatterns matches secret-bearing fragments in log and error strings.
var secretPatterns = []*regexp.Regexp{
	// password=..., "password":"...", passwd: ...
	regexp.MustCompile(`(?i)("?(?:password|passwd|pass)"?\s*[:=]\s*)"?([^"\s,}]+)"?`),
	// Bearer tokens in Authorization headers.
	regexp.MustCompile(`(?i)(Bearer\s+)([A-Za-z0-9_\-./+=]{16,})`),
	// Session and auth tokens.
	regexp.MustCompile(`(?i)((?:session|auth|access|refresh)[_-]?token"?\s*[:=]\s*)"?([A-Za-z0-9_\-./+=]{8,})"?`),
}

// dataURLPattern matches base64 data URLs so image bytes never end up in logs.
var dataURLPattern = regexp.MustCompile(`data:([a-z]+/[a-z0-9.+-]+)?;base64,[A-Za-z0-9+/=]+`)

// Redact replaces secret-bearing patterns in the input string with [REDACTED]
// and collapses data URLs to their media type and size.
func Redact(input string) string {
	if input == "" {
		return input
	}
	result := input
	for _, pat := range secretPatterns {
		result = pat.ReplaceAllStringFunc(result, func(match string) string {
			submatch := pat.FindStringSubmatch(match)
			if len(submatch) >= 3 {
				return submatch[1] + redactedPlaceholder
			}
			return redactedPlaceholder
		})
	}
	return dataURLPattern.ReplaceAllStringFunc(result, func(match string) string {
		media := "application/octet-stream"
		if sub := dataURLPattern.FindStringSubmatch(match); len(sub) > 1 && sub[1] != "" {
			media = sub[1]
		}
		return fmt.Sprintf("data:%s;base64,[%d bytes]", media, len(match))
	})
}

// RedactField returns [REDACTED] for values whose key looks secret.
func RedactField(key, value string) string {
	keyLower := strings.ToLower(key)
	for _, sensitive := range []string{"password", "passwd", "secret", "token", "credential"} {
		if strings.Contains(keyLower, sensitive) {
			return redactedPlaceholder
		}
	}
	return value
}
