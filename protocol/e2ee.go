package protocol

import "strings"

const e2eePrefix = "v1:"

// IsValidEnvelope classifies body as a well-formed opaque E2EE envelope.
// It never decodes base64 or inspects segment length, only grammar.
func IsValidEnvelope(body string) bool {
	if !strings.HasPrefix(body, e2eePrefix) {
		return false
	}
	parts := strings.Split(body, ":")
	if len(parts) != 4 {
		return false
	}
	for _, seg := range parts[1:] {
		if !isBase64ish(seg) {
			return false
		}
	}
	return true
}

// isBase64ish reports whether s is nonempty and drawn only from the
// standard-or-URL-safe base64 alphabet plus padding.
func isBase64ish(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		switch {
		case c >= 'A' && c <= 'Z':
		case c >= 'a' && c <= 'z':
		case c >= '0' && c <= '9':
		case c == '+' || c == '/' || c == '=' || c == '-' || c == '_':
		default:
			return false
		}
	}
	return true
}
