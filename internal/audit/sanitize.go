package audit

import "strings"

// RedactionMarker replaces values stored under sensitive-looking keys.
const RedactionMarker = "[REDACTED]"

// sensitiveKeyTokens match by case-insensitive substring. Substring
// matching over-redacts (e.g. "sshKeyPath"), which is the safe direction
// for an audit trail.
var sensitiveKeyTokens = []string{
	"password",
	"passwd",
	"pwd",
	"secret",
	"token",
	"credential",
	"key",
	"apikey",
}

func isSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, tok := range sensitiveKeyTokens {
		if strings.Contains(lower, tok) {
			return true
		}
	}
	return false
}

// sanitizeDetails returns a copy with sensitive keys redacted. Nested
// maps are sanitized recursively; the caller's map is never mutated.
func sanitizeDetails(details map[string]any) map[string]any {
	if details == nil {
		return nil
	}
	out := make(map[string]any, len(details))
	for k, v := range details {
		if isSensitiveKey(k) {
			out[k] = RedactionMarker
			continue
		}
		if sub, ok := v.(map[string]any); ok {
			out[k] = sanitizeDetails(sub)
			continue
		}
		out[k] = v
	}
	return out
}
