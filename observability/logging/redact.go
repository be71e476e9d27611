package logging

import (
	"log/slog"
	"strings"
)

// RedactedValue is the canonical placeholder used for sensitive fields in logs.
// Hashlock preimages and signing keys must never appear in log output; the
// hashlock itself is safe to emit.
const RedactedValue = "[REDACTED]"

var sensitiveKeys = map[string]struct{}{
	"secret":   {},
	"preimage": {},
	"key":      {},
	"key_hex":  {},
	"private":  {},
}

// IsSensitive reports whether the provided key must be redacted before logging.
func IsSensitive(key string) bool {
	normalized := strings.ToLower(strings.TrimSpace(key))
	if _, ok := sensitiveKeys[normalized]; ok {
		return true
	}
	return strings.Contains(normalized, "secret") || strings.Contains(normalized, "private")
}

// MaskField returns a slog.Attr with the value replaced by the redaction
// placeholder when the key names sensitive material. Empty values pass through
// to avoid introducing noise in logs.
func MaskField(key, value string) slog.Attr {
	if strings.TrimSpace(value) == "" || !IsSensitive(key) {
		return slog.String(key, value)
	}
	return slog.String(key, RedactedValue)
}
