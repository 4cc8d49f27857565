package logging

import (
	"log/slog"
	"sort"
	"strings"
)

// RedactedValue replaces masked values in log output.
const RedactedValue = "[REDACTED]"

// Attributes whose key contains one of these fragments are masked by every
// logger built with SetupWithOptions.
var sensitiveFragments = []string{
	"passphrase",
	"password",
	"secret",
	"token",
	"authorization",
	"private_key",
	"privkey",
}

// Ledger identities and amounts are public; MaskField leaves them readable.
var publicKeys = map[string]struct{}{
	"op":        {},
	"kind":      {},
	"bounty":    {},
	"company":   {},
	"hunter":    {},
	"winner":    {},
	"caller":    {},
	"address":   {},
	"amount":    {},
	"method":    {},
	"route":     {},
	"component": {},
}

func normalizeKey(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}

// IsSensitive reports whether values under key are always masked.
func IsSensitive(key string) bool {
	k := normalizeKey(key)
	for _, fragment := range sensitiveFragments {
		if strings.Contains(k, fragment) {
			return true
		}
	}
	return false
}

// IsPublic reports whether MaskField emits key in clear text.
func IsPublic(key string) bool {
	_, ok := publicKeys[normalizeKey(key)]
	return ok && !IsSensitive(key)
}

// PublicKeys lists the keys MaskField leaves readable, sorted.
func PublicKeys() []string {
	keys := make([]string, 0, len(publicKeys))
	for key := range publicKeys {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func MaskValue(value string) string {
	if strings.TrimSpace(value) == "" {
		return value
	}
	return RedactedValue
}

// MaskField masks value unless key is public. Use it for caller-supplied data
// such as client addresses that should not reach shared log storage.
func MaskField(key, value string) slog.Attr {
	if IsPublic(key) {
		return slog.String(key, value)
	}
	return slog.String(key, MaskValue(value))
}

func redactAttr(attr slog.Attr) slog.Attr {
	if attr.Value.Kind() == slog.KindGroup || !IsSensitive(attr.Key) {
		return attr
	}
	return slog.String(attr.Key, MaskValue(attr.Value.String()))
}
