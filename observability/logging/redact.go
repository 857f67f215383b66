package logging

import (
	"log/slog"
	"strings"
)

// RedactedValue replaces values that must not reach the logs.
const RedactedValue = "[REDACTED]"

const visibleIDPrefix = 4

// identityKeys hold account-like identifiers. The handler shortens them to a
// prefix so log lines still correlate.
var identityKeys = map[string]struct{}{
	"account":  {},
	"referrer": {},
	"referee":  {},
	"reviewer": {},
	"subject":  {},
}

// plainKeys are emitted verbatim by MaskField.
var plainKeys = map[string]struct{}{
	"epoch":    {},
	"phase":    {},
	"status":   {},
	"activity": {},
	"version":  {},
	"reason":   {},
	"error":    {},
}

func normalizeKey(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}

// shortID keeps the leading characters of id. Ids too short to shorten are
// masked entirely.
func shortID(id string) string {
	id = strings.TrimSpace(id)
	switch {
	case id == "", id == RedactedValue:
		return id
	case len(id) <= visibleIDPrefix:
		return RedactedValue
	case strings.HasSuffix(id, "***"):
		return id
	default:
		return id[:visibleIDPrefix] + "***"
	}
}

// Account renders an account id with only its prefix visible.
func Account(id string) slog.Attr {
	return slog.String("account", shortID(id))
}

// MaskField redacts value unless key is one of the plain operational keys.
// Identity keys are shortened instead of removed.
func MaskField(key, value string) slog.Attr {
	k := normalizeKey(key)
	if _, ok := identityKeys[k]; ok {
		return slog.String(key, shortID(value))
	}
	if _, ok := plainKeys[k]; ok || strings.TrimSpace(value) == "" {
		return slog.String(key, value)
	}
	return slog.String(key, RedactedValue)
}

// redactIdentity is installed as part of the handler's ReplaceAttr so plain
// slog.String("referee", id) calls are shortened too.
func redactIdentity(attr slog.Attr) slog.Attr {
	if attr.Value.Kind() != slog.KindString {
		return attr
	}
	if _, ok := identityKeys[normalizeKey(attr.Key)]; !ok {
		return attr
	}
	return slog.String(attr.Key, shortID(attr.Value.String()))
}
