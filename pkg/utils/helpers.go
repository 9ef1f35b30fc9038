package utils

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// ParseDuration safely parses duration string like "5m", falling back to def
func ParseDuration(d string, def time.Duration) time.Duration {
	if d == "" {
		return def
	}
	duration, err := time.ParseDuration(d)
	if err != nil || duration <= 0 {
		return def
	}
	return duration
}

// SanitizeKey turns an arbitrary key value into a safe file name component.
// Anything outside [A-Za-z0-9._-] becomes '_'. When that changes the value a
// short hash of the original is appended so distinct keys never share a name.
func SanitizeKey(key string) string {
	return sanitize(key, false)
}

// HashedKey is SanitizeKey with the hash suffix always appended. Callers use it
// for keys whose plain name differs from another key's only by letter case.
func HashedKey(key string) string {
	return sanitize(key, true)
}

func sanitize(key string, hashed bool) string {
	var b strings.Builder
	changed := false
	for _, r := range key {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		case r == '.' && b.Len() > 0:
			b.WriteRune(r)
		default:
			b.WriteByte('_')
			changed = true
		}
	}
	if !hashed && !changed && b.Len() > 0 {
		return b.String()
	}
	sum := sha256.Sum256([]byte(key))
	return b.String() + "-" + hex.EncodeToString(sum[:4])
}

// SplitFields splits a line on delim, trimming a trailing CR
func SplitFields(line, delim string) []string {
	line = strings.TrimRight(line, "\r\n")
	return strings.Split(line, delim)
}
