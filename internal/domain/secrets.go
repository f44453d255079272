package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
)

// redacted is what a Token renders as anywhere outside the wire.
const redacted = "[REDACTED]"

// Token is an opaque credential (access or refresh token).
// It implements slog.LogValuer and fmt.Stringer so that a token that ends
// up in a log line or an error message is never printed in clear.
type Token string

// String returns a redacted placeholder, never the actual value.
func (t Token) String() string {
	if t == "" {
		return ""
	}
	return redacted
}

// LogValue logs the token as its fingerprint so rotations can be followed
// across log lines without exposing the credential.
func (t Token) LogValue() slog.Value {
	if t == "" {
		return slog.StringValue("")
	}
	return slog.StringValue("fp:" + t.Fingerprint())
}

// Reveal returns the raw credential. Only the transport layer and the
// credential stores should need it.
func (t Token) Reveal() string {
	return string(t)
}

// IsEmpty returns true if no credential is held.
func (t Token) IsEmpty() bool {
	return len(t) == 0
}

// Fingerprint returns the first 8 hex chars of the SHA-256 of the token.
func (t Token) Fingerprint() string {
	h := sha256.Sum256([]byte(t))
	return hex.EncodeToString(h[:4])
}

var _ slog.LogValuer = Token("")
