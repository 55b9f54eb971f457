package domain

import "log/slog"

// SecretString holds a credential (access token, refresh token, password).
// It prints and logs as "[REDACTED]"; serializers that read the underlying
// string (encoding/json, yaml) still see the real value.
type SecretString string

// String returns a redacted placeholder, never the actual value.
func (s SecretString) String() string {
	return "[REDACTED]"
}

// LogValue keeps the value out of slog output even when attribute-key redaction misses it.
func (s SecretString) LogValue() slog.Value {
	return slog.StringValue("[REDACTED]")
}

// Expose returns the actual secret value.
// Only call it where the raw value is needed, e.g. building an Authorization header.
func (s SecretString) Expose() string {
	return string(s)
}

// IsEmpty returns true if the secret is empty.
func (s SecretString) IsEmpty() bool {
	return len(s) == 0
}

var _ slog.LogValuer = SecretString("")
