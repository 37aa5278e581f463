package types

// SecretString wraps sensitive configuration values so they cannot leak
// through logs or JSON encoding. The zero value is empty; use Reveal to get
// the underlying value at the point of use.
type SecretString string

const redacted = "[REDACTED]"

// String implements fmt.Stringer, always redacted.
func (s SecretString) String() string {
	if s == "" {
		return ""
	}
	return redacted
}

// MarshalJSON always emits the redaction marker, never the value.
func (s SecretString) MarshalJSON() ([]byte, error) {
	if s == "" {
		return []byte(`""`), nil
	}
	return []byte(`"` + redacted + `"`), nil
}

// Reveal returns the underlying secret value.
func (s SecretString) Reveal() string {
	return string(s)
}

// IsSet reports whether a value is present.
func (s SecretString) IsSet() bool {
	return s != ""
}
