package oauth

// RedactedToken wraps a secret so that accidental formatting or logging never
// exposes it. The underlying value is only reachable through Reveal.
type RedactedToken struct {
	value string
}

// NewRedactedToken wraps a secret value.
func NewRedactedToken(value string) RedactedToken {
	return RedactedToken{value: value}
}

// Reveal returns the wrapped secret. Call sites should be easy to audit.
func (r RedactedToken) Reveal() string {
	return r.value
}

// Empty reports whether no secret is wrapped.
func (r RedactedToken) Empty() bool {
	return r.value == ""
}

// String implements fmt.Stringer and never returns the secret.
func (r RedactedToken) String() string {
	if r.value == "" {
		return ""
	}
	return "[REDACTED]"
}

// GoString keeps %#v output safe as well.
func (r RedactedToken) GoString() string {
	return "oauth.RedactedToken{value: \"[REDACTED]\"}"
}

// MarshalJSON redacts the secret in any serialized form.
func (r RedactedToken) MarshalJSON() ([]byte, error) {
	if r.value == "" {
		return []byte(`""`), nil
	}
	return []byte(`"[REDACTED]"`), nil
}
