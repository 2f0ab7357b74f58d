package types

// SecretString wraps a sensitive value so it cannot leak through logging or
// fmt verbs. The raw value is only reachable through Reveal.
type SecretString struct {
	value string
}

// NewSecretString wraps a raw secret value.
func NewSecretString(v string) SecretString { return SecretString{value: v} }

// Reveal returns the raw secret value.
func (s SecretString) Reveal() string { return s.value }

// IsZero reports whether the secret is empty.
func (s SecretString) IsZero() bool { return s.value == "" }

// String implements fmt.Stringer and always redacts.
func (s SecretString) String() string {
	if s.value == "" {
		return ""
	}
	return "[REDACTED]"
}

// Decode implements envconfig.Decoder so SecretString fields can be
// populated directly from the environment.
func (s *SecretString) Decode(value string) error {
	s.value = value
	return nil
}

// MarshalJSON redacts the value in any serialized output.
func (s SecretString) MarshalJSON() ([]byte, error) {
	return []byte(`"[REDACTED]"`), nil
}
