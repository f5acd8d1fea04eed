// Package secret provides a redacted string wrapper used for every token,
// API key, password, private key, IP address, and refresh token in Loom.
package secret

import "encoding/json"

// Redacted is the fixed literal every observation of a Secret yields instead
// of its real value.
const Redacted = "[REDACTED]"

// Secret wraps an owned string-like value so that logging, printing, and
// serialization never leak it by accident. The only way to observe the real
// value is Expose.
type Secret[T ~string] struct {
	value T
}

// New wraps value in a Secret.
func New[T ~string](value T) Secret[T] {
	return Secret[T]{value: value}
}

// Expose returns the underlying value. Call sites must not pass the result
// to a logger, error message, or anything that gets serialized.
func (s Secret[T]) Expose() T {
	return s.value
}

// Clone returns a copy of the secret. Secret is a value type so this is
// equivalent to assignment, but it documents intent at call sites that used
// to clone a boxed/reference-counted secret in other languages.
func (s Secret[T]) Clone() Secret[T] {
	return Secret[T]{value: s.value}
}

// Equal reports whether two secrets wrap the same underlying value.
// Comparison is not constant-time; use it for identity, not credential
// verification.
func (s Secret[T]) Equal(other Secret[T]) bool {
	return s.value == other.value
}

// IsZero reports whether the secret wraps the zero value of T.
func (s Secret[T]) IsZero() bool {
	var zero T
	return s.value == zero
}

// String implements fmt.Stringer, returning the redacted literal.
func (s Secret[T]) String() string {
	return Redacted
}

// GoString implements fmt.GoStringer, so %#v formatting is also redacted.
func (s Secret[T]) GoString() string {
	return Redacted
}

// MarshalJSON always serializes to the redacted literal. Secrets must never
// be persisted or transmitted in plaintext through the generic JSON path.
func (s Secret[T]) MarshalJSON() ([]byte, error) {
	return json.Marshal(Redacted)
}

// UnmarshalJSON accepts any JSON string as the wrapped value.
func (s *Secret[T]) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	s.value = T(raw)
	return nil
}
