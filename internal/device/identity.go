package device

import (
	"fmt"
	"strings"
	"unicode"
)

// Identity naming convention for Shelly devices announcing themselves on the
// broker, e.g. "shellyplus1-aabbccddeeff".
const (
	idPrefix    = "shelly"
	idSeparator = "-"
	minIDLength = 11
)

// ValidID reports whether id is an acceptable device identifier.
//
// A valid identifier starts with "shelly" (any case), contains a "-", is
// longer than 10 characters and holds no topic separators, wildcards or
// whitespace. Identifiers are derived from topic prefixes, so anything
// failing this check is treated as noise on the broker.
func ValidID(id string) bool {
	if len(id) < minIDLength {
		return false
	}
	if !strings.HasPrefix(strings.ToLower(id), idPrefix) {
		return false
	}
	if !strings.Contains(id, idSeparator) {
		return false
	}
	for _, r := range id {
		if r == '/' || r == '+' || r == '#' || unicode.IsSpace(r) || unicode.IsControl(r) {
			return false
		}
	}
	return true
}

// ValidateID returns an *IDError when ValidID rejects id.
func ValidateID(id string) error {
	if !ValidID(id) {
		return &IDError{ID: id}
	}
	return nil
}

// IDError describes a rejected device identifier.
type IDError struct {
	ID string
}

func (e *IDError) Error() string {
	return fmt.Sprintf("%s: %q", ErrInvalidID, e.ID)
}

// Unwrap allows errors.Is(err, ErrInvalidID).
func (e *IDError) Unwrap() error {
	return ErrInvalidID
}
