package lobby

import (
	"errors"
	"fmt"
)

// ErrNotLoggedIn is returned when a connection attempts a session action
// before setting a display name, or when a profile update targets an id the
// registry does not know.
var ErrNotLoggedIn = errors.New("not logged in")

// ErrNoPartnerAvailable is returned when a pair-only relay finds no valid
// two-member session for the sender.
var ErrNoPartnerAvailable = errors.New("no partner available")

// ErrStaleReference is returned when an operation names a connection or
// session that has already been cleaned up. Callers treat it as a no-op.
var ErrStaleReference = errors.New("stale reference")

// ErrAlreadyGone is returned by Registry.Unregister when the connection was
// already removed. It wraps ErrStaleReference.
var ErrAlreadyGone = fmt.Errorf("connection already gone: %w", ErrStaleReference)

// ErrAlreadyInSession is returned when a connection that still holds a
// session is placed into another one.
var ErrAlreadyInSession = errors.New("connection already in a session")

// ErrSelfMatch is returned when a pair session would contain the same
// connection twice.
var ErrSelfMatch = errors.New("connection cannot be paired with itself")

// ValidationError reports a missing or malformed field in client input.
// The offending connection's state is never changed when it is returned.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "invalid input: " + e.Reason
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Invalid builds a ValidationError for field.
func Invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// IsValidation reports whether err is or wraps a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
