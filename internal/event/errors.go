package event

import "fmt"

// MalformedEventError is returned when the trigger record cannot be decoded
// into a clock event.
type MalformedEventError struct {
	Reason string
	Err    error
}

func (e *MalformedEventError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed event: %s: %v", e.Reason, e.Err)
	}
	return "malformed event: " + e.Reason
}

func (e *MalformedEventError) Unwrap() error { return e.Err }

// AuthorizationError is returned when the shared secret in the body does not
// match the configured one.
type AuthorizationError struct {
	UserID string
}

func (e *AuthorizationError) Error() string {
	return "invalid API key"
}
