package upstream

import (
	"errors"
	"fmt"
)

// Error is a non-2xx response (or transport failure) from one of the
// third-party APIs the pipeline talks to. Callers use errors.As to get at
// the status code:
//
//	var upErr *upstream.Error
//	if errors.As(err, &upErr) && upErr.StatusCode == http.StatusNotFound { ... }
type Error struct {
	// Service names the upstream API: "openpath", "google" or "slack".
	Service    string
	Method     string
	URL        string
	StatusCode int
	// Body is a truncated copy of the response body, if any.
	Body string
	Err  error
}

func (e *Error) Error() string {
	if e.StatusCode == 0 && e.Err != nil {
		return fmt.Sprintf("%s: %s %s: %v", e.Service, e.Method, e.URL, e.Err)
	}
	msg := fmt.Sprintf("%s: %s %s returned status code %d", e.Service, e.Method, e.URL, e.StatusCode)
	if e.Body != "" {
		msg += ": " + e.Body
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// StatusCode returns the HTTP status carried by an *Error anywhere in err's
// chain, or 0.
func StatusCode(err error) int {
	var upErr *Error
	if errors.As(err, &upErr) {
		return upErr.StatusCode
	}
	return 0
}

// ServiceOf returns the upstream service name of the first *Error in err's
// chain, or "".
func ServiceOf(err error) string {
	var upErr *Error
	if errors.As(err, &upErr) {
		return upErr.Service
	}
	return ""
}

// Truncate shortens s to maxLen bytes for inclusion in logs and errors.
func Truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
