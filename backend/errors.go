package backend

import (
	"fmt"
	"strings"
)

// TransportError wraps a failure from the backend transport with context.
type TransportError struct {
	Message string
	Cause   error
}

func (e *TransportError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *TransportError) Unwrap() error {
	return e.Cause
}

// transientMarkers are message fragments that identify transport failures
// safe to retry: dropped or refused connections, HTTP/2 GOAWAY, truncated
// streams, and timeouts.
var transientMarkers = []string{
	"GOAWAY",
	"connection reset",
	"connection refused",
	"connection terminated",
	"EOF",
	"timeout",
}

// Retryable reports whether err is a transient transport failure. All other
// failures are terminal immediately.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, marker := range transientMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
