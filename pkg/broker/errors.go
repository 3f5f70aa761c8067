package broker

import (
	"errors"
	"fmt"
)

// ErrNotConnected is returned by venue calls made before Connect or after the
// connection dropped.
var ErrNotConnected = errors.New("broker: not connected")

// ErrOrderNotFound is returned when a broker order id is unknown to the venue.
var ErrOrderNotFound = errors.New("broker: order not found")

// ValidationError means the order shape was rejected before or by the venue.
// Recoverable by the caller correcting input.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid order: %s: %s", e.Field, e.Reason)
}

// ConnectionError means the venue was unreachable or a request timed out.
// Retryable with backoff; must never crash the engine.
type ConnectionError struct {
	Op  string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("broker connection: %s: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// IsConnectionError reports whether err is (or wraps) a connection failure.
func IsConnectionError(err error) bool {
	var ce *ConnectionError
	return errors.As(err, &ce) || errors.Is(err, ErrNotConnected)
}

// IsValidationError reports whether err is (or wraps) a validation failure.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
