package delivery

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// ErrorCategory classifies transport failures.
type ErrorCategory string

const (
	// CategoryTimeout indicates the transport did not confirm within its window
	CategoryTimeout ErrorCategory = "timeout"

	// CategoryUnavailable indicates the transport could not be reached or is overloaded
	CategoryUnavailable ErrorCategory = "unavailable"

	// CategoryRejected indicates the transport answered but refused the event
	CategoryRejected ErrorCategory = "rejected"

	// CategoryCircuitOpen indicates the attempt was skipped by an open breaker
	CategoryCircuitOpen ErrorCategory = "circuit_open"

	// CategoryInternal indicates an unexpected failure, including a recovered panic
	CategoryInternal ErrorCategory = "internal"
)

// Sentinel errors. Use errors.Is to check for these conditions.
var (
	ErrEventLost   = errors.New("verification event lost: every transport and the fallback sink failed")
	ErrCircuitOpen = errors.New("circuit open")
)

// TransportError is a recoverable failure of one transport. The chain logs it
// and moves on to the next transport.
type TransportError struct {
	Category  ErrorCategory
	Transport string
	Message   string
	Err       error
}

// Error implements the error interface
func (e *TransportError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("transport %s [%s]: %s: %v", e.Transport, e.Category, e.Message, e.Err)
	}
	return fmt.Sprintf("transport %s [%s]: %s", e.Transport, e.Category, e.Message)
}

// Unwrap supports error unwrapping
func (e *TransportError) Unwrap() error {
	return e.Err
}

// NewTransportError creates a categorized transport error.
func NewTransportError(category ErrorCategory, transport, message string, err error) *TransportError {
	return &TransportError{
		Category:  category,
		Transport: transport,
		Message:   message,
		Err:       err,
	}
}

// IsTransportError reports whether err is or wraps a TransportError.
func IsTransportError(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// CategoryOf extracts the error category from an error
func CategoryOf(err error) ErrorCategory {
	var te *TransportError
	if errors.As(err, &te) {
		return te.Category
	}
	return CategoryInternal
}

// CategoryFromContext maps a failed call to timeout when a deadline elapsed
// and to fallback otherwise.
func CategoryFromContext(err error, fallback ErrorCategory) ErrorCategory {
	if errors.Is(err, context.DeadlineExceeded) {
		return CategoryTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return CategoryTimeout
	}
	return fallback
}

// EncodingError reports that an event could not be serialized. It is fatal:
// no transport is attempted.
type EncodingError struct {
	Err error
}

func (e *EncodingError) Error() string {
	return fmt.Sprintf("encode verification event: %v", e.Err)
}

func (e *EncodingError) Unwrap() error {
	return e.Err
}
