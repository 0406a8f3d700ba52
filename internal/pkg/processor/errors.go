package processor

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrTransient marks failures that may succeed on retry: timeouts,
	// rate limits, connection errors and processor 5xx responses.
	ErrTransient = errors.New("processor: transient failure")
	// ErrRejected marks requests the processor refused as invalid.
	ErrRejected = errors.New("processor: request rejected")
	// ErrNotFound is returned when the processor has no such object.
	ErrNotFound = errors.New("processor: object not found")
)

// RequestError carries the processor response details of a failed call.
type RequestError struct {
	Op         string
	StatusCode int
	Code       string
	Message    string
	kind       error
}

func (e *RequestError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: status %d (%s): %s", e.Op, e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: status %d: %s", e.Op, e.StatusCode, e.Message)
}

func (e *RequestError) Unwrap() error {
	return e.kind
}

// NewRequestError builds a RequestError classified by HTTP status.
func NewRequestError(op string, status int, code, message string) *RequestError {
	return &RequestError{Op: op, StatusCode: status, Code: code, Message: message, kind: classifyStatus(status)}
}

func classifyStatus(status int) error {
	switch {
	case status == 404:
		return ErrNotFound
	case status == 409 || status == 429 || status >= 500 || status == 0:
		return ErrTransient
	default:
		return ErrRejected
	}
}

// IsTransient reports whether err should be surfaced as retryable.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}

// IsRejected reports whether the processor refused the request as invalid.
func IsRejected(err error) bool {
	return errors.Is(err, ErrRejected)
}

// transport wraps failures that never produced an API response. Timeouts
// and connection errors are transient; caller cancellation passes through.
func transport(op string, err error) error {
	if errors.Is(err, context.Canceled) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %v", op, ErrTransient, err)
}

// Kind returns a short label for err suitable for metrics.
func Kind(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, ErrTransient):
		return "transient"
	case errors.Is(err, ErrRejected):
		return "rejected"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "other"
	}
}
