package inference

import (
	"errors"
	"fmt"
)

// TransportError wraps a failure to reach the endpoint or read its reply
// (connection refused, DNS, timeouts, truncated bodies).
type TransportError struct {
	Endpoint string
	Err      error
}

// Error implements the error interface.
func (e *TransportError) Error() string {
	return fmt.Sprintf("inference [%s]: transport: %v", e.Endpoint, e.Err)
}

// Unwrap returns the underlying error.
func (e *TransportError) Unwrap() error {
	return e.Err
}

// StatusError is a non-success reply from the endpoint.
type StatusError struct {
	Endpoint   string
	StatusCode int
	Message    string
}

// Error implements the error interface.
func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("inference [%s]: status %d: %s", e.Endpoint, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("inference [%s]: status %d", e.Endpoint, e.StatusCode)
}

// IsServerError reports a 5xx status.
func (e *StatusError) IsServerError() bool {
	return e.StatusCode >= 500 && e.StatusCode < 600
}

// PayloadError is a success reply whose body could not be turned into
// measurements.
type PayloadError struct {
	Endpoint string
	Err      error
}

// Error implements the error interface.
func (e *PayloadError) Error() string {
	return fmt.Sprintf("inference [%s]: malformed payload: %v", e.Endpoint, e.Err)
}

// Unwrap returns the underlying error.
func (e *PayloadError) Unwrap() error {
	return e.Err
}

// Kind classifies an inference failure for diagnostics.
type Kind string

const (
	KindTransport Kind = "transport"
	KindStatus    Kind = "status"
	KindPayload   Kind = "payload"
	KindUnknown   Kind = "unknown"
)

// Classify returns the Kind of err. Errors not produced by this package
// are reported as KindUnknown.
func Classify(err error) Kind {
	var (
		transportErr *TransportError
		statusErr    *StatusError
		payloadErr   *PayloadError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &statusErr):
		return KindStatus
	case errors.As(err, &payloadErr):
		return KindPayload
	case errors.As(err, &transportErr):
		return KindTransport
	default:
		return KindUnknown
	}
}
