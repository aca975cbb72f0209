package logging

import (
	"errors"
	"strings"
)

// OperationError records which step of a measurement failed. ID names the
// HTTP request or capture the step ran for and may be empty for steps that
// belong to neither, such as dialling the estimator.
type OperationError struct {
	Operation string
	ID        string
	Err       error
}

// NewOperationError wraps err with the failing step. A nil err stays nil.
func NewOperationError(operation, id string, err error) error {
	if err == nil {
		return nil
	}
	return &OperationError{Operation: operation, ID: id, Err: err}
}

func (e *OperationError) Error() string {
	if e == nil || e.Err == nil {
		return ""
	}
	var b strings.Builder
	b.WriteString(e.Operation)
	if e.ID != "" {
		b.WriteString("[")
		b.WriteString(e.ID)
		b.WriteString("]")
	}
	b.WriteString(": ")
	b.WriteString(e.Err.Error())
	return b.String()
}

func (e *OperationError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// OperationOf returns the outermost failed step recorded in err's chain, or
// "" when err carries none.
func OperationOf(err error) string {
	var opErr *OperationError
	if errors.As(err, &opErr) {
		return opErr.Operation
	}
	return ""
}
