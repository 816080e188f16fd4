package order

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrNotFound is returned when an order has no events in the store.
var ErrNotFound = errors.New("order not found")

// ValidationError marks malformed input to an aggregate operation.
// It is never retried.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "order validation failed: " + e.Reason
}

// IsValidationError reports whether err is a ValidationError anywhere in its chain.
func IsValidationError(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}

// InvalidStateError marks an operation that is illegal in the order's current
// status. It is never retried.
type InvalidStateError struct {
	Op     string
	Status Status
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("cannot %s order in status %s", e.Op, e.Status)
}

// IsInvalidStateError reports whether err is an InvalidStateError anywhere in
// its chain.
func IsInvalidStateError(err error) bool {
	var target *InvalidStateError
	return errors.As(err, &target)
}

func validationErrorf(format string, args ...any) error {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}
