package events

import (
	"fmt"

	"github.com/pkg/errors"
)

// DeserializationError marks a payload that could not be decoded into its
// declared event type. It is never retried; the dead-letter path captures it.
type DeserializationError struct {
	EventType string
	Err       error
}

func (e *DeserializationError) Error() string {
	return fmt.Sprintf("cannot deserialize event %s: %s", e.EventType, e.Err)
}

func (e *DeserializationError) Unwrap() error {
	return e.Err
}

// IsDeserializationError reports whether err is a DeserializationError
// anywhere in its chain.
func IsDeserializationError(err error) bool {
	var target *DeserializationError
	return errors.As(err, &target)
}
