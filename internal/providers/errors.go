package providers

import (
	"errors"
	"fmt"
)

// ErrInvalidArgument is matched by every precondition failure.
var ErrInvalidArgument = errors.New("invalid argument")

// ValidationError represents a precondition violation on a request
type ValidationError struct {
	Field   string
	Value   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s=%q: %s", e.Field, e.Value, e.Message)
}

func (e *ValidationError) Is(target error) bool { return target == ErrInvalidArgument }

// Invalid builds a ValidationError.
func Invalid(field, value, format string, args ...interface{}) error {
	return &ValidationError{Field: field, Value: value, Message: fmt.Sprintf(format, args...)}
}

// BackendError wraps a failed strategy call with the task key it belongs to.
type BackendError struct {
	Op  string
	Key string
	Err error
}

func (e *BackendError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s(%s): %v", e.Op, e.Key, e.Err)
}

func (e *BackendError) Unwrap() error { return e.Err }

// OrphanError reports a creation that failed after the backend had already
// allocated a node for it.
type OrphanError struct {
	NodeID string
	Err    error
}

func (e *OrphanError) Error() string {
	return fmt.Sprintf("node %s allocated but not ready: %v", e.NodeID, e.Err)
}

func (e *OrphanError) Unwrap() error { return e.Err }

// OrphanID returns the backend id carried by an OrphanError anywhere in err's chain.
func OrphanID(err error) (string, bool) {
	var oe *OrphanError
	if errors.As(err, &oe) && oe.NodeID != "" {
		return oe.NodeID, true
	}
	return "", false
}
