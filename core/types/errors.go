package types

import (
	"errors"
	"fmt"
)

// Structural failures shared by every engine. Package-level sentinels wrap
// these so callers can match on either.
var (
	ErrInvalidInput  = errors.New("invalid input")
	ErrCycleDetected = errors.New("cycle detected")
	ErrStaleSnapshot = errors.New("stale snapshot")
)

// InvalidInputf formats a message wrapping ErrInvalidInput.
func InvalidInputf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}
