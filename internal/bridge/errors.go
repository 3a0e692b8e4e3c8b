package bridge

import (
	"errors"
	"fmt"
)

// ErrLineTooLong is reported to the line handler for a stdout line longer
// than the configured maximum. The line itself is discarded.
var ErrLineTooLong = errors.New("protocol line exceeds maximum length")

var (
	errTimeout   = errors.New("solver timed out")
	errCancelled = errors.New("solver cancelled")
)

// SpawnError means the solver process could not be started at all
// (missing binary, permission denied, bad working directory).
type SpawnError struct {
	Command string
	Err     error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("failed to start solver %q: %v", e.Command, e.Err)
}

func (e *SpawnError) Unwrap() error {
	return e.Err
}

// IsSpawnError checks if an error is or wraps a SpawnError.
func IsSpawnError(err error) bool {
	var se *SpawnError
	return errors.As(err, &se)
}
