package transfer

import (
	"errors"
	"fmt"
)

// ErrFileTooLarge is returned by Submit when the file exceeds Options.MaxFileSize.
// It is surfaced before planning and never retried.
var ErrFileTooLarge = errors.New("file exceeds maximum allowed size")

// ErrSessionNotFound is returned by registry operations for an unknown session id.
var ErrSessionNotFound = errors.New("session not found")

// ErrInvalidState is returned by control operations that don't apply to the
// session's current status (e.g. resuming a session that isn't paused).
var ErrInvalidState = errors.New("operation not valid in current session state")

// IntegrityError reports a whole-file digest mismatch discovered after every
// chunk was acknowledged. It is fatal: the file must be re-uploaded in full.
type IntegrityError struct {
	FileName string
	Expected string
	Actual   string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("integrity check failed for %s: expected digest %s, got %s", e.FileName, e.Expected, e.Actual)
}
