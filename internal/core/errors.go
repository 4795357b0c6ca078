package core

import (
	"errors"
	"fmt"
)

var (
	ErrSessionNotFound  = errors.New("import session not found")
	ErrImportInProgress = errors.New("import already in progress")
	ErrNoValidRows      = errors.New("no valid rows to import")
	ErrNotRetryable     = errors.New("import has not failed; nothing to retry")
	ErrNoFile           = errors.New("no file provided")
	ErrNoImport         = errors.New("no import has been started")
	ErrPresetNotFound   = errors.New("saved mapping not found")
)

// TransitionError is returned when an operation is not allowed in the
// session's current stage.
type TransitionError struct {
	Op    string
	Stage Stage
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid stage transition: cannot %s during %s", e.Op, e.Stage)
}

// ErrInvalidTransition matches every *TransitionError with errors.Is.
var ErrInvalidTransition = errors.New("invalid stage transition")

func (e *TransitionError) Is(target error) bool { return target == ErrInvalidTransition }
