package domain

import (
	"errors"
	"fmt"
)

// Common domain errors
var (
	ErrConfigInvalid  = errors.New("invalid configuration")
	ErrStageNotFound  = errors.New("stage not found")
	ErrMalformedEntry = errors.New("malformed entry")
	ErrNotValidated   = errors.New("stage has not been validated")
)

// StageError wraps a failure with the stage it originated from.
type StageError struct {
	StageID string
	Err     error
}

func (e *StageError) Error() string {
	if e.StageID == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("stage %q: %v", e.StageID, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}
