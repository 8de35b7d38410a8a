package directive

import (
	"errors"
	"fmt"
)

// Validation errors reported by Parse and NewSet.
var (
	ErrNoDirectives         = errors.New("no directives given")
	ErrAmbiguousSource      = errors.New("directive sets both from and write")
	ErrMissingSource        = errors.New("directive needs either from or write")
	ErrInvalidFromType      = errors.New("directive from must be a string")
	ErrInvalidToType        = errors.New("directive to must be present and a string")
	ErrInvalidFnType        = errors.New("directive fn must be a unary function")
	ErrInvalidOverwriteType = errors.New("directive overwrite must be a boolean")
	ErrDuplicateDestination = errors.New("two or more directives share the same to")
	ErrInvalidCandidate     = errors.New("directive must be an object")
)

// Error locates a validation failure within a directive set.
type Error struct {
	Index int
	Field string
	Err   error
}

func (e *Error) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("directive %d: %v", e.Index, e.Err)
	}
	return fmt.Sprintf("directive %d (%s): %v", e.Index, e.Field, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(index int, field string, err error) *Error {
	return &Error{Index: index, Field: field, Err: err}
}
