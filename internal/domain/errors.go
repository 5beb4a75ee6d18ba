package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for the two terminal, safe failure classes. The HTTP
// layer maps them with errors.Is.
var (
	ErrValidation = errors.New("validation failed")
	ErrNotFound   = errors.New("not found")
)

// Validationf wraps ErrValidation with a caller-facing detail message.
func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// CollaboratorError reports a failed call to one of the external diagnostic
// agents. The session is left at its last persisted state.
type CollaboratorError struct {
	Agent string
	Err   error
}

func (e *CollaboratorError) Error() string {
	return fmt.Sprintf("%s agent: %v", e.Agent, e.Err)
}

func (e *CollaboratorError) Unwrap() error {
	return e.Err
}
