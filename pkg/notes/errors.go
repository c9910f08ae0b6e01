package notes

import (
	"errors"
	"fmt"
)

// ErrCompilation is matched by every *CompilationError.
var ErrCompilation = errors.New("note compilation failed")

// CompilationError reports malformed intent parameters or a failed script
// compilation. It is surfaced to the user and never retried automatically.
type CompilationError struct {
	Kind   Kind
	Field  string
	Reason string
	Err    error
}

func (e *CompilationError) Error() string {
	msg := fmt.Sprintf("compile %s note", e.Kind)
	if e.Field != "" {
		msg += ": " + e.Field
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *CompilationError) Is(target error) bool { return target == ErrCompilation }

func (e *CompilationError) Unwrap() error { return e.Err }

func invalid(kind Kind, field, reason string) error {
	return &CompilationError{Kind: kind, Field: field, Reason: reason}
}
