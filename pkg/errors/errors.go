// Package errors defines the error taxonomy shared by every pipeline stage and
// maps it onto process exit codes.
package errors

import (
	"errors"
	"fmt"
)

var (
	ErrMissingInput    = errors.New("missing input")
	ErrReadWrite       = errors.New("read/write failure")
	ErrCountMismatch   = errors.New("count mismatch")
	ErrInvalidDocument = errors.New("invalid document")
	ErrInvalidConfig   = errors.New("invalid configuration")
	ErrNotFound        = errors.New("not found")
)

const (
	ExitOK            = 0
	ExitFailure       = 1
	ExitInvalidConfig = 2
	ExitCorruption    = 3
)

type AppError struct {
	Err      error
	Message  string
	ExitCode int
}

func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Err.Error(), e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func New(sentinel error, exitCode int, message string) *AppError {
	return &AppError{
		Err:      sentinel,
		Message:  message,
		ExitCode: exitCode,
	}
}

func Newf(sentinel error, exitCode int, format string, args ...any) *AppError {
	return &AppError{
		Err:      sentinel,
		Message:  fmt.Sprintf(format, args...),
		ExitCode: exitCode,
	}
}

// ExitCode returns the process exit status for err. A CountMismatch always
// maps to ExitCorruption since it means the shard set can no longer be trusted.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	var appErr *AppError
	if errors.As(err, &appErr) && appErr.ExitCode != 0 {
		return appErr.ExitCode
	}

	switch {
	case errors.Is(err, ErrCountMismatch):
		return ExitCorruption
	case errors.Is(err, ErrInvalidConfig):
		return ExitInvalidConfig
	default:
		return ExitFailure
	}
}

// IsRecoverable reports whether err belongs to the stage-local classes that are
// logged and skipped rather than propagated.
func IsRecoverable(err error) bool {
	return errors.Is(err, ErrMissingInput) || errors.Is(err, ErrReadWrite)
}
