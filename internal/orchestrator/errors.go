package orchestrator

import (
	"errors"
	"fmt"
)

var (
	// ErrHalted is returned when a full cycle is refused because the halt
	// sentinel is present.
	ErrHalted = errors.New("pipeline halted")

	// ErrUnknownStage is returned for a stage name that is not registered.
	ErrUnknownStage = errors.New("unknown stage")
)

// StageErrorCode categorizes stage failures.
type StageErrorCode string

const (
	// CodeFailed means the stage returned an error.
	CodeFailed StageErrorCode = "FAILED"
	// CodeTimeout means the stage exceeded its time bound.
	CodeTimeout StageErrorCode = "TIMEOUT"
	// CodePanic means the stage panicked and was recovered.
	CodePanic StageErrorCode = "PANIC"
	// CodeExit means an external stage program exited non-zero.
	CodeExit StageErrorCode = "EXIT"
)

// StageError records why one stage of a cycle failed.
type StageError struct {
	Stage string
	Code  StageErrorCode
	Cause error
}

// Error implements the error interface.
func (e *StageError) Error() string {
	return fmt.Sprintf("%s: stage %s: %v", e.Code, e.Stage, e.Cause)
}

// Unwrap returns the underlying cause.
func (e *StageError) Unwrap() error {
	return e.Cause
}

// IsTimeout reports whether err is a stage timeout.
func IsTimeout(err error) bool {
	var se *StageError
	if errors.As(err, &se) {
		return se.Code == CodeTimeout
	}
	return false
}

// IsPanic reports whether err is a recovered stage panic.
func IsPanic(err error) bool {
	var se *StageError
	if errors.As(err, &se) {
		return se.Code == CodePanic
	}
	return false
}
