package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// Exit codes for rsi commands.
const (
	ExitSuccess      = 0 // Everything that ran succeeded
	ExitFailure      = 1 // A cycle or stage failed, or the pipeline is halted
	ExitCommandError = 2 // Bad flags, unreadable config, unopenable database
)

// Error codes reported in JSON output.
const (
	CodeCycleFailed = "E001"
	CodeHalted      = "E002"
	CodeStageFailed = "E003"
	CodeConfig      = "E100"
)

// ExitError carries the process exit code for a failed command.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// NewExitError creates an ExitError without a cause.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError wraps err with an exit code.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode extracts the exit code from err. Errors that are not an
// ExitError map to ExitFailure; nil maps to ExitSuccess.
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// OutputFormatter writes command results as text or JSON.
type OutputFormatter struct {
	Format  string
	Writer  io.Writer
	Verbose bool
}

// CLIResponse is the JSON envelope for every command.
type CLIResponse struct {
	Status string    `json:"status"`
	Data   any       `json:"data,omitempty"`
	Error  *CLIError `json:"error,omitempty"`
}

// CLIError is the error part of a CLIResponse.
type CLIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// Render writes data. JSON output wraps it in an "ok" envelope; text output
// calls text, which may be nil to print nothing.
func (f *OutputFormatter) Render(data any, text func(io.Writer) error) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{Status: "ok", Data: data})
	}
	if text == nil {
		return nil
	}
	return text(f.Writer)
}

// Fail writes a failed result. JSON output carries data as details so
// callers still see the cycle summary that failed.
func (f *OutputFormatter) Fail(code, message string, data any, text func(io.Writer) error) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{
			Status: "error",
			Error:  &CLIError{Code: code, Message: message, Details: data},
		})
	}
	if text != nil {
		if err := text(f.Writer); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintf(f.Writer, "Error [%s]: %s\n", code, message)
	return err
}
