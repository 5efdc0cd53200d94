package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// Process exit codes.
const (
	ExitSuccess      = 0 // Command completed
	ExitFailure      = 1 // Archive is not in the expected state (verify issues, no fixpoint)
	ExitCommandError = 2 // Command could not run (bad config, unreadable store or ledger)
)

// Codes carried in error responses.
const (
	ErrCodeGeneric      = "E001" // Anything without a more specific code
	ErrCodeConfig       = "E002" // Config load or validation failed
	ErrCodeNotFound     = "E005" // Input path does not exist
	ErrCodeStore        = "E007" // Minute store or ledger access failed
	ErrCodeVerifyFailed = "E201" // Minute files failed verification
	ErrCodeNoFixpoint   = "E202" // Merge passes did not converge
)

// ExitError carries the process exit code for a failed command.
type ExitError struct {
	Code    int
	Message string
	Err     error

	// reported is set once the error went out through an OutputFormatter,
	// so main does not print it a second time.
	reported bool
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return e.Message + ": " + e.Err.Error()
}

func (e *ExitError) Unwrap() error { return e.Err }

// NewExitError returns an ExitError without an underlying cause.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError attaches an exit code and message to err.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode returns the exit code carried by err, or ExitFailure.
func GetExitCode(err error) int {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// PrintError writes err to w unless a command already reported it.
func PrintError(w io.Writer, err error) {
	var exitErr *ExitError
	if errors.As(err, &exitErr) && exitErr.reported {
		return
	}
	fmt.Fprintf(w, "Error: %v\n", err)
}

// OutputFormatter renders command results as text or as a JSON envelope.
// Progress lines go to ErrWriter so they never mix with JSON on Writer.
type OutputFormatter struct {
	Format    string
	Writer    io.Writer
	ErrWriter io.Writer
	Verbose   bool
}

// CLIResponse is the JSON envelope written under --format json.
type CLIResponse struct {
	Status string    `json:"status"` // "ok" or "error"
	Data   any       `json:"data,omitempty"`
	Error  *CLIError `json:"error,omitempty"`
}

// CLIError is the error half of a CLIResponse.
type CLIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// Success writes a command result. Text output relies on the result's
// String method.
func (f *OutputFormatter) Success(data any) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{Status: "ok", Data: data})
	}
	_, err := fmt.Fprintln(f.Writer, data)
	return err
}

// Error writes an error response. Details are shown in text mode only
// under --verbose.
func (f *OutputFormatter) Error(code, message string, details any) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{
			Status: "error",
			Error:  &CLIError{Code: code, Message: message, Details: details},
		})
	}
	fmt.Fprintf(f.Writer, "Error [%s]: %s\n", code, message)
	if f.Verbose && details != nil {
		fmt.Fprintf(f.Writer, "Details: %v\n", details)
	}
	return nil
}

// Fail reports err under code and returns it as an ExitError with the
// given exit code that PrintError will skip.
func (f *OutputFormatter) Fail(exit int, code, message string, err error) error {
	_ = f.Error(code, message+": "+err.Error(), nil)
	return &ExitError{Code: exit, Message: message, Err: err, reported: true}
}

// Progressf writes a progress line under --verbose.
func (f *OutputFormatter) Progressf(format string, args ...any) {
	if !f.Verbose {
		return
	}
	fmt.Fprintf(f.diagnostics(), format+"\n", args...)
}

func (f *OutputFormatter) diagnostics() io.Writer {
	if f.ErrWriter != nil {
		return f.ErrWriter
	}
	return f.Writer
}
