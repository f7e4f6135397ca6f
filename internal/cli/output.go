package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/isb2026/bomrel/internal/ir"
	"github.com/isb2026/bomrel/internal/nestedset"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0 // Successful execution
	ExitFailure      = 1 // Rejected request or failed integrity check
	ExitCommandError = 2 // Command error (bad input file, unreadable database, etc.)
)

// Generic error codes for failures outside the engine taxonomy.
const (
	ErrCodeGeneric    = "E001" // Generic/unknown error
	ErrCodeLoadFailed = "E004" // Input file could not be loaded
	ErrCodeVerify     = "E201" // Integrity check found violations
)

// ExitError represents an error with a specific exit code.
// Use this to return errors with meaningful exit codes from CLI commands.
type ExitError struct {
	Code    int    // Exit code (use ExitFailure or ExitCommandError)
	Message string // Error message
	Err     error  // Underlying error (optional)
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

// NewExitError creates a new ExitError with the given code and message.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError wraps an existing error with an exit code.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode extracts the exit code from an error.
// Returns ExitFailure (1) if the error is not an ExitError.
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

// OutputFormatter handles JSON vs text output for CLI commands.
type OutputFormatter struct {
	Format    string
	Writer    io.Writer
	ErrWriter io.Writer // Separate writer for verbose/diagnostic output (defaults to Writer)
	Verbose   bool
}

// CLIResponse is the standard JSON response format for CLI output.
type CLIResponse struct {
	Status string    `json:"status"`          // "ok" or "error"
	Data   any       `json:"data,omitempty"`  // success payload
	Error  *CLIError `json:"error,omitempty"` // error details
}

// CLIError is the error structure for CLI responses.
type CLIError struct {
	Code      string `json:"code"`                // engine code or "E001", "E004", ...
	Message   string `json:"message"`             // human-readable message
	Retryable bool   `json:"retryable,omitempty"` // repeating the same request may succeed
	Details   any    `json:"details,omitempty"`   // additional context
}

// Success outputs a successful result in the configured format.
func (f *OutputFormatter) Success(data any) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{
			Status: "ok",
			Data:   data,
		})
	}

	// Human-readable text output
	fmt.Fprintln(f.Writer, data)
	return nil
}

// Result outputs data as JSON, or text in text mode.
func (f *OutputFormatter) Result(data any, text string) error {
	if f.Format == "json" {
		return f.Success(data)
	}
	_, err := io.WriteString(f.Writer, text)
	return err
}

// Error outputs an error in the configured format.
func (f *OutputFormatter) Error(code, message string, details any) error {
	return f.write(&CLIError{Code: code, Message: message, Details: details})
}

func (f *OutputFormatter) write(e *CLIError) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{
			Status: "error",
			Error:  e,
		})
	}

	// Human-readable error
	fmt.Fprintf(f.Writer, "Error [%s]: %s\n", e.Code, e.Message)
	if e.Retryable {
		fmt.Fprintln(f.Writer, "The request was not applied and can be retried.")
	}
	if f.Verbose && e.Details != nil {
		fmt.Fprintf(f.Writer, "Details: %+v\n", e.Details)
	}
	return nil
}

// Fail reports err and returns the ExitError the command should return.
// Engine rejections and integrity violations exit with ExitFailure; storage
// aborts and everything else exit with ExitCommandError.
func (f *OutputFormatter) Fail(err error) error {
	var (
		re *ir.RelationError
		ae *ir.AssignmentError
		ve *nestedset.VerifyError
		le *LoadError
		ee *ExitError
	)
	switch {
	case errors.As(err, &re):
		f.write(&CLIError{Code: string(re.Code), Message: re.Error(), Retryable: re.Retryable(), Details: re})
		return exitFor(re.Retryable(), err)
	case errors.As(err, &ae):
		f.write(&CLIError{Code: string(ae.Code), Message: ae.Error(), Retryable: ae.Retryable(), Details: ae})
		return exitFor(ae.Retryable(), err)
	case errors.As(err, &ve):
		f.write(&CLIError{Code: ErrCodeVerify, Message: ve.Error(), Details: ve.Violations})
		return WrapExitError(ExitFailure, "integrity check failed", err)
	case errors.As(err, &le):
		f.write(&CLIError{Code: ErrCodeLoadFailed, Message: le.Error()})
		return WrapExitError(ExitCommandError, "cannot load input", err)
	case errors.As(err, &ee):
		// An ExitError without a cause was already reported by the command.
		if ee.Err != nil {
			f.write(&CLIError{Code: ErrCodeGeneric, Message: ee.Error()})
		}
		return ee
	default:
		f.write(&CLIError{Code: ErrCodeGeneric, Message: err.Error()})
		return WrapExitError(ExitCommandError, "command failed", err)
	}
}

func exitFor(retryable bool, err error) error {
	if retryable {
		return WrapExitError(ExitCommandError, "request aborted", err)
	}
	return WrapExitError(ExitFailure, "request rejected", err)
}

// VerboseLog outputs a message only if verbose mode is enabled.
// Uses ErrWriter if set, otherwise falls back to Writer.
// When format is JSON, verbose logs go to ErrWriter to avoid corrupting JSON output.
func (f *OutputFormatter) VerboseLog(format string, args ...any) {
	if !f.Verbose {
		return
	}
	w := f.ErrWriter
	if w == nil {
		w = f.Writer
	}
	fmt.Fprintf(w, format+"\n", args...)
}
