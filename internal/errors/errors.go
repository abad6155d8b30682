package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Error codes for categorizing errors
const (
	ErrConfig  = "CONFIG"
	ErrSSH     = "SSH"
	ErrTimeout = "TIMEOUT"
	ErrParse   = "PARSE"
	ErrExec    = "EXEC"
	ErrStore   = "STORE"
)

// Error represents a structured error with code, message, suggestion, and optional cause.
// Rendered as:
//
//	✗ <What failed>
//
//	  <Why it failed - technical details>
//
//	  <How to fix it - actionable steps>
type Error struct {
	Code       string
	Message    string
	Suggestion string
	Cause      error
}

// New creates a new structured error with the given code, message, and suggestion.
func New(code, message, suggestion string) *Error {
	return &Error{
		Code:       code,
		Message:    message,
		Suggestion: suggestion,
	}
}

// Wrap wraps an existing error with a message, defaulting to ErrSSH code.
func Wrap(err error, message string) *Error {
	return &Error{
		Code:    ErrSSH,
		Message: message,
		Cause:   err,
	}
}

// WrapWithCode wraps an existing error with a specific code, message, and suggestion.
func WrapWithCode(err error, code, message, suggestion string) *Error {
	return &Error{
		Code:       code,
		Message:    message,
		Suggestion: suggestion,
		Cause:      err,
	}
}

// Parse builds a PARSE error for command output that didn't have the expected shape.
// Parse errors never leave the probe; they exist so parsers can be tested in isolation.
func Parse(what, input string) *Error {
	if len(input) > 80 {
		input = input[:77] + "..."
	}
	return &Error{
		Code:    ErrParse,
		Message: fmt.Sprintf("Unexpected %s output: %q", what, input),
	}
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteString(fmt.Sprintf("✗ %s\n", e.Message))

	if e.Cause != nil {
		b.WriteString(fmt.Sprintf("\n  %s\n", e.Cause.Error()))
	}

	if e.Suggestion != "" {
		b.WriteString(fmt.Sprintf("\n  %s\n", e.Suggestion))
	}

	return b.String()
}

// Short returns a single-line form suitable for a host's error_message field.
func (e *Error) Short() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s", e.Message, e.Cause.Error())
	}
	return e.Message
}

// Unwrap returns the underlying cause for use with errors.Is/errors.As.
func (e *Error) Unwrap() error {
	return e.Cause
}

// IsCode checks if an error is a structured Error with the given code.
func IsCode(err error, code string) bool {
	if err == nil {
		return false
	}
	var fdErr *Error
	if errors.As(err, &fdErr) {
		return fdErr.Code == code
	}
	return false
}

// IsConnectFailure reports whether err is a transport-level failure (SSH or TIMEOUT).
// Those mark a host OFFLINE; anything else during a probe marks it DEGRADED.
func IsConnectFailure(err error) bool {
	return IsCode(err, ErrSSH) || IsCode(err, ErrTimeout)
}

// Message returns the one-line description of err, unwrapping structured errors.
func Message(err error) string {
	if err == nil {
		return ""
	}
	var fdErr *Error
	if errors.As(err, &fdErr) {
		return fdErr.Short()
	}
	return err.Error()
}
