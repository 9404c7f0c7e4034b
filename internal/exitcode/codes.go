// Package exitcode carries structured exit codes through the error
// path. The supervisor's contract is to exit with the child's own
// status, so codes must survive from the swap loop to os.Exit without
// being flattened to 1.
package exitcode

import (
	"errors"
	"fmt"
)

// Exit codes. Anything else in an Error is a child status passed
// through verbatim.
const (
	// Success indicates the command completed.
	Success = 0

	// ErrGeneral is the catch-all for uncoded failures.
	ErrGeneral = 1

	// ErrUsage flags invalid arguments.
	ErrUsage = 2

	// ErrInterrupted mirrors the shell convention for SIGINT.
	ErrInterrupted = 130
)

// Error pairs an exit code with an optional message. A silent Error
// (no message, no cause) terminates with its code and prints nothing.
type Error struct {
	Code    int
	Message string
	Cause   error
}

// Error returns the message, empty for a silent exit.
func (e *Error) Error() string {
	switch {
	case e.Message != "" && e.Cause != nil:
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	case e.Message != "":
		return e.Message
	case e.Cause != nil:
		return e.Cause.Error()
	}
	return ""
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// New creates a coded error.
func New(code int, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf creates a coded error with printf-style formatting.
func Newf(code int, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and message to an existing error.
func Wrap(code int, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// Silent terminates with code and no output, used when the child (or
// the swap loop) already said everything there is to say.
func Silent(code int) *Error {
	return &Error{Code: code}
}

// Code extracts the exit code from an error. Nil maps to Success and
// an uncoded error to ErrGeneral.
func Code(err error) int {
	if err == nil {
		return Success
	}
	var coded *Error
	if errors.As(err, &coded) {
		return coded.Code
	}
	return ErrGeneral
}
