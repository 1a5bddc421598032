package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// Exit codes for memoctl commands.
const (
	ExitSuccess      = 0
	ExitFailure      = 1 // the command ran but found nothing to act on
	ExitCommandError = 2 // bad flags, missing database, unreadable store
)

// ExitError carries the exit code a command failed with.
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

func (e *ExitError) Unwrap() error { return e.Err }

func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode returns the code of an ExitError in err's chain and
// ExitFailure for any other error.
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

// Response is the envelope of --format json output.
type Response struct {
	Status string    `json:"status"` // "ok" or "error"
	Data   any       `json:"data,omitempty"`
	Error  *ErrorBody `json:"error,omitempty"`
}

type ErrorBody struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Output writes command results as text or JSON.
type Output struct {
	Format    string
	Writer    io.Writer
	ErrWriter io.Writer
	Verbose   bool
}

// Success writes data. In text mode text renders it; a nil text prints data
// with fmt.
func (o *Output) Success(data any, text func(w io.Writer) error) error {
	if o.Format == FormatJSON {
		return json.NewEncoder(o.Writer).Encode(Response{Status: "ok", Data: data})
	}
	if text == nil {
		_, err := fmt.Fprintln(o.Writer, data)
		return err
	}
	return text(o.Writer)
}

// Error reports err. JSON output keeps stdout parseable; text goes to
// ErrWriter.
func (o *Output) Error(err error) {
	if o.Format == FormatJSON {
		_ = json.NewEncoder(o.Writer).Encode(Response{
			Status: "error",
			Error:  &ErrorBody{Code: GetExitCode(err), Message: err.Error()},
		})
		return
	}
	fmt.Fprintf(o.errWriter(), "Error: %v\n", err)
}

// Verbosef writes a diagnostic line when --verbose is set.
func (o *Output) Verbosef(format string, args ...any) {
	if !o.Verbose {
		return
	}
	fmt.Fprintf(o.errWriter(), format+"\n", args...)
}

func (o *Output) errWriter() io.Writer {
	if o.ErrWriter != nil {
		return o.ErrWriter
	}
	return o.Writer
}
