package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/UkralStul/codenode-comments/internal/domain"
)

// Exit codes for chainctl.
const (
	ExitSuccess      = 0
	ExitFailure      = 1 // the operation was rejected: not found, not the author, bad input
	ExitCommandError = 2 // chainctl could not run: bad config, store unavailable
	ExitIntegrity    = 3 // a stored chain is corrupt
)

// ExitError carries the process exit code of a failed command.
// Its message has already been reported through the OutputFormatter.
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

// WrapExitError wraps err with an exit code.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode extracts the exit code from err; anything but an ExitError is ExitFailure.
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

// OutputFormatter writes results as text or JSON.
type OutputFormatter struct {
	Format string
	Writer io.Writer
}

// Response is the JSON envelope of every command.
type Response struct {
	Status string         `json:"status"`
	Data   interface{}    `json:"data,omitempty"`
	Error  *ResponseError `json:"error,omitempty"`
}

// ResponseError describes a failed command.
type ResponseError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ChainView is one entity's chain as printed by list and show.
type ChainView struct {
	EntityKey string            `json:"entityKey"`
	Comments  []*domain.Comment `json:"comments"`
}

// Success writes data. In text mode text is printed instead.
func (f *OutputFormatter) Success(data interface{}, text string) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(Response{Status: "ok", Data: data})
	}
	_, err := fmt.Fprint(f.Writer, text)
	return err
}

// Error writes a failure.
func (f *OutputFormatter) Error(code, message string) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(Response{
			Status: "error",
			Error:  &ResponseError{Code: code, Message: message},
		})
	}
	_, err := fmt.Fprintf(f.Writer, "Error [%s]: %s\n", code, message)
	return err
}

// Fail reports err and turns it into an ExitError with a matching code.
func (f *OutputFormatter) Fail(err error) error {
	code, exit := classify(err)
	_ = f.Error(code, err.Error())
	return WrapExitError(exit, code, err)
}

func classify(err error) (string, int) {
	switch {
	case errors.Is(err, domain.ErrIntegrity):
		return "integrity", ExitIntegrity
	case errors.Is(err, domain.ErrInvalidArgument):
		return "invalid_argument", ExitFailure
	case errors.Is(err, domain.ErrNotFound):
		return "not_found", ExitFailure
	case errors.Is(err, domain.ErrPermissionDenied):
		return "permission_denied", ExitFailure
	case errors.Is(err, domain.ErrRetriesExhausted):
		return "retries_exhausted", ExitFailure
	default:
		return "internal", ExitCommandError
	}
}

// renderChain prints one chain as numbered lines.
func renderChain(b *strings.Builder, v ChainView) {
	switch len(v.Comments) {
	case 0:
		fmt.Fprintf(b, "%s: no comments\n", v.EntityKey)
		return
	case 1:
		fmt.Fprintf(b, "%s: 1 comment\n", v.EntityKey)
	default:
		fmt.Fprintf(b, "%s: %d comments\n", v.EntityKey, len(v.Comments))
	}
	for i, c := range v.Comments {
		fmt.Fprintf(b, "  %d. %s [%s] %s\n", i+1, c.ID, c.AuthorID, c.Text)
	}
}
