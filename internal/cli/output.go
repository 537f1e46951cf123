package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/roach88/uow/internal/commitorder"
	"github.com/roach88/uow/internal/compiler"
	"github.com/roach88/uow/internal/mapping"
)

// Exit codes shared by every command.
const (
	ExitSuccess      = 0 // command succeeded
	ExitFailure      = 1 // the mapping, the commit order or a scenario is wrong
	ExitCommandError = 2 // the command could not run: bad paths, flags or database
)

// Error codes the CLI adds to the compiler's E0xx load and E1xx validation
// codes.
const (
	ErrCodeWriteFailed = "E201" // output file could not be written
	ErrCodeBadFlag     = "E202" // flag value rejected
	ErrCodeCycle       = "E203" // no commit order exists
	ErrCodeStore       = "E204" // database could not be opened or migrated
	ErrCodeUnknownType = "E205" // argument names no mapped type
	ErrCodeTestFailed  = "E_TEST_FAILED"
)

// ExitError carries the process exit code of a failed command.
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

// NewExitError returns an ExitError without a cause.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError returns an ExitError caused by err.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode returns the code of the ExitError in err's chain, or
// ExitFailure.
func GetExitCode(err error) int {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// CLIResponse is the envelope of every JSON result.
type CLIResponse struct {
	Status string    `json:"status"` // "ok" or "error"
	Data   any       `json:"data,omitempty"`
	Error  *CLIError `json:"error,omitempty"`
}

// CLIError describes one problem. Type and Field locate it in the mapping,
// Position in a CUE file. Cycle holds the types of a commit order cycle.
type CLIError struct {
	Code     string   `json:"code"`
	Message  string   `json:"message"`
	Type     string   `json:"type,omitempty"`
	Field    string   `json:"field,omitempty"`
	Position string   `json:"position,omitempty"`
	Cycle    []string `json:"cycle,omitempty"`
}

// location renders Type.Field, Type alone, or "".
func (e CLIError) location() string {
	if e.Type == "" || e.Field == "" {
		return e.Type
	}
	return e.Type + "." + e.Field
}

// describe converts an error from loading, validating or ordering a mapping
// into a CLIError. Anything else is reported under fallback.
func describe(err error, fallback string) CLIError {
	var loadErr *compiler.LoadError
	if errors.As(err, &loadErr) {
		out := CLIError{Code: loadErr.Code, Message: loadErr.Message}
		if loadErr.Pos.IsValid() {
			out.Position = fmt.Sprintf("%s:%d:%d", loadErr.Pos.Filename(), loadErr.Pos.Line(), loadErr.Pos.Column())
		}
		return out
	}
	var verr compiler.ValidationError
	if errors.As(err, &verr) {
		return CLIError{Code: verr.Code, Message: verr.Message, Type: verr.Type, Field: verr.Field}
	}
	var cycle *commitorder.CycleError
	if errors.As(err, &cycle) {
		return CLIError{Code: ErrCodeCycle, Message: err.Error(), Cycle: cycle.Path}
	}
	var unknown *mapping.UnknownTypeError
	if errors.As(err, &unknown) {
		return CLIError{Code: ErrCodeUnknownType, Message: err.Error(), Type: unknown.Type}
	}
	return CLIError{Code: fallback, Message: err.Error()}
}

// OutputFormatter writes command results as text or as a JSON envelope.
type OutputFormatter struct {
	Format string
	Writer io.Writer
	// ErrWriter receives diagnostics so that JSON on Writer stays
	// parseable. Nil means Writer.
	ErrWriter io.Writer
	Verbose   bool
}

// Result writes data in the JSON envelope, or lets text print it.
func (f *OutputFormatter) Result(data any, text func(w io.Writer)) error {
	if f.Format == "json" {
		return encodeIndented(f.Writer, CLIResponse{Status: "ok", Data: data})
	}
	text(f.Writer)
	return nil
}

// Error writes a single problem.
func (f *OutputFormatter) Error(e CLIError) error {
	if f.Format == "json" {
		return encodeIndented(f.Writer, CLIResponse{Status: "error", Error: &e})
	}
	fmt.Fprintf(f.Writer, "Error [%s]: %s\n", e.Code, e.Message)
	if e.Position != "" {
		fmt.Fprintf(f.Writer, "  at %s\n", e.Position)
	}
	if loc := e.location(); loc != "" {
		fmt.Fprintf(f.Writer, "  in %s\n", loc)
	}
	return nil
}

// Errors writes every problem found under title. In JSON the first is the
// envelope's error and the full list its data.
func (f *OutputFormatter) Errors(title string, errs []CLIError) error {
	if f.Format == "json" {
		resp := CLIResponse{Status: "error", Data: errs}
		if len(errs) > 0 {
			resp.Error = &errs[0]
		}
		return encodeIndented(f.Writer, resp)
	}
	fmt.Fprintf(f.Writer, "✗ %s\n\n", capitalize(title))
	for _, e := range errs {
		if e.Position != "" {
			fmt.Fprintln(f.Writer, e.Position)
		}
		if loc := e.location(); loc != "" {
			fmt.Fprintf(f.Writer, "  %s: %s: %s\n\n", e.Code, loc, e.Message)
			continue
		}
		fmt.Fprintf(f.Writer, "  %s: %s\n\n", e.Code, e.Message)
	}
	return nil
}

// VerboseLog prints a diagnostic line when verbose output is on.
func (f *OutputFormatter) VerboseLog(format string, args ...any) {
	if f.Verbose {
		fmt.Fprintf(f.errWriter(), format+"\n", args...)
	}
}

func (f *OutputFormatter) errWriter() io.Writer {
	if f.ErrWriter != nil {
		return f.ErrWriter
	}
	return f.Writer
}

func encodeIndented(w io.Writer, v any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
