package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/roach88/reveal/internal/config"
	"github.com/roach88/reveal/internal/engine"
	"github.com/roach88/reveal/internal/ir"
)

// Exit codes for reveal commands.
const (
	// ExitSuccess: the document is valid, every scenario passed, or the
	// interactions were recorded and stored.
	ExitSuccess = 0

	// ExitFailure: the command ran but its verdict is negative. A document
	// with errors (or warnings under --strict), or a scenario whose
	// expectations did not hold.
	ExitFailure = 1

	// ExitCommandError: the command could not run. Unreadable documents,
	// bad settings, a database that cannot be opened, or a snapshot that
	// no source would store.
	ExitCommandError = 2
)

// ExitError carries the exit code a command should terminate with.
type ExitError struct {
	Code    int
	Message string
	Err     error // optional cause
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

// NewExitError creates an ExitError with no cause.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError attaches an exit code to err.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode maps an error returned by a command to a process exit code.
// An ExitError decides for itself. Load, configuration and source failures
// that escaped without one are command errors; anything else is a failure.
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	var loadErr *config.LoadError
	if errors.As(err, &loadErr) || ir.IsConfigError(err) || ir.IsSourceError(err) {
		return ExitCommandError
	}
	return ExitFailure
}

// ErrorCode picks the code reported for err in CLI output.
func ErrorCode(err error) string {
	var (
		loadErr   *config.LoadError
		configErr *ir.ConfigError
		stateErr  *ir.StateError
	)
	switch {
	case errors.As(err, &loadErr):
		return loadErr.Code
	case errors.As(err, &configErr):
		return string(configErr.Code)
	case ir.IsSourceError(err):
		return string(ir.ErrCodeSourceFailed)
	case errors.As(err, &stateErr):
		return string(stateErr.Code)
	default:
		return config.ErrCodeGeneric
	}
}

// OutputFormatter writes command results as JSON envelopes or text.
type OutputFormatter struct {
	Format    string
	Writer    io.Writer
	ErrWriter io.Writer // diagnostics; Writer when nil
	Verbose   bool
}

// CLIResponse is the JSON envelope every command writes.
type CLIResponse struct {
	Status string    `json:"status"` // "ok" or "error"
	Data   any       `json:"data,omitempty"`
	Error  *CLIError `json:"error,omitempty"`
}

// CLIError is the error part of a CLIResponse.
type CLIError struct {
	Code    string `json:"code"` // "E005", "SOURCE_FAILED", "E101", ...
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// textRenderer is implemented by results with their own text layout.
type textRenderer interface {
	writeText(f *OutputFormatter)
}

// Success writes a result. In text mode a result that knows its own layout
// renders itself; anything else is printed as is.
func (f *OutputFormatter) Success(data any) error {
	if f.Format == "json" {
		return f.encode(CLIResponse{Status: "ok", Data: data})
	}
	if r, ok := data.(textRenderer); ok {
		r.writeText(f)
		return nil
	}
	fmt.Fprintln(f.Writer, data)
	return nil
}

// Error writes an error with an explicit code.
func (f *OutputFormatter) Error(code, message string, details any) error {
	if f.Format == "json" {
		return f.encode(CLIResponse{
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

// Failure writes a result that did not pass. The payload is kept so JSON
// consumers see what failed, and the first problem becomes the error.
func (f *OutputFormatter) Failure(data any, code, message string) error {
	return f.encode(CLIResponse{
		Status: "error",
		Data:   data,
		Error:  &CLIError{Code: code, Message: message},
	})
}

// VerboseLog writes a diagnostic line when verbose output is on. It never
// goes to Writer while ErrWriter is set, so JSON output stays parseable.
func (f *OutputFormatter) VerboseLog(format string, args ...any) {
	if !f.Verbose {
		return
	}
	fmt.Fprintf(f.errWriter(), format+"\n", args...)
}

func (f *OutputFormatter) errWriter() io.Writer {
	if f.ErrWriter != nil {
		return f.ErrWriter
	}
	return f.Writer
}

func (f *OutputFormatter) encode(resp CLIResponse) error {
	enc := json.NewEncoder(f.Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(resp)
}

// Events writes one numbered line per engine event.
func (f *OutputFormatter) Events(events []engine.Event) {
	for _, ev := range events {
		fmt.Fprintf(f.Writer, "  [%d] %s\n", ev.Seq, EventLine(ev))
	}
}

// Areas writes each area's density, any override and its visible elements.
func (f *OutputFormatter) Areas(areas []AreaReport) {
	for _, a := range areas {
		if a.Override != nil {
			fmt.Fprintf(f.Writer, "%s: density %.3f (override %.3f)\n", a.Area, a.Density, *a.Override)
		} else {
			fmt.Fprintf(f.Writer, "%s: density %.3f\n", a.Area, a.Density)
		}
		if len(a.Visible) > 0 {
			fmt.Fprintf(f.Writer, "  visible: %s\n", strings.Join(a.Visible, ", "))
		}
	}
}

// Diagnostics writes the engine's deduplicated diagnostics, if any.
func (f *OutputFormatter) Diagnostics(diags []ir.Diagnostic) {
	if len(diags) == 0 {
		return
	}
	fmt.Fprintln(f.Writer, "Diagnostics:")
	for _, d := range diags {
		fmt.Fprintf(f.Writer, "  %s %s %s: %s\n", d.Kind, d.Code, d.Subject, d.Message)
	}
}

// EventLine renders an engine event as one line of text.
func EventLine(ev engine.Event) string {
	switch {
	case ev.Density != nil:
		return fmt.Sprintf("%s %s %.3f -> %.3f", ev.Kind, ev.Density.Area, ev.Density.Previous, ev.Density.Density)
	case ev.Override != nil:
		return fmt.Sprintf("%s %s", ev.Kind, ev.Override.Area)
	case ev.Rule != nil:
		return fmt.Sprintf("%s %s (%s)", ev.Kind, ev.Rule.Name, ev.Rule.Kind)
	case ev.Element != nil:
		if ev.Element.Reason != "" {
			return fmt.Sprintf("%s %s (%s)", ev.Kind, ev.Element.ElementID, ev.Element.Reason)
		}
		return fmt.Sprintf("%s %s", ev.Kind, ev.Element.ElementID)
	case ev.Sync != nil:
		return fmt.Sprintf("%s %s [%s]", ev.Kind, ev.Sync.Op, strings.Join(ev.Sync.Sources, ", "))
	case ev.Diagnostic != nil:
		return fmt.Sprintf("%s %s: %s", ev.Kind, ev.Diagnostic.Code, ev.Diagnostic.Message)
	default:
		return string(ev.Kind)
	}
}
