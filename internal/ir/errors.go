package ir

import (
	"errors"
	"fmt"
)

// ErrorCode categorizes engine errors and diagnostics.
type ErrorCode string

const (
	// ErrCodeConfigInvalid marks a malformed element, dependency or rule entry.
	ErrCodeConfigInvalid ErrorCode = "CONFIG_INVALID"

	// ErrCodeSourceFailed marks a data-source I/O failure.
	ErrCodeSourceFailed ErrorCode = "SOURCE_FAILED"

	// ErrCodeUnknownElement marks a reference to an unregistered element.
	ErrCodeUnknownElement ErrorCode = "STATE_UNKNOWN_ELEMENT"

	// ErrCodeUnknownArea marks a reference to an unconfigured area.
	ErrCodeUnknownArea ErrorCode = "STATE_UNKNOWN_AREA"

	// ErrCodeCycle marks a dependency cycle found during evaluation.
	ErrCodeCycle ErrorCode = "STATE_CYCLE"

	// ErrCodeUnknownKind marks a predicate or action the evaluator cannot handle.
	ErrCodeUnknownKind ErrorCode = "CONFIG_UNKNOWN_KIND"
)

// ConfigError is a malformed configuration entry. The entry is skipped and
// the rest of the document still loads.
type ConfigError struct {
	Code    ErrorCode
	Path    string // e.g. areas.editor.elements.export.dependencies[1]
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("%s: %s: %s", e.Code, e.Path, e.Message)
}

// SourceError is a data-source failure. It degrades to defaults or a no-op
// and never reaches the caller of Record.
type SourceError struct {
	Source string
	Op     string // initialize, pull, push, track
	Err    error
}

func (e *SourceError) Error() string {
	return fmt.Sprintf("%s: source %s: %s: %v", ErrCodeSourceFailed, e.Source, e.Op, e.Err)
}

func (e *SourceError) Unwrap() error { return e.Err }

// StateError is a reference to unregistered state. Predicates touching it
// fail closed.
type StateError struct {
	Code    ErrorCode
	Subject string
	Message string
}

func (e *StateError) Error() string {
	return fmt.Sprintf("%s: %s: %s", e.Code, e.Subject, e.Message)
}

// IsConfigError returns true if err is or wraps a ConfigError.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}

// IsSourceError returns true if err is or wraps a SourceError.
func IsSourceError(err error) bool {
	var se *SourceError
	return errors.As(err, &se)
}

// IsStateError returns true if err is or wraps a StateError.
func IsStateError(err error) bool {
	var se *StateError
	return errors.As(err, &se)
}

// DiagnosticKind groups diagnostics by the error taxonomy.
type DiagnosticKind string

const (
	DiagConfig DiagnosticKind = "config"
	DiagSource DiagnosticKind = "source"
	DiagState  DiagnosticKind = "state"
)

// Diagnostic is a non-fatal problem reported through the event channel.
type Diagnostic struct {
	Kind    DiagnosticKind `json:"kind"`
	Code    ErrorCode      `json:"code"`
	Subject string         `json:"subject"`
	Message string         `json:"message"`
}

// Key identifies a diagnostic for report-once deduplication.
func (d Diagnostic) Key() string {
	return string(d.Kind) + "|" + string(d.Code) + "|" + d.Subject
}

// DiagnosticFrom converts a typed error into a Diagnostic.
func DiagnosticFrom(err error) Diagnostic {
	var (
		ce *ConfigError
		se *SourceError
		st *StateError
	)
	switch {
	case errors.As(err, &ce):
		return Diagnostic{Kind: DiagConfig, Code: ce.Code, Subject: ce.Path, Message: ce.Message}
	case errors.As(err, &se):
		return Diagnostic{Kind: DiagSource, Code: ErrCodeSourceFailed, Subject: se.Source + "." + se.Op, Message: fmt.Sprint(se.Err)}
	case errors.As(err, &st):
		return Diagnostic{Kind: DiagState, Code: st.Code, Subject: st.Subject, Message: st.Message}
	default:
		return Diagnostic{Kind: DiagState, Code: ErrCodeUnknownKind, Message: err.Error()}
	}
}
