package compiler

import (
	"fmt"

	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"

	"github.com/roach88/reveal/internal/ir"
)

// Compile error codes (E100-E119). Entries with these errors are skipped,
// except malformed dependencies, which keep their element locked.
const (
	ErrDocumentInvalid  = "E100" // document is not a struct or has no areas
	ErrAreaInvalid      = "E101" // area field malformed
	ErrElementInvalid   = "E102" // element id or category malformed
	ErrDuplicateElement = "E103" // element id declared twice
	ErrUnknownKind      = "E104" // unknown dependency, trigger or action type
	ErrPredicateInvalid = "E105" // dependency or trigger field malformed
	ErrTriggerOnlyKind  = "E106" // element_interaction used as a dependency
	ErrRuleInvalid      = "E110" // rule name, trigger or action missing
	ErrDuplicateRule    = "E111" // rule name declared twice
	ErrActionInvalid    = "E112" // action field malformed
	ErrCUEEvaluation    = "E119" // CUE evaluation error
)

// CompileError is a configuration error with its CUE source position.
//
// CompileError unwraps to an *ir.ConfigError, so ir.IsConfigError reports
// true for it.
type CompileError struct {
	Code    string
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("[%s] %s:%d:%d: %s: %s",
			e.Code, e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
}

// Unwrap exposes the error as part of the engine's error taxonomy.
func (e *CompileError) Unwrap() error {
	code := ir.ErrCodeConfigInvalid
	if e.Code == ErrUnknownKind {
		code = ir.ErrCodeUnknownKind
	}
	return &ir.ConfigError{Code: code, Path: e.Field, Message: e.Message}
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(field string, err error) *CompileError {
	if err == nil {
		return nil
	}

	// CUE errors may contain multiple errors
	errs := errors.Errors(err)
	if len(errs) == 0 {
		return &CompileError{Code: ErrCUEEvaluation, Field: field, Message: err.Error()}
	}

	// Report the first error with position info
	first := errs[0]
	ce := &CompileError{Code: ErrCUEEvaluation, Field: field, Message: first.Error()}
	if positions := errors.Positions(first); len(positions) > 0 {
		ce.Pos = positions[0]
	}
	return ce
}
