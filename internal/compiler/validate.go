package compiler

import (
	"fmt"
	"time"

	"github.com/roach88/reveal/internal/ir"
	"github.com/roach88/reveal/internal/usage"
)

// Validation codes (E120-E129). These are warnings about a compiled
// document: the engine still runs it, with the affected predicates failing
// closed.
const (
	ErrUnknownReference = "E120" // predicate references an undeclared element
	ErrUnknownArea      = "E121" // unlock_category names an undeclared area
	ErrEmptyCategory    = "E122" // unlock_category targets a category with no elements
	ErrPatternRemainder = "E123" // usage_pattern duration is not a multiple of frequency
	ErrWindowRetention  = "E124" // time window reaches past the retention age
)

// ValidateOption configures Validate.
type ValidateOption func(*validateConfig)

type validateConfig struct {
	maxAge time.Duration
}

// WithRetentionAge sets the history age limit windows are checked against.
// The default is the usage store's default; d <= 0 disables the check.
func WithRetentionAge(d time.Duration) ValidateOption {
	return func(c *validateConfig) { c.maxAge = d }
}

// ValidationError represents a semantic problem in a compiled document.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
}

// Validate checks references between entries of a compiled document.
// Returns all problems found (does not fail-fast).
//
// References to undeclared elements are not fatal: elements may be
// registered at runtime with Categorize. A time window longer than the
// retention age is reported because the engine then keeps the referenced
// elements' history past the age limit.
func Validate(doc *ir.Document, opts ...ValidateOption) []ValidationError {
	if doc == nil {
		return nil
	}
	cfg := validateConfig{maxAge: usage.DefaultMaxAge}
	for _, opt := range opts {
		opt(&cfg)
	}

	known := make(map[string]bool)
	for _, area := range doc.Areas {
		for _, el := range area.Elements {
			known[el.ElementID] = true
		}
	}

	var errs []ValidationError
	for _, area := range doc.Areas {
		for _, el := range area.Elements {
			for i, dep := range el.Dependencies {
				field := fmt.Sprintf("areas.%s.elements.%s.dependencies[%d]", area.ID, el.ElementID, i)
				errs = append(errs, validatePredicate(field, dep, known, cfg)...)
			}
		}
	}

	for _, rule := range doc.Rules {
		field := "rules." + rule.Name
		errs = append(errs, validatePredicate(field+".trigger", rule.Trigger, known, cfg)...)

		act, ok := rule.Action.(ir.UnlockCategory)
		if !ok {
			continue
		}
		area, ok := doc.Area(act.Area)
		if !ok {
			errs = append(errs, ValidationError{
				Field:   field + ".action.area",
				Message: fmt.Sprintf("area %q is not declared", act.Area),
				Code:    ErrUnknownArea,
			})
			continue
		}
		if !hasCategory(area, act.Category) {
			errs = append(errs, ValidationError{
				Field:   field + ".action.category",
				Message: fmt.Sprintf("area %q declares no %s elements", act.Area, act.Category),
				Code:    ErrEmptyCategory,
			})
		}
	}

	return errs
}

func validatePredicate(field string, p ir.Predicate, known map[string]bool, cfg validateConfig) []ValidationError {
	var errs []ValidationError
	for _, ref := range p.Refs() {
		if !known[ref] {
			errs = append(errs, ValidationError{
				Field:   field,
				Message: fmt.Sprintf("element %q is not declared", ref),
				Code:    ErrUnknownReference,
			})
		}
	}
	if up, ok := p.(ir.UsagePattern); ok && up.Frequency > 0 && up.Duration%up.Frequency != 0 {
		errs = append(errs, ValidationError{
			Field: field,
			Message: fmt.Sprintf("duration %v is not a multiple of frequency %v; only %d full buckets are checked",
				up.Duration, up.Frequency, up.Buckets()),
			Code: ErrPatternRemainder,
		})
	}
	if h := ir.Horizon(p); cfg.maxAge > 0 && h > cfg.maxAge {
		errs = append(errs, ValidationError{
			Field: field,
			Message: fmt.Sprintf("window %v exceeds the %v retention age; history of %v is kept for the whole window",
				h, cfg.maxAge, p.Refs()),
			Code: ErrWindowRetention,
		})
	}
	return errs
}

func hasCategory(area ir.AreaConfig, c ir.Category) bool {
	for _, el := range area.Elements {
		if el.Category == c {
			return true
		}
	}
	return false
}
