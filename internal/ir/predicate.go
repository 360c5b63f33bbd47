package ir

import (
	"fmt"
	"time"
)

// Predicate kinds as they appear in configuration documents.
const (
	KindUsageCount         = "usage_count"
	KindLogicalAnd         = "logical_and"
	KindTimeBased          = "time_based"
	KindSequence           = "sequence"
	KindUsagePattern       = "usage_pattern"
	KindElementInteraction = "element_interaction"
)

// Predicate is a dependency rule or rule trigger.
//
// Predicate is a closed sum type: the unexported marker method prevents
// implementations outside this package, so evaluators can switch over the
// concrete types exhaustively.
type Predicate interface {
	// Kind returns the configuration kind name.
	Kind() string
	// Refs returns the element IDs the predicate reads, in declared order.
	Refs() []string

	predicate()
}

// UsageCount is satisfied when the element was used at least Threshold times.
type UsageCount struct {
	ElementID string
	Threshold int
}

// LogicalAnd is satisfied when every listed element is itself unlocked.
type LogicalAnd struct {
	Elements []string
}

// TimeBased is satisfied when the element was used at least MinUsage times
// within the trailing Window, measured from evaluation time.
type TimeBased struct {
	ElementID string
	Window    time.Duration
	MinUsage  int
}

// Sequence is satisfied when the first use of each element strictly
// precedes the first use of the next, in listed order.
type Sequence struct {
	Elements []string
}

// UsagePattern is satisfied when every listed element was used at least
// once in every Frequency-long bucket across the trailing Duration.
type UsagePattern struct {
	Elements  []string
	Frequency time.Duration
	Duration  time.Duration
}

// Buckets returns the number of Frequency buckets in Duration.
func (p UsagePattern) Buckets() int {
	if p.Frequency <= 0 {
		return 0
	}
	return int(p.Duration / p.Frequency)
}

// ElementInteraction is satisfied by the first interaction with any listed
// element. Valid only as a rule trigger.
type ElementInteraction struct {
	Elements []string
}

func (UsageCount) Kind() string         { return KindUsageCount }
func (LogicalAnd) Kind() string         { return KindLogicalAnd }
func (TimeBased) Kind() string          { return KindTimeBased }
func (Sequence) Kind() string           { return KindSequence }
func (UsagePattern) Kind() string       { return KindUsagePattern }
func (ElementInteraction) Kind() string { return KindElementInteraction }
func (m Malformed) Kind() string        { return m.Declared }

func (p UsageCount) Refs() []string         { return []string{p.ElementID} }
func (p LogicalAnd) Refs() []string         { return p.Elements }
func (p TimeBased) Refs() []string          { return []string{p.ElementID} }
func (p Sequence) Refs() []string           { return p.Elements }
func (p UsagePattern) Refs() []string       { return p.Elements }
func (p ElementInteraction) Refs() []string { return p.Elements }
func (Malformed) Refs() []string            { return nil }

func (UsageCount) predicate()         {}
func (LogicalAnd) predicate()         {}
func (TimeBased) predicate()          {}
func (Sequence) predicate()           {}
func (UsagePattern) predicate()       {}
func (ElementInteraction) predicate() {}
func (Malformed) predicate()          {}

// Malformed stands in for a dependency entry the compiler rejected. It is
// never satisfied, so the element it belongs to stays locked instead of
// unlocking without the rejected condition.
type Malformed struct {
	Declared string // kind as written, may be empty
	Reason   string
}

// TimeDependent reports whether a predicate's result can change with the
// passage of time alone (without a new interaction).
func TimeDependent(p Predicate) bool {
	switch p.(type) {
	case TimeBased, UsagePattern:
		return true
	default:
		return false
	}
}

// Horizon returns how far back a time-dependent predicate reads the
// history of the elements it references, or zero for any other predicate.
func Horizon(p Predicate) time.Duration {
	switch pred := p.(type) {
	case TimeBased:
		return pred.Window
	case UsagePattern:
		return time.Duration(pred.Buckets()) * pred.Frequency
	default:
		return 0
	}
}

// Action kinds as they appear in configuration documents.
const (
	ActionUnlockCategory = "unlock_category"
	ActionShowTutorial   = "show_tutorial"
)

// Action is the side effect of a fired rule. Closed sum type.
type Action interface {
	Kind() string
	action()
}

// UnlockCategory force-unlocks every element of Category in Area,
// bypassing dependency evaluation.
type UnlockCategory struct {
	Area     string   `json:"area"`
	Category Category `json:"category"`
}

// ShowTutorial is a pure notification; the engine only emits it.
type ShowTutorial struct {
	Data map[string]any `json:"data"`
}

func (UnlockCategory) Kind() string { return ActionUnlockCategory }
func (ShowTutorial) Kind() string   { return ActionShowTutorial }

func (UnlockCategory) action() {}
func (ShowTutorial) action()   {}

// DescribeAction renders an action for logs and traces.
func DescribeAction(a Action) string {
	switch act := a.(type) {
	case UnlockCategory:
		return fmt.Sprintf("%s(%s,%s)", act.Kind(), act.Area, act.Category)
	case ShowTutorial:
		return act.Kind()
	default:
		return fmt.Sprintf("unknown(%T)", a)
	}
}
