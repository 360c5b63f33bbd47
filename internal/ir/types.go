package ir

import (
	"fmt"
	"strings"
	"time"
)

// Category is the disclosure tier of an element.
// Categories are ordered: basic < advanced < expert.
type Category int

const (
	CategoryBasic Category = iota
	CategoryAdvanced
	CategoryExpert
)

// Categories lists all categories in ascending order.
var Categories = []Category{CategoryBasic, CategoryAdvanced, CategoryExpert}

// String returns the wire name of the category.
func (c Category) String() string {
	switch c {
	case CategoryBasic:
		return "basic"
	case CategoryAdvanced:
		return "advanced"
	case CategoryExpert:
		return "expert"
	default:
		return fmt.Sprintf("category(%d)", int(c))
	}
}

// IsAdvanced reports whether interactions with this category count toward
// the advanced ratio used by density adaptation.
func (c Category) IsAdvanced() bool {
	return c == CategoryAdvanced || c == CategoryExpert
}

// MarshalText implements encoding.TextMarshaler.
func (c Category) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (c *Category) UnmarshalText(b []byte) error {
	parsed, err := ParseCategory(string(b))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// ParseCategory parses a category name (case-insensitive).
func ParseCategory(s string) (Category, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "basic":
		return CategoryBasic, nil
	case "advanced":
		return CategoryAdvanced, nil
	case "expert":
		return CategoryExpert, nil
	default:
		return CategoryBasic, fmt.Errorf("unknown category %q (want basic, advanced or expert)", s)
	}
}

// DefaultAction is the action recorded when the caller does not name one.
const DefaultAction = "interact"

// Interaction is a single recorded use of an element.
// Immutable once recorded; owned by the usage store.
type Interaction struct {
	ID        string    `json:"id"`
	ElementID string    `json:"elementId"`
	Category  Category  `json:"category"`
	Area      string    `json:"area"`
	Action    string    `json:"action,omitempty"`
	Seq       int64     `json:"seq"`
	At        time.Time `json:"timestamp"`
}

// Key returns the merge identity of the interaction. Interactions without
// an ID fall back to element and timestamp.
func (in Interaction) Key() string {
	if in.ID != "" {
		return in.ID
	}
	return in.ElementID + "@" + in.At.UTC().Format(time.RFC3339Nano)
}

// Override freezes an area's density until explicitly cleared.
type Override struct {
	Density float64   `json:"density"`
	SetAt   time.Time `json:"setAt"`
}

// AreaState is the live adaptation state of one UI area.
type AreaState struct {
	AreaID         string    `json:"areaId"`
	Density        float64   `json:"density"`
	DefaultDensity float64   `json:"defaultDensity"`
	AdvancedRatio  float64   `json:"advancedRatio"`
	Override       *Override `json:"override,omitempty"`
}

// Effective returns the density consumers should observe: the override when
// one is set, otherwise the adapted density.
func (s AreaState) Effective() float64 {
	if s.Override != nil {
		return s.Override.Density
	}
	return s.Density
}

// ElementDescriptor describes a categorized UI element.
// Dependencies are immutable for the descriptor's lifetime and are
// implicitly ANDed.
type ElementDescriptor struct {
	ElementID    string      `json:"elementId"`
	Category     Category    `json:"category"`
	Area         string      `json:"area"`
	HelpText     string      `json:"helpText,omitempty"`
	Dependencies []Predicate `json:"-"`
}

// Rule fires an Action once its Trigger is satisfied.
type Rule struct {
	Name       string
	Trigger    Predicate
	Action     Action
	Repeatable bool
}

// AreaConfig is the declared configuration of one area.
type AreaConfig struct {
	ID             string
	DefaultDensity float64
	Elements       []ElementDescriptor
}

// Document is a compiled configuration document: the declarative program
// the engine executes.
type Document struct {
	Areas []AreaConfig
	Rules []Rule
}

// Area returns the configuration of an area by ID.
func (d *Document) Area(id string) (AreaConfig, bool) {
	for _, a := range d.Areas {
		if a.ID == id {
			return a, true
		}
	}
	return AreaConfig{}, false
}

// ElementCount returns the number of elements across all areas.
func (d *Document) ElementCount() int {
	n := 0
	for _, a := range d.Areas {
		n += len(a.Elements)
	}
	return n
}

// TrackedEvent is the payload forwarded to data sources for every
// recorded interaction.
type TrackedEvent struct {
	ElementID string    `json:"elementId"`
	Category  Category  `json:"category"`
	Area      string    `json:"area"`
	Action    string    `json:"action"`
	At        time.Time `json:"timestamp"`
}

// TrackedEventFrom builds the tracking payload for an interaction.
func TrackedEventFrom(in Interaction) TrackedEvent {
	action := in.Action
	if action == "" {
		action = DefaultAction
	}
	return TrackedEvent{
		ElementID: in.ElementID,
		Category:  in.Category,
		Area:      in.Area,
		Action:    action,
		At:        in.At,
	}
}
