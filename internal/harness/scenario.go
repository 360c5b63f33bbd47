package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/reveal/internal/source"
)

// Scenario drives one engine through a sequence of steps and asserts on
// the resulting event trace and final state.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Document is the configuration document, either a path (relative to
	// the scenario file) or an inline mapping.
	Document DocumentRef `yaml:"document"`

	// Settings overrides runtime settings, using the settings file layout.
	Settings yaml.Node `yaml:"settings,omitempty"`

	// Start is the fake wall-clock time the scenario begins at.
	// Defaults to DefaultStart.
	Start time.Time `yaml:"start,omitempty"`

	// User is the user ID the engine syncs as. Defaults to "default".
	User string `yaml:"user,omitempty"`

	// Remote is the state the in-memory data source holds before Init.
	Remote *Remote `yaml:"remote,omitempty"`

	// Steps run in order after the engine is initialized.
	Steps []Step `yaml:"steps"`

	// Assertions validate the final trace and state.
	// Supported types: trace_contains, trace_order, trace_count, final_state
	Assertions []Assertion `yaml:"assertions,omitempty"`
}

// DefaultStart is the fake clock's start time when a scenario names none.
var DefaultStart = time.Date(2026, time.January, 5, 9, 0, 0, 0, time.UTC)

// DocumentRef is a document path or an inline document.
type DocumentRef struct {
	Path   string
	Inline any
}

// UnmarshalYAML accepts a scalar path or a mapping.
func (d *DocumentRef) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		return node.Decode(&d.Path)
	}
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: document must be a path or a mapping", node.Line)
	}
	return node.Decode(&d.Inline)
}

// IsZero reports whether no document was given.
func (d DocumentRef) IsZero() bool {
	return d.Path == "" && d.Inline == nil
}

// Remote seeds the in-memory data source.
type Remote struct {
	Densities map[string]float64 `yaml:"densities,omitempty"`
	Overrides map[string]float64 `yaml:"overrides,omitempty"`
	Unlocked  []string           `yaml:"unlocked,omitempty"`
	Fired     []string           `yaml:"fired,omitempty"`

	// Fail lists source operations that fail from the start.
	Fail []string `yaml:"fail,omitempty"`
}

// Step is one action against the engine. Exactly one action field is set,
// optionally followed by an Expect checked right after the action. A step
// may also hold only an Expect.
type Step struct {
	// Record records interactions with an element.
	Record string `yaml:"record,omitempty"`
	// Area is used for interactions with unregistered elements.
	Area   string `yaml:"area,omitempty"`
	Action string `yaml:"action,omitempty"`
	// Times repeats the record; 0 means once.
	Times int `yaml:"times,omitempty"`

	// Advance moves the fake clock and fires due timers.
	Advance time.Duration `yaml:"advance,omitempty"`

	Override      *OverrideStep   `yaml:"override,omitempty"`
	ClearOverride string          `yaml:"clear_override,omitempty"`
	Seen          string          `yaml:"seen,omitempty"`
	Categorize    *CategorizeStep `yaml:"categorize,omitempty"`

	// Evaluate re-checks time-dependent conditions and rules.
	Evaluate bool `yaml:"evaluate,omitempty"`

	Pull  bool `yaml:"pull,omitempty"`
	Push  bool `yaml:"push,omitempty"`
	Flush bool `yaml:"flush,omitempty"`

	// Fail makes a source operation fail from now on; Recover undoes it.
	Fail    string `yaml:"fail,omitempty"`
	Recover string `yaml:"recover,omitempty"`

	Expect *Expect `yaml:"expect,omitempty"`
}

// OverrideStep sets a density override.
type OverrideStep struct {
	Area    string  `yaml:"area"`
	Density float64 `yaml:"density"`
}

// CategorizeStep registers an element at runtime.
type CategorizeStep struct {
	Element  string `yaml:"element"`
	Area     string `yaml:"area"`
	Category string `yaml:"category"`
	HelpText string `yaml:"help_text,omitempty"`
}

// Expect is checked against live engine state after a step.
type Expect struct {
	Density  map[string]float64 `yaml:"density,omitempty"`
	Visible  []string           `yaml:"visible,omitempty"`
	Hidden   []string           `yaml:"hidden,omitempty"`
	Unlocked []string           `yaml:"unlocked,omitempty"`
	Locked   []string           `yaml:"locked,omitempty"`
	New      []string           `yaml:"new,omitempty"`
}

// Assertion validates the trace or the final state.
type Assertion struct {
	// Type specifies the assertion type:
	// - "trace_contains": an event of Kind (and Subject, Detail) occurred
	// - "trace_order": Events occurred in order
	// - "trace_count": an event of Kind (and Subject) occurred Count times
	// - "final_state": an Area or Element ended in the Expect state
	Type string `yaml:"type"`

	Kind    string         `yaml:"kind,omitempty"`
	Subject string         `yaml:"subject,omitempty"`
	Detail  map[string]any `yaml:"detail,omitempty"`

	// Count is the expected number of occurrences (trace_count).
	Count int `yaml:"count,omitempty"`

	// Events is the expected order, each "kind" or "kind:subject"
	// (trace_order).
	Events []string `yaml:"events,omitempty"`

	// Area or Element selects the final_state target.
	Area    string         `yaml:"area,omitempty"`
	Element string         `yaml:"element,omitempty"`
	Expect  map[string]any `yaml:"expect,omitempty"`
}

// Assertion type constants.
const (
	AssertTraceContains = "trace_contains"
	AssertTraceOrder    = "trace_order"
	AssertTraceCount    = "trace_count"
	AssertFinalState    = "final_state"
)

// LoadScenario reads and parses a scenario YAML file. A document path is
// resolved relative to the scenario file.
//
// Returns an error if the file doesn't exist, is malformed, contains
// unknown fields (typos) or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	return LoadScenarioWithBasePath(path, filepath.Dir(path))
}

// LoadScenarioWithBasePath reads and parses a scenario YAML file,
// resolving the document path relative to basePath.
func LoadScenarioWithBasePath(path, basePath string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	scenario, err := ParseScenario(data)
	if err != nil {
		return nil, err
	}

	if p := scenario.Document.Path; p != "" && !filepath.IsAbs(p) && basePath != "" {
		scenario.Document.Path = filepath.Join(basePath, p)
	}
	if p := scenario.Document.Path; p != "" {
		if _, err := os.Stat(p); os.IsNotExist(err) {
			return nil, fmt.Errorf("invalid scenario: document not found: %s", p)
		}
	}

	return scenario, nil
}

// ParseScenario parses scenario YAML. Document paths are left as written.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // catches typos like "assertion:" vs "assertions:"
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if s.Document.IsZero() {
		return fmt.Errorf("document is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	if s.Remote != nil {
		for _, op := range s.Remote.Fail {
			if !validOp(op) {
				return fmt.Errorf("remote.fail: unknown source operation %q", op)
			}
		}
	}

	for i, step := range s.Steps {
		if err := validateStep(i, &step); err != nil {
			return err
		}
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}

	return nil
}

func validateStep(index int, st *Step) error {
	actions := 0
	for _, set := range []bool{
		st.Record != "",
		st.Advance != 0,
		st.Override != nil,
		st.ClearOverride != "",
		st.Seen != "",
		st.Categorize != nil,
		st.Evaluate,
		st.Pull,
		st.Push,
		st.Flush,
		st.Fail != "",
		st.Recover != "",
	} {
		if set {
			actions++
		}
	}

	switch {
	case actions > 1:
		return fmt.Errorf("steps[%d]: only one action per step", index)
	case actions == 0 && st.Expect == nil:
		return fmt.Errorf("steps[%d]: an action or expect is required", index)
	case st.Advance < 0:
		return fmt.Errorf("steps[%d]: advance must be positive", index)
	case st.Times < 0:
		return fmt.Errorf("steps[%d]: times must be non-negative", index)
	case st.Override != nil && st.Override.Area == "":
		return fmt.Errorf("steps[%d].override: area is required", index)
	case st.Fail != "" && !validOp(st.Fail):
		return fmt.Errorf("steps[%d]: unknown source operation %q", index, st.Fail)
	case st.Recover != "" && !validOp(st.Recover):
		return fmt.Errorf("steps[%d]: unknown source operation %q", index, st.Recover)
	}

	if c := st.Categorize; c != nil && (c.Element == "" || c.Area == "" || c.Category == "") {
		return fmt.Errorf("steps[%d].categorize: element, area and category are required", index)
	}
	return nil
}

func validOp(op string) bool {
	switch source.Op(op) {
	case source.OpInitialize, source.OpPush, source.OpPull, source.OpTrack:
		return true
	}
	return false
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertTraceContains:
		if a.Kind == "" {
			return fmt.Errorf("assertions[%d]: kind is required for trace_contains", index)
		}
	case AssertTraceOrder:
		if len(a.Events) == 0 {
			return fmt.Errorf("assertions[%d]: events list is required for trace_order", index)
		}
	case AssertTraceCount:
		if a.Kind == "" {
			return fmt.Errorf("assertions[%d]: kind is required for trace_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for trace_count", index)
		}
	case AssertFinalState:
		if (a.Area == "") == (a.Element == "") {
			return fmt.Errorf("assertions[%d]: exactly one of area or element is required for final_state", index)
		}
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for final_state", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}

	return nil
}
