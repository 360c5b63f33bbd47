package harness

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

// ScenarioNotFoundError is returned when a scenario path doesn't exist.
type ScenarioNotFoundError struct {
	Path string
}

// Error implements the error interface.
func (e *ScenarioNotFoundError) Error() string {
	return fmt.Sprintf("scenario path %q does not exist", e.Path)
}

// FindScenarios returns the scenario files at path: the file itself, or
// every .yaml and .yml file directly inside a directory, sorted.
func FindScenarios(path string) ([]string, error) {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return nil, &ScenarioNotFoundError{Path: path}
	}
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return []string{path}, nil
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, fmt.Errorf("reading scenario directory: %w", err)
	}
	var out []string
	for _, entry := range entries {
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if entry.IsDir() || (ext != ".yaml" && ext != ".yml") {
			continue
		}
		out = append(out, filepath.Join(path, entry.Name()))
	}
	slices.Sort(out)
	return out, nil
}

// SuiteResult summarizes a run of several scenarios.
type SuiteResult struct {
	Total    int                `json:"total"`
	Passed   int                `json:"passed"`
	Failed   int                `json:"failed"`
	Results  map[string]*Result `json:"-"`
	Failures []ScenarioFailure  `json:"failures,omitempty"`
}

// ScenarioFailure describes one scenario that did not pass.
type ScenarioFailure struct {
	Scenario string   `json:"scenario"`
	Path     string   `json:"path"`
	Errors   []string `json:"errors"`
}

// RunSuite loads and runs every scenario at the given paths. Scenarios
// that fail to load or execute count as failures; RunSuite itself only
// fails when a path cannot be read.
func (h *Harness) RunSuite(ctx context.Context, paths ...string) (*SuiteResult, error) {
	suite := &SuiteResult{Results: make(map[string]*Result)}

	for _, p := range paths {
		files, err := FindScenarios(p)
		if err != nil {
			return nil, err
		}

		for _, file := range files {
			suite.Total++

			scenario, err := LoadScenario(file)
			if err != nil {
				suite.fail(ScenarioFailure{Path: file, Errors: []string{fmt.Sprintf("failed to load scenario: %v", err)}})
				continue
			}

			result, err := h.Run(ctx, scenario)
			if err != nil {
				suite.fail(ScenarioFailure{
					Scenario: scenario.Name,
					Path:     file,
					Errors:   []string{fmt.Sprintf("scenario execution failed: %v", err)},
				})
				continue
			}
			suite.Results[file] = result

			if !result.Pass {
				suite.fail(ScenarioFailure{Scenario: scenario.Name, Path: file, Errors: result.Errors})
				continue
			}
			suite.Passed++
		}
	}

	return suite, nil
}

func (s *SuiteResult) fail(f ScenarioFailure) {
	s.Failed++
	s.Failures = append(s.Failures, f)
}
