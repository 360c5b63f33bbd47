package cli

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/reveal/internal/harness"
)

// SimulateOptions holds flags for the simulate command.
type SimulateOptions struct {
	*RootOptions
	Trace  bool   // print each scenario's trace
	Golden string // directory of golden trace files to compare against
	Update bool   // rewrite golden files instead of comparing
}

// ScenarioReport is the outcome of one scenario file.
type ScenarioReport struct {
	Path   string               `json:"path"`
	Pass   bool                 `json:"pass"`
	Errors []string             `json:"errors,omitempty"`
	Trace  []harness.TraceEvent `json:"trace,omitempty"`
	State  map[string]any       `json:"state,omitempty"`
}

// SimulateResult holds the overall simulate result.
type SimulateResult struct {
	Scenarios []ScenarioReport `json:"scenarios"`
	Total     int              `json:"total"`
	Passed    int              `json:"passed"`
	Failed    int              `json:"failed"`
}

// NewSimulateCommand creates the simulate command.
func NewSimulateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SimulateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "simulate <scenario|dir>...",
		Short: "Run scenario files against the engine",
		Long: `Run YAML scenarios against a deterministic engine.

Each scenario drives an engine with a fake clock and an in-memory data
source, checks its step expectations and assertions, and optionally
compares its event trace against <golden>/<file>.golden.

Exit codes:
  0 - All scenarios passed
  1 - One or more scenarios failed
  2 - Command error (missing paths, unwritable golden files, etc.)

Examples:
  reveal simulate ./scenarios
  reveal simulate ./scenarios/power_user.yaml --trace
  reveal simulate ./scenarios --golden ./golden --update
  reveal simulate ./scenarios --format json`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSimulate(opts, args, cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Trace, "trace", false, "print each scenario's event trace")
	cmd.Flags().StringVar(&opts.Golden, "golden", "", "directory of golden trace files")
	cmd.Flags().BoolVar(&opts.Update, "update", false, "regenerate golden files (requires --golden)")

	return cmd
}

func runSimulate(opts *SimulateOptions, paths []string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)
	if opts.Update && opts.Golden == "" {
		return NewExitError(ExitCommandError, "--update requires --golden")
	}

	var files []string
	for _, p := range paths {
		found, err := harness.FindScenarios(p)
		if err != nil {
			_ = formatter.Error("E005", err.Error(), nil)
			return WrapExitError(ExitCommandError, "failed to find scenarios", err)
		}
		files = append(files, found...)
	}
	formatter.VerboseLog("Found %d scenario(s)", len(files))

	h := harness.New(harness.WithLogger(newLogger(cmd.ErrOrStderr(), opts.Verbose, nil)))
	suite, err := h.RunSuite(cmd.Context(), files...)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to run scenarios", err)
	}

	failures := make(map[string][]string, len(suite.Failures))
	for _, f := range suite.Failures {
		failures[f.Path] = f.Errors
	}

	result := SimulateResult{Scenarios: make([]ScenarioReport, 0, len(files))}
	for _, file := range files {
		report := ScenarioReport{Path: file, Errors: failures[file]}
		if r, ok := suite.Results[file]; ok {
			if opts.Trace {
				report.Trace = r.Trace
			}
			if opts.Format == "json" {
				report.State = r.State
			}
			if opts.Golden != "" {
				if err := checkGolden(opts, file, r); err != nil {
					var exitErr *ExitError
					if errors.As(err, &exitErr) {
						return exitErr
					}
					report.Errors = append(report.Errors, err.Error())
				}
			}
		} else if len(report.Errors) == 0 {
			report.Errors = []string{"scenario did not run"}
		}
		report.Pass = len(report.Errors) == 0

		result.Total++
		if report.Pass {
			result.Passed++
		} else {
			result.Failed++
		}
		result.Scenarios = append(result.Scenarios, report)
	}

	if opts.Format == "json" {
		if result.Failed > 0 {
			if err := formatter.Failure(result, "SCENARIO_FAILED",
				fmt.Sprintf("%d of %d scenario(s) failed", result.Failed, result.Total)); err != nil {
				return err
			}
		} else if err := formatter.Success(result); err != nil {
			return err
		}
	} else if err := outputSimulateText(formatter, opts, result); err != nil {
		return err
	}

	if result.Failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d scenario(s) failed", result.Failed))
	}
	return nil
}

// checkGolden compares a scenario's trace against its golden file, or
// rewrites the file with --update. Write failures are command errors.
func checkGolden(opts *SimulateOptions, file string, r *harness.Result) error {
	got, err := harness.FormatTrace(r.Trace)
	if err != nil {
		return fmt.Errorf("formatting trace: %w", err)
	}
	path := goldenFilePath(opts.Golden, file)

	if opts.Update {
		if err := os.MkdirAll(opts.Golden, 0o755); err != nil {
			return WrapExitError(ExitCommandError, "failed to create golden directory", err)
		}
		if err := os.WriteFile(path, got, 0o644); err != nil {
			return WrapExitError(ExitCommandError, "failed to write golden file", err)
		}
		return nil
	}

	want, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return fmt.Errorf("golden file %s not found (run with --update to create it)", path)
	}
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read golden file", err)
	}
	if !bytes.Equal(want, got) {
		return fmt.Errorf("trace does not match %s (run with --update to regenerate)", path)
	}
	return nil
}

// goldenFilePath maps scenarios/foo.yaml to <dir>/foo.golden.
func goldenFilePath(dir, scenarioFile string) string {
	base := filepath.Base(scenarioFile)
	return filepath.Join(dir, strings.TrimSuffix(base, filepath.Ext(base))+".golden")
}

func outputSimulateText(formatter *OutputFormatter, opts *SimulateOptions, result SimulateResult) error {
	w := formatter.Writer
	for _, s := range result.Scenarios {
		mark := "✓"
		if !s.Pass {
			mark = "✗"
		}
		suffix := ""
		if s.Pass && opts.Update {
			suffix = " (golden updated)"
		}
		fmt.Fprintf(w, "%s %s%s\n", mark, s.Path, suffix)
		for _, e := range s.Errors {
			fmt.Fprintf(w, "  %s\n", strings.ReplaceAll(e, "\n", "\n  "))
		}
		if len(s.Trace) > 0 {
			lines, err := harness.FormatTrace(s.Trace)
			if err != nil {
				return err
			}
			for _, line := range strings.Split(strings.TrimSuffix(string(lines), "\n"), "\n") {
				fmt.Fprintf(w, "    %s\n", line)
			}
		}
	}
	fmt.Fprintf(w, "\n%d scenario(s): %d passed, %d failed\n", result.Total, result.Passed, result.Failed)
	return nil
}
