package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/reveal/internal/compiler"
	"github.com/roach88/reveal/internal/config"
)

// ValidateOptions holds flags for the validate command.
type ValidateOptions struct {
	*RootOptions
	Watch  bool // re-validate on every change until interrupted
	Strict bool // treat validation findings and cycles as failures
}

// Problem is one finding reported by validate.
type Problem struct {
	Severity string `json:"severity"` // "error" or "warning"
	Code     string `json:"code"`
	Field    string `json:"field,omitempty"`
	Message  string `json:"message"`
	Line     int    `json:"line,omitempty"`
}

// ValidationResult holds validation results.
type ValidationResult struct {
	Path     string    `json:"path"`
	Valid    bool      `json:"valid"`
	Areas    int       `json:"areas"`
	Elements int       `json:"elements"`
	Rules    int       `json:"rules"`
	Problems []Problem `json:"problems,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ValidateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "validate <document>",
		Short: "Validate a configuration document",
		Long: `Compile a configuration document and report every problem found.

The document may be a .cue, .json, .yaml or .yml file, or a directory
holding a CUE package. Entries that fail to compile are errors; schema
findings and dependency cycles are warnings unless --strict is set.

Exit codes:
  0 - Document valid
  1 - Document has errors
  2 - Command error (document not found, unreadable, etc.)

Examples:
  reveal validate ./documents/editor.cue
  reveal validate ./documents --strict --format json
  reveal validate ./documents/editor.cue --watch`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.Watch {
				return runValidateWatch(opts, args[0], cmd)
			}
			return runValidate(opts, args[0], cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Watch, "watch", false, "re-validate whenever the document changes")
	cmd.Flags().BoolVar(&opts.Strict, "strict", false, "fail on warnings")

	return cmd
}

func runValidate(opts *ValidateOptions, path string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	cfg, err := opts.loadSettings()
	if err != nil {
		return err
	}

	res, err := config.LoadDocument(path)
	if err != nil {
		return outputLoadError(formatter, err)
	}
	formatter.VerboseLog("Loaded %d file(s) from %s", res.FileCount, path)
	checkRetention(res, cfg)

	result := buildValidationResult(path, res, opts.Strict)
	if err := outputValidation(formatter, result); err != nil {
		return err
	}
	if !result.Valid {
		return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d problem(s)", len(result.Problems)))
	}
	return nil
}

func runValidateWatch(opts *ValidateOptions, path string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)
	cfg, err := opts.loadSettings()
	if err != nil {
		return err
	}
	logger := newLogger(cmd.ErrOrStderr(), opts.Verbose, cfg)

	// Report the current state first; a broken document is still watched.
	if res, err := config.LoadDocument(path); err != nil {
		_ = outputLoadError(formatter, err)
	} else {
		checkRetention(res, cfg)
		_ = outputValidation(formatter, buildValidationResult(path, res, opts.Strict))
	}

	w, err := config.NewWatcher(path, func(res *config.DocumentResult, err error) {
		if err != nil {
			_ = outputLoadError(formatter, err)
			return
		}
		checkRetention(res, cfg)
		_ = outputValidation(formatter, buildValidationResult(path, res, opts.Strict))
	}, config.WithWatchLogger(logger))
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to watch document", err)
	}

	ctx, stop := signalContext(cmd.Context(), logger)
	defer stop()

	logger.Info("watching document", "path", path)
	return w.Run(ctx)
}

// checkRetention re-runs the semantic checks against the configured
// history age limit.
func checkRetention(res *config.DocumentResult, cfg *config.Config) {
	if res.Document != nil {
		res.Validation = compiler.Validate(res.Document, compiler.WithRetentionAge(cfg.Retention.MaxAge))
	}
}

func buildValidationResult(path string, res *config.DocumentResult, strict bool) ValidationResult {
	result := ValidationResult{Path: path}
	if res.Document != nil {
		result.Areas = len(res.Document.Areas)
		result.Elements = res.Document.ElementCount()
		result.Rules = len(res.Document.Rules)
	}

	for _, ce := range res.CompileErrors {
		p := Problem{Severity: "error", Code: ce.Code, Field: ce.Field, Message: ce.Message}
		if ce.Pos.IsValid() {
			p.Line = ce.Pos.Line()
		}
		result.Problems = append(result.Problems, p)
	}
	warning := "warning"
	if strict {
		warning = "error"
	}
	for _, ve := range res.Validation {
		result.Problems = append(result.Problems, Problem{
			Severity: warning, Code: ve.Code, Field: ve.Field, Message: ve.Message,
		})
	}
	for _, c := range res.Cycles {
		result.Problems = append(result.Problems, Problem{Severity: warning, Code: "CYCLE", Message: c.Message})
	}

	result.Valid = res.OK()
	if strict && len(result.Problems) > 0 {
		result.Valid = false
	}
	return result
}

func outputLoadError(formatter *OutputFormatter, err error) error {
	_ = formatter.Error(ErrorCode(err), err.Error(), nil)
	return NewExitError(ExitCommandError, err.Error())
}

func outputValidation(formatter *OutputFormatter, result ValidationResult) error {
	if formatter.Format == "json" {
		if result.Valid {
			return formatter.Success(result)
		}
		first := firstError(result.Problems)
		return formatter.Failure(result, first.Code, first.Message)
	}

	w := formatter.Writer
	if result.Valid {
		fmt.Fprintf(w, "✓ %s valid (%d areas, %d elements, %d rules)\n",
			result.Path, result.Areas, result.Elements, result.Rules)
	} else {
		fmt.Fprintf(w, "✗ %s failed validation\n", result.Path)
	}
	for _, p := range result.Problems {
		loc := p.Field
		if p.Line > 0 {
			loc = fmt.Sprintf("line %d: %s", p.Line, p.Field)
		}
		if loc != "" {
			fmt.Fprintf(w, "  %s %s [%s]: %s\n", p.Severity, loc, p.Code, p.Message)
		} else {
			fmt.Fprintf(w, "  %s [%s]: %s\n", p.Severity, p.Code, p.Message)
		}
	}
	return nil
}

// firstError returns the first error-severity problem, or the first
// problem when there are only warnings.
func firstError(problems []Problem) Problem {
	for _, p := range problems {
		if p.Severity == "error" {
			return p
		}
	}
	if len(problems) > 0 {
		return problems[0]
	}
	return Problem{Code: config.ErrCodeGeneric, Message: "document did not compile"}
}
