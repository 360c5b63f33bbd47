package cli

import (
	"fmt"
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"github.com/spf13/cobra"

	"github.com/roach88/reveal/internal/config"
	"github.com/roach88/reveal/internal/engine"
	"github.com/roach88/reveal/internal/ir"
)

// TrackOptions holds flags for the track command.
type TrackOptions struct {
	*RootOptions
	Database string
	Document string
	User     string
	Area     string
	Action   string
	Metrics  bool // print engine metrics to stderr after the run
}

// AreaReport is an area's state after a command ran.
type AreaReport struct {
	Area     string   `json:"area"`
	Density  float64  `json:"density"`
	Override *float64 `json:"override,omitempty"`
	Visible  []string `json:"visible"`
}

// TrackResult holds the result of the track command.
type TrackResult struct {
	User        string          `json:"user"`
	Recorded    int             `json:"recorded"`
	Events      []engine.Event  `json:"events"`
	Areas       []AreaReport    `json:"areas"`
	Diagnostics []ir.Diagnostic `json:"diagnostics,omitempty"`
}

// NewTrackCommand creates the track command.
func NewTrackCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TrackOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "track <element>...",
		Short: "Record interactions into a SQLite store",
		Long: `Record interactions for a user and persist the adapted state.

The user's state is pulled from the SQLite database (created if missing),
each element is recorded in order, and the resulting snapshot and tracked
events are written back along with any mirrors configured in the settings
file. Every engine event emitted along the way is printed.

Example:
  reveal track --db ./reveal.db --doc ./documents/editor.cue --user alice save save format
  reveal track --db ./reveal.db --doc ./editor.yaml --user bob --action view outline
  reveal track --db ./reveal.db --doc ./editor.yaml --user bob --metrics save

Exit codes:
  0 - Interactions recorded and the snapshot stored
  2 - Command error (bad settings or document, no source stored the snapshot)`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrack(opts, args, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	cmd.Flags().StringVar(&opts.Document, "doc", "", "configuration document (required)")
	cmd.Flags().StringVar(&opts.User, "user", "", "user ID (defaults to the settings file's user_id)")
	cmd.Flags().StringVar(&opts.Area, "area", "", "area to record in (defaults to each element's area)")
	cmd.Flags().StringVar(&opts.Action, "action", "", "action name forwarded with each tracked event")
	cmd.Flags().BoolVar(&opts.Metrics, "metrics", false, "print engine metrics in Prometheus text format to stderr")
	_ = cmd.MarkFlagRequired("db")
	_ = cmd.MarkFlagRequired("doc")

	return cmd
}

func runTrack(opts *TrackOptions, elements []string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	cfg, err := opts.loadSettings()
	if err != nil {
		return err
	}
	if opts.User != "" {
		cfg.UserID = opts.User
	}
	cfg.Sources.SQLite.Path = opts.Database
	cfg.Sync.Primary = config.SourceSQLite
	if err := cfg.Validate(); err != nil {
		return WrapExitError(ExitCommandError, "invalid settings", err)
	}
	logger := newLogger(cmd.ErrOrStderr(), opts.Verbose, cfg)

	doc, err := loadCompiledDocument(opts.Document)
	if err != nil {
		return err
	}

	primary, mirrors, err := buildSources(cfg)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to configure sources", err)
	}

	engOpts := []engine.Option{
		engine.WithSettings(engine.SettingsFrom(cfg)),
		engine.WithUserID(cfg.UserID),
		engine.WithLogger(logger),
		engine.WithSources(primary, mirrors...),
		engine.WithBackgroundSync(false),
	}
	var reg *prometheus.Registry
	if opts.Metrics {
		reg = prometheus.NewRegistry()
		engOpts = append(engOpts, engine.WithMetrics(reg))
	}

	eng, err := engine.New(doc, engOpts...)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to create engine", err)
	}
	defer eng.Destroy()

	result := TrackResult{User: cfg.UserID}
	unsubscribe := eng.Subscribe(func(ev engine.Event) {
		result.Events = append(result.Events, ev)
	})
	defer unsubscribe()

	ctx := cmd.Context()
	if err := eng.Init(ctx); err != nil {
		return WrapExitError(ExitCommandError, "failed to initialize engine", err)
	}

	for _, id := range elements {
		n := eng.RecordInteraction(ir.Interaction{ElementID: id, Area: opts.Area, Action: opts.Action})
		if n > 0 {
			result.Recorded++
		}
		formatter.VerboseLog("Recorded %s (count %d)", id, n)
	}
	push := eng.Flush(ctx)

	result.Areas = areaReports(eng)
	result.Diagnostics = eng.Diagnostics()

	if reg != nil {
		if err := writeMetrics(cmd.ErrOrStderr(), reg); err != nil {
			return WrapExitError(ExitCommandError, "failed to write metrics", err)
		}
	}

	if !push.OK() {
		if len(push.Errors) == 0 {
			_ = formatter.Error(string(ir.ErrCodeSourceFailed), "failed to store state", nil)
			return NewExitError(ExitCommandError, "failed to store state")
		}
		_ = formatter.Error(ErrorCode(push.Errors[0]), push.Errors[0].Error(), nil)
		return WrapExitError(ExitCommandError, "failed to store state", push.Errors[0])
	}

	return formatter.Success(result)
}

// writeMetrics prints every gathered family in the Prometheus text
// exposition format.
func writeMetrics(w io.Writer, g prometheus.Gatherer) error {
	families, err := g.Gather()
	if err != nil {
		return err
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return err
		}
	}
	return nil
}

// loadCompiledDocument loads a document and fails unless every entry
// compiled.
func loadCompiledDocument(path string) (*ir.Document, error) {
	res, err := config.LoadDocument(path)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load document", err)
	}
	if !res.OK() {
		if len(res.CompileErrors) > 0 {
			return nil, WrapExitError(ExitCommandError, "document has errors", res.CompileErrors[0])
		}
		return nil, NewExitError(ExitCommandError, "document has errors")
	}
	return res.Document, nil
}

func areaReports(eng *engine.Engine) []AreaReport {
	var out []AreaReport
	for _, id := range eng.Areas() {
		st, ok := eng.Area(id)
		if !ok {
			continue
		}
		report := AreaReport{Area: id, Density: st.Density, Visible: []string{}}
		if st.Override != nil {
			d := st.Override.Density
			report.Override = &d
		}
		for _, el := range eng.Elements(id) {
			if el.Visible {
				report.Visible = append(report.Visible, el.ElementID)
			}
		}
		out = append(out, report)
	}
	return out
}

func (r TrackResult) writeText(f *OutputFormatter) {
	fmt.Fprintf(f.Writer, "Recorded %d interaction(s) for %s\n", r.Recorded, r.User)
	f.Events(r.Events)
	fmt.Fprintln(f.Writer)
	f.Areas(r.Areas)
	f.Diagnostics(r.Diagnostics)
}
