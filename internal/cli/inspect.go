package cli

import (
	"fmt"
	"io"
	"log/slog"
	"maps"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/reveal/internal/engine"
	"github.com/roach88/reveal/internal/ir"
	"github.com/roach88/reveal/internal/source"
)

// InspectOptions holds flags for the inspect command.
type InspectOptions struct {
	*RootOptions
	Database string
	User     string
	Document string
	Events   bool
}

// StoredUser is one row of the snapshot listing.
type StoredUser struct {
	User      string    `json:"user"`
	Digest    string    `json:"digest"`
	Version   int       `json:"version"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// InspectResult is the stored state of one user.
type InspectResult struct {
	User         string            `json:"user"`
	Digest       string            `json:"digest"`
	Snapshot     ir.SyncSnapshot   `json:"snapshot"`
	Interactions int               `json:"interactions"`
	Areas        []AreaReport      `json:"areas,omitempty"`
	Events       []ir.TrackedEvent `json:"events,omitempty"`
}

// NewInspectCommand creates the inspect command.
func NewInspectCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &InspectOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Show state stored in a SQLite database",
		Long: `Show the adaptation state stored in a SQLite database.

Without --user, lists every stored snapshot. With --user, prints that
user's densities, overrides, unlocked elements and fired rules. With --doc,
the snapshot is also applied to the document to show visible elements.

Example:
  reveal inspect --db ./reveal.db
  reveal inspect --db ./reveal.db --user alice --events
  reveal inspect --db ./reveal.db --user alice --doc ./documents/editor.cue`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInspect(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	cmd.Flags().StringVar(&opts.User, "user", "", "user whose state to show")
	cmd.Flags().StringVar(&opts.Document, "doc", "", "configuration document used to compute visibility")
	cmd.Flags().BoolVar(&opts.Events, "events", false, "include tracked events")
	_ = cmd.MarkFlagRequired("db")

	return cmd
}

func runInspect(opts *InspectOptions, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)
	ctx := cmd.Context()

	// Inspecting must not create a database as a side effect.
	if _, err := os.Stat(opts.Database); err != nil {
		_ = formatter.Error("E005", fmt.Sprintf("database not found: %s", opts.Database), nil)
		return WrapExitError(ExitCommandError, "database not found", err)
	}

	db, err := source.OpenSQLite(ctx, opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer db.Destroy()

	if opts.User == "" {
		infos, err := db.Snapshots(ctx)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to list snapshots", err)
		}
		users := make([]StoredUser, 0, len(infos))
		for _, info := range infos {
			users = append(users, StoredUser{
				User:      info.UserID,
				Digest:    info.Digest,
				Version:   info.Version,
				UpdatedAt: info.UpdatedAt,
			})
		}
		if opts.Format == "json" {
			return formatter.Success(users)
		}
		if len(users) == 0 {
			fmt.Fprintln(formatter.Writer, "No stored snapshots.")
			return nil
		}
		for _, u := range users {
			fmt.Fprintf(formatter.Writer, "%s  v%d  %s  %s\n",
				u.User, u.Version, u.UpdatedAt.Format(time.RFC3339), shortDigest(u.Digest))
		}
		return nil
	}

	snap, err := db.PullData(ctx, opts.User)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read snapshot", err)
	}
	digest, err := ir.SnapshotDigest(snap)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to hash snapshot", err)
	}
	count, err := db.InteractionCount(ctx, opts.User)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to count interactions", err)
	}

	result := InspectResult{User: opts.User, Digest: digest, Snapshot: snap, Interactions: count}
	if opts.Events {
		if result.Events, err = db.TrackedEvents(ctx, opts.User); err != nil {
			return WrapExitError(ExitCommandError, "failed to read tracked events", err)
		}
	}
	if opts.Document != "" {
		if result.Areas, err = restoredAreas(opts.Document, opts.User, snap); err != nil {
			return err
		}
	}

	return formatter.Success(result)
}

// restoredAreas applies a stored snapshot to a fresh engine without any
// data source and reports the resulting visibility.
func restoredAreas(docPath, user string, snap ir.SyncSnapshot) ([]AreaReport, error) {
	doc, err := loadCompiledDocument(docPath)
	if err != nil {
		return nil, err
	}
	eng, err := engine.New(doc,
		engine.WithUserID(user),
		engine.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to create engine", err)
	}
	defer eng.Destroy()

	eng.Restore(snap)
	return areaReports(eng), nil
}

func (result InspectResult) writeText(formatter *OutputFormatter) {
	w := formatter.Writer
	snap := result.Snapshot

	fmt.Fprintf(w, "User %s (snapshot v%d, %s)\n", result.User, snap.Version, shortDigest(result.Digest))
	if snap.IsEmpty() {
		fmt.Fprintln(w, "  no stored state")
		return
	}
	fmt.Fprintf(w, "  interactions logged: %d\n", result.Interactions)

	if len(result.Areas) > 0 {
		fmt.Fprintln(w)
		formatter.Areas(result.Areas)
	} else {
		for _, area := range slices.Sorted(maps.Keys(snap.Areas)) {
			line := fmt.Sprintf("  %s: density %.3f", area, snap.Areas[area].Density)
			if d, ok := snap.Overrides[area]; ok {
				line += fmt.Sprintf(" (override %.3f)", d)
			}
			fmt.Fprintln(w, line)
		}
	}

	if len(snap.Unlocked) > 0 {
		fmt.Fprintf(w, "  unlocked: %s\n", strings.Join(snap.Unlocked, ", "))
	}
	for _, f := range snap.ForcedCategories {
		fmt.Fprintf(w, "  forced: %s/%s\n", f.Area, f.Category)
	}
	if len(snap.FiredRules) > 0 {
		fmt.Fprintf(w, "  fired rules: %s\n", strings.Join(snap.FiredRules, ", "))
	}

	if len(result.Events) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintf(w, "Tracked events (%d):\n", len(result.Events))
		for _, ev := range result.Events {
			fmt.Fprintf(w, "  %s  %s/%s  %s\n", ev.At.Format(time.RFC3339), ev.Area, ev.ElementID, ev.Action)
		}
	}
}

func shortDigest(d string) string {
	if len(d) > 12 {
		return d[:12]
	}
	return d
}
