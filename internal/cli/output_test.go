package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/reveal/internal/config"
	"github.com/roach88/reveal/internal/engine"
	"github.com/roach88/reveal/internal/ir"
)

func decodeResponse(t *testing.T, buf *bytes.Buffer) CLIResponse {
	t.Helper()
	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	return resp
}

func TestOutputFormatter_JSONSuccess(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "json", Writer: buf}

	require.NoError(t, formatter.Success(map[string]int{"areas": 2}))

	resp := decodeResponse(t, buf)
	assert.Equal(t, "ok", resp.Status)
	assert.Nil(t, resp.Error)
	assert.Equal(t, map[string]any{"areas": float64(2)}, resp.Data)
}

func TestOutputFormatter_JSONError(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "json", Writer: buf}

	details := map[string]string{"path": "areas.editor"}
	require.NoError(t, formatter.Error("E005", "document not found", details))

	resp := decodeResponse(t, buf)
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "E005", resp.Error.Code)
	assert.Equal(t, "document not found", resp.Error.Message)
	assert.NotNil(t, resp.Error.Details)
}

func TestOutputFormatter_JSONFailureKeepsData(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "json", Writer: buf}

	require.NoError(t, formatter.Failure(map[string]bool{"valid": false}, "E101", "element id is required"))

	resp := decodeResponse(t, buf)
	assert.Equal(t, "error", resp.Status)
	assert.Equal(t, map[string]any{"valid": false}, resp.Data)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "E101", resp.Error.Code)
}

func TestOutputFormatter_Text(t *testing.T) {
	tests := []struct {
		name    string
		verbose bool
		write   func(*OutputFormatter) error
		want    []string
		notWant []string
	}{
		{
			name:  "success",
			write: func(f *OutputFormatter) error { return f.Success("document valid") },
			want:  []string{"document valid"},
		},
		{
			name:    "error",
			write:   func(f *OutputFormatter) error { return f.Error("E001", "load failed", map[string]string{"file": "a.cue"}) },
			want:    []string{"Error [E001]: load failed"},
			notWant: []string{"Details:"},
		},
		{
			name:    "error verbose",
			verbose: true,
			write:   func(f *OutputFormatter) error { return f.Error("E001", "load failed", map[string]string{"file": "a.cue"}) },
			want:    []string{"Error [E001]: load failed", "Details:"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := &bytes.Buffer{}
			formatter := &OutputFormatter{Format: "text", Writer: buf, Verbose: tt.verbose}

			require.NoError(t, tt.write(formatter))
			for _, w := range tt.want {
				assert.Contains(t, buf.String(), w)
			}
			for _, w := range tt.notWant {
				assert.NotContains(t, buf.String(), w)
			}
		})
	}
}

func TestOutputFormatter_VerboseLog(t *testing.T) {
	t.Run("goes to the error writer", func(t *testing.T) {
		out, errOut := &bytes.Buffer{}, &bytes.Buffer{}
		formatter := &OutputFormatter{Format: "json", Writer: out, ErrWriter: errOut, Verbose: true}

		formatter.VerboseLog("loading %s", "editor.cue")
		assert.Empty(t, out.String())
		assert.Contains(t, errOut.String(), "loading editor.cue")
	})

	t.Run("falls back to the writer", func(t *testing.T) {
		out := &bytes.Buffer{}
		formatter := &OutputFormatter{Format: "text", Writer: out, Verbose: true}

		formatter.VerboseLog("loading %s", "editor.cue")
		assert.Contains(t, out.String(), "loading editor.cue")
		assert.Same(t, out, formatter.errWriter())
	})

	t.Run("silent unless verbose", func(t *testing.T) {
		out := &bytes.Buffer{}
		formatter := &OutputFormatter{Format: "text", Writer: out}

		formatter.VerboseLog("loading %s", "editor.cue")
		assert.Empty(t, out.String())
	})
}

func TestGetExitCode(t *testing.T) {
	cause := errors.New("disk full")

	tests := []struct {
		name string
		err  error
		want int
	}{
		{"command error", NewExitError(ExitCommandError, "bad path"), ExitCommandError},
		{"wrapped exit error", fmt.Errorf("simulate: %w", NewExitError(ExitFailure, "1 failed")), ExitFailure},
		{"plain error", cause, ExitFailure},
		{"no error", nil, ExitSuccess},
		{"load error", fmt.Errorf("validate: %w", &config.LoadError{Code: config.ErrCodeNotFound, Message: "no such file"}), ExitCommandError},
		{"config error", &ir.ConfigError{Code: ir.ErrCodeConfigInvalid, Path: "rules[0]", Message: "name is required"}, ExitCommandError},
		{"source error", &ir.SourceError{Source: "sqlite", Op: "push", Err: cause}, ExitCommandError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, GetExitCode(tt.err))
		})
	}

	wrapped := WrapExitError(ExitCommandError, "failed to open database", cause)
	assert.Equal(t, "failed to open database: disk full", wrapped.Error())
	assert.ErrorIs(t, wrapped, cause)
}

func TestErrorCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"load error", &config.LoadError{Code: config.ErrCodeFormat, Message: "unsupported extension"}, config.ErrCodeFormat},
		{"config error", &ir.ConfigError{Code: ir.ErrCodeUnknownKind, Path: "rules[0].trigger"}, string(ir.ErrCodeUnknownKind)},
		{"wrapped source error", fmt.Errorf("flush: %w", &ir.SourceError{Source: "rest", Op: "push", Err: errors.New("503")}), string(ir.ErrCodeSourceFailed)},
		{"state error", &ir.StateError{Code: ir.ErrCodeUnknownArea, Subject: "sidebar"}, string(ir.ErrCodeUnknownArea)},
		{"anything else", errors.New("boom"), config.ErrCodeGeneric},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ErrorCode(tt.err))
		})
	}
}

func TestEventLine(t *testing.T) {
	tests := []struct {
		name string
		ev   engine.Event
		want string
	}{
		{
			name: "density",
			ev:   engine.Event{Kind: engine.EventDensityChanged, Density: &engine.DensityPayload{Area: "editor", Previous: 0.2, Density: 0.35}},
			want: "density-changed editor 0.200 -> 0.350",
		},
		{
			name: "unlock with reason",
			ev:   engine.Event{Kind: engine.EventElementUnlocked, Element: &engine.ElementPayload{ElementID: "format", Reason: "dependencies"}},
			want: "element-unlocked format (dependencies)",
		},
		{
			name: "sync",
			ev:   engine.Event{Kind: engine.EventSyncSuccess, Sync: &engine.SyncPayload{Op: "push", Sources: []string{"sqlite", "rest"}}},
			want: "sync-success push [sqlite, rest]",
		},
		{
			name: "bare kind",
			ev:   engine.Event{Kind: engine.EventElementUnlocked},
			want: "element-unlocked",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, EventLine(tt.ev))
		})
	}
}

func TestOutputFormatter_EngineResults(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "text", Writer: buf}
	override := 0.5

	result := TrackResult{
		User:     "alice",
		Recorded: 2,
		Events: []engine.Event{
			{Seq: 1, Kind: engine.EventElementUnlocked, Element: &engine.ElementPayload{ElementID: "format"}},
		},
		Areas: []AreaReport{
			{Area: "editor", Density: 0.15, Visible: []string{"save", "format"}},
			{Area: "settings", Density: 0.2, Override: &override, Visible: []string{}},
		},
		Diagnostics: []ir.Diagnostic{
			{Kind: ir.DiagState, Code: ir.ErrCodeUnknownElement, Subject: "ghost", Message: "element is not registered"},
		},
	}
	require.NoError(t, formatter.Success(result))

	out := buf.String()
	assert.Contains(t, out, "Recorded 2 interaction(s) for alice")
	assert.Contains(t, out, "  [1] element-unlocked format\n")
	assert.Contains(t, out, "editor: density 0.150\n  visible: save, format\n")
	assert.Contains(t, out, "settings: density 0.200 (override 0.500)\n")
	assert.NotContains(t, out, "settings: density 0.200 (override 0.500)\n  visible")
	assert.Contains(t, out, "Diagnostics:\n  state STATE_UNKNOWN_ELEMENT ghost: element is not registered\n")
}
