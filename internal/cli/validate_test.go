package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validDocument = `
areas: editor: {
	defaultDensity: 0.2
	elements: [
		{id: "save"},
		{id: "format", category: "advanced", dependencies: [{type: "usage_count", elementId: "save", threshold: 2}]},
		{id: "macros", category: "expert"},
	]
}
rules: [{
	name: "power-user"
	trigger: {type: "usage_count", elementId: "save", threshold: 3}
	action: {type: "unlock_category", area: "editor", category: "expert"}
}]
`

// warningDocument compiles but references an unknown element and has a
// dependency cycle.
const warningDocument = `
areas: editor: elements: [
	{id: "a", dependencies: [{type: "logical_and", elements: ["b"]}]},
	{id: "b", dependencies: [{type: "logical_and", elements: ["a", "ghost"]}]},
]
`

const brokenDocument = `
areas: editor: elements: [
	{id: "save"},
	{id: "c", dependencies: [{type: "telepathy"}]},
]
`

func writeDoc(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func executeValidate(t *testing.T, opts *RootOptions, args ...string) (string, string, error) {
	t.Helper()
	stdout, stderr := &bytes.Buffer{}, &bytes.Buffer{}
	cmd := NewValidateCommand(opts)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func TestValidateValidDocument(t *testing.T) {
	path := writeDoc(t, t.TempDir(), "editor.cue", validDocument)

	out, _, err := executeValidate(t, &RootOptions{Format: "text"}, path)
	require.NoError(t, err)
	assert.Contains(t, out, "✓")
	assert.Contains(t, out, "(1 areas, 3 elements, 1 rules)")
}

func TestValidateValidDocumentJSON(t *testing.T) {
	path := writeDoc(t, t.TempDir(), "editor.cue", validDocument)

	out, _, err := executeValidate(t, &RootOptions{Format: "json"}, path)
	require.NoError(t, err)

	var resp struct {
		Status string           `json:"status"`
		Data   ValidationResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.True(t, resp.Data.Valid)
	assert.Equal(t, 3, resp.Data.Elements)
	assert.Empty(t, resp.Data.Problems)
}

func TestValidateYAMLDocument(t *testing.T) {
	path := writeDoc(t, t.TempDir(), "editor.yaml", `
areas:
  editor:
    elements:
      - id: save
      - { id: format, category: advanced }
`)

	out, _, err := executeValidate(t, &RootOptions{Format: "text"}, path)
	require.NoError(t, err)
	assert.Contains(t, out, "(1 areas, 2 elements, 0 rules)")
}

func TestValidateWarnings(t *testing.T) {
	path := writeDoc(t, t.TempDir(), "cycle.cue", warningDocument)

	out, _, err := executeValidate(t, &RootOptions{Format: "text"}, path)
	require.NoError(t, err, "warnings alone do not fail validation")
	assert.Contains(t, out, "✓")
	assert.Contains(t, out, "warning")
	assert.Contains(t, out, "[CYCLE]")
	assert.Contains(t, out, "ghost")
}

func TestValidateStrict(t *testing.T) {
	path := writeDoc(t, t.TempDir(), "cycle.cue", warningDocument)

	out, _, err := executeValidate(t, &RootOptions{Format: "text"}, "--strict", path)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "✗")
	assert.NotContains(t, out, "warning")
}

func TestValidateRetentionAge(t *testing.T) {
	dir := t.TempDir()
	path := writeDoc(t, dir, "quarterly.cue", `
areas: reports: elements: [
	{id: "export"},
	{id: "trends", category: "advanced", dependencies: [{type: "time_based", elementId: "export", timeWindow: "60d", minUsage: 3}]},
]
`)

	out, _, err := executeValidate(t, &RootOptions{Format: "text", Config: filepath.Join(dir, "absent.yaml")}, path)
	require.NoError(t, err)
	assert.Contains(t, out, "[E124]")

	settings := writeDoc(t, dir, "reveal.yaml", "retention:\n  max_age: 2160h\n")
	out, _, err = executeValidate(t, &RootOptions{Format: "text", Config: settings}, path)
	require.NoError(t, err)
	assert.NotContains(t, out, "[E124]")
}

func TestValidateCompileErrors(t *testing.T) {
	path := writeDoc(t, t.TempDir(), "broken.cue", brokenDocument)

	out, _, err := executeValidate(t, &RootOptions{Format: "text"}, path)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, err.Error(), "validation failed with")
	assert.Contains(t, out, "failed validation")
	assert.Contains(t, out, "error")
	assert.Contains(t, out, "[E104]")
}

func TestValidateCompileErrorsJSON(t *testing.T) {
	path := writeDoc(t, t.TempDir(), "broken.cue", brokenDocument)

	out, _, err := executeValidate(t, &RootOptions{Format: "json"}, path)
	require.Error(t, err)

	var resp struct {
		Status string           `json:"status"`
		Data   ValidationResult `json:"data"`
		Error  *CLIError        `json:"error"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "error", resp.Status)
	assert.False(t, resp.Data.Valid)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "E104", resp.Error.Code)
	assert.Equal(t, 2, resp.Data.Elements, "an element with a malformed dependency is kept")
}

func TestValidateLoadErrors(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name string
		path string
		code string
	}{
		{"missing", filepath.Join(dir, "nope.cue"), "E005"},
		{"empty directory", t.TempDir(), "E003"},
		{"unsupported format", writeDoc(t, dir, "doc.toml", "x = 1"), "E007"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, _, err := executeValidate(t, &RootOptions{Format: "text"}, tt.path)
			require.Error(t, err)
			assert.Equal(t, ExitCommandError, GetExitCode(err))
			assert.Contains(t, out, "Error ["+tt.code+"]")
		})
	}
}

func TestValidateVerboseGoesToStderr(t *testing.T) {
	path := writeDoc(t, t.TempDir(), "editor.cue", validDocument)

	out, errOut, err := executeValidate(t, &RootOptions{Format: "json", Verbose: true}, path)
	require.NoError(t, err)
	assert.Contains(t, errOut, "Loaded 1 file(s)")

	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp), "stdout must stay valid JSON")
}

func TestValidateWatch(t *testing.T) {
	dir := t.TempDir()
	path := writeDoc(t, dir, "editor.cue", validDocument)

	out := &syncBuffer{}
	cmd := NewValidateCommand(&RootOptions{Format: "text"})
	cmd.SetOut(out)
	cmd.SetErr(&syncBuffer{})
	cmd.SetArgs([]string{"--watch", path})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- cmd.ExecuteContext(ctx) }()

	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), "3 elements")
	}, 5*time.Second, 20*time.Millisecond)

	// The watcher may not be registered yet when the first report prints;
	// keep rewriting until the reload is seen.
	require.Eventually(t, func() bool {
		_ = os.WriteFile(path, []byte(brokenDocument), 0o644)
		return strings.Contains(out.String(), "[E104]")
	}, 5*time.Second, 300*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("validate --watch did not stop after cancellation")
	}
}
