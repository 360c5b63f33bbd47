package harness

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestGoldenScenarios runs every scenario under testdata/scenarios and
// compares its trace with testdata/golden/<name>.golden.
//
// Regenerate with:
//
//	go test ./internal/harness -run TestGoldenScenarios -update
func TestGoldenScenarios(t *testing.T) {
	files, err := FindScenarios(filepath.Join("testdata", "scenarios"))
	require.NoError(t, err)
	require.NotEmpty(t, files)

	for _, file := range files {
		scenario, err := LoadScenario(file)
		require.NoError(t, err, file)

		t.Run(scenario.Name, func(t *testing.T) {
			result, err := RunWithGolden(t, scenario)
			require.NoError(t, err)
			assert.True(t, result.Pass, "errors: %v", result.Errors)
		})
	}
}

func TestFormatTrace(t *testing.T) {
	out, err := FormatTrace([]TraceEvent{
		{Step: 0, Seq: 1, Kind: "sync-success", Subject: "pull", Detail: map[string]any{"sources": []string{"memory"}}},
		{Step: 2, Seq: 2, Kind: "override-cleared", Subject: "editor"},
	})
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSuffix(string(out), "\n"), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, `{"detail":{"sources":["memory"]},"kind":"sync-success","seq":1,"step":0,"subject":"pull"}`, lines[0])
	assert.Equal(t, `{"kind":"override-cleared","seq":2,"step":2,"subject":"editor"}`, lines[1])
}

func TestFormatTrace_Empty(t *testing.T) {
	out, err := FormatTrace(nil)
	require.NoError(t, err)
	assert.Empty(t, out)
}
