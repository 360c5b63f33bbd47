package config

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/reveal/internal/compiler"
	"github.com/roach88/reveal/internal/ir"
)

const cueDoc = `
areas: editor: {
	defaultDensity: 0.4
	elements: [
		{id: "save"},
		{id: "export", category: "advanced", dependencies: [
			{type: "usage_count", elementId: "save", threshold: 3},
		]},
	]
}
rules: [{
	name: "welcome"
	trigger: {type: "usage_count", elementId: "save", threshold: 1}
	action: {type: "show_tutorial", data: {step: 1}}
}]
`

const jsonDoc = `{
  "areas": {
    "editor": {
      "defaultDensity": 0.4,
      "elements": [
        {"id": "save"},
        {"id": "export", "category": "advanced", "dependencies": [
          {"type": "usage_count", "elementId": "save", "threshold": 3}
        ]}
      ]
    }
  },
  "rules": [{
    "name": "welcome",
    "trigger": {"type": "usage_count", "elementId": "save", "threshold": 1},
    "action": {"type": "show_tutorial", "data": {"step": 1}}
  }]
}`

const yamlDoc = `
areas:
  editor:
    defaultDensity: 0.4
    elements:
      - id: save
      - id: export
        category: advanced
        dependencies:
          - {type: usage_count, elementId: save, threshold: 3}
rules:
  - name: welcome
    trigger: {type: usage_count, elementId: save, threshold: 1}
    action: {type: show_tutorial, data: {step: 1}}
`

func TestLoadDocumentFormatsAgree(t *testing.T) {
	dir := t.TempDir()
	files := map[string]string{
		"doc.cue":  cueDoc,
		"doc.json": jsonDoc,
		"doc.yaml": yamlDoc,
	}

	var docs []*ir.Document
	for name, content := range files {
		res, err := LoadDocument(writeFile(t, dir, name, content))
		require.NoError(t, err, name)
		require.True(t, res.OK(), "%s: %v", name, res.CompileErrors)
		assert.Equal(t, 1, res.FileCount)
		docs = append(docs, res.Document)
	}

	for _, doc := range docs[1:] {
		assert.Equal(t, docs[0], doc)
	}
	assert.Equal(t, ir.UsageCount{ElementID: "save", Threshold: 3}, docs[0].Areas[0].Elements[1].Dependencies[0])
}

func TestLoadDocumentDirectory(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "areas.cue", `package reveal
areas: editor: elements: [{id: "save"}]
`)
	writeFile(t, dir, "rules.cue", `package reveal
rules: [{
	name: "welcome"
	trigger: {type: "usage_count", elementId: "save", threshold: 1}
	action: {type: "show_tutorial"}
}]
`)

	res, err := LoadDocument(dir)
	require.NoError(t, err)
	assert.Equal(t, 2, res.FileCount)
	require.True(t, res.OK())
	assert.Len(t, res.Document.Rules, 1)
}

func TestLoadDocumentReportsWarnings(t *testing.T) {
	path := writeFile(t, t.TempDir(), "doc.cue", `
areas: editor: elements: [
	{id: "a", dependencies: [{type: "logical_and", elements: ["b"]}]},
	{id: "b", dependencies: [{type: "logical_and", elements: ["a", "ghost"]}]},
	{id: "c", dependencies: [{type: "telepathy"}]},
]
`)

	res, err := LoadDocument(path)
	require.NoError(t, err)
	assert.False(t, res.OK())
	require.Len(t, res.CompileErrors, 1)
	assert.Equal(t, compiler.ErrUnknownKind, res.CompileErrors[0].Code)
	require.Len(t, res.Validation, 1)
	assert.Equal(t, compiler.ErrUnknownReference, res.Validation[0].Code)
	require.Len(t, res.Cycles, 1)
	assert.Equal(t, []string{"a", "b", "a"}, res.Cycles[0].Path)
	assert.Equal(t, 3, res.Problems())
}

func TestLoadDocumentFailures(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name string
		path string
		code string
	}{
		{"missing", filepath.Join(dir, "nope.cue"), ErrCodeNotFound},
		{"empty dir", t.TempDir(), ErrCodeNoFiles},
		{"format", writeFile(t, dir, "doc.toml", "x = 1"), ErrCodeFormat},
		{"syntax", writeFile(t, dir, "broken.cue", "areas: {"), ErrCodeBuildFailed},
		{"bad yaml", writeFile(t, dir, "broken.yaml", "areas: [unclosed"), ErrCodeLoadFailed},
		{"no areas", writeFile(t, dir, "empty.json", `{"rules": []}`), compiler.ErrDocumentInvalid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadDocument(tt.path)
			var le *LoadError
			require.ErrorAs(t, err, &le)
			assert.Equal(t, tt.code, le.Code)
		})
	}
}

func TestDocumentFromValue(t *testing.T) {
	res, err := DocumentFromValue("inline", map[string]any{
		"areas": map[string]any{
			"editor": map[string]any{
				"elements": []any{map[string]any{"id": "save", "category": "expert"}},
			},
		},
	})
	require.NoError(t, err)
	require.True(t, res.OK())
	assert.Equal(t, ir.CategoryExpert, res.Document.Areas[0].Elements[0].Category)
	assert.Equal(t, 0, res.FileCount)
}
