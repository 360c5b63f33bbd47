package ir

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalCanonical_SortsKeys(t *testing.T) {
	got, err := MarshalCanonical(map[string]any{"b": 1, "a": "x", "c": true})
	require.NoError(t, err)
	assert.Equal(t, `{"a":"x","b":1,"c":true}`, string(got))
}

func TestMarshalCanonical_NoHTMLEscaping(t *testing.T) {
	got, err := MarshalCanonical(map[string]any{"k": "<a&b>"})
	require.NoError(t, err)
	assert.Equal(t, `{"k":"<a&b>"}`, string(got))
}

func TestMarshalCanonical_NFCNormalizes(t *testing.T) {
	decomposed := "e\u0301"
	got, err := MarshalCanonical(map[string]any{"k": decomposed})
	require.NoError(t, err)
	assert.Equal(t, "{\"k\":\"\u00e9\"}", string(got))
}

func TestMarshalCanonical_KeepsFloatText(t *testing.T) {
	got, err := MarshalCanonical(map[string]any{"d": 0.25})
	require.NoError(t, err)
	assert.Equal(t, `{"d":0.25}`, string(got))
}

func TestSnapshotDigest_OrderIndependent(t *testing.T) {
	a := EmptySnapshot()
	a.Unlocked = []string{"b", "a"}
	a.Areas["editor"] = AreaSnapshot{Density: 0.5}
	a.Areas["toolbar"] = AreaSnapshot{Density: 0.1}

	b := EmptySnapshot()
	b.Unlocked = []string{"a", "b"}
	b.Areas["toolbar"] = AreaSnapshot{Density: 0.1}
	b.Areas["editor"] = AreaSnapshot{Density: 0.5}

	da, err := SnapshotDigest(a)
	require.NoError(t, err)
	db, err := SnapshotDigest(b)
	require.NoError(t, err)
	assert.Equal(t, da, db)
	assert.Len(t, da, 64)

	// Digest must not reorder the caller's slices.
	assert.Equal(t, []string{"b", "a"}, a.Unlocked)
}

func TestSnapshotDigest_ChangesWithState(t *testing.T) {
	a := EmptySnapshot()
	b := EmptySnapshot()
	b.UsageHistory = []AreaHistory{{
		Area: "editor",
		Interactions: []Interaction{{
			ID: "i1", ElementID: "bold", Area: "editor",
			At: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		}},
	}}

	da, err := SnapshotDigest(a)
	require.NoError(t, err)
	db, err := SnapshotDigest(b)
	require.NoError(t, err)
	assert.NotEqual(t, da, db)
}
