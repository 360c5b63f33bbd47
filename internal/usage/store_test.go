package usage

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/reveal/internal/ir"
)

var t0 = time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)

func interaction(id, element string, at time.Time) ir.Interaction {
	return ir.Interaction{ID: id, ElementID: element, Area: "editor", At: at}
}

func collect(s *Store, area string) []string {
	var ids []string
	for in := range s.History(area) {
		ids = append(ids, in.ID)
	}
	return ids
}

func TestStore_RecordReturnsCount(t *testing.T) {
	s := New()

	assert.Equal(t, 1, s.Record(interaction("1", "bold", t0)))
	assert.Equal(t, 2, s.Record(interaction("2", "bold", t0.Add(time.Minute))))
	assert.Equal(t, 1, s.Record(interaction("3", "italic", t0.Add(2*time.Minute))))

	assert.Equal(t, 2, s.Count("editor", "bold"))
	assert.Equal(t, 0, s.Count("editor", "underline"))
	assert.Equal(t, 0, s.Count("missing", "bold"))
}

func TestStore_HistoryIsArrivalOrderAndRestartable(t *testing.T) {
	s := New()
	// Arrival order is preserved even when timestamps disagree.
	s.Record(interaction("a", "x", t0.Add(time.Hour)))
	s.Record(interaction("b", "y", t0))

	seq := s.History("editor")
	first := []string{}
	for in := range seq {
		first = append(first, in.ID)
	}
	second := []string{}
	for in := range seq {
		second = append(second, in.ID)
	}
	assert.Equal(t, []string{"a", "b"}, first)
	assert.Equal(t, first, second)
	assert.Empty(t, collect(s, "nowhere"))
}

func TestStore_HistoryIsStableAcrossPruning(t *testing.T) {
	s := New(WithMaxEntries(2))
	s.Record(interaction("1", "x", t0))
	s.Record(interaction("2", "x", t0.Add(time.Second)))
	seq := s.History("editor")

	s.Record(interaction("3", "x", t0.Add(2*time.Second)))

	var got []string
	for in := range seq {
		got = append(got, in.ID)
	}
	assert.Equal(t, []string{"1", "2"}, got)
	assert.Equal(t, []string{"2", "3"}, collect(s, "editor"))
}

func TestStore_CountPruningKeepsCounters(t *testing.T) {
	s := New(WithMaxEntries(3))
	for i := 0; i < 10; i++ {
		s.Record(interaction(fmt.Sprint(i), "bold", t0.Add(time.Duration(i)*time.Minute)))
	}

	assert.Equal(t, 3, s.Len("editor"))
	assert.Equal(t, 7, s.Pruned("editor"))
	assert.Equal(t, 10, s.Count("editor", "bold"))

	first, ok := s.FirstTimestamp("editor", "bold")
	require.True(t, ok)
	assert.Equal(t, t0, first)
}

func TestStore_AgePruning(t *testing.T) {
	s := New(WithMaxAge(48 * time.Hour))
	s.Record(interaction("old", "x", t0))
	s.Record(interaction("new", "x", t0.Add(72*time.Hour)))

	assert.Equal(t, []string{"new"}, collect(s, "editor"))
	assert.Equal(t, 2, s.Count("editor", "x"))

	s.Prune(t0.Add(200 * time.Hour))
	assert.Equal(t, 0, s.Len("editor"))
	assert.Equal(t, 2, s.Count("editor", "x"))
}

func TestStore_CountSince(t *testing.T) {
	s := New()
	s.Record(interaction("1", "x", t0))
	s.Record(interaction("2", "x", t0.Add(time.Hour)))
	s.Record(interaction("3", "y", t0.Add(2*time.Hour)))
	s.Record(interaction("4", "x", t0.Add(3*time.Hour)))

	assert.Equal(t, 3, s.CountSince("editor", "x", t0.Add(-time.Second)))
	assert.Equal(t, 2, s.CountSince("editor", "x", t0), "lower bound is exclusive")
	assert.Equal(t, 1, s.CountSince("editor", "x", t0.Add(time.Hour)))
	assert.Equal(t, 1, s.CountSince("editor", "x", t0.Add(90*time.Minute)))
	assert.Equal(t, 2, s.CountSince("", "x", t0))
}

func TestStore_RetainSurvivesCountCap(t *testing.T) {
	s := New(WithMaxEntries(5))
	s.Retain("x", time.Hour)

	s.Record(interaction("x1", "x", t0))
	s.Record(interaction("x2", "x", t0.Add(time.Minute)))
	for i := 0; i < 20; i++ {
		s.Record(interaction(fmt.Sprintf("y%d", i), "y", t0.Add(2*time.Minute+time.Duration(i)*time.Second)))
	}
	s.Record(interaction("x3", "x", t0.Add(10*time.Minute)))

	assert.Equal(t, []string{"x1", "x2", "y18", "y19", "x3"}, collect(s, "editor"))
	assert.Equal(t, 3, s.CountSince("editor", "x", t0.Add(-time.Second)))
	assert.True(t, s.Between("editor", "x", t0.Add(-time.Second), t0))

	// Outside the horizon, retained elements compete for the cap again.
	s.Record(interaction("y-late", "y", t0.Add(2*time.Hour)))
	assert.Equal(t, []string{"x2", "y18", "y19", "x3", "y-late"}, collect(s, "editor"))
}

func TestStore_RetainOutlivesMaxAge(t *testing.T) {
	s := New(WithMaxAge(ir.Day))
	s.Retain("x", ir.Week)
	s.Retain("x", time.Hour) // the larger horizon wins

	s.Record(interaction("x1", "x", t0))
	s.Record(interaction("y1", "y", t0))
	s.Record(interaction("y2", "y", t0.Add(3*ir.Day)))
	assert.Equal(t, []string{"x1", "y2"}, collect(s, "editor"))
	assert.Equal(t, 1, s.Pruned("editor"))

	s.Prune(t0.Add(8 * ir.Day))
	assert.Empty(t, collect(s, "editor"))
	assert.Equal(t, 1, s.Count("editor", "x"))
}

func TestStore_FirstTimestampAcrossAreas(t *testing.T) {
	s := New()
	s.Record(ir.Interaction{ID: "1", ElementID: "x", Area: "b", At: t0.Add(time.Hour)})
	s.Record(ir.Interaction{ID: "2", ElementID: "x", Area: "a", At: t0})

	first, ok := s.FirstTimestamp("", "x")
	require.True(t, ok)
	assert.Equal(t, t0, first)

	_, ok = s.FirstTimestamp("", "never")
	assert.False(t, ok)
	assert.Equal(t, []string{"b", "a"}, s.Areas())
}

func TestStore_Between(t *testing.T) {
	s := New()
	s.Record(interaction("1", "x", t0))

	assert.True(t, s.Between("editor", "x", t0.Add(-time.Second), t0))
	assert.False(t, s.Between("editor", "x", t0, t0.Add(time.Hour)), "lower bound is exclusive")
	assert.False(t, s.Between("editor", "x", t0.Add(-time.Hour), t0.Add(-time.Nanosecond)))
	assert.False(t, s.Between("editor", "y", t0.Add(-time.Hour), t0))
}

func TestStore_MergeUnionsByID(t *testing.T) {
	s := New()
	s.Record(interaction("1", "x", t0))
	s.Record(interaction("3", "x", t0.Add(2*time.Minute)))

	changed := s.Merge("editor", []ir.Interaction{
		interaction("1", "x", t0),
		interaction("2", "y", t0.Add(time.Minute)),
	}, nil)

	assert.Equal(t, []string{"y"}, changed)
	assert.Equal(t, []string{"1", "2", "3"}, collect(s, "editor"))
	assert.Equal(t, 2, s.Count("editor", "x"))
	assert.Equal(t, 1, s.Count("editor", "y"))

	// Replaying the same merge changes nothing.
	assert.Empty(t, s.Merge("editor", []ir.Interaction{interaction("2", "y", t0.Add(time.Minute))}, nil))
}

func TestStore_MergeCountersTakeMaxAndEarliest(t *testing.T) {
	s := New()
	s.Record(interaction("1", "x", t0))

	changed := s.Merge("editor", nil, map[string]ir.Counter{
		"x": {Count: 12, First: t0.Add(-24 * time.Hour)},
		"z": {Count: 1, First: t0.Add(-time.Hour)},
	})

	assert.Equal(t, []string{"x", "z"}, changed)
	assert.Equal(t, 12, s.Count("editor", "x"))
	first, _ := s.FirstTimestamp("editor", "x")
	assert.Equal(t, t0.Add(-24*time.Hour), first)

	// Lower remote counts never decrease local ones.
	s.Merge("editor", nil, map[string]ir.Counter{"x": {Count: 3, First: t0}})
	assert.Equal(t, 12, s.Count("editor", "x"))
}
