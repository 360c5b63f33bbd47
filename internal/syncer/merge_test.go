package syncer

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"

	"github.com/roach88/reveal/internal/ir"
)

var base = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func at(min int) time.Time { return base.Add(time.Duration(min) * time.Minute) }

func hist(area string, ins ...ir.Interaction) []ir.AreaHistory {
	return []ir.AreaHistory{{Area: area, Interactions: ins}}
}

func TestMerge_StartupSeedsFromSnapshot(t *testing.T) {
	local := ir.EmptySnapshot()
	local.Areas["editor"] = ir.AreaSnapshot{Density: 0.3}

	remote := ir.EmptySnapshot()
	remote.Areas["editor"] = ir.AreaSnapshot{Density: 0.55, AdvancedRatio: 0.6}
	remote.Overrides["editor"] = 0.9

	got := Merge(local, remote, true)
	assert.Equal(t, 0.55, got.Areas["editor"].Density)
	assert.Equal(t, 0.9, got.Overrides["editor"])
}

func TestMerge_AfterStartupKeepsLocalAdaptation(t *testing.T) {
	local := ir.EmptySnapshot()
	local.Areas["editor"] = ir.AreaSnapshot{Density: 0.3}

	remote := ir.EmptySnapshot()
	remote.Areas["editor"] = ir.AreaSnapshot{Density: 0.8}
	remote.Areas["sidebar"] = ir.AreaSnapshot{Density: 0.2}

	got := Merge(local, remote, false)
	assert.Equal(t, 0.3, got.Areas["editor"].Density)
	assert.Equal(t, 0.2, got.Areas["sidebar"].Density)
}

func TestMerge_NewerLocalOverrideWins(t *testing.T) {
	local := ir.EmptySnapshot()
	local.Overrides["editor"] = 0.1
	local.OverrideSetAt = map[string]time.Time{"editor": at(10)}

	remote := ir.EmptySnapshot()
	remote.Overrides["editor"] = 0.9
	remote.OverrideSetAt = map[string]time.Time{"editor": at(5)}

	assert.Equal(t, 0.1, Merge(local, remote, false).Overrides["editor"])

	remote.OverrideSetAt["editor"] = at(20)
	got := Merge(local, remote, false)
	assert.Equal(t, 0.9, got.Overrides["editor"])
	assert.Equal(t, at(20), got.OverrideSetAt["editor"])
}

func TestMerge_NeverDiscardsLocalInteractions(t *testing.T) {
	shared := ir.Interaction{ID: "a", ElementID: "save", Area: "editor", At: at(1)}
	localOnly := ir.Interaction{ID: "b", ElementID: "open", Area: "editor", At: at(3)}
	remoteOnly := ir.Interaction{ID: "c", ElementID: "find", Area: "editor", At: at(2)}

	local := ir.EmptySnapshot()
	local.UsageHistory = hist("editor", shared, localOnly)
	remote := ir.EmptySnapshot()
	remote.UsageHistory = hist("editor", shared, remoteOnly)

	got := Merge(local, remote, false)
	want := hist("editor", shared, remoteOnly, localOnly)
	if diff := cmp.Diff(want, got.UsageHistory); diff != "" {
		t.Errorf("history mismatch (-want +got):\n%s", diff)
	}
}

func TestMerge_IsIdempotent(t *testing.T) {
	local := ir.EmptySnapshot()
	local.UsageHistory = hist("editor", ir.Interaction{ElementID: "save", Area: "editor", At: at(1)})
	local.Unlocked = []string{"regex"}

	once := Merge(local, local, false)
	twice := Merge(once, local, false)
	if diff := cmp.Diff(once, twice); diff != "" {
		t.Errorf("merge not idempotent (-once +twice):\n%s", diff)
	}
	assert.Len(t, twice.History("editor"), 1)
}

func TestMerge_CountersAndSets(t *testing.T) {
	local := ir.EmptySnapshot()
	local.Counters = map[string]map[string]ir.Counter{
		"editor": {"save": {Count: 3, First: at(5)}},
	}
	local.Unlocked = []string{"b"}
	local.FiredRules = []string{"r1"}

	remote := ir.EmptySnapshot()
	remote.Counters = map[string]map[string]ir.Counter{
		"editor":  {"save": {Count: 2, First: at(1)}},
		"sidebar": {"nav": {Count: 1, First: at(2)}},
	}
	remote.Unlocked = []string{"a", "b"}
	remote.FiredRules = []string{"r2"}
	remote.ForcedCategories = []ir.ForcedCategory{{Area: "editor", Category: ir.CategoryExpert}}

	got := Merge(local, remote, false)
	assert.Equal(t, ir.Counter{Count: 3, First: at(1)}, got.Counters["editor"]["save"])
	assert.Equal(t, ir.Counter{Count: 1, First: at(2)}, got.Counters["sidebar"]["nav"])
	assert.Equal(t, []string{"a", "b"}, got.Unlocked)
	assert.Equal(t, []string{"r1", "r2"}, got.FiredRules)
	assert.Equal(t, remote.ForcedCategories, got.ForcedCategories)
}

func TestMerge_DoesNotMutateInputs(t *testing.T) {
	local := ir.EmptySnapshot()
	local.UsageHistory = hist("editor", ir.Interaction{ID: "a", At: at(2)})
	remote := ir.EmptySnapshot()
	remote.UsageHistory = hist("editor", ir.Interaction{ID: "b", At: at(1)})

	_ = Merge(local, remote, false)
	assert.Equal(t, "a", local.UsageHistory[0].Interactions[0].ID)
	assert.Len(t, local.UsageHistory[0].Interactions, 1)
}

func TestMergeCounter(t *testing.T) {
	assert.Equal(t, ir.Counter{Count: 2, First: at(1)}, MergeCounter(ir.Counter{}, ir.Counter{Count: 2, First: at(1)}))
	assert.Equal(t, ir.Counter{Count: 5, First: at(1)}, MergeCounter(ir.Counter{Count: 5, First: at(1)}, ir.Counter{Count: 2}))
}
