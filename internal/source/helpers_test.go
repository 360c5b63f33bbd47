package source

import (
	"time"

	"github.com/roach88/reveal/internal/ir"
)

var t0 = time.Date(2026, 5, 4, 8, 30, 0, 0, time.UTC)

func testSnapshot() ir.SyncSnapshot {
	snap := ir.EmptySnapshot()
	snap.Areas["editor"] = ir.AreaSnapshot{Density: 0.42, AdvancedRatio: 0.5}
	snap.Overrides["sidebar"] = 0.8
	snap.OverrideSetAt = map[string]time.Time{"sidebar": t0}
	snap.UsageHistory = []ir.AreaHistory{{
		Area: "editor",
		Interactions: []ir.Interaction{
			{ID: "01", ElementID: "save", Category: ir.CategoryBasic, Area: "editor", Seq: 1, At: t0},
			{ID: "02", ElementID: "regex", Category: ir.CategoryAdvanced, Area: "editor", Seq: 2, At: t0.Add(time.Minute)},
		},
	}}
	snap.Counters = map[string]map[string]ir.Counter{
		"editor": {
			"save":  {Count: 4, First: t0.Add(-time.Hour)},
			"regex": {Count: 1, First: t0.Add(time.Minute)},
		},
	}
	snap.Unlocked = []string{"regex"}
	snap.ForcedCategories = []ir.ForcedCategory{{Area: "editor", Category: ir.CategoryExpert}}
	snap.FiredRules = []string{"power-user"}
	return snap
}

func testEvent() ir.TrackedEvent {
	return ir.TrackedEvent{
		ElementID: "save",
		Category:  ir.CategoryBasic,
		Area:      "editor",
		Action:    "click",
		At:        t0,
	}
}
