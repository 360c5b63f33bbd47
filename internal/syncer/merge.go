package syncer

import (
	"slices"
	"sort"
	"time"

	"github.com/roach88/reveal/internal/ir"
)

// Merge combines local state with a pulled snapshot.
//
// At startup the snapshot seeds state: its areas and overrides replace the
// local defaults. After startup local adaptation is kept and only fields
// the local side does not have are taken from the snapshot. An override
// from the snapshot wins unless the local one was set later.
//
// In both cases usage histories are unioned by Interaction.Key and ordered
// by timestamp, counters take the max count and earliest first use, and
// the unlock latch, category forces and fired rules are unioned, so a pull
// never discards interactions recorded locally.
func Merge(local, remote ir.SyncSnapshot, startup bool) ir.SyncSnapshot {
	out := local.Clone()
	remote = remote.Clone()
	out.Normalize()
	remote.Normalize()
	if out.OverrideSetAt == nil {
		out.OverrideSetAt = map[string]time.Time{}
	}

	for area, snap := range remote.Areas {
		if _, ok := out.Areas[area]; !ok || startup {
			out.Areas[area] = snap
		}
	}

	for area, d := range remote.Overrides {
		remoteAt := remote.OverrideSetAt[area]
		if _, ok := out.Overrides[area]; ok && !startup {
			if localAt := out.OverrideSetAt[area]; localAt.After(remoteAt) {
				continue
			}
		}
		out.Overrides[area] = d
		if remoteAt.IsZero() {
			delete(out.OverrideSetAt, area)
		} else {
			out.OverrideSetAt[area] = remoteAt
		}
	}
	if len(out.OverrideSetAt) == 0 {
		out.OverrideSetAt = nil
	}

	for _, h := range remote.UsageHistory {
		out.UsageHistory = mergeHistory(out.UsageHistory, h)
	}

	for area, counters := range remote.Counters {
		if out.Counters == nil {
			out.Counters = make(map[string]map[string]ir.Counter)
		}
		if out.Counters[area] == nil {
			out.Counters[area] = make(map[string]ir.Counter, len(counters))
		}
		for id, c := range counters {
			out.Counters[area][id] = MergeCounter(out.Counters[area][id], c)
		}
	}

	out.Unlocked = union(out.Unlocked, remote.Unlocked)
	out.FiredRules = union(out.FiredRules, remote.FiredRules)
	for _, fc := range remote.ForcedCategories {
		if !slices.Contains(out.ForcedCategories, fc) {
			out.ForcedCategories = append(out.ForcedCategories, fc)
		}
	}

	out.Normalize()
	return out
}

// MergeCounter merges two counters by max count and earliest first use.
func MergeCounter(a, b ir.Counter) ir.Counter {
	out := a
	if b.Count > out.Count {
		out.Count = b.Count
	}
	if !b.First.IsZero() && (out.First.IsZero() || b.First.Before(out.First)) {
		out.First = b.First
	}
	return out
}

func mergeHistory(histories []ir.AreaHistory, incoming ir.AreaHistory) []ir.AreaHistory {
	idx := slices.IndexFunc(histories, func(h ir.AreaHistory) bool {
		return h.Area == incoming.Area
	})
	if idx < 0 {
		return append(histories, ir.AreaHistory{
			Area:         incoming.Area,
			Interactions: UnionInteractions(nil, incoming.Interactions),
		})
	}
	histories[idx].Interactions = UnionInteractions(histories[idx].Interactions, incoming.Interactions)
	return histories
}

// UnionInteractions returns the union of a and b by Interaction.Key,
// ordered by timestamp. Ties keep a's order, then b's.
func UnionInteractions(a, b []ir.Interaction) []ir.Interaction {
	seen := make(map[string]bool, len(a)+len(b))
	out := make([]ir.Interaction, 0, len(a)+len(b))
	for _, list := range [][]ir.Interaction{a, b} {
		for _, in := range list {
			if seen[in.Key()] {
				continue
			}
			seen[in.Key()] = true
			out = append(out, in)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].At.Before(out[j].At)
	})
	return out
}

func union(a, b []string) []string {
	out := slices.Clone(a)
	for _, s := range b {
		if !slices.Contains(out, s) {
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out
}
