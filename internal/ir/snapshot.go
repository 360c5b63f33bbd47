package ir

import (
	"sort"
	"time"
)

// AreaSnapshot is the serializable part of an AreaState.
type AreaSnapshot struct {
	Density       float64 `json:"density"`
	AdvancedRatio float64 `json:"advancedRatio"`
}

// AreaHistory is the retained interaction history of one area.
type AreaHistory struct {
	Area         string        `json:"area"`
	Interactions []Interaction `json:"interactions"`
}

// Counter is a monotonic per-element usage counter. Counters survive
// history pruning.
type Counter struct {
	Count int       `json:"count"`
	First time.Time `json:"first"`
}

// ForcedCategory records an unlock_category bypass.
type ForcedCategory struct {
	Area     string   `json:"area"`
	Category Category `json:"category"`
}

// SyncSnapshot is the unit of exchange with data sources.
type SyncSnapshot struct {
	Version          int                           `json:"version"`
	Areas            map[string]AreaSnapshot       `json:"areas"`
	Overrides        map[string]float64            `json:"overrides"`
	OverrideSetAt    map[string]time.Time          `json:"overrideSetAt,omitempty"`
	UsageHistory     []AreaHistory                 `json:"usageHistory"`
	Counters         map[string]map[string]Counter `json:"counters,omitempty"`
	Unlocked         []string                      `json:"unlocked,omitempty"`
	ForcedCategories []ForcedCategory              `json:"forcedCategories,omitempty"`
	FiredRules       []string                      `json:"firedRules,omitempty"`
}

// EmptySnapshot returns the snapshot used when nothing could be pulled.
func EmptySnapshot() SyncSnapshot {
	return SyncSnapshot{
		Version:      SnapshotVersion,
		Areas:        map[string]AreaSnapshot{},
		Overrides:    map[string]float64{},
		UsageHistory: []AreaHistory{},
	}
}

// IsEmpty reports whether the snapshot carries no state at all.
func (s SyncSnapshot) IsEmpty() bool {
	return len(s.Areas) == 0 &&
		len(s.Overrides) == 0 &&
		len(s.UsageHistory) == 0 &&
		len(s.Counters) == 0 &&
		len(s.Unlocked) == 0 &&
		len(s.ForcedCategories) == 0 &&
		len(s.FiredRules) == 0
}

// Normalize fills nil maps and slices and sorts the unordered lists so that
// equal snapshots serialize identically.
func (s *SyncSnapshot) Normalize() {
	if s.Version == 0 {
		s.Version = SnapshotVersion
	}
	if s.Areas == nil {
		s.Areas = map[string]AreaSnapshot{}
	}
	if s.Overrides == nil {
		s.Overrides = map[string]float64{}
	}
	if s.UsageHistory == nil {
		s.UsageHistory = []AreaHistory{}
	}
	sort.Slice(s.UsageHistory, func(i, j int) bool {
		return s.UsageHistory[i].Area < s.UsageHistory[j].Area
	})
	sort.Strings(s.Unlocked)
	sort.Strings(s.FiredRules)
	sort.Slice(s.ForcedCategories, func(i, j int) bool {
		a, b := s.ForcedCategories[i], s.ForcedCategories[j]
		if a.Area != b.Area {
			return a.Area < b.Area
		}
		return a.Category < b.Category
	})
}

// History returns the retained interactions for an area.
func (s SyncSnapshot) History(area string) []Interaction {
	for _, h := range s.UsageHistory {
		if h.Area == area {
			return h.Interactions
		}
	}
	return nil
}

// Clone returns a deep copy of the snapshot.
func (s SyncSnapshot) Clone() SyncSnapshot {
	out := SyncSnapshot{
		Version:          s.Version,
		Areas:            make(map[string]AreaSnapshot, len(s.Areas)),
		Overrides:        make(map[string]float64, len(s.Overrides)),
		UsageHistory:     make([]AreaHistory, 0, len(s.UsageHistory)),
		Unlocked:         append([]string(nil), s.Unlocked...),
		ForcedCategories: append([]ForcedCategory(nil), s.ForcedCategories...),
		FiredRules:       append([]string(nil), s.FiredRules...),
	}
	for k, v := range s.Areas {
		out.Areas[k] = v
	}
	for k, v := range s.Overrides {
		out.Overrides[k] = v
	}
	if s.OverrideSetAt != nil {
		out.OverrideSetAt = make(map[string]time.Time, len(s.OverrideSetAt))
		for k, v := range s.OverrideSetAt {
			out.OverrideSetAt[k] = v
		}
	}
	for _, h := range s.UsageHistory {
		out.UsageHistory = append(out.UsageHistory, AreaHistory{
			Area:         h.Area,
			Interactions: append([]Interaction(nil), h.Interactions...),
		})
	}
	if s.Counters != nil {
		out.Counters = make(map[string]map[string]Counter, len(s.Counters))
		for area, counters := range s.Counters {
			cp := make(map[string]Counter, len(counters))
			for id, c := range counters {
				cp[id] = c
			}
			out.Counters[area] = cp
		}
	}
	return out
}
