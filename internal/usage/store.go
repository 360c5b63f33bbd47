// Package usage implements the per-area interaction history.
//
// The store is append-only: interactions are never mutated, only pruned.
// Pruning is bounded by entry count and by age. Per-element counters and
// first-use timestamps are kept independently of the retained history, so
// usage_count and sequence gates stay correct after old entries are dropped.
// Elements read through a time window (time_based, usage_pattern) are
// registered with Retain; their interactions inside the window survive both
// the entry cap and the age limit.
//
// The store is not safe for concurrent use; the engine serializes access.
package usage

import (
	"iter"
	"sort"
	"time"

	"github.com/roach88/reveal/internal/ir"
)

const (
	// DefaultMaxEntries is the retained history length per area.
	DefaultMaxEntries = 500

	// DefaultMaxAge is the retained history age per area.
	DefaultMaxAge = 30 * ir.Day
)

// Option configures a Store.
type Option func(*Store)

// WithMaxEntries caps the retained history per area. n <= 0 disables the cap.
func WithMaxEntries(n int) Option {
	return func(s *Store) { s.maxEntries = n }
}

// WithMaxAge drops interactions older than d, relative to the newest
// recorded interaction. d <= 0 disables age pruning.
func WithMaxAge(d time.Duration) Option {
	return func(s *Store) { s.maxAge = d }
}

// Store holds interaction history and counters for every area.
type Store struct {
	maxEntries int
	maxAge     time.Duration
	areas      map[string]*areaLog
	order      []string                 // area creation order
	retain     map[string]time.Duration // element → history horizon
}

type areaLog struct {
	entries  []ir.Interaction
	counters map[string]ir.Counter
	pruned   int
}

// New creates an empty store.
func New(opts ...Option) *Store {
	s := &Store{
		maxEntries: DefaultMaxEntries,
		maxAge:     DefaultMaxAge,
		areas:      make(map[string]*areaLog),
		retain:     make(map[string]time.Duration),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// log returns the area log, creating it lazily.
func (s *Store) log(area string) *areaLog {
	l, ok := s.areas[area]
	if !ok {
		l = &areaLog{counters: make(map[string]ir.Counter)}
		s.areas[area] = l
		s.order = append(s.order, area)
	}
	return l
}

// Record appends an interaction and returns the updated count for
// (area, element). Counters are monotonic and unaffected by pruning.
func (s *Store) Record(in ir.Interaction) int {
	l := s.log(in.Area)
	l.entries = append(l.entries, in)

	c := l.counters[in.ElementID]
	c.Count++
	if c.First.IsZero() || in.At.Before(c.First) {
		c.First = in.At
	}
	l.counters[in.ElementID] = c

	s.prune(l, in.At)
	return c.Count
}

// Retain keeps interactions with element that are newer than horizon,
// regardless of the entry cap and the age limit. Repeated calls keep the
// largest horizon.
func (s *Store) Retain(element string, horizon time.Duration) {
	if horizon > s.retain[element] {
		s.retain[element] = horizon
	}
}

// Prune applies the age policy to every area relative to now.
func (s *Store) Prune(now time.Time) {
	for _, area := range s.order {
		s.prune(s.areas[area], now)
	}
}

func (s *Store) prune(l *areaLog, now time.Time) {
	excess := 0
	if s.maxEntries > 0 {
		excess = len(l.entries) - s.maxEntries
	}
	var cutoff time.Time
	if s.maxAge > 0 {
		cutoff = now.Add(-s.maxAge)
	}
	if excess <= 0 && (cutoff.IsZero() || len(l.entries) == 0 || !l.entries[0].At.Before(cutoff)) {
		return
	}

	// Oldest unretained entries go first. Copy into a fresh array so
	// iterators already handed out keep their view.
	kept := make([]ir.Interaction, 0, len(l.entries))
	drop := 0
	for _, in := range l.entries {
		if !s.retained(in, now) && (drop < excess || (!cutoff.IsZero() && in.At.Before(cutoff))) {
			drop++
			continue
		}
		kept = append(kept, in)
	}
	if drop == 0 {
		return
	}
	l.entries = kept
	l.pruned += drop
}

// retained reports whether a time-windowed predicate may still read in.
func (s *Store) retained(in ir.Interaction, now time.Time) bool {
	h, ok := s.retain[in.ElementID]
	return ok && in.At.After(now.Add(-h))
}

// Count returns the monotonic interaction count for (area, element).
// An empty area sums across all areas.
func (s *Store) Count(area, element string) int {
	if area == "" {
		total := 0
		for _, l := range s.areas {
			total += l.counters[element].Count
		}
		return total
	}
	l, ok := s.areas[area]
	if !ok {
		return 0
	}
	return l.counters[element].Count
}

// CountSince counts retained interactions with element strictly after
// since. An empty area counts across all areas.
func (s *Store) CountSince(area, element string, since time.Time) int {
	n := 0
	for _, l := range s.logs(area) {
		for i := len(l.entries) - 1; i >= 0; i-- {
			in := l.entries[i]
			if in.ElementID == element && in.At.After(since) {
				n++
			}
		}
	}
	return n
}

// FirstTimestamp returns the first-use time of element. An empty area
// returns the earliest first use across all areas.
func (s *Store) FirstTimestamp(area, element string) (time.Time, bool) {
	var first time.Time
	for _, l := range s.logs(area) {
		c, ok := l.counters[element]
		if !ok || c.First.IsZero() {
			continue
		}
		if first.IsZero() || c.First.Before(first) {
			first = c.First
		}
	}
	return first, !first.IsZero()
}

// Between reports whether element has a retained interaction in the
// half-open interval (after, until].
func (s *Store) Between(area, element string, after, until time.Time) bool {
	for _, l := range s.logs(area) {
		for i := len(l.entries) - 1; i >= 0; i-- {
			in := l.entries[i]
			if in.ElementID == element && in.At.After(after) && !in.At.After(until) {
				return true
			}
		}
	}
	return false
}

// History returns the retained interactions of an area in arrival order.
// The sequence is lazy and may be ranged over more than once; each range
// observes the history as it was when History was called.
func (s *Store) History(area string) iter.Seq[ir.Interaction] {
	var entries []ir.Interaction
	if l, ok := s.areas[area]; ok {
		entries = l.entries
	}
	return func(yield func(ir.Interaction) bool) {
		for _, in := range entries {
			if !yield(in) {
				return
			}
		}
	}
}

// Len returns the number of retained interactions in an area.
func (s *Store) Len(area string) int {
	if l, ok := s.areas[area]; ok {
		return len(l.entries)
	}
	return 0
}

// Pruned returns how many interactions have been dropped from an area.
func (s *Store) Pruned(area string) int {
	if l, ok := s.areas[area]; ok {
		return l.pruned
	}
	return 0
}

// Areas returns the areas with recorded state, in creation order.
func (s *Store) Areas() []string {
	return append([]string(nil), s.order...)
}

// Counters returns a copy of the per-element counters of an area.
func (s *Store) Counters(area string) map[string]ir.Counter {
	out := make(map[string]ir.Counter)
	if l, ok := s.areas[area]; ok {
		for id, c := range l.counters {
			out[id] = c
		}
	}
	return out
}

// Merge unions incoming interactions into an area's history.
//
// Interactions are identified by Interaction.Key, so replaying the same
// history is a no-op. The merged history is ordered by timestamp and then
// pruned by the count cap. Counters merge by max count and earliest first
// use, and never fall below what the merged history itself shows.
//
// Merge returns the element IDs whose counters or history changed.
func (s *Store) Merge(area string, incoming []ir.Interaction, counters map[string]ir.Counter) []string {
	l := s.log(area)
	changed := make(map[string]bool)

	seen := make(map[string]bool, len(l.entries))
	for _, in := range l.entries {
		seen[in.Key()] = true
	}
	merged := append([]ir.Interaction(nil), l.entries...)
	for _, in := range incoming {
		if seen[in.Key()] {
			continue
		}
		seen[in.Key()] = true
		in.Area = area
		merged = append(merged, in)
		changed[in.ElementID] = true
	}
	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].At.Before(merged[j].At)
	})
	l.entries = merged

	for id, remote := range counters {
		local := l.counters[id]
		next := local
		if remote.Count > next.Count {
			next.Count = remote.Count
		}
		if !remote.First.IsZero() && (next.First.IsZero() || remote.First.Before(next.First)) {
			next.First = remote.First
		}
		if next != local {
			l.counters[id] = next
			changed[id] = true
		}
	}

	retained := make(map[string]ir.Counter)
	for _, in := range l.entries {
		c := retained[in.ElementID]
		c.Count++
		if c.First.IsZero() || in.At.Before(c.First) {
			c.First = in.At
		}
		retained[in.ElementID] = c
	}
	for id, r := range retained {
		local := l.counters[id]
		next := local
		if r.Count > next.Count {
			next.Count = r.Count
		}
		if next.First.IsZero() || r.First.Before(next.First) {
			next.First = r.First
		}
		if next != local {
			l.counters[id] = next
			changed[id] = true
		}
	}

	if len(l.entries) > 0 {
		s.prune(l, l.entries[len(l.entries)-1].At)
	}

	out := make([]string, 0, len(changed))
	for id := range changed {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (s *Store) logs(area string) []*areaLog {
	if area != "" {
		if l, ok := s.areas[area]; ok {
			return []*areaLog{l}
		}
		return nil
	}
	out := make([]*areaLog, 0, len(s.order))
	for _, a := range s.order {
		out = append(out, s.areas[a])
	}
	return out
}
