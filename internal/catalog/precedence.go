package catalog

import (
	"sort"

	"fabricsync/internal"
	"fabricsync/internal/util"
)

// Resolve settles the two-writer precedence between parsing and a manual
// override: while the override is active its value wins.
func Resolve[T any](automated, override T, overrideActive bool) T {
	if overrideActive {
		return override
	}
	return automated
}

// coverage is the union of the active overrides of one type for a supplier.
type coverage struct {
	all     bool
	entries map[string]internal.OverrideEntry
}

func buildCoverage(overrides []internal.ManualOverride, typ internal.OverrideType) *coverage {
	active := make([]internal.ManualOverride, 0, len(overrides))
	for _, o := range overrides {
		if o.IsActive && o.Type == typ {
			active = append(active, o)
		}
	}
	if len(active) == 0 {
		return nil
	}
	// older first so the newest upload's entries win
	sort.SliceStable(active, func(i, j int) bool {
		if active[i].CreatedAt.Equal(active[j].CreatedAt) {
			return active[i].ID < active[j].ID
		}
		return active[i].CreatedAt.Before(active[j].CreatedAt)
	})

	c := &coverage{entries: map[string]internal.OverrideEntry{}}
	for _, o := range active {
		if len(o.Entries) == 0 {
			c.all = true
			continue
		}
		for _, e := range o.Entries {
			c.entries[util.FabricKey(e.Collection, e.ColorNumber)] = e
		}
	}
	return c
}

// covers reports whether the override holds the row and returns its entry if listed.
// A blanket override only holds rows that already exist in the catalog.
func (c *coverage) covers(key string, exists bool) (*internal.OverrideEntry, bool) {
	if c == nil {
		return nil, false
	}
	if e, ok := c.entries[key]; ok {
		return &e, true
	}
	return nil, c.all && exists
}
