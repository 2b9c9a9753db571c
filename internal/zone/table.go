// Package zone implements the Zone Information Table (ZIT): the
// bidirectional, case-insensitive map between network ranges and the zone
// names associated with them.
package zone

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrRangeConflict is raised when a network range given to Add or Remove
// partially overlaps an existing range, or names a different upper bound
// for a range that already exists.
var ErrRangeConflict = errors.New("zone: network range conflict")

// Table is a Router's Zone Information Table. All methods are safe for
// concurrent use; mutation and iteration are each serialized behind a
// single mutex, matching the concurrency model in spec.md §5.
type Table struct {
	mu sync.RWMutex

	rangeMax     map[uint16]uint16          // network_min -> network_max
	zonesOfRange map[uint16]map[string]bool // network_min -> canonical zone names
	defaultZone  map[uint16]string          // network_min -> first zone added
	rangesOfZone map[string]map[uint16]bool // canonical zone -> network_mins
	canonical    map[string]string          // fold(name) -> canonical spelling
}

// New returns an empty ZoneInformationTable.
func New() *Table {
	return &Table{
		rangeMax:     make(map[uint16]uint16),
		zonesOfRange: make(map[uint16]map[string]bool),
		defaultZone:  make(map[uint16]string),
		rangesOfZone: make(map[string]map[uint16]bool),
		canonical:    make(map[string]string),
	}
}

// checkRange mirrors the original's _check_range: if max is nil, the range
// starting at min must already exist (returns its max). If max is given
// and a range starting at min already exists with a different max, or the
// candidate range overlaps a different existing range, it's a conflict.
// Returns (existingMax, alreadyExists, error). Caller holds the lock.
func (t *Table) checkRange(min uint16, max *uint16) (uint16, bool, error) {
	existingMax, exists := t.rangeMax[min]
	if max == nil {
		if !exists {
			return 0, false, fmt.Errorf("%w: range %d-? does not exist", ErrRangeConflict, min)
		}
		return existingMax, true, nil
	}
	if exists {
		if existingMax == *max {
			return existingMax, true, nil
		}
		return 0, false, fmt.Errorf("%w: range %d-%d overlaps %d-%d", ErrRangeConflict, min, *max, min, existingMax)
	}
	for eMin, eMax := range t.rangeMax {
		if eMin > *max || eMax < min {
			continue
		}
		return 0, false, fmt.Errorf("%w: range %d-%d overlaps %d-%d", ErrRangeConflict, min, *max, eMin, eMax)
	}
	return *max, false, nil
}

// AddNetworksToZone associates a network range with a zone, creating the
// zone if it's not already in the table. If max is nil, the range
// starting at min must already be known. Zone names are de-duplicated
// under the AppleTalk fold table, preserving the first-seen spelling.
func (t *Table) AddNetworksToZone(zoneName string, min uint16, max *uint16) error {
	if max != nil && *max < min {
		return fmt.Errorf("%w: range %d-%d is backwards", ErrRangeConflict, min, *max)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	existingMax, exists, err := t.checkRange(min, max)
	if err != nil {
		return err
	}

	folded := fold(zoneName)
	canonicalName, known := t.canonical[folded]
	if !known {
		t.canonical[folded] = zoneName
		t.rangesOfZone[zoneName] = make(map[uint16]bool)
		canonicalName = zoneName
	}

	if exists {
		t.zonesOfRange[min][canonicalName] = true
	} else {
		t.rangeMax[min] = existingMax
		t.zonesOfRange[min] = map[string]bool{canonicalName: true}
		t.defaultZone[min] = canonicalName
	}
	t.rangesOfZone[canonicalName][min] = true
	return nil
}

// RemoveNetworks removes a network range from the table, removing any
// zone whose set of ranges becomes empty as a result. If max is nil the
// range's existing upper bound is looked up.
func (t *Table) RemoveNetworks(min uint16, max *uint16) error {
	if max != nil && *max < min {
		return fmt.Errorf("%w: range %d-%d is backwards", ErrRangeConflict, min, *max)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	existingMax, exists, err := t.checkRange(min, max)
	if err != nil {
		return err
	}
	if !exists {
		return nil
	}
	_ = existingMax

	for zoneName := range t.zonesOfRange[min] {
		ranges := t.rangesOfZone[zoneName]
		delete(ranges, min)
		if len(ranges) == 0 {
			delete(t.rangesOfZone, zoneName)
			delete(t.canonical, fold(zoneName))
		}
	}
	delete(t.defaultZone, min)
	delete(t.zonesOfRange, min)
	delete(t.rangeMax, min)
	return nil
}

// RemoveNetworksList removes every network range in mins, ignoring ranges
// that aren't known (used by the routing table ager, which has already
// lost track of a range's upper bound by the time it reports it gone).
func (t *Table) RemoveNetworksList(mins []uint16) {
	for _, min := range mins {
		_ = t.RemoveNetworks(min, nil)
	}
}

// Zones returns a snapshot of every canonical zone name in the table.
func (t *Table) Zones() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]string, 0, len(t.rangesOfZone))
	for name := range t.rangesOfZone {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// ZonesInNetworkRange returns the zones known for the range starting at
// min, default zone first, the rest in a fixed (sorted) order. Returns nil
// if the range is not known.
func (t *Table) ZonesInNetworkRange(min uint16, max *uint16) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	_, exists, err := t.checkRange(min, max)
	if err != nil || !exists {
		return nil
	}
	def := t.defaultZone[min]
	rest := make([]string, 0, len(t.zonesOfRange[min]))
	for name := range t.zonesOfRange[min] {
		if name != def {
			rest = append(rest, name)
		}
	}
	sort.Strings(rest)
	return append([]string{def}, rest...)
}

// NetworksInZone returns every network number belonging to the given
// zone, matched case-insensitively.
func (t *Table) NetworksInZone(zoneName string) []uint16 {
	t.mu.RLock()
	defer t.mu.RUnlock()

	canonicalName, ok := t.canonical[fold(zoneName)]
	if !ok {
		return nil
	}
	var out []uint16
	for min := range t.rangesOfZone[canonicalName] {
		max := t.rangeMax[min]
		for n := min; ; n++ {
			out = append(out, n)
			if n == max {
				break
			}
		}
	}
	return out
}

// NetworksNotKnown filters candidates (network numbers that are each the
// network_min of some routing-table entry) down to those for which this
// table has no zone information at all. Used by the ZIP sending service
// to consolidate many routing-table entries into one lock acquisition
// instead of querying the table once per entry.
func (t *Table) NetworksNotKnown(candidates []uint16) []uint16 {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var out []uint16
	for _, c := range candidates {
		if _, exists := t.rangeMax[c]; !exists {
			out = append(out, c)
		}
	}
	return out
}
