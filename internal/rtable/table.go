package rtable

import (
	"sync"

	"github.com/wesleywu/atalk-router/internal/port"
)

// ZoneRemover is the callback surface the Routing Table uses to tell the
// Zone Information Table that a range has gone away, performed after the
// table's own mutex is released (spec.md §5). A *zone.Table satisfies this
// with its RemoveNetworksList method; tests may substitute a stub.
type ZoneRemover interface {
	RemoveNetworksList(mins []uint16)
}

type record struct {
	entry Entry
	state State
}

// Table is the concurrent Routing Table: a map from every network number
// in every known range to its entry, plus each entry's aging state. All
// methods are safe for concurrent use.
type Table struct {
	mu sync.Mutex

	byMin       map[uint16]*record
	numberIndex map[uint16]uint16 // network number -> owning entry's NetworkMin

	zit ZoneRemover
}

// New returns an empty Routing Table. zit may be nil, in which case range
// removal never notifies a Zone Information Table (useful in isolated unit
// tests of the table itself).
func New(zit ZoneRemover) *Table {
	return &Table{
		byMin:       make(map[uint16]*record),
		numberIndex: make(map[uint16]uint16),
		zit:         zit,
	}
}

func samePort(a, b port.Port) bool {
	var aID, bID uint64
	if a != nil {
		aID = a.ID()
	}
	if b != nil {
		bID = b.ID()
	}
	return aID == bID
}

// install binds every number in e's range to e at the given state. Caller
// holds the lock.
func (t *Table) install(e Entry, state State) {
	t.byMin[e.NetworkMin] = &record{entry: e, state: state}
	for n := e.NetworkMin; ; n++ {
		t.numberIndex[n] = e.NetworkMin
		if n == e.NetworkMax {
			break
		}
	}
}

// uninstall removes e and every number-index entry pointing at it. Caller
// holds the lock.
func (t *Table) uninstall(e Entry) {
	delete(t.byMin, e.NetworkMin)
	for n := e.NetworkMin; ; n++ {
		delete(t.numberIndex, n)
		if n == e.NetworkMax {
			break
		}
	}
}

// GetByNetwork returns the entry covering network number n, and whether
// its state is BAD or WORST.
func (t *Table) GetByNetwork(n uint16) (entry Entry, isBad bool, found bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	min, ok := t.numberIndex[n]
	if !ok {
		return Entry{}, false, false
	}
	r := t.byMin[min]
	return r.entry, r.state == Bad || r.state == Worst, true
}

// MarkBad finds the unique entry covering [min,max] and, if not already
// WORST, sets it to BAD. Returns whether such an entry existed.
func (t *Table) MarkBad(min, max uint16) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	entryMin, ok := t.numberIndex[min]
	if !ok {
		return false
	}
	r := t.byMin[entryMin]
	if r.entry.NetworkMax < max {
		return false
	}
	if r.state != Worst {
		r.state = Bad
	}
	return true
}

// Consider offers a candidate entry to the table per the insertion policy
// in spec.md §4.3. Returns whether it was accepted.
func (t *Table) Consider(c Entry) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	var overlapping []*record
	for _, r := range t.byMin {
		if r.entry.overlaps(c.NetworkMin, c.NetworkMax) {
			overlapping = append(overlapping, r)
		}
	}

	switch len(overlapping) {
	case 0:
		t.install(c, Good)
		return true
	case 1:
		r := overlapping[0]
		sameRange := r.entry.NetworkMin == c.NetworkMin && r.entry.NetworkMax == c.NetworkMax
		if !sameRange {
			return false
		}
		if r.entry.Equal(c) {
			r.state = Good
			return true
		}
		replace := r.entry.Distance >= c.Distance ||
			r.state == Bad || r.state == Worst ||
			(r.entry.NextNetwork == c.NextNetwork && r.entry.NextNode == c.NextNode && samePort(r.entry.Port, c.Port))
		if !replace {
			return false
		}
		t.uninstall(r.entry)
		t.install(c, Good)
		return true
	default:
		return false
	}
}

// Age runs one tick of the decay machine over every entry, per the state
// table in spec.md §4.3. Ranges whose entry was removed this tick are
// reported to zit after the lock is released.
func (t *Table) Age() {
	t.mu.Lock()
	var removed []uint16
	for min, r := range t.byMin {
		switch r.state {
		case Good:
			if r.entry.Distance > 0 {
				r.state = Sus
			}
		case Sus:
			r.state = Bad
		case Bad:
			r.state = Worst
		case Worst:
			t.uninstall(r.entry)
			removed = append(removed, min)
		}
	}
	t.mu.Unlock()

	if len(removed) > 0 && t.zit != nil {
		t.zit.RemoveNetworksList(removed)
	}
}

// SetPortRange removes every directly-connected entry owned by p, then
// installs a fresh distance-0 entry for [min,max]. Called by Router.Start
// for every Port whose range is already set, and by the RTMP responding
// service when a Port learns its range from a received RTMP data datagram.
func (t *Table) SetPortRange(p port.Port, min, max uint16) {
	t.mu.Lock()
	var removed []uint16
	for rmin, r := range t.byMin {
		if r.entry.Distance == 0 && samePort(r.entry.Port, p) {
			t.uninstall(r.entry)
			removed = append(removed, rmin)
		}
	}
	t.install(Entry{NetworkMin: min, NetworkMax: max, Distance: 0, Port: p}, Good)
	t.mu.Unlock()

	if len(removed) > 0 && t.zit != nil {
		t.zit.RemoveNetworksList(removed)
	}
}

// Snapshot is one entry paired with whether its state is BAD or WORST, the
// shape Entries() and the RTMP/ZIP sending services iterate over.
type Snapshot struct {
	Entry Entry
	IsBad bool
}

// Entries returns a point-in-time snapshot of every entry in the table,
// taken under the lock and safe to range over without it.
func (t *Table) Entries() []Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]Snapshot, 0, len(t.byMin))
	for _, r := range t.byMin {
		out = append(out, Snapshot{Entry: r.entry, IsBad: r.state == Bad || r.state == Worst})
	}
	return out
}
