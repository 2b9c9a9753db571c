// Package rtable implements the Routing Table: the range-to-best-path map
// with four-state aging described in spec.md §4.3.
package rtable

import (
	"fmt"

	"github.com/wesleywu/atalk-router/internal/port"
)

// State is an entry's position in the aging decay machine.
type State int

const (
	Good State = iota
	Sus
	Bad
	Worst
)

func (s State) String() string {
	switch s {
	case Good:
		return "GOOD"
	case Sus:
		return "SUS"
	case Bad:
		return "BAD"
	case Worst:
		return "WORST"
	default:
		return "UNKNOWN"
	}
}

// Entry is an immutable routing table entry: a path to every network
// number in [NetworkMin, NetworkMax]. Distance 0 means directly connected
// via Port; NextNetwork/NextNode are meaningless in that case. Two entries
// are equal iff all six fields are equal.
type Entry struct {
	NetworkMin, NetworkMax uint16
	Distance               int
	Port                   port.Port
	NextNetwork            uint16
	NextNode               uint8
}

// Equal reports whether e and o carry the same six fields. Port identity
// is compared via its stable ID, not interface/pointer identity, so two
// Entry values built against the same logical port always compare equal.
func (e Entry) Equal(o Entry) bool {
	ePortID, oPortID := uint64(0), uint64(0)
	if e.Port != nil {
		ePortID = e.Port.ID()
	}
	if o.Port != nil {
		oPortID = o.Port.ID()
	}
	return e.NetworkMin == o.NetworkMin &&
		e.NetworkMax == o.NetworkMax &&
		e.Distance == o.Distance &&
		ePortID == oPortID &&
		e.NextNetwork == o.NextNetwork &&
		e.NextNode == o.NextNode
}

func (e Entry) String() string {
	portLabel := "<nil>"
	if e.Port != nil {
		portLabel = e.Port.String()
	}
	return fmt.Sprintf("{%d-%d dist=%d via=%s next=%d/%d}",
		e.NetworkMin, e.NetworkMax, e.Distance, portLabel, e.NextNetwork, e.NextNode)
}

func (e Entry) overlaps(min, max uint16) bool {
	return e.NetworkMin <= max && e.NetworkMax >= min
}
