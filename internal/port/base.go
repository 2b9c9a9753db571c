package port

import "sync"

// Base holds the network/node acquisition state common to every Port
// driver: the acquired network/node pair and the cable's range. Driver
// implementations embed Base and call its accessors instead of
// duplicating the locking.
type Base struct {
	mu sync.RWMutex

	label string

	network uint16
	node    uint8

	networkMin, networkMax uint16
	rangeSet               bool
	extended                bool
}

// NewBase constructs a Base for a driver identified by label (used for
// logging and as the seed for ID()). extended says whether the cable this
// Port serves can carry an extended network range.
func NewBase(label string, extended bool) *Base {
	return &Base{label: label, extended: extended}
}

func (b *Base) Network() uint16 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.network
}

func (b *Base) Node() uint8 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.node
}

func (b *Base) NetworkMin() uint16 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.networkMin
}

func (b *Base) NetworkMax() uint16 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.networkMax
}

func (b *Base) ExtendedNetwork() bool {
	return b.extended
}

func (b *Base) ID() uint64 {
	return IDFromLabel(b.label)
}

func (b *Base) String() string {
	return b.label
}

// SetAcquired records the network/node pair a driver obtained during
// start-up probing (AARP, or a configured static address).
func (b *Base) SetAcquired(network uint16, node uint8) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.network = network
	b.node = node
}

// SetNetworkRange implements the Port contract's range-setting rule: once
// set, a second call is rejected with ErrRangeAlreadySet.
func (b *Base) SetNetworkRange(min, max uint16) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.rangeSet {
		return ErrRangeAlreadySet
	}
	b.networkMin, b.networkMax, b.rangeSet = min, max, true
	return nil
}

// RangeSet reports whether SetNetworkRange has ever succeeded.
func (b *Base) RangeSet() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.rangeSet
}
