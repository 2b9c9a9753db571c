// Package metrics holds the small set of running counters the router
// exposes for operational visibility, grounded on the teacher's
// internal/routing/metrics package: plain int64 counters guarded by a
// sync.RWMutex and read as a snapshot, rather than wired to any external metrics system, since
// spec.md's Non-goals exclude an observability layer as a feature
// surface while still expecting the ambient stack's shape.
package metrics

import (
	"sync"
	"time"
)

// Counters tracks router-wide activity: datagrams dropped by dispatch,
// RTMP tuples considered (and how many were accepted), zones learned, and
// the last time each control-plane service ran. One Counters is shared by
// a Router and all the services it owns.
type Counters struct {
	mu sync.RWMutex

	DatagramsDropped   int64
	DatagramsDelivered int64
	DatagramsRouted    int64

	TuplesConsidered int64
	TuplesAccepted   int64

	ZonesLearned int64

	lastRTMPSend time.Time
	lastZIPSend  time.Time
	lastAge      time.Time
}

// New returns an empty Counters.
func New() *Counters {
	return &Counters{}
}

func (c *Counters) IncDropped() {
	c.mu.Lock()
	c.DatagramsDropped++
	c.mu.Unlock()
}

func (c *Counters) IncDelivered() {
	c.mu.Lock()
	c.DatagramsDelivered++
	c.mu.Unlock()
}

func (c *Counters) IncRouted() {
	c.mu.Lock()
	c.DatagramsRouted++
	c.mu.Unlock()
}

// RecordTuple records the outcome of offering one RTMP tuple to the
// routing table.
func (c *Counters) RecordTuple(accepted bool) {
	c.mu.Lock()
	c.TuplesConsidered++
	if accepted {
		c.TuplesAccepted++
	}
	c.mu.Unlock()
}

func (c *Counters) RecordZoneLearned() {
	c.mu.Lock()
	c.ZonesLearned++
	c.mu.Unlock()
}

func (c *Counters) RecordRTMPSend(at time.Time) {
	c.mu.Lock()
	c.lastRTMPSend = at
	c.mu.Unlock()
}

func (c *Counters) RecordZIPSend(at time.Time) {
	c.mu.Lock()
	c.lastZIPSend = at
	c.mu.Unlock()
}

func (c *Counters) RecordAge(at time.Time) {
	c.mu.Lock()
	c.lastAge = at
	c.mu.Unlock()
}

// Snapshot is a point-in-time copy safe to read without the lock.
type Snapshot struct {
	DatagramsDropped   int64
	DatagramsDelivered int64
	DatagramsRouted    int64
	TuplesConsidered   int64
	TuplesAccepted     int64
	ZonesLearned       int64
	LastRTMPSend       time.Time
	LastZIPSend        time.Time
	LastAge            time.Time
}

func (c *Counters) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Snapshot{
		DatagramsDropped:   c.DatagramsDropped,
		DatagramsDelivered: c.DatagramsDelivered,
		DatagramsRouted:    c.DatagramsRouted,
		TuplesConsidered:   c.TuplesConsidered,
		TuplesAccepted:     c.TuplesAccepted,
		ZonesLearned:       c.ZonesLearned,
		LastRTMPSend:       c.lastRTMPSend,
		LastZIPSend:        c.lastZIPSend,
		LastAge:            c.lastAge,
	}
}
