package server

import "sync/atomic"

// Stats tracks connection- and operation-level counters across both
// listeners. Unlike the per-stash INFO reply, these are process-wide and
// exposed for operational visibility rather than over the wire protocol.
type Stats struct {
	Connections uint64
	TotalOps    uint64
	Errors      uint64
}

func (s *Stats) incConnections() { atomic.AddUint64(&s.Connections, 1) }
func (s *Stats) incOps()         { atomic.AddUint64(&s.TotalOps, 1) }
func (s *Stats) incErrors()      { atomic.AddUint64(&s.Errors, 1) }

// Snapshot returns a point-in-time copy safe for concurrent reads.
func (s *Stats) Snapshot() Stats {
	return Stats{
		Connections: atomic.LoadUint64(&s.Connections),
		TotalOps:    atomic.LoadUint64(&s.TotalOps),
		Errors:      atomic.LoadUint64(&s.Errors),
	}
}
