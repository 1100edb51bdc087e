package task

import "frametick/internal/pool"

// PoolStats describes one kind's arena.
type PoolStats struct {
	Kind  string `json:"kind"`
	Slots int    `json:"slots"`
	Live  int    `json:"live"`
	pool.Stats
}

// Snapshot is a point-in-time view of the scheduler, safe to hand to other
// goroutines.
type Snapshot struct {
	Frame      uint64      `json:"frame"`
	Active     int         `json:"active"`
	Pending    int         `json:"pending"`
	Violations uint64      `json:"violations"`
	Pools      []PoolStats `json:"pools"`
}

// Stats copies the scheduler counters and per-kind pool stats. Like Tick, it
// must be called from the goroutine that owns the scheduler.
func (s *Scheduler) Stats() Snapshot {
	snap := Snapshot{
		Frame:      s.frame,
		Active:     len(s.active),
		Pending:    len(s.pending),
		Violations: s.violations,
		Pools:      make([]PoolStats, 0, len(Kinds)),
	}
	for _, k := range Kinds {
		a := s.arenas[k]
		snap.Pools = append(snap.Pools, PoolStats{
			Kind:  k.String(),
			Slots: len(a.slots),
			Live:  a.live(),
			Stats: a.free.Stats(),
		})
	}
	return snap
}

// Pool returns the stats for kind k, or the zero value if k is unknown.
func (sn Snapshot) Pool(k Kind) PoolStats {
	name := k.String()
	for _, p := range sn.Pools {
		if p.Kind == name {
			return p
		}
	}
	return PoolStats{}
}
