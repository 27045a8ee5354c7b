package engine

import "sync/atomic"

// Stats holds process-lifetime counters, mutated only by completed work items
// and read by the shutdown summary. Counters are monotonically increasing
// until process exit.
type Stats struct {
	uploaded         atomic.Int64
	deleted          atomic.Int64
	dirsCreated      atomic.Int64
	dirsRemoved      atomic.Int64
	errors           atomic.Int64
	skippedLarge     atomic.Int64
	safetyViolations atomic.Int64
}

// StatsSnapshot is a point-in-time copy of all counters.
type StatsSnapshot struct {
	Uploaded         int64
	Deleted          int64
	DirsCreated      int64
	DirsRemoved      int64
	Errors           int64
	SkippedLarge     int64
	SafetyViolations int64
}

// Snapshot returns the current counter values.
func (s *Stats) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		Uploaded:         s.uploaded.Load(),
		Deleted:          s.deleted.Load(),
		DirsCreated:      s.dirsCreated.Load(),
		DirsRemoved:      s.dirsRemoved.Load(),
		Errors:           s.errors.Load(),
		SkippedLarge:     s.skippedLarge.Load(),
		SafetyViolations: s.safetyViolations.Load(),
	}
}
