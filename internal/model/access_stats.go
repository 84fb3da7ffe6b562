package model

import "time"

// AccessStats is the denormalized occupancy rollup for one event,
// updated in the same transaction as every ledger append.  The ledger
// remains the ground truth; this row is a cache that the periodic
// reconciliation job recomputes and corrects when it drifts.
//
// PeakCount is monotonic non-decreasing for the lifetime of the
// event: it is only ever raised, never lowered, not even by
// reconciliation of the other counters.
type AccessStats struct {
	EventID            uint64     // access_stats.event_id
	CurrentInsideCount int64      // access_stats.current_inside_count
	TotalEntries       int64      // access_stats.total_entries
	TotalExits         int64      // access_stats.total_exits
	UniqueVisitors     int64      // access_stats.unique_visitors
	PeakCount          int64      // access_stats.peak_count
	PeakTime           *time.Time // access_stats.peak_time (nullable)
	LastEntryAt        *time.Time // access_stats.last_entry_at (nullable)
	LastExitAt         *time.Time // access_stats.last_exit_at (nullable)
	UpdatedAt          time.Time  // access_stats.updated_at
}

// OccupancyPercentage returns the current occupancy relative to the
// event's maximum capacity, rounded to the nearest integer.  Events
// without a capacity limit report zero.
func (s *AccessStats) OccupancyPercentage(maxCapacity uint32) int {
	if maxCapacity == 0 {
		return 0
	}
	pct := float64(s.CurrentInsideCount) / float64(maxCapacity) * 100
	return int(pct + 0.5)
}
