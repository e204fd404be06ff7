package dispatch

import "sync/atomic"

// Stats is a process-wide set of call counters, the only heap
// instrumentation this module carries — per SPEC_FULL.md's Non-goals
// ("nothing richer than simple byte counters"). A Dispatcher owns one and
// updates it on every call; reading it is safe from any goroutine.
type Stats struct {
	Allocates   atomic.Int64
	Deallocates atomic.Int64
	Grows       atomic.Int64
	Shrinks     atomic.Int64
}

// Snapshot is a point-in-time copy of a Stats, safe to log or compare.
type Snapshot struct {
	Allocates, Deallocates, Grows, Shrinks int64
}

// Snapshot reads all four counters. The four loads are independent, so a
// concurrent call elsewhere in the process may be reflected in some fields
// and not others; this is acceptable for a diagnostic counter, not a
// correctness-bearing value.
func (s *Stats) Snapshot() Snapshot {
	return Snapshot{
		Allocates:   s.Allocates.Load(),
		Deallocates: s.Deallocates.Load(),
		Grows:       s.Grows.Load(),
		Shrinks:     s.Shrinks.Load(),
	}
}
