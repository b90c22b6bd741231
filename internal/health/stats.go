package health

import (
	"sync/atomic"
	"time"
)

// Stats collects the vote path's cheap counters for the monitor to turn
// into per-interval rates. All methods are safe for concurrent use and
// never block the recording goroutine.
type Stats struct {
	messages     atomic.Uint64
	errors       atomic.Uint64
	latencyNanos atomic.Uint64
	latencyCount atomic.Uint64
}

func NewStats() *Stats { return &Stats{} }

// Record notes one processed vote event and its added latency.
func (s *Stats) Record(d time.Duration, failed bool) {
	if s == nil {
		return
	}
	s.messages.Add(1)
	if failed {
		s.errors.Add(1)
	}
	if d > 0 {
		s.latencyNanos.Add(uint64(d))
		s.latencyCount.Add(1)
	}
}

// Totals returns the cumulative counters.
func (s *Stats) Totals() (messages, errors uint64, avgLatency time.Duration) {
	if s == nil {
		return 0, 0, 0
	}
	messages = s.messages.Load()
	errors = s.errors.Load()
	if n := s.latencyCount.Load(); n > 0 {
		avgLatency = time.Duration(s.latencyNanos.Load() / n)
	}
	return messages, errors, avgLatency
}
