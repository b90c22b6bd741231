package fraud

import (
	"sync"
	"time"

	"github.com/nestfest/vote-service/internal/domain"
)

// Store owns the per-actor voting patterns. Each actor has its own lock, so
// two concurrent votes from the same actor are serialized deterministically
// while unrelated actors proceed in parallel. Scoring depends on event
// order and inter-arrival timing, so that serialization is load-bearing.
type Store struct {
	mu     sync.RWMutex
	actors map[string]*actorEntry
}

type actorEntry struct {
	mu      sync.Mutex
	pattern *domain.VotingPattern
}

func NewStore() *Store {
	return &Store{actors: make(map[string]*actorEntry)}
}

// Update runs fn with the actor's pattern under the actor's lock, creating
// the pattern on first vote. fn must not block on I/O: compute the
// decision, release, then write.
func (s *Store) Update(actorKey, ipAddress, userAgent string, now time.Time, fn func(p *domain.VotingPattern)) {
	s.mu.Lock()
	entry, ok := s.actors[actorKey]
	if !ok {
		entry = &actorEntry{pattern: domain.NewVotingPattern(actorKey, ipAddress, userAgent, now)}
		s.actors[actorKey] = entry
	}
	s.mu.Unlock()

	entry.mu.Lock()
	defer entry.mu.Unlock()
	// signature may change mid-session (proxy rotation); keep latest
	if ipAddress != "" {
		entry.pattern.IPAddress = ipAddress
	}
	if userAgent != "" {
		entry.pattern.UserAgent = userAgent
	}
	fn(entry.pattern)
}

// Peek runs fn with the pattern if the actor exists, without creating one.
func (s *Store) Peek(actorKey string, fn func(p *domain.VotingPattern)) bool {
	s.mu.RLock()
	entry, ok := s.actors[actorKey]
	s.mu.RUnlock()
	if !ok {
		return false
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	fn(entry.pattern)
	return true
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.actors)
}

// Aggregates is the health monitor's view of the whole table.
type Aggregates struct {
	Patterns     int
	TotalEvents  int
	AvgSuspicion float64
	Suspicious   int // patterns at or above the given score
}

func (s *Store) Aggregates(suspicionFloor float64) Aggregates {
	s.mu.RLock()
	entries := make([]*actorEntry, 0, len(s.actors))
	for _, e := range s.actors {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	agg := Aggregates{Patterns: len(entries)}
	if len(entries) == 0 {
		return agg
	}

	total := 0.0
	for _, e := range entries {
		e.mu.Lock()
		total += e.pattern.Suspicion
		agg.TotalEvents += len(e.pattern.Events)
		if e.pattern.Suspicion >= suspicionFloor {
			agg.Suspicious++
		}
		e.mu.Unlock()
	}
	agg.AvgSuspicion = total / float64(len(entries))
	return agg
}

// Evict removes actors idle past the retention window. Run from the
// periodic cleanup sweep; returns how many were dropped.
func (s *Store) Evict(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	evicted := 0
	for key, entry := range s.actors {
		entry.mu.Lock()
		idle := entry.pattern.IdleSince(now)
		entry.mu.Unlock()
		if idle {
			delete(s.actors, key)
			evicted++
		}
	}
	return evicted
}
