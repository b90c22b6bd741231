package registry

import (
	"sync"
	"time"

	"github.com/nestfest/vote-service/internal/domain"
)

// Registry tracks every live push connection. All mutation goes through a
// single lock; reads hand out copies so callers never alias live records.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]*domain.ConnectionRecord

	totalMessages uint64
	totalErrors   uint64
}

func New() *Registry {
	return &Registry{conns: make(map[string]*domain.ConnectionRecord)}
}

// Track registers a connection on connect. Identity is optional; anonymous
// viewers are allowed.
func (r *Registry) Track(connectionID, userID, role string, now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[connectionID] = &domain.ConnectionRecord{
		ID:           connectionID,
		UserID:       userID,
		Role:         role,
		Alive:        true,
		ConnectedAt:  now.UTC(),
		LastActivity: now.UTC(),
	}
}

// Untrack removes a connection on clean disconnect.
func (r *Registry) Untrack(connectionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.conns, connectionID)
}

// RecordActivity bumps the liveness clock and message counter.
func (r *Registry) RecordActivity(connectionID string, now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.conns[connectionID]; ok {
		c.LastActivity = now.UTC()
		c.Messages++
	}
	r.totalMessages++
}

// RecordError counts an error against the connection. Rate-limit
// rejections land here too.
func (r *Registry) RecordError(connectionID string, now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.conns[connectionID]; ok {
		c.LastActivity = now.UTC()
		c.Errors++
	}
	r.totalErrors++
}

// Get returns a copy of one record.
func (r *Registry) Get(connectionID string) (domain.ConnectionRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if c, ok := r.conns[connectionID]; ok {
		return *c, true
	}
	return domain.ConnectionRecord{}, false
}

// Snapshot returns copies of all records, for the health monitor.
func (r *Registry) Snapshot() []domain.ConnectionRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.ConnectionRecord, 0, len(r.conns))
	for _, c := range r.conns {
		out = append(out, *c)
	}
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// Totals returns cumulative message and error counts across all
// connections, including ones already gone.
func (r *Registry) Totals() (messages, errors uint64) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.totalMessages, r.totalErrors
}

// CleanupStale removes connections silent past the threshold, the guard
// against sockets that died without a close frame. Returns the removed IDs
// so the transport can tear the sockets down as well.
func (r *Registry) CleanupStale(now time.Time, threshold time.Duration) []string {
	if threshold <= 0 {
		threshold = domain.ConnectionIdleTimeout
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	var removed []string
	cutoff := now.Add(-threshold)
	for id, c := range r.conns {
		if c.LastActivity.Before(cutoff) {
			delete(r.conns, id)
			removed = append(removed, id)
		}
	}
	return removed
}
