package ratelimit

import (
	"sync"
	"time"
)

const (
	// DefaultWindow is the fixed rate-limit window.
	DefaultWindow = time.Minute

	// purgeGrace is how long past its reset a bucket may linger before the
	// periodic cleanup drops it, bounding memory for churning connections.
	purgeGrace = 5 * time.Minute
)

type bucketKey struct {
	connectionID string
	eventType    string
}

type bucket struct {
	count   int
	resetAt time.Time
}

// Limiter maintains one fixed-window bucket per (connection, event type).
// Consulted before any vote is processed; a rejection is surfaced to the
// caller as a typed error, never silently dropped.
type Limiter struct {
	mu      sync.Mutex
	window  time.Duration
	buckets map[bucketKey]*bucket
}

func New(window time.Duration) *Limiter {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Limiter{
		window:  window,
		buckets: make(map[bucketKey]*bucket),
	}
}

// Allow reports whether the connection may emit one more event of this type
// in the current window. A fresh or elapsed window resets the count first,
// so the first call after the window always passes regardless of history.
func (l *Limiter) Allow(connectionID, eventType string, limit int, now time.Time) bool {
	if limit <= 0 {
		return true
	}

	key := bucketKey{connectionID: connectionID, eventType: eventType}

	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[key]
	if !ok || !now.Before(b.resetAt) {
		b = &bucket{resetAt: now.Add(l.window)}
		l.buckets[key] = b
	}

	if b.count >= limit {
		return false
	}
	b.count++
	return true
}

// Remaining reports the window reset time for a bucket, for Retry-After
// style hints. Zero time when no bucket exists.
func (l *Limiter) ResetAt(connectionID, eventType string) time.Time {
	key := bucketKey{connectionID: connectionID, eventType: eventType}
	l.mu.Lock()
	defer l.mu.Unlock()
	if b, ok := l.buckets[key]; ok {
		return b.resetAt
	}
	return time.Time{}
}

// Purge drops buckets whose window elapsed more than the grace period ago.
func (l *Limiter) Purge(now time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	purged := 0
	for key, b := range l.buckets {
		if now.After(b.resetAt.Add(purgeGrace)) {
			delete(l.buckets, key)
			purged++
		}
	}
	return purged
}

func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}
