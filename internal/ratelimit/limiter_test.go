package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLimiter_Allow(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("eleventh_call_in_window_is_rejected", func(t *testing.T) {
		l := New(time.Minute)
		for i := 0; i < 10; i++ {
			assert.True(t, l.Allow("conn-1", "cast_vote", 10, now.Add(time.Duration(i)*time.Second)))
		}
		assert.False(t, l.Allow("conn-1", "cast_vote", 10, now.Add(11*time.Second)))
	})

	t.Run("first_call_after_window_passes", func(t *testing.T) {
		l := New(time.Minute)
		for i := 0; i < 10; i++ {
			l.Allow("conn-1", "cast_vote", 10, now)
		}
		assert.False(t, l.Allow("conn-1", "cast_vote", 10, now.Add(59*time.Second)))
		assert.True(t, l.Allow("conn-1", "cast_vote", 10, now.Add(time.Minute)))
	})

	t.Run("buckets_are_per_connection_and_event_type", func(t *testing.T) {
		l := New(time.Minute)
		assert.True(t, l.Allow("conn-1", "cast_vote", 1, now))
		assert.False(t, l.Allow("conn-1", "cast_vote", 1, now))
		assert.True(t, l.Allow("conn-2", "cast_vote", 1, now))
		assert.True(t, l.Allow("conn-1", "subscribe", 1, now))
	})

	t.Run("non_positive_limit_disables_the_check", func(t *testing.T) {
		l := New(time.Minute)
		for i := 0; i < 100; i++ {
			assert.True(t, l.Allow("conn-1", "cast_vote", 0, now))
		}
	})
}

func TestLimiter_ResetAt(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	l := New(time.Minute)

	assert.True(t, l.ResetAt("conn-1", "cast_vote").IsZero())

	l.Allow("conn-1", "cast_vote", 10, now)
	assert.Equal(t, now.Add(time.Minute), l.ResetAt("conn-1", "cast_vote"))
}

func TestLimiter_Purge(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	l := New(time.Minute)

	l.Allow("conn-old", "cast_vote", 10, now)
	l.Allow("conn-new", "cast_vote", 10, now.Add(5*time.Minute))

	purged := l.Purge(now.Add(6*time.Minute + time.Second))
	assert.Equal(t, 1, purged)
	assert.Equal(t, 1, l.Len())
}
