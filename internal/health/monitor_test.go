package health

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nestfest/vote-service/internal/broadcast"
	"github.com/nestfest/vote-service/internal/domain"
	"github.com/nestfest/vote-service/internal/fraud"
	"github.com/nestfest/vote-service/internal/ratelimit"
	"github.com/nestfest/vote-service/internal/registry"
)

type fakeProber struct {
	latency time.Duration
	err     error
}

func (f *fakeProber) Probe(context.Context) (time.Duration, error) {
	return f.latency, f.err
}

type fakeSink struct {
	mu        sync.Mutex
	snapshots []any
}

func (f *fakeSink) AppendSnapshot(_ context.Context, snapshot any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snapshots = append(f.snapshots, snapshot)
	return nil
}

type captureSender struct {
	mu      sync.Mutex
	updates map[string][]broadcast.Update
}

func newCaptureSender() *captureSender {
	return &captureSender{updates: make(map[string][]broadcast.Update)}
}

func (c *captureSender) SendBatch(audience string, updates []broadcast.Update) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.updates[audience] = append(c.updates[audience], updates...)
}

func (c *captureSender) events(audience string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.updates[audience]))
	for _, u := range c.updates[audience] {
		out = append(out, u.Event)
	}
	return out
}

type fixture struct {
	monitor  *Monitor
	registry *registry.Registry
	patterns *fraud.Store
	limiter  *ratelimit.Limiter
	stats    *Stats
	prober   *fakeProber
	sink     *fakeSink
	sender   *captureSender
}

func newFixture(t *testing.T, thresholds Thresholds) *fixture {
	t.Helper()
	reg := registry.New()
	patterns := fraud.NewStore()
	limiter := ratelimit.New(time.Minute)
	stats := NewStats()
	prober := &fakeProber{latency: 2 * time.Millisecond}
	sink := &fakeSink{}
	sender := newCaptureSender()
	batcher := broadcast.NewBatcher(sender, 1, time.Millisecond)

	monitor := NewMonitor(reg, patterns, limiter, batcher, stats, prober, sink, thresholds, time.Hour)
	return &fixture{monitor: monitor, registry: reg, patterns: patterns, limiter: limiter,
		stats: stats, prober: prober, sink: sink, sender: sender}
}

func TestMonitor_Tick(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("assembles_snapshot_from_shared_state", func(t *testing.T) {
		f := newFixture(t, DefaultThresholds())
		f.registry.Track("conn-1", "u1", "voter", now)
		f.registry.Track("conn-2", "", "", now)
		f.stats.Record(10*time.Millisecond, false)
		f.stats.Record(20*time.Millisecond, true)
		f.patterns.Update("user:u1", "10.0.0.1", "", now, func(p *domain.VotingPattern) {
			p.Observe("sub-1", domain.VoteTraditional, now)
			p.Suspicion = 30
		})

		f.monitor.Tick(now)
		snap := f.monitor.Snapshot()

		assert.Equal(t, 2, snap.Connections)
		assert.Equal(t, 1, snap.Patterns)
		assert.InDelta(t, 30.0, snap.AvgSuspicion, 0.1)
		assert.InDelta(t, 0.5, snap.ErrorRate, 0.01)
		assert.Equal(t, 15*time.Millisecond, snap.AvgLatency)
		assert.Equal(t, StoreHealthy, snap.StoreStatus)
	})

	t.Run("emits_health_and_performance_messages", func(t *testing.T) {
		f := newFixture(t, DefaultThresholds())
		f.monitor.Tick(now)

		require.Eventually(t, func() bool {
			return len(f.sender.events(broadcast.OpsAudience)) >= 2
		}, time.Second, 5*time.Millisecond)
		events := f.sender.events(broadcast.OpsAudience)
		assert.Contains(t, events, "system_health")
		assert.Contains(t, events, "performance_metrics")
	})

	t.Run("persists_snapshot_history", func(t *testing.T) {
		f := newFixture(t, DefaultThresholds())
		f.monitor.Tick(now)

		f.sink.mu.Lock()
		defer f.sink.mu.Unlock()
		require.Len(t, f.sink.snapshots, 1)
	})

	t.Run("error_rate_is_per_interval_not_cumulative", func(t *testing.T) {
		f := newFixture(t, DefaultThresholds())
		f.stats.Record(time.Millisecond, true)
		f.monitor.Tick(now)
		assert.InDelta(t, 1.0, f.monitor.Snapshot().ErrorRate, 0.01)

		// clean interval follows a bad one
		f.stats.Record(time.Millisecond, false)
		f.stats.Record(time.Millisecond, false)
		f.monitor.Tick(now.Add(30 * time.Second))
		assert.InDelta(t, 0.0, f.monitor.Snapshot().ErrorRate, 0.01)
	})
}

func TestMonitor_StoreClassification(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	cases := []struct {
		name    string
		latency time.Duration
		err     error
		want    StoreStatus
	}{
		{name: "fast_probe_is_healthy", latency: 10 * time.Millisecond, want: StoreHealthy},
		{name: "slow_probe_is_degraded", latency: 100 * time.Millisecond, want: StoreDegraded},
		{name: "very_slow_probe_is_unhealthy", latency: 400 * time.Millisecond, want: StoreUnhealthy},
		{name: "probe_error_is_unhealthy", latency: time.Millisecond, err: errors.New("refused"), want: StoreUnhealthy},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, DefaultThresholds())
			f.prober.latency = tc.latency
			f.prober.err = tc.err

			f.monitor.Tick(now)
			assert.Equal(t, tc.want, f.monitor.Snapshot().StoreStatus)
		})
	}

	t.Run("absent_store_reports_absent_and_stays_healthy", func(t *testing.T) {
		reg := registry.New()
		sender := newCaptureSender()
		batcher := broadcast.NewBatcher(sender, 1, time.Millisecond)
		m := NewMonitor(reg, fraud.NewStore(), ratelimit.New(time.Minute), batcher,
			NewStats(), nil, nil, DefaultThresholds(), time.Hour)

		m.Tick(now)
		snap := m.Snapshot()
		assert.Equal(t, StoreAbsent, snap.StoreStatus)
		assert.Equal(t, "healthy", snap.Status)
	})
}

func TestMonitor_ThresholdAlerts(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("high_error_rate_raises_alert_and_unhealthy_status", func(t *testing.T) {
		f := newFixture(t, DefaultThresholds())
		for i := 0; i < 10; i++ {
			f.stats.Record(time.Millisecond, true)
		}

		f.monitor.Tick(now)
		snap := f.monitor.Snapshot()
		assert.Equal(t, "unhealthy", snap.Status)

		require.Eventually(t, func() bool {
			for _, ev := range f.sender.events(broadcast.OpsAudience) {
				if ev == "health_alert" {
					return true
				}
			}
			return false
		}, time.Second, 5*time.Millisecond)
	})

	t.Run("degraded_store_degrades_overall_status", func(t *testing.T) {
		f := newFixture(t, DefaultThresholds())
		f.prober.latency = 100 * time.Millisecond

		f.monitor.Tick(now)
		assert.Equal(t, "degraded", f.monitor.Snapshot().Status)
	})
}

func TestMonitor_CleanupSweep(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	f := newFixture(t, DefaultThresholds())

	f.registry.Track("conn-stale", "", "", now.Add(-10*time.Minute))
	f.limiter.Allow("conn-stale", "cast_vote", 10, now.Add(-10*time.Minute))
	f.patterns.Update("user:idle", "", "", now.Add(-2*time.Hour), func(p *domain.VotingPattern) {
		p.Observe("a", domain.VoteTraditional, now.Add(-2*time.Hour))
	})

	f.monitor.Tick(now)

	assert.Equal(t, 0, f.registry.Len())
	assert.Equal(t, 0, f.limiter.Len())
	assert.Equal(t, 0, f.patterns.Len())
}

func TestMonitor_CleanupSweep_HonorsConfiguredIdleThreshold(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	thresholds := DefaultThresholds()
	thresholds.StaleConnectionAfter = 30 * time.Second
	f := newFixture(t, thresholds)

	// silent for a minute: stale under the tightened threshold, fresh
	// under the default
	f.registry.Track("conn-quiet", "", "", now.Add(-time.Minute))
	f.registry.Track("conn-fresh", "", "", now.Add(-10*time.Second))

	f.monitor.Tick(now)

	_, quietAlive := f.registry.Get("conn-quiet")
	_, freshAlive := f.registry.Get("conn-fresh")
	assert.False(t, quietAlive)
	assert.True(t, freshAlive)
}

func TestMonitor_CleanupSweep_ForwardsStaleIDsToCallback(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	f := newFixture(t, DefaultThresholds())

	var dropped []string
	f.monitor.OnStaleConnections(func(ids []string) {
		dropped = append(dropped, ids...)
	})

	f.registry.Track("conn-stale", "", "", now.Add(-10*time.Minute))
	f.registry.Track("conn-live", "", "", now)

	f.monitor.Tick(now)

	require.Len(t, dropped, 1)
	assert.Equal(t, "conn-stale", dropped[0])
	assert.Equal(t, 1, f.registry.Len())
}

func TestMonitor_StartStop(t *testing.T) {
	f := newFixture(t, DefaultThresholds())
	f.monitor.Start()
	f.monitor.Stop()
}
