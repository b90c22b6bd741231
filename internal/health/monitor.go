package health

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"

	zlog "github.com/rs/zerolog/log"

	"github.com/nestfest/vote-service/internal/broadcast"
	"github.com/nestfest/vote-service/internal/domain"
	"github.com/nestfest/vote-service/internal/fraud"
	"github.com/nestfest/vote-service/internal/metrics"
	"github.com/nestfest/vote-service/internal/ratelimit"
	"github.com/nestfest/vote-service/internal/registry"
)

const DefaultInterval = 30 * time.Second

// StoreStatus classifies the downstream shared store by probe latency.
type StoreStatus string

const (
	StoreHealthy   StoreStatus = "healthy"
	StoreDegraded  StoreStatus = "degraded"
	StoreUnhealthy StoreStatus = "unhealthy"
	StoreAbsent    StoreStatus = "absent"
)

// Prober times one round trip to the downstream shared store.
type Prober interface {
	Probe(ctx context.Context) (time.Duration, error)
}

// SnapshotSink persists bounded snapshot history for dashboards; optional.
type SnapshotSink interface {
	AppendSnapshot(ctx context.Context, snapshot any) error
}

type Thresholds struct {
	MaxErrorRate      float64 // errors / messages over one interval
	MaxMemoryPercent  float64
	MaxCPUPercent     float64
	DegradedLatency   time.Duration // store probe
	UnhealthyLatency  time.Duration
	MaxSuspiciousRate float64 // suspicious patterns / all patterns
	SuspicionFloor    float64 // score at which a pattern counts as suspicious

	// StaleConnectionAfter is how long a connection may stay silent before
	// the cleanup sweep drops it.
	StaleConnectionAfter time.Duration
}

func DefaultThresholds() Thresholds {
	return Thresholds{
		MaxErrorRate:      0.10,
		MaxMemoryPercent:  90,
		MaxCPUPercent:     90,
		DegradedLatency:   50 * time.Millisecond,
		UnhealthyLatency:  250 * time.Millisecond,
		MaxSuspiciousRate: 0.25,
		SuspicionFloor:    60,

		StaleConnectionAfter: domain.ConnectionIdleTimeout,
	}
}

// Snapshot is the point-in-time health read. Only the most recent one is
// retained in process memory.
type Snapshot struct {
	Timestamp         time.Time     `json:"timestamp"`
	Status            string        `json:"status"` // healthy | degraded | unhealthy
	Connections       int           `json:"connections"`
	MessagesPerSecond float64       `json:"messages_per_second"`
	ErrorRate         float64       `json:"error_rate"`
	AvgLatency        time.Duration `json:"avg_latency_ns"`
	MemoryPercent     float64       `json:"memory_percent"`
	CPUPercent        float64       `json:"cpu_percent"`
	StoreStatus       StoreStatus   `json:"store_status"`
	StoreLatency      time.Duration `json:"store_latency_ns"`
	Patterns          int           `json:"patterns"`
	AvgSuspicion      float64       `json:"avg_suspicion"`
	SuspiciousRate    float64       `json:"suspicious_rate"`
}

// Monitor samples shared state on a fixed interval, emits health and
// performance messages to the ops audience, and runs the periodic cleanup
// sweep for stale connections, rate-limit buckets, and idle patterns.
type Monitor struct {
	registry   *registry.Registry
	patterns   *fraud.Store
	limiter    *ratelimit.Limiter
	batcher    *broadcast.Batcher
	stats      *Stats
	prober     Prober
	sink       SnapshotSink
	thresholds Thresholds
	interval   time.Duration

	onStale func(connectionIDs []string)

	mu   sync.RWMutex
	last Snapshot

	prevMessages uint64
	prevErrors   uint64
	prevAt       time.Time

	stop chan struct{}
	done chan struct{}
}

func NewMonitor(
	reg *registry.Registry,
	patterns *fraud.Store,
	limiter *ratelimit.Limiter,
	batcher *broadcast.Batcher,
	stats *Stats,
	prober Prober,
	sink SnapshotSink,
	thresholds Thresholds,
	interval time.Duration,
) *Monitor {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Monitor{
		registry:   reg,
		patterns:   patterns,
		limiter:    limiter,
		batcher:    batcher,
		stats:      stats,
		prober:     prober,
		sink:       sink,
		thresholds: thresholds,
		interval:   interval,
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// OnStaleConnections registers a callback that receives the IDs removed by
// each cleanup sweep, so the transport can close the underlying sockets.
// Must be called before Start.
func (m *Monitor) OnStaleConnections(fn func(connectionIDs []string)) {
	m.onStale = fn
}

func (m *Monitor) Start() {
	go func() {
		defer close(m.done)
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		m.prevAt = time.Now()
		for {
			select {
			case <-m.stop:
				return
			case now := <-ticker.C:
				m.Tick(now)
			}
		}
	}()
}

func (m *Monitor) Stop() {
	close(m.stop)
	<-m.done
}

// Snapshot returns the most recent health read.
func (m *Monitor) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.last
}

// Tick performs one sampling pass. Exposed for tests; Start drives it.
func (m *Monitor) Tick(now time.Time) {
	snap := m.sample(now)

	m.mu.Lock()
	m.last = snap
	m.mu.Unlock()

	metrics.SetConnections(snap.Connections)

	m.batcher.Enqueue(broadcast.OpsAudience, broadcast.Update{Event: "system_health", Data: snap})
	m.batcher.Enqueue(broadcast.OpsAudience, broadcast.Update{Event: "performance_metrics", Data: map[string]any{
		"messages_per_second": snap.MessagesPerSecond,
		"avg_latency_ms":      float64(snap.AvgLatency) / float64(time.Millisecond),
		"connections":         snap.Connections,
		"patterns":            snap.Patterns,
	}})

	for _, alert := range m.alerts(snap) {
		zlog.Warn().Str("alert", alert).Msg("health threshold exceeded")
		m.batcher.Enqueue(broadcast.OpsAudience, broadcast.Update{Event: "health_alert", Data: map[string]any{
			"alert":     alert,
			"timestamp": snap.Timestamp,
		}})
	}

	m.cleanup(now)
	m.persist(snap)
}

func (m *Monitor) sample(now time.Time) Snapshot {
	snap := Snapshot{Timestamp: now.UTC(), Status: "healthy"}

	snap.Connections = m.registry.Len()

	messages, errors, avgLatency := m.stats.Totals()
	elapsed := now.Sub(m.prevAt).Seconds()
	if elapsed > 0 {
		snap.MessagesPerSecond = float64(messages-m.prevMessages) / elapsed
	}
	if delta := messages - m.prevMessages; delta > 0 {
		snap.ErrorRate = float64(errors-m.prevErrors) / float64(delta)
	}
	snap.AvgLatency = avgLatency
	m.prevMessages, m.prevErrors, m.prevAt = messages, errors, now

	agg := m.patterns.Aggregates(m.thresholds.SuspicionFloor)
	snap.Patterns = agg.Patterns
	snap.AvgSuspicion = agg.AvgSuspicion
	if agg.Patterns > 0 {
		snap.SuspiciousRate = float64(agg.Suspicious) / float64(agg.Patterns)
	}

	if vm, err := mem.VirtualMemory(); err == nil {
		snap.MemoryPercent = vm.UsedPercent
	}
	if pct, err := cpu.Percent(0, false); err == nil && len(pct) > 0 {
		snap.CPUPercent = pct[0]
	}

	snap.StoreStatus, snap.StoreLatency = m.probeStore()

	switch {
	case snap.ErrorRate > m.thresholds.MaxErrorRate,
		snap.MemoryPercent > m.thresholds.MaxMemoryPercent,
		snap.CPUPercent > m.thresholds.MaxCPUPercent:
		snap.Status = "unhealthy"
	case snap.StoreStatus == StoreDegraded,
		snap.StoreStatus == StoreUnhealthy,
		snap.SuspiciousRate > m.thresholds.MaxSuspiciousRate:
		snap.Status = "degraded"
	}

	return snap
}

func (m *Monitor) probeStore() (StoreStatus, time.Duration) {
	if m.prober == nil {
		return StoreAbsent, 0
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	latency, err := m.prober.Probe(ctx)
	metrics.RecordStoreProbe(latency)
	switch {
	case err != nil, latency >= m.thresholds.UnhealthyLatency:
		return StoreUnhealthy, latency
	case latency >= m.thresholds.DegradedLatency:
		return StoreDegraded, latency
	default:
		return StoreHealthy, latency
	}
}

func (m *Monitor) alerts(snap Snapshot) []string {
	var out []string
	if snap.ErrorRate > m.thresholds.MaxErrorRate {
		out = append(out, fmt.Sprintf("error rate %.1f%% exceeds %.1f%%", snap.ErrorRate*100, m.thresholds.MaxErrorRate*100))
	}
	if snap.MemoryPercent > m.thresholds.MaxMemoryPercent {
		out = append(out, fmt.Sprintf("memory %.1f%% exceeds %.1f%%", snap.MemoryPercent, m.thresholds.MaxMemoryPercent))
	}
	if snap.CPUPercent > m.thresholds.MaxCPUPercent {
		out = append(out, fmt.Sprintf("cpu %.1f%% exceeds %.1f%%", snap.CPUPercent, m.thresholds.MaxCPUPercent))
	}
	if snap.StoreStatus == StoreUnhealthy {
		out = append(out, fmt.Sprintf("shared store unhealthy (probe %s)", snap.StoreLatency))
	}
	if snap.SuspiciousRate > m.thresholds.MaxSuspiciousRate {
		out = append(out, fmt.Sprintf("suspicious pattern rate %.1f%% exceeds %.1f%%", snap.SuspiciousRate*100, m.thresholds.MaxSuspiciousRate*100))
	}
	return out
}

func (m *Monitor) cleanup(now time.Time) {
	stale := m.registry.CleanupStale(now, m.thresholds.StaleConnectionAfter)
	purged := m.limiter.Purge(now)
	evicted := m.patterns.Evict(now)
	if len(stale) > 0 && m.onStale != nil {
		m.onStale(stale)
	}
	if len(stale) > 0 || purged > 0 || evicted > 0 {
		zlog.Info().
			Int("stale_connections", len(stale)).
			Int("purged_buckets", purged).
			Int("evicted_patterns", evicted).
			Msg("cleanup sweep")
	}
}

func (m *Monitor) persist(snap Snapshot) {
	if m.sink == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := m.sink.AppendSnapshot(ctx, snap); err != nil {
		zlog.Debug().Err(err).Msg("snapshot history skipped")
	}
}
