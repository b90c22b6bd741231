package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	voteEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vote_events_total",
			Help: "Vote events by terminal state",
		},
		[]string{"result"},
	)

	voteProcessingDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "vote_processing_duration_seconds",
			Help:    "Added latency of the vote acceptance path",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		},
	)

	fraudAlertsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fraud_alerts_total",
			Help: "Fraud alerts emitted, by rule and severity",
		},
		[]string{"rule", "severity"},
	)

	batchFlushTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "broadcast_batch_flush_total",
			Help: "Batch flushes by trigger",
		},
		[]string{"trigger"},
	)

	batchSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "broadcast_batch_size",
			Help:    "Updates per flushed batch",
			Buckets: []float64{1, 2, 5, 10, 20, 50},
		},
	)

	wsConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ws_connections",
			Help: "Currently tracked push connections",
		},
	)

	storeProbeDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "shared_store_probe_duration_seconds",
			Help:    "Downstream shared store probe latency",
			Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2},
		},
	)
)

func RecordVote(result string, duration time.Duration) {
	voteEventsTotal.WithLabelValues(result).Inc()
	voteProcessingDuration.Observe(duration.Seconds())
}

func RecordFraudAlert(rule, severity string) {
	fraudAlertsTotal.WithLabelValues(rule, severity).Inc()
}

func RecordBatchFlush(trigger string, size int) {
	batchFlushTotal.WithLabelValues(trigger).Inc()
	batchSize.Observe(float64(size))
}

func SetConnections(n int) {
	wsConnections.Set(float64(n))
}

func RecordStoreProbe(d time.Duration) {
	storeProbeDuration.Observe(d.Seconds())
}

// Handler exposes the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
