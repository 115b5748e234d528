// Package metrics exposes in-process Prometheus counters, gauges, and a
// Timer helper. No HTTP scrape endpoint is built here — exporting the
// registry is the out-of-scope telemetry layer; Register only wires the
// collectors into a caller-supplied prometheus.Registerer.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles every collector ftsd's tiers update.
type Metrics struct {
	QueueDepth       *prometheus.GaugeVec
	JobsSubmitted    *prometheus.CounterVec
	JobsProcessed    *prometheus.CounterVec
	JobDuration      *prometheus.HistogramVec
	IndexesTotal     prometheus.Gauge
	DocumentsTotal   *prometheus.GaugeVec
	SnapshotDuration prometheus.Histogram
	SnapshotsTotal   *prometheus.CounterVec
}

// New constructs the collector set without registering it.
func New() *Metrics {
	return &Metrics{
		QueueDepth: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "ftsd_update_queue_depth",
				Help: "Number of update jobs currently enqueued per index",
			},
			[]string{"index_id"},
		),
		JobsSubmitted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ftsd_update_jobs_submitted_total",
				Help: "Total update jobs submitted, by kind",
			},
			[]string{"kind"},
		),
		JobsProcessed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ftsd_update_jobs_processed_total",
				Help: "Total update jobs that reached a terminal state, by kind and outcome",
			},
			[]string{"kind", "outcome"},
		),
		JobDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ftsd_update_job_duration_seconds",
				Help:    "Time from Processing to terminal state, by kind",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"kind"},
		),
		IndexesTotal: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "ftsd_indexes_total",
				Help: "Total number of known indexes",
			},
		),
		DocumentsTotal: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "ftsd_documents_total",
				Help: "Number of documents per index",
			},
			[]string{"index_id"},
		),
		SnapshotDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "ftsd_snapshot_duration_seconds",
				Help:    "Time to complete a full snapshot",
				Buckets: prometheus.DefBuckets,
			},
		),
		SnapshotsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ftsd_snapshots_total",
				Help: "Total snapshots attempted, by outcome",
			},
			[]string{"outcome"},
		),
	}
}

// Register adds every collector to reg. Call once at startup with a
// caller-owned prometheus.Registerer (e.g. prometheus.NewRegistry()).
func (m *Metrics) Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		m.QueueDepth,
		m.JobsSubmitted,
		m.JobsProcessed,
		m.JobDuration,
		m.IndexesTotal,
		m.DocumentsTotal,
		m.SnapshotDuration,
		m.SnapshotsTotal,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// Timer is a helper for timing operations and observing the result into a
// histogram once the work completes.
type Timer struct {
	start time.Time
}

// NewTimer starts a timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the elapsed time to histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the elapsed time to a labeled histogram.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
