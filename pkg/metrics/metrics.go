// Package metrics exposes the pipeline's Prometheus instrumentation: one
// tick's extraction/validation/upload/load counts and durations, plus
// gauges for the durable stores' backlog (spec §7).
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	TicksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_ticks_total",
			Help: "Total number of pipeline ticks by outcome (ok, lock_contended, error)",
		},
		[]string{"outcome"},
	)

	TickDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ingest_tick_duration_seconds",
			Help:    "Wall time of one full pipeline tick",
			Buckets: prometheus.DefBuckets,
		},
	)

	ExtractionDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ingest_extraction_duration_seconds",
			Help:    "Wall time of the atomic drain step",
			Buckets: prometheus.DefBuckets,
		},
	)

	RecordsExtractedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_records_extracted_total",
			Help: "Total raw records drained from the queue store by kind",
		},
		[]string{"kind"},
	)

	RecordsValidTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_records_valid_total",
			Help: "Total records that passed validation by kind",
		},
		[]string{"kind"},
	)

	RecordsInvalidTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_records_invalid_total",
			Help: "Total records rejected by validation by kind",
		},
		[]string{"kind"},
	)

	UploadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_uploads_total",
			Help: "Total object store uploads by kind and outcome (ok, failed)",
		},
		[]string{"kind", "outcome"},
	)

	LoadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_loads_total",
			Help: "Total warehouse load jobs by kind and outcome (ok, failed)",
		},
		[]string{"kind", "outcome"},
	)

	LoadDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ingest_load_duration_seconds",
			Help:    "Warehouse load job duration by kind",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind"},
	)

	BackupPendingGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ingest_backup_pending",
			Help: "Current count of pending Local Backup Store entries",
		},
	)

	RegistryPendingGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ingest_registry_pending",
			Help: "Current count of pending Recovery Registry entries",
		},
	)

	BackupRetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ingest_backup_retries_total",
			Help: "Total Local Backup Store retry attempts",
		},
	)

	RegistryRetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ingest_registry_retries_total",
			Help: "Total Recovery Registry retry attempts",
		},
	)

	OrphansDiscoveredTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ingest_orphans_discovered_total",
			Help: "Total object-store files discovered with no registry entry",
		},
	)

	LockContentionTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ingest_lock_contention_total",
			Help: "Total ticks skipped because the distributed lock was held elsewhere",
		},
	)
)

func init() {
	prometheus.MustRegister(
		TicksTotal,
		TickDuration,
		ExtractionDuration,
		RecordsExtractedTotal,
		RecordsValidTotal,
		RecordsInvalidTotal,
		UploadsTotal,
		LoadsTotal,
		LoadDuration,
		BackupPendingGauge,
		RegistryPendingGauge,
		BackupRetriesTotal,
		RegistryRetriesTotal,
		OrphansDiscoveredTotal,
		LockContentionTotal,
	)
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations against a histogram.
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
