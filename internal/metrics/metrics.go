// Package metrics exports a run's latency distribution and progress
// counters in the Prometheus text format, so results can be picked up by a
// node exporter textfile collector.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/jessegalley/diobench/internal/engine"
	"github.com/jessegalley/diobench/internal/fault"
)

const namespace = "dio"

// Recorder collects one run's metrics in a private registry
type Recorder struct {
	registry    *prometheus.Registry
	latency     prometheus.Histogram
	writes      prometheus.Counter
	bytes       prometheus.Counter
	batches     prometheus.Counter
	maxInFlight prometheus.Gauge
	elapsed     prometheus.Gauge
}

// NewRecorder builds a recorder whose series all carry labels
func NewRecorder(labels prometheus.Labels) *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		latency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace:   namespace,
			Name:        "write_latency_seconds",
			Help:        "Latency from staging a write to reaping its completion.",
			ConstLabels: labels,
			// same resolution as the report: 1ms buckets up to 100ms
			Buckets: prometheus.LinearBuckets(0.001, 0.001, 100),
		}),
		writes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "writes_total",
			Help:        "Writes completed successfully.",
			ConstLabels: labels,
		}),
		bytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "bytes_written_total",
			Help:        "Bytes reported written by completions.",
			ConstLabels: labels,
		}),
		batches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "submit_batches_total",
			Help:        "Batched submit calls made to the ring.",
			ConstLabels: labels,
		}),
		maxInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "max_in_flight",
			Help:        "Highest number of writes in flight during the run.",
			ConstLabels: labels,
		}),
		elapsed: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "run_duration_seconds",
			Help:        "Wall time of the write pipeline.",
			ConstLabels: labels,
		}),
	}

	r.registry.MustRegister(r.latency, r.writes, r.bytes, r.batches, r.maxInFlight, r.elapsed)
	return r
}

// Observe records one write latency; it satisfies engine.Sink
func (r *Recorder) Observe(elapsed time.Duration) {
	r.latency.Observe(elapsed.Seconds())
}

// Record adds the totals of a finished run
func (r *Recorder) Record(s engine.Stats) {
	r.writes.Add(float64(s.Completed))
	r.bytes.Add(float64(s.Bytes))
	r.batches.Add(float64(s.Batches))
	r.maxInFlight.Set(float64(s.MaxInFlight))
	r.elapsed.Set(s.Elapsed.Seconds())
}

// Gatherer exposes the registry
func (r *Recorder) Gatherer() prometheus.Gatherer {
	return r.registry
}

// WriteTextfile writes every series to path atomically
func (r *Recorder) WriteTextfile(path string) error {
	return fault.Wrap("metrics_write", prometheus.WriteToTextfile(path, r.registry))
}
