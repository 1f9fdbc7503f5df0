// Package metrics exposes Prometheus counters and histograms for the
// runtime-level operations internal/runtime handles (SPEC_FULL.md §K). Every
// collector is registered against a private prometheus.Registry the host
// process owns and can serve; nothing here touches the default global
// registry, so multiple runtimes in one process (tests) never collide.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Recorder is the narrow surface the core components call through. A nil
// *Recorder is valid and records nothing, so metrics stay fully optional.
type Recorder struct {
	ops       *prometheus.CounterVec
	opErrors  *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	barriers  prometheus.Counter
	registry  *prometheus.Registry
}

// New builds a Recorder and registers its collectors against a fresh
// registry, returned alongside so the caller can serve it (e.g. via
// promhttp.HandlerFor, left to the host process — this module has no
// HTTP surface of its own, per spec.md §1's CLI/demo non-goal).
func New() (*Recorder, *prometheus.Registry) {
	reg := prometheus.NewRegistry()
	r := &Recorder{
		ops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pgasrt",
			Name:      "ops_total",
			Help:      "Count of transport operations issued, by kind.",
		}, []string{"op"}),
		opErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pgasrt",
			Name:      "op_errors_total",
			Help:      "Count of transport operations that returned an error, by kind.",
		}, []string{"op"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "pgasrt",
			Name:      "op_latency_seconds",
			Help:      "Per-operation latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"}),
		barriers: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pgasrt",
			Name:      "barriers_total",
			Help:      "Count of barrier entries by this image.",
		}),
		registry: reg,
	}
	reg.MustRegister(r.ops, r.opErrors, r.latency, r.barriers)
	return r, reg
}

// Observe records one call to op, its error (nil or not), and its
// duration since start. Safe to call on a nil *Recorder.
func (r *Recorder) Observe(op string, start time.Time, err error) {
	if r == nil {
		return
	}
	r.ops.WithLabelValues(op).Inc()
	if err != nil {
		r.opErrors.WithLabelValues(op).Inc()
	}
	r.latency.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

// Barrier records one barrier entry. Safe to call on a nil *Recorder.
func (r *Recorder) Barrier() {
	if r == nil {
		return
	}
	r.barriers.Inc()
}
