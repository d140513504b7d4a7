// Package metrics exposes Prometheus instruments for the delta pipeline.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Event outcomes.
const (
	OutcomeFirstSight = "first_sight"
	OutcomeDelta      = "delta"
	OutcomeReset      = "reset"
	OutcomeMalformed  = "malformed"
	OutcomeError      = "error"
)

// Metrics groups the pipeline instruments. A nil *Metrics is valid and
// records nothing, so components can be built without a registry.
type Metrics struct {
	reg *prometheus.Registry

	events          *prometheus.CounterVec
	sinkFailures    *prometheus.CounterVec
	deleteFailures  prometheus.Counter
	dispatchLatency prometheus.Histogram
	recordsStored   *prometheus.CounterVec
}

// New registers the instruments on a fresh registry together with the Go
// runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		reg: reg,
		events: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "deltafeed",
			Name:      "events_total",
			Help:      "Symbol events processed, by outcome.",
		}, []string{"outcome"}),
		sinkFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "deltafeed",
			Name:      "sink_failures_total",
			Help:      "Delta records that could not be sent to the message sink.",
		}, []string{"sink"}),
		deleteFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: "deltafeed",
			Name:      "deletion_failures_total",
			Help:      "Blob deletion requests that failed.",
		}),
		dispatchLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: "deltafeed",
			Name:      "dispatch_duration_seconds",
			Help:      "End-to-end dispatch latency per event.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14),
		}),
		recordsStored: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "deltafeed",
			Name:      "records_stored_total",
			Help:      "Delta records consumed from the queue, by result.",
		}, []string{"result"}),
	}
}

// Event counts one processed event.
func (m *Metrics) Event(outcome string) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(outcome).Inc()
}

// SinkFailure counts one failed sink send.
func (m *Metrics) SinkFailure(sink string) {
	if m == nil {
		return
	}
	m.sinkFailures.WithLabelValues(sink).Inc()
}

// DeleteFailure counts one failed deletion request.
func (m *Metrics) DeleteFailure() {
	if m == nil {
		return
	}
	m.deleteFailures.Inc()
}

// ObserveDispatch records the latency of one dispatch.
func (m *Metrics) ObserveDispatch(d time.Duration) {
	if m == nil {
		return
	}
	m.dispatchLatency.Observe(d.Seconds())
}

// RecordStored counts a consumed record; result is "inserted", "duplicate"
// or "rejected".
func (m *Metrics) RecordStored(result string) {
	if m == nil {
		return
	}
	m.recordsStored.WithLabelValues(result).Inc()
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.reg
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}
