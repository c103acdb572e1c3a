// Package metrics instruments the supervisor and the services with
// Prometheus collectors.
//
// Every method is safe on a nil *Metrics, so instrumentation can be left out
// entirely by passing nil.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "mqtt4w"

// Metrics holds the collectors of the bridge.
type Metrics struct {
	registry *prometheus.Registry

	EpochsStarted      prometheus.Counter
	SupervisorState    prometheus.Gauge
	EventsPublished    *prometheus.CounterVec
	PublishFailures    prometheus.Counter
	PublishLatency     prometheus.Histogram
	ServiceFailures    *prometheus.CounterVec
	DebounceSuperseded *prometheus.CounterVec
	CommandsHandled    *prometheus.CounterVec
}

// New creates the collectors and registers them, together with the Go
// runtime and process collectors, on a private registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		EpochsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "supervisor",
			Name:      "epochs_total",
			Help:      "Total number of broker connection epochs started",
		}),
		SupervisorState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "supervisor",
			Name:      "state",
			Help:      "Supervisor state (0=disconnected, 1=connecting, 2=active, 3=backoff, 4=terminated)",
		}),
		EventsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "published_total",
			Help:      "Total number of events published",
		}, []string{"kind"}),
		PublishFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "publish_failures_total",
			Help:      "Total number of publishes that failed or timed out",
		}),
		PublishLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "publish_latency_seconds",
			Help:      "Delay between the observation of an event and its publication",
			Buckets:   prometheus.DefBuckets,
		}),
		ServiceFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "service",
			Name:      "failures_total",
			Help:      "Total number of services that stopped because of a failure",
		}, []string{"service"}),
		DebounceSuperseded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "service",
			Name:      "debounce_superseded_total",
			Help:      "Total number of debounced values replaced before publication",
		}, []string{"service"}),
		CommandsHandled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "commands",
			Name:      "handled_total",
			Help:      "Total number of commands received",
		}, []string{"status"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.EpochsStarted,
		m.SupervisorState,
		m.EventsPublished,
		m.PublishFailures,
		m.PublishLatency,
		m.ServiceFailures,
		m.DebounceSuperseded,
		m.CommandsHandled,
	)
	return m
}

// Registry returns the registry holding every collector.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// RecordEpoch counts a new connection epoch.
func (m *Metrics) RecordEpoch() {
	if m == nil {
		return
	}
	m.EpochsStarted.Inc()
}

// RecordState records the supervisor state.
func (m *Metrics) RecordState(state int) {
	if m == nil {
		return
	}
	m.SupervisorState.Set(float64(state))
}

// RecordPublished counts a published event of kind state, discovery or
// availability, and observes how long ago it was produced.
func (m *Metrics) RecordPublished(kind string, observed time.Time) {
	if m == nil {
		return
	}
	m.EventsPublished.WithLabelValues(kind).Inc()
	if !observed.IsZero() {
		m.PublishLatency.Observe(time.Since(observed).Seconds())
	}
}

// RecordPublishFailure counts a failed publish.
func (m *Metrics) RecordPublishFailure() {
	if m == nil {
		return
	}
	m.PublishFailures.Inc()
}

// RecordServiceFailure counts a service that stopped on error.
func (m *Metrics) RecordServiceFailure(service string) {
	if m == nil {
		return
	}
	m.ServiceFailures.WithLabelValues(service).Inc()
}

// RecordSuperseded counts a debounced value replaced before publication.
func (m *Metrics) RecordSuperseded(service, _ string) {
	if m == nil {
		return
	}
	m.DebounceSuperseded.WithLabelValues(service).Inc()
}

// RecordCommand counts a handled command.
func (m *Metrics) RecordCommand(ok bool) {
	if m == nil {
		return
	}
	status := "ok"
	if !ok {
		status = "error"
	}
	m.CommandsHandled.WithLabelValues(status).Inc()
}
