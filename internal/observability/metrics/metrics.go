// Package metrics exposes Prometheus instrumentation for the orchestrator:
// HTTP traffic, stream lifecycle transitions, recording outcomes, and
// egress control results.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"
)

// Recorder owns the process's metric collectors. Construct one per process
// and share it across components.
type Recorder struct {
	registry *prometheus.Registry

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec

	streamTransitions *prometheus.CounterVec
	hostAdmissions    *prometheus.CounterVec
	recordingOutcomes *prometheus.CounterVec
	egressStops       *prometheus.CounterVec
	webhookEvents     *prometheus.CounterVec
}

func NewRecorder() *Recorder {
	registry := prometheus.NewRegistry()
	r := &Recorder{
		registry: registry,
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bspnode_http_requests_total",
			Help: "HTTP requests by method, route, and status code.",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "bspnode_http_request_duration_seconds",
			Help:    "HTTP request latency by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
		streamTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bspnode_stream_transitions_total",
			Help: "Stream lifecycle transitions by target state.",
		}, []string{"to"}),
		hostAdmissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bspnode_host_admissions_total",
			Help: "Host join attempts by outcome.",
		}, []string{"outcome"}),
		recordingOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bspnode_recording_outcomes_total",
			Help: "Recording terminal outcomes by status and source.",
		}, []string{"status", "source"}),
		egressStops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bspnode_egress_stops_total",
			Help: "Egress stop attempts by result.",
		}, []string{"result"}),
		webhookEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bspnode_webhook_events_total",
			Help: "Webhook events by type and disposition.",
		}, []string{"type", "disposition"}),
	}
	registry.MustRegister(
		r.httpRequests,
		r.httpDuration,
		r.streamTransitions,
		r.hostAdmissions,
		r.recordingOutcomes,
		r.egressStops,
		r.webhookEvents,
	)
	return r
}

// Handler serves the registry in Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

func (r *Recorder) ObserveHTTP(method, route string, status int, duration time.Duration) {
	r.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	r.httpDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

func (r *Recorder) StreamTransition(to string) {
	r.streamTransitions.WithLabelValues(to).Inc()
}

func (r *Recorder) HostAdmission(outcome string) {
	r.hostAdmissions.WithLabelValues(outcome).Inc()
}

func (r *Recorder) RecordingOutcome(status, source string) {
	r.recordingOutcomes.WithLabelValues(status, source).Inc()
}

func (r *Recorder) EgressStop(result string) {
	r.egressStops.WithLabelValues(result).Inc()
}

func (r *Recorder) WebhookEvent(eventType, disposition string) {
	r.webhookEvents.WithLabelValues(eventType, disposition).Inc()
}

// Gather exposes the underlying registry for tests.
func (r *Recorder) Gather() ([]*dto.MetricFamily, error) {
	return r.registry.Gather()
}
