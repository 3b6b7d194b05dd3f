// Package metrics exports engine metrics to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aretw0/quipu/pkg/core"
)

// Prometheus implements core.MetricsCollector on a private registry.
type Prometheus struct {
	registry *prometheus.Registry

	requests  *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	published *prometheus.CounterVec
	delivered *prometheus.CounterVec
	drops     *prometheus.CounterVec
	vectorOps *prometheus.HistogramVec
	vectors   *prometheus.CounterVec
}

// NewPrometheus registers the quipu metrics, plus the Go runtime and process
// collectors, on a fresh registry.
func NewPrometheus() *Prometheus {
	p := &Prometheus{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "quipu_requests_total",
			Help: "Protocol requests by collection, event and status.",
		}, []string{"collection", "event", "status"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "quipu_request_duration_seconds",
			Help:    "Latency of protocol requests.",
			Buckets: prometheus.DefBuckets,
		}, []string{"event", "status"}),
		published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "quipu_events_published_total",
			Help: "Events handed to the bus.",
		}, []string{"collection", "event"}),
		delivered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "quipu_events_delivered_total",
			Help: "Event deliveries to subscribers.",
		}, []string{"collection"}),
		drops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "quipu_subscribers_dropped_total",
			Help: "Subscribers disconnected for falling behind.",
		}, []string{"collection"}),
		vectorOps: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "quipu_vector_operation_duration_seconds",
			Help:    "Latency of vector operations.",
			Buckets: prometheus.DefBuckets,
		}, []string{"op", "status"}),
		vectors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "quipu_vector_items_total",
			Help: "Texts or ids processed by vector operations.",
		}, []string{"op", "namespace"}),
	}

	p.registry.MustRegister(
		p.requests,
		p.latency,
		p.published,
		p.delivered,
		p.drops,
		p.vectorOps,
		p.vectors,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return p
}

func status(err error) string {
	if err == nil {
		return "success"
	}
	return string(core.KindOf(err))
}

// RecordMutation implements core.MetricsCollector.
func (p *Prometheus) RecordMutation(collection string, event core.EventType, d time.Duration, err error) {
	s := status(err)
	p.requests.WithLabelValues(collection, string(event), s).Inc()
	p.latency.WithLabelValues(string(event), s).Observe(d.Seconds())
}

// RecordPublish implements core.MetricsCollector.
func (p *Prometheus) RecordPublish(collection string, event core.EventType, delivered int) {
	p.published.WithLabelValues(collection, string(event)).Inc()
	p.delivered.WithLabelValues(collection).Add(float64(delivered))
}

// RecordDrop implements core.MetricsCollector.
func (p *Prometheus) RecordDrop(collection string) {
	p.drops.WithLabelValues(collection).Inc()
}

// RecordVector implements core.MetricsCollector.
func (p *Prometheus) RecordVector(op, namespace string, items int, d time.Duration, err error) {
	p.vectorOps.WithLabelValues(op, status(err)).Observe(d.Seconds())
	if err == nil {
		p.vectors.WithLabelValues(op, namespace).Add(float64(items))
	}
}

// Registry returns the underlying registry.
func (p *Prometheus) Registry() *prometheus.Registry { return p.registry }

// Handler serves the registry in the Prometheus exposition format.
func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

var _ core.MetricsCollector = (*Prometheus)(nil)
