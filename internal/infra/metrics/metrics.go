// Package metrics exposes the gateway's Prometheus collectors on a private
// registry. Every recording method is safe to call on a nil *Metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "botgate"

type Metrics struct {
	registry *prometheus.Registry

	EventsPublished  *prometheus.CounterVec
	MessagesInbound  *prometheus.CounterVec
	MessagesOutbound *prometheus.CounterVec
	DeliverySeconds  *prometheus.HistogramVec
	MemoryOps        *prometheus.CounterVec
	ImportItems      *prometheus.CounterVec
	LLMRequests      *prometheus.CounterVec
	InstancesRunning prometheus.Gauge
	ToolServerUp     *prometheus.GaugeVec
}

// New registers all collectors on a fresh registry, together with the Go
// runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		EventsPublished: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bus_events_published_total",
			Help:      "Events accepted by the message bus.",
		}, []string{"type"}),
		MessagesInbound: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_inbound_total",
			Help:      "Inbound chat messages by instance and outcome.",
		}, []string{"instance", "outcome"}),
		MessagesOutbound: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_outbound_total",
			Help:      "Outbound replies by instance and delivery status.",
		}, []string{"instance", "status"}),
		DeliverySeconds: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "delivery_duration_seconds",
			Help:      "Time spent delivering one reply to the chat platform.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"instance"}),
		MemoryOps: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "memory_operations_total",
			Help:      "Memory backend calls by backend, operation and status.",
		}, []string{"backend", "op", "status"}),
		ImportItems: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "memory_import_items_total",
			Help:      "Imported memory records by outcome.",
		}, []string{"outcome"}),
		LLMRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_requests_total",
			Help:      "LLM completions by provider and status.",
		}, []string{"provider", "status"}),
		InstancesRunning: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "instances_running",
			Help:      "Bot instances currently running.",
		}),
		ToolServerUp: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tool_server_up",
			Help:      "Last health check result per tool server (1 healthy, 0 unhealthy).",
		}, []string{"server"}),
	}
}

// Registry returns the private registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) EventPublished(eventType string) {
	if m == nil {
		return
	}
	m.EventsPublished.WithLabelValues(eventType).Inc()
}

// Inbound counts an inbound message; outcome is "accepted", "denied" or "failed".
func (m *Metrics) Inbound(instance, outcome string) {
	if m == nil {
		return
	}
	m.MessagesInbound.WithLabelValues(instance, outcome).Inc()
}

func (m *Metrics) Outbound(instance, status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.MessagesOutbound.WithLabelValues(instance, status).Inc()
	m.DeliverySeconds.WithLabelValues(instance).Observe(elapsed.Seconds())
}

func (m *Metrics) MemoryOp(backend, op string, err error) {
	if m == nil {
		return
	}
	m.MemoryOps.WithLabelValues(backend, op, statusOf(err)).Inc()
}

func (m *Metrics) ImportItem(outcome string) {
	if m == nil {
		return
	}
	m.ImportItems.WithLabelValues(outcome).Inc()
}

func (m *Metrics) LLMRequest(provider string, err error) {
	if m == nil {
		return
	}
	m.LLMRequests.WithLabelValues(provider, statusOf(err)).Inc()
}

func (m *Metrics) SetInstancesRunning(n int) {
	if m == nil {
		return
	}
	m.InstancesRunning.Set(float64(n))
}

func (m *Metrics) ToolServerHealth(server string, healthy bool) {
	if m == nil {
		return
	}
	v := 0.0
	if healthy {
		v = 1
	}
	m.ToolServerUp.WithLabelValues(server).Set(v)
}

func statusOf(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
