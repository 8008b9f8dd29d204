// Package metrics holds the Prometheus instruments of the federation
// engine. A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry *prometheus.Registry

	InboxActivities  *prometheus.CounterVec
	Deliveries       *prometheus.CounterVec
	DeliveryLatency  prometheus.Histogram
	DeliveryQueue    prometheus.Gauge
	RemoteFetches    *prometheus.CounterVec
	TimelineEntries  *prometheus.CounterVec
	FanOutRecipients prometheus.Histogram
}

// New registers every instrument on a fresh registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,
		InboxActivities: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pubengine_inbox_activities_total",
			Help: "Inbound activities by type and result",
		}, []string{"type", "result"}),
		Deliveries: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pubengine_deliveries_total",
			Help: "Outbound deliveries by result",
		}, []string{"result"}),
		DeliveryLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "pubengine_delivery_latency_seconds",
			Help:    "Time spent delivering one activity to one inbox",
			Buckets: prometheus.DefBuckets,
		}),
		DeliveryQueue: factory.NewGauge(prometheus.GaugeOpts{
			Name: "pubengine_delivery_queue_pending",
			Help: "Deliveries due for retry in the last queue pass",
		}),
		RemoteFetches: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pubengine_remote_fetches_total",
			Help: "Remote fetches by kind and outcome",
		}, []string{"kind", "outcome"}),
		TimelineEntries: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pubengine_timeline_entries_total",
			Help: "Timeline entries written by fan-out",
		}, []string{"timeline"}),
		FanOutRecipients: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "pubengine_fanout_recipients",
			Help:    "Local recipients considered per fanned-out status",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10),
		}),
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.HandlerFor(prometheus.NewRegistry(), promhttp.HandlerOpts{})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveInbox(activityType, result string) {
	if m == nil {
		return
	}
	m.InboxActivities.WithLabelValues(activityType, result).Inc()
}

func (m *Metrics) ObserveDelivery(result string, took time.Duration) {
	if m == nil {
		return
	}
	m.Deliveries.WithLabelValues(result).Inc()
	m.DeliveryLatency.Observe(took.Seconds())
}

func (m *Metrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.DeliveryQueue.Set(float64(n))
}

func (m *Metrics) ObserveFetch(kind, outcome string) {
	if m == nil {
		return
	}
	m.RemoteFetches.WithLabelValues(kind, outcome).Inc()
}

func (m *Metrics) ObserveTimelineEntry(timeline string) {
	if m == nil {
		return
	}
	m.TimelineEntries.WithLabelValues(timeline).Inc()
}

func (m *Metrics) ObserveFanOut(recipients int) {
	if m == nil {
		return
	}
	m.FanOutRecipients.Observe(float64(recipients))
}
