package chat

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the chat subsystem's Prometheus collectors.
type Metrics struct {
	SessionsActive  prometheus.Gauge
	MessagesStored  prometheus.Counter
	Deliveries      prometheus.Counter
	DeliveryDrops   prometheus.Counter
	HandlerFailures *prometheus.CounterVec
}

// NewMetrics registers the chat collectors on reg. A nil reg uses the default
// registerer (convenient in tests via prometheus.NewRegistry).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		SessionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "gymhub",
			Subsystem: "chat",
			Name:      "sessions_active",
			Help:      "Currently open websocket sessions.",
		}),
		MessagesStored: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "gymhub",
			Subsystem: "chat",
			Name:      "messages_stored_total",
			Help:      "Messages accepted and persisted.",
		}),
		Deliveries: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "gymhub",
			Subsystem: "chat",
			Name:      "deliveries_total",
			Help:      "Envelopes enqueued to live sessions.",
		}),
		DeliveryDrops: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "gymhub",
			Subsystem: "chat",
			Name:      "delivery_drops_total",
			Help:      "Envelopes dropped due to backpressure or closing sessions.",
		}),
		HandlerFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gymhub",
			Subsystem: "chat",
			Name:      "handler_failures_total",
			Help:      "Gateway event handlers that degraded to their fallback response.",
		}, []string{"event"}),
	}
}
