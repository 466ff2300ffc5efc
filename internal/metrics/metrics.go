// Package metrics: Prometheus-метрики чата, отдаются на /metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "chat"

var (
	MessagesSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "messages_sent_total",
		Help:      "Persisted messages by room type.",
	}, []string{"room_type"})

	SendRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "send_rejected_total",
		Help:      "Rejected send requests by reason.",
	}, []string{"reason"})

	ReadReceipts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "read_receipts_total",
		Help:      "Read cursors that moved forward.",
	})

	NotificationsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "notifications_created_total",
		Help:      "Persisted in-app notifications.",
	})

	NotificationFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "notification_failures_total",
		Help:      "Notifications that could not be persisted.",
	})

	PushFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "push_failures_total",
		Help:      "Push adapter errors and timeouts by adapter.",
	}, []string{"adapter"})

	WSConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "ws_connections",
		Help:      "Open websocket connections.",
	})

	BroadcastDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "broadcast_dropped_total",
		Help:      "Outbound events dropped because a client buffer was full.",
	})
)

// Handler отдаёт метрики в формате Prometheus.
func Handler() http.Handler {
	return promhttp.Handler()
}
