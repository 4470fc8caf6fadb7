package ingress

import "github.com/prometheus/client_golang/prometheus"

var (
	ConnectedClients = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "ingress_connected_clients",
		Help: "Number of currently registered client connections",
	})

	EventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ingress_events_total",
		Help: "Total events pushed to the event queue by type",
	}, []string{"type"})

	MessagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ingress_messages_total",
		Help: "Total framed lines by detected payload format",
	}, []string{"format"})

	BytesReceived = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ingress_bytes_received_total",
		Help: "Total bytes read from client connections",
	})

	EventQueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "ingress_event_queue_depth",
		Help: "Events waiting to be drained",
	})

	SessionDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "ingress_session_duration_seconds",
		Help:    "Lifetime of client sessions",
		Buckets: prometheus.ExponentialBuckets(0.1, 4, 8),
	})
)

func init() {
	prometheus.MustRegister(ConnectedClients)
	prometheus.MustRegister(EventsTotal)
	prometheus.MustRegister(MessagesTotal)
	prometheus.MustRegister(BytesReceived)
	prometheus.MustRegister(EventQueueDepth)
	prometheus.MustRegister(SessionDuration)
}
