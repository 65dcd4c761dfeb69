package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

const namespace = "aero_webrtc_signaling"

// Event names recorded by the registry, relay and transports.
const (
	ConnectionRegistered   = "connection_registered"
	ConnectionUnregistered = "connection_unregistered"
	ConnectionReaped       = "connection_reaped"
	SessionPaired          = "session_paired"
	SessionTornDown        = "session_torn_down"
	MessageRelayed         = "message_relayed"

	DropReasonDestinationGone = "drop_destination_gone"
	DropReasonMailboxFull     = "drop_mailbox_full"
	DropReasonRateLimited     = "rate_limited"
	DropReasonTooManyConns    = "too_many_connections"
)

// Metrics is a concurrency-safe set of Prometheus collectors owned by one
// relay instance.
//
// All methods are safe to call on a nil receiver so components can be built
// without metrics in tests.
type Metrics struct {
	registry *prometheus.Registry

	events            *prometheus.CounterVec
	rejections        *prometheus.CounterVec
	relayedByType     *prometheus.CounterVec
	activeConnections *prometheus.GaugeVec
	activeSessions    prometheus.Gauge
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Internal event counters.",
		}, []string{"event"}),
		rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rejections_total",
			Help:      "Signaling requests rejected, by error code.",
		}, []string{"code"}),
		relayedByType: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_relayed_total",
			Help:      "Messages enqueued into a destination mailbox, by message type.",
		}, []string{"type"}),
		activeConnections: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_connections",
			Help:      "Currently registered connections, by transport.",
		}, []string{"transport"}),
		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Currently paired private-mode sessions.",
		}),
	}
	m.registry.MustRegister(
		m.events,
		m.rejections,
		m.relayedByType,
		m.activeConnections,
		m.activeSessions,
	)
	return m
}

// Registry returns the Prometheus registry holding this instance's collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) Inc(event string) {
	m.Add(event, 1)
}

func (m *Metrics) Add(event string, n uint64) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(event).Add(float64(n))
}

// Get returns the current value of an event counter.
func (m *Metrics) Get(event string) uint64 {
	if m == nil {
		return 0
	}
	return uint64(counterValue(m.events.WithLabelValues(event)))
}

func (m *Metrics) Rejected(code string) {
	if m == nil {
		return
	}
	m.rejections.WithLabelValues(code).Inc()
}

func (m *Metrics) Rejections(code string) uint64 {
	if m == nil {
		return 0
	}
	return uint64(counterValue(m.rejections.WithLabelValues(code)))
}

func (m *Metrics) Relayed(msgType string) {
	if m == nil {
		return
	}
	m.relayedByType.WithLabelValues(msgType).Inc()
	m.events.WithLabelValues(MessageRelayed).Inc()
}

func (m *Metrics) ConnectionOpened(transport string) {
	if m == nil {
		return
	}
	m.activeConnections.WithLabelValues(transport).Inc()
	m.events.WithLabelValues(ConnectionRegistered).Inc()
}

func (m *Metrics) ConnectionClosed(transport string) {
	if m == nil {
		return
	}
	m.activeConnections.WithLabelValues(transport).Dec()
	m.events.WithLabelValues(ConnectionUnregistered).Inc()
}

func (m *Metrics) SessionOpened() {
	if m == nil {
		return
	}
	m.activeSessions.Inc()
	m.events.WithLabelValues(SessionPaired).Inc()
}

func (m *Metrics) SessionClosed() {
	if m == nil {
		return
	}
	m.activeSessions.Dec()
	m.events.WithLabelValues(SessionTornDown).Inc()
}

func counterValue(c prometheus.Counter) float64 {
	var out dto.Metric
	if err := c.Write(&out); err != nil || out.Counter == nil {
		return 0
	}
	return out.Counter.GetValue()
}
