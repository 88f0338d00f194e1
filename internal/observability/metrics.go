package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service.
type Metrics struct {
	ActiveConnections prometheus.Gauge
	ConnectedUsers    prometheus.Gauge
	SessionEvents     *prometheus.CounterVec
	WSMessages        *prometheus.CounterVec
	Deliveries        *prometheus.CounterVec
	TaskMutations     *prometheus.CounterVec
	MutationLatency   *prometheus.HistogramVec
	RelayEvents       *prometheus.CounterVec

	window *latencyWindow
}

func NewMetrics(namespace string) *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer, namespace)
}

// NewMetricsWith registers the instruments on reg. Tests pass a private
// registry so repeated construction does not collide.
func NewMetricsWith(reg prometheus.Registerer, namespace string) *Metrics {
	f := promauto.With(reg)
	m := &Metrics{
		ActiveConnections: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_connections",
			Help:      "Number of registered websocket connections.",
		}),
		ConnectedUsers: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connected_users",
			Help:      "Number of users with at least one registered connection.",
		}),
		SessionEvents: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_events_total",
			Help:      "Connection lifecycle events by type.",
		}, []string{"event"}),
		WSMessages: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_messages_total",
			Help:      "WebSocket messages by direction and type.",
		}, []string{"direction", "type"}),
		Deliveries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_total",
			Help:      "Broadcast deliveries by result.",
		}, []string{"result"}),
		TaskMutations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_mutations_total",
			Help:      "Task operations by operation and outcome.",
		}, []string{"op", "outcome"}),
		MutationLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "task_mutation_duration_ms",
			Help:      "Task operation latency in milliseconds, from authorization to broadcast.",
			Buckets:   []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
		}, []string{"op"}),
		RelayEvents: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relay_events_total",
			Help:      "Redis relay publish/receive results.",
		}, []string{"direction", "result"}),
	}
	m.window = newLatencyWindow(256)
	return m
}

func (m *Metrics) ObserveDelivery(result string) {
	if m == nil {
		return
	}
	m.Deliveries.WithLabelValues(result).Inc()
	m.window.countDelivery(result)
}

func (m *Metrics) ObserveMutation(op, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.TaskMutations.WithLabelValues(op, outcome).Inc()
	m.MutationLatency.WithLabelValues(op).Observe(float64(d.Milliseconds()))
	m.window.observe(op, d)
}

// SnapshotLatency reports recent per-operation latency percentiles.
func (m *Metrics) SnapshotLatency() LatencySnapshot {
	if m == nil {
		return newLatencyWindow(0).snapshot()
	}
	return m.window.snapshot()
}

func (m *Metrics) ObserveSessionEvent(event string) {
	if m == nil {
		return
	}
	m.SessionEvents.WithLabelValues(event).Inc()
}

func (m *Metrics) ObserveWSMessage(direction, kind string) {
	if m == nil {
		return
	}
	m.WSMessages.WithLabelValues(direction, kind).Inc()
}

func (m *Metrics) ObserveRelay(direction, result string) {
	if m == nil {
		return
	}
	m.RelayEvents.WithLabelValues(direction, result).Inc()
}

func (m *Metrics) SetPresence(connections, users int) {
	if m == nil {
		return
	}
	m.ActiveConnections.Set(float64(connections))
	m.ConnectedUsers.Set(float64(users))
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
