package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	Turns              *prometheus.CounterVec
	TaskTransitions    *prometheus.CounterVec
	SlotAttempts       *prometheus.CounterVec
	CollaboratorErrors *prometheus.CounterVec
	StorageFailures    prometheus.Counter
	ActiveTasks        prometheus.Gauge
	WSMessages         *prometheus.CounterVec
	ActionDeliveries   *prometheus.CounterVec
	TurnLatency        prometheus.Histogram

	stages *stageWindow
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		Turns: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Processed dialogue turns by outcome.",
		}, []string{"outcome"}),
		TaskTransitions: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_transitions_total",
			Help:      "Task instance transitions by target status.",
		}, []string{"status"}),
		SlotAttempts: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "slot_attempts_total",
			Help:      "Slot fill attempts by outcome.",
		}, []string{"outcome"}),
		CollaboratorErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "collaborator_errors_total",
			Help:      "Collaborator errors by collaborator.",
		}, []string{"collaborator"}),
		StorageFailures: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "storage_failures_total",
			Help:      "Session saves that failed.",
		}),
		ActiveTasks: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_tasks",
			Help:      "Task instances started and not yet terminal in this process.",
		}),
		WSMessages: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_messages_total",
			Help:      "WebSocket messages by direction and type.",
		}, []string{"direction", "type"}),
		ActionDeliveries: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "action_deliveries_total",
			Help:      "Outbound action deliveries by notifier and result.",
		}, []string{"notifier", "result"}),
		TurnLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "turn_latency_ms",
			Help:      "End-to-end turn latency in milliseconds.",
			Buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		}),
		stages: newStageWindow(256),
	}
}

func (m *Metrics) ObserveTurn(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.Turns.WithLabelValues(outcome).Inc()
	if d > 0 {
		m.TurnLatency.Observe(float64(d.Milliseconds()))
		m.stages.Observe("turn_total", durationMS(d))
	}
}

// ObserveStage records one collaborator call in the latency window.
func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.stages.Observe(stage, durationMS(d))
}

func (m *Metrics) ObserveTaskTransition(status string) {
	if m == nil {
		return
	}
	m.TaskTransitions.WithLabelValues(status).Inc()
	switch status {
	case "completed", "cancelled", "failed":
		m.ActiveTasks.Dec()
	}
}

func (m *Metrics) ObserveTaskStarted() {
	if m == nil {
		return
	}
	m.TaskTransitions.WithLabelValues("started").Inc()
	m.ActiveTasks.Inc()
}

func (m *Metrics) ObserveSlotAttempt(outcome string) {
	if m == nil {
		return
	}
	m.SlotAttempts.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveCollaboratorError(collaborator string) {
	if m == nil {
		return
	}
	m.CollaboratorErrors.WithLabelValues(collaborator).Inc()
}

func (m *Metrics) ObserveStorageFailure() {
	if m == nil {
		return
	}
	m.StorageFailures.Inc()
}

func (m *Metrics) ObserveWSMessage(direction, messageType string) {
	if m == nil {
		return
	}
	m.WSMessages.WithLabelValues(direction, messageType).Inc()
}

func (m *Metrics) ObserveActionDelivery(notifier string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.ActionDeliveries.WithLabelValues(notifier, result).Inc()
}

// SnapshotStages returns percentile stats for the recent stage window.
func (m *Metrics) SnapshotStages() StageSnapshot {
	if m == nil {
		return newStageWindow(0).Snapshot()
	}
	return m.stages.Snapshot()
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

func durationMS(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000
}

// ResetStages clears the latency window.
func (m *Metrics) ResetStages() {
	if m == nil {
		return
	}
	m.stages.Reset()
}
