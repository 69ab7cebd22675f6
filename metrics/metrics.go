package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the engine's collectors. A nil *Metrics records nothing.
type Metrics struct {
	scoreUpdates     *prometheus.CounterVec
	conflicts        *prometheus.CounterVec
	assignments      *prometheus.CounterVec
	matchesCompleted prometheus.Counter
	queueLength      prometheus.Gauge
	notifyFailures   prometheus.Counter
	auditFailures    prometheus.Counter
	chipsAwarded     prometheus.Counter
}

func New(registry prometheus.Registerer) *Metrics {
	m := &Metrics{
		scoreUpdates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tournament_engine",
			Name:      "score_updates_total",
			Help:      "Accepted score actions by kind.",
		}, []string{"action"}),
		conflicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tournament_engine",
			Name:      "conflicts_total",
			Help:      "Writes rejected by a revision or version check.",
		}, []string{"operation"}),
		assignments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tournament_engine",
			Name:      "table_assignments_total",
			Help:      "Table assignment attempts by outcome.",
		}, []string{"outcome"}),
		matchesCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tournament_engine",
			Name:      "matches_completed_total",
			Help:      "Matches that reached a winner, walkovers included.",
		}),
		queueLength: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "tournament_engine",
			Name:      "ready_queue_length",
			Help:      "Entries in the most recently computed ready queue.",
		}),
		notifyFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tournament_engine",
			Name:      "notify_failures_total",
			Help:      "Notifications that failed or panicked.",
		}),
		auditFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tournament_engine",
			Name:      "audit_append_failures_total",
			Help:      "Score audit entries that could not be written.",
		}),
		chipsAwarded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tournament_engine",
			Name:      "chips_awarded_total",
			Help:      "Chips granted by completed matches.",
		}),
	}
	registry.MustRegister(
		m.scoreUpdates, m.conflicts, m.assignments, m.matchesCompleted,
		m.queueLength, m.notifyFailures, m.auditFailures, m.chipsAwarded,
	)
	return m
}

func (m *Metrics) ScoreUpdate(action string) {
	if m == nil {
		return
	}
	m.scoreUpdates.WithLabelValues(action).Inc()
}

func (m *Metrics) Conflict(operation string) {
	if m == nil {
		return
	}
	m.conflicts.WithLabelValues(operation).Inc()
}

func (m *Metrics) Assignment(assigned bool) {
	if m == nil {
		return
	}
	outcome := "refused"
	if assigned {
		outcome = "assigned"
	}
	m.assignments.WithLabelValues(outcome).Inc()
}

func (m *Metrics) MatchCompleted() {
	if m == nil {
		return
	}
	m.matchesCompleted.Inc()
}

func (m *Metrics) QueueLength(n int) {
	if m == nil {
		return
	}
	m.queueLength.Set(float64(n))
}

func (m *Metrics) NotifyFailure() {
	if m == nil {
		return
	}
	m.notifyFailures.Inc()
}

func (m *Metrics) AuditFailure() {
	if m == nil {
		return
	}
	m.auditFailures.Inc()
}

func (m *Metrics) ChipsAwarded(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.chipsAwarded.Add(float64(n))
}
