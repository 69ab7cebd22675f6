package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetricsRecord(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ScoreUpdate("increment_a")
	m.ScoreUpdate("increment_a")
	m.Conflict("score")
	m.Assignment(true)
	m.Assignment(false)
	m.QueueLength(4)
	m.ChipsAwarded(3)
	m.ChipsAwarded(0)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.scoreUpdates.WithLabelValues("increment_a")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.conflicts.WithLabelValues("score")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.assignments.WithLabelValues("refused")))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.queueLength))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.chipsAwarded))
}

func TestNilMetricsAreNoops(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ScoreUpdate("undo")
		m.Conflict("table")
		m.Assignment(true)
		m.MatchCompleted()
		m.QueueLength(1)
		m.NotifyFailure()
		m.AuditFailure()
		m.ChipsAwarded(2)
	})
}
