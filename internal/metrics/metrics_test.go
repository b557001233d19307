package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics_Counters(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.SessionStarted("scan", "manual")
	m.SessionFinished("scan", "clean")
	m.LateSignal("progress")
	m.LateSignal("progress")
	m.Progress()
	m.ScheduleFired("skipped")
	m.EngineCommand("start_scanner", nil)
	m.EngineCommand("start_scanner", errors.New("boom"))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.SessionsStarted.WithLabelValues("scan", "manual")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SessionsFinished.WithLabelValues("scan", "clean")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.LateSignalsDropped.WithLabelValues("progress")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ProgressEvents))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ScheduleFirings.WithLabelValues("skipped")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EngineCommands.WithLabelValues("start_scanner", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EngineCommands.WithLabelValues("start_scanner", "error")))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.SessionStarted("scan", "manual")
		m.SessionFinished("scan", "clean")
		m.LateSignal("progress")
		m.Progress()
		m.ScheduleFired("started")
		m.EngineCommand("x", nil)
	})
}
