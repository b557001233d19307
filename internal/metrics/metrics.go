package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors for the coordinator.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	SessionsStarted    *prometheus.CounterVec
	SessionsFinished   *prometheus.CounterVec
	LateSignalsDropped *prometheus.CounterVec
	ProgressEvents     prometheus.Counter
	ScheduleFirings    *prometheus.CounterVec
	EngineCommands     *prometheus.CounterVec
}

// New registers all collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		SessionsStarted: f.NewCounterVec(prometheus.CounterOpts{
			Name: "stickscan_sessions_started_total",
			Help: "Sessions started, by kind and trigger.",
		}, []string{"kind", "trigger"}),
		SessionsFinished: f.NewCounterVec(prometheus.CounterOpts{
			Name: "stickscan_sessions_finished_total",
			Help: "Sessions that reached a terminal state, by kind and outcome.",
		}, []string{"kind", "outcome"}),
		LateSignalsDropped: f.NewCounterVec(prometheus.CounterOpts{
			Name: "stickscan_late_signals_dropped_total",
			Help: "Signals received after a session was already finished.",
		}, []string{"channel"}),
		ProgressEvents: f.NewCounter(prometheus.CounterOpts{
			Name: "stickscan_progress_events_total",
			Help: "Progress events applied to a running session.",
		}),
		ScheduleFirings: f.NewCounterVec(prometheus.CounterOpts{
			Name: "stickscan_schedule_firings_total",
			Help: "Scheduled database update firings, by result.",
		}, []string{"result"}),
		EngineCommands: f.NewCounterVec(prometheus.CounterOpts{
			Name: "stickscan_engine_commands_total",
			Help: "Engine commands issued, by command and result.",
		}, []string{"command", "result"}),
	}
}

func (m *Metrics) SessionStarted(kind, trigger string) {
	if m == nil {
		return
	}
	m.SessionsStarted.WithLabelValues(kind, trigger).Inc()
}

func (m *Metrics) SessionFinished(kind, outcome string) {
	if m == nil {
		return
	}
	m.SessionsFinished.WithLabelValues(kind, outcome).Inc()
}

func (m *Metrics) LateSignal(channel string) {
	if m == nil {
		return
	}
	m.LateSignalsDropped.WithLabelValues(channel).Inc()
}

func (m *Metrics) Progress() {
	if m == nil {
		return
	}
	m.ProgressEvents.Inc()
}

// ScheduleFired records a firing; result is "started", "skipped" or "failed".
func (m *Metrics) ScheduleFired(result string) {
	if m == nil {
		return
	}
	m.ScheduleFirings.WithLabelValues(result).Inc()
}

func (m *Metrics) EngineCommand(command string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.EngineCommands.WithLabelValues(command, result).Inc()
}
