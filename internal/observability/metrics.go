package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects the runtime's Prometheus series. Register once at startup;
// the vectors use promauto and the default registry, exposed by promhttp.
type Metrics struct {
	// ActiveSessions tracks sessions with a live agent.
	ActiveSessions prometheus.Gauge

	// TurnDuration measures full chat turns in seconds.
	TurnDuration prometheus.Histogram

	// TurnCounter counts chat turns by outcome (done|error|timeout|busy).
	TurnCounter *prometheus.CounterVec

	// EnvelopesSent counts outbound envelopes by type.
	EnvelopesSent *prometheus.CounterVec

	// ToolExecutions counts tool runs by tool and status (success|error|denied).
	ToolExecutions *prometheus.CounterVec

	// ToolDuration measures tool execution time by tool.
	ToolDuration *prometheus.HistogramVec

	// PolicyDenials counts gate denials by rule.
	PolicyDenials *prometheus.CounterVec

	// DevServerStarts counts dev-server launches by status (ready|failed).
	DevServerStarts *prometheus.CounterVec

	// HookErrors counts hook failures by hook name.
	HookErrors *prometheus.CounterVec

	// CorrectionCycles counts self-correction nudges injected after failed builds.
	CorrectionCycles prometheus.Counter

	// SessionsSwept counts sessions removed by the periodic sweep.
	SessionsSwept prometheus.Counter
}

// NewMetrics creates and registers all series. Call once at startup.
func NewMetrics() *Metrics {
	return &Metrics{
		ActiveSessions: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "forge_active_sessions",
			Help: "Current number of sessions with a live agent",
		}),
		TurnDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "forge_turn_duration_seconds",
			Help:    "Duration of full chat turns in seconds",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}),
		TurnCounter: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "forge_turns_total",
			Help: "Total chat turns by outcome",
		}, []string{"outcome"}),
		EnvelopesSent: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "forge_envelopes_sent_total",
			Help: "Total envelopes written to client channels by type",
		}, []string{"type"}),
		ToolExecutions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "forge_tool_executions_total",
			Help: "Total tool executions by tool and status",
		}, []string{"tool", "status"}),
		ToolDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "forge_tool_execution_duration_seconds",
			Help:    "Duration of tool executions in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
		}, []string{"tool"}),
		PolicyDenials: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "forge_policy_denials_total",
			Help: "Total tool calls denied by the policy gate, by rule",
		}, []string{"rule"}),
		DevServerStarts: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "forge_dev_server_starts_total",
			Help: "Total dev-server launches by readiness outcome",
		}, []string{"status"}),
		HookErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "forge_hook_errors_total",
			Help: "Total hook failures by hook name",
		}, []string{"hook"}),
		CorrectionCycles: promauto.NewCounter(prometheus.CounterOpts{
			Name: "forge_correction_cycles_total",
			Help: "Total build-failure correction messages injected",
		}),
		SessionsSwept: promauto.NewCounter(prometheus.CounterOpts{
			Name: "forge_sessions_swept_total",
			Help: "Total sessions removed by the periodic sweep",
		}),
	}
}

// RecordToolExecution records one tool run.
func (m *Metrics) RecordToolExecution(tool, status string, seconds float64) {
	m.ToolExecutions.WithLabelValues(tool, status).Inc()
	m.ToolDuration.WithLabelValues(tool).Observe(seconds)
}

// RecordTurn records one completed turn.
func (m *Metrics) RecordTurn(outcome string, seconds float64) {
	m.TurnCounter.WithLabelValues(outcome).Inc()
	m.TurnDuration.Observe(seconds)
}

// RecordEnvelope records one outbound envelope.
func (m *Metrics) RecordEnvelope(envelopeType string) {
	m.EnvelopesSent.WithLabelValues(envelopeType).Inc()
}

// RecordDenial records one policy denial.
func (m *Metrics) RecordDenial(rule string) {
	m.PolicyDenials.WithLabelValues(rule).Inc()
}
