package metrics

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/asimihsan/field_auth/pkg/gate"
)

var (
	// DecisionsTotal counts evaluated field accesses by outcome
	DecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "field_auth",
			Subsystem: "gate",
			Name:      "decisions_total",
			Help:      "Number of field authorization decisions",
		},
		[]string{"type", "field", "outcome"},
	)

	// DecisionLatency tracks time spent obtaining a decision
	DecisionLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "field_auth",
			Subsystem: "gate",
			Name:      "decision_latency_seconds",
			Help:      "Time spent evaluating authorize functions",
			Buckets:   []float64{.0001, .0005, .001, .005, .01, .05, .1, .5, 1},
		},
		[]string{"type", "field"},
	)

	// FaultsTotal counts misconfiguration and contract violations
	FaultsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "field_auth",
			Subsystem: "gate",
			Name:      "faults_total",
			Help:      "Number of authorization faults that are not plain denials",
		},
		[]string{"kind"},
	)

	// RemoteLatency tracks round trips to an external decision point
	RemoteLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "field_auth",
			Subsystem: "remote",
			Name:      "request_latency_seconds",
			Help:      "Time spent waiting for a remote decision point",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"type", "field"},
	)

	// RemoteErrors counts failed remote decision requests
	RemoteErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "field_auth",
			Subsystem: "remote",
			Name:      "request_errors_total",
			Help:      "Number of failed requests to a remote decision point",
		},
		[]string{"type", "field", "reason"},
	)
)

// MustRegister registers all metrics with the default Prometheus registry
func MustRegister() {
	MustRegisterWith(prometheus.DefaultRegisterer)
}

// MustRegisterWith registers all metrics with reg
func MustRegisterWith(reg prometheus.Registerer) {
	reg.MustRegister(
		DecisionsTotal,
		DecisionLatency,
		FaultsTotal,
		RemoteLatency,
		RemoteErrors,
	)
}

// Recorder implements gate.AuditLogger by updating the package metrics.
type Recorder struct{}

var _ gate.AuditLogger = Recorder{}

// LogDecision implements gate.AuditLogger.
func (Recorder) LogDecision(_ context.Context, field gate.FieldMeta, decision gate.Decision, evalDuration time.Duration) error {
	outcome := "allow"
	if !decision.Allow {
		outcome = "deny"
	}
	DecisionsTotal.WithLabelValues(field.TypeName, field.FieldName, outcome).Inc()
	DecisionLatency.WithLabelValues(field.TypeName, field.FieldName).Observe(evalDuration.Seconds())
	return nil
}

// LogSystemError implements gate.AuditLogger.
func (Recorder) LogSystemError(_ context.Context, systemError error, _ gate.FieldMeta) error {
	FaultsTotal.WithLabelValues(FaultKind(systemError)).Inc()
	return nil
}

// FaultKind maps a system error to a low-cardinality label.
func FaultKind(err error) string {
	switch {
	case errors.Is(err, gate.ErrFieldMisconfigured):
		return "field_misconfigured"
	case errors.Is(err, gate.ErrDecisionContract):
		return "decision_contract"
	case errors.Is(err, gate.ErrFormatterContract):
		return "formatter_contract"
	default:
		return "other"
	}
}
