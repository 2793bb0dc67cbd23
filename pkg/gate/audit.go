package gate

import (
	"context"
	"errors"
	"time"
)

// AuditLogger persists decision and error information.
type AuditLogger interface {
	// LogDecision records the outcome of an evaluated field access.
	// field: the field being resolved.
	// decision: the canonical Decision, Reason set on denial.
	// evalDuration: time spent obtaining the decision.
	LogDecision(ctx context.Context, field FieldMeta, decision Decision, evalDuration time.Duration) error

	// LogSystemError records faults that are not plain denials: misconfigured
	// fields, decision-contract and formatter-contract violations.
	LogSystemError(ctx context.Context, systemError error, field FieldMeta) error
}

type teeAudit []AuditLogger

// TeeAudit fans out to every non-nil logger. Errors are joined.
func TeeAudit(loggers ...AuditLogger) AuditLogger {
	var t teeAudit
	for _, l := range loggers {
		if l != nil {
			t = append(t, l)
		}
	}
	return t
}

func (t teeAudit) LogDecision(ctx context.Context, field FieldMeta, decision Decision, evalDuration time.Duration) error {
	var errs []error
	for _, l := range t {
		errs = append(errs, l.LogDecision(ctx, field, decision, evalDuration))
	}
	return errors.Join(errs...)
}

func (t teeAudit) LogSystemError(ctx context.Context, systemError error, field FieldMeta) error {
	var errs []error
	for _, l := range t {
		errs = append(errs, l.LogSystemError(ctx, systemError, field))
	}
	return errors.Join(errs...)
}
