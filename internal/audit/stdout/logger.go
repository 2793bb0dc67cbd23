package stdout

import (
	"context"
	"os"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/asimihsan/field_auth/pkg/gate"
)

// Logger implements gate.AuditLogger with JSON records written to stdout.
type Logger struct {
	log *zap.Logger
}

var _ gate.AuditLogger = (*Logger)(nil)

// New creates a new stdout logger.
func New() *Logger {
	enc := zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
	return NewWithCore(zapcore.NewCore(enc, zapcore.Lock(os.Stdout), zapcore.InfoLevel))
}

// NewWithCore creates a logger that writes audit records to core.
func NewWithCore(core zapcore.Core) *Logger {
	return &Logger{log: zap.New(core).Named("audit")}
}

// LogDecision implements gate.AuditLogger.
func (l *Logger) LogDecision(_ context.Context, field gate.FieldMeta, decision gate.Decision, evalDuration time.Duration) error {
	fields := []zap.Field{
		zap.String("type", field.TypeName),
		zap.String("field", field.FieldName),
		zap.Bool("allow", decision.Allow),
		zap.Duration("duration", evalDuration),
	}
	if decision.Reason != nil {
		fields = append(fields, zap.String("reason", decision.Reason.Error()))
	}
	l.log.Info("decision", fields...)
	return nil
}

// LogSystemError implements gate.AuditLogger.
func (l *Logger) LogSystemError(_ context.Context, systemError error, field gate.FieldMeta) error {
	l.log.Error("system error",
		zap.String("type", field.TypeName),
		zap.String("field", field.FieldName),
		zap.Error(systemError),
	)
	return nil
}
