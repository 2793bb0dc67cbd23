package gate

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/davecgh/go-spew/spew"
	"go.uber.org/zap"
)

// Config is the plugin-wide configuration, built once at install time.
type Config struct {
	// DefaultAuthorize is used for fields that declare nothing. Required.
	DefaultAuthorize AuthorizeFunc
	// FormatError builds the error raised on denial. Defaults to DefaultFormatError.
	FormatError FormatErrorFunc
}

// Option configures optional plugin collaborators.
type Option func(*Plugin)

// WithLogger sets the logger used for diagnostics.
func WithLogger(l *zap.Logger) Option {
	return func(p *Plugin) {
		if l != nil {
			p.logger = l.Named("gate")
		}
	}
}

// WithAudit sets the sink for decisions and system errors.
func WithAudit(a AuditLogger) Option {
	return func(p *Plugin) { p.audit = a }
}

// WithRegistry validates the declarations in r when the plugin is created.
func WithRegistry(r *Registry) Option {
	return func(p *Plugin) { p.registry = r }
}

// Plugin intercepts field accesses and decides whether they may proceed.
// It holds no mutable state; one Plugin serves any number of concurrent
// field accesses.
type Plugin struct {
	resolver    *Resolver
	formatError FormatErrorFunc
	logger      *zap.Logger
	audit       AuditLogger
	registry    *Registry
}

// New installs the plugin. Misconfigured declarations in a registry passed
// with WithRegistry are logged here and rejected again on first use.
func New(cfg Config, opts ...Option) (*Plugin, error) {
	resolver, err := NewResolver(cfg.DefaultAuthorize)
	if err != nil {
		return nil, err
	}

	p := &Plugin{
		resolver:    resolver,
		formatError: cfg.FormatError,
		logger:      zap.NewNop(),
	}
	for _, o := range opts {
		o(p)
	}

	if p.registry != nil {
		for _, merr := range p.registry.Misconfigured() {
			p.logger.Error("field authorization misconfigured",
				append(valueFields(merr.Field, merr.Value), zap.String("stage", "install"))...)
		}
	}
	return p, nil
}

// Wrap returns a resolver that runs the authorization check before next.
// When the outcome is already known the result is returned directly;
// otherwise the returned value is a pending *Future.
func (pl *Plugin) Wrap(next FieldResolver) FieldResolver {
	return func(ctx context.Context, p Params) (any, error) {
		f := pl.Intercept(ctx, p, next)
		if _, _, ok := f.Result(); ok {
			return f.Await(ctx)
		}
		return f, nil
	}
}

// Resolve runs Intercept and waits for its outcome.
func (pl *Plugin) Resolve(ctx context.Context, p Params, next FieldResolver) (any, error) {
	return pl.Intercept(ctx, p, next).Await(ctx)
}

// Intercept evaluates the field's declaration and, when allowed, forwards to
// next with the same arguments. Immediate and pending decisions share one
// completion path.
//
// When the decision is already known, next runs on the caller's goroutine
// and its panics propagate unchanged. When the decision is pending, next runs
// on the goroutine that settles it; a panic there is carried to Await and
// raised again on the awaiting goroutine. A pending access whose ctx is done
// by the time the decision arrives does not call next.
func (pl *Plugin) Intercept(ctx context.Context, p Params, next FieldResolver) *Future {
	decl := DeclarationOf(p.Field)
	if decl.Misconfigured() {
		return Rejected(pl.misconfigured(ctx, p.Field, decl.Raw))
	}

	start := time.Now()
	decision := pl.resolver.Resolve(ctx, decl, p)
	if v, err, ok := decision.Result(); ok {
		return settled(pl.complete(ctx, p, next, v, err, time.Since(start), false))
	}
	return decision.Then(func(v any, err error) (any, error) {
		return pl.complete(ctx, p, next, v, err, time.Since(start), true)
	})
}

func (pl *Plugin) complete(ctx context.Context, p Params, next FieldResolver, v any, err error, elapsed time.Duration, pending bool) (any, error) {
	if err != nil {
		return nil, pl.deny(ctx, p, err, elapsed)
	}

	switch x := v.(type) {
	case bool:
		if !x {
			return nil, pl.deny(ctx, p, ErrNotAuthorized, elapsed)
		}
		pl.logDecision(ctx, p.Field, Allowed(), elapsed)
		if !pending {
			return next(ctx, p)
		}
		if err := ctx.Err(); err != nil {
			pl.logger.Debug("field abandoned before its decision arrived",
				zap.String("field", p.Field.Path()), zap.Error(err))
			return nil, err
		}
		return callNext(ctx, p, next)
	case error:
		return nil, pl.deny(ctx, p, x, elapsed)
	default:
		cerr := &DecisionContractError{Field: p.Field, Value: v}
		pl.logger.Error("authorize function returned unsupported value", valueFields(p.Field, v)...)
		pl.logSystemError(ctx, cerr, p.Field)
		if pl.formatError == nil {
			return nil, cerr
		}
		return nil, pl.format(ctx, cerr, p, cerr)
	}
}

// callNext runs next off the caller's goroutine.
func callNext(ctx context.Context, p Params, next FieldResolver) (v any, err error) {
	defer func() {
		if r := recover(); r != nil {
			v, err = nil, &resolverPanic{value: r}
		}
	}()
	return next(ctx, p)
}

func (pl *Plugin) deny(ctx context.Context, p Params, cause error, elapsed time.Duration) error {
	pl.logDecision(ctx, p.Field, Denied(cause), elapsed)

	if pl.formatError == nil {
		return DefaultFormatError(ctx, cause, p)
	}
	return pl.format(ctx, cause, p, DefaultFormatError(ctx, cause, p))
}

// format runs the custom formatter, raising fallback when it breaks its contract.
func (pl *Plugin) format(ctx context.Context, cause error, p Params, fallback error) error {
	if formatted := pl.callFormatter(ctx, cause, p); !isNilError(formatted) {
		return formatted
	}

	pl.logger.Error("error formatter returned nil, raising default error",
		zap.String("type", p.Field.TypeName),
		zap.String("field", p.Field.FieldName),
		zap.NamedError("cause", cause),
	)
	pl.logSystemError(ctx, fmt.Errorf("%w: field %s", ErrFormatterContract, p.Field.Path()), p.Field)
	return fallback
}

// callFormatter runs the custom formatter; a panic counts as a nil result.
func (pl *Plugin) callFormatter(ctx context.Context, cause error, p Params) (formatted error) {
	defer func() {
		if r := recover(); r != nil {
			pl.logger.Error("error formatter panicked", zap.Any("panic", r))
			formatted = nil
		}
	}()
	return pl.formatError(ctx, cause, p)
}

func (pl *Plugin) misconfigured(ctx context.Context, field FieldMeta, raw any) error {
	err := &MisconfiguredFieldError{Field: field, Value: raw}
	pl.logger.Error("field authorization misconfigured, aborting field access", valueFields(field, raw)...)
	pl.logSystemError(ctx, err, field)
	return err
}

func (pl *Plugin) logDecision(ctx context.Context, field FieldMeta, d Decision, elapsed time.Duration) {
	if pl.audit == nil {
		return
	}
	if err := pl.audit.LogDecision(ctx, field, d, elapsed); err != nil {
		pl.logger.Warn("audit decision failed", zap.String("field", field.Path()), zap.Error(err))
	}
}

func (pl *Plugin) logSystemError(ctx context.Context, systemErr error, field FieldMeta) {
	if pl.audit == nil {
		return
	}
	if err := pl.audit.LogSystemError(ctx, systemErr, field); err != nil {
		pl.logger.Warn("audit system error failed", zap.String("field", field.Path()), zap.Error(err))
	}
}

func valueFields(field FieldMeta, v any) []zap.Field {
	return []zap.Field{
		zap.String("type", field.TypeName),
		zap.String("field", field.FieldName),
		zap.String("value", strings.TrimSpace(spew.Sdump(v))),
		zap.String("value_type", fmt.Sprintf("%T", v)),
	}
}

// isNilError also catches typed nil pointers stored in an error interface.
func isNilError(err error) bool {
	if err == nil {
		return true
	}
	rv := reflect.ValueOf(err)
	switch rv.Kind() {
	case reflect.Ptr, reflect.Map, reflect.Slice, reflect.Func, reflect.Interface, reflect.Chan:
		return rv.IsNil()
	}
	return false
}
