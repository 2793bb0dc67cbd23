package gate

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type ctxKey string

// recordingResolver captures every call made to the wrapped resolver.
type recordingResolver struct {
	mu     sync.Mutex
	calls  []Params
	ctxs   []context.Context
	result any
	err    error
}

func (r *recordingResolver) Resolve(ctx context.Context, p Params) (any, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, p)
	r.ctxs = append(r.ctxs, ctx)
	return r.result, r.err
}

func (r *recordingResolver) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func newTestPlugin(t *testing.T, cfg Config, opts ...Option) (*Plugin, *observer.ObservedLogs) {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	p, err := New(cfg, append([]Option{WithLogger(zap.New(core))}, opts...)...)
	require.NoError(t, err)
	return p, logs
}

func fieldParams(decl any) Params {
	p := Params{
		Parent: map[string]any{"id": "u1"},
		Args:   map[string]any{"first": 10},
		Field:  FieldMeta{TypeName: "User", FieldName: "email"},
	}
	if decl != nil {
		p.Field.Extensions = map[string]any{ExtensionKey: decl}
	}
	return p
}

func allowAll(context.Context, Params) any { return true }

func TestNew_RequiresDefaultAuthorize(t *testing.T) {
	_, err := New(Config{})
	assert.ErrorIs(t, err, ErrMissingDefaultAuthorize)
}

func TestPlugin_AbsentUsesDefault(t *testing.T) {
	// Scenario A
	var defaultCalls int32
	p, _ := newTestPlugin(t, Config{
		DefaultAuthorize: func(ctx context.Context, p Params) any {
			atomic.AddInt32(&defaultCalls, 1)
			return true
		},
	})
	next := &recordingResolver{result: "alice@example.com"}

	ctx := context.WithValue(context.Background(), ctxKey("request"), "r-1")
	params := fieldParams(nil)
	res, err := p.Resolve(ctx, params, next.Resolve)

	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", res)
	assert.Equal(t, int32(1), atomic.LoadInt32(&defaultCalls))
	require.Equal(t, 1, next.count())
	assert.Equal(t, params, next.calls[0])
	assert.Equal(t, ctx, next.ctxs[0])
}

func TestPlugin_DynamicOverridesDefault(t *testing.T) {
	var defaultCalls, fieldCalls int32
	p, _ := newTestPlugin(t, Config{
		DefaultAuthorize: func(context.Context, Params) any {
			atomic.AddInt32(&defaultCalls, 1)
			return false
		},
	})
	decl := AuthorizeFunc(func(context.Context, Params) any {
		atomic.AddInt32(&fieldCalls, 1)
		return true
	})
	next := &recordingResolver{result: 7}

	res, err := p.Resolve(context.Background(), fieldParams(decl), next.Resolve)

	require.NoError(t, err)
	assert.Equal(t, 7, res)
	assert.Equal(t, int32(0), atomic.LoadInt32(&defaultCalls))
	assert.Equal(t, int32(1), atomic.LoadInt32(&fieldCalls))
}

func TestPlugin_DenyFalse(t *testing.T) {
	// Scenario B
	p, _ := newTestPlugin(t, Config{DefaultAuthorize: allowAll})
	next := &recordingResolver{result: "secret"}
	decl := func(context.Context, Params) any { return false }

	res, err := p.Resolve(context.Background(), fieldParams(decl), next.Resolve)

	assert.Nil(t, res)
	require.Error(t, err)
	assert.Equal(t, "Not authorized", err.Error())
	assert.ErrorIs(t, err, ErrNotAuthorized)
	assert.Equal(t, 0, next.count())
}

func TestPlugin_DenyPanicKeepsCause(t *testing.T) {
	// Scenario C
	p, _ := newTestPlugin(t, Config{DefaultAuthorize: allowAll})
	next := &recordingResolver{}
	decl := func(context.Context, Params) any { panic(errors.New("boom")) }

	_, err := p.Resolve(context.Background(), fieldParams(decl), next.Resolve)

	var nae *NotAuthorizedError
	require.ErrorAs(t, err, &nae)
	require.NotNil(t, nae.Cause)
	assert.Equal(t, "boom", nae.Cause.Error())
	assert.Equal(t, "boom", errors.Unwrap(err).Error())
	assert.Equal(t, 0, next.count())
}

func TestPlugin_DenyErrorValueKeepsCause(t *testing.T) {
	p, _ := newTestPlugin(t, Config{DefaultAuthorize: allowAll})
	reason := errors.New("X")
	decl := func(context.Context, Params) any { return reason }
	next := &recordingResolver{}

	_, err := p.Resolve(context.Background(), fieldParams(decl), next.Resolve)

	assert.ErrorIs(t, err, reason)
	assert.ErrorIs(t, err, ErrNotAuthorized)
	assert.Equal(t, 0, next.count())
}

func TestPlugin_BoolAdapter(t *testing.T) {
	p, _ := newTestPlugin(t, Config{DefaultAuthorize: allowAll})
	reason := errors.New("role missing")
	next := &recordingResolver{result: "ok"}

	_, err := p.Resolve(context.Background(), fieldParams(func(context.Context, Params) (bool, error) {
		return false, reason
	}), next.Resolve)
	assert.ErrorIs(t, err, reason)

	res, err := p.Resolve(context.Background(), fieldParams(func(context.Context, Params) (bool, error) {
		return true, nil
	}), next.Resolve)
	require.NoError(t, err)
	assert.Equal(t, "ok", res)
}

func TestPlugin_ContractViolation(t *testing.T) {
	// Scenario D
	p, logs := newTestPlugin(t, Config{DefaultAuthorize: allowAll})
	next := &recordingResolver{}
	decl := func(context.Context, Params) any { return 42 }

	_, err := p.Resolve(context.Background(), fieldParams(decl), next.Resolve)

	var cerr *DecisionContractError
	require.ErrorAs(t, err, &cerr)
	assert.ErrorIs(t, err, ErrDecisionContract)
	assert.NotErrorIs(t, err, ErrNotAuthorized)
	assert.Contains(t, err.Error(), "User.email")
	assert.Contains(t, err.Error(), "42")
	assert.Contains(t, err.Error(), "int")
	assert.Equal(t, 0, next.count())

	entries := logs.FilterMessage("authorize function returned unsupported value").All()
	require.Len(t, entries, 1)
	assert.Equal(t, zapcore.ErrorLevel, entries[0].Level)
	assert.Equal(t, "email", entries[0].ContextMap()["field"])
	assert.Equal(t, "int", entries[0].ContextMap()["value_type"])
}

func TestPlugin_FormatterReturningNil(t *testing.T) {
	// Scenario E
	var formatted int32
	p, logs := newTestPlugin(t, Config{
		DefaultAuthorize: func(context.Context, Params) any { return false },
		FormatError: func(context.Context, error, Params) error {
			atomic.AddInt32(&formatted, 1)
			return nil
		},
	})
	next := &recordingResolver{}

	_, err := p.Resolve(context.Background(), fieldParams(nil), next.Resolve)

	var nae *NotAuthorizedError
	require.ErrorAs(t, err, &nae)
	assert.Equal(t, "Not authorized", err.Error())
	assert.ErrorIs(t, nae.Cause, ErrNotAuthorized)
	assert.Equal(t, int32(1), atomic.LoadInt32(&formatted))
	assert.Equal(t, 1, logs.FilterMessage("error formatter returned nil, raising default error").Len())
}

type typedErr struct{}

func (*typedErr) Error() string { return "typed" }

func TestPlugin_FormatterReturningTypedNil(t *testing.T) {
	p, logs := newTestPlugin(t, Config{
		DefaultAuthorize: func(context.Context, Params) any { return false },
		FormatError: func(context.Context, error, Params) error {
			var e *typedErr
			return e
		},
	})

	_, err := p.Resolve(context.Background(), fieldParams(nil), (&recordingResolver{}).Resolve)

	assert.ErrorIs(t, err, ErrNotAuthorized)
	assert.Equal(t, 1, logs.FilterMessage("error formatter returned nil, raising default error").Len())
}

func TestPlugin_CustomFormatter(t *testing.T) {
	forbidden := errors.New("forbidden")
	p, _ := newTestPlugin(t, Config{
		DefaultAuthorize: allowAll,
		FormatError: func(_ context.Context, cause error, p Params) error {
			return errors.Join(forbidden, cause)
		},
	})
	reason := errors.New("not owner")
	decl := func(context.Context, Params) any { return reason }

	_, err := p.Resolve(context.Background(), fieldParams(decl), (&recordingResolver{}).Resolve)

	assert.ErrorIs(t, err, forbidden)
	assert.ErrorIs(t, err, reason)
}

func TestPlugin_StaticTrueSkipsEvaluation(t *testing.T) {
	// Scenario F
	var defaultCalls int32
	p, _ := newTestPlugin(t, Config{
		DefaultAuthorize: func(context.Context, Params) any {
			atomic.AddInt32(&defaultCalls, 1)
			return false
		},
	})
	next := &recordingResolver{result: "public"}

	res, err := p.Resolve(context.Background(), fieldParams(true), next.Resolve)

	require.NoError(t, err)
	assert.Equal(t, "public", res)
	assert.Equal(t, int32(0), atomic.LoadInt32(&defaultCalls))
	assert.Equal(t, 1, next.count())
}

func TestPlugin_MisconfiguredFields(t *testing.T) {
	tests := []struct {
		name string
		decl any
	}{
		{name: "static false", decl: false},
		{name: "string", decl: "admin"},
		{name: "number", decl: 3},
		{name: "dynamic declaration without function", decl: Declaration{Kind: KindDynamic}},
		{name: "unknown declaration kind", decl: Declaration{Kind: Kind(7)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var defaultCalls int32
			p, logs := newTestPlugin(t, Config{
				DefaultAuthorize: func(context.Context, Params) any {
					atomic.AddInt32(&defaultCalls, 1)
					return true
				},
			})
			next := &recordingResolver{}

			_, err := p.Resolve(context.Background(), fieldParams(tt.decl), next.Resolve)

			assert.ErrorIs(t, err, ErrFieldMisconfigured)
			assert.NotErrorIs(t, err, ErrNotAuthorized)
			assert.Equal(t, 0, next.count())
			assert.Equal(t, int32(0), atomic.LoadInt32(&defaultCalls))
			entries := logs.FilterMessage("field authorization misconfigured, aborting field access").All()
			require.Len(t, entries, 1)
			assert.Equal(t, zapcore.ErrorLevel, entries[0].Level)
		})
	}
}

func TestPlugin_ForwardsResolverError(t *testing.T) {
	p, _ := newTestPlugin(t, Config{DefaultAuthorize: allowAll})
	resolverErr := errors.New("db down")
	next := &recordingResolver{result: "partial", err: resolverErr}

	res, err := p.Resolve(context.Background(), fieldParams(nil), next.Resolve)

	assert.Same(t, resolverErr, err)
	assert.Equal(t, "partial", res)
}

func TestPlugin_PendingDecision(t *testing.T) {
	release := make(chan struct{})
	p, _ := newTestPlugin(t, Config{DefaultAuthorize: allowAll})
	decl := func(context.Context, Params) any {
		return Go(func() (any, error) {
			<-release
			return true, nil
		})
	}
	next := &recordingResolver{result: "late"}

	f := p.Intercept(context.Background(), fieldParams(decl), next.Resolve)
	_, _, settled := f.Result()
	assert.False(t, settled, "intercept must not block on a pending decision")
	assert.Equal(t, 0, next.count())

	close(release)
	res, err := f.Await(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "late", res)
	assert.Equal(t, 1, next.count())
}

func TestPlugin_PendingRejection(t *testing.T) {
	p, _ := newTestPlugin(t, Config{DefaultAuthorize: allowAll})
	reason := errors.New("pdp said no")
	decl := func(context.Context, Params) any {
		return Go(func() (any, error) {
			time.Sleep(5 * time.Millisecond)
			return nil, reason
		})
	}
	next := &recordingResolver{}

	_, err := p.Resolve(context.Background(), fieldParams(decl), next.Resolve)

	assert.ErrorIs(t, err, reason)
	assert.ErrorIs(t, err, ErrNotAuthorized)
	assert.Equal(t, 0, next.count())
}

func TestPlugin_PendingResolverAdopted(t *testing.T) {
	p, _ := newTestPlugin(t, Config{DefaultAuthorize: allowAll})
	promise, pending := NewPromise()
	next := func(context.Context, Params) (any, error) { return pending, nil }

	f := p.Intercept(context.Background(), fieldParams(nil), next)
	_, _, settled := f.Result()
	assert.False(t, settled)

	promise.Resolve("done")
	res, err := f.Await(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "done", res)
}

func TestPlugin_WrapSynchronous(t *testing.T) {
	p, _ := newTestPlugin(t, Config{DefaultAuthorize: allowAll})
	wrapped := p.Wrap((&recordingResolver{result: "now"}).Resolve)

	res, err := wrapped(context.Background(), fieldParams(nil))

	require.NoError(t, err)
	assert.Equal(t, "now", res)
}

func TestPlugin_WrapPending(t *testing.T) {
	p, _ := newTestPlugin(t, Config{DefaultAuthorize: allowAll})
	promise, pending := NewPromise()
	decl := func(context.Context, Params) any { return pending }
	wrapped := p.Wrap((&recordingResolver{result: "later"}).Resolve)

	res, err := wrapped(context.Background(), fieldParams(decl))
	require.NoError(t, err)
	f, ok := res.(*Future)
	require.True(t, ok, "expected pending *Future, got %T", res)

	promise.Resolve(true)
	v, err := f.Await(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "later", v)
}

func TestPlugin_Idempotent(t *testing.T) {
	p, _ := newTestPlugin(t, Config{DefaultAuthorize: allowAll})
	decl := func(_ context.Context, p Params) any { return p.Args["first"] == 10 }
	next := &recordingResolver{result: []string{"a", "b"}}

	res1, err1 := p.Resolve(context.Background(), fieldParams(decl), next.Resolve)
	res2, err2 := p.Resolve(context.Background(), fieldParams(decl), next.Resolve)

	assert.Equal(t, res1, res2)
	assert.Equal(t, err1, err2)
	assert.Equal(t, 2, next.count())
}

func TestPlugin_ConcurrentSafe(t *testing.T) {
	p, _ := newTestPlugin(t, Config{
		DefaultAuthorize: func(_ context.Context, p Params) any {
			return p.Args["n"].(int)%2 == 0
		},
	})
	next := func(_ context.Context, p Params) (any, error) { return p.Args["n"], nil }

	var wg sync.WaitGroup
	var allowed, denied int32
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			params := Params{Args: map[string]any{"n": n}, Field: FieldMeta{TypeName: "Query", FieldName: "item"}}
			res, err := p.Resolve(context.Background(), params, next)
			if err != nil {
				atomic.AddInt32(&denied, 1)
				return
			}
			if res == n {
				atomic.AddInt32(&allowed, 1)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(50), allowed)
	assert.Equal(t, int32(50), denied)
}

type memAudit struct {
	mu        sync.Mutex
	decisions []Decision
	faults    []error
}

func (m *memAudit) LogDecision(_ context.Context, _ FieldMeta, d Decision, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.decisions = append(m.decisions, d)
	return nil
}

func (m *memAudit) LogSystemError(_ context.Context, err error, _ FieldMeta) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.faults = append(m.faults, err)
	return nil
}

func TestPlugin_Audit(t *testing.T) {
	audit := &memAudit{}
	p, _ := newTestPlugin(t, Config{DefaultAuthorize: allowAll}, WithAudit(audit))
	next := (&recordingResolver{}).Resolve

	_, _ = p.Resolve(context.Background(), fieldParams(nil), next)
	_, _ = p.Resolve(context.Background(), fieldParams(func(context.Context, Params) any { return false }), next)
	_, _ = p.Resolve(context.Background(), fieldParams(func(context.Context, Params) any { return "yes" }), next)
	_, _ = p.Resolve(context.Background(), fieldParams(false), next)

	require.Len(t, audit.decisions, 2)
	assert.True(t, audit.decisions[0].Allow)
	assert.False(t, audit.decisions[1].Allow)
	assert.ErrorIs(t, audit.decisions[1].Reason, ErrNotAuthorized)

	require.Len(t, audit.faults, 2)
	assert.ErrorIs(t, audit.faults[0], ErrDecisionContract)
	assert.ErrorIs(t, audit.faults[1], ErrFieldMisconfigured)
}

func TestNew_LogsMisconfiguredRegistry(t *testing.T) {
	reg := NewRegistry()
	reg.Register("Query", "admin", false)
	reg.Register("Query", "me", true)

	_, logs := newTestPlugin(t, Config{DefaultAuthorize: allowAll}, WithRegistry(reg))

	entries := logs.FilterMessage("field authorization misconfigured").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "admin", entries[0].ContextMap()["field"])
	assert.Equal(t, "install", entries[0].ContextMap()["stage"])
}

func TestPlugin_RejectionWrappingMisconfigurationIsADenial(t *testing.T) {
	var formatterCause error
	p, logs := newTestPlugin(t, Config{
		DefaultAuthorize: allowAll,
		FormatError: func(_ context.Context, cause error, _ Params) error {
			formatterCause = cause
			return &NotAuthorizedError{Cause: cause}
		},
	})
	other := &MisconfiguredFieldError{Field: FieldMeta{TypeName: "Other", FieldName: "f"}, Value: false}
	lookupErr := fmt.Errorf("lookup: %w", other)
	decl := func(context.Context, Params) any { return Rejected(lookupErr) }
	next := &recordingResolver{}

	_, err := p.Resolve(context.Background(), fieldParams(decl), next.Resolve)

	assert.Same(t, lookupErr, formatterCause)
	assert.EqualError(t, err, "Not authorized")
	assert.ErrorIs(t, err, ErrNotAuthorized)
	assert.ErrorIs(t, err, lookupErr)
	assert.Equal(t, 0, next.count())
	assert.Equal(t, 0, logs.FilterMessage("field authorization misconfigured, aborting field access").Len())
}

func TestPlugin_ResolverPanicPropagates(t *testing.T) {
	panicky := func(context.Context, Params) (any, error) { panic("resolver bug") }

	t.Run("immediate decision", func(t *testing.T) {
		p, _ := newTestPlugin(t, Config{DefaultAuthorize: allowAll})

		assert.PanicsWithValue(t, "resolver bug", func() {
			_, _ = p.Resolve(context.Background(), fieldParams(nil), panicky)
		})
		assert.PanicsWithValue(t, "resolver bug", func() {
			_, _ = p.Wrap(panicky)(context.Background(), fieldParams(nil))
		})
	})

	t.Run("pending decision", func(t *testing.T) {
		p, _ := newTestPlugin(t, Config{DefaultAuthorize: allowAll})
		promise, pending := NewPromise()
		decl := func(context.Context, Params) any { return pending }

		f := p.Intercept(context.Background(), fieldParams(decl), panicky)
		assert.NotPanics(t, func() { promise.Resolve(true) })

		assert.PanicsWithValue(t, "resolver bug", func() {
			_, _ = f.Await(context.Background())
		})
	})

	t.Run("decision panic still denies", func(t *testing.T) {
		p, _ := newTestPlugin(t, Config{DefaultAuthorize: func(context.Context, Params) any { panic("policy bug") }})

		_, err := p.Resolve(context.Background(), fieldParams(nil), panicky)

		assert.ErrorIs(t, err, ErrNotAuthorized)
		var perr *PanicError
		assert.ErrorAs(t, err, &perr)
	})
}

func TestPlugin_PendingDecisionAfterCancel(t *testing.T) {
	p, _ := newTestPlugin(t, Config{DefaultAuthorize: allowAll})
	promise, pending := NewPromise()
	decl := func(context.Context, Params) any { return pending }
	next := &recordingResolver{result: "too late"}
	ctx, cancel := context.WithCancel(context.Background())

	f := p.Intercept(ctx, fieldParams(decl), next.Resolve)
	cancel()
	_, err := p.Resolve(ctx, fieldParams(decl), next.Resolve)
	assert.ErrorIs(t, err, context.Canceled)

	promise.Resolve(true)
	<-f.Done()
	_, err, _ = f.Result()
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, next.count())
}

func TestPlugin_ContractViolationFormatted(t *testing.T) {
	formatted := errors.New("policy error")
	var seen error
	p, _ := newTestPlugin(t, Config{
		DefaultAuthorize: allowAll,
		FormatError: func(_ context.Context, cause error, _ Params) error {
			seen = cause
			return formatted
		},
	})
	decl := func(context.Context, Params) any { return "yes" }

	_, err := p.Resolve(context.Background(), fieldParams(decl), (&recordingResolver{}).Resolve)

	assert.Same(t, formatted, err)
	assert.ErrorIs(t, seen, ErrDecisionContract)

	t.Run("nil formatter result keeps the contract error", func(t *testing.T) {
		p, logs := newTestPlugin(t, Config{
			DefaultAuthorize: allowAll,
			FormatError:      func(context.Context, error, Params) error { return nil },
		})

		_, err := p.Resolve(context.Background(), fieldParams(decl), (&recordingResolver{}).Resolve)

		assert.ErrorIs(t, err, ErrDecisionContract)
		assert.NotErrorIs(t, err, ErrNotAuthorized)
		assert.Equal(t, 1, logs.FilterMessage("error formatter returned nil, raising default error").Len())
	})
}
