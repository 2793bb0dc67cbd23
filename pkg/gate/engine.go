package gate

import "context"

// Resolver selects the decision source for a declaration and invokes it.
// It holds only the default authorize function and is safe for concurrent use.
type Resolver struct {
	defaultAuthorize AuthorizeFunc
}

// NewResolver creates a Resolver that falls back to defaultAuthorize for
// fields without a declaration.
func NewResolver(defaultAuthorize AuthorizeFunc) (*Resolver, error) {
	if defaultAuthorize == nil {
		return nil, ErrMissingDefaultAuthorize
	}
	return &Resolver{defaultAuthorize: defaultAuthorize}, nil
}

// Resolve returns the raw decision for d: a Future settling to whatever the
// chosen authorize function produced. Exactly one source is consulted.
// Misconfigured declarations reject with *MisconfiguredFieldError.
func (r *Resolver) Resolve(ctx context.Context, d Declaration, p Params) *Future {
	if d.Misconfigured() {
		return Rejected(&MisconfiguredFieldError{Field: p.Field, Value: d.Raw})
	}
	switch d.Kind {
	case KindAbsent:
		return invoke(ctx, r.defaultAuthorize, p)
	case KindStaticAllow:
		return Resolved(true)
	default: // KindDynamic with a function
		return invoke(ctx, d.Func, p)
	}
}

// invoke calls fn, turning a synchronous panic into a rejected Future.
func invoke(ctx context.Context, fn AuthorizeFunc, p Params) *Future {
	v, err := callRecovering(func() (any, error) {
		return fn(ctx, p), nil
	})
	if err != nil {
		return Rejected(err)
	}
	if f, ok := v.(*Future); ok {
		if f == nil {
			return Resolved(nil)
		}
		return f
	}
	return Resolved(v)
}
