package mock

import (
	"context"
	"sync"
	"time"

	"github.com/asimihsan/field_auth/pkg/gate"
)

// Authorizer is a controllable authorize function that records its calls.
type Authorizer struct {
	Value any
	Err   error
	Delay time.Duration

	mu    sync.Mutex
	calls []gate.Params
}

// New creates an authorizer that answers with value.
func New(value any) *Authorizer {
	return &Authorizer{Value: value}
}

// AlwaysAllow creates an authorizer that answers true.
func AlwaysAllow() *Authorizer { return New(true) }

// AlwaysDeny creates an authorizer that answers false.
func AlwaysDeny() *Authorizer { return New(false) }

// WithError configures the authorizer to deny with err.
func (a *Authorizer) WithError(err error) *Authorizer {
	a.Err = err
	return a
}

// WithDelay makes the authorizer answer with a pending future settled after d.
func (a *Authorizer) WithDelay(d time.Duration) *Authorizer {
	a.Delay = d
	return a
}

// Func returns the authorizer as a gate.AuthorizeFunc.
func (a *Authorizer) Func() gate.AuthorizeFunc {
	return func(_ context.Context, p gate.Params) any {
		a.mu.Lock()
		a.calls = append(a.calls, p)
		a.mu.Unlock()

		answer := a.Value
		if a.Err != nil {
			answer = a.Err
		}
		if a.Delay <= 0 {
			return answer
		}
		delay := a.Delay
		return gate.Go(func() (any, error) {
			time.Sleep(delay)
			return answer, nil
		})
	}
}

// Calls returns the params of every invocation so far.
func (a *Authorizer) Calls() []gate.Params {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]gate.Params, len(a.calls))
	copy(out, a.calls)
	return out
}
