package gate

import (
	"context"
	"fmt"
	"sync"
)

// Future is a value that may not be available yet. It settles exactly once,
// either with a value or with an error.
//
// Continuations registered with Then on an already-settled Future run inline
// on the calling goroutine, so synchronous paths never pay for a goroutine
// hop. Continuations registered on a pending Future run on the goroutine that
// settles it.
type Future struct {
	mu      sync.Mutex
	done    chan struct{}
	settled bool
	value   any
	err     error
	waiters []func(any, error)
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

// Resolved returns a Future already settled with v.
func Resolved(v any) *Future {
	f := newFuture()
	f.settle(v, nil)
	return f
}

// Rejected returns a Future already settled with err.
func Rejected(err error) *Future {
	f := newFuture()
	f.settle(nil, err)
	return f
}

// Go runs fn on a new goroutine and returns a Future for its result.
// A panic inside fn rejects the Future with a *PanicError.
func Go(fn func() (any, error)) *Future {
	f := newFuture()
	go func() {
		v, err := callRecovering(fn)
		f.settle(v, err)
	}()
	return f
}

// Promise is the write side of a Future.
type Promise struct {
	f *Future
}

// NewPromise returns an unsettled Future and the Promise that settles it.
func NewPromise() (*Promise, *Future) {
	f := newFuture()
	return &Promise{f: f}, f
}

// Resolve settles the Future with v. Later calls are no-ops.
func (p *Promise) Resolve(v any) { p.f.settle(v, nil) }

// Reject settles the Future with err. Later calls are no-ops.
func (p *Promise) Reject(err error) { p.f.settle(nil, err) }

func (f *Future) settle(v any, err error) {
	f.mu.Lock()
	if f.settled {
		f.mu.Unlock()
		return
	}
	f.settled = true
	f.value, f.err = v, err
	waiters := f.waiters
	f.waiters = nil
	close(f.done)
	f.mu.Unlock()

	for _, w := range waiters {
		w(v, err)
	}
}

// Done is closed once the Future has settled.
func (f *Future) Done() <-chan struct{} { return f.done }

// Result reports the settled value and error. ok is false while pending.
func (f *Future) Result() (v any, err error, ok bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.value, f.err, f.settled
}

// Await blocks until the Future settles or ctx is done. A panic raised by a
// resolver on another goroutine is raised again here.
func (f *Future) Await(ctx context.Context) (any, error) {
	select {
	case <-f.done:
		return f.outcome()
	default:
	}
	select {
	case <-f.done:
		return f.outcome()
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (f *Future) outcome() (any, error) {
	if rp, ok := f.err.(*resolverPanic); ok {
		panic(rp.value)
	}
	return f.value, f.err
}

// Then returns a Future settled by fn once f settles. If fn returns a
// *Future as its value, the returned Future adopts that Future's outcome.
func (f *Future) Then(fn func(v any, err error) (any, error)) *Future {
	next := newFuture()
	f.onSettle(func(v any, err error) {
		if _, ok := err.(*resolverPanic); ok {
			next.settle(nil, err)
			return
		}
		out, outErr := callRecovering(func() (any, error) { return fn(v, err) })
		if inner, ok := out.(*Future); ok && inner != nil && outErr == nil {
			inner.onSettle(next.settle)
			return
		}
		next.settle(out, outErr)
	})
	return next
}

func (f *Future) onSettle(fn func(any, error)) {
	f.mu.Lock()
	if !f.settled {
		f.waiters = append(f.waiters, fn)
		f.mu.Unlock()
		return
	}
	v, err := f.value, f.err
	f.mu.Unlock()
	fn(v, err)
}

// settled returns a Future for an outcome known now, adopting v when it is
// itself a *Future.
func settled(v any, err error) *Future {
	if inner, ok := v.(*Future); ok && inner != nil && err == nil {
		return inner
	}
	f := newFuture()
	f.settle(v, err)
	return f
}

// resolverPanic carries a resolver panic from the goroutine that recovered it
// to the one awaiting the outcome.
type resolverPanic struct {
	value any
}

func (p *resolverPanic) Error() string { return fmt.Sprint(p.value) }

// callRecovering invokes fn, converting a panic into a *PanicError.
func callRecovering(fn func() (any, error)) (v any, err error) {
	defer func() {
		if r := recover(); r != nil {
			v, err = nil, newPanicError(r)
		}
	}()
	return fn()
}
