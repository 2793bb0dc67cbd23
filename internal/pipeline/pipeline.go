// Package pipeline resolves a selection of sibling fields through the
// authorization plugin.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/asimihsan/field_auth/pkg/gate"
)

// FieldAccess is one field selected by a query.
type FieldAccess struct {
	// Key names the result. Defaults to the field path.
	Key     string
	Params  gate.Params
	Resolve gate.FieldResolver
}

func (a FieldAccess) key() string {
	if a.Key != "" {
		return a.Key
	}
	return a.Params.Field.Path()
}

// FieldResult is the outcome of a single field access.
type FieldResult struct {
	Key   string
	Value any
	Err   error
}

// Options bounds execution.
type Options struct {
	// Limit caps concurrently running accesses. Zero means unbounded.
	Limit int
	// PerFieldTimeout caps each access. Zero means no timeout. An access
	// that times out while its decision is pending never reaches its resolver.
	PerFieldTimeout time.Duration
}

// Execute runs every access through plugin concurrently. A failing access
// records its error in its own result and never affects its siblings.
// Results are returned in input order.
func Execute(ctx context.Context, plugin *gate.Plugin, accesses []FieldAccess, opts Options) []FieldResult {
	results := make([]FieldResult, len(accesses))

	g, gctx := errgroup.WithContext(ctx)
	if opts.Limit > 0 {
		g.SetLimit(opts.Limit)
	}

	for i, access := range accesses {
		g.Go(func() error {
			fctx := gctx
			if opts.PerFieldTimeout > 0 {
				var cancel context.CancelFunc
				fctx, cancel = context.WithTimeout(gctx, opts.PerFieldTimeout)
				defer cancel()
			}

			v, err := plugin.Resolve(fctx, access.Params, access.Resolve)
			results[i] = FieldResult{Key: access.key(), Value: v, Err: err}
			return nil // errors stay with their field
		})
	}

	// Never fails; every goroutine returns nil.
	_ = g.Wait()
	return results
}

// Data collects the values of successful accesses by key.
func Data(results []FieldResult) map[string]any {
	data := make(map[string]any, len(results))
	for _, r := range results {
		if r.Err == nil {
			data[r.Key] = r.Value
		}
	}
	return data
}

// Errors joins the errors of failed accesses, each prefixed with its key.
func Errors(results []FieldResult) error {
	var errs []error
	for _, r := range results {
		if r.Err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", r.Key, r.Err))
		}
	}
	return errors.Join(errs...)
}
