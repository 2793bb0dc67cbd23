// Package gqlgen installs the gate plugin into a gqlgen server, either as a
// schema directive or as a field middleware applied to every field.
package gqlgen

import (
	"context"
	"strings"

	"github.com/99designs/gqlgen/graphql"

	"github.com/asimihsan/field_auth/pkg/gate"
)

// Authorizer adapts a gate.Plugin to gqlgen's resolver hooks.
type Authorizer struct {
	plugin   *gate.Plugin
	registry *gate.Registry
}

// New creates an Authorizer. Declarations are read from registry; a nil
// registry means every field uses the default authorize function.
func New(plugin *gate.Plugin, registry *gate.Registry) *Authorizer {
	return &Authorizer{plugin: plugin, registry: registry}
}

// Directive has the signature gqlgen expects for a field directive such as
// @authorize. obj is the parent value.
func (a *Authorizer) Directive(ctx context.Context, obj any, next graphql.Resolver) (any, error) {
	fc := graphql.GetFieldContext(ctx)
	if fc == nil {
		return next(ctx)
	}
	return a.plugin.Resolve(ctx, a.params(fc, obj), forward(next))
}

// FieldMiddleware can be passed to handler.Server.AroundFields.
// Introspection fields such as __typename and __schema pass through.
func (a *Authorizer) FieldMiddleware(ctx context.Context, next graphql.Resolver) (any, error) {
	fc := graphql.GetFieldContext(ctx)
	if fc == nil || isIntrospection(fc) {
		return next(ctx)
	}
	var parent any
	if fc.Parent != nil {
		parent = fc.Parent.Result
	}
	return a.plugin.Resolve(ctx, a.params(fc, parent), forward(next))
}

func (a *Authorizer) params(fc *graphql.FieldContext, parent any) gate.Params {
	var name string
	if fc.Field.Field != nil {
		name = fc.Field.Name
	}

	meta := gate.FieldMeta{TypeName: fc.Object, FieldName: name}
	if a.registry != nil {
		meta = a.registry.Meta(fc.Object, name)
	}
	return gate.Params{Parent: parent, Args: fc.Args, Field: meta}
}

func isIntrospection(fc *graphql.FieldContext) bool {
	return strings.HasPrefix(fc.Object, "__") ||
		(fc.Field.Field != nil && strings.HasPrefix(fc.Field.Name, "__"))
}

// forward calls gqlgen's next resolver; gqlgen carries everything else in ctx.
func forward(next graphql.Resolver) gate.FieldResolver {
	return func(ctx context.Context, _ gate.Params) (any, error) {
		return next(ctx)
	}
}
