// Package config builds the default authorize function from configuration
package config

import (
	"context"
	"fmt"
	"time"

	"github.com/asimihsan/field_auth/internal/authorizer/remote"
	"github.com/asimihsan/field_auth/internal/config"
	"github.com/asimihsan/field_auth/internal/engine/opa"
	"github.com/asimihsan/field_auth/internal/policy/file"
	"github.com/asimihsan/field_auth/pkg/gate"
)

// DefaultRemoteTimeout applies when the configuration leaves it unset.
const DefaultRemoteTimeout = 2 * time.Second

// DefaultQuery applies when the policy section leaves it unset.
const DefaultQuery = "data.field_auth.response"

// NewDefaultAuthorize returns the authorize function selected by
// authorization.defaultDecision.
func NewDefaultAuthorize(cfg *config.AppConfig) (gate.AuthorizeFunc, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", gate.ErrConfigLoad, err)
	}

	a := cfg.Authorization
	switch a.DefaultDecision {
	case config.DecisionAllow:
		return constant(true), nil
	case config.DecisionDeny:
		return constant(false), nil
	case config.DecisionPolicy:
		query := a.Policy.Query
		if query == "" {
			query = DefaultQuery
		}
		return opa.NewEngine().Authorizer(file.New(a.Policy.Path, query)), nil
	default: // config.DecisionRemote, the only mode left after Validate
		return remote.New(a.Remote.URL, a.Remote.TimeoutOrDefault(DefaultRemoteTimeout)).Func(), nil
	}
}

func constant(v bool) gate.AuthorizeFunc {
	return func(context.Context, gate.Params) any { return v }
}
