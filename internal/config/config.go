// Package config holds the application configuration evaluated from Pkl.
package config

import (
	"context"
	"fmt"
	"time"

	"github.com/apple/pkl-go/pkl"
)

// Default decision modes.
const (
	DecisionAllow  = "allow"
	DecisionDeny   = "deny"
	DecisionPolicy = "policy"
	DecisionRemote = "remote"
)

// AppConfig mirrors policy/local/AppConfig.pkl.
type AppConfig struct {
	Server        *Server        `pkl:"server"`
	Logger        *Logger        `pkl:"logger"`
	Authorization *Authorization `pkl:"authorization"`
}

type Server struct {
	ListenAddr string `pkl:"listenAddr"`
}

type Logger struct {
	Level  string `pkl:"level"`
	Format string `pkl:"format"`
}

type Authorization struct {
	// DefaultDecision selects the authorize function for undeclared fields.
	DefaultDecision string `pkl:"defaultDecision"`

	// Concurrency bounds sibling field resolution.
	Concurrency int `pkl:"concurrency"`

	Policy *Policy `pkl:"policy"`
	Remote *Remote `pkl:"remote"`
}

type Policy struct {
	Path  string `pkl:"path"`
	Query string `pkl:"query"`
}

type Remote struct {
	URL     string        `pkl:"url"`
	Timeout *pkl.Duration `pkl:"timeout"`
}

// TimeoutOrDefault returns the configured timeout, or d when unset.
func (r *Remote) TimeoutOrDefault(d time.Duration) time.Duration {
	if r == nil || r.Timeout == nil {
		return d
	}
	return r.Timeout.GoDuration()
}

// Validate checks cross-field constraints Pkl cannot express on its own.
func (c *AppConfig) Validate() error {
	if c.Authorization == nil {
		return fmt.Errorf("authorization section is required")
	}
	a := c.Authorization
	switch a.DefaultDecision {
	case DecisionAllow, DecisionDeny:
	case DecisionPolicy:
		if a.Policy == nil || a.Policy.Path == "" {
			return fmt.Errorf("defaultDecision %q requires authorization.policy.path", a.DefaultDecision)
		}
	case DecisionRemote:
		if a.Remote == nil || a.Remote.URL == "" {
			return fmt.Errorf("defaultDecision %q requires authorization.remote.url", a.DefaultDecision)
		}
	default:
		return fmt.Errorf("unknown defaultDecision %q", a.DefaultDecision)
	}
	if a.Concurrency < 0 {
		return fmt.Errorf("concurrency must not be negative, got %d", a.Concurrency)
	}
	return nil
}

// LoadFromPath loads the pkl module at the given path and evaluates it into an AppConfig
func LoadFromPath(ctx context.Context, path string) (ret *AppConfig, err error) {
	evaluator, err := pkl.NewEvaluator(ctx, pkl.PreconfiguredOptions)
	if err != nil {
		return nil, err
	}
	defer func() {
		cerr := evaluator.Close()
		if err == nil {
			err = cerr
		}
	}()
	return Load(ctx, evaluator, pkl.FileSource(path))
}

// Load loads the pkl module at the given source and evaluates it with the given evaluator into an AppConfig
func Load(ctx context.Context, evaluator pkl.Evaluator, source *pkl.ModuleSource) (*AppConfig, error) {
	var ret AppConfig
	if err := evaluator.EvaluateModule(ctx, source, &ret); err != nil {
		return nil, err
	}
	return &ret, nil
}
