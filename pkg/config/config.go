package config

import (
	"context"
	"fmt"

	"github.com/asimihsan/field_auth/internal/config"
	"github.com/asimihsan/field_auth/pkg/config/loader"
)

// DefaultPath is the local configuration module.
const DefaultPath = "policy/local/local.pkl"

// Evaluate loads and validates the configuration at DefaultPath.
func Evaluate(ctx context.Context) (*config.AppConfig, error) {
	cfg, _, err := loader.LoadFromPathWithSHA(ctx, DefaultPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}
