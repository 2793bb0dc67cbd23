package loader

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/asimihsan/field_auth/internal/config"
	"github.com/asimihsan/field_auth/pkg/gate"
)

// snapshot represents a cached configuration with metadata
type snapshot struct {
	path  string
	cfg   *config.AppConfig
	sha   string    // SHA-256 hash of the file content
	mtime time.Time // Last modification time
}

// Cached configuration for atomic access
var cachedConfig atomic.Value // *snapshot

// LoadFromPathWithSHA loads, validates and caches a Pkl configuration file and
// returns the config along with the SHA-256 of its source.
func LoadFromPathWithSHA(ctx context.Context, path string) (*config.AppConfig, string, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, "", fmt.Errorf("%w: resolving path %s: %v", gate.ErrConfigLoad, path, err)
	}

	fileInfo, err := os.Stat(absPath)
	if err != nil {
		return nil, "", fmt.Errorf("%w: stat %s: %v", gate.ErrConfigLoad, absPath, err)
	}

	if cached, ok := cachedConfig.Load().(*snapshot); ok && cached != nil {
		if cached.path == absPath && cached.mtime.Equal(fileInfo.ModTime()) {
			return cached.cfg, cached.sha, nil
		}
	}

	content, err := os.ReadFile(absPath)
	if err != nil {
		return nil, "", fmt.Errorf("%w: reading %s: %v", gate.ErrConfigLoad, absPath, err)
	}
	hash := sha256.Sum256(content)
	hashStr := hex.EncodeToString(hash[:])

	cfg, err := config.LoadFromPath(ctx, absPath)
	if err != nil {
		return nil, "", fmt.Errorf("%w: evaluating %s: %v", gate.ErrConfigLoad, absPath, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", fmt.Errorf("%w: %s: %v", gate.ErrConfigLoad, absPath, err)
	}

	cachedConfig.Store(&snapshot{
		path:  absPath,
		cfg:   cfg,
		sha:   hashStr,
		mtime: fileInfo.ModTime(),
	})

	return cfg, hashStr, nil
}
