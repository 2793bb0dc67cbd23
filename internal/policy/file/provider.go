package file

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/open-policy-agent/opa/v1/ast"
	"github.com/open-policy-agent/opa/v1/rego"

	"github.com/asimihsan/field_auth/internal/engine/opa"
	"github.com/asimihsan/field_auth/pkg/gate"
)

// DefaultQuery is the decision document field policies are expected to define.
const DefaultQuery = "data.field_auth.response"

// Provider implements gate.PolicyProvider for a single Rego file holding
// field policies. The file is recompiled when its modification time changes;
// while it does not compile every field using it is denied with the load error.
type Provider struct {
	PolicyPath string
	Query      string

	mu     sync.Mutex
	bundle *opa.OpaPolicyBundle
	mtime  time.Time
}

var _ gate.PolicyProvider = (*Provider)(nil)

// New creates a new file-based policy provider. An empty query means DefaultQuery.
func New(policyPath, query string) *Provider {
	if query == "" {
		query = DefaultQuery
	}
	return &Provider{
		PolicyPath: policyPath,
		Query:      query,
	}
}

// GetPolicyBundle implements gate.PolicyProvider.
func (p *Provider) GetPolicyBundle(ctx context.Context) (gate.PolicyBundle, error) {
	info, err := os.Stat(p.PolicyPath)
	if err != nil {
		return nil, fmt.Errorf("%w: stat policy file %s: %v", gate.ErrPolicyLoad, p.PolicyPath, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.bundle != nil && p.mtime.Equal(info.ModTime()) {
		return p.bundle, nil
	}

	bundle, err := p.load(ctx)
	if err != nil {
		return nil, err
	}
	p.bundle, p.mtime = bundle, info.ModTime()
	return bundle, nil
}

func (p *Provider) load(ctx context.Context) (*opa.OpaPolicyBundle, error) {
	policyBytes, err := os.ReadFile(p.PolicyPath)
	if err != nil {
		return nil, fmt.Errorf("%w: reading policy file %s: %v", gate.ErrPolicyLoad, p.PolicyPath, err)
	}

	moduleName := filepath.Base(p.PolicyPath)
	compiler, err := ast.CompileModules(map[string]string{
		moduleName: string(policyBytes),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: compiling field policy %s: %v", gate.ErrPolicyLoad, moduleName, err)
	}

	pq, err := rego.New(
		rego.Query(p.Query),
		rego.Compiler(compiler),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: preparing policy query '%s': %v", gate.ErrPolicyLoad, p.Query, err)
	}

	// A query the module never defines evaluates to nothing and would deny
	// every field with an evaluation error; reject it here instead.
	rs, err := pq.Eval(ctx, rego.EvalInput(map[string]any{
		"type":   "",
		"field":  "",
		"args":   map[string]any{},
		"parent": nil,
	}))
	if err != nil {
		return nil, fmt.Errorf("%w: evaluating '%s' in %s: %v", gate.ErrPolicyLoad, p.Query, moduleName, err)
	}
	if len(rs) == 0 {
		return nil, fmt.Errorf("%w: %s does not define a field decision at '%s'", gate.ErrPolicyLoad, moduleName, p.Query)
	}

	// SHA256 of the policy file identifies the bundle version
	hash := sha256.Sum256(policyBytes)
	return &opa.OpaPolicyBundle{
		BundleID:      hex.EncodeToString(hash[:]),
		PreparedQuery: pq,
	}, nil
}
