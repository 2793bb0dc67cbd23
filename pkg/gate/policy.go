package gate

import "context"

// PolicyBundle holds a compiled authorization policy and its metadata.
type PolicyBundle interface {
	ID() string // e.g., SHA of the policy source
}

// PolicyProvider retrieves PolicyBundles.
type PolicyProvider interface {
	// GetPolicyBundle fetches the current policy bundle (e.g., from a file).
	// Should return ErrPolicyLoad on failure.
	GetPolicyBundle(ctx context.Context) (PolicyBundle, error)
}
