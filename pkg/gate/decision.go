package gate

// Decision represents the canonical outcome of evaluating a field's
// authorization. Reason is nil when Allow is true.
type Decision struct {
	Allow  bool
	Reason error
}

// Allowed is the Decision for a permitted access.
func Allowed() Decision { return Decision{Allow: true} }

// Denied is the Decision for a refused access.
func Denied(reason error) Decision { return Decision{Reason: reason} }
