package gate

import "context"

// ExtensionKey is the field extension under which a declaration is stored.
const ExtensionKey = "authorize"

// FieldMeta identifies the field being resolved.
type FieldMeta struct {
	TypeName   string
	FieldName  string
	Extensions map[string]any
}

// Path returns "Type.field", used in diagnostics.
func (m FieldMeta) Path() string {
	return m.TypeName + "." + m.FieldName
}

// Params is the evaluation context of a single field access. The shared
// request context travels separately as the context.Context argument.
type Params struct {
	Parent any
	Args   map[string]any
	Field  FieldMeta
}

// FieldResolver is the next stage of the pipeline. It may return a *Future
// as its value to signal pending work.
type FieldResolver func(ctx context.Context, p Params) (any, error)

// AuthorizeFunc decides whether a field access may proceed. It returns true,
// false, an error, or a *Future settling to one of those. Any other value is
// a contract violation.
type AuthorizeFunc func(ctx context.Context, p Params) any

// Bool adapts a conventional Go decision function to an AuthorizeFunc.
// A non-nil error denies with that error as the reason.
func Bool(fn func(ctx context.Context, p Params) (bool, error)) AuthorizeFunc {
	return func(ctx context.Context, p Params) any {
		ok, err := fn(ctx, p)
		if err != nil {
			return err
		}
		return ok
	}
}

// FormatErrorFunc builds the error raised for a denial. It must not return nil.
//
// It also receives *DecisionContractError causes, so callers can shape them.
// Without a custom formatter those are raised as they are, keeping their
// message apart from "Not authorized".
type FormatErrorFunc func(ctx context.Context, cause error, p Params) error

// DefaultFormatError wraps cause in a *NotAuthorizedError.
func DefaultFormatError(_ context.Context, cause error, _ Params) error {
	return &NotAuthorizedError{Cause: cause}
}
