package gate

import (
	"errors"
	"sort"
	"strings"
	"sync"
)

// Registry holds the authorization declarations attached to schema fields,
// keyed by "Type.field". It is filled while the schema is built and only
// read afterwards.
type Registry struct {
	decls map[string]Declaration
	mu    sync.RWMutex
}

// NewRegistry creates a new empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		decls: make(map[string]Declaration),
	}
}

// Register attaches a raw declaration value to a field.
// If the field already has one, it will be replaced.
func (r *Registry) Register(typeName, fieldName string, v any) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.decls[typeName+"."+fieldName] = DeclarationFrom(v)
}

// Lookup retrieves the declaration of a field.
func (r *Registry) Lookup(typeName, fieldName string) (Declaration, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.decls[typeName+"."+fieldName]
	return d, ok
}

// Meta builds the FieldMeta for a field, carrying its declaration (if any)
// under ExtensionKey.
func (r *Registry) Meta(typeName, fieldName string) FieldMeta {
	m := FieldMeta{TypeName: typeName, FieldName: fieldName}
	if d, ok := r.Lookup(typeName, fieldName); ok {
		m.Extensions = map[string]any{ExtensionKey: d}
	}
	return m
}

// Misconfigured returns one error per misconfigured declaration, ordered
// by field path.
func (r *Registry) Misconfigured() []*MisconfiguredFieldError {
	r.mu.RLock()
	defer r.mu.RUnlock()

	paths := make([]string, 0, len(r.decls))
	for path, d := range r.decls {
		if d.Misconfigured() {
			paths = append(paths, path)
		}
	}
	sort.Strings(paths)

	out := make([]*MisconfiguredFieldError, 0, len(paths))
	for _, path := range paths {
		typeName, fieldName, _ := strings.Cut(path, ".")
		out = append(out, &MisconfiguredFieldError{
			Field: FieldMeta{TypeName: typeName, FieldName: fieldName},
			Value: r.decls[path].Raw,
		})
	}
	return out
}

// Validate joins the errors reported by Misconfigured.
func (r *Registry) Validate() error {
	var errs []error
	for _, err := range r.Misconfigured() {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
