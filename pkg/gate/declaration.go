package gate

import "context"

// Kind enumerates the shapes a field's authorization declaration can take.
type Kind int

const (
	// KindAbsent defers to the configured default authorize function.
	KindAbsent Kind = iota
	// KindStaticAllow is a literal true: always allowed, nothing is evaluated.
	KindStaticAllow
	// KindStaticMisconfigured is a literal false, which has no meaning as a gate.
	KindStaticMisconfigured
	// KindDynamic carries a field-level authorize function.
	KindDynamic
	// KindInvalid is any other value found in field metadata.
	KindInvalid
)

func (k Kind) String() string {
	switch k {
	case KindAbsent:
		return "absent"
	case KindStaticAllow:
		return "static_allow"
	case KindStaticMisconfigured:
		return "static_misconfigured"
	case KindDynamic:
		return "dynamic"
	default:
		return "invalid"
	}
}

// Declaration is the authorization requirement attached to a field.
// It is immutable once built.
type Declaration struct {
	Kind Kind
	Func AuthorizeFunc
	// Raw is the metadata value the declaration was read from.
	Raw any
}

// Absent returns a declaration that defers to the default authorize function.
func Absent() Declaration { return Declaration{Kind: KindAbsent} }

// Static returns the declaration for a literal boolean flag.
func Static(allow bool) Declaration {
	if allow {
		return Declaration{Kind: KindStaticAllow, Raw: true}
	}
	return Declaration{Kind: KindStaticMisconfigured, Raw: false}
}

// Dynamic returns a declaration backed by fn. A nil fn is Absent.
func Dynamic(fn AuthorizeFunc) Declaration {
	if fn == nil {
		return Absent()
	}
	return Declaration{Kind: KindDynamic, Func: fn, Raw: fn}
}

// Misconfigured reports whether the declaration can never be evaluated.
// A dynamic declaration without a function and an unknown kind count too.
func (d Declaration) Misconfigured() bool {
	switch d.Kind {
	case KindAbsent, KindStaticAllow:
		return false
	case KindDynamic:
		return d.Func == nil
	default:
		return true
	}
}

// DeclarationFrom classifies a raw metadata value.
func DeclarationFrom(v any) Declaration {
	switch x := v.(type) {
	case nil:
		return Absent()
	case Declaration:
		if x.Misconfigured() && x.Kind != KindStaticMisconfigured {
			return Declaration{Kind: KindInvalid, Raw: x}
		}
		return x
	case bool:
		return Static(x)
	case AuthorizeFunc:
		return Dynamic(x)
	case func(context.Context, Params) any:
		return Dynamic(x)
	case func(context.Context, Params) (bool, error):
		if x == nil {
			return Absent()
		}
		return Declaration{Kind: KindDynamic, Func: Bool(x), Raw: x}
	default:
		return Declaration{Kind: KindInvalid, Raw: v}
	}
}

// DeclarationOf reads the declaration stored in the field's extensions.
func DeclarationOf(m FieldMeta) Declaration {
	v, ok := m.Extensions[ExtensionKey]
	if !ok {
		return Absent()
	}
	return DeclarationFrom(v)
}
