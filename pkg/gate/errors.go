package gate

import (
	"errors"
	"fmt"
)

// Standard error types for gate operations
var (
	ErrNotAuthorized             = errors.New("gate: not authorized")
	ErrDecisionContract          = errors.New("gate: authorize function returned an unsupported value")
	ErrFieldMisconfigured        = errors.New("gate: field authorization is misconfigured")
	ErrFormatterContract         = errors.New("gate: error formatter returned nil")
	ErrMissingDefaultAuthorize   = errors.New("gate: default authorize function is required")
	ErrDecisionSourceUnavailable = errors.New("gate: decision source unavailable")
	ErrPolicyEvaluation          = errors.New("gate: policy evaluation failed")
	ErrPolicyLoad                = errors.New("gate: policy bundle could not be loaded")
	ErrConfigLoad                = errors.New("gate: configuration could not be loaded")
)

// IsWrappingError checks if err is wrapping the target error using errors.Is.
// This is a helper for testing error wrapping.
func IsWrappingError(err, target error) bool {
	return errors.Is(err, target)
}

// NotAuthorizedError is the canonical denial raised by the default formatter.
// The original reason stays reachable through Unwrap.
type NotAuthorizedError struct {
	Cause error
}

func (e *NotAuthorizedError) Error() string { return "Not authorized" }

func (e *NotAuthorizedError) Unwrap() error { return e.Cause }

func (e *NotAuthorizedError) Is(target error) bool { return target == ErrNotAuthorized }

// DecisionContractError reports an authorize function that produced
// something other than a bool or an error.
type DecisionContractError struct {
	Field FieldMeta
	Value any
}

func (e *DecisionContractError) Error() string {
	return fmt.Sprintf("gate: authorize function for %s returned %v (%T), expected bool or error",
		e.Field.Path(), e.Value, e.Value)
}

func (e *DecisionContractError) Is(target error) bool { return target == ErrDecisionContract }

// MisconfiguredFieldError reports a declaration that is neither a function
// nor true. The field access is aborted without calling the resolver.
type MisconfiguredFieldError struct {
	Field FieldMeta
	Value any
}

func (e *MisconfiguredFieldError) Error() string {
	if b, ok := e.Value.(bool); ok && !b {
		return fmt.Sprintf("gate: field %s declares authorize=false; use a function to deny access", e.Field.Path())
	}
	return fmt.Sprintf("gate: field %s declares unsupported authorize value %v (%T)", e.Field.Path(), e.Value, e.Value)
}

func (e *MisconfiguredFieldError) Is(target error) bool { return target == ErrFieldMisconfigured }

// PanicError carries a value recovered from a panicking authorize function.
type PanicError struct {
	Value any
}

func newPanicError(v any) error {
	return &PanicError{Value: v}
}

func (e *PanicError) Error() string {
	if err, ok := e.Value.(error); ok {
		return err.Error()
	}
	return fmt.Sprint(e.Value)
}

// Unwrap exposes the panic value when it was itself an error.
func (e *PanicError) Unwrap() error {
	err, _ := e.Value.(error)
	return err
}
