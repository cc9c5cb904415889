// Package formula implements the layered configuration resolver for the
// uv formula: it merges embedded defaults, grain-keyed parameter documents,
// pillar overrides and per-user overlays into one immutable configuration
// tree plus a resolved set of per-user specifications.
package formula

import (
	"errors"
	"fmt"
)

// ValidationError reports an enumerated field holding an unrecognized value.
// It is fatal: the resolution pass aborts and no configuration is produced.
type ValidationError struct {
	// Field is the dotted path of the offending field (e.g. "install_method").
	Field string `json:"field"`

	// Value is the rejected value.
	Value any `json:"value"`

	// Allowed lists the accepted values, when the set is enumerable.
	Allowed []string `json:"allowed,omitempty"`
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if len(e.Allowed) > 0 {
		return fmt.Sprintf("invalid value %v for %s (allowed: %v)", e.Value, e.Field, e.Allowed)
	}
	return fmt.Sprintf("invalid value %v for %s", e.Value, e.Field)
}

// Is implements error equality for errors.Is: two validation errors match
// when they name the same field.
func (e *ValidationError) Is(target error) bool {
	t, ok := target.(*ValidationError)
	if !ok {
		return false
	}
	return t.Field == "" || t.Field == e.Field
}

// TypeConflictError reports an override document supplying a value whose
// structural type conflicts with the value already present at that key.
// It is fatal and always names the offending source document and key path.
type TypeConflictError struct {
	// Source is the override document the conflicting value came from.
	Source string `json:"source"`

	// Path is the dotted key path of the conflict (e.g. "tools.ruff").
	Path string `json:"path"`

	// Existing describes the structural type already present.
	Existing string `json:"existing"`

	// Incoming describes the structural type of the override value.
	Incoming string `json:"incoming"`
}

// Error implements the error interface.
func (e *TypeConflictError) Error() string {
	return fmt.Sprintf("%s: type conflict at %s: cannot merge %s into %s",
		e.Source, e.Path, e.Incoming, e.Existing)
}

// IsValidation returns true if the error chain contains a ValidationError.
func IsValidation(err error) bool {
	var e *ValidationError
	return errors.As(err, &e)
}

// IsTypeConflict returns true if the error chain contains a TypeConflictError.
func IsTypeConflict(err error) bool {
	var e *TypeConflictError
	return errors.As(err, &e)
}
