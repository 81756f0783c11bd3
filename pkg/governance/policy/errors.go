package policy

import (
	"errors"
	"fmt"
)

// Sentinel errors for the policy document pipeline.
var (
	ErrNotFound         = errors.New("policy: document not found")
	ErrInvalidYAML      = errors.New("policy: invalid YAML syntax")
	ErrValidationFailed = errors.New("policy: validation failed")

	// ErrFailClosed names the fail-closed state a failed policy load puts
	// the Governance Engine in. Neither Load nor Engine.Evaluate returns
	// it: Load returns the underlying error, and a fail-closed Engine
	// answers every action with a deny decision and a nil error.
	ErrFailClosed = errors.New("policy: failed to load, failing closed")
)

// ValidationError wraps a single field's validation failure with enough
// context to act on it.
type ValidationError struct {
	Document string
	Field    string
	Err      error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("policy %s: field %q: %v", e.Document, e.Field, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }
