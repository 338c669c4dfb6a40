package goflow

import (
	"errors"
	"fmt"
)

var (
	// ErrTypeMismatch is returned when a value is read as a type other than
	// the one it was stored as. It is never retried.
	ErrTypeMismatch = errors.New("type mismatch")

	// ErrKeyNotFound is returned when a shared or params key is missing.
	ErrKeyNotFound = errors.New("key not found")

	// ErrFallbackFailed marks an execute phase whose retries and fallback
	// were both exhausted. It aborts the enclosing run.
	ErrFallbackFailed = errors.New("fallback failed")

	// ErrInvalidRetryPolicy is returned by RetryPolicy.Validate.
	ErrInvalidRetryPolicy = errors.New("invalid retry policy")
)

// TypeMismatchError describes a checked read that found a different type.
type TypeMismatchError struct {
	Key      string
	Expected string
	Actual   string
}

func (e *TypeMismatchError) Error() string {
	return fmt.Sprintf("key %q: expected %s, stored %s", e.Key, e.Expected, e.Actual)
}

func (e *TypeMismatchError) Unwrap() error {
	return ErrTypeMismatch
}

// FallbackError reports an execute phase that could not recover. Item is
// the element index for batch nodes and -1 otherwise.
type FallbackError struct {
	Node     string
	Item     int
	Attempts int
	Err      error
}

func (e *FallbackError) Error() string {
	if e.Item >= 0 {
		return fmt.Sprintf("node %s item %d: fallback failed after %d attempts: %v", e.Node, e.Item, e.Attempts, e.Err)
	}
	return fmt.Sprintf("node %s: fallback failed after %d attempts: %v", e.Node, e.Attempts, e.Err)
}

func (e *FallbackError) Unwrap() []error {
	return []error{ErrFallbackFailed, e.Err}
}

// Phase names a step of the node cycle.
type Phase string

const (
	PhasePrep Phase = "prep"
	PhaseExec Phase = "exec"
	PhasePost Phase = "post"
)

// PhaseError wraps a fatal prep or post failure.
type PhaseError struct {
	Node  string
	Phase Phase
	Err   error
}

func (e *PhaseError) Error() string {
	return fmt.Sprintf("node %s: %s failed: %v", e.Node, e.Phase, e.Err)
}

func (e *PhaseError) Unwrap() error {
	return e.Err
}
