// Package shared contains common error types and utilities.
package shared

import (
	"context"
	"errors"
	"fmt"
)

// Domain errors surfaced by the lifecycle manager and query gateway.
var (
	// ErrCapabilityUnavailable indicates the host runtime lacks a required
	// primitive even after shimming. Fatal for the current initialization,
	// never retried.
	ErrCapabilityUnavailable = errors.New("capability unavailable")

	// ErrEngineConstruction indicates the engine instance could not be
	// created for the configured store location. Retried within the
	// attempt budget.
	ErrEngineConstruction = errors.New("engine construction failed")

	// ErrSchemaInstall indicates the DDL/seed step failed. Retried within
	// the attempt budget.
	ErrSchemaInstall = errors.New("schema installation failed")

	// ErrNotReady indicates a query, exec or transaction was attempted
	// while the engine is not ready. Surfaced immediately, never retried.
	ErrNotReady = errors.New("engine not ready")

	// ErrTransactionFailed indicates the body of a transaction failed and
	// the transaction was rolled back.
	ErrTransactionFailed = errors.New("transaction failed")
)

// Kind classifies an error for handling decisions such as retry
// eligibility and HTTP status mapping.
type Kind int

const (
	// KindUnknown represents an unclassified error.
	KindUnknown Kind = iota
	// KindCapability represents a missing host primitive.
	KindCapability
	// KindConstruction represents an engine construction failure.
	KindConstruction
	// KindSchema represents a schema installation failure.
	KindSchema
	// KindNotReady represents a call made before readiness.
	KindNotReady
	// KindTransaction represents a rolled-back transaction.
	KindTransaction
	// KindCanceled represents context cancellation.
	KindCanceled
)

// String returns the string representation of the Kind.
func (k Kind) String() string {
	switch k {
	case KindCapability:
		return "Capability"
	case KindConstruction:
		return "Construction"
	case KindSchema:
		return "Schema"
	case KindNotReady:
		return "NotReady"
	case KindTransaction:
		return "Transaction"
	case KindCanceled:
		return "Canceled"
	default:
		return "Unknown"
	}
}

// kindPriorities defines the deterministic order for classification.
// Cancellation outranks everything; startup failures outrank call-site
// failures so that a joined error reports its root cause.
var kindPriorities = []struct {
	kind Kind
	err  error
}{
	{KindCanceled, nil},
	{KindCapability, ErrCapabilityUnavailable},
	{KindConstruction, ErrEngineConstruction},
	{KindSchema, ErrSchemaInstall},
	{KindNotReady, ErrNotReady},
	{KindTransaction, ErrTransactionFailed},
}

// KindOf returns the Kind of the given error by traversing the error
// chain against the known sentinels in priority order. Returns
// KindUnknown for unrecognized errors.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	for _, p := range kindPriorities {
		if p.kind == KindCanceled {
			if errors.Is(err, context.Canceled) {
				return KindCanceled
			}
			continue
		}
		if errors.Is(err, p.err) {
			return p.kind
		}
	}
	return KindUnknown
}

// Retryable reports whether the error represents a transient startup
// failure that the lifecycle retry loop may attempt again. Capability
// failures are preconditions, not transient faults.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindConstruction, KindSchema:
		return true
	default:
		return false
	}
}

// Mark wraps err with the sentinel for the given kind, preserving the
// original error through the chain. Idempotent: an error that already
// carries the kind is returned unchanged.
func Mark(err error, kind Kind) error {
	if err == nil {
		return nil
	}
	if KindOf(err) == kind {
		return err
	}
	var sentinel error
	for _, p := range kindPriorities {
		if p.kind == kind {
			sentinel = p.err
			break
		}
	}
	if sentinel == nil {
		return err
	}
	return fmt.Errorf("%w: %w", sentinel, err)
}

// Wrap wraps an error with additional context, formatting as
// "context: err". Returns nil when err is nil.
func Wrap(err error, context string) error {
	if err == nil {
		return nil
	}
	if context == "" {
		return err
	}
	return fmt.Errorf("%s: %w", context, err)
}

// Wrapf wraps an error with a formatted context message.
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return Wrap(err, fmt.Sprintf(format, args...))
}

// IsNotReady reports whether the error indicates a call before readiness.
func IsNotReady(err error) bool {
	return errors.Is(err, ErrNotReady)
}

// IsCapability reports whether the error indicates a missing host primitive.
func IsCapability(err error) bool {
	return errors.Is(err, ErrCapabilityUnavailable)
}
