package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/roach88/replisync/internal/ir"
	"github.com/roach88/replisync/internal/synclock"
)

// SyncError represents a failed synchronization step.
//
// Sync errors include:
//   - Conflict: a Fail-strategy provider found concurrent edits
//   - Lock timeout: a repository or ledger lock stayed busy too long
//   - Cancelled: the caller's context was cancelled mid-operation
//   - Unsupported: the provider lacks the requested capability
//
// None of these are retried internally. Retry policy belongs to the caller.
type SyncError struct {
	// Code identifies the error category.
	Code ErrorCode

	// Message is a human-readable description.
	Message string

	// Replica identifies the remote replica involved, when known.
	Replica ir.ReplicaID

	// Keys lists the conflicting entity keys (conflict errors only).
	Keys []ir.Key

	// Details contains additional context.
	Details map[string]string

	// Err is the underlying cause, if any.
	Err error
}

// ErrorCode categorizes sync errors.
type ErrorCode string

const (
	// ErrCodeConflict indicates concurrent edits under the Fail strategy.
	ErrCodeConflict ErrorCode = "CONFLICT"

	// ErrCodeLockTimeout indicates a lock could not be obtained in time.
	ErrCodeLockTimeout ErrorCode = "LOCK_TIMEOUT"

	// ErrCodeCancelled indicates cooperative cancellation.
	ErrCodeCancelled ErrorCode = "CANCELLED"

	// ErrCodeUnsupported indicates a capability the provider does not have.
	ErrCodeUnsupported ErrorCode = "UNSUPPORTED"
)

// Error implements the error interface.
func (e *SyncError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.Replica != 0 {
		msg += fmt.Sprintf(" (replica=%d)", e.Replica)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause, so a cancelled error still matches
// context.Canceled and a lock timeout still matches synclock.ErrTimeout.
func (e *SyncError) Unwrap() error {
	return e.Err
}

func hasCode(err error, code ErrorCode) bool {
	var se *SyncError
	if errors.As(err, &se) {
		return se.Code == code
	}
	return false
}

// IsConflictError returns true if the error is a sync conflict.
// Uses errors.As to handle wrapped errors.
func IsConflictError(err error) bool {
	return hasCode(err, ErrCodeConflict)
}

// IsLockTimeout returns true if the error is a lock timeout.
// Matches both SyncError with ErrCodeLockTimeout and a bare
// synclock.ErrTimeout.
func IsLockTimeout(err error) bool {
	return hasCode(err, ErrCodeLockTimeout) || errors.Is(err, synclock.ErrTimeout)
}

// IsCancelled returns true if the error reports cancellation.
func IsCancelled(err error) bool {
	return hasCode(err, ErrCodeCancelled) || errors.Is(err, context.Canceled)
}

// IsUnsupported returns true if the error reports a missing capability.
func IsUnsupported(err error) bool {
	return hasCode(err, ErrCodeUnsupported)
}

// NewConflictError creates a SyncError for conflicting keys.
func NewConflictError(replica ir.ReplicaID, keys []ir.Key) *SyncError {
	names := make([]string, len(keys))
	for i, k := range keys {
		names[i] = k.String()
	}
	return &SyncError{
		Code:    ErrCodeConflict,
		Message: fmt.Sprintf("%d entities changed on both sides", len(keys)),
		Replica: replica,
		Keys:    keys,
		Details: map[string]string{
			"keys": strings.Join(names, ","),
		},
	}
}

// NewUnsupportedError creates a SyncError for a missing capability.
func NewUnsupportedError(replica ir.ReplicaID, capability string) *SyncError {
	return &SyncError{
		Code:    ErrCodeUnsupported,
		Message: fmt.Sprintf("provider does not support %s", capability),
		Replica: replica,
		Details: map[string]string{
			"capability": capability,
		},
	}
}

// NewCancelledError creates a SyncError wrapping a context error.
func NewCancelledError(replica ir.ReplicaID, step string, cause error) *SyncError {
	return &SyncError{
		Code:    ErrCodeCancelled,
		Message: fmt.Sprintf("cancelled during %s", step),
		Replica: replica,
		Details: map[string]string{
			"step": step,
		},
		Err: cause,
	}
}

// classify converts lock timeouts and context errors into SyncErrors.
// Other errors, including existing SyncErrors, pass through unchanged.
func classify(err error, replica ir.ReplicaID, step string) error {
	if err == nil {
		return nil
	}
	var se *SyncError
	if errors.As(err, &se) {
		return err
	}
	switch {
	case errors.Is(err, synclock.ErrTimeout):
		return &SyncError{
			Code:    ErrCodeLockTimeout,
			Message: fmt.Sprintf("lock not obtainable during %s", step),
			Replica: replica,
			Details: map[string]string{"step": step},
			Err:     err,
		}
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return NewCancelledError(replica, step, err)
	}
	return fmt.Errorf("%s: %w", step, err)
}

// checkpoint reports cancellation observed between protocol steps.
func checkpoint(ctx context.Context, replica ir.ReplicaID, step string) error {
	if err := ctx.Err(); err != nil {
		return NewCancelledError(replica, step, err)
	}
	return nil
}
