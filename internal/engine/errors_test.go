package engine

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/roach88/replisync/internal/ir"
	"github.com/roach88/replisync/internal/synclock"
)

func TestSyncError_Error(t *testing.T) {
	err := NewConflictError(4, []ir.Key{ir.NewKey(1, 1, 1)})
	assert.Contains(t, err.Error(), "CONFLICT")
	assert.Contains(t, err.Error(), "replica=4")
	assert.Equal(t, ir.NewKey(1, 1, 1).String(), err.Details["keys"])
}

func TestSyncError_Predicates(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		conflict    bool
		timeout     bool
		cancelled   bool
		unsupported bool
	}{
		{name: "conflict", err: NewConflictError(1, nil), conflict: true},
		{name: "wrapped conflict", err: fmt.Errorf("chain: %w", NewConflictError(1, nil)), conflict: true},
		{name: "unsupported", err: NewUnsupportedError(1, "x"), unsupported: true},
		{name: "cancelled", err: NewCancelledError(1, "apply", context.Canceled), cancelled: true},
		{name: "bare canceled", err: context.Canceled, cancelled: true},
		{name: "bare timeout", err: &synclock.TimeoutError{Lock: "l", Mode: synclock.Write, Timeout: time.Second}, timeout: true},
		{name: "other", err: errors.New("disk full")},
		{name: "nil", err: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.conflict, IsConflictError(tt.err))
			assert.Equal(t, tt.timeout, IsLockTimeout(tt.err))
			assert.Equal(t, tt.cancelled, IsCancelled(tt.err))
			assert.Equal(t, tt.unsupported, IsUnsupported(tt.err))
		})
	}
}

func TestClassify(t *testing.T) {
	timeout := &synclock.TimeoutError{Lock: "l", Mode: synclock.Read, Timeout: time.Second}

	err := classify(fmt.Errorf("get: %w", timeout), 3, "resolve delta")
	var se *SyncError
	assert.True(t, errors.As(err, &se))
	assert.Equal(t, ErrCodeLockTimeout, se.Code)
	assert.Equal(t, ir.ReplicaID(3), se.Replica)
	assert.ErrorIs(t, err, synclock.ErrTimeout)

	err = classify(context.DeadlineExceeded, 3, "apply")
	assert.True(t, IsCancelled(err))
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	conflict := NewConflictError(3, nil)
	assert.Same(t, conflict, classify(conflict, 9, "x"))

	plain := errors.New("disk full")
	err = classify(plain, 3, "apply")
	assert.ErrorIs(t, err, plain)
	assert.Contains(t, err.Error(), "apply: disk full")

	assert.NoError(t, classify(nil, 3, "x"))
}
