// Package synclock provides the reader/writer lock that guards a repository
// and its change history during synchronization.
//
// Acquisition is bounded: a caller that cannot obtain the lock within the
// configured timeout receives ErrTimeout instead of blocking forever. This is
// a liveness safety valve, NOT deadlock detection. There is no wait-for graph;
// a timeout only means "the lock stayed busy for too long", and the caller
// decides whether to retry.
//
// Re-entrancy is carried by the context. Acquire returns a derived context
// that records the held mode; acquiring the same lock again with that
// context is a no-op. A write holder may also take the read lock as a no-op.
//
// The one exception is read-to-write: a read holder asking for the write
// lock gets ErrUpgrade. Upgrading in place would have to wait for every other
// reader to leave, and two readers upgrading at once would each wait on the
// other until the timeout. Paths that may write take the write lock up front.
package synclock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// DefaultTimeout is the acquisition ceiling used when none is configured.
const DefaultTimeout = 15 * time.Second

// maxReaders bounds concurrent read holders. A writer acquires all slots.
const maxReaders = 1 << 30

// Mode is the way a lock is held.
type Mode int

const (
	// Unheld means the context does not hold the lock.
	Unheld Mode = iota
	// Read is shared access.
	Read
	// Write is exclusive access.
	Write
)

// String returns "read", "write" or "unheld".
func (m Mode) String() string {
	switch m {
	case Read:
		return "read"
	case Write:
		return "write"
	default:
		return "unheld"
	}
}

var (
	// ErrTimeout is returned when the lock could not be obtained in time.
	ErrTimeout = errors.New("lock not obtainable")

	// ErrUpgrade is returned when a read holder asks for the write lock.
	ErrUpgrade = errors.New("cannot upgrade read lock to write lock")
)

// TimeoutError describes a failed bounded acquisition.
// It matches ErrTimeout with errors.Is.
type TimeoutError struct {
	Lock    string
	Mode    Mode
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s lock %q not obtainable within %s", e.Mode, e.Lock, e.Timeout)
}

// Is reports whether target is ErrTimeout.
func (e *TimeoutError) Is(target error) bool {
	return target == ErrTimeout
}

// Lock is a reader/writer lock with bounded waits.
//
// Waiters are served in FIFO order, so a pending writer holds back readers
// that arrive after it and cannot be starved.
//
// Thread-safety: safe for concurrent use.
type Lock struct {
	name    string
	timeout time.Duration
	sem     *semaphore.Weighted
}

// Option configures a Lock.
type Option func(*Lock)

// WithTimeout sets the acquisition ceiling.
// Non-positive values fall back to DefaultTimeout.
func WithTimeout(d time.Duration) Option {
	return func(l *Lock) {
		if d > 0 {
			l.timeout = d
		}
	}
}

// New creates an unlocked Lock. The name appears in errors and logs.
func New(name string, opts ...Option) *Lock {
	l := &Lock{
		name:    name,
		timeout: DefaultTimeout,
		sem:     semaphore.NewWeighted(maxReaders),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Name returns the lock name.
func (l *Lock) Name() string {
	return l.name
}

// Timeout returns the acquisition ceiling.
func (l *Lock) Timeout() time.Duration {
	return l.timeout
}

// heldKey scopes the held marker to one lock instance.
type heldKey struct{ l *Lock }

// Held returns the mode in which ctx holds the lock.
func (l *Lock) Held(ctx context.Context) Mode {
	if m, ok := ctx.Value(heldKey{l}).(Mode); ok {
		return m
	}
	return Unheld
}

// AcquireRead takes the lock in shared mode.
//
// Returns a context marking the lock as held and a release function. The
// release function is idempotent. The returned context must not be used to
// skip acquisition after release.
func (l *Lock) AcquireRead(ctx context.Context) (context.Context, func(), error) {
	return l.acquire(ctx, Read)
}

// AcquireWrite takes the lock in exclusive mode. See AcquireRead.
func (l *Lock) AcquireWrite(ctx context.Context) (context.Context, func(), error) {
	return l.acquire(ctx, Write)
}

func (l *Lock) acquire(ctx context.Context, mode Mode) (context.Context, func(), error) {
	switch held := l.Held(ctx); {
	case held == Write, held == Read && mode == Read:
		// Re-entrant: the caller already holds a sufficient mode.
		return ctx, func() {}, nil
	case held == Read && mode == Write:
		return nil, nil, fmt.Errorf("lock %q: %w", l.name, ErrUpgrade)
	}

	weight := int64(1)
	if mode == Write {
		weight = maxReaders
	}

	waitCtx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	if err := l.sem.Acquire(waitCtx, weight); err != nil {
		if ctx.Err() != nil {
			// The caller gave up, which is cancellation rather than a timeout.
			return nil, nil, ctx.Err()
		}
		return nil, nil, &TimeoutError{Lock: l.name, Mode: mode, Timeout: l.timeout}
	}

	var once sync.Once
	release := func() {
		once.Do(func() { l.sem.Release(weight) })
	}
	return context.WithValue(ctx, heldKey{l}, mode), release, nil
}
