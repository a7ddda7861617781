package publish

import (
	"context"
	"fmt"
	"time"

	"github.com/dyluth/guidepost/pkg/bundle"
)

// DefaultLockTTL bounds how long a crashed publisher can block others.
const DefaultLockTTL = 30 * time.Second

// Locker acquires and releases the singleton publish lock with a fixed TTL.
//
// The lock is advisory. Correctness of the bundles comes from the per-write
// tokens; the lock only keeps two publishers from thrashing each other.
type Locker struct {
	store LockStore
	ttl   time.Duration
	now   func() time.Time
}

// NewLocker creates a Locker. A zero ttl uses DefaultLockTTL; a nil clock uses time.Now.
func NewLocker(store LockStore, ttl time.Duration, now func() time.Time) *Locker {
	if ttl <= 0 {
		ttl = DefaultLockTTL
	}
	if now == nil {
		now = time.Now
	}
	return &Locker{store: store, ttl: ttl, now: now}
}

// TTL returns the configured lock lifetime.
func (l *Locker) TTL() time.Duration {
	return l.ttl
}

// Acquire takes the lock for principal. Returns a *bundle.LockHeldError
// (matching bundle.ErrLockHeld) if another attempt holds an unexpired lock.
func (l *Locker) Acquire(ctx context.Context, principal string) (*bundle.PublishLock, error) {
	if principal == "" {
		return nil, invalidf("principal cannot be empty")
	}
	return l.store.AcquireLock(ctx, principal, l.now(), l.ttl)
}

// Release marks the lock unlocked. It does not check the holder: a release
// after expiry may free a lock another attempt has since taken. The tokens on
// every bundle write keep that harmless to content.
func (l *Locker) Release(ctx context.Context, principal string) error {
	if err := l.store.ReleaseLock(ctx, principal); err != nil {
		return fmt.Errorf("failed to release publish lock: %w", err)
	}
	return nil
}

// Status returns the current lock record and whether it is held right now.
func (l *Locker) Status(ctx context.Context) (*bundle.PublishLock, bool, error) {
	lock, err := l.store.GetLock(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("failed to read publish lock: %w", err)
	}
	return lock, lock.HeldAt(l.now()), nil
}
