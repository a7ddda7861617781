package bundle

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound is returned when a bundle has not been created.
	ErrNotFound = errors.New("bundle not found")

	// ErrTokenMismatch is returned by a compare-and-swap write when the stored
	// bundle changed since the caller's token was issued. Callers must re-read,
	// recompute and re-validate; never retry blindly.
	ErrTokenMismatch = errors.New("concurrency token mismatch")

	// ErrLockHeld is returned when another principal holds an unexpired publish lock.
	ErrLockHeld = errors.New("publish lock held")
)

// LockHeldError carries the holder of a contested publish lock.
type LockHeldError struct {
	Holder    string
	ExpiresAt time.Time
}

func (e *LockHeldError) Error() string {
	if e.Holder == "" {
		return ErrLockHeld.Error()
	}
	return fmt.Sprintf("%s by %s until %s", ErrLockHeld.Error(), e.Holder, e.ExpiresAt.UTC().Format(time.RFC3339))
}

// Is makes errors.Is(err, ErrLockHeld) true for LockHeldError values.
func (e *LockHeldError) Is(target error) bool {
	return target == ErrLockHeld
}

// IsNotFound returns true if the error is a missing-bundle error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
