package publish

import (
	"context"
	"time"

	"github.com/dyluth/guidepost/pkg/bundle"
)

// BundleStore is the compare-and-swap document store. It is the only primitive
// in the system that offers any consistency guarantee; everything in this
// package is built to tolerate its failures.
type BundleStore interface {
	// ReadBundle returns the bundle and a token valid for exactly the bytes read.
	// Returns bundle.ErrNotFound if the bundle was never seeded.
	ReadBundle(ctx context.Context, lang bundle.Lang) (*bundle.Snapshot, error)

	// WriteBundle stores data only if the stored bytes still match token.
	// Returns bundle.ErrTokenMismatch otherwise.
	WriteBundle(ctx context.Context, lang bundle.Lang, data bundle.Bundle, token bundle.Token) error
}

// LockStore persists the singleton publish lock.
type LockStore interface {
	GetLock(ctx context.Context) (*bundle.PublishLock, error)
	AcquireLock(ctx context.Context, principal string, now time.Time, ttl time.Duration) (*bundle.PublishLock, error)
	ReleaseLock(ctx context.Context, principal string) error
}

// VersionStore persists the singleton version counter.
type VersionStore interface {
	GetVersion(ctx context.Context) (int64, error)
	IncrementVersion(ctx context.Context) (int64, error)
}

// WorkflowStore persists per-guide workflow records.
type WorkflowStore interface {
	GetWorkflow(ctx context.Context, guideID string) (*bundle.WorkflowRecord, error)
	UpdateWorkflow(ctx context.Context, rec *bundle.WorkflowRecord) error
}

// Store is everything the publish service needs from a backend.
// Implemented by *bundle.Client (Redis) and *localstore.Store (Badger).
type Store interface {
	BundleStore
	LockStore
	VersionStore
	WorkflowStore
	Ping(ctx context.Context) error
}

// VersionNotifier is implemented by stores that can push version bumps to
// readers. Stores without it leave readers to poll.
type VersionNotifier interface {
	PublishVersionEvent(ctx context.Context, ev bundle.VersionEvent) error
}
