// Package localstore is an embedded BadgerDB backend with the same contract as
// the Redis client in pkg/bundle. It suits single-node deployments, local
// editing and tests.
//
// Every operation runs in one Badger transaction. Badger's optimistic
// concurrency gives the compare-and-swap semantics: a transaction whose read
// set was modified by a concurrent commit fails with badger.ErrConflict, which
// is reported as bundle.ErrTokenMismatch (bundles) or bundle.ErrLockHeld (lock).
package localstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/dyluth/guidepost/pkg/bundle"
)

// Config holds configuration for a Store.
type Config struct {
	// Path is the directory for database files. Ignored when InMemory is true.
	Path string

	// InMemory keeps everything in RAM. Used by tests.
	InMemory bool

	// SyncWrites fsyncs every commit.
	SyncWrites bool

	InstanceName string
}

// Store implements the publish store contract on BadgerDB.
type Store struct {
	db           *badger.DB
	instanceName string
}

// versionIncrementAttempts bounds retries of the counter's read-modify-write.
const versionIncrementAttempts = 5

// Open opens (or creates) the database described by cfg.
func Open(cfg Config) (*Store, error) {
	if cfg.InstanceName == "" {
		return nil, fmt.Errorf("instance name cannot be empty")
	}
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent database")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("failed to create database directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1).WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger database: %w", err)
	}

	return &Store{db: db, instanceName: cfg.InstanceName}, nil
}

// InstanceName returns the instance this store is scoped to.
func (s *Store) InstanceName() string {
	return s.instanceName
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping reports whether the database is open.
func (s *Store) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.db.IsClosed() {
		return errors.New("badger database is closed")
	}
	return nil
}

// SeedBundle creates an empty bundle for lang if none exists.
// Returns true if it was created.
func (s *Store) SeedBundle(ctx context.Context, lang bundle.Lang) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	key := []byte(bundle.BundleKey(s.instanceName, lang))
	created := false
	err := s.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get(key)
		if err == nil {
			return nil
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		created = true
		return txn.Set(key, []byte("{}"))
	})
	if err != nil {
		return false, fmt.Errorf("failed to seed bundle %s: %w", lang, err)
	}
	return created, nil
}

// ReadBundle returns the bundle for lang and its revision token. The token is
// the commit version of the stored item, so every write issues a new one.
func (s *Store) ReadBundle(ctx context.Context, lang bundle.Lang) (*bundle.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var (
		raw   []byte
		token bundle.Token
	)
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		raw, token, err = getBundle(txn, bundle.BundleKey(s.instanceName, lang))
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("bundle %s: %w", lang, bundle.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read bundle %s: %w", lang, err)
	}

	data, err := bundle.DecodeBundle(raw)
	if err != nil {
		return nil, fmt.Errorf("bundle %s: %w", lang, err)
	}
	return &bundle.Snapshot{Lang: lang, Data: data, Token: token}, nil
}

// WriteBundle replaces the bundle for lang if it has not been written since
// token was issued.
func (s *Store) WriteBundle(ctx context.Context, lang bundle.Lang, data bundle.Bundle, token bundle.Token) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	encoded, err := bundle.EncodeBundle(data)
	if err != nil {
		return err
	}

	key := bundle.BundleKey(s.instanceName, lang)
	err = s.db.Update(func(txn *badger.Txn) error {
		_, current, err := getBundle(txn, key)
		if err != nil {
			return err
		}
		if current != token {
			return bundle.ErrTokenMismatch
		}
		return txn.Set([]byte(key), encoded)
	})

	switch {
	case err == nil:
		return nil
	case errors.Is(err, badger.ErrKeyNotFound):
		return fmt.Errorf("bundle %s: %w", lang, bundle.ErrNotFound)
	case errors.Is(err, bundle.ErrTokenMismatch), errors.Is(err, badger.ErrConflict):
		return fmt.Errorf("bundle %s: %w", lang, bundle.ErrTokenMismatch)
	default:
		return fmt.Errorf("failed to write bundle %s: %w", lang, err)
	}
}

// GetLock reads the publish lock, unlocked if never acquired.
func (s *Store) GetLock(ctx context.Context) (*bundle.PublishLock, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	lock := &bundle.PublishLock{}
	err := s.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, bundle.PublishLockKey(s.instanceName), lock)
	})
	if err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("failed to read publish lock: %w", err)
	}
	return lock, nil
}

// AcquireLock takes the publish lock for principal until now+ttl, unless it is
// held and unexpired.
func (s *Store) AcquireLock(ctx context.Context, principal string, now time.Time, ttl time.Duration) (*bundle.PublishLock, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if principal == "" {
		return nil, fmt.Errorf("principal cannot be empty")
	}

	key := bundle.PublishLockKey(s.instanceName)
	next := &bundle.PublishLock{
		Locked:      true,
		LockedBy:    principal,
		LockedAtMs:  now.UnixMilli(),
		ExpiresAtMs: now.Add(ttl).UnixMilli(),
	}

	err := s.db.Update(func(txn *badger.Txn) error {
		current := &bundle.PublishLock{}
		if err := getJSON(txn, key, current); err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		if current.HeldAt(now) {
			return &bundle.LockHeldError{Holder: current.LockedBy, ExpiresAt: current.ExpiresAt()}
		}
		return setJSON(txn, key, next)
	})

	if errors.Is(err, badger.ErrConflict) {
		return nil, &bundle.LockHeldError{}
	}
	if err != nil {
		return nil, err
	}
	return next, nil
}

// ReleaseLock marks the publish lock free, whoever holds it.
func (s *Store) ReleaseLock(ctx context.Context, principal string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	key := bundle.PublishLockKey(s.instanceName)
	err := s.db.Update(func(txn *badger.Txn) error {
		lock := &bundle.PublishLock{}
		if err := getJSON(txn, key, lock); err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		lock.Locked = false
		return setJSON(txn, key, lock)
	})
	if err != nil {
		return fmt.Errorf("failed to release publish lock: %w", err)
	}
	return nil
}

// GetVersion returns the version counter, 0 if never bumped.
func (s *Store) GetVersion(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	var version int64
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		version, err = readVersion(txn, bundle.VersionKey(s.instanceName))
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("failed to read version: %w", err)
	}
	return version, nil
}

// IncrementVersion adds one to the version counter and returns the new value.
// A conflicting concurrent increment is retried; no increment is ever lost.
func (s *Store) IncrementVersion(ctx context.Context) (int64, error) {
	key := bundle.VersionKey(s.instanceName)

	var lastErr error
	for i := 0; i < versionIncrementAttempts; i++ {
		if err := ctx.Err(); err != nil {
			return 0, err
		}

		var version int64
		err := s.db.Update(func(txn *badger.Txn) error {
			current, err := readVersion(txn, key)
			if err != nil {
				return err
			}
			version = current + 1
			return txn.Set([]byte(key), []byte(strconv.FormatInt(version, 10)))
		})
		if err == nil {
			return version, nil
		}
		if !errors.Is(err, badger.ErrConflict) {
			return 0, fmt.Errorf("failed to increment version: %w", err)
		}
		lastErr = err
	}
	return 0, fmt.Errorf("failed to increment version after %d attempts: %w", versionIncrementAttempts, lastErr)
}

// GetWorkflow returns a guide's workflow record, a fresh draft record if none exists.
func (s *Store) GetWorkflow(ctx context.Context, guideID string) (*bundle.WorkflowRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	rec := &bundle.WorkflowRecord{}
	err := s.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, bundle.WorkflowKey(s.instanceName, guideID), rec)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return bundle.NewWorkflowRecord(guideID), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read workflow %s: %w", guideID, err)
	}
	if err := rec.Validate(); err != nil {
		return nil, fmt.Errorf("corrupt workflow %s: %w", guideID, err)
	}
	return rec, nil
}

// UpdateWorkflow replaces a guide's workflow record.
func (s *Store) UpdateWorkflow(ctx context.Context, rec *bundle.WorkflowRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := rec.Validate(); err != nil {
		return fmt.Errorf("invalid workflow record: %w", err)
	}

	err := s.db.Update(func(txn *badger.Txn) error {
		return setJSON(txn, bundle.WorkflowKey(s.instanceName, rec.GuideID), rec)
	})
	if err != nil {
		return fmt.Errorf("failed to write workflow %s: %w", rec.GuideID, err)
	}
	return nil
}

func get(txn *badger.Txn, key string) ([]byte, error) {
	item, err := txn.Get([]byte(key))
	if err != nil {
		return nil, err
	}
	return item.ValueCopy(nil)
}

func getBundle(txn *badger.Txn, key string) ([]byte, bundle.Token, error) {
	item, err := txn.Get([]byte(key))
	if err != nil {
		return nil, "", err
	}
	raw, err := item.ValueCopy(nil)
	if err != nil {
		return nil, "", err
	}
	return raw, bundle.RevisionToken(item.Version()), nil
}

func getJSON(txn *badger.Txn, key string, v interface{}) error {
	raw, err := get(txn, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("failed to decode %s: %w", key, err)
	}
	return nil
}

func setJSON(txn *badger.Txn, key string, v interface{}) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", key, err)
	}
	return txn.Set([]byte(key), raw)
}

func readVersion(txn *badger.Txn, key string) (int64, error) {
	raw, err := get(txn, key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	version, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("corrupt version %q: %w", raw, err)
	}
	return version, nil
}
