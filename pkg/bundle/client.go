package bundle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Client provides instance-scoped Redis operations for language bundles, the
// publish lock, the version counter and workflow records.
// All keys and channels are automatically namespaced with the instance name.
// The client is thread-safe and can be used concurrently from multiple goroutines.
type Client struct {
	rdb          *redis.Client
	instanceName string
}

// NewClient creates a new bundle client for the specified instance.
//
// Parameters:
//   - redisOpts: Redis connection options (address, password, DB, etc.)
//   - instanceName: Guidepost instance identifier (must not be empty)
//
// Returns an error if instanceName is empty.
func NewClient(redisOpts *redis.Options, instanceName string) (*Client, error) {
	if instanceName == "" {
		return nil, fmt.Errorf("instance name cannot be empty")
	}

	return &Client{
		rdb:          redis.NewClient(redisOpts),
		instanceName: instanceName,
	}, nil
}

// InstanceName returns the namespace this client operates in.
func (c *Client) InstanceName() string {
	return c.instanceName
}

// Close closes the Redis connection. Implements io.Closer.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Ping verifies Redis connectivity. Useful for health checks.
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// SeedBundle creates an empty bundle for lang if none exists.
// Returns true if the bundle was created, false if it already existed.
// Never overwrites existing content.
func (c *Client) SeedBundle(ctx context.Context, lang Lang) (bool, error) {
	data, err := EncodeBundle(Bundle{})
	if err != nil {
		return false, err
	}

	key := BundleKey(c.instanceName, lang)
	created := false
	err = c.rdb.Watch(ctx, func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return err
		}
		if n > 0 {
			return nil
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, bundleDataField, data, bundleRevField, 1)
			return nil
		})
		if err == nil {
			created = true
		}
		return err
	}, key)

	// Another seeder created it between our check and our write.
	if errors.Is(err, redis.TxFailedErr) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to seed bundle %s: %w", lang, err)
	}
	return created, nil
}

// hashReader is satisfied by both *redis.Client and *redis.Tx.
type hashReader interface {
	HGetAll(ctx context.Context, key string) *redis.MapStringStringCmd
}

// readStored returns the encoded bundle and its revision token.
// A missing bundle is reported as ErrNotFound.
func readStored(ctx context.Context, r hashReader, key string, lang Lang) ([]byte, Token, error) {
	fields, err := r.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, "", fmt.Errorf("failed to read bundle %s from Redis: %w", lang, err)
	}
	if len(fields) == 0 {
		return nil, "", fmt.Errorf("%w: %s", ErrNotFound, lang)
	}

	raw, ok := fields[bundleDataField]
	if !ok {
		return nil, "", fmt.Errorf("bundle %s has no %s field", lang, bundleDataField)
	}
	token, err := ParseRevision(fields[bundleRevField])
	if err != nil {
		return nil, "", fmt.Errorf("bundle %s: %w", lang, err)
	}
	return []byte(raw), token, nil
}

// ReadBundle reads a language bundle together with its concurrency token.
// Returns ErrNotFound if the bundle has not been seeded.
func (c *Client) ReadBundle(ctx context.Context, lang Lang) (*Snapshot, error) {
	raw, token, err := readStored(ctx, c.rdb, BundleKey(c.instanceName, lang), lang)
	if err != nil {
		return nil, err
	}

	data, err := DecodeBundle(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to deserialize bundle %s: %w", lang, err)
	}

	return &Snapshot{Lang: lang, Data: data, Token: token}, nil
}

// WriteBundle replaces a language bundle only if its revision still matches
// token, and bumps the revision. Uses WATCH/MULTI so a write landing between
// our check and our HSET aborts the transaction.
//
// Returns ErrTokenMismatch if the bundle was written since token was issued
// and ErrNotFound if the bundle does not exist.
func (c *Client) WriteBundle(ctx context.Context, lang Lang, data Bundle, token Token) error {
	encoded, err := EncodeBundle(data)
	if err != nil {
		return fmt.Errorf("failed to serialize bundle %s: %w", lang, err)
	}

	key := BundleKey(c.instanceName, lang)
	err = c.rdb.Watch(ctx, func(tx *redis.Tx) error {
		_, current, err := readStored(ctx, tx, key, lang)
		if err != nil {
			return err
		}

		if current != token {
			return fmt.Errorf("%w: %s", ErrTokenMismatch, lang)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, bundleDataField, encoded)
			pipe.HIncrBy(ctx, key, bundleRevField, 1)
			return nil
		})
		return err
	}, key)

	if errors.Is(err, redis.TxFailedErr) {
		return fmt.Errorf("%w: %s", ErrTokenMismatch, lang)
	}
	if err != nil && !errors.Is(err, ErrTokenMismatch) && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("failed to write bundle %s to Redis: %w", lang, err)
	}
	return err
}

// GetLock reads the publish lock record. A lock that was never acquired is
// returned as an unlocked zero record.
func (c *Client) GetLock(ctx context.Context) (*PublishLock, error) {
	hash, err := c.rdb.HGetAll(ctx, PublishLockKey(c.instanceName)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read publish lock from Redis: %w", err)
	}
	return HashToLock(hash)
}

// AcquireLock takes the publish lock for principal until now+ttl.
// The check and the write happen in one WATCH/MULTI read-modify-write; if the
// lock is held and unexpired, or another acquirer wins the race, it returns a
// *LockHeldError and writes nothing.
func (c *Client) AcquireLock(ctx context.Context, principal string, now time.Time, ttl time.Duration) (*PublishLock, error) {
	if principal == "" {
		return nil, fmt.Errorf("principal cannot be empty")
	}

	key := PublishLockKey(c.instanceName)
	next := &PublishLock{
		Locked:      true,
		LockedBy:    principal,
		LockedAtMs:  now.UnixMilli(),
		ExpiresAtMs: now.Add(ttl).UnixMilli(),
	}

	err := c.rdb.Watch(ctx, func(tx *redis.Tx) error {
		hash, err := tx.HGetAll(ctx, key).Result()
		if err != nil {
			return fmt.Errorf("failed to read publish lock: %w", err)
		}

		current, err := HashToLock(hash)
		if err != nil {
			return err
		}
		if current.HeldAt(now) {
			return &LockHeldError{Holder: current.LockedBy, ExpiresAt: current.ExpiresAt()}
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, LockToHash(next))
			return nil
		})
		return err
	}, key)

	if errors.Is(err, redis.TxFailedErr) {
		return nil, &LockHeldError{}
	}
	if err != nil {
		return nil, err
	}
	return next, nil
}

// ReleaseLock unconditionally marks the publish lock free. Expiry self-heals a
// lock whose release never happened, so callers treat failure as non-fatal.
func (c *Client) ReleaseLock(ctx context.Context, principal string) error {
	key := PublishLockKey(c.instanceName)
	if err := c.rdb.HSet(ctx, key, "locked", "0", "released_by", principal).Err(); err != nil {
		return fmt.Errorf("failed to release publish lock: %w", err)
	}
	return nil
}

// GetVersion returns the current version counter, 0 if never bumped.
func (c *Client) GetVersion(ctx context.Context) (int64, error) {
	v, err := c.rdb.Get(ctx, VersionKey(c.instanceName)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read version from Redis: %w", err)
	}
	return v, nil
}

// IncrementVersion bumps the version counter atomically and returns the new value.
func (c *Client) IncrementVersion(ctx context.Context) (int64, error) {
	v, err := c.rdb.Incr(ctx, VersionKey(c.instanceName)).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to increment version: %w", err)
	}
	return v, nil
}

// PublishVersionEvent notifies subscribers that the version changed.
// Delivery is at-most-once; readers that miss an event catch up by polling.
func (c *Client) PublishVersionEvent(ctx context.Context, ev VersionEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal version event: %w", err)
	}
	if err := c.rdb.Publish(ctx, VersionEventsChannel(c.instanceName), payload).Err(); err != nil {
		return fmt.Errorf("failed to publish version event: %w", err)
	}
	return nil
}

// GetWorkflow retrieves a guide's workflow record.
// A guide without a record is reported as a fresh draft record.
func (c *Client) GetWorkflow(ctx context.Context, guideID string) (*WorkflowRecord, error) {
	hash, err := c.rdb.HGetAll(ctx, WorkflowKey(c.instanceName, guideID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read workflow from Redis: %w", err)
	}
	if len(hash) == 0 {
		return NewWorkflowRecord(guideID), nil
	}
	return HashToWorkflow(hash)
}

// UpdateWorkflow replaces a guide's workflow record (full replacement).
func (c *Client) UpdateWorkflow(ctx context.Context, rec *WorkflowRecord) error {
	if err := rec.Validate(); err != nil {
		return fmt.Errorf("invalid workflow record: %w", err)
	}

	key := WorkflowKey(c.instanceName, rec.GuideID)
	_, err := c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.HSet(ctx, key, WorkflowToHash(rec))
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to update workflow in Redis: %w", err)
	}
	return nil
}

// VersionSubscription represents an active Pub/Sub subscription to version events.
// Caller must call Close() when done to clean up resources.
type VersionSubscription struct {
	events <-chan VersionEvent
	errors <-chan error
	cancel func()
	once   sync.Once
}

// Events returns the channel of version events.
// The channel is closed when the subscription is closed or the context is cancelled.
func (s *VersionSubscription) Events() <-chan VersionEvent {
	return s.events
}

// Errors returns the channel of non-fatal subscription errors.
func (s *VersionSubscription) Errors() <-chan error {
	return s.errors
}

// Close stops the subscription. Safe to call multiple times.
func (s *VersionSubscription) Close() error {
	s.once.Do(s.cancel)
	return nil
}

// SubscribeVersionEvents subscribes to version bumps for this instance.
//
// Events are delivered on a buffered channel (size 10). If the subscriber is
// too slow, events may be dropped by Redis Pub/Sub (at-most-once delivery).
func (c *Client) SubscribeVersionEvents(ctx context.Context) (*VersionSubscription, error) {
	pubsub := c.rdb.Subscribe(ctx, VersionEventsChannel(c.instanceName))

	// Wait for the subscription to be confirmed so no event published after
	// this call returns is missed.
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to version events: %w", err)
	}

	eventsChan := make(chan VersionEvent, 10)
	errorsChan := make(chan error, 10)
	subCtx, cancelFunc := context.WithCancel(ctx)

	go func() {
		defer close(eventsChan)
		defer close(errorsChan)
		defer pubsub.Close()

		ch := pubsub.Channel()

		for {
			select {
			case <-subCtx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}

				var ev VersionEvent
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					select {
					case errorsChan <- fmt.Errorf("failed to unmarshal version event: %w", err):
					case <-subCtx.Done():
						return
					}
					continue
				}

				select {
				case eventsChan <- ev:
				case <-subCtx.Done():
					return
				}
			}
		}
	}()

	return &VersionSubscription{
		events: eventsChan,
		errors: errorsChan,
		cancel: cancelFunc,
	}, nil
}
