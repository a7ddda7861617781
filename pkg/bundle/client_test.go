package bundle

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestClient creates a test client connected to a miniredis instance
func setupTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	mr := miniredis.NewMiniRedis()
	err := mr.Start()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client, err := NewClient(&redis.Options{Addr: mr.Addr()}, "test-instance")
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	return client, mr
}

func TestNewClient(t *testing.T) {
	t.Run("creates client successfully", func(t *testing.T) {
		client, _ := setupTestClient(t)
		assert.NotNil(t, client)
		assert.Equal(t, "test-instance", client.InstanceName())
	})

	t.Run("rejects empty instance name", func(t *testing.T) {
		_, err := NewClient(&redis.Options{Addr: "localhost:6379"}, "")
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "instance name cannot be empty")
	})
}

func TestPing(t *testing.T) {
	client, _ := setupTestClient(t)
	assert.NoError(t, client.Ping(context.Background()))
}

func TestSeedBundle(t *testing.T) {
	client, mr := setupTestClient(t)
	ctx := context.Background()

	t.Run("creates empty bundle", func(t *testing.T) {
		created, err := client.SeedBundle(ctx, "en")
		require.NoError(t, err)
		assert.True(t, created)

		key := BundleKey("test-instance", "en")
		assert.Equal(t, "{}", mr.HGet(key, "data"))
		assert.Equal(t, "1", mr.HGet(key, "rev"))
	})

	t.Run("never overwrites existing content", func(t *testing.T) {
		snap, err := client.ReadBundle(ctx, "en")
		require.NoError(t, err)
		require.NoError(t, client.WriteBundle(ctx, "en", Bundle{"guides.a.title": "A"}, snap.Token))

		created, err := client.SeedBundle(ctx, "en")
		require.NoError(t, err)
		assert.False(t, created)

		after, err := client.ReadBundle(ctx, "en")
		require.NoError(t, err)
		assert.Equal(t, "A", after.Data["guides.a.title"])
	})
}

func TestReadBundle(t *testing.T) {
	client, mr := setupTestClient(t)
	ctx := context.Background()

	t.Run("returns not found for unseeded language", func(t *testing.T) {
		_, err := client.ReadBundle(ctx, "de")
		assert.True(t, IsNotFound(err))
	})

	t.Run("token is the stored revision", func(t *testing.T) {
		mr.HSet(BundleKey("test-instance", "fr"), "data", `{"guides.a.title":"A"}`, "rev", "7")

		snap, err := client.ReadBundle(ctx, "fr")
		require.NoError(t, err)
		assert.Equal(t, Lang("fr"), snap.Lang)
		assert.Equal(t, "A", snap.Data["guides.a.title"])
		assert.Equal(t, RevisionToken(7), snap.Token)
	})

	t.Run("rejects corrupt content", func(t *testing.T) {
		mr.HSet(BundleKey("test-instance", "es"), "data", "not json", "rev", "1")
		_, err := client.ReadBundle(ctx, "es")
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "failed to deserialize bundle")
	})

	t.Run("rejects corrupt revision", func(t *testing.T) {
		mr.HSet(BundleKey("test-instance", "it"), "data", "{}", "rev", "x")
		_, err := client.ReadBundle(ctx, "it")
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "invalid bundle revision")
	})
}

func TestWriteBundle(t *testing.T) {
	client, _ := setupTestClient(t)
	ctx := context.Background()

	_, err := client.SeedBundle(ctx, "en")
	require.NoError(t, err)

	t.Run("succeeds with current token", func(t *testing.T) {
		snap, err := client.ReadBundle(ctx, "en")
		require.NoError(t, err)

		err = client.WriteBundle(ctx, "en", Bundle{"k": "v1"}, snap.Token)
		require.NoError(t, err)

		after, err := client.ReadBundle(ctx, "en")
		require.NoError(t, err)
		assert.Equal(t, Bundle{"k": "v1"}, after.Data)
		assert.NotEqual(t, snap.Token, after.Token)
	})

	t.Run("stale token is rejected and nothing is overwritten", func(t *testing.T) {
		stale, err := client.ReadBundle(ctx, "en")
		require.NoError(t, err)

		fresh, err := client.ReadBundle(ctx, "en")
		require.NoError(t, err)
		require.NoError(t, client.WriteBundle(ctx, "en", Bundle{"k": "v2"}, fresh.Token))

		err = client.WriteBundle(ctx, "en", Bundle{"k": "lost-update"}, stale.Token)
		assert.True(t, errors.Is(err, ErrTokenMismatch), "got %v", err)

		after, err := client.ReadBundle(ctx, "en")
		require.NoError(t, err)
		assert.Equal(t, "v2", after.Data["k"])
	})

	t.Run("writing a missing bundle is not found", func(t *testing.T) {
		err := client.WriteBundle(ctx, "xx", Bundle{}, RevisionToken(1))
		assert.True(t, IsNotFound(err))
	})

	t.Run("rewriting the same content issues a new token", func(t *testing.T) {
		snap, err := client.ReadBundle(ctx, "en")
		require.NoError(t, err)
		require.NoError(t, client.WriteBundle(ctx, "en", snap.Data, snap.Token))

		after, err := client.ReadBundle(ctx, "en")
		require.NoError(t, err)
		assert.Equal(t, snap.Data, after.Data)
		assert.NotEqual(t, snap.Token, after.Token)

		err = client.WriteBundle(ctx, "en", Bundle{"k": "late"}, snap.Token)
		assert.True(t, errors.Is(err, ErrTokenMismatch), "got %v", err)
	})

	t.Run("token read before A to B to A is stale", func(t *testing.T) {
		original, err := client.ReadBundle(ctx, "en")
		require.NoError(t, err)

		require.NoError(t, client.WriteBundle(ctx, "en", Bundle{"k": "B"}, original.Token))
		mid, err := client.ReadBundle(ctx, "en")
		require.NoError(t, err)
		require.NoError(t, client.WriteBundle(ctx, "en", original.Data, mid.Token))

		err = client.WriteBundle(ctx, "en", Bundle{"k": "lost-update"}, original.Token)
		assert.True(t, errors.Is(err, ErrTokenMismatch), "got %v", err)

		after, err := client.ReadBundle(ctx, "en")
		require.NoError(t, err)
		assert.Equal(t, original.Data, after.Data)
	})
}

func TestWriteBundle_ConcurrentWritersOneWins(t *testing.T) {
	client, _ := setupTestClient(t)
	ctx := context.Background()

	_, err := client.SeedBundle(ctx, "en")
	require.NoError(t, err)
	snap, err := client.ReadBundle(ctx, "en")
	require.NoError(t, err)

	const writers = 8
	var wg sync.WaitGroup
	results := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results <- client.WriteBundle(ctx, "en", Bundle{"writer": string(rune('a' + i))}, snap.Token)
		}(i)
	}
	wg.Wait()
	close(results)

	succeeded := 0
	for err := range results {
		if err == nil {
			succeeded++
			continue
		}
		assert.True(t, errors.Is(err, ErrTokenMismatch), "unexpected error: %v", err)
	}
	assert.Equal(t, 1, succeeded)
}

func TestPublishLock(t *testing.T) {
	client, _ := setupTestClient(t)
	ctx := context.Background()
	now := time.UnixMilli(1_700_000_000_000)

	t.Run("never-acquired lock reads as free", func(t *testing.T) {
		lock, err := client.GetLock(ctx)
		require.NoError(t, err)
		assert.False(t, lock.HeldAt(now))
	})

	t.Run("acquire sets holder and expiry", func(t *testing.T) {
		lock, err := client.AcquireLock(ctx, "alice", now, 30*time.Second)
		require.NoError(t, err)
		assert.True(t, lock.Locked)
		assert.Equal(t, "alice", lock.LockedBy)
		assert.Equal(t, now.Add(30*time.Second).UnixMilli(), lock.ExpiresAtMs)

		stored, err := client.GetLock(ctx)
		require.NoError(t, err)
		assert.Equal(t, lock, stored)
	})

	t.Run("held lock rejects another principal without writing", func(t *testing.T) {
		_, err := client.AcquireLock(ctx, "bob", now.Add(time.Second), 30*time.Second)
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrLockHeld))

		var held *LockHeldError
		require.True(t, errors.As(err, &held))
		assert.Equal(t, "alice", held.Holder)

		stored, err := client.GetLock(ctx)
		require.NoError(t, err)
		assert.Equal(t, "alice", stored.LockedBy)
	})

	t.Run("expired lock can be taken over", func(t *testing.T) {
		later := now.Add(31 * time.Second)
		lock, err := client.AcquireLock(ctx, "bob", later, 30*time.Second)
		require.NoError(t, err)
		assert.Equal(t, "bob", lock.LockedBy)
	})

	t.Run("release frees the lock", func(t *testing.T) {
		require.NoError(t, client.ReleaseLock(ctx, "bob"))

		stored, err := client.GetLock(ctx)
		require.NoError(t, err)
		assert.False(t, stored.Locked)

		_, err = client.AcquireLock(ctx, "carol", now.Add(32*time.Second), 30*time.Second)
		assert.NoError(t, err)
	})

	t.Run("rejects empty principal", func(t *testing.T) {
		_, err := client.AcquireLock(ctx, "", now, time.Second)
		assert.Error(t, err)
	})
}

func TestAcquireLock_ConcurrentExactlyOneWins(t *testing.T) {
	client, _ := setupTestClient(t)
	ctx := context.Background()
	now := time.Now()

	const contenders = 10
	var wg sync.WaitGroup
	errs := make([]error, contenders)
	for i := 0; i < contenders; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = client.AcquireLock(ctx, string(rune('a'+i)), now, time.Minute)
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, err := range errs {
		if err == nil {
			winners++
			continue
		}
		assert.True(t, errors.Is(err, ErrLockHeld), "unexpected error: %v", err)
	}
	assert.Equal(t, 1, winners)
}

func TestVersionCounter(t *testing.T) {
	client, _ := setupTestClient(t)
	ctx := context.Background()

	v, err := client.GetVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), v)

	v, err = client.IncrementVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)

	v, err = client.IncrementVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), v)

	v, err = client.GetVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), v)
}

func TestWorkflow(t *testing.T) {
	client, _ := setupTestClient(t)
	ctx := context.Background()

	t.Run("missing record reads as draft", func(t *testing.T) {
		rec, err := client.GetWorkflow(ctx, "firstDay")
		require.NoError(t, err)
		assert.Equal(t, WorkflowStatusDraft, rec.Status)
		assert.False(t, rec.HasDraftContent)
	})

	t.Run("update replaces record", func(t *testing.T) {
		rec := &WorkflowRecord{
			GuideID:                  "firstDay",
			Status:                   WorkflowStatusPublished,
			HasDraftContent:          true,
			TranslationReviewPending: true,
			UpdatedAtMs:              42,
			UpdatedBy:                "alice",
		}
		require.NoError(t, client.UpdateWorkflow(ctx, rec))

		got, err := client.GetWorkflow(ctx, "firstDay")
		require.NoError(t, err)
		assert.Equal(t, rec, got)
	})

	t.Run("rejects invalid record", func(t *testing.T) {
		err := client.UpdateWorkflow(ctx, &WorkflowRecord{GuideID: "firstDay", Status: "archived"})
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "invalid workflow record")
	})
}

func TestSubscribeVersionEvents(t *testing.T) {
	client, _ := setupTestClient(t)
	ctx := context.Background()

	sub, err := client.SubscribeVersionEvents(ctx)
	require.NoError(t, err)
	defer sub.Close()

	require.NoError(t, client.PublishVersionEvent(ctx, VersionEvent{Version: 7, GuideID: "firstDay"}))

	select {
	case ev := <-sub.Events():
		assert.Equal(t, int64(7), ev.Version)
		assert.Equal(t, "firstDay", ev.GuideID)
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for version event")
	}

	assert.NoError(t, sub.Close())
	assert.NoError(t, sub.Close(), "close is idempotent")
}
