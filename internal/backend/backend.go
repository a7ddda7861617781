// Package backend opens the configured store for the daemon and the CLI.
package backend

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/dyluth/guidepost/internal/config"
	"github.com/dyluth/guidepost/internal/localstore"
	"github.com/dyluth/guidepost/internal/publish"
	"github.com/dyluth/guidepost/pkg/bundle"
	"github.com/redis/go-redis/v9"
)

// DefaultRedisURL is used when neither REDIS_URL nor store.redis_url is set
const DefaultRedisURL = "redis://localhost:6379"

// Store is a publish store that can also create empty bundles.
type Store interface {
	publish.Store
	io.Closer
	InstanceName() string
	SeedBundle(ctx context.Context, lang bundle.Lang) (bool, error)
}

// RedisURL resolves the Redis URL: REDIS_URL, then store.redis_url, then the default.
func RedisURL(cfg *config.GuidepostConfig) string {
	if u := os.Getenv("REDIS_URL"); u != "" {
		return u
	}
	if cfg.Store != nil && cfg.Store.RedisURL != "" {
		return cfg.Store.RedisURL
	}
	return DefaultRedisURL
}

// Open connects to the backend named in cfg and verifies it responds.
func Open(ctx context.Context, cfg *config.GuidepostConfig) (Store, error) {
	var (
		store Store
		err   error
	)

	switch cfg.Store.Backend {
	case config.BackendBadger:
		store, err = localstore.Open(localstore.Config{
			Path:         cfg.Store.BadgerPath,
			SyncWrites:   true,
			InstanceName: cfg.Instance,
		})
		if err != nil {
			return nil, err
		}
	default:
		opts, err := redis.ParseURL(RedisURL(cfg))
		if err != nil {
			return nil, fmt.Errorf("invalid redis URL: %w", err)
		}
		store, err = bundle.NewClient(opts, cfg.Instance)
		if err != nil {
			return nil, err
		}
	}

	if err := store.Ping(ctx); err != nil {
		store.Close()
		return nil, fmt.Errorf("%s store not accessible: %w", cfg.Store.Backend, err)
	}

	log.Printf("[Backend] Connected to %s store for instance '%s'", cfg.Store.Backend, store.InstanceName())
	return store, nil
}

// Seed creates an empty bundle for every configured language that has none.
// It returns the languages that were created.
func Seed(ctx context.Context, store Store, langs []bundle.Lang) ([]bundle.Lang, error) {
	var created []bundle.Lang
	for _, lang := range langs {
		ok, err := store.SeedBundle(ctx, lang)
		if err != nil {
			return created, fmt.Errorf("failed to seed bundle %s: %w", lang, err)
		}
		if ok {
			created = append(created, lang)
		}
	}
	return created, nil
}
