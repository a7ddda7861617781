// Package bundlecache is the read-side client library for language bundles.
//
// Readers cache bundles keyed by the global content version. A version bump
// (seen through a version event or by polling) invalidates every cached bundle
// at once; concurrent misses for the same language share one store read.
package bundlecache

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/dyluth/guidepost/pkg/bundle"
	"golang.org/x/sync/singleflight"
)

// DefaultPollInterval is how often Run re-reads the version counter.
const DefaultPollInterval = 5 * time.Second

// Source is where bundles and the version counter are read from.
// *bundle.Client implements it.
type Source interface {
	ReadBundle(ctx context.Context, lang bundle.Lang) (*bundle.Snapshot, error)
	GetVersion(ctx context.Context) (int64, error)
}

// Subscriber is implemented by sources that push version events.
type Subscriber interface {
	SubscribeVersionEvents(ctx context.Context) (*bundle.VersionSubscription, error)
}

// Options configures a Cache.
type Options struct {
	// PollInterval for Run. Zero uses DefaultPollInterval.
	PollInterval time.Duration
}

type entry struct {
	version int64
	data    bundle.Bundle
}

// Cache holds at most one bundle per language, each tagged with the version it
// was read at.
type Cache struct {
	src          Source
	pollInterval time.Duration

	mu      sync.RWMutex
	version int64
	primed  bool
	entries map[bundle.Lang]entry

	group singleflight.Group
}

// New creates a Cache over src.
func New(src Source, opts Options) *Cache {
	interval := opts.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Cache{
		src:          src,
		pollInterval: interval,
		entries:      make(map[bundle.Lang]entry),
	}
}

// Version returns the newest version the cache has observed.
func (c *Cache) Version() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.version
}

// Observe records version v. A newer version drops every cached bundle
// tagged with an older one. Older or equal versions are ignored.
func (c *Cache) Observe(v int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.primed = true
	if v <= c.version {
		return false
	}
	c.version = v
	for lang, e := range c.entries {
		if e.version < v {
			delete(c.entries, lang)
		}
	}
	return true
}

// Get returns the bundle for lang and the version it belongs to. The returned
// bundle is a copy and may be modified by the caller.
//
// While Run is active the cache trusts the observed version; otherwise every
// Get first reads the version counter.
func (c *Cache) Get(ctx context.Context, lang bundle.Lang) (bundle.Bundle, int64, error) {
	c.mu.RLock()
	primed := c.primed
	c.mu.RUnlock()

	if !primed {
		v, err := c.src.GetVersion(ctx)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to read version: %w", err)
		}
		c.observeUnprimed(v)
	}

	if e, ok := c.lookup(lang); ok {
		return e.data.Clone(), e.version, nil
	}

	res, err, _ := c.group.Do(string(lang), func() (interface{}, error) {
		if e, ok := c.lookup(lang); ok {
			return e, nil
		}
		return c.load(ctx, lang)
	})
	if err != nil {
		return nil, 0, err
	}

	e := res.(entry)
	return e.data.Clone(), e.version, nil
}

// observeUnprimed records a version without marking the cache primed, so the
// next Get still checks the counter.
func (c *Cache) observeUnprimed(v int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if v <= c.version {
		return
	}
	c.version = v
	for lang, e := range c.entries {
		if e.version < v {
			delete(c.entries, lang)
		}
	}
}

func (c *Cache) lookup(lang bundle.Lang) (entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[lang]
	if !ok || e.version != c.version {
		return entry{}, false
	}
	return e, true
}

// load reads the bundle between two version reads. The result is cached only
// if no publish landed in between; otherwise it is returned tagged with the
// newer version and the next Get reloads.
func (c *Cache) load(ctx context.Context, lang bundle.Lang) (entry, error) {
	before, err := c.src.GetVersion(ctx)
	if err != nil {
		return entry{}, fmt.Errorf("failed to read version: %w", err)
	}
	snap, err := c.src.ReadBundle(ctx, lang)
	if err != nil {
		return entry{}, err
	}
	after, err := c.src.GetVersion(ctx)
	if err != nil {
		return entry{}, fmt.Errorf("failed to read version: %w", err)
	}

	e := entry{version: after, data: snap.Data}
	if before != after {
		c.observeUnprimed(after)
		return e, nil
	}

	c.mu.Lock()
	if after >= c.version {
		c.version = after
		c.entries[lang] = e
	}
	c.mu.Unlock()
	return e, nil
}

// Run keeps the cache's version current until ctx is cancelled. It consumes
// version events when the source supports them and polls the counter either
// way, so a missed event is picked up within one poll interval.
func (c *Cache) Run(ctx context.Context) error {
	var events <-chan bundle.VersionEvent
	var errs <-chan error

	if sub, ok := c.src.(Subscriber); ok {
		s, err := sub.SubscribeVersionEvents(ctx)
		if err != nil {
			log.Printf("[BundleCache] Version events unavailable, polling only: %v", err)
		} else {
			defer s.Close()
			events = s.Events()
			errs = s.Errors()
		}
	}

	defer func() {
		c.mu.Lock()
		c.primed = false
		c.mu.Unlock()
	}()

	c.poll(ctx)

	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if c.Observe(ev.Version) {
				log.Printf("[BundleCache] Version %d published (guide %s)", ev.Version, ev.GuideID)
			}

		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			log.Printf("[BundleCache] Version event error: %v", err)

		case <-ticker.C:
			c.poll(ctx)
		}
	}
}

func (c *Cache) poll(ctx context.Context) {
	v, err := c.src.GetVersion(ctx)
	if err != nil {
		if ctx.Err() == nil {
			log.Printf("[BundleCache] Failed to poll version: %v", err)
		}
		return
	}
	if c.Observe(v) {
		log.Printf("[BundleCache] Version advanced to %d", v)
	}
}
