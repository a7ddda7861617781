// Package watch follows the content version from the command line.
package watch

import (
	"context"
	"fmt"
	"time"

	"github.com/dyluth/guidepost/internal/printer"
	"github.com/dyluth/guidepost/pkg/bundle"
	"github.com/dyluth/guidepost/pkg/bundlecache"
)

// VersionSource reads the content version counter.
type VersionSource interface {
	GetVersion(ctx context.Context) (int64, error)
}

// WaitForVersion polls until the content version reaches at least min.
// Returns the version seen or an error if timeout occurs.
// Polls every 200ms for the specified timeout duration.
func WaitForVersion(ctx context.Context, src VersionSource, min int64, timeout time.Duration) (int64, error) {
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	timeoutCh := time.After(timeout)

	for {
		v, err := src.GetVersion(ctx)
		if err != nil {
			return 0, fmt.Errorf("failed to read content version: %w", err)
		}
		if v >= min {
			return v, nil
		}

		select {
		case <-ctx.Done():
			return 0, ctx.Err()

		case <-timeoutCh:
			return 0, fmt.Errorf("timeout waiting for content version %d after %v (at %d)", min, timeout, v)

		case <-ticker.C:
		}
	}
}

// Follow prints every version the cache observes until ctx ends. With a
// non-empty lang, the bundle is re-read through the cache after each change.
func Follow(ctx context.Context, cache *bundlecache.Cache, lang bundle.Lang, interval time.Duration) error {
	runErr := make(chan error, 1)
	go func() { runErr <- cache.Run(ctx) }()

	printer.Info("Watching content version (Ctrl-C to stop)\n")

	tick := interval / 2
	if tick <= 0 {
		tick = bundlecache.DefaultPollInterval / 2
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	last := int64(-1)
	for {
		select {
		case <-ctx.Done():
			// Run only returns once ctx is done
			<-runErr
			return nil
		case <-ticker.C:
			v := cache.Version()
			if v == last {
				continue
			}
			last = v
			printer.Step("content version %d\n", v)

			if lang == "" {
				continue
			}
			data, at, err := cache.Get(ctx, lang)
			if err != nil {
				if ctx.Err() == nil {
					printer.Warning("failed to read bundle %s: %v\n", lang, err)
				}
				continue
			}
			printer.Info("  %s: %d keys at version %d\n", lang, len(data), at)
		}
	}
}
