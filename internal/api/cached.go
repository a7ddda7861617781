package api

import (
	"context"

	"github.com/dyluth/guidepost/internal/publish"
	"github.com/dyluth/guidepost/pkg/bundle"
	"github.com/dyluth/guidepost/pkg/bundlecache"
)

// CachedBundles serves the public bundle route from a version-keyed cache.
// Every other call goes to the wrapped Backend.
type CachedBundles struct {
	Backend
	cache *bundlecache.Cache
	langs map[bundle.Lang]bool
}

// WithBundleCache wraps b so GetBundle for the given languages reads through cache.
// Unsupported languages still reach b, which rejects them.
func WithBundleCache(b Backend, cache *bundlecache.Cache, langs []bundle.Lang) *CachedBundles {
	supported := make(map[bundle.Lang]bool, len(langs))
	for _, l := range langs {
		supported[l] = true
	}
	return &CachedBundles{Backend: b, cache: cache, langs: supported}
}

// GetBundle returns the cached bundle for lang tagged with its content version.
func (c *CachedBundles) GetBundle(ctx context.Context, lang bundle.Lang) (*publish.BundleView, error) {
	if !c.langs[lang] {
		return c.Backend.GetBundle(ctx, lang)
	}

	data, version, err := c.cache.Get(ctx, lang)
	if err != nil {
		return nil, err
	}
	return &publish.BundleView{Lang: lang, Version: version, Data: data}, nil
}
