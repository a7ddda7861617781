package filter

import (
	"path/filepath"
	"strings"

	"github.com/dyluth/guidepost/pkg/bundle"
)

// Criteria selects bundle keys for inspection.
// All filters are ANDed together - a key must match ALL criteria to pass.
type Criteria struct {
	GuideID   string           // Keys of one guide, empty = no filter
	Namespace bundle.Namespace // published or draft; empty = both (only used with GuideID)
	KeyGlob   string           // Glob on the full key, e.g. "guides.*.title"; empty = no filter
}

// Matches returns true if key passes every active filter.
func (c *Criteria) Matches(key string) bool {
	if c.GuideID != "" && !c.matchesGuide(key) {
		return false
	}

	if c.KeyGlob != "" {
		matched, err := filepath.Match(c.KeyGlob, key)
		if err != nil || !matched {
			return false
		}
	}

	return true
}

// matchesGuide also matches the guide's denormalized CTA key, which sits
// outside the guide prefix but belongs to the published guide.
func (c *Criteria) matchesGuide(key string) bool {
	namespaces := []bundle.Namespace{bundle.NamespacePublished, bundle.NamespaceDraft}
	if c.Namespace != "" {
		namespaces = []bundle.Namespace{c.Namespace}
	}

	for _, ns := range namespaces {
		if strings.HasPrefix(key, ns.GuidePrefix(c.GuideID)) {
			return true
		}
		if ns == bundle.NamespacePublished && key == ctaKey(c.GuideID) {
			return true
		}
	}
	return false
}

func ctaKey(guideID string) string {
	return bundle.NamespacePublished.Root() + "." + bundle.ReservedGuideID + "." + guideID
}

// HasFilters returns true if any filters are active.
func (c *Criteria) HasFilters() bool {
	return c.GuideID != "" || c.KeyGlob != ""
}

// Apply returns the subset of b matching the criteria. b is not modified.
func (c *Criteria) Apply(b bundle.Bundle) bundle.Bundle {
	out := make(bundle.Bundle)
	for k, v := range b {
		if c.Matches(k) {
			out[k] = v
		}
	}
	return out
}
