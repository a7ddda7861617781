// Package compiler turns structured guide content into flat bundle keys and
// merges them into a language bundle without touching unrelated keys.
//
// Key layout for guide <id> in a namespace (prefix guides.<id>. or guidesDraft.<id>.):
//
//	title, explanation, cta
//	steps.count, steps.<i>
//	commonErrors.count, commonErrors.<i>
//	checks.count, checks.<i>
//	escalation.count, escalation.<i>
//
// The published namespace additionally carries legacy aliases read by older
// clients (heading, summary, errors.<i>, verify.<i>) and one denormalized key
// outside the guide's prefix, guides.cta.<id>.
package compiler

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/dyluth/guidepost/pkg/bundle"
)

// List field names as they appear in bundle keys.
const (
	fieldSteps        = "steps"
	fieldCommonErrors = "commonErrors"
	fieldChecks       = "checks"
	fieldEscalation   = "escalation"
)

// FlatPatch is the flat key/value form of one guide for one language and namespace.
//
// Keys all live under the guide's namespace prefix. External holds keys outside
// that prefix which the compiler still owns: for the published namespace, the
// denormalized guides.cta.<id> entry.
type FlatPatch struct {
	GuideID   string
	Lang      bundle.Lang
	Namespace bundle.Namespace
	Keys      map[string]string
	External  map[string]string
}

// Len returns the total number of keys the patch writes.
func (f *FlatPatch) Len() int {
	return len(f.Keys) + len(f.External)
}

// CTAKey returns the denormalized cross-guide call-to-action key for a guide.
func CTAKey(guideID string) string {
	return bundle.NamespacePublished.Root() + "." + bundle.ReservedGuideID + "." + guideID
}

// OwnedExternalKeys lists the keys outside the guide prefix that a merge into
// ns replaces.
func OwnedExternalKeys(guideID string, ns bundle.Namespace) []string {
	if ns == bundle.NamespacePublished {
		return []string{CTAKey(guideID)}
	}
	return nil
}

// CompileFlatPatch flattens a guide patch. Pure and deterministic: the same
// inputs always produce the same keys and values.
func CompileFlatPatch(guideID string, lang bundle.Lang, ns bundle.Namespace, patch bundle.GuidePatch) (*FlatPatch, error) {
	if err := bundle.ValidateGuideID(guideID); err != nil {
		return nil, err
	}
	if err := ns.Validate(); err != nil {
		return nil, err
	}

	prefix := ns.GuidePrefix(guideID)
	keys := map[string]string{
		prefix + "title":       patch.Title,
		prefix + "explanation": patch.Explanation,
		prefix + "cta":         patch.CTA,
	}
	putList(keys, prefix+fieldSteps, patch.Steps)
	putList(keys, prefix+fieldCommonErrors, patch.CommonErrors)
	putList(keys, prefix+fieldChecks, patch.Checks)
	putList(keys, prefix+fieldEscalation, patch.Escalation)

	external := map[string]string{}
	if ns == bundle.NamespacePublished {
		keys[prefix+"heading"] = patch.Title
		keys[prefix+"summary"] = patch.Explanation
		putItems(keys, prefix+"errors", patch.CommonErrors)
		putItems(keys, prefix+"verify", patch.Checks)

		external[CTAKey(guideID)] = patch.CTA
	}

	return &FlatPatch{
		GuideID:   guideID,
		Lang:      lang,
		Namespace: ns,
		Keys:      keys,
		External:  external,
	}, nil
}

// MergeIntoBundle returns a new bundle in which every existing key under the
// guide's namespace prefix (and, for published, the guide's CTA key) has been
// replaced by the flat patch. Keys of other guides and of the other namespace
// are carried over byte-identical. The input bundle is never mutated.
//
// Bundles encode with sorted keys, so the result serializes reproducibly.
func MergeIntoBundle(existing bundle.Bundle, guideID string, ns bundle.Namespace, flat *FlatPatch) (bundle.Bundle, error) {
	if flat == nil {
		return nil, fmt.Errorf("flat patch cannot be nil")
	}
	if flat.GuideID != guideID || flat.Namespace != ns {
		return nil, fmt.Errorf("flat patch for %s/%s cannot be merged as %s/%s",
			flat.GuideID, flat.Namespace, guideID, ns)
	}

	prefix := ns.GuidePrefix(guideID)
	owned := make(map[string]bool)
	for _, k := range OwnedExternalKeys(guideID, ns) {
		owned[k] = true
	}

	next := make(bundle.Bundle, len(existing)+flat.Len())
	for k, v := range existing {
		if strings.HasPrefix(k, prefix) || owned[k] {
			continue
		}
		next[k] = v
	}

	for k, v := range flat.Keys {
		if !strings.HasPrefix(k, prefix) {
			return nil, fmt.Errorf("flat patch key %q escapes prefix %q", k, prefix)
		}
		next[k] = v
	}
	for k, v := range flat.External {
		if !owned[k] {
			return nil, fmt.Errorf("flat patch external key %q is not owned by guide %s", k, guideID)
		}
		next[k] = v
	}

	return next, nil
}

// ExtractGuide rebuilds a guide's content from the canonical keys of a bundle.
// Returns false if the bundle holds nothing for the guide in ns.
func ExtractGuide(b bundle.Bundle, guideID string, ns bundle.Namespace) (bundle.GuidePatch, bool) {
	prefix := ns.GuidePrefix(guideID)

	found := false
	for k := range b {
		if strings.HasPrefix(k, prefix) {
			found = true
			break
		}
	}
	if !found {
		return bundle.GuidePatch{}, false
	}

	return bundle.GuidePatch{
		Title:        b[prefix+"title"],
		Explanation:  b[prefix+"explanation"],
		Steps:        readList(b, prefix+fieldSteps),
		CommonErrors: readList(b, prefix+fieldCommonErrors),
		Checks:       readList(b, prefix+fieldChecks),
		Escalation:   readList(b, prefix+fieldEscalation),
		CTA:          b[prefix+"cta"],
	}, true
}

func putList(keys map[string]string, base string, items []string) {
	keys[base+".count"] = strconv.Itoa(len(items))
	putItems(keys, base, items)
}

func putItems(keys map[string]string, base string, items []string) {
	for i, item := range items {
		keys[base+"."+strconv.Itoa(i)] = item
	}
}

func readList(b bundle.Bundle, base string) []string {
	count, err := strconv.Atoi(b[base+".count"])
	if err != nil || count < 0 || count > len(b) {
		// No usable count: take contiguous indices from zero.
		count = 0
		for {
			if _, ok := b[base+"."+strconv.Itoa(count)]; !ok {
				break
			}
			count++
		}
	}

	items := make([]string, 0, count)
	for i := 0; i < count; i++ {
		items = append(items, b[base+"."+strconv.Itoa(i)])
	}
	return items
}
