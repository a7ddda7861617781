package bundle

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"
)

// Lang is a supported language code (e.g. "en"). The set of supported
// languages is closed and comes from configuration.
type Lang string

// Namespace partitions a bundle's keys into published and draft content.
type Namespace string

const (
	// NamespacePublished holds content served to end users (guides.<id>.*)
	NamespacePublished Namespace = "published"

	// NamespaceDraft holds editor drafts (guidesDraft.<id>.*)
	NamespaceDraft Namespace = "draft"
)

// Validate checks if the Namespace is a valid enum value.
func (ns Namespace) Validate() error {
	switch ns {
	case NamespacePublished, NamespaceDraft:
		return nil
	default:
		return fmt.Errorf("unknown namespace: %q", ns)
	}
}

// Root returns the top-level key segment for the namespace.
func (ns Namespace) Root() string {
	if ns == NamespaceDraft {
		return "guidesDraft"
	}
	return "guides"
}

// GuidePrefix returns the key prefix owned by a guide within this namespace,
// including the trailing dot so "guides.first." never matches "guides.firstDay.".
func (ns Namespace) GuidePrefix(guideID string) string {
	return ns.Root() + "." + guideID + "."
}

// Bundle is a flat mapping from dotted key to string value for one language.
type Bundle map[string]string

// Keys returns the bundle's keys in sorted order.
func (b Bundle) Keys() []string {
	keys := make([]string, 0, len(b))
	for k := range b {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Clone returns an independent copy. A nil bundle clones to an empty one.
func (b Bundle) Clone() Bundle {
	out := make(Bundle, len(b))
	for k, v := range b {
		out[k] = v
	}
	return out
}

// Equal reports whether both bundles hold exactly the same keys and values.
func (b Bundle) Equal(other Bundle) bool {
	if len(b) != len(other) {
		return false
	}
	for k, v := range b {
		ov, ok := other[k]
		if !ok || ov != v {
			return false
		}
	}
	return true
}

// WithPrefix returns the subset of keys starting with prefix.
func (b Bundle) WithPrefix(prefix string) Bundle {
	out := Bundle{}
	for k, v := range b {
		if strings.HasPrefix(k, prefix) {
			out[k] = v
		}
	}
	return out
}

// Token is the opaque concurrency token issued by a read. It names the write
// revision that was read, so any later successful write invalidates it, even
// one that stores identical content.
type Token string

// Snapshot pairs a bundle with the token it was read with.
// Lives for the duration of one publish or draft attempt; never persisted.
type Snapshot struct {
	Lang  Lang
	Data  Bundle
	Token Token
}

// GuidePatch is the structured, language-specific content of one guide.
// The validate tags are enforced by the content-quality gate, not by the compiler.
type GuidePatch struct {
	Title        string   `json:"title" yaml:"title" validate:"required,max=120"`
	Explanation  string   `json:"explanation" yaml:"explanation" validate:"required,max=600"`
	Steps        []string `json:"steps" yaml:"steps" validate:"min=1,max=20,dive,required,max=300"`
	CommonErrors []string `json:"commonErrors" yaml:"common_errors" validate:"max=20,dive,required,max=300"`
	Checks       []string `json:"checks" yaml:"checks" validate:"max=20,dive,required,max=300"`
	Escalation   []string `json:"escalation" yaml:"escalation" validate:"max=20,dive,required,max=300"`
	CTA          string   `json:"cta" yaml:"cta" validate:"required,max=80"`
}

// PublishLock is the singleton record serializing publish attempts.
// Created lazily on the first acquire; never deleted.
type PublishLock struct {
	Locked      bool   `json:"locked"`
	LockedBy    string `json:"locked_by"`
	LockedAtMs  int64  `json:"locked_at_ms"`
	ExpiresAtMs int64  `json:"expires_at_ms"`
}

// HeldAt reports whether the lock is held and unexpired at now.
func (l *PublishLock) HeldAt(now time.Time) bool {
	if l == nil {
		return false
	}
	return l.Locked && l.ExpiresAtMs > now.UnixMilli()
}

// ExpiresAt returns the expiry as a time.Time.
func (l *PublishLock) ExpiresAt() time.Time {
	return time.UnixMilli(l.ExpiresAtMs)
}

// WorkflowStatus is the editorial status of a guide.
type WorkflowStatus string

const (
	// WorkflowStatusDraft indicates the guide has never been published
	WorkflowStatusDraft WorkflowStatus = "draft"

	// WorkflowStatusPublished indicates the guide has been published at least once
	WorkflowStatusPublished WorkflowStatus = "published"
)

// Validate checks if the WorkflowStatus is a valid enum value.
func (ws WorkflowStatus) Validate() error {
	switch ws {
	case WorkflowStatusDraft, WorkflowStatusPublished:
		return nil
	default:
		return fmt.Errorf("unknown workflow status: %q", ws)
	}
}

// WorkflowRecord is advisory editorial metadata for one guide. It never gates
// the correctness of the publish protocol.
type WorkflowRecord struct {
	GuideID                  string         `json:"guide_id"`
	Status                   WorkflowStatus `json:"status"`
	HasDraftContent          bool           `json:"has_draft_content"`
	TranslationReviewPending bool           `json:"translation_review_pending"`
	UpdatedAtMs              int64          `json:"updated_at_ms,omitempty"`
	UpdatedBy                string         `json:"updated_by,omitempty"`
}

// NewWorkflowRecord returns the record of a guide nobody has touched yet.
func NewWorkflowRecord(guideID string) *WorkflowRecord {
	return &WorkflowRecord{
		GuideID: guideID,
		Status:  WorkflowStatusDraft,
	}
}

// Validate checks if the WorkflowRecord has valid field values.
func (w *WorkflowRecord) Validate() error {
	if err := ValidateGuideID(w.GuideID); err != nil {
		return err
	}
	if err := w.Status.Validate(); err != nil {
		return fmt.Errorf("invalid status: %w", err)
	}
	return nil
}

// PublishSource records where published content came from.
type PublishSource string

const (
	// PublishSourceManual is content written by an editor
	PublishSourceManual PublishSource = "manual"

	// PublishSourceAutoTranslate is machine-translated content awaiting review
	PublishSourceAutoTranslate PublishSource = "auto_translate"
)

// Validate checks if the PublishSource is a valid enum value. Empty is accepted
// and treated as manual.
func (ps PublishSource) Validate() error {
	switch ps {
	case "", PublishSourceManual, PublishSourceAutoTranslate:
		return nil
	default:
		return fmt.Errorf("unknown publish source: %q", ps)
	}
}

// VersionEvent is published on the version events channel after every bump.
type VersionEvent struct {
	Version int64  `json:"version"`
	GuideID string `json:"guide_id,omitempty"`
}

// ReservedGuideID is taken by the denormalized guides.cta.<id> keys.
const ReservedGuideID = "cta"

var guideIDPattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_-]{0,63}$`)

// ValidateGuideID checks a guide id is usable as a single key segment.
func ValidateGuideID(id string) error {
	if !guideIDPattern.MatchString(id) {
		return fmt.Errorf("invalid guide id %q: must match %s", id, guideIDPattern.String())
	}
	if id == ReservedGuideID {
		return fmt.Errorf("invalid guide id %q: reserved", id)
	}
	return nil
}
