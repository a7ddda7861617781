// Package publish coordinates draft saves and publishes across every language
// bundle. Each bundle write is guarded by a compare-and-swap token and every
// multi-bundle write sequence runs under the global publish lock. A publish
// also passes the quality gate first. Any mid-sequence failure is compensated
// by restoring the already-written bundles.
package publish

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/dyluth/guidepost/internal/compiler"
	"github.com/dyluth/guidepost/internal/eventlog"
	"github.com/dyluth/guidepost/internal/gate"
	"github.com/dyluth/guidepost/pkg/bundle"
	"github.com/google/uuid"
)

// ContentSource says which namespace a guide's content was read from.
type ContentSource string

const (
	SourceDraft     ContentSource = "draft"
	SourcePublished ContentSource = "published"
	SourceNone      ContentSource = "none"
)

// Options configures a Service.
type Options struct {
	// Languages is the closed set of supported languages.
	Languages []bundle.Lang

	// WriteOrder must be a permutation of Languages. Empty uses Languages.
	WriteOrder []bundle.Lang

	LockTTL time.Duration
	Clock   func() time.Time
	Logger  *eventlog.Logger
}

// Service is the entry point for editors: SaveDraft, Publish and the reads
// that back the editor UI.
type Service struct {
	store        Store
	gate         gate.Gate
	orchestrator *Orchestrator
	locker       *Locker
	languages    []bundle.Lang
	now          func() time.Time
	events       *eventlog.Logger
}

// DraftResult is returned by a successful SaveDraft. Sources says, per
// language, whether the editor was looking at an earlier draft or at published
// content (SourceNone for a new guide) before this save.
type DraftResult struct {
	GuideID string                            `json:"guide_id"`
	Patches map[bundle.Lang]bundle.GuidePatch `json:"patches"`
	Sources map[bundle.Lang]ContentSource     `json:"sources"`
}

// PublishMeta carries optional publish metadata.
type PublishMeta struct {
	Source bundle.PublishSource `json:"source,omitempty"`
}

// PublishResult is returned by a successful Publish.
type PublishResult struct {
	GuideID   string        `json:"guide_id"`
	Version   int64         `json:"version"`
	Languages []bundle.Lang `json:"languages"`
	AttemptID string        `json:"attempt_id"`
}

// GuideView is a guide's content per language with where it came from.
type GuideView struct {
	GuideID string                            `json:"guide_id"`
	Patches map[bundle.Lang]bundle.GuidePatch `json:"patches"`
	Sources map[bundle.Lang]ContentSource     `json:"sources"`
}

// BundleView is one language bundle as served to readers.
type BundleView struct {
	Lang    bundle.Lang   `json:"lang"`
	Version int64         `json:"version"`
	Data    bundle.Bundle `json:"data"`
}

// LockView is the publish lock with its liveness evaluated at read time.
type LockView struct {
	Held bool `json:"held"`
	*bundle.PublishLock
}

// NewService creates a Service.
func NewService(store Store, g gate.Gate, opts Options) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if g == nil {
		return nil, fmt.Errorf("gate cannot be nil")
	}
	if len(opts.Languages) == 0 {
		return nil, fmt.Errorf("at least one language is required")
	}

	order := opts.WriteOrder
	if len(order) == 0 {
		order = opts.Languages
	}
	if err := checkPermutation(opts.Languages, order); err != nil {
		return nil, err
	}

	orch, err := NewOrchestrator(store, order)
	if err != nil {
		return nil, err
	}

	now := opts.Clock
	if now == nil {
		now = time.Now
	}

	return &Service{
		store:        store,
		gate:         g,
		orchestrator: orch,
		locker:       NewLocker(store, opts.LockTTL, now),
		languages:    append([]bundle.Lang(nil), opts.Languages...),
		now:          now,
		events:       opts.Logger,
	}, nil
}

func checkPermutation(languages, order []bundle.Lang) error {
	if len(languages) != len(order) {
		return fmt.Errorf("write order %v must list every language in %v exactly once", order, languages)
	}
	want := make(map[bundle.Lang]bool, len(languages))
	for _, lang := range languages {
		want[lang] = true
	}
	for _, lang := range order {
		if !want[lang] {
			return fmt.Errorf("write order %v must list every language in %v exactly once", order, languages)
		}
		delete(want, lang)
	}
	return nil
}

// Languages returns the supported languages.
func (s *Service) Languages() []bundle.Lang {
	return append([]bundle.Lang(nil), s.languages...)
}

// WriteOrder returns the order bundles are written in.
func (s *Service) WriteOrder() []bundle.Lang {
	return s.orchestrator.Order()
}

// SaveDraft writes patches into the draft namespace of every language bundle.
// It holds the publish lock for the whole write sequence so a publish rollback
// can never overwrite an acknowledged draft. Drafts never bump the version.
func (s *Service) SaveDraft(ctx context.Context, principal, guideID string, patches map[bundle.Lang]bundle.GuidePatch) (result *DraftResult, err error) {
	start := time.Now()
	defer func() { s.observe(opDraft, start, err) }()

	if err := s.validateRequest(principal, guideID, patches); err != nil {
		return nil, err
	}

	attemptID := uuid.New().String()
	if err := s.acquireLock(ctx, principal, guideID, attemptID); err != nil {
		return nil, err
	}
	defer s.releaseLock(ctx, principal, attemptID)

	log.Printf("[Publisher] Saving draft of %s for %s (attempt %s)", guideID, principal, attemptID)

	original, err := s.readAll(ctx)
	if err != nil {
		return nil, err
	}
	next, err := s.compileAll(guideID, bundle.NamespaceDraft, patches, original)
	if err != nil {
		return nil, err
	}

	report, err := s.orchestrator.Apply(ctx, original, next)
	if err != nil {
		s.logFailure(opDraft, attemptID, guideID, principal, report, err)
		return nil, err
	}

	s.updateWorkflow(ctx, guideID, func(rec *bundle.WorkflowRecord) {
		rec.HasDraftContent = true
		rec.UpdatedBy = principal
	})

	sources := make(map[bundle.Lang]ContentSource, len(original))
	for lang, snap := range original {
		_, _, src := resolveGuide(snap.Data, guideID)
		sources[lang] = src
	}

	s.events.Event("draft_saved", map[string]interface{}{
		"attempt_id": attemptID,
		"guide_id":   guideID,
		"principal":  principal,
	})

	return &DraftResult{GuideID: guideID, Patches: patches, Sources: sources}, nil
}

// Publish writes patches into the published namespace of every language
// bundle under the publish lock, then bumps the content version.
//
// Failures are reported through errors classified by Classify: a held lock,
// a gate rejection, a token mismatch (after a complete rollback), or a
// recovery failure that leaves the bundles inconsistent.
func (s *Service) Publish(ctx context.Context, principal, guideID string, patches map[bundle.Lang]bundle.GuidePatch, meta PublishMeta) (result *PublishResult, err error) {
	start := time.Now()
	defer func() { s.observe(opPublish, start, err) }()

	if err := s.validateRequest(principal, guideID, patches); err != nil {
		return nil, err
	}
	if err := meta.Source.Validate(); err != nil {
		return nil, invalidf("%v", err)
	}

	attemptID := uuid.New().String()
	if err := s.acquireLock(ctx, principal, guideID, attemptID); err != nil {
		return nil, err
	}
	defer s.releaseLock(ctx, principal, attemptID)

	log.Printf("[Publisher] Publishing %s for %s (attempt %s)", guideID, principal, attemptID)
	s.events.Event("publish_started", map[string]interface{}{
		"attempt_id": attemptID,
		"guide_id":   guideID,
		"principal":  principal,
	})

	if err := s.gate.Check(ctx, guideID, patches); err != nil {
		if errors.Is(err, gate.ErrRejected) {
			return nil, err
		}
		return nil, fmt.Errorf("quality gate failed: %w", err)
	}

	original, err := s.readAll(ctx)
	if err != nil {
		return nil, err
	}
	next, err := s.compileAll(guideID, bundle.NamespacePublished, patches, original)
	if err != nil {
		return nil, err
	}

	report, err := s.orchestrator.Apply(ctx, original, next)
	if err != nil {
		s.logFailure(opPublish, attemptID, guideID, principal, report, err)
		return nil, err
	}

	// Every bundle holds the new content from here on; the steps below must
	// not undo it, so they run detached from the caller.
	ctx = context.WithoutCancel(ctx)

	version, err := s.store.IncrementVersion(ctx)
	if err != nil {
		s.events.Error("version_bump_failed", map[string]interface{}{
			"attempt_id": attemptID,
			"guide_id":   guideID,
			"error":      err.Error(),
		})
		return nil, fmt.Errorf("bundles published but failed to bump version: %w", err)
	}
	contentVersion.Set(float64(version))

	if notifier, ok := s.store.(VersionNotifier); ok {
		if err := notifier.PublishVersionEvent(ctx, bundle.VersionEvent{Version: version, GuideID: guideID}); err != nil {
			log.Printf("[Publisher] Failed to announce version %d: %v", version, err)
		}
	}

	s.updateWorkflow(ctx, guideID, func(rec *bundle.WorkflowRecord) {
		rec.Status = bundle.WorkflowStatusPublished
		rec.TranslationReviewPending = meta.Source == bundle.PublishSourceAutoTranslate
		rec.UpdatedBy = principal
	})

	s.events.Event("publish_succeeded", map[string]interface{}{
		"attempt_id": attemptID,
		"guide_id":   guideID,
		"principal":  principal,
		"version":    version,
		"source":     string(meta.Source),
	})
	log.Printf("[Publisher] Published %s as version %d", guideID, version)

	return &PublishResult{
		GuideID:   guideID,
		Version:   version,
		Languages: s.orchestrator.Order(),
		AttemptID: attemptID,
	}, nil
}

// GetDraft returns the editor's view of a guide: per language the draft
// content if one exists, otherwise the published content.
func (s *Service) GetDraft(ctx context.Context, guideID string) (*GuideView, error) {
	if err := bundle.ValidateGuideID(guideID); err != nil {
		return nil, invalidf("%v", err)
	}

	view := &GuideView{
		GuideID: guideID,
		Patches: make(map[bundle.Lang]bundle.GuidePatch, len(s.languages)),
		Sources: make(map[bundle.Lang]ContentSource, len(s.languages)),
	}
	for _, lang := range s.languages {
		snap, err := s.store.ReadBundle(ctx, lang)
		if err != nil {
			return nil, fmt.Errorf("failed to read bundle %s: %w", lang, err)
		}
		patch, ok, src := resolveGuide(snap.Data, guideID)
		view.Sources[lang] = src
		if ok {
			view.Patches[lang] = patch
		}
	}
	return view, nil
}

// GetBundle returns one language bundle with the content version it belongs
// to. The version is read on both sides of the bundle read and the pair is
// retried until they agree. If they never agree the bundle is labelled with
// the earlier version: its content is at least that new, and a reader cache
// holding it re-fetches as soon as it observes the later one.
func (s *Service) GetBundle(ctx context.Context, lang bundle.Lang) (*BundleView, error) {
	if !s.supports(lang) {
		return nil, invalidf("unsupported language %q", lang)
	}

	const attempts = 3
	var before, after int64
	var snap *bundle.Snapshot
	for i := 0; i < attempts; i++ {
		var err error
		if before, err = s.store.GetVersion(ctx); err != nil {
			return nil, err
		}
		if snap, err = s.store.ReadBundle(ctx, lang); err != nil {
			return nil, fmt.Errorf("failed to read bundle %s: %w", lang, err)
		}
		if after, err = s.store.GetVersion(ctx); err != nil {
			return nil, err
		}
		if before == after {
			return &BundleView{Lang: lang, Version: after, Data: snap.Data}, nil
		}
	}

	log.Printf("[Publisher] Content version of %s kept moving (%d -> %d), serving as %d", lang, before, after, before)
	s.events.Warn("bundle_version_unstable", map[string]interface{}{
		"lang":     string(lang),
		"attempts": attempts,
		"before":   before,
		"after":    after,
	})
	return &BundleView{Lang: lang, Version: before, Data: snap.Data}, nil
}

// GetVersion returns the current content version.
func (s *Service) GetVersion(ctx context.Context) (int64, error) {
	return s.store.GetVersion(ctx)
}

// GetWorkflow returns the workflow record of a guide.
func (s *Service) GetWorkflow(ctx context.Context, guideID string) (*bundle.WorkflowRecord, error) {
	if err := bundle.ValidateGuideID(guideID); err != nil {
		return nil, invalidf("%v", err)
	}
	return s.store.GetWorkflow(ctx, guideID)
}

// LockStatus returns the publish lock as of now.
func (s *Service) LockStatus(ctx context.Context) (*LockView, error) {
	lock, held, err := s.locker.Status(ctx)
	if err != nil {
		return nil, err
	}
	return &LockView{Held: held, PublishLock: lock}, nil
}

// ForceReleaseLock releases the publish lock regardless of holder.
// Operators use it after a crashed or fatally failed publish.
func (s *Service) ForceReleaseLock(ctx context.Context, principal string) error {
	if err := s.locker.Release(ctx, principal); err != nil {
		return err
	}
	s.events.Warn("lock_force_released", map[string]interface{}{"principal": principal})
	return nil
}

// Ping checks the store is reachable.
func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) validateRequest(principal, guideID string, patches map[bundle.Lang]bundle.GuidePatch) error {
	if principal == "" {
		return invalidf("principal cannot be empty")
	}
	if err := bundle.ValidateGuideID(guideID); err != nil {
		return invalidf("%v", err)
	}
	for _, lang := range s.languages {
		if _, ok := patches[lang]; !ok {
			return invalidf("missing content for language %s", lang)
		}
	}
	for lang := range patches {
		if !s.supports(lang) {
			return invalidf("unsupported language %q", lang)
		}
	}
	return nil
}

func (s *Service) supports(lang bundle.Lang) bool {
	for _, l := range s.languages {
		if l == lang {
			return true
		}
	}
	return false
}

func (s *Service) readAll(ctx context.Context) (map[bundle.Lang]*bundle.Snapshot, error) {
	snaps := make(map[bundle.Lang]*bundle.Snapshot, len(s.languages))
	for _, lang := range s.orchestrator.Order() {
		snap, err := s.store.ReadBundle(ctx, lang)
		if err != nil {
			return nil, fmt.Errorf("failed to read bundle %s: %w", lang, err)
		}
		snaps[lang] = snap
	}
	return snaps, nil
}

func (s *Service) compileAll(guideID string, ns bundle.Namespace, patches map[bundle.Lang]bundle.GuidePatch, original map[bundle.Lang]*bundle.Snapshot) (map[bundle.Lang]bundle.Bundle, error) {
	next := make(map[bundle.Lang]bundle.Bundle, len(original))
	for lang, snap := range original {
		flat, err := compiler.CompileFlatPatch(guideID, lang, ns, patches[lang])
		if err != nil {
			return nil, invalidf("%v", err)
		}
		merged, err := compiler.MergeIntoBundle(snap.Data, guideID, ns, flat)
		if err != nil {
			return nil, fmt.Errorf("failed to merge %s into bundle %s: %w", guideID, lang, err)
		}
		next[lang] = merged
	}
	return next, nil
}

// updateWorkflow applies mutate to the guide's record. Workflow records are
// advisory, so failures are logged and swallowed.
func (s *Service) updateWorkflow(ctx context.Context, guideID string, mutate func(*bundle.WorkflowRecord)) {
	rec, err := s.store.GetWorkflow(ctx, guideID)
	if err != nil {
		log.Printf("[Publisher] Failed to read workflow of %s: %v", guideID, err)
		return
	}
	mutate(rec)
	rec.UpdatedAtMs = s.now().UnixMilli()

	if err := s.store.UpdateWorkflow(ctx, rec); err != nil {
		log.Printf("[Publisher] Failed to update workflow of %s: %v", guideID, err)
	}
}

// acquireLock takes the publish lock for one attempt and records contention.
func (s *Service) acquireLock(ctx context.Context, principal, guideID, attemptID string) error {
	_, err := s.locker.Acquire(ctx, principal)
	if errors.Is(err, bundle.ErrLockHeld) {
		lockContentionTotal.Inc()
		s.events.Warn("lock_contention", map[string]interface{}{
			"attempt_id": attemptID,
			"guide_id":   guideID,
			"principal":  principal,
			"error":      err.Error(),
		})
	}
	return err
}

// releaseLock runs on every exit path after a successful acquire. Release
// errors are logged only; the TTL bounds the damage.
func (s *Service) releaseLock(ctx context.Context, principal, attemptID string) {
	if err := s.locker.Release(context.WithoutCancel(ctx), principal); err != nil {
		log.Printf("[Publisher] %v", err)
		s.events.Warn("lock_release_failed", map[string]interface{}{
			"attempt_id": attemptID,
			"principal":  principal,
			"error":      err.Error(),
		})
	}
}

func (s *Service) logFailure(op, attemptID, guideID, principal string, report *ApplyReport, err error) {
	data := map[string]interface{}{
		"operation":  op,
		"attempt_id": attemptID,
		"guide_id":   guideID,
		"principal":  principal,
		"error":      err.Error(),
	}

	var recErr *RecoveryError
	if errors.As(err, &recErr) {
		rollbacksTotal.WithLabelValues("failed").Inc()
		data["fatal"] = true
		data["states"] = recErr.StateStrings()
		log.Printf("[Publisher] FATAL: rollback of %s failed, bundles are inconsistent: %v", guideID, err)
		s.events.Error("recovery_failed", data)
		return
	}

	if report != nil && len(report.Written) > 0 {
		rollbacksTotal.WithLabelValues("restored").Inc()
		data["restored"] = len(report.Restored)
	}
	log.Printf("[Publisher] %s of %s failed: %v", op, guideID, err)
	s.events.Warn(op+"_failed", data)
}

func (s *Service) observe(op string, start time.Time, err error) {
	attemptsTotal.WithLabelValues(op, Classify(err).Code).Inc()
	attemptDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

// resolveGuide prefers draft content and falls back to published.
func resolveGuide(b bundle.Bundle, guideID string) (bundle.GuidePatch, bool, ContentSource) {
	if patch, ok := compiler.ExtractGuide(b, guideID, bundle.NamespaceDraft); ok {
		return patch, true, SourceDraft
	}
	if patch, ok := compiler.ExtractGuide(b, guideID, bundle.NamespacePublished); ok {
		return patch, true, SourcePublished
	}
	return bundle.GuidePatch{}, false, SourceNone
}
