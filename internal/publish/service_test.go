package publish

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/dyluth/guidepost/internal/eventlog"
	"github.com/dyluth/guidepost/internal/gate"
	"github.com/dyluth/guidepost/pkg/bundle"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	testLanguages  = []bundle.Lang{"en", "es", "fr", "de"}
	testWriteOrder = []bundle.Lang{"de", "fr", "es", "en"}
	testNow        = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
)

// faultyStore wraps a real store and fails selected calls.
// Call numbers are per language and start at 1.
type faultyStore struct {
	Store

	mu        sync.Mutex
	writes    map[bundle.Lang]int
	reads     map[bundle.Lang]int
	failWrite func(lang bundle.Lang, call int) error
	failRead  func(lang bundle.Lang, call int) error
}

func newFaultyStore(inner Store) *faultyStore {
	return &faultyStore{
		Store:  inner,
		writes: make(map[bundle.Lang]int),
		reads:  make(map[bundle.Lang]int),
	}
}

func (f *faultyStore) ReadBundle(ctx context.Context, lang bundle.Lang) (*bundle.Snapshot, error) {
	f.mu.Lock()
	f.reads[lang]++
	n, fail := f.reads[lang], f.failRead
	f.mu.Unlock()

	if fail != nil {
		if err := fail(lang, n); err != nil {
			return nil, err
		}
	}
	return f.Store.ReadBundle(ctx, lang)
}

func (f *faultyStore) WriteBundle(ctx context.Context, lang bundle.Lang, data bundle.Bundle, token bundle.Token) error {
	f.mu.Lock()
	f.writes[lang]++
	n, fail := f.writes[lang], f.failWrite
	f.mu.Unlock()

	if fail != nil {
		if err := fail(lang, n); err != nil {
			return err
		}
	}
	return f.Store.WriteBundle(ctx, lang, data, token)
}

func (f *faultyStore) writeCount(lang bundle.Lang) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.writes[lang]
}

type testEnv struct {
	svc    *Service
	client *bundle.Client
	store  *faultyStore
	mr     *miniredis.Miniredis
	logs   *bytes.Buffer
}

func setupTestService(t *testing.T, g gate.Gate) *testEnv {
	t.Helper()

	mr := miniredis.NewMiniRedis()
	require.NoError(t, mr.Start())
	t.Cleanup(mr.Close)

	client, err := bundle.NewClient(&redis.Options{Addr: mr.Addr()}, "test-instance")
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	ctx := context.Background()
	for _, lang := range testLanguages {
		_, err := client.SeedBundle(ctx, lang)
		require.NoError(t, err)
	}

	if g == nil {
		g = gate.NewValidatorGate(gate.Options{})
	}

	logs := &bytes.Buffer{}
	store := newFaultyStore(client)
	svc, err := NewService(store, g, Options{
		Languages:  testLanguages,
		WriteOrder: testWriteOrder,
		LockTTL:    30 * time.Second,
		Clock:      func() time.Time { return testNow },
		Logger:     eventlog.New("publisher", "test-instance").WithOutput(log.New(logs, "", 0)),
	})
	require.NoError(t, err)

	return &testEnv{svc: svc, client: client, store: store, mr: mr, logs: logs}
}

// seedOtherContent puts unrelated keys in every bundle so tests can check
// they survive untouched.
func (e *testEnv) seedOtherContent(t *testing.T) map[bundle.Lang]bundle.Bundle {
	t.Helper()
	ctx := context.Background()

	out := make(map[bundle.Lang]bundle.Bundle)
	for _, lang := range testLanguages {
		snap, err := e.client.ReadBundle(ctx, lang)
		require.NoError(t, err)

		data := bundle.Bundle{
			"ui.button.ok":          "OK " + string(lang),
			"guides.welcome.title":  "Welcome " + string(lang),
			"guides.cta.welcome":    "Start " + string(lang),
			"guidesDraft.other.cta": "Draft " + string(lang),
		}
		require.NoError(t, e.client.WriteBundle(ctx, lang, data, snap.Token))
		out[lang] = data
	}
	return out
}

func (e *testEnv) bundles(t *testing.T) map[bundle.Lang]bundle.Bundle {
	t.Helper()
	out := make(map[bundle.Lang]bundle.Bundle)
	for _, lang := range testLanguages {
		snap, err := e.client.ReadBundle(context.Background(), lang)
		require.NoError(t, err)
		out[lang] = snap.Data
	}
	return out
}

func (e *testEnv) assertLockReleased(t *testing.T) {
	t.Helper()
	lock, err := e.client.GetLock(context.Background())
	require.NoError(t, err)
	assert.False(t, lock.HeldAt(testNow), "publish lock should be released")
}

func (e *testEnv) events(t *testing.T) []map[string]interface{} {
	t.Helper()
	var out []map[string]interface{}
	for _, line := range strings.Split(strings.TrimSpace(e.logs.String()), "\n") {
		if line == "" {
			continue
		}
		var ev map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(line), &ev))
		out = append(out, ev)
	}
	return out
}

func guidePatch(lang bundle.Lang) bundle.GuidePatch {
	return bundle.GuidePatch{
		Title:        "First day " + string(lang),
		Explanation:  "What happens on day one",
		Steps:        []string{"Collect badge", "Log in"},
		CommonErrors: []string{"Badge inactive"},
		Checks:       []string{"Intranet opens"},
		Escalation:   []string{"Still locked out after 1h"},
		CTA:          "Contact IT " + string(lang),
	}
}

func allPatches() map[bundle.Lang]bundle.GuidePatch {
	out := make(map[bundle.Lang]bundle.GuidePatch)
	for _, lang := range testLanguages {
		out[lang] = guidePatch(lang)
	}
	return out
}

func TestNewService_Validation(t *testing.T) {
	env := setupTestService(t, nil)
	g := gate.NewValidatorGate(gate.Options{})

	tests := []struct {
		name string
		opts Options
		want string
	}{
		{"no languages", Options{}, "at least one language"},
		{"order misses a language", Options{Languages: testLanguages, WriteOrder: []bundle.Lang{"de", "fr", "es"}}, "exactly once"},
		{"order has unknown language", Options{Languages: testLanguages, WriteOrder: []bundle.Lang{"de", "fr", "es", "it"}}, "exactly once"},
		{"order repeats a language", Options{Languages: testLanguages, WriteOrder: []bundle.Lang{"de", "de", "es", "en"}}, "exactly once"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewService(env.store, g, tt.opts)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}

	t.Run("empty write order defaults to languages", func(t *testing.T) {
		svc, err := NewService(env.store, g, Options{Languages: testLanguages})
		require.NoError(t, err)
		assert.Equal(t, testLanguages, svc.WriteOrder())
	})
}

func TestPublish_WritesEveryLanguage(t *testing.T) {
	env := setupTestService(t, nil)
	ctx := context.Background()
	before := env.seedOtherContent(t)

	result, err := env.svc.Publish(ctx, "alice", "firstDay", allPatches(), PublishMeta{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), result.Version)
	assert.Equal(t, testWriteOrder, result.Languages)
	assert.NotEmpty(t, result.AttemptID)

	after := env.bundles(t)
	for _, lang := range testLanguages {
		assert.Equal(t, "First day "+string(lang), after[lang]["guides.firstDay.title"])
		assert.Equal(t, "First day "+string(lang), after[lang]["guides.firstDay.heading"])
		assert.Equal(t, "Contact IT "+string(lang), after[lang]["guides.cta.firstDay"])
		for k, v := range before[lang] {
			assert.Equal(t, v, after[lang][k], "unrelated key %s in %s changed", k, lang)
		}
	}

	version, err := env.svc.GetVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), version)
	env.assertLockReleased(t)

	rec, err := env.svc.GetWorkflow(ctx, "firstDay")
	require.NoError(t, err)
	assert.Equal(t, bundle.WorkflowStatusPublished, rec.Status)
	assert.False(t, rec.TranslationReviewPending)
	assert.Equal(t, "alice", rec.UpdatedBy)
	assert.Equal(t, testNow.UnixMilli(), rec.UpdatedAtMs)
}

func TestPublish_RepublishIsIdempotent(t *testing.T) {
	env := setupTestService(t, nil)
	ctx := context.Background()

	_, err := env.svc.Publish(ctx, "alice", "firstDay", allPatches(), PublishMeta{})
	require.NoError(t, err)
	first := env.bundles(t)

	result, err := env.svc.Publish(ctx, "alice", "firstDay", allPatches(), PublishMeta{})
	require.NoError(t, err)
	assert.Equal(t, int64(2), result.Version)

	second := env.bundles(t)
	for _, lang := range testLanguages {
		assert.True(t, first[lang].Equal(second[lang]), "bundle %s changed on re-publish", lang)
	}
}

func TestPublish_RollbackForEveryFailurePrefix(t *testing.T) {
	for k := 0; k < len(testWriteOrder); k++ {
		failing := testWriteOrder[k]
		t.Run(fmt.Sprintf("fail at %s after %d write(s)", failing, k), func(t *testing.T) {
			env := setupTestService(t, nil)
			ctx := context.Background()
			before := env.seedOtherContent(t)

			env.store.failWrite = func(lang bundle.Lang, call int) error {
				if lang == failing && call == 1 {
					return bundle.ErrTokenMismatch
				}
				return nil
			}

			_, err := env.svc.Publish(ctx, "alice", "firstDay", allPatches(), PublishMeta{})
			require.Error(t, err)

			var writeErr *WriteError
			require.True(t, errors.As(err, &writeErr))
			assert.Equal(t, failing, writeErr.Lang)

			outcome := Classify(err)
			assert.Equal(t, http.StatusConflict, outcome.Status)
			assert.True(t, outcome.Retryable)
			assert.False(t, outcome.Fatal)

			after := env.bundles(t)
			for _, lang := range testLanguages {
				assert.True(t, before[lang].Equal(after[lang]), "bundle %s not restored", lang)
			}

			// Languages after the failure were never written.
			for _, lang := range testWriteOrder[k+1:] {
				assert.Equal(t, 0, env.store.writeCount(lang), "%s should be untouched", lang)
			}

			version, err := env.svc.GetVersion(ctx)
			require.NoError(t, err)
			assert.Equal(t, int64(0), version)
			env.assertLockReleased(t)
		})
	}
}

func TestPublish_FirstDayScenario_RecoveryFailed(t *testing.T) {
	env := setupTestService(t, nil)
	ctx := context.Background()
	env.seedOtherContent(t)

	// Third language in write order fails forward; restoring the second fails too.
	env.store.failWrite = func(lang bundle.Lang, call int) error {
		switch {
		case lang == "es" && call == 1:
			return bundle.ErrTokenMismatch
		case lang == "fr" && call == 2:
			return errors.New("connection reset")
		}
		return nil
	}

	_, err := env.svc.Publish(ctx, "alice", "firstDay", allPatches(), PublishMeta{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrRecoveryFailed))
	assert.False(t, errors.Is(err, bundle.ErrTokenMismatch), "fatal must not look retryable")

	outcome := Classify(err)
	assert.Equal(t, http.StatusInternalServerError, outcome.Status)
	assert.Equal(t, CodeRecoveryFailed, outcome.Code)
	assert.True(t, outcome.Fatal)
	assert.False(t, outcome.Retryable)

	var recErr *RecoveryError
	require.True(t, errors.As(err, &recErr))
	assert.Equal(t, map[bundle.Lang]LangState{
		"de": StateApplied,
		"fr": StateRestoreFailed,
		"es": StateFailed,
		"en": StateUntouched,
	}, recErr.States)

	// Rollback stopped at fr, so de still holds the new content.
	after := env.bundles(t)
	assert.Equal(t, "First day de", after["de"]["guides.firstDay.title"])
	assert.Equal(t, "First day fr", after["fr"]["guides.firstDay.title"])
	assert.NotContains(t, after["es"], "guides.firstDay.title")
	assert.NotContains(t, after["en"], "guides.firstDay.title")

	version, err := env.svc.GetVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), version)
	env.assertLockReleased(t)

	var fatal map[string]interface{}
	for _, ev := range env.events(t) {
		if ev["event_type"] == "recovery_failed" {
			fatal = ev
		}
	}
	require.NotNil(t, fatal, "recovery_failed event not logged")
	assert.Equal(t, "error", fatal["level"])
	assert.Equal(t, true, fatal["fatal"])
	assert.Equal(t, "firstDay", fatal["guide_id"])
	assert.Equal(t, map[string]interface{}{
		"de": "applied", "fr": "restore_failed", "es": "failed", "en": "untouched",
	}, fatal["states"])
}

func TestPublish_RollbackReadFailureIsFatal(t *testing.T) {
	env := setupTestService(t, nil)
	env.seedOtherContent(t)

	env.store.failWrite = func(lang bundle.Lang, call int) error {
		if lang == "en" {
			return bundle.ErrTokenMismatch
		}
		return nil
	}
	// Second read of es is the rollback's fresh read.
	env.store.failRead = func(lang bundle.Lang, call int) error {
		if lang == "es" && call == 2 {
			return errors.New("timeout")
		}
		return nil
	}

	_, err := env.svc.Publish(context.Background(), "alice", "firstDay", allPatches(), PublishMeta{})
	var recErr *RecoveryError
	require.True(t, errors.As(err, &recErr))
	assert.Equal(t, bundle.Lang("es"), recErr.RollbackLang)
	assert.Equal(t, StateApplied, recErr.States["de"])
	assert.Equal(t, StateApplied, recErr.States["fr"])
	assert.Equal(t, StateRestoreFailed, recErr.States["es"])
	assert.Equal(t, StateFailed, recErr.States["en"])
}

func TestPublish_ConcurrentEditDetected(t *testing.T) {
	env := setupTestService(t, nil)
	ctx := context.Background()
	before := env.seedOtherContent(t)

	// Another writer changes fr between our read and our write.
	env.store.failWrite = func(lang bundle.Lang, call int) error {
		if lang == "fr" && call == 1 {
			snap, err := env.client.ReadBundle(ctx, "fr")
			require.NoError(t, err)
			data := snap.Data.Clone()
			data["ui.button.ok"] = "D'accord"
			require.NoError(t, env.client.WriteBundle(ctx, "fr", data, snap.Token))
			before["fr"] = data
		}
		return nil
	}

	_, err := env.svc.Publish(ctx, "alice", "firstDay", allPatches(), PublishMeta{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, bundle.ErrTokenMismatch))
	assert.Equal(t, http.StatusConflict, Classify(err).Status)

	after := env.bundles(t)
	for _, lang := range testLanguages {
		assert.True(t, before[lang].Equal(after[lang]), "bundle %s not restored", lang)
	}
}

// blockingGate holds publishes inside the lock until released.
type blockingGate struct {
	entered chan struct{}
	release chan struct{}
}

func (g *blockingGate) Check(ctx context.Context, guideID string, patches map[bundle.Lang]bundle.GuidePatch) error {
	close(g.entered)
	<-g.release
	return nil
}

func TestPublish_LockContention(t *testing.T) {
	g := &blockingGate{entered: make(chan struct{}), release: make(chan struct{})}
	env := setupTestService(t, g)
	ctx := context.Background()

	done := make(chan error, 1)
	go func() {
		_, err := env.svc.Publish(ctx, "alice", "firstDay", allPatches(), PublishMeta{})
		done <- err
	}()
	<-g.entered

	_, err := env.svc.Publish(ctx, "bob", "firstDay", allPatches(), PublishMeta{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, bundle.ErrLockHeld))

	var held *bundle.LockHeldError
	require.True(t, errors.As(err, &held))
	assert.Equal(t, "alice", held.Holder)

	outcome := Classify(err)
	assert.Equal(t, http.StatusLocked, outcome.Status)
	assert.True(t, outcome.Retryable)

	for _, lang := range testLanguages {
		assert.Equal(t, 0, env.store.writeCount(lang), "losing attempt must not write")
	}

	close(g.release)
	require.NoError(t, <-done)
	env.assertLockReleased(t)
}

func TestPublish_ExpiredLockIsTakenOver(t *testing.T) {
	env := setupTestService(t, nil)
	ctx := context.Background()

	_, err := env.client.AcquireLock(ctx, "crashed", testNow.Add(-time.Minute), 30*time.Second)
	require.NoError(t, err)

	_, err = env.svc.Publish(ctx, "alice", "firstDay", allPatches(), PublishMeta{})
	assert.NoError(t, err)
}

func TestPublish_GateRejection(t *testing.T) {
	env := setupTestService(t, nil)
	ctx := context.Background()

	patches := allPatches()
	bad := patches["fr"]
	bad.Title = ""
	patches["fr"] = bad

	_, err := env.svc.Publish(ctx, "alice", "firstDay", patches, PublishMeta{})
	require.Error(t, err)

	outcome := Classify(err)
	assert.Equal(t, http.StatusBadRequest, outcome.Status)
	assert.Equal(t, CodeQualityGate, outcome.Code)
	require.Len(t, outcome.Issues, 1)
	assert.Equal(t, bundle.Lang("fr"), outcome.Issues[0].Lang)
	assert.Equal(t, "title", outcome.Issues[0].Field)

	for _, lang := range testLanguages {
		assert.Equal(t, 0, env.store.writeCount(lang))
	}
	env.assertLockReleased(t)
}

func TestPublish_InvalidRequests(t *testing.T) {
	env := setupTestService(t, nil)
	ctx := context.Background()

	missing := allPatches()
	delete(missing, "de")

	unknown := allPatches()
	unknown["it"] = guidePatch("it")

	tests := []struct {
		name      string
		principal string
		guideID   string
		patches   map[bundle.Lang]bundle.GuidePatch
		meta      PublishMeta
	}{
		{"missing language", "alice", "firstDay", missing, PublishMeta{}},
		{"unknown language", "alice", "firstDay", unknown, PublishMeta{}},
		{"bad guide id", "alice", "first day", allPatches(), PublishMeta{}},
		{"reserved guide id", "alice", "cta", allPatches(), PublishMeta{}},
		{"empty principal", "", "firstDay", allPatches(), PublishMeta{}},
		{"unknown source", "alice", "firstDay", allPatches(), PublishMeta{Source: "scraped"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.svc.Publish(ctx, tt.principal, tt.guideID, tt.patches, tt.meta)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrValidation))
			assert.Equal(t, CodeInvalidRequest, Classify(err).Code)
		})
	}

	lock, err := env.client.GetLock(ctx)
	require.NoError(t, err)
	assert.False(t, lock.Locked, "invalid requests must not take the lock")
}

func TestPublish_AutoTranslateMarksReviewPending(t *testing.T) {
	env := setupTestService(t, nil)
	ctx := context.Background()

	_, err := env.svc.Publish(ctx, "bot", "firstDay", allPatches(), PublishMeta{Source: bundle.PublishSourceAutoTranslate})
	require.NoError(t, err)

	rec, err := env.svc.GetWorkflow(ctx, "firstDay")
	require.NoError(t, err)
	assert.True(t, rec.TranslationReviewPending)

	_, err = env.svc.Publish(ctx, "alice", "firstDay", allPatches(), PublishMeta{Source: bundle.PublishSourceManual})
	require.NoError(t, err)

	rec, err = env.svc.GetWorkflow(ctx, "firstDay")
	require.NoError(t, err)
	assert.False(t, rec.TranslationReviewPending)
}

func TestPublish_MissingBundle(t *testing.T) {
	env := setupTestService(t, nil)
	env.mr.Del(bundle.BundleKey("test-instance", "es"))

	_, err := env.svc.Publish(context.Background(), "alice", "firstDay", allPatches(), PublishMeta{})
	require.Error(t, err)
	assert.Equal(t, CodeBundleMissing, Classify(err).Code)
	env.assertLockReleased(t)
}

func TestPublish_AnnouncesVersion(t *testing.T) {
	env := setupTestService(t, nil)
	ctx := context.Background()

	svc, err := NewService(env.client, gate.NewValidatorGate(gate.Options{}), Options{
		Languages:  testLanguages,
		WriteOrder: testWriteOrder,
		Clock:      func() time.Time { return testNow },
	})
	require.NoError(t, err)

	sub, err := env.client.SubscribeVersionEvents(ctx)
	require.NoError(t, err)
	defer sub.Close()

	_, err = svc.Publish(ctx, "alice", "firstDay", allPatches(), PublishMeta{})
	require.NoError(t, err)

	select {
	case ev := <-sub.Events():
		assert.Equal(t, int64(1), ev.Version)
		assert.Equal(t, "firstDay", ev.GuideID)
	case <-time.After(2 * time.Second):
		t.Fatal("version event not received")
	}
}

func TestSaveDraft(t *testing.T) {
	env := setupTestService(t, nil)
	ctx := context.Background()
	before := env.seedOtherContent(t)

	drafts := allPatches()
	for lang, p := range drafts {
		p.Title = "Draft " + string(lang)
		drafts[lang] = p
	}

	result, err := env.svc.SaveDraft(ctx, "alice", "firstDay", drafts)
	require.NoError(t, err)
	assert.Equal(t, drafts, result.Patches)
	for _, lang := range testLanguages {
		assert.Equal(t, SourceNone, result.Sources[lang], "new guide had no content before the save")
	}

	after := env.bundles(t)
	for _, lang := range testLanguages {
		assert.Equal(t, "Draft "+string(lang), after[lang]["guidesDraft.firstDay.title"])
		assert.NotContains(t, after[lang], "guides.firstDay.title")
		assert.NotContains(t, after[lang], "guides.cta.firstDay")
		for k, v := range before[lang] {
			assert.Equal(t, v, after[lang][k])
		}
	}

	version, err := env.svc.GetVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), version, "drafts do not bump the version")

	env.assertLockReleased(t)

	rec, err := env.svc.GetWorkflow(ctx, "firstDay")
	require.NoError(t, err)
	assert.Equal(t, bundle.WorkflowStatusDraft, rec.Status)
	assert.True(t, rec.HasDraftContent)
}

func TestSaveDraft_RollsBack(t *testing.T) {
	env := setupTestService(t, nil)
	before := env.seedOtherContent(t)

	env.store.failWrite = func(lang bundle.Lang, call int) error {
		if lang == "en" && call == 1 {
			return bundle.ErrTokenMismatch
		}
		return nil
	}

	_, err := env.svc.SaveDraft(context.Background(), "alice", "firstDay", allPatches())
	require.Error(t, err)
	assert.Equal(t, http.StatusConflict, Classify(err).Status)

	after := env.bundles(t)
	for _, lang := range testLanguages {
		assert.True(t, before[lang].Equal(after[lang]))
	}
}

func TestSaveDraft_LockHeld(t *testing.T) {
	env := setupTestService(t, nil)
	ctx := context.Background()

	_, err := env.client.AcquireLock(ctx, "alice", testNow, 30*time.Second)
	require.NoError(t, err)

	_, err = env.svc.SaveDraft(ctx, "bob", "firstDay", allPatches())
	require.Error(t, err)
	assert.True(t, errors.Is(err, bundle.ErrLockHeld))
	assert.Equal(t, http.StatusLocked, Classify(err).Status)

	for _, lang := range testLanguages {
		assert.Equal(t, 0, env.store.writeCount(lang), "draft must not write without the lock")
	}

	lock, err := env.client.GetLock(ctx)
	require.NoError(t, err)
	assert.Equal(t, "alice", lock.LockedBy, "losing draft must not release the holder's lock")
	assert.True(t, lock.HeldAt(testNow))
}

func TestSaveDraft_DuringPublishRollbackIsRefused(t *testing.T) {
	env := setupTestService(t, nil)
	ctx := context.Background()
	before := env.seedOtherContent(t)

	var draftErr error
	env.store.failWrite = func(lang bundle.Lang, call int) error {
		if lang == "fr" && call == 1 {
			// de is already written; a draft save now would be lost by the rollback.
			_, draftErr = env.svc.SaveDraft(ctx, "bob", "otherGuide", allPatches())
			return bundle.ErrTokenMismatch
		}
		return nil
	}

	_, err := env.svc.Publish(ctx, "alice", "firstDay", allPatches(), PublishMeta{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, bundle.ErrTokenMismatch))

	require.Error(t, draftErr)
	assert.True(t, errors.Is(draftErr, bundle.ErrLockHeld), "got %v", draftErr)

	after := env.bundles(t)
	for _, lang := range testLanguages {
		assert.True(t, before[lang].Equal(after[lang]), "bundle %s not restored", lang)
		assert.NotContains(t, after[lang], "guidesDraft.otherGuide.title")
	}
	env.assertLockReleased(t)
}

func TestGetDraft_FallsBackToPublished(t *testing.T) {
	env := setupTestService(t, nil)
	ctx := context.Background()

	view, err := env.svc.GetDraft(ctx, "firstDay")
	require.NoError(t, err)
	assert.Empty(t, view.Patches)
	assert.Equal(t, SourceNone, view.Sources["en"])

	_, err = env.svc.Publish(ctx, "alice", "firstDay", allPatches(), PublishMeta{})
	require.NoError(t, err)

	view, err = env.svc.GetDraft(ctx, "firstDay")
	require.NoError(t, err)
	assert.Equal(t, SourcePublished, view.Sources["en"])
	assert.Equal(t, guidePatch("en"), view.Patches["en"])

	drafts := allPatches()
	d := drafts["en"]
	d.Title = "Reworded"
	drafts["en"] = d
	result, err := env.svc.SaveDraft(ctx, "alice", "firstDay", drafts)
	require.NoError(t, err)
	assert.Equal(t, SourcePublished, result.Sources["en"], "first draft replaces published content")

	result, err = env.svc.SaveDraft(ctx, "alice", "firstDay", drafts)
	require.NoError(t, err)
	assert.Equal(t, SourceDraft, result.Sources["en"])

	view, err = env.svc.GetDraft(ctx, "firstDay")
	require.NoError(t, err)
	assert.Equal(t, SourceDraft, view.Sources["en"])
	assert.Equal(t, "Reworded", view.Patches["en"].Title)
}

func TestGetBundle(t *testing.T) {
	env := setupTestService(t, nil)
	ctx := context.Background()

	_, err := env.svc.Publish(ctx, "alice", "firstDay", allPatches(), PublishMeta{})
	require.NoError(t, err)

	view, err := env.svc.GetBundle(ctx, "es")
	require.NoError(t, err)
	assert.Equal(t, int64(1), view.Version)
	assert.Equal(t, "First day es", view.Data["guides.firstDay.title"])

	_, err = env.svc.GetBundle(ctx, "it")
	assert.True(t, errors.Is(err, ErrValidation))
}

// movingVersionStore reports a new content version on every read.
type movingVersionStore struct {
	Store
	mu      sync.Mutex
	version int64
}

func (m *movingVersionStore) GetVersion(ctx context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.version++
	return m.version, nil
}

func TestGetBundle_VersionKeepsMoving(t *testing.T) {
	env := setupTestService(t, nil)
	logs := &bytes.Buffer{}
	svc, err := NewService(&movingVersionStore{Store: env.client}, gate.NewValidatorGate(gate.Options{}), Options{
		Languages: testLanguages,
		Logger:    eventlog.New("publisher", "test-instance").WithOutput(log.New(logs, "", 0)),
	})
	require.NoError(t, err)

	// Three attempts read versions (1,2) (3,4) (5,6).
	view, err := svc.GetBundle(context.Background(), "en")
	require.NoError(t, err)
	assert.Equal(t, int64(5), view.Version, "labelled with the earlier version of the last attempt")
	assert.Contains(t, logs.String(), `"event_type":"bundle_version_unstable"`)
}

func TestLockStatusAndForceRelease(t *testing.T) {
	env := setupTestService(t, nil)
	ctx := context.Background()

	_, err := env.client.AcquireLock(ctx, "crashed", testNow, 30*time.Second)
	require.NoError(t, err)

	view, err := env.svc.LockStatus(ctx)
	require.NoError(t, err)
	assert.True(t, view.Held)
	assert.Equal(t, "crashed", view.LockedBy)

	require.NoError(t, env.svc.ForceReleaseLock(ctx, "operator"))

	view, err = env.svc.LockStatus(ctx)
	require.NoError(t, err)
	assert.False(t, view.Held)
}
