package publish

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/dyluth/guidepost/internal/gate"
	"github.com/dyluth/guidepost/pkg/bundle"
	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	recovery := &RecoveryError{
		FailedLang:   "es",
		WriteErr:     bundle.ErrTokenMismatch,
		RollbackLang: "fr",
		RollbackErr:  errors.New("boom"),
		States:       map[bundle.Lang]LangState{"de": StateApplied},
	}

	tests := []struct {
		name      string
		err       error
		status    int
		code      string
		retryable bool
		fatal     bool
	}{
		{"nil", nil, http.StatusOK, CodeOK, false, false},
		{"validation", invalidf("bad %s", "id"), http.StatusBadRequest, CodeInvalidRequest, false, false},
		{"gate", &gate.RejectedError{GuideID: "g"}, http.StatusBadRequest, CodeQualityGate, false, false},
		{"token mismatch", &WriteError{Lang: "fr", Err: bundle.ErrTokenMismatch}, http.StatusConflict, CodeConcurrentEdit, true, false},
		{"lock held", &bundle.LockHeldError{Holder: "alice"}, http.StatusLocked, CodeLockHeld, true, false},
		{"recovery failed", recovery, http.StatusInternalServerError, CodeRecoveryFailed, false, true},
		{"wrapped recovery failed", fmt.Errorf("publish: %w", recovery), http.StatusInternalServerError, CodeRecoveryFailed, false, true},
		{"missing bundle", fmt.Errorf("read: %w", bundle.ErrNotFound), http.StatusInternalServerError, CodeBundleMissing, false, false},
		{"other", errors.New("disk on fire"), http.StatusInternalServerError, CodeInternal, false, false},
		{"cancelled", context.Canceled, http.StatusInternalServerError, CodeInternal, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := Classify(tt.err)
			assert.Equal(t, tt.status, out.Status)
			assert.Equal(t, tt.code, out.Code)
			assert.Equal(t, tt.retryable, out.Retryable)
			assert.Equal(t, tt.fatal, out.Fatal)
		})
	}
}

func TestRecoveryError(t *testing.T) {
	err := &RecoveryError{
		FailedLang:   "es",
		WriteErr:     bundle.ErrTokenMismatch,
		RollbackLang: "fr",
		RollbackErr:  errors.New("connection reset"),
		States: map[bundle.Lang]LangState{
			"de": StateApplied, "fr": StateRestoreFailed, "es": StateFailed, "en": StateUntouched,
		},
	}

	assert.True(t, errors.Is(err, ErrRecoveryFailed))
	assert.False(t, errors.Is(err, bundle.ErrTokenMismatch))
	assert.Contains(t, err.Error(), "de=applied,en=untouched,es=failed,fr=restore_failed")
	assert.Equal(t, "restore_failed", err.StateStrings()["fr"])
}
