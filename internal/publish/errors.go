package publish

import (
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/dyluth/guidepost/internal/gate"
	"github.com/dyluth/guidepost/pkg/bundle"
)

var (
	// ErrValidation marks malformed requests rejected before any side effect.
	ErrValidation = errors.New("invalid request")

	// ErrRecoveryFailed marks a rollback that could not restore every bundle.
	// The bundle set is inconsistent and needs an operator; never retry it.
	ErrRecoveryFailed = errors.New("rollback failed")
)

func invalidf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// LangState is where one language bundle ended up after an Apply.
type LangState string

const (
	// StateUntouched means no write was attempted for the language
	StateUntouched LangState = "untouched"

	// StateApplied means the new content was written and is still in place
	StateApplied LangState = "applied"

	// StateFailed means the forward write for the language failed
	StateFailed LangState = "failed"

	// StateRestored means the language was written, then restored to its original content
	StateRestored LangState = "restored"

	// StateRestoreFailed means restoring the language failed; it holds the new content
	StateRestoreFailed LangState = "restore_failed"
)

// WriteError is a forward write failure that was fully rolled back.
// Unwraps to the store error, so errors.Is(err, bundle.ErrTokenMismatch) works.
type WriteError struct {
	Lang bundle.Lang
	Err  error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("failed to write bundle %s (rolled back): %v", e.Lang, e.Err)
}

func (e *WriteError) Unwrap() error {
	return e.Err
}

// RecoveryError is returned when a rollback step fails. States records every
// language's final state for manual repair.
type RecoveryError struct {
	FailedLang   bundle.Lang
	WriteErr     error
	RollbackLang bundle.Lang
	RollbackErr  error
	States       map[bundle.Lang]LangState
}

func (e *RecoveryError) Error() string {
	return fmt.Sprintf("%s: write of %s failed (%v) and restoring %s failed (%v); states: %s",
		ErrRecoveryFailed.Error(), e.FailedLang, e.WriteErr, e.RollbackLang, e.RollbackErr, formatStates(e.States))
}

// Is makes errors.Is(err, ErrRecoveryFailed) true. RecoveryError deliberately
// does not unwrap to the write error so it is never mistaken for a retryable one.
func (e *RecoveryError) Is(target error) bool {
	return target == ErrRecoveryFailed
}

// StateStrings returns the states keyed by plain strings, for logging.
func (e *RecoveryError) StateStrings() map[string]string {
	out := make(map[string]string, len(e.States))
	for lang, st := range e.States {
		out[string(lang)] = string(st)
	}
	return out
}

func formatStates(states map[bundle.Lang]LangState) string {
	langs := make([]string, 0, len(states))
	for lang := range states {
		langs = append(langs, string(lang))
	}
	sort.Strings(langs)

	parts := make([]string, 0, len(langs))
	for _, lang := range langs {
		parts = append(parts, lang+"="+string(states[bundle.Lang(lang)]))
	}
	return strings.Join(parts, ",")
}

// Outcome codes reported to callers.
const (
	CodeInvalidRequest = "invalid_request"
	CodeQualityGate    = "quality_gate"
	CodeConcurrentEdit = "concurrent_edit"
	CodeLockHeld       = "lock_held"
	CodeRecoveryFailed = "recovery_failed"
	CodeBundleMissing  = "bundle_missing"
	CodeInternal       = "internal"
	CodeOK             = "ok"
)

// Outcome is the caller-facing category of a publish or draft failure.
type Outcome struct {
	Status    int          `json:"-"`
	Code      string       `json:"code"`
	Message   string       `json:"message"`
	Retryable bool         `json:"retryable"`
	Fatal     bool         `json:"fatal"`
	Issues    []gate.Issue `json:"issues,omitempty"`
}

// Classify maps any error returned by this package to the caller-facing
// taxonomy. Every entry point reports failures through it. A nil error
// classifies as 200/ok.
func Classify(err error) Outcome {
	// Recovery failure is checked first: a fatal must never be reported as
	// its underlying (retryable-looking) cause.
	var rejected *gate.RejectedError
	switch {
	case err == nil:
		return Outcome{Status: http.StatusOK, Code: CodeOK}
	case errors.Is(err, ErrRecoveryFailed):
		return Outcome{
			Status:  http.StatusInternalServerError,
			Code:    CodeRecoveryFailed,
			Message: "fatal: language bundles may be inconsistent, operator intervention required",
			Fatal:   true,
		}
	case errors.As(err, &rejected):
		return Outcome{
			Status:  http.StatusBadRequest,
			Code:    CodeQualityGate,
			Message: "content rejected by quality gate",
			Issues:  rejected.Issues,
		}
	case errors.Is(err, ErrValidation):
		return Outcome{
			Status:  http.StatusBadRequest,
			Code:    CodeInvalidRequest,
			Message: err.Error(),
		}
	case errors.Is(err, bundle.ErrTokenMismatch):
		return Outcome{
			Status:    http.StatusConflict,
			Code:      CodeConcurrentEdit,
			Message:   "concurrent edit, re-fetch and retry",
			Retryable: true,
		}
	case errors.Is(err, bundle.ErrLockHeld):
		return Outcome{
			Status:    http.StatusLocked,
			Code:      CodeLockHeld,
			Message:   "another publish in progress, retry later",
			Retryable: true,
		}
	case errors.Is(err, bundle.ErrNotFound):
		return Outcome{
			Status:  http.StatusInternalServerError,
			Code:    CodeBundleMissing,
			Message: "language bundle missing, run seed",
		}
	default:
		return Outcome{
			Status:  http.StatusInternalServerError,
			Code:    CodeInternal,
			Message: "internal error",
		}
	}
}
