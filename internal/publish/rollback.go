package publish

import (
	"context"
	"fmt"
	"log"

	"github.com/dyluth/guidepost/pkg/bundle"
)

// ApplyReport describes what an Apply call did to each language.
type ApplyReport struct {
	// Written lists languages whose forward write succeeded, in write order.
	Written []bundle.Lang

	// Restored lists languages put back to their original content, in restore order.
	Restored []bundle.Lang

	States map[bundle.Lang]LangState
}

// Orchestrator writes a set of language bundles one at a time in a fixed order
// and, if any write fails, restores the already-written bundles in reverse.
type Orchestrator struct {
	store BundleStore
	order []bundle.Lang
}

// NewOrchestrator validates the write order: non-empty and without duplicates.
func NewOrchestrator(store BundleStore, order []bundle.Lang) (*Orchestrator, error) {
	if store == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if len(order) == 0 {
		return nil, fmt.Errorf("write order cannot be empty")
	}

	seen := make(map[bundle.Lang]bool, len(order))
	for _, lang := range order {
		if lang == "" {
			return nil, fmt.Errorf("write order contains an empty language")
		}
		if seen[lang] {
			return nil, fmt.Errorf("write order contains %s twice", lang)
		}
		seen[lang] = true
	}

	return &Orchestrator{store: store, order: append([]bundle.Lang(nil), order...)}, nil
}

// Order returns a copy of the write order.
func (o *Orchestrator) Order() []bundle.Lang {
	return append([]bundle.Lang(nil), o.order...)
}

// Apply writes next[lang] for every language in write order, each guarded by
// the token in original[lang].
//
// On a forward failure every language already written is restored to
// original[lang].Data in reverse order. Each restore re-reads the bundle and
// writes with the fresh token, since the forward write invalidated the
// original one. Apply then returns a *WriteError wrapping the forward error.
//
// If any restore step fails, Apply stops and returns a *RecoveryError. The
// bundles are then inconsistent and the report says which language holds what.
//
// Once the first write is issued, cancellation of ctx is ignored.
func (o *Orchestrator) Apply(ctx context.Context, original map[bundle.Lang]*bundle.Snapshot, next map[bundle.Lang]bundle.Bundle) (*ApplyReport, error) {
	for _, lang := range o.order {
		if original[lang] == nil {
			return nil, fmt.Errorf("missing original snapshot for %s", lang)
		}
		if _, ok := next[lang]; !ok {
			return nil, fmt.Errorf("missing new bundle for %s", lang)
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ctx = context.WithoutCancel(ctx)

	report := &ApplyReport{States: make(map[bundle.Lang]LangState, len(o.order))}
	for _, lang := range o.order {
		report.States[lang] = StateUntouched
	}

	for _, lang := range o.order {
		err := o.store.WriteBundle(ctx, lang, next[lang], original[lang].Token)
		if err != nil {
			report.States[lang] = StateFailed
			log.Printf("[Rollback] Write of %s failed: %v; restoring %d bundle(s)", lang, err, len(report.Written))

			if rbErr := o.rollback(ctx, original, report, lang, err); rbErr != nil {
				return report, rbErr
			}
			return report, &WriteError{Lang: lang, Err: err}
		}

		report.Written = append(report.Written, lang)
		report.States[lang] = StateApplied
	}

	return report, nil
}

func (o *Orchestrator) rollback(ctx context.Context, original map[bundle.Lang]*bundle.Snapshot, report *ApplyReport, failedLang bundle.Lang, writeErr error) error {
	for i := len(report.Written) - 1; i >= 0; i-- {
		lang := report.Written[i]

		err := o.restore(ctx, lang, original[lang].Data)
		if err != nil {
			report.States[lang] = StateRestoreFailed
			log.Printf("[Rollback] Restore of %s failed: %v", lang, err)
			return &RecoveryError{
				FailedLang:   failedLang,
				WriteErr:     writeErr,
				RollbackLang: lang,
				RollbackErr:  err,
				States:       report.States,
			}
		}

		report.Restored = append(report.Restored, lang)
		report.States[lang] = StateRestored
	}

	return nil
}

func (o *Orchestrator) restore(ctx context.Context, lang bundle.Lang, data bundle.Bundle) error {
	current, err := o.store.ReadBundle(ctx, lang)
	if err != nil {
		return fmt.Errorf("failed to re-read bundle: %w", err)
	}
	if err := o.store.WriteBundle(ctx, lang, data, current.Token); err != nil {
		return fmt.Errorf("failed to write original content: %w", err)
	}
	return nil
}
