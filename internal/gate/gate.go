// Package gate implements the content-quality check every publish must pass
// before any bundle is written. A rejection carries structured, field-level
// issues that are surfaced to the editor verbatim.
package gate

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/dyluth/guidepost/pkg/bundle"
	"github.com/go-playground/validator/v10"
)

// ErrRejected is matched by every *RejectedError.
var ErrRejected = errors.New("content rejected by quality gate")

// Issue is one field-level problem found by the gate.
type Issue struct {
	Lang    bundle.Lang `json:"lang"`
	Field   string      `json:"field"`
	Rule    string      `json:"rule"`
	Message string      `json:"message"`
}

// RejectedError is returned when the gate refuses a guide.
type RejectedError struct {
	GuideID string
	Issues  []Issue
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("%s: guide %s has %d issue(s)", ErrRejected.Error(), e.GuideID, len(e.Issues))
}

// Is makes errors.Is(err, ErrRejected) true.
func (e *RejectedError) Is(target error) bool {
	return target == ErrRejected
}

// Gate decides whether a guide's content may be published.
// Check returns nil to allow, a *RejectedError to refuse, or any other error
// if the gate itself failed.
type Gate interface {
	Check(ctx context.Context, guideID string, patches map[bundle.Lang]bundle.GuidePatch) error
}

// Options tunes the ValidatorGate beyond the struct tags on GuidePatch.
type Options struct {
	// BannedPhrases are matched case-insensitively in every text field.
	BannedPhrases []string

	// ReferenceLang, when set, requires every language to have the same
	// number of steps, checks and escalation conditions as this language.
	ReferenceLang bundle.Lang
}

// ValidatorGate checks GuidePatch struct tags plus the configured Options.
type ValidatorGate struct {
	validate *validator.Validate
	opts     Options
}

// NewValidatorGate builds a gate. Field names in issues use the JSON names of
// GuidePatch (e.g. "steps[2]").
func NewValidatorGate(opts Options) *ValidatorGate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})

	return &ValidatorGate{validate: v, opts: opts}
}

// Check implements Gate.
func (g *ValidatorGate) Check(ctx context.Context, guideID string, patches map[bundle.Lang]bundle.GuidePatch) error {
	var issues []Issue

	for lang, patch := range patches {
		issues = append(issues, g.checkStruct(lang, patch)...)
		issues = append(issues, g.checkBanned(lang, patch)...)
	}
	issues = append(issues, g.checkStructure(patches)...)

	if len(issues) == 0 {
		return nil
	}

	sort.SliceStable(issues, func(i, j int) bool {
		if issues[i].Lang != issues[j].Lang {
			return issues[i].Lang < issues[j].Lang
		}
		if issues[i].Field != issues[j].Field {
			return issues[i].Field < issues[j].Field
		}
		return issues[i].Rule < issues[j].Rule
	})
	return &RejectedError{GuideID: guideID, Issues: issues}
}

func (g *ValidatorGate) checkStruct(lang bundle.Lang, patch bundle.GuidePatch) []Issue {
	err := g.validate.Struct(patch)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return []Issue{{Lang: lang, Field: "", Rule: "invalid", Message: err.Error()}}
	}

	issues := make([]Issue, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		field := fe.Namespace()
		if i := strings.Index(field, "."); i >= 0 {
			field = field[i+1:]
		}
		issues = append(issues, Issue{
			Lang:    lang,
			Field:   field,
			Rule:    fe.Tag(),
			Message: describe(fe),
		})
	}
	return issues
}

func (g *ValidatorGate) checkBanned(lang bundle.Lang, patch bundle.GuidePatch) []Issue {
	if len(g.opts.BannedPhrases) == 0 {
		return nil
	}

	var issues []Issue
	check := func(field, text string) {
		lower := strings.ToLower(text)
		for _, phrase := range g.opts.BannedPhrases {
			if phrase != "" && strings.Contains(lower, strings.ToLower(phrase)) {
				issues = append(issues, Issue{
					Lang:    lang,
					Field:   field,
					Rule:    "banned_phrase",
					Message: fmt.Sprintf("contains banned phrase %q", phrase),
				})
			}
		}
	}
	checkList := func(name string, items []string) {
		for i, item := range items {
			check(fmt.Sprintf("%s[%d]", name, i), item)
		}
	}

	check("title", patch.Title)
	check("explanation", patch.Explanation)
	checkList("steps", patch.Steps)
	checkList("commonErrors", patch.CommonErrors)
	checkList("checks", patch.Checks)
	checkList("escalation", patch.Escalation)
	check("cta", patch.CTA)
	return issues
}

func (g *ValidatorGate) checkStructure(patches map[bundle.Lang]bundle.GuidePatch) []Issue {
	if g.opts.ReferenceLang == "" {
		return nil
	}
	ref, ok := patches[g.opts.ReferenceLang]
	if !ok {
		return nil
	}

	var issues []Issue
	for lang, patch := range patches {
		if lang == g.opts.ReferenceLang {
			continue
		}
		compare := func(field string, got, want int) {
			if got != want {
				issues = append(issues, Issue{
					Lang:    lang,
					Field:   field,
					Rule:    "structure",
					Message: fmt.Sprintf("has %d item(s), %s has %d", got, g.opts.ReferenceLang, want),
				})
			}
		}
		compare("steps", len(patch.Steps), len(ref.Steps))
		compare("checks", len(patch.Checks), len(ref.Checks))
		compare("escalation", len(patch.Escalation), len(ref.Escalation))
	}
	return issues
}

func describe(fe validator.FieldError) string {
	isList := fe.Kind() == reflect.Slice
	switch fe.Tag() {
	case "required":
		return "is required"
	case "max":
		if isList {
			return fmt.Sprintf("must have at most %s items", fe.Param())
		}
		return fmt.Sprintf("must be at most %s characters", fe.Param())
	case "min":
		if isList {
			return fmt.Sprintf("must have at least %s item(s)", fe.Param())
		}
		return fmt.Sprintf("must be at least %s characters", fe.Param())
	default:
		return fmt.Sprintf("failed %s check", fe.Tag())
	}
}
