package commands

import (
	"errors"
	"fmt"

	"github.com/dyluth/guidepost/internal/printer"
	"github.com/dyluth/guidepost/internal/publish"
)

// reportError prints a failed draft or publish the way an editor needs to act
// on it and returns the error for the exit status.
func reportError(op, guideID string, err error) error {
	out := publish.Classify(err)
	context := map[string]string{"guide": guideID, "code": out.Code}

	var recovery *publish.RecoveryError
	if errors.As(err, &recovery) {
		for lang, state := range recovery.StateStrings() {
			context["lang "+lang] = state
		}
		return printer.Fatal(
			fmt.Sprintf("%s of '%s' could not be rolled back", op, guideID),
			err.Error(),
			context,
			[]string{
				"Inspect each bundle:\n  guidepost show <lang> --guide " + guideID,
				"Re-publish the guide once the store is healthy to bring every language back in line",
			},
		)
	}

	title := fmt.Sprintf("%s of '%s' failed", op, guideID)
	switch out.Code {
	case publish.CodeQualityGate:
		for i, issue := range out.Issues {
			context[fmt.Sprintf("issue %02d", i+1)] = fmt.Sprintf("[%s] %s %s", issue.Lang, issue.Field, issue.Message)
		}
		return printer.ErrorWithContext(title, out.Message, context, []string{"Fix the listed fields and try again"})
	case publish.CodeConcurrentEdit:
		return printer.ErrorWithContext(title, "A bundle changed while it was being written. Nothing was left half-published.", context,
			[]string{"Run the command again; it re-reads every bundle"})
	case publish.CodeLockHeld:
		return printer.ErrorWithContext(title, "Another publish is in progress.", context,
			[]string{"Wait and retry", "Check who holds it:\n  guidepost lock status"})
	case publish.CodeBundleMissing:
		return printer.ErrorWithContext(title, "A language bundle does not exist yet.", context,
			[]string{"Create the bundles:\n  guidepost seed"})
	case publish.CodeInvalidRequest:
		return printer.ErrorWithContext(title, out.Message, context, nil)
	default:
		return printer.ErrorWithContext(title, err.Error(), context, nil)
	}
}
