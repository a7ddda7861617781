package commands

import (
	"fmt"

	"github.com/dyluth/guidepost/internal/filter"
	"github.com/dyluth/guidepost/internal/inspect"
	"github.com/dyluth/guidepost/internal/printer"
	"github.com/dyluth/guidepost/pkg/bundle"
	"github.com/spf13/cobra"
)

var (
	showOutputFormat string
	showGuide        string
	showNamespace    string
	showKey          string
	showDraft        bool
)

var showCmd = &cobra.Command{
	Use:   "show LANG",
	Short: "Inspect a language bundle",
	Long: `Display the keys of one language bundle.

Output Formats:
  table - Human-readable table with truncated values (default)
  jsonl - Line-delimited JSON, one key per line
  json  - The filtered bundle with its content version

Filters:
  --guide      - Keys owned by one guide, including its CTA key
  --namespace  - published or draft (with --guide)
  --key        - Glob on the full key ("guides.*.title")

With --draft, the guide's editable content is shown instead: the draft if
there is one, the published version otherwise.

Examples:
  guidepost show en
  guidepost show fr --guide firstDay --namespace published
  guidepost show de --key 'guides.*.cta' -o jsonl | jq -r .value
  guidepost show en --guide firstDay --draft`,
	Args: cobra.ExactArgs(1),
	RunE: runShow,
}

func init() {
	showCmd.Flags().StringVarP(&showOutputFormat, "output", "o", "table", "Output format: table, jsonl or json")
	showCmd.Flags().StringVar(&showGuide, "guide", "", "Only keys of this guide")
	showCmd.Flags().StringVar(&showNamespace, "namespace", "", "published or draft (requires --guide)")
	showCmd.Flags().StringVar(&showKey, "key", "", "Glob pattern on the full key")
	showCmd.Flags().BoolVar(&showDraft, "draft", false, "Show the guide's editable content (requires --guide)")
	rootCmd.AddCommand(showCmd)
}

func runShow(cmd *cobra.Command, args []string) error {
	lang := bundle.Lang(args[0])

	format, err := inspect.ParseOutputFormat(showOutputFormat)
	if err != nil {
		return printer.Error("invalid output format", err.Error(), []string{"Valid formats: table, jsonl, json"})
	}

	criteria := &filter.Criteria{GuideID: showGuide, KeyGlob: showKey}
	if showNamespace != "" {
		ns := bundle.Namespace(showNamespace)
		if err := ns.Validate(); err != nil {
			return printer.Error("invalid namespace", err.Error(), []string{"Valid namespaces: published, draft"})
		}
		if showGuide == "" {
			return printer.Error("--namespace requires --guide", "Namespaces partition the keys of one guide.", nil)
		}
		criteria.Namespace = ns
	}
	if showDraft && showGuide == "" {
		return printer.Error("--draft requires --guide", "Drafts are stored per guide.", nil)
	}

	s, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	if showDraft {
		view, err := s.svc.GetDraft(cmd.Context(), showGuide)
		if err != nil {
			return reportError("Reading draft", showGuide, err)
		}
		return inspect.FormatSingleJSON(cmd.OutOrStdout(), view)
	}

	if _, err := inspect.ShowBundle(cmd.Context(), s.svc, lang, criteria, format, cmd.OutOrStdout()); err != nil {
		if bundle.IsNotFound(err) {
			return printer.Error(
				fmt.Sprintf("bundle '%s' not found", lang),
				"The bundle has not been created yet.",
				[]string{"Create the bundles:\n  guidepost seed"},
			)
		}
		return printer.Error(fmt.Sprintf("failed to read bundle '%s'", lang), err.Error(), nil)
	}
	return nil
}
