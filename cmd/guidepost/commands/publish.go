package commands

import (
	"fmt"
	"strings"

	"github.com/dyluth/guidepost/internal/config"
	"github.com/dyluth/guidepost/internal/printer"
	"github.com/dyluth/guidepost/internal/publish"
	"github.com/dyluth/guidepost/pkg/bundle"
	"github.com/spf13/cobra"
)

var (
	contentFile   string
	publishSource string
)

var draftCmd = &cobra.Command{
	Use:   "draft GUIDE_ID -f FILE",
	Short: "Save a guide as draft in every language",
	Long: `Save a guide's content under the draft namespace of every language bundle.

Drafts are invisible to readers and do not change the content version. They
hold the publish lock while writing, so a draft save fails with "lock held"
while a publish is in progress. The file maps each language code to the guide's content;
YAML by default, JSON when the file ends in .json.

Example:
  guidepost draft firstDay -f guides/firstDay.yml`,
	Args: cobra.ExactArgs(1),
	RunE: runDraft,
}

var publishCmd = &cobra.Command{
	Use:   "publish GUIDE_ID -f FILE",
	Short: "Publish a guide to every language atomically",
	Long: `Publish a guide to every configured language or to none of them.

The guide must pass the content-quality gate. Bundles are written in the
configured write order; if any write fails, the languages already written are
restored in reverse order. A successful publish bumps the content version.

Sources:
  manual          - Content written by an editor (default)
  auto_translate  - Machine translated; marks the guide for translation review

Example:
  guidepost publish firstDay -f guides/firstDay.yml --source auto_translate`,
	Args: cobra.ExactArgs(1),
	RunE: runPublish,
}

func init() {
	draftCmd.Flags().StringVarP(&contentFile, "file", "f", "", "Guide content file (YAML or JSON)")
	draftCmd.MarkFlagRequired("file")

	publishCmd.Flags().StringVarP(&contentFile, "file", "f", "", "Guide content file (YAML or JSON)")
	publishCmd.Flags().StringVar(&publishSource, "source", "", "Content source: manual or auto_translate")
	publishCmd.MarkFlagRequired("file")

	rootCmd.AddCommand(draftCmd)
	rootCmd.AddCommand(publishCmd)
}

func loadContent(path string) (map[bundle.Lang]bundle.GuidePatch, error) {
	patches, err := config.LoadPatches(path)
	if err != nil {
		return nil, printer.Error(
			"invalid content file",
			err.Error(),
			[]string{"The file must map each language code to title, explanation, steps and cta"},
		)
	}
	return patches, nil
}

func runDraft(cmd *cobra.Command, args []string) error {
	guideID := args[0]
	patches, err := loadContent(contentFile)
	if err != nil {
		return err
	}

	s, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	result, err := s.svc.SaveDraft(cmd.Context(), currentPrincipal(), guideID, patches)
	if err != nil {
		return reportError("Draft", guideID, err)
	}

	printer.Success("Saved draft of '%s' in %s\n", result.GuideID, joinLangs(s.svc.Languages()))
	return nil
}

func runPublish(cmd *cobra.Command, args []string) error {
	guideID := args[0]
	patches, err := loadContent(contentFile)
	if err != nil {
		return err
	}

	s, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	printer.Step("Publishing '%s' to %s\n", guideID, joinLangs(s.svc.WriteOrder()))

	meta := publish.PublishMeta{Source: bundle.PublishSource(publishSource)}
	result, err := s.svc.Publish(cmd.Context(), currentPrincipal(), guideID, patches, meta)
	if err != nil {
		return reportError("Publish", guideID, err)
	}

	printer.Success("Published '%s' (content version %d)\n", result.GuideID, result.Version)
	if meta.Source == bundle.PublishSourceAutoTranslate {
		printer.Warning("Marked for translation review\n")
	}
	return nil
}

func joinLangs(langs []bundle.Lang) string {
	parts := make([]string, len(langs))
	for i, l := range langs {
		parts[i] = string(l)
	}
	return fmt.Sprintf("[%s]", strings.Join(parts, ", "))
}
