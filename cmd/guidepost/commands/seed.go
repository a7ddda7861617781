package commands

import (
	"github.com/dyluth/guidepost/internal/backend"
	"github.com/dyluth/guidepost/internal/printer"
	"github.com/spf13/cobra"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Create an empty bundle for every configured language",
	Long: `Create an empty bundle for every configured language that has none.

Existing bundles are never modified, so seed is safe to run repeatedly.`,
	Args: cobra.NoArgs,
	RunE: runSeed,
}

func init() {
	rootCmd.AddCommand(seedCmd)
}

func runSeed(cmd *cobra.Command, args []string) error {
	s, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	created, err := backend.Seed(cmd.Context(), s.store, s.cfg.LanguageList())
	if err != nil {
		return printer.Error("seed failed", err.Error(), nil)
	}

	if len(created) == 0 {
		printer.Info("All %d bundles already exist\n", len(s.cfg.LanguageList()))
		return nil
	}
	for _, lang := range created {
		printer.Success("Created bundle %s\n", lang)
	}
	return nil
}
