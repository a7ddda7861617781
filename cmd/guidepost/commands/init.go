package commands

import (
	"fmt"

	"github.com/dyluth/guidepost/internal/scaffold"
	"github.com/spf13/cobra"
)

var forceInit bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a new guidepost project",
	Long: `Initialize a new guidepost project in the current directory.

Creates:
  • guidepost.yml - Languages, write order, lock TTL, gate and principals
  • guides/firstDay.yml - An example guide with content for every language

Use --force to reinitialize an existing project (WARNING: destroys existing configuration).`,
	Args: cobra.NoArgs,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&forceInit, "force", false, "Force reinitialization (removes existing guidepost.yml and guides/)")
	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	if !forceInit {
		if err := scaffold.CheckExisting("."); err != nil {
			return err
		}
	}

	if err := scaffold.Initialize(".", forceInit); err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	scaffold.PrintSuccess()
	return nil
}
