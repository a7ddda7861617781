package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	version string
	commit  string
	date    string
)

var (
	configPath   string
	instanceName string
	principal    string
	verbose      bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "guidepost",
	Short: "Guidepost - multi-language help guide publishing",
	Long: `Guidepost stores help guides as flat per-language bundles and publishes
them to every configured language or to none of them.

Publishing takes a global lock, writes each language bundle with a
compare-and-swap token, and restores already-written languages in reverse
order if a later write fails. A successful publish bumps the content version
that readers use to invalidate their caches.`,
	Version: version,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
	// Enable strict flag parsing - unknown flags will cause an error
	FParseErrWhitelist: cobra.FParseErrWhitelist{},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	// We print formatted colored errors directly in the printer package
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true
	return rootCmd.Execute()
}

// SetVersionInfo sets the version information for the CLI
func SetVersionInfo(v, c, d string) {
	version = v
	commit = c
	date = d
	rootCmd.Version = fmt.Sprintf("%s (commit: %s, built: %s)", v, c, d)
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", defaultConfigPath, "Path to guidepost.yml")
	rootCmd.PersistentFlags().StringVarP(&instanceName, "name", "n", "", "Instance name (overrides the config)")
	rootCmd.PersistentFlags().StringVar(&principal, "as", "", "Principal recorded on locks and workflow records (default $USER)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Print JSON event lines to stderr")
}
