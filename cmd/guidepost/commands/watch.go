package commands

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dyluth/guidepost/internal/printer"
	"github.com/dyluth/guidepost/internal/watch"
	"github.com/dyluth/guidepost/pkg/bundle"
	"github.com/dyluth/guidepost/pkg/bundlecache"
	"github.com/spf13/cobra"
)

var (
	watchLang     string
	watchInterval time.Duration
	watchUntil    int64
	watchTimeout  time.Duration
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow content version changes as a reader would",
	Long: `Follow the content version the way a reader's cache does.

Version events are consumed when the store publishes them (Redis) and the
counter is polled either way. With --lang, the bundle is re-read through the
cache after every change and its key count printed.

With --until, wait for the content version to reach a value and exit; useful
in deploy scripts that must not continue before a publish has landed.

Examples:
  guidepost watch
  guidepost watch --lang fr --interval 2s
  guidepost watch --until 12 --timeout 1m`,
	Args: cobra.NoArgs,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().StringVar(&watchLang, "lang", "", "Re-read this bundle after every change")
	watchCmd.Flags().DurationVar(&watchInterval, "interval", bundlecache.DefaultPollInterval, "Version poll interval")
	watchCmd.Flags().Int64Var(&watchUntil, "until", 0, "Exit once the content version reaches this value")
	watchCmd.Flags().DurationVar(&watchTimeout, "timeout", time.Minute, "Give up waiting for --until after this long")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	s, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if watchUntil > 0 {
		v, err := watch.WaitForVersion(ctx, s.store, watchUntil, watchTimeout)
		if err != nil {
			return printer.Error("content version not reached", err.Error(), nil)
		}
		printer.Success("Content version is %d\n", v)
		return nil
	}

	cache := bundlecache.New(s.store, bundlecache.Options{PollInterval: watchInterval})
	return watch.Follow(ctx, cache, bundle.Lang(watchLang), watchInterval)
}
