package commands

import (
	"time"

	"github.com/dyluth/guidepost/internal/printer"
	"github.com/spf13/cobra"
)

var lockCmd = &cobra.Command{
	Use:   "lock",
	Short: "Inspect or clear the publish lock",
}

var lockStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show who holds the publish lock",
	Args:  cobra.NoArgs,
	RunE:  runLockStatus,
}

var lockReleaseCmd = &cobra.Command{
	Use:   "release",
	Short: "Force-release the publish lock",
	Long: `Force-release the publish lock regardless of who holds it.

Only needed when a publisher died while holding the lock and you cannot wait
for the TTL to expire. Releasing the lock under a running publish lets a
second publish interleave with it.`,
	Args: cobra.NoArgs,
	RunE: runLockRelease,
}

func init() {
	lockCmd.AddCommand(lockStatusCmd)
	lockCmd.AddCommand(lockReleaseCmd)
	rootCmd.AddCommand(lockCmd)
}

func runLockStatus(cmd *cobra.Command, args []string) error {
	s, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	view, err := s.svc.LockStatus(cmd.Context())
	if err != nil {
		return printer.Error("failed to read lock", err.Error(), nil)
	}

	if !view.Held {
		printer.Success("Publish lock is free\n")
		return nil
	}

	expires := time.UnixMilli(view.ExpiresAtMs)
	printer.Warning("Publish lock held by %s until %s (%s left)\n",
		view.LockedBy, expires.UTC().Format(time.RFC3339), time.Until(expires).Round(time.Second))
	return nil
}

func runLockRelease(cmd *cobra.Command, args []string) error {
	s, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	if err := s.svc.ForceReleaseLock(cmd.Context(), currentPrincipal()); err != nil {
		return printer.Error("failed to release lock", err.Error(), nil)
	}

	printer.Success("Publish lock released\n")
	return nil
}
