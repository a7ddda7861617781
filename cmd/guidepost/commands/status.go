package commands

import (
	"time"

	"github.com/dyluth/guidepost/internal/inspect"
	"github.com/dyluth/guidepost/internal/printer"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the content version and publish lock",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

var workflowCmd = &cobra.Command{
	Use:   "workflow GUIDE_ID",
	Short: "Show a guide's workflow record as JSON",
	Args:  cobra.ExactArgs(1),
	RunE:  runWorkflow,
}

func init() {
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(workflowCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	s, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	v, err := s.svc.GetVersion(cmd.Context())
	if err != nil {
		return printer.Error("failed to read content version", err.Error(), nil)
	}
	lock, err := s.svc.LockStatus(cmd.Context())
	if err != nil {
		return printer.Error("failed to read lock", err.Error(), nil)
	}

	printer.Printf("Instance:        %s (%s)\n", s.cfg.Instance, s.cfg.Store.Backend)
	printer.Printf("Languages:       %s\n", joinLangs(s.svc.Languages()))
	printer.Printf("Write order:     %s\n", joinLangs(s.svc.WriteOrder()))
	printer.Printf("Content version: %d\n", v)
	if lock.Held {
		printer.Printf("Publish lock:    held by %s until %s\n",
			lock.LockedBy, time.UnixMilli(lock.ExpiresAtMs).UTC().Format(time.RFC3339))
	} else {
		printer.Printf("Publish lock:    free\n")
	}
	return nil
}

func runWorkflow(cmd *cobra.Command, args []string) error {
	s, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	rec, err := s.svc.GetWorkflow(cmd.Context(), args[0])
	if err != nil {
		return reportError("Reading workflow", args[0], err)
	}
	return inspect.FormatSingleJSON(cmd.OutOrStdout(), rec)
}
