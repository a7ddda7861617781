package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/dyluth/guidepost/internal/backend"
	"github.com/dyluth/guidepost/internal/config"
	"github.com/dyluth/guidepost/internal/eventlog"
	"github.com/dyluth/guidepost/internal/gate"
	"github.com/dyluth/guidepost/internal/printer"
	"github.com/dyluth/guidepost/internal/publish"
	"github.com/spf13/cobra"
)

const defaultConfigPath = "guidepost.yml"

// session is an open store and the service built on it.
type session struct {
	cfg   *config.GuidepostConfig
	store backend.Store
	svc   *publish.Service
}

func (s *session) Close() {
	if err := s.store.Close(); err != nil {
		log.Printf("[CLI] Failed to close store: %v", err)
	}
}

// loadConfig reads --config. A missing default config falls back to the
// built-in defaults; a missing explicit one is an error.
func loadConfig(cmd *cobra.Command) (*config.GuidepostConfig, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		explicit := cmd.Flags().Changed("config")
		if !explicit && errors.Is(err, os.ErrNotExist) {
			cfg = config.Default()
		} else {
			return nil, printer.Error(
				"invalid configuration",
				fmt.Sprintf("Failed to load %s: %v", configPath, err),
				[]string{"Create a project first:\n  guidepost init"},
			)
		}
	}

	if instanceName != "" {
		cfg.Instance = instanceName
	}
	return cfg, nil
}

func openSession(cmd *cobra.Command) (*session, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	store, err := backend.Open(ctx, cfg)
	if err != nil {
		return nil, printer.ErrorWithContext(
			"store not accessible",
			err.Error(),
			map[string]string{"backend": cfg.Store.Backend, "instance": cfg.Instance},
			[]string{
				"Check REDIS_URL or store.redis_url in guidepost.yml",
				"Use store.backend: badger for a local database",
			},
		)
	}

	events := eventlog.New("cli", cfg.Instance)
	if !verbose {
		events = events.WithOutput(log.New(io.Discard, "", 0))
	}

	svc, err := publish.NewService(store, gate.NewValidatorGate(cfg.GateOptions()), publish.Options{
		Languages:  cfg.LanguageList(),
		WriteOrder: cfg.WriteOrder(),
		LockTTL:    cfg.LockTTL(),
		Logger:     events,
	})
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to create publish service: %w", err)
	}

	return &session{cfg: cfg, store: store, svc: svc}, nil
}

func currentPrincipal() string {
	if principal != "" {
		return principal
	}
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return "cli"
}
