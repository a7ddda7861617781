package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dyluth/guidepost/internal/api"
	"github.com/dyluth/guidepost/internal/backend"
	"github.com/dyluth/guidepost/internal/config"
	"github.com/dyluth/guidepost/internal/eventlog"
	"github.com/dyluth/guidepost/internal/gate"
	"github.com/dyluth/guidepost/internal/publish"
	"github.com/dyluth/guidepost/pkg/bundlecache"
	"github.com/gin-gonic/gin"
)

const (
	defaultAddr   = ":8080"
	shutdownGrace = 15 * time.Second
)

func main() {
	// 1. Load configuration; GUIDEPOST_INSTANCE overrides the file
	cfg, err := loadConfig(os.Getenv("GUIDEPOST_CONFIG"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if name := os.Getenv("GUIDEPOST_INSTANCE"); name != "" {
		cfg.Instance = name
	}

	addr := os.Getenv("GUIDEPOST_ADDR")
	if addr == "" {
		addr = defaultAddr
	}

	// 2. Stop on SIGTERM/SIGINT
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	if err := run(ctx, cfg, addr); err != nil {
		fmt.Fprintf(os.Stderr, "Publisher error: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("Publisher stopped")
}

// loadConfig reads path, or the built-in defaults when path is empty.
func loadConfig(path string) (*config.GuidepostConfig, error) {
	if path == "" {
		return config.Default(), nil
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", path, err)
	}
	return cfg, nil
}

// run serves the API until ctx is cancelled, then drains in-flight requests.
func run(ctx context.Context, cfg *config.GuidepostConfig, addr string) error {
	// Open the store and make sure every language has a bundle
	store, err := backend.Open(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	created, err := backend.Seed(ctx, store, cfg.LanguageList())
	if err != nil {
		return err
	}
	if len(created) > 0 {
		log.Printf("[Publisher] Seeded empty bundles: %v", created)
	}

	svc, err := publish.NewService(store, gate.NewValidatorGate(cfg.GateOptions()), publish.Options{
		Languages:  cfg.LanguageList(),
		WriteOrder: cfg.WriteOrder(),
		LockTTL:    cfg.LockTTL(),
		Logger:     eventlog.New("publisher", cfg.Instance),
	})
	if err != nil {
		return fmt.Errorf("failed to create publish service: %w", err)
	}

	// Public bundle reads go through a cache kept current by version events
	cache := bundlecache.New(store, bundlecache.Options{})
	cacheCtx, stopCache := context.WithCancel(ctx)
	defer stopCache()
	go cache.Run(cacheCtx)

	gin.SetMode(gin.ReleaseMode)
	server := api.NewServer(api.WithBundleCache(svc, cache, cfg.LanguageList()), cfg.Auth)
	if err := server.Start(addr); err != nil {
		return err
	}

	log.Printf("[Publisher] Instance '%s' serving %v (write order %v, lock TTL %s)",
		cfg.Instance, cfg.LanguageList(), cfg.WriteOrder(), cfg.LockTTL())

	<-ctx.Done()
	log.Printf("[Publisher] Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("shutdown failed: %w", err)
	}
	return nil
}
