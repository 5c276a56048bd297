// Package main runs Game Grove, a desktop catalog of project folders built on the Fyne framework.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/Akaiko1/game-grove/internal/catalog"
	"github.com/Akaiko1/game-grove/internal/config"
	"github.com/Akaiko1/game-grove/internal/core"
	"github.com/Akaiko1/game-grove/internal/creator"
	"github.com/Akaiko1/game-grove/internal/logging"
	"github.com/Akaiko1/game-grove/internal/retry"
	"github.com/Akaiko1/game-grove/internal/scanner"
	"github.com/Akaiko1/game-grove/internal/settings"
	"github.com/Akaiko1/game-grove/internal/ui"
	"github.com/Akaiko1/game-grove/internal/update"
)

func main() {
	cfg, err := config.FromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.Configure(os.Stderr, cfg.LogLevel, cfg.LogJSON)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}
	slog.SetDefault(logger)
	ctx := logging.With(context.Background(), logger)

	logger.Info("Starting Game Grove...", "version", cfg.Version, "settings", cfg.SettingsPath)

	manager := catalog.NewManager(scanner.NewDirScanner(), cfg.ScanTimeout)
	store := settings.New(cfg.SettingsPath)

	updater, err := newUpdater(ctx, cfg)
	if err != nil {
		// The catalog works without updates.
		logger.Error("Updates disabled", "error", err)
	}

	var service core.UpdateService
	if updater != nil {
		service = updater
	}
	app := core.New(store, manager, creator.New(manager), service, core.WithAutoCheck(cfg.AutoCheckUpdates))

	logger.Info("App created, starting UI...")
	ui.NewGroveApp(ctx, cfg, app).Run()
}

func newUpdater(ctx context.Context, cfg *config.Config) (*update.Updater, error) {
	// Captured before any install: afterwards the running binary may already be renamed.
	restarter, err := update.NewExecRestarter()
	if err != nil {
		return nil, err
	}

	target := cfg.BundlePath
	if target == "" {
		target = update.ResolveBundle(restarter.Executable)
	}
	if err := update.RecoverPending(ctx, target); err != nil {
		logging.From(ctx).Warn("Failed to recover interrupted update", "target", target, "error", err)
	}

	key, err := update.BundledPublicKey()
	if err != nil {
		return nil, err
	}

	return update.New(update.Config{
		ManifestURL:     cfg.ManifestURL,
		CurrentVersion:  cfg.Version,
		PublicKey:       key,
		CheckTimeout:    cfg.CheckTimeout,
		DownloadTimeout: cfg.DownloadTimeout,
		Retry:           retry.DefaultConfig(),
	}, &update.BundleInstaller{Target: target}, restarter)
}
