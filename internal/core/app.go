// Package core wires the catalog, settings, creator and updater into the operations the desktop
// shell calls.
package core

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/m-mizutani/goerr/v2"

	"github.com/Akaiko1/game-grove/internal/async"
	"github.com/Akaiko1/game-grove/internal/catalog"
	"github.com/Akaiko1/game-grove/internal/creator"
	"github.com/Akaiko1/game-grove/internal/logging"
	"github.com/Akaiko1/game-grove/internal/model"
	"github.com/Akaiko1/game-grove/internal/settings"
)

// UpdateService checks for and installs application updates.
type UpdateService interface {
	Check(ctx context.Context) (*model.UpdateManifest, error)
	DownloadAndInstall(ctx context.Context, progress chan<- model.Progress) error
	State() model.UpdateState
	OnStateChange(fn func(model.UpdateState))
}

// App is the application state owned by the shell.
type App struct {
	settings *settings.Store
	catalog  *catalog.Manager
	creator  *creator.Creator
	updater  UpdateService

	autoCheck bool
	saves     sync.WaitGroup
}

// Option configures an App.
type Option func(*App)

// WithAutoCheck enables the update check dispatched by Start.
func WithAutoCheck(enabled bool) Option {
	return func(a *App) { a.autoCheck = enabled }
}

// New creates an App. updater may be nil, which disables update operations.
func New(store *settings.Store, manager *catalog.Manager, c *creator.Creator, updater UpdateService, opts ...Option) *App {
	a := &App{
		settings: store,
		catalog:  manager,
		creator:  c,
		updater:  updater,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Start loads settings, scans the persisted root, arms the write-back listener and, when enabled,
// dispatches an update check.
func (a *App) Start(ctx context.Context) error {
	logger := logging.From(ctx)

	if err := a.settings.Load(ctx); err != nil {
		return goerr.Wrap(err, "failed to load settings")
	}

	if root, ok := a.settings.Get(settings.KeyRootPath); ok && root != "" {
		logger.Info("Restoring catalog root", "root", root)
		a.catalog.SetRoot(ctx, root)
	}

	if err := a.settings.Arm(func(key, value string) {
		a.onSettingChanged(ctx, key, value)
	}); err != nil {
		return err
	}

	if a.autoCheck && a.updater != nil {
		async.Dispatch(ctx, func(ctx context.Context) error {
			// Failures leave the updater idle; a startup check is not worth a dialog.
			if _, err := a.updater.Check(ctx); err != nil {
				logging.From(ctx).Warn("Startup update check failed", "error", err)
			}
			return nil
		})
	}
	return nil
}

func (a *App) onSettingChanged(ctx context.Context, key, value string) {
	if key == settings.KeyRootPath && value != "" {
		a.catalog.SetRoot(ctx, value)
	}

	a.saves.Add(1)
	async.Dispatch(ctx, func(ctx context.Context) error {
		defer a.saves.Done()
		// Save degrades to memory-only on failure and logs it.
		_ = a.settings.Save(ctx)
		return nil
	})
}

// ListCatalog scans root and returns its entries newest first.
func (a *App) ListCatalog(ctx context.Context, root string) ([]model.CatalogEntry, error) {
	return a.catalog.List(ctx, root)
}

// CreateItem creates a catalog item under root. See creator.Creator.Create for partial success.
func (a *App) CreateItem(ctx context.Context, root, rawName, itemType string) (string, error) {
	return a.creator.Create(ctx, root, rawName, itemType)
}

// ItemTypes lists the item types CreateItem accepts.
func (a *App) ItemTypes() []string {
	return creator.ItemTypes()
}

// GetSetting returns the value stored under key.
func (a *App) GetSetting(key string) (string, bool) {
	return a.settings.Get(key)
}

// SetSetting stores value under key. After Start the change is saved in the background.
func (a *App) SetSetting(key, value string) {
	a.settings.Set(key, value)
}

// Save writes settings to disk. It fails with model.ErrNotLoaded before Start.
func (a *App) Save(ctx context.Context) error {
	return a.settings.Save(ctx)
}

// SelectRoot validates path as a directory, stores it as the catalog root and starts a scan.
func (a *App) SelectRoot(ctx context.Context, path string) error {
	if a.settings.Phase() != settings.Ready {
		return goerr.Wrap(model.ErrNotLoaded, "cannot select root before start", goerr.V("path", path))
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return goerr.Wrap(model.ErrNotFound, "invalid root path", goerr.V("path", path), goerr.V("cause", err.Error()))
	}

	info, err := os.Stat(abs)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return goerr.Wrap(model.ErrNotFound, "root does not exist", goerr.V("path", abs))
	case errors.Is(err, fs.ErrPermission):
		return goerr.Wrap(model.ErrPermissionDenied, "root is not accessible", goerr.V("path", abs))
	case err != nil:
		return goerr.Wrap(model.ErrStorage, "failed to stat root", goerr.V("path", abs), goerr.V("cause", err.Error()))
	case !info.IsDir():
		return goerr.Wrap(model.ErrNotFound, "root is not a directory", goerr.V("path", abs))
	}

	logging.From(ctx).Info("Selected catalog root", "root", abs)
	a.settings.Set(settings.KeyRootPath, abs)
	return nil
}

// RootPath returns the selected catalog root, or "" when none is set.
func (a *App) RootPath() string {
	root, _ := a.settings.Get(settings.KeyRootPath)
	return root
}

// Refresh re-scans the current root.
func (a *App) Refresh(ctx context.Context) {
	a.catalog.Refresh(ctx)
}

// Snapshot returns the current catalog state.
func (a *App) Snapshot() model.Snapshot {
	return a.catalog.Snapshot()
}

// OnCatalogChange registers fn for catalog state changes.
func (a *App) OnCatalogChange(fn func(model.Snapshot)) {
	a.catalog.OnChange(fn)
}

// CheckForUpdate fetches the update manifest. It returns nil when no newer build exists.
func (a *App) CheckForUpdate(ctx context.Context) (*model.UpdateManifest, error) {
	if a.updater == nil {
		return nil, nil
	}
	return a.updater.Check(ctx)
}

// DownloadAndInstallUpdate installs the update found by the last check and restarts the application.
func (a *App) DownloadAndInstallUpdate(ctx context.Context, progress chan<- model.Progress) error {
	if a.updater == nil {
		if progress != nil {
			close(progress)
		}
		return goerr.Wrap(model.ErrNoUpdateAvailable, "updates are disabled")
	}
	return a.updater.DownloadAndInstall(ctx, progress)
}

// UpdateState returns the state of the updater.
func (a *App) UpdateState() model.UpdateState {
	if a.updater == nil {
		return model.UpdateIdle
	}
	return a.updater.State()
}

// OnUpdateStateChange registers fn for updater transitions.
func (a *App) OnUpdateStateChange(fn func(model.UpdateState)) {
	if a.updater != nil {
		a.updater.OnStateChange(fn)
	}
}

// Wait blocks until background scans and saves have finished.
func (a *App) Wait() {
	a.saves.Wait()
	a.catalog.Wait()
}

// Shutdown waits for background work and writes settings one last time.
func (a *App) Shutdown(ctx context.Context) error {
	a.Wait()
	if a.settings.Phase() == settings.Uninitialized {
		return nil
	}
	return a.settings.Save(ctx)
}
