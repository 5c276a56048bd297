package ui

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/app"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/dialog"
	"fyne.io/fyne/v2/theme"
	"fyne.io/fyne/v2/widget"

	"github.com/Akaiko1/game-grove/internal/async"
	"github.com/Akaiko1/game-grove/internal/clipboard"
	"github.com/Akaiko1/game-grove/internal/config"
	"github.com/Akaiko1/game-grove/internal/core"
	"github.com/Akaiko1/game-grove/internal/logging"
	"github.com/Akaiko1/game-grove/internal/model"
	"github.com/Akaiko1/game-grove/internal/renderer"
)

const (
	// UI Constants
	appID        = "app.gamegrove.desktop"
	appTitle     = "Game Grove"
	windowWidth  = 800
	windowHeight = 600

	// Icons
	folderIcon = "📁"

	// File operations
	defaultFileExt = ".txt"
	timeFormat     = "2006-01-02_15-04-05"

	// Messages
	msgNoRoot       = "Please select a catalog folder first."
	msgNoSelection  = "Please select an item first."
	msgSaveSuccess  = "Catalog saved successfully!"
	msgCopySuccess  = "Copied to clipboard!"
	msgUpToDate     = "You are running the latest version."
	msgStartupError = "Failed to start"
)

// GroveApp is the desktop shell around core.App.
type GroveApp struct {
	// Core components
	app    fyne.App
	window fyne.Window
	config *config.Config
	core   *core.App
	ctx    context.Context

	// Services
	renderer  renderer.CatalogRenderer
	clipboard clipboard.ClipboardManager

	// UI components
	list        *widget.List
	statusLabel *widget.Label
	rootLabel   *widget.Label

	// State - UI thread only, no synchronization needed
	snapshot model.Snapshot
	selected int
}

// NewGroveApp creates a GroveApp. ctx carries the logger for background work.
func NewGroveApp(ctx context.Context, cfg *config.Config, c *core.App) *GroveApp {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}

	fyneApp := app.NewWithID(appID)
	fyneApp.SetIcon(theme.FolderIcon())

	window := fyneApp.NewWindow(appTitle)
	window.Resize(fyne.NewSize(windowWidth, windowHeight))

	return &GroveApp{
		app:         fyneApp,
		window:      window,
		config:      cfg,
		core:        c,
		ctx:         ctx,
		renderer:    &renderer.StandardCatalogRenderer{},
		clipboard:   clipboard.NewFyneClipboardManager(fyneApp.Clipboard()),
		statusLabel: widget.NewLabel("Application started. Select a catalog folder"),
		rootLabel:   widget.NewLabel(""),
		selected:    -1,
	}
}

// Run starts the core and the window. It blocks until the window is closed.
func (app *GroveApp) Run() {
	app.window.SetContent(app.createMainContent())
	app.window.SetMainMenu(app.createMainMenu())
	app.enableDragDrop()

	// Listeners run on background goroutines; UI updates must be dispatched to the main thread
	app.core.OnCatalogChange(func(snap model.Snapshot) {
		fyne.Do(func() { app.updateSnapshot(snap) })
	})
	app.core.OnUpdateStateChange(func(state model.UpdateState) {
		if state == model.UpdateAvailable {
			fyne.Do(func() { app.statusLabel.SetText("An update is available. Use Help > Check for Updates...") })
		}
	})

	app.app.Lifecycle().SetOnStopped(func() {
		if err := app.core.Shutdown(app.ctx); err != nil {
			logging.From(app.ctx).Warn("Failed to save settings on exit", "error", err)
		}
	})

	if err := app.core.Start(app.ctx); err != nil {
		app.showError(msgStartupError, err)
	}
	app.updateSnapshot(app.core.Snapshot())

	app.window.ShowAndRun()
}

// createMainContent creates the main UI content.
func (app *GroveApp) createMainContent() fyne.CanvasObject {
	// Header
	title := widget.NewLabel("Catalog")
	title.TextStyle.Bold = true

	// Buttons
	selectBtn := widget.NewButton(folderIcon+" Select Folder", app.handleSelectFolder)
	newBtn := widget.NewButton("➕ New Item", app.handleNewItem)
	refreshBtn := widget.NewButton("🔄 Refresh", app.handleRefresh)
	openBtn := widget.NewButton("📂 Open", app.handleOpen)
	copyBtn := widget.NewButton("📋 Copy Path", app.handleCopyPath)
	copyAllBtn := widget.NewButton("📋 Copy Catalog", app.handleCopyCatalog)
	saveBtn := widget.NewButton("💾 Save to File", app.handleSaveToFile)

	buttonContainer := container.NewGridWithColumns(4,
		selectBtn,
		newBtn,
		refreshBtn,
		openBtn,
		copyBtn,
		copyAllBtn,
		saveBtn,
	)

	app.list = app.createList()

	// Main layout
	header := container.NewVBox(title, app.rootLabel, buttonContainer, app.statusLabel)
	return container.NewBorder(header, nil, nil, nil, app.list)
}

// createMainMenu creates the window menu with the update entry.
func (app *GroveApp) createMainMenu() *fyne.MainMenu {
	checkItem := fyne.NewMenuItem("Check for Updates...", app.handleCheckForUpdates)
	about := fyne.NewMenuItem("About", func() {
		dialog.ShowInformation("About", fmt.Sprintf("%s %s", appTitle, app.config.Version), app.window)
	})
	return fyne.NewMainMenu(fyne.NewMenu("Help", checkItem, about))
}

// createList creates the catalog list widget.
func (app *GroveApp) createList() *widget.List {
	list := widget.NewList(
		func() int { return len(app.snapshot.Entries) },
		func() fyne.CanvasObject { return widget.NewLabel(folderIcon + " Item") },
		func(id widget.ListItemID, obj fyne.CanvasObject) {
			label, ok := obj.(*widget.Label)
			if !ok || id >= len(app.snapshot.Entries) {
				return
			}
			label.SetText(app.renderer.EntryLabel(app.snapshot.Entries[id]))
		},
	)
	list.OnSelected = func(id widget.ListItemID) { app.selected = id }
	list.OnUnselected = func(id widget.ListItemID) { app.selected = -1 }
	return list
}

// updateSnapshot replaces the displayed catalog. Must run on the UI thread.
func (app *GroveApp) updateSnapshot(snap model.Snapshot) {
	app.snapshot = snap
	app.selected = -1
	if app.list != nil {
		app.list.UnselectAll()
		app.list.Refresh()
	}

	if snap.Root == "" {
		app.rootLabel.SetText("No catalog folder selected")
	} else {
		app.rootLabel.SetText(folderIcon + " " + snap.Root)
	}

	switch {
	case snap.Loading:
		app.statusLabel.SetText("Scanning: " + snap.Root)
	case snap.Err != nil:
		app.statusLabel.SetText("Scan failed")
		app.showError("Scan Error", snap.Err)
	case snap.Root != "":
		app.statusLabel.SetText(fmt.Sprintf("%d items in: %s", len(snap.Entries), snap.Root))
	}
}

// handleSelectFolder handles folder selection.
func (app *GroveApp) handleSelectFolder() {
	folderDialog := dialog.NewFolderOpen(func(folder fyne.ListableURI, err error) {
		if err != nil {
			app.showError("Folder Selection Error", err)
			return
		}
		if folder == nil {
			return // User cancelled
		}
		app.selectRoot(folder.Path())
	}, app.window)

	folderDialog.Show()
}

func (app *GroveApp) selectRoot(path string) {
	if err := app.core.SelectRoot(app.ctx, path); err != nil {
		app.showError("Folder Selection Error", err)
	}
}

// handleNewItem asks for a name and type and creates the item.
func (app *GroveApp) handleNewItem() {
	root := app.core.RootPath()
	if root == "" {
		dialog.ShowInformation("No Folder", msgNoRoot, app.window)
		return
	}

	nameEntry := widget.NewEntry()
	nameEntry.SetPlaceHolder("My Game")
	types := app.core.ItemTypes()
	typeSelect := widget.NewSelect(types, nil)
	typeSelect.SetSelected(types[0])

	items := []*widget.FormItem{
		widget.NewFormItem("Name", nameEntry),
		widget.NewFormItem("Type", typeSelect),
	}

	dialog.ShowForm("New Item", "Create", "Cancel", items, func(confirmed bool) {
		if !confirmed {
			return
		}
		name, itemType := nameEntry.Text, typeSelect.Selected

		async.Dispatch(app.ctx, func(ctx context.Context) error {
			dir, err := app.core.CreateItem(ctx, root, name, itemType)
			fyne.Do(func() {
				switch {
				case err == nil:
					app.statusLabel.SetText("Created: " + dir)
				case dir != "":
					// The folder exists but its scaffold is incomplete.
					app.statusLabel.SetText("Created with errors: " + dir)
					app.showError("Scaffold Error", err)
				default:
					app.showError("Create Error", err)
				}
			})
			return nil
		})
	}, app.window)
}

// handleRefresh re-scans the current folder.
func (app *GroveApp) handleRefresh() {
	if app.core.RootPath() == "" {
		dialog.ShowInformation("No Folder", msgNoRoot, app.window)
		return
	}
	app.core.Refresh(app.ctx)
}

func (app *GroveApp) selectedEntry() (model.CatalogEntry, bool) {
	if app.selected < 0 || app.selected >= len(app.snapshot.Entries) {
		return model.CatalogEntry{}, false
	}
	return app.snapshot.Entries[app.selected], true
}

// handleOpen opens the selected item in the system file manager.
func (app *GroveApp) handleOpen() {
	entry, ok := app.selectedEntry()
	if !ok {
		dialog.ShowInformation("No Selection", msgNoSelection, app.window)
		return
	}
	if err := app.app.OpenURL(&url.URL{Scheme: "file", Path: entry.Path}); err != nil {
		app.showError("Open Error", err)
	}
}

// handleCopyPath copies the selected item's path.
func (app *GroveApp) handleCopyPath() {
	entry, ok := app.selectedEntry()
	if !ok {
		dialog.ShowInformation("No Selection", msgNoSelection, app.window)
		return
	}
	app.copy(entry.Path)
}

// handleCopyCatalog copies the rendered catalog.
func (app *GroveApp) handleCopyCatalog() {
	if app.snapshot.Root == "" {
		dialog.ShowInformation("No Folder", msgNoRoot, app.window)
		return
	}
	app.copy(app.renderer.RenderCatalog(app.snapshot))
}

func (app *GroveApp) copy(content string) {
	if err := app.clipboard.SetContent(content); err != nil {
		app.showError("Clipboard Error", err)
		return
	}
	app.statusLabel.SetText(msgCopySuccess)
}

// handleSaveToFile handles saving the rendered catalog to a file.
func (app *GroveApp) handleSaveToFile() {
	if app.snapshot.Root == "" {
		dialog.ShowInformation("No Folder", msgNoRoot, app.window)
		return
	}
	text := app.renderer.RenderCatalog(app.snapshot)

	timestamp := time.Now().Format(timeFormat)
	defaultName := fmt.Sprintf("catalog_%s%s", timestamp, defaultFileExt)

	saveDialog := dialog.NewFileSave(func(writer fyne.URIWriteCloser, err error) {
		if err != nil {
			app.showError("Save Error", err)
			return
		}
		if writer == nil {
			return // User cancelled
		}
		defer writer.Close()

		if _, werr := writer.Write([]byte(text)); werr != nil {
			app.showError("Save Error", werr)
			return
		}
		dialog.ShowInformation("Success", msgSaveSuccess, app.window)
	}, app.window)

	saveDialog.SetFileName(defaultName)
	saveDialog.Show()
}

// handleCheckForUpdates runs a manual update check and offers to install the result.
func (app *GroveApp) handleCheckForUpdates() {
	app.statusLabel.SetText("Checking for updates...")

	async.Dispatch(app.ctx, func(ctx context.Context) error {
		manifest, err := app.core.CheckForUpdate(ctx)
		fyne.Do(func() {
			switch {
			case err != nil:
				app.statusLabel.SetText("Update check failed")
				app.showError("Update Error", err)
			case manifest == nil:
				app.statusLabel.SetText(msgUpToDate)
				dialog.ShowInformation("No Updates", msgUpToDate, app.window)
			default:
				app.confirmUpdate(manifest)
			}
		})
		return nil
	})
}

// confirmUpdate asks the user before anything is downloaded.
func (app *GroveApp) confirmUpdate(manifest *model.UpdateManifest) {
	msg := fmt.Sprintf("Version %s is available (you have %s).", manifest.Version, app.config.Version)
	if manifest.Notes != "" {
		msg += "\n\n" + manifest.Notes
	}
	msg += "\n\nDownload, install and restart now?"

	dialog.ShowConfirm("Update Available", msg, func(ok bool) {
		if ok {
			app.installUpdate(manifest)
		}
	}, app.window)
}

func (app *GroveApp) installUpdate(manifest *model.UpdateManifest) {
	bar := widget.NewProgressBar()
	progressDialog := dialog.NewCustomWithoutButtons("Downloading "+manifest.Version, bar, app.window)
	progressDialog.Show()

	progress := make(chan model.Progress, 16)
	go func() {
		for p := range progress {
			if p.Total > 0 {
				value := float64(p.Downloaded) / float64(p.Total)
				fyne.Do(func() { bar.SetValue(value) })
			}
		}
	}()

	async.Dispatch(app.ctx, func(ctx context.Context) error {
		err := app.core.DownloadAndInstallUpdate(ctx, progress)
		// On success the process has been replaced and normally never gets here.
		fyne.Do(func() {
			progressDialog.Hide()
			if err != nil {
				app.statusLabel.SetText("Update failed")
				app.showError("Update Error", err)
			}
		})
		return nil
	})
}

// showError shows an error dialog with a user-facing explanation.
func (app *GroveApp) showError(title string, err error) {
	dialog.ShowError(fmt.Errorf("%s: %s", title, describe(err)), app.window)
}

func describe(err error) string {
	switch {
	case errors.Is(err, model.ErrNotFound):
		return "the folder does not exist or is not a directory"
	case errors.Is(err, model.ErrPermissionDenied):
		return "permission denied"
	case errors.Is(err, model.ErrInvalidName):
		return "the name must contain letters or digits"
	case errors.Is(err, model.ErrAlreadyExists):
		return "an item with this name already exists"
	case errors.Is(err, model.ErrNetwork):
		return "could not reach the update server"
	case errors.Is(err, model.ErrSignatureVerificationFailed):
		return "the update is not correctly signed and was not installed"
	case errors.Is(err, model.ErrNotLoaded):
		return "settings are still loading, try again"
	}
	return err.Error()
}

// enableDragDrop lets a folder dropped on the window become the catalog root.
func (app *GroveApp) enableDragDrop() {
	app.window.SetOnDropped(func(position fyne.Position, uris []fyne.URI) {
		if len(uris) == 0 {
			return
		}
		uri := uris[0] // Take first dropped item
		if uri.Scheme() != "file" {
			dialog.ShowError(fmt.Errorf("invalid file path"), app.window)
			return
		}
		app.selectRoot(uri.Path())
	})
}
