// Package catalog orders scanner output and holds the current catalog of the selected root.
package catalog

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/Akaiko1/game-grove/internal/async"
	"github.com/Akaiko1/game-grove/internal/logging"
	"github.com/Akaiko1/game-grove/internal/model"
	"github.com/Akaiko1/game-grove/internal/scanner"
)

// Manager drives the scanner for the current root and keeps the latest accepted result.
//
// Every scan is tagged with a generation number. A result whose generation is no longer the
// latest is dropped on arrival, so a slow scan of an old root never replaces a newer catalog.
type Manager struct {
	scanner scanner.FileSystemScanner
	timeout time.Duration

	mu         sync.Mutex
	root       string
	generation uint64
	entries    []model.CatalogEntry
	loading    bool
	err        error
	listeners  []func(model.Snapshot)

	// notifyMu orders listener calls; delivered is the newest generation handed out.
	notifyMu  sync.Mutex
	delivered uint64

	inflight sync.WaitGroup
}

// NewManager creates a Manager. A zero timeout disables the per-scan deadline.
func NewManager(s scanner.FileSystemScanner, timeout time.Duration) *Manager {
	return &Manager{
		scanner: s,
		timeout: timeout,
	}
}

// List scans root synchronously and returns its entries ordered newest first.
func (m *Manager) List(ctx context.Context, root string) ([]model.CatalogEntry, error) {
	if m.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.timeout)
		defer cancel()
	}

	entries, err := m.scanner.ScanDirectory(ctx, root)
	if err != nil {
		return nil, err
	}
	Sort(entries)
	return entries, nil
}

// SetRoot switches the catalog to root and starts a scan. Setting the current root again does nothing.
func (m *Manager) SetRoot(ctx context.Context, root string) {
	m.mu.Lock()
	if root == m.root && m.generation > 0 {
		m.mu.Unlock()
		return
	}
	m.root = root
	m.mu.Unlock()

	m.rescan(ctx)
}

// Refresh re-scans the current root.
func (m *Manager) Refresh(ctx context.Context) {
	m.mu.Lock()
	hasRoot := m.root != ""
	m.mu.Unlock()

	if hasRoot {
		m.rescan(ctx)
	}
}

func (m *Manager) rescan(ctx context.Context) {
	m.mu.Lock()
	m.generation++
	gen := m.generation
	root := m.root
	m.loading = true
	snap := m.snapshotLocked()
	listeners := m.listeners
	m.mu.Unlock()

	m.notify(listeners, snap)

	m.inflight.Add(1)
	async.Dispatch(ctx, func(ctx context.Context) error {
		defer m.inflight.Done()

		entries, err := m.List(ctx, root)
		m.accept(ctx, gen, entries, err)
		return nil
	})
}

func (m *Manager) accept(ctx context.Context, gen uint64, entries []model.CatalogEntry, err error) {
	logger := logging.From(ctx)

	m.mu.Lock()
	if gen != m.generation {
		m.mu.Unlock()
		logger.Debug("Discarding superseded scan", "generation", gen)
		return
	}

	m.loading = false
	if err != nil {
		// The previous catalog belongs to the old root or an older state of this one.
		m.entries = nil
		m.err = err
	} else {
		m.entries = entries
		m.err = nil
	}
	snap := m.snapshotLocked()
	listeners := m.listeners
	m.mu.Unlock()

	if err != nil {
		logger.Warn("Catalog scan failed", "root", snap.Root, "error", err)
	} else {
		logger.Info("Catalog scanned", "root", snap.Root, "entries", len(entries))
	}
	m.notify(listeners, snap)
}

// Snapshot returns the current entries, loading flag and last error.
func (m *Manager) Snapshot() model.Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

func (m *Manager) snapshotLocked() model.Snapshot {
	entries := make([]model.CatalogEntry, len(m.entries))
	copy(entries, m.entries)
	return model.Snapshot{
		Root:       m.root,
		Entries:    entries,
		Loading:    m.loading,
		Err:        m.err,
		Generation: m.generation,
	}
}

// OnChange registers fn to be called after every state change. fn runs on the goroutine that made
// the change.
func (m *Manager) OnChange(fn func(model.Snapshot)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, fn)
}

// Wait blocks until all dispatched scans have finished.
func (m *Manager) Wait() {
	m.inflight.Wait()
}

// notify calls listeners one snapshot at a time. A snapshot older than one already delivered is
// dropped, so a late "loading" state of a superseded scan never follows a newer result.
func (m *Manager) notify(listeners []func(model.Snapshot), snap model.Snapshot) {
	m.notifyMu.Lock()
	defer m.notifyMu.Unlock()

	if snap.Generation < m.delivered {
		return
	}
	m.delivered = snap.Generation

	for _, fn := range listeners {
		fn(snap)
	}
}

// Sort orders entries by LastModified descending, then Name ascending. Entries without a
// modification time go last.
func Sort(entries []model.CatalogEntry) {
	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i].LastModified, entries[j].LastModified
		switch {
		case a != nil && b != nil && !a.Equal(*b):
			return a.After(*b)
		case a != nil && b == nil:
			return true
		case a == nil && b != nil:
			return false
		}
		return entries[i].Name < entries[j].Name
	})
}
