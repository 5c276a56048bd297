package scanner

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/m-mizutani/goerr/v2"

	"github.com/Akaiko1/game-grove/internal/logging"
	"github.com/Akaiko1/game-grove/internal/model"
)

// FileSystemScanner defines the interface for listing catalog entries under a root path.
type FileSystemScanner interface {
	ScanDirectory(ctx context.Context, root string) ([]model.CatalogEntry, error)
}

// DirScanner lists the immediate subdirectories of a root path.
//
// Policy: regular files are skipped, symlinks are followed, names starting with "." and
// well-known OS system folders are excluded. There is no recursion.
type DirScanner struct{}

// NewDirScanner creates a new DirScanner.
func NewDirScanner() *DirScanner {
	return &DirScanner{}
}

// ScanDirectory returns one entry per visible subdirectory of root, in no particular order.
func (s *DirScanner) ScanDirectory(ctx context.Context, root string) ([]model.CatalogEntry, error) {
	if root == "" {
		return nil, goerr.Wrap(model.ErrNotFound, "root path is empty")
	}

	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, goerr.Wrap(model.ErrStorage, "failed to resolve root path", goerr.V("path", root), goerr.V("cause", err.Error()))
	}

	info, err := os.Stat(abs)
	if err != nil {
		return nil, classify(err, "failed to stat root", abs)
	}
	if !info.IsDir() {
		return nil, goerr.Wrap(model.ErrNotFound, "root is not a directory", goerr.V("path", abs))
	}

	dirEntries, err := os.ReadDir(abs)
	if err != nil {
		return nil, classify(err, "failed to read root", abs)
	}

	logger := logging.From(ctx)
	entries := make([]model.CatalogEntry, 0, len(dirEntries))
	for _, de := range dirEntries {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		name := de.Name()
		if isHidden(name) || isSystemFolder(name) {
			continue
		}

		childPath := filepath.Join(abs, name)
		// os.Stat follows symlinks, so a link to a directory is listed like the directory itself.
		childInfo, err := os.Stat(childPath)
		if err != nil {
			logger.Warn("Skipping unreadable entry", "path", childPath, "error", err)
			continue
		}
		if !childInfo.IsDir() {
			continue
		}

		modTime := childInfo.ModTime()
		entries = append(entries, model.CatalogEntry{
			Name:         name,
			Path:         childPath,
			LastModified: &modTime,
		})
	}

	logger.Debug("Scanned root", "path", abs, "entries", len(entries))
	return entries, nil
}

func classify(err error, msg, path string) error {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return goerr.Wrap(model.ErrNotFound, msg, goerr.V("path", path), goerr.V("cause", err.Error()))
	case errors.Is(err, fs.ErrPermission):
		return goerr.Wrap(model.ErrPermissionDenied, msg, goerr.V("path", path), goerr.V("cause", err.Error()))
	default:
		return goerr.Wrap(model.ErrStorage, msg, goerr.V("path", path), goerr.V("cause", err.Error()))
	}
}

func isHidden(name string) bool {
	return strings.HasPrefix(name, ".")
}

// systemFolders often cause permission errors and are never catalog items.
var systemFolders = map[string]struct{}{
	"System Volume Information": {},
	"$Recycle.Bin":              {},
	"$RECYCLE.BIN":              {},
	"$WINDOWS.~BT":              {},
	"lost+found":                {},
}

func isSystemFolder(name string) bool {
	_, ok := systemFolders[name]
	return ok
}
