// Package creator turns user-entered names into catalog items on disk.
package creator

import (
	"bytes"
	"context"
	"embed"
	"errors"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"text/template"
	"time"

	"github.com/google/uuid"
	"github.com/m-mizutani/goerr/v2"
	"github.com/pelletier/go-toml/v2"

	"github.com/Akaiko1/game-grove/internal/logging"
	"github.com/Akaiko1/game-grove/internal/model"
)

//go:embed scaffolds
var scaffoldFS embed.FS

// MetadataFile is written into every scaffolded item.
const MetadataFile = "grove.toml"

// Item types accepted by Create.
const (
	TypeEmpty = "empty"
	TypeHTML  = "html"
	TypeNotes = "notes"
)

var (
	disallowed = regexp.MustCompile(`[^a-z0-9 \-]`)
	whitespace = regexp.MustCompile(`\s+`)
	hyphens    = regexp.MustCompile(`-+`)
)

// Sanitize derives the directory slug from user input: lowercase and trim, drop everything but
// [a-z0-9 -], turn whitespace runs into one hyphen, squeeze hyphen runs, trim hyphens.
func Sanitize(raw string) string {
	s := strings.TrimSpace(strings.ToLower(raw))
	s = disallowed.ReplaceAllString(s, "")
	s = whitespace.ReplaceAllString(s, "-")
	s = hyphens.ReplaceAllString(s, "-")
	return strings.Trim(s, "-")
}

// Refresher re-scans the current catalog root.
type Refresher interface {
	Refresh(ctx context.Context)
}

// Metadata is the content of MetadataFile.
type Metadata struct {
	ID      string    `toml:"id"`
	Name    string    `toml:"name"`
	Title   string    `toml:"title"`
	Type    string    `toml:"type"`
	Created time.Time `toml:"created"`
}

type templateData struct {
	Slug    string
	Title   string
	Created time.Time
}

// Creator creates catalog items under a root directory.
type Creator struct {
	refresher Refresher
	now       func() time.Time
	writeFile func(name string, data []byte, perm os.FileMode) error
}

// Option configures a Creator.
type Option func(*Creator)

// WithClock overrides the time source used for metadata.
func WithClock(now func() time.Time) Option {
	return func(c *Creator) { c.now = now }
}

// WithWriteFile overrides how scaffold files are written.
func WithWriteFile(fn func(name string, data []byte, perm os.FileMode) error) Option {
	return func(c *Creator) { c.writeFile = fn }
}

// New creates a Creator that asks refresher to re-scan after each created item. refresher may be nil.
func New(refresher Refresher, opts ...Option) *Creator {
	c := &Creator{
		refresher: refresher,
		now:       time.Now,
		writeFile: os.WriteFile,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ItemTypes lists the accepted item types, TypeEmpty first.
func ItemTypes() []string {
	types := []string{TypeEmpty}
	entries, _ := fs.ReadDir(scaffoldFS, "scaffolds")
	var scaffolded []string
	for _, e := range entries {
		if e.IsDir() {
			scaffolded = append(scaffolded, e.Name())
		}
	}
	sort.Strings(scaffolded)
	return append(types, scaffolded...)
}

func validType(itemType string) bool {
	if itemType == "" || itemType == TypeEmpty {
		return true
	}
	info, err := fs.Stat(scaffoldFS, path.Join("scaffolds", itemType))
	return err == nil && info.IsDir()
}

// Create makes root/<Sanitize(rawName)> and scaffolds it for itemType ("" means empty).
//
// It returns the new directory path. When scaffolding fails after the directory was created, the
// path is returned together with an error wrapping model.ErrStorage; the directory is kept. The
// catalog is refreshed whenever the directory was created.
func (c *Creator) Create(ctx context.Context, root, rawName, itemType string) (string, error) {
	slug := Sanitize(rawName)
	if slug == "" {
		return "", goerr.Wrap(model.ErrInvalidName, "name has no usable characters", goerr.V("input", rawName))
	}
	if !validType(itemType) {
		return "", goerr.Wrap(model.ErrInvalidItemType, "unknown item type", goerr.V("type", itemType))
	}

	info, err := os.Stat(root)
	if err != nil {
		return "", classify(err, "failed to stat root", root)
	}
	if !info.IsDir() {
		return "", goerr.Wrap(model.ErrNotFound, "root is not a directory", goerr.V("path", root))
	}

	dir := filepath.Join(root, slug)
	if err := os.Mkdir(dir, 0o755); err != nil {
		return "", classify(err, "failed to create item directory", dir)
	}

	logger := logging.From(ctx)
	logger.Info("Created catalog item", "path", dir, "type", itemType)

	scaffoldErr := c.scaffold(dir, slug, strings.TrimSpace(rawName), itemType)
	if c.refresher != nil {
		c.refresher.Refresh(ctx)
	}

	if scaffoldErr != nil {
		logger.Error("Item created but scaffolding failed", "path", dir, "type", itemType, "error", scaffoldErr)
		return dir, goerr.Wrap(model.ErrStorage, "item created but scaffolding failed",
			goerr.V("path", dir), goerr.V("type", itemType), goerr.V("cause", scaffoldErr.Error()))
	}
	return dir, nil
}

func (c *Creator) scaffold(dir, slug, title, itemType string) error {
	if itemType == "" || itemType == TypeEmpty {
		return nil
	}

	created := c.now()
	data := templateData{Slug: slug, Title: title, Created: created}

	base := path.Join("scaffolds", itemType)
	err := fs.WalkDir(scaffoldFS, base, func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}

		raw, err := fs.ReadFile(scaffoldFS, p)
		if err != nil {
			return err
		}
		tmpl, err := template.New(d.Name()).Parse(string(raw))
		if err != nil {
			return goerr.Wrap(err, "failed to parse scaffold template", goerr.V("template", p))
		}
		var buf bytes.Buffer
		if err := tmpl.Execute(&buf, data); err != nil {
			return goerr.Wrap(err, "failed to render scaffold template", goerr.V("template", p))
		}

		rel := strings.TrimSuffix(strings.TrimPrefix(p, base+"/"), ".tmpl")
		target := filepath.Join(dir, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		return c.writeFile(target, buf.Bytes(), 0o644)
	})
	if err != nil {
		return err
	}

	meta, err := toml.Marshal(Metadata{
		ID:      uuid.NewString(),
		Name:    slug,
		Title:   title,
		Type:    itemType,
		Created: created,
	})
	if err != nil {
		return goerr.Wrap(err, "failed to encode item metadata")
	}
	return c.writeFile(filepath.Join(dir, MetadataFile), meta, 0o644)
}

func classify(err error, msg, p string) error {
	switch {
	case errors.Is(err, fs.ErrExist):
		return goerr.Wrap(model.ErrAlreadyExists, msg, goerr.V("path", p))
	case errors.Is(err, fs.ErrNotExist):
		return goerr.Wrap(model.ErrNotFound, msg, goerr.V("path", p), goerr.V("cause", err.Error()))
	case errors.Is(err, fs.ErrPermission):
		return goerr.Wrap(model.ErrPermissionDenied, msg, goerr.V("path", p), goerr.V("cause", err.Error()))
	default:
		return goerr.Wrap(model.ErrStorage, msg, goerr.V("path", p), goerr.V("cause", err.Error()))
	}
}
