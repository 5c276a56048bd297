// Package settings persists string key/value settings in a TOML file.
//
// The store moves through three phases: Uninitialized, Loaded and Ready. The write-back listener
// can only be armed once the persisted values are loaded, so it never observes the pre-load empty
// state and never writes it over the file.
package settings

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/m-mizutani/goerr/v2"
	"github.com/pelletier/go-toml/v2"

	"github.com/Akaiko1/game-grove/internal/logging"
	"github.com/Akaiko1/game-grove/internal/model"
)

// KeyRootPath stores the selected catalog root.
const KeyRootPath = "root_path"

// Phase is the initialization phase of a Store.
type Phase int

const (
	Uninitialized Phase = iota
	Loaded
	Ready
)

func (p Phase) String() string {
	switch p {
	case Uninitialized:
		return "uninitialized"
	case Loaded:
		return "loaded"
	case Ready:
		return "ready"
	default:
		return "unknown"
	}
}

type document struct {
	Values map[string]string `toml:"values"`
}

// Store is a durable key/value store backed by one file.
type Store struct {
	path string

	// ioMu keeps at most one load or save in flight.
	ioMu sync.Mutex

	mu         sync.Mutex
	phase      Phase
	values     map[string]string
	listener   func(key, value string)
	memoryOnly bool
}

// New creates a Store persisted at path. Nothing is read until Load.
func New(path string) *Store {
	return &Store{
		path:   path,
		values: make(map[string]string),
	}
}

// Load reads the settings file once. A missing file loads as empty. A file that cannot be parsed
// is moved aside to <path>.corrupt and the store starts empty. Later calls do nothing.
func (s *Store) Load(ctx context.Context) error {
	s.ioMu.Lock()
	defer s.ioMu.Unlock()

	s.mu.Lock()
	if s.phase != Uninitialized {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	logger := logging.From(ctx)

	loaded, err := s.readFile()
	switch {
	case errors.Is(err, fs.ErrNotExist):
		logger.Debug("No settings file yet", "path", s.path)
		loaded = map[string]string{}
	case errors.Is(err, errCorrupt):
		corrupt := s.path + ".corrupt"
		logger.Warn("Settings file is corrupt, starting empty", "path", s.path, "moved_to", corrupt, "error", err)
		if rerr := os.Rename(s.path, corrupt); rerr != nil {
			logger.Warn("Failed to move corrupt settings aside", "error", rerr)
		}
		loaded = map[string]string{}
	case err != nil:
		return goerr.Wrap(model.ErrStorage, "failed to read settings", goerr.V("path", s.path), goerr.V("cause", err.Error()))
	}

	s.mu.Lock()
	// Values set before the load completed are newer than the file.
	for k, v := range s.values {
		loaded[k] = v
	}
	s.values = loaded
	s.phase = Loaded
	s.mu.Unlock()

	logger.Info("Settings loaded", "path", s.path, "keys", len(loaded))
	return nil
}

var errCorrupt = errors.New("corrupt settings file")

func (s *Store) readFile() (map[string]string, error) {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		return nil, err
	}

	var doc document
	if err := toml.Unmarshal(raw, &doc); err != nil {
		return nil, errors.Join(errCorrupt, err)
	}
	if doc.Values == nil {
		doc.Values = map[string]string{}
	}
	return doc.Values, nil
}

// Arm installs the write-back listener, called after every Set from now on, and moves the store
// to Ready. It fails with model.ErrNotLoaded before Load has completed.
func (s *Store) Arm(listener func(key, value string)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.phase == Uninitialized {
		return goerr.Wrap(model.ErrNotLoaded, "cannot arm settings listener before load", goerr.V("path", s.path))
	}
	s.listener = listener
	s.phase = Ready
	return nil
}

// Get returns the value stored under key.
func (s *Store) Get(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[key]
	return v, ok
}

// Set stores value under key. Once the store is Ready the listener is called with the new value.
func (s *Store) Set(key, value string) {
	s.mu.Lock()
	s.values[key] = value
	var listener func(key, value string)
	if s.phase == Ready {
		listener = s.listener
	}
	s.mu.Unlock()

	if listener != nil {
		listener(key, value)
	}
}

// Save writes all values to disk by write-temp-then-rename. It fails with model.ErrNotLoaded
// before Load has completed, so the pre-load values never replace the file. After the first write
// failure the store stays memory-only and later saves are skipped.
func (s *Store) Save(ctx context.Context) error {
	s.ioMu.Lock()
	defer s.ioMu.Unlock()

	logger := logging.From(ctx)

	s.mu.Lock()
	if s.phase == Uninitialized {
		s.mu.Unlock()
		return goerr.Wrap(model.ErrNotLoaded, "cannot save settings before load", goerr.V("path", s.path))
	}
	if s.memoryOnly {
		s.mu.Unlock()
		logger.Debug("Settings are memory-only, skipping save")
		return nil
	}
	doc := document{Values: make(map[string]string, len(s.values))}
	for k, v := range s.values {
		doc.Values[k] = v
	}
	s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	if err := s.writeFile(doc); err != nil {
		s.mu.Lock()
		s.memoryOnly = true
		s.mu.Unlock()

		logger.Error("Failed to save settings, continuing in memory only", "path", s.path, "error", err)
		return goerr.Wrap(model.ErrStorage, "failed to save settings", goerr.V("path", s.path), goerr.V("cause", err.Error()))
	}

	logger.Debug("Settings saved", "path", s.path, "keys", len(doc.Values))
	return nil
}

func (s *Store) writeFile(doc document) error {
	raw, err := toml.Marshal(doc)
	if err != nil {
		return err
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".settings-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() {
		// No-op after a successful rename.
		_ = os.Remove(tmpName)
	}()

	if _, err := tmp.Write(raw); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, s.path)
}

// Phase returns the current initialization phase.
func (s *Store) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// MemoryOnly reports whether a save has failed and persistence is disabled for this session.
func (s *Store) MemoryOnly() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.memoryOnly
}

// Path returns the settings file path.
func (s *Store) Path() string {
	return s.path
}
