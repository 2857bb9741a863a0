package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	apperrors "github.com/grovetools/slidesync/errors"
	"github.com/grovetools/slidesync/logging"
)

// DefaultFileName is the config file looked up when no path is given.
const DefaultFileName = "config.json"

// ChangeFunc observes a snapshot swap.
type ChangeFunc func(old, new *Snapshot, changes ChangeSet)

// Store holds the current configuration snapshot and its backing file.
// Reads are lock-free; writers are serialized.
type Store struct {
	path     string
	current  atomic.Pointer[Snapshot]
	writeMu  sync.Mutex
	debounce time.Duration
	logger   *logrus.Entry

	cbMu        sync.RWMutex
	onChange    []ChangeFunc
	onExternal  []ChangeFunc
	onReloadErr []func(error)
}

// Option configures a Store.
type Option func(*Store)

// WithLogger overrides the store's logger.
func WithLogger(l *logrus.Entry) Option {
	return func(s *Store) { s.logger = l }
}

// WithDebounce sets how long Watch waits for a burst of file events to settle.
func WithDebounce(d time.Duration) Option {
	return func(s *Store) { s.debounce = d }
}

// Load opens the config file at path, creating it from Defaults when it does
// not exist.
func Load(path string, opts ...Option) (*Store, error) {
	if path == "" {
		path = DefaultFileName
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInvalidInput, "cannot resolve config path")
	}

	s := &Store{
		path:     abs,
		debounce: 500 * time.Millisecond,
		logger:   logging.NewLogger("config"),
	}
	for _, opt := range opts {
		opt(s)
	}

	if _, err := os.Stat(abs); os.IsNotExist(err) {
		snap, err := build(Defaults(), filepath.Dir(abs))
		if err != nil {
			return nil, err
		}
		if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
			return nil, apperrors.TransientIO("create config dir", filepath.Dir(abs), err)
		}
		if err := writeAtomic(abs, snap.raw); err != nil {
			return nil, err
		}
		s.logger.WithField("path", abs).Info("Created default config")
		s.current.Store(snap)
		return s, nil
	}

	snap, err := s.readFile()
	if err != nil {
		return nil, err
	}
	s.current.Store(snap)
	return s, nil
}

// Path returns the absolute path of the backing file.
func (s *Store) Path() string {
	return s.path
}

// Read returns the current snapshot. It never blocks on writers.
func (s *Store) Read() *Snapshot {
	return s.current.Load()
}

// Replace deep-merges partial onto the current snapshot, validates the
// result, persists it atomically and only then swaps it in. On any failure
// the store is unchanged.
//
// Change callbacks run before Replace returns, while the write lock is held,
// so they observe swaps in order. They must not call Replace.
func (s *Store) Replace(partial map[string]interface{}) (*Snapshot, ChangeSet, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	old := s.Read()
	normalized, err := Normalize(partial)
	if err != nil {
		return nil, ChangeSet{}, apperrors.Wrap(err, apperrors.ErrCodeInvalidInput, "partial config is not JSON")
	}

	snap, err := build(Merge(old.doc, normalized), filepath.Dir(s.path))
	if err != nil {
		return nil, ChangeSet{}, err
	}
	if err := writeAtomic(s.path, snap.raw); err != nil {
		return nil, ChangeSet{}, err
	}
	s.current.Store(snap)

	changes := Diff(old, snap)
	s.logger.WithField("changes", changes).Info("Config replaced")
	s.notify(s.changeCallbacks(), old, snap, changes)
	return snap, changes, nil
}

// Set replaces a single dotted key, e.g. Set("preprocessing.quality", "90").
func (s *Store) Set(key, raw string) (*Snapshot, ChangeSet, error) {
	partial, err := PartialFromPath(key, raw)
	if err != nil {
		return nil, ChangeSet{}, apperrors.Wrap(err, apperrors.ErrCodeInvalidInput, "invalid config key")
	}
	return s.Replace(partial)
}

// Reload re-reads the backing file. A file that fails to parse or validate
// leaves the current snapshot in place and is reported to OnReloadError
// callbacks. A file identical to the current snapshot is ignored.
func (s *Store) Reload() (ChangeSet, bool, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	snap, err := s.readFile()
	if err != nil {
		s.logger.WithError(err).Warn("Config reload failed, keeping previous config")
		s.cbMu.RLock()
		handlers := append([]func(error){}, s.onReloadErr...)
		s.cbMu.RUnlock()
		for _, h := range handlers {
			h(err)
		}
		return ChangeSet{}, false, err
	}

	old := s.Read()
	if old.Equal(snap) {
		return ChangeSet{}, false, nil
	}
	s.current.Store(snap)

	changes := Diff(old, snap)
	s.logger.WithField("changes", changes).Info("Config reloaded from disk")

	s.cbMu.RLock()
	external := append([]ChangeFunc{}, s.onExternal...)
	s.cbMu.RUnlock()
	s.notify(external, old, snap, changes)
	s.notify(s.changeCallbacks(), old, snap, changes)
	return changes, true, nil
}

// OnChange registers a callback for every swap, whether from Replace or a reload.
func (s *Store) OnChange(fn ChangeFunc) {
	s.cbMu.Lock()
	defer s.cbMu.Unlock()
	s.onChange = append(s.onChange, fn)
}

// OnExternalChange registers a callback for swaps caused by another process
// editing the file.
func (s *Store) OnExternalChange(fn ChangeFunc) {
	s.cbMu.Lock()
	defer s.cbMu.Unlock()
	s.onExternal = append(s.onExternal, fn)
}

// OnReloadError registers a callback for reloads that were rejected.
func (s *Store) OnReloadError(fn func(error)) {
	s.cbMu.Lock()
	defer s.cbMu.Unlock()
	s.onReloadErr = append(s.onReloadErr, fn)
}

func (s *Store) changeCallbacks() []ChangeFunc {
	s.cbMu.RLock()
	defer s.cbMu.RUnlock()
	return append([]ChangeFunc{}, s.onChange...)
}

func (s *Store) notify(fns []ChangeFunc, old, new *Snapshot, changes ChangeSet) {
	for _, fn := range fns {
		fn(old, new, changes)
	}
}

func (s *Store) readFile() (*Snapshot, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, apperrors.ConfigNotFound(s.path)
		}
		return nil, apperrors.TransientIO("read", s.path, err)
	}
	var doc map[string]interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, apperrors.ConfigInvalid(s.path, err)
	}
	base, err := Normalize(Defaults())
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "defaults are not JSON")
	}
	return build(Merge(base, doc), filepath.Dir(s.path))
}

// build validates a merged document and turns it into a snapshot.
func build(doc map[string]interface{}, baseDir string) (*Snapshot, error) {
	doc, err := Normalize(doc)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInvalidInput, "config is not JSON")
	}
	if err := Validate(doc); err != nil {
		return nil, err
	}
	snap, err := newSnapshot(doc, baseDir)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeConfigInvalid, "config does not decode")
	}
	return snap, nil
}

// writeAtomic writes data next to path and renames it into place, so readers
// never observe a partially written file.
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return apperrors.TransientIO("create temp", dir, err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		cleanup()
		return apperrors.TransientIO("write", tmpName, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		cleanup()
		return apperrors.TransientIO("sync", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return apperrors.TransientIO("close", tmpName, err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		cleanup()
		return apperrors.TransientIO("chmod", tmpName, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return apperrors.TransientIO("rename", path, err)
	}
	return nil
}

// NewSnapshot merges overlay onto Defaults and validates it without a
// backing file. Relative paths resolve against baseDir.
func NewSnapshot(overlay map[string]interface{}, baseDir string) (*Snapshot, error) {
	ov, err := Normalize(overlay)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInvalidInput, "overlay is not JSON")
	}
	return build(Merge(Defaults(), ov), baseDir)
}
