package sentinel

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// ErrMarkerExists is returned by CreateExclusive when the marker is present.
var ErrMarkerExists = errors.New("marker already exists")

// MarkerStore is the medium the two processes share. Implementations must make
// every operation atomic with respect to concurrent readers in the other
// process. Read and Stat return an error satisfying errors.Is(err,
// fs.ErrNotExist) for a missing marker.
type MarkerStore interface {
	Read(name string) ([]byte, error)
	Stat(name string) (time.Time, error)
	CreateExclusive(name string, data []byte) error
	Replace(name string, data []byte) error
	// Remove is idempotent.
	Remove(name string) error
}

// FileMarkers keeps markers as files in a directory.
type FileMarkers struct {
	Dir string
}

// NewFileMarkers returns a store rooted at dir, creating it if needed.
func NewFileMarkers(dir string) (*FileMarkers, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &FileMarkers{Dir: dir}, nil
}

func (m *FileMarkers) path(name string) string {
	return filepath.Join(m.Dir, name)
}

func (m *FileMarkers) Read(name string) ([]byte, error) {
	return os.ReadFile(m.path(name))
}

func (m *FileMarkers) Stat(name string) (time.Time, error) {
	info, err := os.Stat(m.path(name))
	if err != nil {
		return time.Time{}, err
	}
	return info.ModTime(), nil
}

// CreateExclusive writes the content to a temp file and hard-links it into
// place. The link fails if the marker exists, so the content is complete the
// moment the marker becomes visible.
func (m *FileMarkers) CreateExclusive(name string, data []byte) error {
	tmp, err := m.writeTemp(name, data)
	if err != nil {
		return err
	}
	defer os.Remove(tmp)

	if err := os.Link(tmp, m.path(name)); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return ErrMarkerExists
		}
		return err
	}
	return nil
}

// Replace writes the content to a temp file and renames it over the marker.
func (m *FileMarkers) Replace(name string, data []byte) error {
	tmp, err := m.writeTemp(name, data)
	if err != nil {
		return err
	}
	if err := os.Rename(tmp, m.path(name)); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}

func (m *FileMarkers) Remove(name string) error {
	err := os.Remove(m.path(name))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

func (m *FileMarkers) writeTemp(name string, data []byte) (string, error) {
	f, err := os.CreateTemp(m.Dir, name+".*.tmp")
	if err != nil {
		return "", err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", err
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", err
	}
	return f.Name(), nil
}

// MemoryMarkers is an in-process MarkerStore, for hosting both halves of the
// protocol in one process.
type MemoryMarkers struct {
	mu      sync.Mutex
	markers map[string]memoryMarker
}

type memoryMarker struct {
	data    []byte
	modTime time.Time
}

// NewMemoryMarkers returns an empty in-process store.
func NewMemoryMarkers() *MemoryMarkers {
	return &MemoryMarkers{markers: make(map[string]memoryMarker)}
}

func (m *MemoryMarkers) Read(name string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mk, ok := m.markers[name]
	if !ok {
		return nil, &fs.PathError{Op: "read", Path: name, Err: fs.ErrNotExist}
	}
	return append([]byte(nil), mk.data...), nil
}

func (m *MemoryMarkers) Stat(name string) (time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mk, ok := m.markers[name]
	if !ok {
		return time.Time{}, &fs.PathError{Op: "stat", Path: name, Err: fs.ErrNotExist}
	}
	return mk.modTime, nil
}

func (m *MemoryMarkers) CreateExclusive(name string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.markers[name]; ok {
		return ErrMarkerExists
	}
	m.markers[name] = memoryMarker{data: append([]byte(nil), data...), modTime: time.Now()}
	return nil
}

func (m *MemoryMarkers) Replace(name string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.markers[name] = memoryMarker{data: append([]byte(nil), data...), modTime: time.Now()}
	return nil
}

func (m *MemoryMarkers) Remove(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.markers, name)
	return nil
}
