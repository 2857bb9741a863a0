// Package config owns the runtime configuration shared by the serving and
// ingest processes: the on-disk JSON document, its typed view, validation,
// change classification, and reload-on-change.
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/mitchellh/mapstructure"
)

// Config is the typed view of the configuration document.
type Config struct {
	SlideshowInterval int                 `json:"slideshowInterval" jsonschema:"description=Milliseconds each image is shown"`
	ImagePath         string              `json:"imagePath" jsonschema:"description=Directory of images served to viewers"`
	ImageExtensions   []string            `json:"imageExtensions" jsonschema:"description=Allowed extensions of served images (with leading dot)"`
	RandomOrder       bool                `json:"randomOrder"`
	ReshuffleInterval int                 `json:"reshuffleInterval" jsonschema:"description=Milliseconds between batched reshuffles; 0 broadcasts every change immediately"`
	Port              int                 `json:"port"`
	StaticPath        string              `json:"staticPath"`
	StateDir          string              `json:"stateDir" jsonschema:"description=Directory holding the reprocessing markers and pid files"`
	IgnorePatterns    []string            `json:"ignorePatterns" jsonschema:"description=File name patterns skipped by watchers and scans"`
	Watch             WatchConfig         `json:"watch"`
	Preprocessing     PreprocessingConfig `json:"preprocessing"`
	HTTPS             HTTPSConfig         `json:"https"`
	Admin             AdminConfig         `json:"admin"`
}

// WatchConfig selects how directories are observed.
type WatchConfig struct {
	UsePolling bool `json:"usePolling"`
	Interval   int  `json:"interval" jsonschema:"description=Polling interval in milliseconds"`
}

// PreprocessingConfig drives the ingest process.
type PreprocessingConfig struct {
	RawImagePath       string   `json:"rawImagePath"`
	ProcessedImagePath string   `json:"processedImagePath"`
	Quality            int      `json:"quality"`
	TargetWidth        int      `json:"targetWidth"`
	TargetHeight       int      `json:"targetHeight"`
	InputExtensions    []string `json:"inputExtensions"`
	Enabled            bool     `json:"enabled"`
	KeepOriginals      bool     `json:"keepOriginals"`
	ArchivePath        string   `json:"archivePath"`
	Workers            int      `json:"workers" jsonschema:"description=Concurrent transcodes during a reprocessing job"`
	Command            []string `json:"command" jsonschema:"description=Transcode argv; each element is a template over Input Output Width Height Quality"`
}

// HTTPSConfig enables TLS on the serving process.
type HTTPSConfig struct {
	Enabled bool   `json:"enabled"`
	Cert    string `json:"cert"`
	Key     string `json:"key"`
}

// AdminConfig restricts the admin surface.
type AdminConfig struct {
	AllowedIPs []string `json:"allowedIPs"`
}

// Snapshot is an immutable configuration value. The embedded Config must not
// be modified by callers.
type Snapshot struct {
	Config

	doc      map[string]interface{}
	raw      []byte
	baseDir  string
	LoadedAt time.Time
}

// newSnapshot decodes doc and renders its canonical bytes.
func newSnapshot(doc map[string]interface{}, baseDir string) (*Snapshot, error) {
	cfg, err := decode(doc)
	if err != nil {
		return nil, err
	}
	raw, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	return &Snapshot{
		Config:   cfg,
		doc:      doc,
		raw:      append(raw, '\n'),
		baseDir:  baseDir,
		LoadedAt: time.Now(),
	}, nil
}

// Bytes returns the canonical JSON encoding of the full document.
func (s *Snapshot) Bytes() []byte {
	return bytes.Clone(s.raw)
}

// Document returns a deep copy of the full document, including keys the
// typed Config does not know about.
func (s *Snapshot) Document() map[string]interface{} {
	return deepCopy(s.doc)
}

// Equal reports whether both snapshots encode the same document.
func (s *Snapshot) Equal(other *Snapshot) bool {
	if s == nil || other == nil {
		return s == other
	}
	return bytes.Equal(s.raw, other.raw)
}

// Resolve makes p absolute relative to the directory of the config file.
func (s *Snapshot) Resolve(p string) string {
	if p == "" || filepath.IsAbs(p) || s.baseDir == "" {
		return p
	}
	return filepath.Join(s.baseDir, p)
}

// SlideshowDuration is SlideshowInterval as a duration.
func (s *Snapshot) SlideshowDuration() time.Duration {
	return time.Duration(s.SlideshowInterval) * time.Millisecond
}

// ReshuffleDuration is ReshuffleInterval as a duration; zero disables batching.
func (s *Snapshot) ReshuffleDuration() time.Duration {
	return time.Duration(s.ReshuffleInterval) * time.Millisecond
}

// PollDuration is the directory polling interval.
func (s *Snapshot) PollDuration() time.Duration {
	if s.Watch.Interval <= 0 {
		return time.Second
	}
	return time.Duration(s.Watch.Interval) * time.Millisecond
}

// decode converts a generic document into the typed Config.
func decode(doc map[string]interface{}) (Config, error) {
	var cfg Config
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:  &cfg,
		TagName: "json",
	})
	if err != nil {
		return cfg, fmt.Errorf("failed to create mapstructure decoder: %w", err)
	}
	if err := decoder.Decode(doc); err != nil {
		return cfg, fmt.Errorf("failed to decode config: %w", err)
	}
	return cfg, nil
}
