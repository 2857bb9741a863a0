package collector

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/moby/patternmatcher"
)

// Filter decides which file names are eligible: the extension must be in the
// allow-list (case-insensitive) and the name must not match an ignore pattern.
type Filter struct {
	extensions map[string]struct{}
	ignore     *patternmatcher.PatternMatcher
}

// NewFilter builds a filter. An empty extension list allows every extension.
func NewFilter(extensions, ignorePatterns []string) (*Filter, error) {
	f := &Filter{extensions: make(map[string]struct{}, len(extensions))}
	for _, ext := range extensions {
		f.extensions[strings.ToLower(ext)] = struct{}{}
	}
	if len(ignorePatterns) > 0 {
		pm, err := patternmatcher.New(ignorePatterns)
		if err != nil {
			return nil, err
		}
		f.ignore = pm
	}
	return f, nil
}

// Match reports whether name is eligible.
func (f *Filter) Match(name string) bool {
	return f.AllowedExtension(name) && !f.Ignored(name)
}

// AllowedExtension checks only the extension allow-list.
func (f *Filter) AllowedExtension(name string) bool {
	if len(f.extensions) == 0 {
		return true
	}
	_, ok := f.extensions[strings.ToLower(filepath.Ext(name))]
	return ok
}

// Ignored checks only the ignore patterns.
func (f *Filter) Ignored(name string) bool {
	if f.ignore == nil {
		return false
	}
	ignored, err := f.ignore.MatchesOrParentMatches(filepath.Base(name))
	return err == nil && ignored
}

// List returns the eligible regular files in dir, sorted by name.
func (f *Filter) List(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if e.Type().IsRegular() && f.Match(e.Name()) {
			out = append(out, e.Name())
		}
	}
	sort.Strings(out)
	return out, nil
}
