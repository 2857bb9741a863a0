package collector

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/grovetools/slidesync/logging"
)

// PollCollector watches a directory by listing it on an interval, for
// filesystems where notifications are unreliable (network mounts, some
// container volumes).
type PollCollector struct {
	name     string
	dir      string
	interval time.Duration
	known    map[string]struct{}
	logger   *logrus.Entry
}

// NewPollCollector takes the initial listing of dir. Files already present
// are not reported.
func NewPollCollector(name, dir string, interval time.Duration) (*PollCollector, error) {
	if interval <= 0 {
		interval = time.Second
	}
	c := &PollCollector{
		name:     name,
		dir:      dir,
		interval: interval,
		logger:   logging.NewLogger("collector").WithField("collector", name),
	}
	known, err := c.list()
	if err != nil {
		return nil, err
	}
	c.known = known
	return c, nil
}

// Name returns the collector's name.
func (c *PollCollector) Name() string { return c.name }

// Run starts the polling loop.
func (c *PollCollector) Run(ctx context.Context, events chan<- FileEvent) error {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			current, err := c.list()
			if err != nil {
				// A failed listing is skipped; the next tick retries.
				c.logger.WithError(err).Warn("Failed to list directory")
				continue
			}
			for _, fe := range c.diff(current) {
				select {
				case events <- fe:
				case <-ctx.Done():
					return nil
				}
			}
			c.known = current
		}
	}
}

// diff returns removals then additions, each sorted by name.
func (c *PollCollector) diff(current map[string]struct{}) []FileEvent {
	var removed, added []string
	for name := range c.known {
		if _, ok := current[name]; !ok {
			removed = append(removed, name)
		}
	}
	for name := range current {
		if _, ok := c.known[name]; !ok {
			added = append(added, name)
		}
	}
	sort.Strings(removed)
	sort.Strings(added)

	out := make([]FileEvent, 0, len(removed)+len(added))
	for _, name := range removed {
		out = append(out, FileEvent{Op: Removed, Name: name, Path: filepath.Join(c.dir, name)})
	}
	for _, name := range added {
		out = append(out, FileEvent{Op: Added, Name: name, Path: filepath.Join(c.dir, name)})
	}
	return out
}

func (c *PollCollector) list() (map[string]struct{}, error) {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return nil, err
	}
	out := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		if e.Type().IsRegular() {
			out[e.Name()] = struct{}{}
		}
	}
	return out, nil
}
