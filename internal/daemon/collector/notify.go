package collector

import (
	"context"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"

	"github.com/grovetools/slidesync/logging"
)

// NotifyCollector watches a directory with OS notifications.
type NotifyCollector struct {
	name    string
	dir     string
	watcher *fsnotify.Watcher
	logger  *logrus.Entry
}

// NewNotifyCollector starts watching dir.
func NewNotifyCollector(name, dir string) (*NotifyCollector, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, err
	}
	return &NotifyCollector{
		name:    name,
		dir:     dir,
		watcher: watcher,
		logger:  logging.NewLogger("collector").WithField("collector", name),
	}, nil
}

// Name returns the collector's name.
func (c *NotifyCollector) Name() string { return c.name }

// Run translates fsnotify events. Writes and chmods are not reported;
// renames out of the directory count as removals.
func (c *NotifyCollector) Run(ctx context.Context, events chan<- FileEvent) error {
	defer c.watcher.Close()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-c.watcher.Events:
			if !ok {
				return nil
			}
			c.logger.Debugf("fsnotify event: %s op=%v", event.Name, event.Op)

			var fe FileEvent
			switch {
			case event.Op&fsnotify.Create != 0:
				info, err := os.Stat(event.Name)
				if err != nil || !info.Mode().IsRegular() {
					continue
				}
				fe = FileEvent{Op: Added, Name: filepath.Base(event.Name), Path: event.Name}
			case event.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
				fe = FileEvent{Op: Removed, Name: filepath.Base(event.Name), Path: event.Name}
			default:
				continue
			}

			select {
			case events <- fe:
			case <-ctx.Done():
				return nil
			}
		case err, ok := <-c.watcher.Errors:
			if !ok {
				return nil
			}
			c.logger.Errorf("Watcher error: %v", err)
		}
	}
}
