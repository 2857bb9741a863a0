package config

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watch observes the config file for edits by other processes and reloads it
// once a burst of events has been quiet for the debounce interval. The
// directory is watched rather than the file because an atomic rename
// replaces the inode. Watch blocks until ctx is cancelled.
func (s *Store) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	dir, base := filepath.Dir(s.path), filepath.Base(s.path)
	if err := watcher.Add(dir); err != nil {
		return err
	}
	s.logger.WithField("path", s.path).Debug("Watching config file")

	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(event.Name) != base {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			s.logger.Debugf("fsnotify event: %s op=%v", event.Name, event.Op)
			timer.Reset(s.debounce)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.logger.Errorf("Watcher error: %v", err)
		case <-timer.C:
			// Errors are reported through OnReloadError.
			_, _, _ = s.Reload()
		}
	}
}
