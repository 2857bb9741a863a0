package ingest

import (
	"context"
	"os"
	"time"

	apperrors "github.com/grovetools/slidesync/errors"
)

// WaitStable blocks until the file at path has kept the same size and
// modification time for threshold, checking every poll. It returns early if
// ctx is canceled or the file disappears.
func WaitStable(ctx context.Context, path string, threshold, poll time.Duration) error {
	info, err := os.Stat(path)
	if err != nil {
		return apperrors.TransientIO("stat", path, err)
	}
	lastSize, lastMod := info.Size(), info.ModTime()
	stableSince := time.Now()

	ticker := time.NewTicker(poll)
	defer ticker.Stop()
	for {
		if time.Since(stableSince) >= threshold {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		info, err := os.Stat(path)
		if err != nil {
			return apperrors.TransientIO("stat", path, err)
		}
		if info.Size() != lastSize || !info.ModTime().Equal(lastMod) {
			lastSize, lastMod = info.Size(), info.ModTime()
			stableSince = time.Now()
		}
	}
}
