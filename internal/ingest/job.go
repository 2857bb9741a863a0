package ingest

import (
	"context"
	"path/filepath"
	"runtime"
	"sort"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/grovetools/slidesync/config"
	"github.com/grovetools/slidesync/internal/metrics"
	"github.com/grovetools/slidesync/internal/sentinel"
)

func workerCount(snap *config.Snapshot) int {
	if n := snap.Preprocessing.Workers; n > 0 {
		return n
	}
	return runtime.GOMAXPROCS(0)
}

// Sources lists the files a reprocessing job regenerates: eligible files in
// the raw directory and, when configured, the archive. An archived file wins
// over a raw file of the same name.
func Sources(snap *config.Snapshot) ([]string, error) {
	filter, err := inputFilter(snap)
	if err != nil {
		return nil, err
	}
	byName := make(map[string]string)

	dirs := []string{snap.Resolve(snap.Preprocessing.RawImagePath)}
	if snap.Preprocessing.ArchivePath != "" {
		dirs = append(dirs, snap.Resolve(snap.Preprocessing.ArchivePath))
	}
	for _, dir := range dirs {
		names, err := filter.List(dir)
		if err != nil {
			// A missing archive just contributes nothing.
			continue
		}
		for _, name := range names {
			byName[name] = filepath.Join(dir, name)
		}
	}

	out := make([]string, 0, len(byName))
	for _, p := range byName {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		return filepath.Base(out[i]) < filepath.Base(out[j])
	})
	return out, nil
}

// Reprocess runs one job over every source with the current settings. A
// failing file is recorded and the job continues. Originals are never moved
// or deleted. If ctx is canceled the job is left unfinished, so its trigger
// is picked up again on the next start.
func (w *Watcher) Reprocess(ctx context.Context, reason string) (sentinel.Progress, error) {
	// The request usually follows a config write; read it before choosing geometry.
	if _, _, err := w.config.Reload(); err != nil {
		w.logger.WithError(err).Warn("Config reload before reprocessing failed, using current config")
	}
	snap := w.config.Read()
	sources, err := Sources(snap)
	if err != nil {
		return sentinel.Progress{}, err
	}

	job, err := w.jobs.Begin(ctx, len(sources))
	if err != nil {
		return sentinel.Progress{}, err
	}
	w.logger.WithFields(logrus.Fields{
		"files":  len(sources),
		"reason": reason,
		"width":  snap.Preprocessing.TargetWidth,
		"height": snap.Preprocessing.TargetHeight,
	}).Info("Reprocessing all sources")

	var g errgroup.Group
	g.SetLimit(workerCount(snap))
	for _, src := range sources {
		g.Go(func() error {
			_, err := w.transcode(ctx, snap, src)
			result := "ok"
			if err != nil {
				result = "failed"
			}
			metrics.FilesProcessed.WithLabelValues("reprocess", result).Inc()
			return job.Record(filepath.Base(src), err)
		})
	}
	if err := g.Wait(); err != nil {
		w.logger.WithError(err).Warn("Progress could not be recorded for every file")
	}

	if err := ctx.Err(); err != nil {
		return job.Progress(), err
	}
	final := job.Progress()
	if err := job.Finish(ctx); err != nil {
		return final, err
	}
	return final, nil
}
