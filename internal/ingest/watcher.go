// Package ingest is the ingest process: it turns raw uploads into served
// images and runs reprocessing jobs requested through the sentinel markers.
package ingest

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/grovetools/slidesync/config"
	apperrors "github.com/grovetools/slidesync/errors"
	"github.com/grovetools/slidesync/internal/daemon/collector"
	"github.com/grovetools/slidesync/internal/metrics"
	"github.com/grovetools/slidesync/internal/sentinel"
	"github.com/grovetools/slidesync/logging"
)

// Defaults for the upload stability check and trigger polling.
const (
	DefaultStableFor   = 2 * time.Second
	DefaultStablePoll  = 100 * time.Millisecond
	DefaultTriggerPoll = time.Second
)

// OutputExt is the extension of every served image.
const OutputExt = ".webp"

// ConfigSource yields the current configuration. Reload re-reads the
// backing file so a job sees settings written by the other process before
// its debounced watch fires.
type ConfigSource interface {
	Read() *config.Snapshot
	Reload() (config.ChangeSet, bool, error)
}

// Watcher watches the raw directory and the job trigger.
type Watcher struct {
	config     ConfigSource
	jobs       *sentinel.Coordinator
	transcoder Transcoder
	logger     *logrus.Entry

	stableFor   time.Duration
	stablePoll  time.Duration
	triggerPoll time.Duration

	mu       sync.Mutex
	inflight map[string]struct{}
	running  atomic.Bool
	wg       sync.WaitGroup
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithStability sets how long an upload must stay unchanged before it is
// ingested, and how often it is checked.
func WithStability(threshold, poll time.Duration) Option {
	return func(w *Watcher) {
		w.stableFor = threshold
		w.stablePoll = poll
	}
}

// WithTriggerPoll sets how often the trigger marker is checked.
func WithTriggerPoll(d time.Duration) Option {
	return func(w *Watcher) { w.triggerPoll = d }
}

// WithLogger overrides the watcher's logger.
func WithLogger(l *logrus.Entry) Option {
	return func(w *Watcher) { w.logger = l }
}

// New creates a Watcher.
func New(cfg ConfigSource, jobs *sentinel.Coordinator, t Transcoder, opts ...Option) *Watcher {
	w := &Watcher{
		config:      cfg,
		jobs:        jobs,
		transcoder:  t,
		logger:      logging.NewLogger("ingest"),
		stableFor:   DefaultStableFor,
		stablePoll:  DefaultStablePoll,
		triggerPoll: DefaultTriggerPoll,
		inflight:    make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run processes uploads and job requests until ctx is canceled. Files already
// waiting in the raw directory and a trigger left from before startup are
// picked up immediately. With preprocessing disabled it returns at once.
func (w *Watcher) Run(ctx context.Context) error {
	snap := w.config.Read()
	if !snap.Preprocessing.Enabled {
		w.logger.Warn("Preprocessing is disabled in config, nothing to do")
		return nil
	}

	rawDir := snap.Resolve(snap.Preprocessing.RawImagePath)
	outDir := snap.Resolve(snap.Preprocessing.ProcessedImagePath)
	for _, dir := range []string{rawDir, outDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return apperrors.TransientIO("create dir", dir, err)
		}
	}

	col, err := collector.New("raw", rawDir, collector.Options{
		UsePolling: snap.Watch.UsePolling,
		Interval:   snap.PollDuration(),
	})
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeTransientIO, "cannot watch raw directory").
			WithDetail("path", rawDir)
	}
	filter, err := inputFilter(snap)
	if err != nil {
		return err
	}

	sem := semaphore.NewWeighted(int64(workerCount(snap)))
	events := make(chan collector.FileEvent, 100)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return col.Run(gctx, events)
	})
	defer func() {
		w.wg.Wait()
		_ = g.Wait()
	}()

	w.logger.WithFields(logrus.Fields{
		"raw":       rawDir,
		"processed": outDir,
	}).Info("Watching for uploads")

	existing, err := filter.List(rawDir)
	if err != nil {
		w.logger.WithError(err).Warn("Initial scan of raw directory failed")
	}
	for _, name := range existing {
		w.schedule(gctx, sem, filepath.Join(rawDir, name))
	}
	w.checkTrigger(gctx)

	ticker := time.NewTicker(w.triggerPoll)
	defer ticker.Stop()

	for {
		select {
		case <-gctx.Done():
			return g.Wait()
		case fe := <-events:
			if fe.Op != collector.Added {
				continue
			}
			if filter.Ignored(fe.Name) {
				continue
			}
			if !filter.AllowedExtension(fe.Name) {
				w.logger.WithField("file", fe.Name).Warn("Unsupported file type, skipping")
				continue
			}
			w.schedule(gctx, sem, fe.Path)
		case <-ticker.C:
			w.checkTrigger(gctx)
		}
	}
}

// schedule ingests path once it is stable. A path already queued is ignored.
func (w *Watcher) schedule(ctx context.Context, sem *semaphore.Weighted, path string) {
	w.mu.Lock()
	if _, ok := w.inflight[path]; ok {
		w.mu.Unlock()
		return
	}
	w.inflight[path] = struct{}{}
	w.mu.Unlock()

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer func() {
			w.mu.Lock()
			delete(w.inflight, path)
			w.mu.Unlock()
		}()

		if err := WaitStable(ctx, path, w.stableFor, w.stablePoll); err != nil {
			if ctx.Err() == nil {
				w.logger.WithField("file", filepath.Base(path)).WithError(err).Debug("Upload vanished before it settled")
			}
			return
		}
		if err := sem.Acquire(ctx, 1); err != nil {
			return
		}
		defer sem.Release(1)
		_ = w.Ingest(ctx, path)
	}()
}

// Ingest transcodes one fresh upload and applies the originals policy. A
// failed transcode leaves the source in place.
func (w *Watcher) Ingest(ctx context.Context, src string) error {
	snap := w.config.Read()
	log := w.logger.WithField("file", filepath.Base(src))

	out, err := w.transcode(ctx, snap, src)
	if err != nil {
		metrics.FilesProcessed.WithLabelValues("ingest", "failed").Inc()
		log.WithError(err).Error("Failed to process upload")
		return err
	}
	metrics.FilesProcessed.WithLabelValues("ingest", "ok").Inc()

	disposition, err := disposeOriginal(snap, src)
	if err != nil {
		log.WithError(err).Warn("Processed, but the original could not be disposed of")
		return nil
	}
	log.WithFields(logrus.Fields{
		"output":   filepath.Base(out),
		"original": disposition,
	}).Info("Processed upload")
	return nil
}

// transcode writes the served image for src. The output is produced under a
// hidden name and renamed into place, so the served directory sees one add.
func (w *Watcher) transcode(ctx context.Context, snap *config.Snapshot, src string) (string, error) {
	outDir := snap.Resolve(snap.Preprocessing.ProcessedImagePath)
	base := strings.TrimSuffix(filepath.Base(src), filepath.Ext(src))
	final := filepath.Join(outDir, base+OutputExt)
	tmp := filepath.Join(outDir, "."+base+".tmp"+OutputExt)

	timer := metrics.NewTimer(metrics.TranscodeDuration)
	err := w.transcoder.Transcode(ctx, Request{
		Input:   src,
		Output:  tmp,
		Width:   snap.Preprocessing.TargetWidth,
		Height:  snap.Preprocessing.TargetHeight,
		Quality: snap.Preprocessing.Quality,
	})
	timer.ObserveDuration()
	if err != nil {
		_ = os.Remove(tmp)
		return "", err
	}
	if err := os.Rename(tmp, final); err != nil {
		_ = os.Remove(tmp)
		return "", apperrors.TransientIO("rename", final, err)
	}
	return final, nil
}

// checkTrigger starts a job when one is requested and none is running here.
func (w *Watcher) checkTrigger(ctx context.Context) {
	if w.running.Load() {
		return
	}
	trig, ok, err := w.jobs.Pending(ctx)
	if err != nil {
		w.logger.WithError(err).Warn("Failed to check for reprocessing requests")
		return
	}
	if !ok || !w.running.CompareAndSwap(false, true) {
		return
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer w.running.Store(false)
		if _, err := w.Reprocess(ctx, trig.Reason); err != nil && ctx.Err() == nil {
			w.logger.WithError(err).Error("Reprocessing failed")
		}
	}()
}

func inputFilter(snap *config.Snapshot) (*collector.Filter, error) {
	f, err := collector.NewFilter(snap.Preprocessing.InputExtensions, snap.IgnorePatterns)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeConfigInvalid, "invalid ignore patterns")
	}
	return f, nil
}
