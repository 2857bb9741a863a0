// Package engine reconciles filesystem events for the served image directory
// into the events viewers receive.
package engine

import (
	"context"
	"math/rand/v2"
	"slices"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/grovetools/slidesync/config"
	"github.com/grovetools/slidesync/internal/daemon/collector"
	"github.com/grovetools/slidesync/internal/daemon/hub"
	"github.com/grovetools/slidesync/internal/metrics"
)

// Broadcaster receives the events the engine produces.
type Broadcaster interface {
	Broadcast(hub.Event)
}

// Engine owns the live image set and the pending batch. Both are only
// mutated from the run loop, which is also the only place events are
// broadcast, so every event is produced in one order.
type Engine struct {
	out        Broadcaster
	collectors []collector.Collector
	logger     *logrus.Entry
	rand       *rand.Rand

	mu     sync.RWMutex
	images []string

	// Loop-owned state.
	live     map[string]struct{}
	batch    *Batch
	filter   *collector.Filter
	snap     *config.Snapshot
	dir      string
	interval time.Duration
	ticker   *time.Ticker

	reconfigure chan *config.Snapshot
	stopped     chan struct{}
}

// Option configures an Engine.
type Option func(*Engine)

// WithRand fixes the shuffle source.
func WithRand(r *rand.Rand) Option {
	return func(e *Engine) { e.rand = r }
}

// New creates an Engine for the served directory named by snap.
func New(out Broadcaster, snap *config.Snapshot, logger *logrus.Entry, opts ...Option) (*Engine, error) {
	filter, err := FilterFor(snap)
	if err != nil {
		return nil, err
	}
	e := &Engine{
		out:         out,
		logger:      logger,
		live:        make(map[string]struct{}),
		batch:       NewBatch(),
		filter:      filter,
		snap:        snap,
		dir:         snap.Resolve(snap.ImagePath),
		interval:    snap.ReshuffleDuration(),
		reconfigure: make(chan *config.Snapshot, 16),
		stopped:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Dir is the served directory.
func (e *Engine) Dir() string {
	return e.dir
}

// Register adds a collector to the engine.
func (e *Engine) Register(c collector.Collector) {
	e.collectors = append(e.collectors, c)
}

// Images returns a copy of the live set in its current order.
func (e *Engine) Images() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]string(nil), e.images...)
}

// Reconfigure hands a new snapshot to the run loop. Changes take effect in
// order with file events and ticks.
func (e *Engine) Reconfigure(snap *config.Snapshot) {
	select {
	case e.reconfigure <- snap:
	case <-e.stopped:
	}
}

// Seed replaces the live set with a scan of the served directory.
func (e *Engine) Seed() error {
	images, err := Scan(e.dir, e.filter)
	if err != nil {
		return err
	}
	if e.snap.RandomOrder {
		Shuffle(images, e.rand)
	}
	e.setImages(images)
	e.logger.WithField("count", len(images)).Info("Image set seeded")
	return nil
}

// Run starts the collectors, seeds the live set and processes events until
// ctx is canceled.
func (e *Engine) Run(ctx context.Context) error {
	defer close(e.stopped)

	events := make(chan collector.FileEvent, 100)
	var wg sync.WaitGroup
	defer wg.Wait()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	for _, c := range e.collectors {
		wg.Add(1)
		go func(col collector.Collector) {
			defer wg.Done()
			e.logger.WithField("collector", col.Name()).Info("Starting collector")
			if err := col.Run(ctx, events); err != nil {
				e.logger.WithField("collector", col.Name()).WithError(err).Error("Collector failed")
			}
		}(c)
	}

	if err := e.Seed(); err != nil {
		// The directory may appear later; events will fill the set.
		e.logger.WithError(err).Warn("Initial scan failed")
	}

	e.resetTicker()
	defer e.stopTicker()

	for {
		select {
		case <-ctx.Done():
			return nil
		case fe := <-events:
			e.handle(fe)
		case <-e.tick():
			e.flush(false)
		case snap := <-e.reconfigure:
			e.apply(snap)
		}
	}
}

// handle processes one file event.
func (e *Engine) handle(fe collector.FileEvent) {
	if !e.filter.Match(fe.Name) {
		return
	}
	_, live := e.live[fe.Name]

	if e.interval > 0 {
		switch fe.Op {
		case collector.Added:
			e.batch.Add(fe.Name, live)
		case collector.Removed:
			e.batch.Remove(fe.Name, live)
		}
		metrics.PendingChanges.Set(float64(e.batch.Len()))
		return
	}

	// An add for a live name is a rewrite in place (a rename over the file),
	// and a remove for a name that is not live was never announced.
	switch fe.Op {
	case collector.Added:
		if live {
			e.logger.WithField("filename", fe.Name).Debug("Image replaced")
			return
		}
		e.setImages(append(e.Images(), fe.Name))
		e.out.Broadcast(hub.Added(fe.Name))
		e.logger.WithField("filename", fe.Name).Info("Image added")
	case collector.Removed:
		if !live {
			return
		}
		e.setImages(slices.DeleteFunc(e.Images(), func(s string) bool { return s == fe.Name }))
		e.out.Broadcast(hub.Removed(fe.Name))
		e.logger.WithField("filename", fe.Name).Info("Image removed")
	}
}

// flush applies the pending batch, shuffles if configured and broadcasts the
// full list. An empty batch only produces a reshuffle when the order is
// random, unless force is set.
func (e *Engine) flush(force bool) {
	if e.batch.Len() == 0 && !e.snap.RandomOrder && !force {
		return
	}
	timer := metrics.NewTimer(metrics.FlushDuration)

	images := e.batch.Apply(e.Images())
	e.batch.Reset()
	if e.snap.RandomOrder {
		Shuffle(images, e.rand)
	}
	e.setImages(images)
	metrics.PendingChanges.Set(0)

	e.out.Broadcast(hub.Reshuffled(images))
	e.logger.WithFields(logrus.Fields{
		"count":    len(images),
		"duration": timer.ObserveDuration(),
	}).Info("Reshuffle broadcast")
}

// apply moves the loop to a new snapshot.
func (e *Engine) apply(snap *config.Snapshot) {
	old := e.snap
	changes := config.Diff(old, snap)
	e.snap = snap

	if dir := snap.Resolve(snap.ImagePath); dir != e.dir {
		e.logger.WithFields(logrus.Fields{"from": e.dir, "to": dir}).
			Warn("imagePath changed; restart the server to watch the new directory")
	}

	if changes.ReshuffleChanged {
		next := snap.ReshuffleDuration()
		if next == 0 && e.batch.Len() > 0 {
			e.flush(true)
		}
		e.interval = next
		e.resetTicker()
		e.logger.WithField("interval", next).Info("Reshuffle interval updated")
	}

	if changes.ExtensionsChanged {
		filter, err := FilterFor(snap)
		if err != nil {
			e.logger.WithError(err).Error("Invalid filter in new config, keeping previous")
		} else {
			e.filter = filter
			e.batch.Reset()
			if err := e.Seed(); err != nil {
				e.logger.WithError(err).Warn("Rescan failed")
			} else {
				e.out.Broadcast(hub.Reshuffled(e.Images()))
			}
		}
	}

	if changes.IntervalChanged || changes.OrderingChanged {
		var payload hub.ConfigPayload
		if changes.IntervalChanged {
			v := snap.SlideshowInterval
			payload.SlideshowInterval = &v
			e.logger.WithFields(logrus.Fields{
				"from": old.SlideshowInterval,
				"to":   v,
			}).Info("Slideshow interval updated")
		}
		if changes.OrderingChanged {
			v := snap.RandomOrder
			payload.RandomOrder = &v
		}
		e.out.Broadcast(hub.ConfigUpdated(payload))
	}
}

func (e *Engine) setImages(images []string) {
	live := make(map[string]struct{}, len(images))
	for _, name := range images {
		live[name] = struct{}{}
	}
	e.mu.Lock()
	e.images = images
	e.mu.Unlock()
	e.live = live
	metrics.Images.Set(float64(len(images)))
}

func (e *Engine) tick() <-chan time.Time {
	if e.ticker == nil {
		return nil
	}
	return e.ticker.C
}

func (e *Engine) resetTicker() {
	e.stopTicker()
	if e.interval > 0 {
		e.ticker = time.NewTicker(e.interval)
	}
}

func (e *Engine) stopTicker() {
	if e.ticker != nil {
		e.ticker.Stop()
		e.ticker = nil
	}
}
