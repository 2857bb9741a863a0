package sentinel

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/grovetools/slidesync/config"
	apperrors "github.com/grovetools/slidesync/errors"
	"github.com/grovetools/slidesync/internal/metrics"
	"github.com/grovetools/slidesync/logging"
)

const (
	// DefaultOrphanAfter is how long a marker may go without progress before
	// a new request evicts it.
	DefaultOrphanAfter = 10 * time.Minute
	// DefaultGrace is how long the final progress record stays readable.
	DefaultGrace = 5 * time.Second
)

// Coordinator is the admission point for reprocessing jobs. The serving
// process uses RequestJob and Status; the ingest process uses Pending and
// Begin.
type Coordinator struct {
	markers     MarkerStore
	orphanAfter time.Duration
	grace       time.Duration
	heartbeat   time.Duration
	now         func() time.Time
	logger      *logrus.Entry

	// mu makes in-process requests exclusive; CreateExclusive covers the
	// other process.
	mu sync.Mutex
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithOrphanAfter sets the age at which stale markers are evicted. Zero
// disables eviction.
func WithOrphanAfter(d time.Duration) Option {
	return func(c *Coordinator) { c.orphanAfter = d }
}

// WithGrace sets how long a finished job's progress remains.
func WithGrace(d time.Duration) Option {
	return func(c *Coordinator) { c.grace = d }
}

// WithHeartbeat sets how often a running job refreshes its progress
// timestamp while no file completes. It defaults to a third of the orphan
// threshold.
func WithHeartbeat(d time.Duration) Option {
	return func(c *Coordinator) { c.heartbeat = d }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// WithLogger overrides the coordinator's logger.
func WithLogger(l *logrus.Entry) Option {
	return func(c *Coordinator) { c.logger = l }
}

// New creates a Coordinator over markers.
func New(markers MarkerStore, opts ...Option) *Coordinator {
	c := &Coordinator{
		markers:     markers,
		orphanAfter: DefaultOrphanAfter,
		grace:       DefaultGrace,
		now:         time.Now,
		logger:      logging.NewLogger("sentinel"),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.heartbeat == 0 && c.orphanAfter > 0 {
		c.heartbeat = c.orphanAfter / 3
	}
	return c
}

// RequestJob creates the trigger marker. It fails with JOB_CONFLICT when a
// job is already requested or running; no second job is queued.
func (c *Coordinator) RequestJob(ctx context.Context, reason string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	c.evictOrphans()

	if _, err := c.markers.Stat(ProgressMarker); err == nil {
		metrics.JobsRequested.WithLabelValues("conflict").Inc()
		return apperrors.JobConflict(ProgressMarker)
	} else if !isNotExist(err) {
		return apperrors.TransientIO("stat", ProgressMarker, err)
	}

	data, err := json.Marshal(Trigger{
		Version:     ProtocolVersion,
		RequestedAt: millis(c.now()),
		Reason:      reason,
	})
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeInternal, "encode trigger")
	}

	if err := c.markers.CreateExclusive(TriggerMarker, data); err != nil {
		if errors.Is(err, ErrMarkerExists) {
			metrics.JobsRequested.WithLabelValues("conflict").Inc()
			return apperrors.JobConflict(TriggerMarker)
		}
		return apperrors.TransientIO("create", TriggerMarker, err)
	}

	metrics.JobsRequested.WithLabelValues("accepted").Inc()
	c.logger.WithField("reason", reason).Info("Reprocessing requested")
	return nil
}

// Status reports the current job. A missing progress marker is always
// inactive, even if an orphaned trigger remains. A progress marker that
// cannot be parsed is reported inactive with a warning.
func (c *Coordinator) Status(ctx context.Context) Status {
	data, err := c.markers.Read(ProgressMarker)
	if err != nil {
		if !isNotExist(err) {
			c.logger.WithError(err).Warn("Failed to read progress marker")
			return Status{Warning: apperrors.TransientIO("read", ProgressMarker, err).Error()}
		}
		_, terr := c.markers.Stat(TriggerMarker)
		return Status{Requested: terr == nil}
	}

	p, err := decodeProgress(data)
	if err != nil {
		corrupt := apperrors.CorruptState(ProgressMarker, err)
		metrics.MarkerWarnings.WithLabelValues("corrupt").Inc()
		c.logger.WithError(err).Warn("Progress marker is corrupt; clear it to recover")
		return Status{Warning: corrupt.Error()}
	}
	return Status{Active: true, Progress: &p}
}

// Pending returns the trigger if one is present. An unparseable trigger is
// still a request; its content is advisory.
func (c *Coordinator) Pending(ctx context.Context) (Trigger, bool, error) {
	data, err := c.markers.Read(TriggerMarker)
	if err != nil {
		if isNotExist(err) {
			return Trigger{}, false, nil
		}
		return Trigger{}, false, apperrors.TransientIO("read", TriggerMarker, err)
	}
	t, err := decodeTrigger(data)
	if err != nil {
		c.logger.WithError(err).Debug("Trigger content unreadable, treating as a plain request")
		return Trigger{}, true, nil
	}
	return t, true, nil
}

// Clear removes both markers. It is the operator's recovery path for a job
// whose ingest process died.
func (c *Coordinator) Clear(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.markers.Remove(TriggerMarker); err != nil {
		return apperrors.TransientIO("remove", TriggerMarker, err)
	}
	if err := c.markers.Remove(ProgressMarker); err != nil {
		return apperrors.TransientIO("remove", ProgressMarker, err)
	}
	c.logger.Warn("Reprocessing markers cleared")
	return nil
}

// evictOrphans removes markers whose job has made no progress for
// orphanAfter. Callers hold c.mu.
func (c *Coordinator) evictOrphans() {
	if c.orphanAfter <= 0 {
		return
	}
	now := c.now()

	if data, err := c.markers.Read(ProgressMarker); err == nil {
		var last time.Time
		if p, err := decodeProgress(data); err == nil {
			last = fromMillis(p.Timestamp)
		} else if mod, err := c.markers.Stat(ProgressMarker); err == nil {
			last = mod
		}
		if !last.IsZero() && now.Sub(last) > c.orphanAfter {
			c.logger.WithField("age", now.Sub(last).Round(time.Second)).
				Warn("Evicting orphaned progress marker")
			metrics.MarkerWarnings.WithLabelValues("orphan").Inc()
			_ = c.markers.Remove(TriggerMarker)
			_ = c.markers.Remove(ProgressMarker)
		}
		return
	}

	data, err := c.markers.Read(TriggerMarker)
	if err != nil {
		return
	}
	var requested time.Time
	if t, err := decodeTrigger(data); err == nil && t.RequestedAt > 0 {
		requested = fromMillis(t.RequestedAt)
	} else if mod, err := c.markers.Stat(TriggerMarker); err == nil {
		requested = mod
	}
	if !requested.IsZero() && now.Sub(requested) > c.orphanAfter {
		c.logger.WithField("age", now.Sub(requested).Round(time.Second)).
			Warn("Evicting orphaned trigger marker")
		metrics.MarkerWarnings.WithLabelValues("orphan").Inc()
		_ = c.markers.Remove(TriggerMarker)
	}
}

func isNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}

// RequestOnGeometryChange requests a job when the output geometry changed,
// since every processed image must then be regenerated. It reports whether a
// job was requested; a job already in flight yields JOB_CONFLICT.
func (c *Coordinator) RequestOnGeometryChange(ctx context.Context, changes config.ChangeSet) (bool, error) {
	if !changes.OutputGeometryChanged {
		return false, nil
	}
	if err := c.RequestJob(ctx, "output geometry changed"); err != nil {
		return false, err
	}
	return true, nil
}
