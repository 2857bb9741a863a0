package sentinel

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	apperrors "github.com/grovetools/slidesync/errors"
)

// Job is the write half of the protocol, held by the ingest process while it
// works through a requested batch. Record is safe for concurrent use.
type Job struct {
	markers MarkerStore
	grace   time.Duration
	now     func() time.Time
	logger  *logrus.Entry

	mu       sync.Mutex
	progress Progress
	finished bool
	stop     chan struct{}
}

// Begin starts a job over total files and writes the initial progress record.
// An existing progress record, left by an earlier run, is overwritten.
func (c *Coordinator) Begin(ctx context.Context, total int) (*Job, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	now := millis(c.now())
	j := &Job{
		markers: c.markers,
		grace:   c.grace,
		now:     c.now,
		logger:  c.logger.WithField("job_total", total),
		progress: Progress{
			Version:   ProtocolVersion,
			Total:     total,
			Timestamp: now,
			StartedAt: now,
		},
	}
	if err := j.writeLocked(); err != nil {
		return nil, err
	}
	j.stop = make(chan struct{})
	if c.heartbeat > 0 {
		go j.keepAlive(ctx, c.heartbeat)
	}
	j.logger.Info("Reprocessing started")
	return j, nil
}

// keepAlive refreshes the progress timestamp so a slow file does not make
// the job look orphaned. It stops when the job finishes or ctx ends.
func (j *Job) keepAlive(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-j.stop:
			return
		case <-ticker.C:
		}
		j.mu.Lock()
		if j.finished {
			j.mu.Unlock()
			return
		}
		j.progress.Timestamp = millis(j.now())
		err := j.writeLocked()
		j.mu.Unlock()
		if err != nil {
			j.logger.WithError(err).Warn("Failed to refresh progress timestamp")
		}
	}
}

// Record counts one processed file and durably rewrites the progress record.
// A nil err counts as completed; anything else as failed with its reason.
// The returned error only concerns writing the record.
func (j *Job) Record(file string, err error) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.finished || j.progress.Processed() >= j.progress.Total {
		return apperrors.New(apperrors.ErrCodeInternal, "progress recorded beyond job total").
			WithDetail("file", file)
	}

	if err != nil {
		j.progress.Failed++
		if len(j.progress.Failures) < maxFailures {
			j.progress.Failures = append(j.progress.Failures, Failure{File: file, Reason: err.Error()})
		}
		j.logger.WithField("file", file).WithError(err).Warn("File failed, continuing")
	} else {
		j.progress.Completed++
	}
	j.progress.Timestamp = millis(j.now())
	return j.writeLocked()
}

// Progress returns a copy of the current record.
func (j *Job) Progress() Progress {
	j.mu.Lock()
	defer j.mu.Unlock()
	p := j.progress
	p.Failures = append([]Failure(nil), j.progress.Failures...)
	return p
}

// Finish marks the job done, removes the trigger at once and the progress
// record after the grace period. It blocks for the grace period; a cancelled
// ctx cuts the wait short and removes the record immediately.
func (j *Job) Finish(ctx context.Context) error {
	j.mu.Lock()
	if j.finished {
		j.mu.Unlock()
		return nil
	}
	j.finished = true
	close(j.stop)
	j.progress.FinishedAt = millis(j.now())
	j.progress.Timestamp = j.progress.FinishedAt
	writeErr := j.writeLocked()
	final := j.progress
	j.mu.Unlock()

	if err := j.markers.Remove(TriggerMarker); err != nil {
		return apperrors.TransientIO("remove", TriggerMarker, err)
	}
	j.logger.WithFields(logrus.Fields{
		"completed": final.Completed,
		"failed":    final.Failed,
	}).Info("Reprocessing finished")

	if j.grace > 0 {
		timer := time.NewTimer(j.grace)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
		}
	}
	if err := j.markers.Remove(ProgressMarker); err != nil {
		return apperrors.TransientIO("remove", ProgressMarker, err)
	}
	return writeErr
}

func (j *Job) writeLocked() error {
	data, err := json.Marshal(j.progress)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeInternal, "encode progress")
	}
	if err := j.markers.Replace(ProgressMarker, data); err != nil {
		return apperrors.TransientIO("write", ProgressMarker, err)
	}
	return nil
}
