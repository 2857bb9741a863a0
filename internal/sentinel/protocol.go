// Package sentinel coordinates the reprocessing job between the serving and
// ingest processes through two markers: a trigger that requests a job and a
// progress record that reports it.
//
// States move Idle -> Requested (trigger only) -> Running (trigger and
// progress) -> Idle (both removed, progress after a grace period). Markers are
// only ever created, replaced or removed atomically, so a reader sees either
// the previous or the next record and never a partial one.
package sentinel

import (
	"encoding/json"
	"fmt"
	"time"
)

// ProtocolVersion is written into every marker. Records without a version
// are accepted as version 0 with the same fields.
const ProtocolVersion = 1

const (
	// TriggerMarker requests a job. Its content is advisory.
	TriggerMarker = ".reprocess-trigger"
	// ProgressMarker reports a running or just-finished job.
	ProgressMarker = ".reprocess-progress.json"
)

// maxFailures bounds the failure list kept in the progress record.
const maxFailures = 100

// Trigger is the advisory content of the trigger marker.
type Trigger struct {
	Version     int    `json:"version"`
	RequestedAt int64  `json:"requestedAt"`
	Reason      string `json:"reason,omitempty"`
}

// Failure records one file that could not be processed.
type Failure struct {
	File   string `json:"file"`
	Reason string `json:"reason"`
}

// Progress is the content of the progress marker. Completed+Failed never
// decreases during a job and equals Total once FinishedAt is set.
type Progress struct {
	Version    int       `json:"version"`
	Completed  int       `json:"completed"`
	Failed     int       `json:"failed"`
	Total      int       `json:"total"`
	Timestamp  int64     `json:"timestamp"`
	StartedAt  int64     `json:"startedAt,omitempty"`
	FinishedAt int64     `json:"finishedAt,omitempty"`
	Failures   []Failure `json:"failures,omitempty"`
}

// Processed returns Completed+Failed.
func (p Progress) Processed() int {
	return p.Completed + p.Failed
}

// Done reports whether the job has finished and the record is in its grace period.
func (p Progress) Done() bool {
	return p.FinishedAt != 0
}

// Status is the read-only projection of the marker state.
type Status struct {
	Active bool `json:"active"`
	*Progress
	// Requested is set when a trigger exists but no progress has been written.
	Requested bool `json:"requested,omitempty"`
	// Warning explains why state could not be determined.
	Warning string `json:"warning,omitempty"`
}

func millis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms)
}

func decodeTrigger(data []byte) (Trigger, error) {
	var t Trigger
	if err := json.Unmarshal(data, &t); err != nil {
		return t, err
	}
	if t.Version > ProtocolVersion {
		return t, fmt.Errorf("unsupported trigger version %d", t.Version)
	}
	return t, nil
}

func decodeProgress(data []byte) (Progress, error) {
	var p Progress
	if err := json.Unmarshal(data, &p); err != nil {
		return p, err
	}
	if p.Version > ProtocolVersion {
		return p, fmt.Errorf("unsupported progress version %d", p.Version)
	}
	if p.Total < 0 || p.Completed < 0 || p.Failed < 0 || p.Processed() > p.Total {
		return p, fmt.Errorf("inconsistent counts %d+%d of %d", p.Completed, p.Failed, p.Total)
	}
	return p, nil
}
