// Package collector provides directory watchers that turn filesystem
// mutations into add and remove events.
package collector

import (
	"context"
	"fmt"
	"time"
)

// Op is the kind of a file event.
type Op int

const (
	// Added means a file appeared in the directory.
	Added Op = iota + 1
	// Removed means a file left the directory.
	Removed
)

func (o Op) String() string {
	switch o {
	case Added:
		return "added"
	case Removed:
		return "removed"
	default:
		return fmt.Sprintf("Op(%d)", int(o))
	}
}

// FileEvent reports one file entering or leaving a watched directory.
type FileEvent struct {
	Op Op
	// Name is the base name of the file.
	Name string
	// Path is the full path of the file.
	Path string
}

// Collector is a background worker that watches a single directory.
// The watch is established when the collector is constructed, so no event
// between construction and Run is lost.
type Collector interface {
	// Name returns the collector's name for logging.
	Name() string

	// Run emits events until ctx is canceled. A collector is not restartable.
	Run(ctx context.Context, events chan<- FileEvent) error
}

// Options selects and tunes a collector.
type Options struct {
	UsePolling bool
	Interval   time.Duration
}

// New returns a polling or notification based collector for dir.
func New(name, dir string, opts Options) (Collector, error) {
	if opts.UsePolling {
		return NewPollCollector(name, dir, opts.Interval)
	}
	return NewNotifyCollector(name, dir)
}
