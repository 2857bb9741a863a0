package engine

import (
	"math/rand/v2"

	"github.com/grovetools/slidesync/config"
	"github.com/grovetools/slidesync/internal/daemon/collector"
)

// Scan lists the eligible files in dir, sorted by name.
func Scan(dir string, filter *collector.Filter) ([]string, error) {
	return filter.List(dir)
}

// Shuffle permutes images in place with Fisher-Yates: for i from the last
// index down to 1, swap with a uniform index in [0, i].
func Shuffle(images []string, r *rand.Rand) {
	for i := len(images) - 1; i > 0; i-- {
		var j int
		if r != nil {
			j = r.IntN(i + 1)
		} else {
			j = rand.IntN(i + 1)
		}
		images[i], images[j] = images[j], images[i]
	}
}

// FilterFor builds the served-image filter for a snapshot.
func FilterFor(snap *config.Snapshot) (*collector.Filter, error) {
	return collector.NewFilter(snap.ImageExtensions, snap.IgnorePatterns)
}

// ListImages answers the plain list query with the same filter and ordering
// policy as the live event path.
func ListImages(snap *config.Snapshot) ([]string, error) {
	filter, err := FilterFor(snap)
	if err != nil {
		return nil, err
	}
	images, err := Scan(snap.Resolve(snap.ImagePath), filter)
	if err != nil {
		return nil, err
	}
	if snap.RandomOrder {
		Shuffle(images, nil)
	}
	return images, nil
}
