package config

import "slices"

// ChangeSet classifies what differs between two snapshots.
type ChangeSet struct {
	IntervalChanged       bool `json:"intervalChanged"`
	OutputGeometryChanged bool `json:"outputGeometryChanged"`
	QualityChanged        bool `json:"qualityChanged"`
	ReshuffleChanged      bool `json:"reshuffleChanged"`
	OrderingChanged       bool `json:"orderingChanged"`
	ExtensionsChanged     bool `json:"extensionsChanged"`
}

// Any reports whether any category changed.
func (c ChangeSet) Any() bool {
	return c.IntervalChanged || c.OutputGeometryChanged || c.QualityChanged ||
		c.ReshuffleChanged || c.OrderingChanged || c.ExtensionsChanged
}

// Diff compares two snapshots. A nil old snapshot reports no change.
func Diff(old, new *Snapshot) ChangeSet {
	if old == nil || new == nil {
		return ChangeSet{}
	}
	o, n := old.Config, new.Config
	return ChangeSet{
		IntervalChanged: o.SlideshowInterval != n.SlideshowInterval,
		OutputGeometryChanged: o.Preprocessing.TargetWidth != n.Preprocessing.TargetWidth ||
			o.Preprocessing.TargetHeight != n.Preprocessing.TargetHeight,
		QualityChanged:    o.Preprocessing.Quality != n.Preprocessing.Quality,
		ReshuffleChanged:  o.ReshuffleInterval != n.ReshuffleInterval,
		OrderingChanged:   o.RandomOrder != n.RandomOrder,
		ExtensionsChanged: !slices.Equal(o.ImageExtensions, n.ImageExtensions) || !slices.Equal(o.IgnorePatterns, n.IgnorePatterns),
	}
}
