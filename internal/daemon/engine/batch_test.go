package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBatchAddThenRemoveCancels(t *testing.T) {
	b := NewBatch()
	b.Add("x.jpg", false)
	b.Remove("x.jpg", false)
	assert.Equal(t, 0, b.Len())
	assert.Equal(t, []string{"a.jpg"}, b.Apply([]string{"a.jpg"}))
}

func TestBatchRemoveThenAddCancels(t *testing.T) {
	b := NewBatch()
	b.Remove("a.jpg", true)
	assert.Equal(t, []string{"a.jpg"}, b.Removed())
	b.Add("a.jpg", true)
	assert.Equal(t, 0, b.Len())
	assert.Equal(t, []string{"a.jpg", "b.jpg"}, b.Apply([]string{"a.jpg", "b.jpg"}))
}

func TestBatchNeverHoldsNameInBothSets(t *testing.T) {
	b := NewBatch()
	ops := []struct {
		add  bool
		name string
		live bool
	}{
		{true, "n.jpg", false}, {false, "n.jpg", false}, {true, "n.jpg", false},
		{false, "l.jpg", true}, {true, "l.jpg", true}, {false, "l.jpg", true},
	}
	for _, op := range ops {
		if op.add {
			b.Add(op.name, op.live)
		} else {
			b.Remove(op.name, op.live)
		}
		for _, a := range b.Added() {
			assert.NotContains(t, b.Removed(), a)
		}
	}
	assert.Equal(t, []string{"n.jpg"}, b.Added())
	assert.Equal(t, []string{"l.jpg"}, b.Removed())
}

func TestBatchIgnoresNoops(t *testing.T) {
	b := NewBatch()
	b.Add("live.jpg", true)
	b.Remove("ghost.jpg", false)
	assert.Equal(t, 0, b.Len())
}

func TestBatchApplyOrder(t *testing.T) {
	b := NewBatch()
	b.Add("c.jpg", false)
	b.Add("d.jpg", false)
	b.Remove("a.jpg", true)

	images := []string{"a.jpg", "b.jpg"}
	assert.Equal(t, []string{"b.jpg", "c.jpg", "d.jpg"}, b.Apply(images))
	assert.Equal(t, []string{"a.jpg", "b.jpg"}, images, "input untouched")

	b.Reset()
	assert.Equal(t, 0, b.Len())
}
