package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMerge(t *testing.T) {
	base := map[string]interface{}{
		"a": 1,
		"list": []interface{}{"x", "y"},
		"nested": map[string]interface{}{
			"keep": true,
			"over": "old",
		},
		"scalar": map[string]interface{}{"k": 1},
	}
	overlay := map[string]interface{}{
		"list":   []interface{}{"z"},
		"nested": map[string]interface{}{"over": "new"},
		"scalar": 5,
		"added":  nil,
	}

	got := Merge(base, overlay)

	assert.Equal(t, 1, got["a"])
	assert.Equal(t, []interface{}{"z"}, got["list"])
	assert.Equal(t, map[string]interface{}{"keep": true, "over": "new"}, got["nested"])
	assert.Equal(t, 5, got["scalar"], "scalars replace objects")
	assert.Contains(t, got, "added")

	// inputs untouched
	assert.Equal(t, "old", base["nested"].(map[string]interface{})["over"])
	assert.Equal(t, []interface{}{"x", "y"}, base["list"])
}

func TestMergeDoesNotAlias(t *testing.T) {
	overlay := map[string]interface{}{"nested": map[string]interface{}{"v": 1}}
	got := Merge(nil, overlay)
	got["nested"].(map[string]interface{})["v"] = 2
	assert.Equal(t, 1, overlay["nested"].(map[string]interface{})["v"])
}

func TestPartialFromPath(t *testing.T) {
	p, err := PartialFromPath("preprocessing.quality", "90")
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{
		"preprocessing": map[string]interface{}{"quality": float64(90)},
	}, p)

	p, err = PartialFromPath("imagePath", "photos")
	require.NoError(t, err)
	assert.Equal(t, "photos", p["imagePath"])

	p, err = PartialFromPath("imageExtensions", `[".png"]`)
	require.NoError(t, err)
	assert.Equal(t, []interface{}{".png"}, p["imageExtensions"])

	_, err = PartialFromPath("a..b", "1")
	assert.Error(t, err)
	_, err = PartialFromPath("", "1")
	assert.Error(t, err)
}

func TestLookup(t *testing.T) {
	doc := map[string]interface{}{"a": map[string]interface{}{"b": 3}}
	v, ok := lookup(doc, "a.b")
	assert.True(t, ok)
	assert.Equal(t, 3, v)
	_, ok = lookup(doc, "a.c")
	assert.False(t, ok)
	_, ok = lookup(doc, "a.b.c")
	assert.False(t, ok)
}
