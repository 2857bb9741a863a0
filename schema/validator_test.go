package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSchema = `{
  "type": "object",
  "properties": {
    "slideshowInterval": {"type": "integer"},
    "preprocessing": {
      "type": "object",
      "properties": {"quality": {"type": "integer"}}
    }
  }
}`

func TestValidator(t *testing.T) {
	v, err := NewValidator("test.json", []byte(testSchema))
	require.NoError(t, err)

	assert.NoError(t, v.Validate(map[string]interface{}{
		"slideshowInterval": 5000,
		"preprocessing":     map[string]interface{}{"quality": 80},
	}))

	err = v.Validate(map[string]interface{}{
		"preprocessing": map[string]interface{}{"quality": "high"},
	})
	require.Error(t, err)

	schemaErr, ok := err.(*Error)
	require.True(t, ok, "expected *schema.Error, got %T", err)
	assert.Equal(t, "preprocessing.quality", schemaErr.First().Field)
	assert.Contains(t, err.Error(), "preprocessing.quality")
}

func TestNewValidatorRejectsBadSchema(t *testing.T) {
	_, err := NewValidator("bad.json", []byte(`{"type": `))
	assert.Error(t, err)
}

func TestPointerToField(t *testing.T) {
	assert.Equal(t, "", pointerToField(""))
	assert.Equal(t, "a", pointerToField("/a"))
	assert.Equal(t, "a.b", pointerToField("/a/b"))
	assert.Equal(t, "a/b.c", pointerToField("/a~1b/c"))
}
