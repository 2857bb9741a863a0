package config

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Merge deep-merges overlay onto base and returns a new document. Objects
// present on both sides merge recursively; arrays, scalars and null replace
// the base value wholesale. Neither input is modified.
func Merge(base, overlay map[string]interface{}) map[string]interface{} {
	out := deepCopy(base)
	if out == nil {
		out = make(map[string]interface{})
	}
	for k, v := range overlay {
		if src, ok := v.(map[string]interface{}); ok {
			if dst, ok := out[k].(map[string]interface{}); ok {
				out[k] = Merge(dst, src)
				continue
			}
		}
		out[k] = deepCopyValue(v)
	}
	return out
}

func deepCopy(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return nil
	}
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = deepCopyValue(v)
	}
	return out
}

func deepCopyValue(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		return deepCopy(t)
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, e := range t {
			out[i] = deepCopyValue(e)
		}
		return out
	case []string:
		out := make([]interface{}, len(t))
		for i, e := range t {
			out[i] = e
		}
		return out
	default:
		return v
	}
}

// Normalize round-trips a document through JSON so that numbers, slices and
// nested maps all have their encoding/json types.
func Normalize(doc map[string]interface{}) (map[string]interface{}, error) {
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}
	var out map[string]interface{}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	if out == nil {
		out = make(map[string]interface{})
	}
	return out, nil
}

// PartialFromPath builds the partial document that sets a dotted key, e.g.
// "preprocessing.quality" with raw value "90". raw is parsed as JSON when
// possible and used as a plain string otherwise.
func PartialFromPath(path, raw string) (map[string]interface{}, error) {
	if path == "" {
		return nil, fmt.Errorf("empty key")
	}
	var value interface{}
	if err := json.Unmarshal([]byte(raw), &value); err != nil {
		value = raw
	}

	parts := strings.Split(path, ".")
	for _, p := range parts {
		if p == "" {
			return nil, fmt.Errorf("invalid key %q", path)
		}
	}

	root := make(map[string]interface{})
	cur := root
	for _, p := range parts[:len(parts)-1] {
		next := make(map[string]interface{})
		cur[p] = next
		cur = next
	}
	cur[parts[len(parts)-1]] = value
	return root, nil
}

// lookup walks a dotted path through a document.
func lookup(doc map[string]interface{}, path string) (interface{}, bool) {
	var cur interface{} = doc
	for _, p := range strings.Split(path, ".") {
		m, ok := cur.(map[string]interface{})
		if !ok {
			return nil, false
		}
		if cur, ok = m[p]; !ok {
			return nil, false
		}
	}
	return cur, true
}
