package document

import (
	"encoding/json"
	"strings"
)

// Document is a schemaless JSON object: values are the types produced by
// encoding/json (string, float64, bool, nil, []any, map[string]any).
type Document map[string]any

func FromJSON(data []byte) (Document, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func (d Document) ToJSON() ([]byte, error) {
	return json.Marshal(d)
}

// GetPath resolves a dot-separated field path ("specs.processor") against
// nested objects. The second return is false when any segment is missing or
// an intermediate segment is not an object.
func (d Document) GetPath(path string) (any, bool) {
	parts := strings.Split(path, ".")
	current := map[string]any(d)
	for i, part := range parts {
		val, ok := current[part]
		if !ok {
			return nil, false
		}
		if i == len(parts)-1 {
			return val, true
		}
		switch obj := val.(type) {
		case map[string]any:
			current = obj
		case Document:
			current = obj
		default:
			return nil, false
		}
	}
	return nil, false
}

// Merge overlays patch onto d field by field (shallow): fields present in
// patch replace same-named fields, everything else is preserved. Neither
// input is mutated.
func (d Document) Merge(patch Document) Document {
	merged := make(Document, len(d)+len(patch))
	for k, v := range d {
		merged[k] = v
	}
	for k, v := range patch {
		merged[k] = v
	}
	return merged
}

// Clone returns a deep copy so callers can hand documents out of the store
// without aliasing its internal state.
func (d Document) Clone() Document {
	out := make(Document, len(d))
	for k, v := range d {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, inner := range val {
			out[k] = cloneValue(inner)
		}
		return out
	case Document:
		return map[string]any(val.Clone())
	case []any:
		out := make([]any, len(val))
		for i, inner := range val {
			out[i] = cloneValue(inner)
		}
		return out
	default:
		return val
	}
}
