package statecraft

import "encoding/json"

// deepClone copies a context value by round-tripping it through JSON. This
// keeps snapshots structural: history entries never alias live maps or
// slices, and every captured context is representable in a plain
// serializable form for external persistence.
func deepClone[C any](v C) (C, error) {
	var out C
	data, err := json.Marshal(v)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return out, err
	}
	return out, nil
}
