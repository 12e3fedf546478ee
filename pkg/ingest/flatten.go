package ingest

import (
	"maps"
	"slices"
)

// Flatten turns nested objects into a single level map whose keys are the
// object paths joined with ".". Arrays and scalars are kept as values.
//
// When a literal dotted key collides with a nested path ({"a.b": 1} next to
// {"a": {"b": 2}}), the value reached through more nesting wins. Equal depths
// resolve by key order, so the result never depends on map iteration.
func Flatten(payload map[string]any) map[string]any {
	flat := make(map[string]any, len(payload))
	depths := make(map[string]int, len(payload))
	flattenInto(flat, depths, "", 0, payload)

	return flat
}

func flattenInto(flat map[string]any, depths map[string]int, prefix string, depth int, value map[string]any) {
	for _, key := range slices.Sorted(maps.Keys(value)) {
		v := value[key]

		path := key
		if prefix != "" {
			path = prefix + "." + key
		}

		nested, ok := v.(map[string]any)
		if ok && len(nested) > 0 {
			flattenInto(flat, depths, path, depth+1, nested)

			continue
		}

		if existing, taken := depths[path]; taken && existing > depth {
			continue
		}

		flat[path] = v
		depths[path] = depth
	}
}
