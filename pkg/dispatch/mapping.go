package dispatch

import (
	"strings"

	"github.com/cavendo/fleetctl/pkg/models"
)

// applyFieldMapping projects payload fields into the destination's request
// shape per spec §4.6 step 3. A mapping value of "$.some.path" is resolved
// by dotted lookup into payload; any other value is passed through as a
// literal. A nil mapping passes the payload through unchanged.
func applyFieldMapping(mapping models.JSONMap, payload models.JSONMap) models.JSONMap {
	if len(mapping) == 0 {
		return payload
	}
	out := make(models.JSONMap, len(mapping))
	for destField, spec := range mapping {
		path, ok := spec.(string)
		if !ok || !strings.HasPrefix(path, "$.") {
			out[destField] = spec
			continue
		}
		if v, found := lookupPath(payload, strings.TrimPrefix(path, "$.")); found {
			out[destField] = v
		}
	}
	return out
}

func lookupPath(payload models.JSONMap, path string) (any, bool) {
	parts := strings.Split(path, ".")
	var cur any = map[string]any(payload)
	for _, part := range parts {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		v, ok := m[part]
		if !ok {
			return nil, false
		}
		cur = v
	}
	return cur, true
}
