package dispatch

import "github.com/cavendo/fleetctl/pkg/models"

// matchesConditions evaluates a route's trigger_conditions (tag/metadata
// filters) against the fired event's payload. An empty or nil condition
// set always matches. Each key in conditions must be present in payload;
// a condition value that is a list is treated as "payload value is one of
// these", anything else as an equality check.
func matchesConditions(conditions models.JSONMap, payload models.JSONMap) bool {
	for key, want := range conditions {
		got, ok := payload[key]
		if !ok {
			return false
		}
		switch w := want.(type) {
		case []any:
			if !containsValue(w, got) {
				return false
			}
		default:
			if got != want {
				return false
			}
		}
	}
	return true
}

func containsValue(list []any, v any) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
