package dispatch

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/cavendo/fleetctl/pkg/models"
)

func TestMatchesConditions_NilConditionsAlwaysMatch(t *testing.T) {
	assert.True(t, matchesConditions(nil, models.JSONMap{"tag": "urgent"}))
}

func TestMatchesConditions_EqualityCheck(t *testing.T) {
	conditions := models.JSONMap{"tag": "urgent"}
	assert.True(t, matchesConditions(conditions, models.JSONMap{"tag": "urgent"}))
	assert.False(t, matchesConditions(conditions, models.JSONMap{"tag": "low"}))
	assert.False(t, matchesConditions(conditions, models.JSONMap{}))
}

func TestMatchesConditions_ListMembership(t *testing.T) {
	conditions := models.JSONMap{"priority": []any{"high", "critical"}}
	assert.True(t, matchesConditions(conditions, models.JSONMap{"priority": "high"}))
	assert.False(t, matchesConditions(conditions, models.JSONMap{"priority": "low"}))
}

func TestApplyFieldMapping_ResolvesDottedPath(t *testing.T) {
	mapping := models.JSONMap{"task_title": "$.task.title", "literal": "constant"}
	payload := models.JSONMap{"task": map[string]any{"title": "fix bug"}}
	out := applyFieldMapping(mapping, payload)
	assert.Equal(t, "fix bug", out["task_title"])
	assert.Equal(t, "constant", out["literal"])
}

func TestApplyFieldMapping_NilMappingPassesThroughPayload(t *testing.T) {
	payload := models.JSONMap{"id": "t1"}
	assert.Equal(t, payload, applyFieldMapping(nil, payload))
}
