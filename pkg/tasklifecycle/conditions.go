package tasklifecycle

import (
	"encoding/json"

	"github.com/cavendo/fleetctl/pkg/models"
)

// decodeConditions parses a routing rule's stored conditions JSON. A rule
// row with no conditions set stores NULL, already handled by the caller
// before this is invoked.
func decodeConditions(raw string) (*models.RuleConditions, error) {
	var cond models.RuleConditions
	if err := json.Unmarshal([]byte(raw), &cond); err != nil {
		return nil, err
	}
	return &cond, nil
}
