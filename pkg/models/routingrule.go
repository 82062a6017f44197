package models

// AssignStrategy picks among several capability-qualified agents.
type AssignStrategy string

const (
	StrategyLeastBusy      AssignStrategy = "least_busy"
	StrategyRoundRobin     AssignStrategy = "round_robin"
	StrategyFirstAvailable AssignStrategy = "first_available"
	StrategyRandom         AssignStrategy = "random"
)

// TagConditions filters on a task's tags[].
type TagConditions struct {
	IncludesAny []string `json:"includes_any,omitempty"`
	IncludesAll []string `json:"includes_all,omitempty"`
}

// PriorityConditions filters on a task's priority (1..4).
type PriorityConditions struct {
	Eq  *int `json:"eq,omitempty"`
	Gte *int `json:"gte,omitempty"`
	Lte *int `json:"lte,omitempty"`
}

// RuleConditions is the optional match clause of a RoutingRule. A nil
// RuleConditions is a catch-all: it matches every task.
type RuleConditions struct {
	Tags     *TagConditions        `json:"tags,omitempty"`
	Priority *PriorityConditions   `json:"priority,omitempty"`
	Metadata map[string]any        `json:"metadata,omitempty"`
}

// RoutingRule is one entry in a project's ordered rule list, evaluated by
// router.Evaluate.
type RoutingRule struct {
	ID                  string          `json:"id"`
	ProjectID           string          `json:"projectId"`
	Name                string          `json:"name"`
	Enabled             bool            `json:"enabled"`
	RulePriority        int             `json:"rulePriority"` // 1..100, lower evaluated earlier
	Conditions          *RuleConditions `json:"conditions,omitempty"`
	AssignTo            *string         `json:"assignTo,omitempty"`
	AssignToCapability  *string         `json:"assignToCapability,omitempty"`
	AssignStrategy      AssignStrategy  `json:"assignStrategy,omitempty"`
	FallbackTo          *string         `json:"fallbackTo,omitempty"`
	InsertionOrder      int             `json:"-"`
}

// RoutingResult is the outcome of router.Evaluate: either a matched agent
// id with the rule that produced it, or an explanation of why nothing
// matched. Evaluation never reserves capacity; see router.Reserve.
type RoutingResult struct {
	Matched   bool
	AgentID   string
	RuleID    string
	Decision  string
}
