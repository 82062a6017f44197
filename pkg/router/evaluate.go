package router

import (
	"context"
	"fmt"
	"math/rand"
	"sort"

	"github.com/cavendo/fleetctl/pkg/db"
	"github.com/cavendo/fleetctl/pkg/models"
)

// TaskDescriptor is the subset of a task the evaluator matches rules
// against. It mirrors the fields a routing_conditions clause can test and
// the routing-rules/test dry-run endpoint accepts verbatim.
type TaskDescriptor struct {
	Tags     []string
	Priority int
	Context  map[string]interface{}
}

// Evaluator runs the rule DSL. It never mutates state: capacity reservation
// is a separate call (see Reserve) invoked by the caller once a candidate
// is chosen.
type Evaluator struct {
	agents AgentLookup
	cursor Cursor
	rand   *rand.Rand
}

// NewEvaluator builds an Evaluator. rngSeed lets tests make the `random`
// assign strategy deterministic; production callers pass any seed (e.g.
// derived from time), since the strategy does not need to be
// cryptographically random.
func NewEvaluator(agents AgentLookup, cursor Cursor, rngSeed int64) *Evaluator {
	return &Evaluator{agents: agents, cursor: cursor, rand: rand.New(rand.NewSource(rngSeed))}
}

// Evaluate runs the eight-step algorithm from spec §4.3 against task,
// trying rules in the project's configured order, falling back to
// project.DefaultAgentID, and finally giving up with a human-readable
// reason recorded in the result's Decision. tx is the same handle the
// caller will use to reserve capacity on whatever agent is chosen, so the
// two operations see one consistent snapshot of agent state.
func (e *Evaluator) Evaluate(ctx context.Context, tx db.Handle, project *models.Project, rules []models.RoutingRule, task TaskDescriptor) models.RoutingResult {
	ordered := make([]models.RoutingRule, len(rules))
	copy(ordered, rules)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].RulePriority != ordered[j].RulePriority {
			return ordered[i].RulePriority < ordered[j].RulePriority
		}
		return ordered[i].InsertionOrder < ordered[j].InsertionOrder
	})

	for _, rule := range ordered {
		if !rule.Enabled {
			continue
		}
		if !matches(rule.Conditions, task) {
			continue
		}

		if result, ok := e.resolveRule(ctx, tx, rule); ok {
			return result
		}
		// First matching rule's target was ineligible (and any fallback_to
		// was also ineligible): spec step 6 says continue to the next rule,
		// not give up entirely.
	}

	if project != nil && project.DefaultAgentID != nil {
		if agent, err := e.agents.Get(ctx, tx, *project.DefaultAgentID); err == nil && agent != nil && eligible(agent) {
			return models.RoutingResult{Matched: true, AgentID: agent.ID, Decision: "matched project default agent"}
		}
	}

	return models.RoutingResult{Matched: false, Decision: "no enabled rule matched and no eligible default agent was found"}
}

// resolveRule resolves one already-matched rule to an eligible candidate
// agent, trying fallback_to if the primary choice is ineligible.
func (e *Evaluator) resolveRule(ctx context.Context, tx db.Handle, rule models.RoutingRule) (models.RoutingResult, bool) {
	if candidate, reason := e.primaryCandidate(ctx, tx, rule); candidate != nil {
		if eligible(candidate) {
			return models.RoutingResult{Matched: true, AgentID: candidate.ID, RuleID: rule.ID, Decision: fmt.Sprintf("matched rule %q", rule.Name)}, true
		}
		if rule.FallbackTo != nil {
			if fb, err := e.agents.Get(ctx, tx, *rule.FallbackTo); err == nil && fb != nil && eligible(fb) {
				return models.RoutingResult{Matched: true, AgentID: fb.ID, RuleID: rule.ID, Decision: fmt.Sprintf("matched rule %q via fallback_to", rule.Name)}, true
			}
		}
		_ = reason
	}
	return models.RoutingResult{}, false
}

func (e *Evaluator) primaryCandidate(ctx context.Context, tx db.Handle, rule models.RoutingRule) (*models.Agent, string) {
	if rule.AssignTo != nil {
		agent, err := e.agents.Get(ctx, tx, *rule.AssignTo)
		if err != nil || agent == nil {
			return nil, "assign_to agent not found"
		}
		return agent, ""
	}

	if rule.AssignToCapability == nil {
		return nil, "rule has neither assign_to nor assign_to_capability"
	}

	candidates, err := e.agents.ListActiveByCapability(ctx, tx, *rule.AssignToCapability)
	if err != nil || len(candidates) == 0 {
		return nil, "no agent advertises the required capability"
	}
	return e.selectByStrategy(rule, candidates), ""
}

func (e *Evaluator) selectByStrategy(rule models.RoutingRule, candidates []*models.Agent) *models.Agent {
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].ID < candidates[j].ID })

	switch rule.AssignStrategy {
	case models.StrategyLeastBusy:
		best := candidates[0]
		for _, c := range candidates[1:] {
			if c.ActiveTaskCount < best.ActiveTaskCount {
				best = c
			}
		}
		return best

	case models.StrategyRoundRobin:
		idx := e.cursor.Next(rule.ProjectID, *rule.AssignToCapability, len(candidates))
		return candidates[idx%len(candidates)]

	case models.StrategyRandom:
		spare := filterEligible(candidates)
		if len(spare) == 0 {
			return candidates[0] // still returned; eligibility is re-checked by the caller
		}
		return spare[e.rand.Intn(len(spare))]

	case models.StrategyFirstAvailable:
		fallthrough
	default:
		for _, c := range candidates {
			if eligible(c) {
				return c
			}
		}
		return candidates[0]
	}
}

func filterEligible(agents []*models.Agent) []*models.Agent {
	out := make([]*models.Agent, 0, len(agents))
	for _, a := range agents {
		if eligible(a) {
			out = append(out, a)
		}
	}
	return out
}

// eligible applies spec step 4's filter: active status and spare capacity.
// This is advisory — Reserve performs the authoritative atomic check.
func eligible(a *models.Agent) bool {
	return a.Status == models.AgentStatusActive && a.HasCapacity()
}

func matches(cond *models.RuleConditions, task TaskDescriptor) bool {
	if cond == nil {
		return true
	}
	if cond.Tags != nil && !matchTags(cond.Tags, task.Tags) {
		return false
	}
	if cond.Priority != nil && !matchPriority(cond.Priority, task.Priority) {
		return false
	}
	for key, want := range cond.Metadata {
		got, ok := task.Context[key]
		if !ok || !equalJSON(got, want) {
			return false
		}
	}
	return true
}

func matchTags(cond *models.TagConditions, tags []string) bool {
	set := make(map[string]bool, len(tags))
	for _, t := range tags {
		set[t] = true
	}
	if len(cond.IncludesAny) > 0 {
		any := false
		for _, t := range cond.IncludesAny {
			if set[t] {
				any = true
				break
			}
		}
		if !any {
			return false
		}
	}
	for _, t := range cond.IncludesAll {
		if !set[t] {
			return false
		}
	}
	return true
}

func matchPriority(cond *models.PriorityConditions, priority int) bool {
	if cond.Eq != nil && priority != *cond.Eq {
		return false
	}
	if cond.Gte != nil && priority < *cond.Gte {
		return false
	}
	if cond.Lte != nil && priority > *cond.Lte {
		return false
	}
	return true
}

func equalJSON(a, b interface{}) bool {
	return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b)
}
