package router

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cavendo/fleetctl/pkg/db"
	"github.com/cavendo/fleetctl/pkg/models"
)

type fakeAgentLookup struct {
	byID map[string]*models.Agent
}

func newFakeAgentLookup(agents ...*models.Agent) *fakeAgentLookup {
	m := make(map[string]*models.Agent, len(agents))
	for _, a := range agents {
		m[a.ID] = a
	}
	return &fakeAgentLookup{byID: m}
}

func (f *fakeAgentLookup) Get(_ context.Context, _ db.Handle, id string) (*models.Agent, error) {
	return f.byID[id], nil
}

func (f *fakeAgentLookup) ListActiveByCapability(_ context.Context, _ db.Handle, capability string) ([]*models.Agent, error) {
	var out []*models.Agent
	for _, a := range f.byID {
		if a.Status == models.AgentStatusActive && a.HasCapability(capability) {
			out = append(out, a)
		}
	}
	return out, nil
}

func intPtr(v int) *int { return &v }

func TestEvaluate_AssignToDirect(t *testing.T) {
	agentA := &models.Agent{ID: "agent-a", Status: models.AgentStatusActive}
	lookup := newFakeAgentLookup(agentA)
	eval := NewEvaluator(lookup, NewMemoryCursor(), 1)

	rules := []models.RoutingRule{{ID: "r1", Enabled: true, RulePriority: 1, AssignTo: &agentA.ID}}
	result := eval.Evaluate(context.Background(), nil, nil, rules, TaskDescriptor{Priority: 2})

	assert.True(t, result.Matched)
	assert.Equal(t, "agent-a", result.AgentID)
}

func TestEvaluate_TagConditionsFilterRules(t *testing.T) {
	agentA := &models.Agent{ID: "agent-a", Status: models.AgentStatusActive}
	lookup := newFakeAgentLookup(agentA)
	eval := NewEvaluator(lookup, NewMemoryCursor(), 1)

	rules := []models.RoutingRule{
		{
			ID: "r1", Enabled: true, RulePriority: 1, AssignTo: &agentA.ID,
			Conditions: &models.RuleConditions{Tags: &models.TagConditions{IncludesAny: []string{"urgent"}}},
		},
	}

	noMatch := eval.Evaluate(context.Background(), nil, nil, rules, TaskDescriptor{Tags: []string{"routine"}})
	assert.False(t, noMatch.Matched)

	match := eval.Evaluate(context.Background(), nil, nil, rules, TaskDescriptor{Tags: []string{"urgent"}})
	assert.True(t, match.Matched)
}

func TestEvaluate_FallbackWhenPrimaryIneligible(t *testing.T) {
	full := &models.Agent{ID: "full", Status: models.AgentStatusActive, MaxConcurrentTasks: intPtr(1), ActiveTaskCount: 1}
	spare := &models.Agent{ID: "spare", Status: models.AgentStatusActive}
	lookup := newFakeAgentLookup(full, spare)
	eval := NewEvaluator(lookup, NewMemoryCursor(), 1)

	rules := []models.RoutingRule{{ID: "r1", Enabled: true, RulePriority: 1, AssignTo: &full.ID, FallbackTo: &spare.ID}}
	result := eval.Evaluate(context.Background(), nil, nil, rules, TaskDescriptor{})

	assert.True(t, result.Matched)
	assert.Equal(t, "spare", result.AgentID)
}

func TestEvaluate_ContinuesToNextRuleWhenUnresolvable(t *testing.T) {
	full := &models.Agent{ID: "full", Status: models.AgentStatusActive, MaxConcurrentTasks: intPtr(1), ActiveTaskCount: 1}
	backupAgent := &models.Agent{ID: "backup", Status: models.AgentStatusActive}
	lookup := newFakeAgentLookup(full, backupAgent)
	eval := NewEvaluator(lookup, NewMemoryCursor(), 1)

	rules := []models.RoutingRule{
		{ID: "r1", Enabled: true, RulePriority: 1, AssignTo: &full.ID},
		{ID: "r2", Enabled: true, RulePriority: 2, AssignTo: &backupAgent.ID},
	}
	result := eval.Evaluate(context.Background(), nil, nil, rules, TaskDescriptor{})

	assert.True(t, result.Matched)
	assert.Equal(t, "r2", result.RuleID)
	assert.Equal(t, "backup", result.AgentID)
}

func TestEvaluate_FallsBackToProjectDefaultAgent(t *testing.T) {
	defaultAgent := &models.Agent{ID: "default", Status: models.AgentStatusActive}
	lookup := newFakeAgentLookup(defaultAgent)
	eval := NewEvaluator(lookup, NewMemoryCursor(), 1)

	project := &models.Project{ID: "proj-1", DefaultAgentID: &defaultAgent.ID}
	result := eval.Evaluate(context.Background(), nil, project, nil, TaskDescriptor{})

	assert.True(t, result.Matched)
	assert.Equal(t, "default", result.AgentID)
}

func TestEvaluate_NoMatchReturnsReason(t *testing.T) {
	eval := NewEvaluator(newFakeAgentLookup(), NewMemoryCursor(), 1)
	result := eval.Evaluate(context.Background(), nil, nil, nil, TaskDescriptor{})

	assert.False(t, result.Matched)
	assert.NotEmpty(t, result.Decision)
}

func TestEvaluate_LeastBusyStrategyPicksLowestCount(t *testing.T) {
	busy := &models.Agent{ID: "busy", Status: models.AgentStatusActive, Capabilities: models.StringArray{"review"}, ActiveTaskCount: 4}
	idle := &models.Agent{ID: "idle", Status: models.AgentStatusActive, Capabilities: models.StringArray{"review"}, ActiveTaskCount: 1}
	lookup := newFakeAgentLookup(busy, idle)
	eval := NewEvaluator(lookup, NewMemoryCursor(), 1)

	cap := "review"
	rules := []models.RoutingRule{{ID: "r1", Enabled: true, RulePriority: 1, AssignToCapability: &cap, AssignStrategy: models.StrategyLeastBusy}}
	result := eval.Evaluate(context.Background(), nil, nil, rules, TaskDescriptor{})

	require.True(t, result.Matched)
	assert.Equal(t, "idle", result.AgentID)
}

func TestEvaluate_DisabledRuleNeverMatches(t *testing.T) {
	agentA := &models.Agent{ID: "agent-a", Status: models.AgentStatusActive}
	lookup := newFakeAgentLookup(agentA)
	eval := NewEvaluator(lookup, NewMemoryCursor(), 1)

	rules := []models.RoutingRule{{ID: "r1", Enabled: false, RulePriority: 1, AssignTo: &agentA.ID}}
	result := eval.Evaluate(context.Background(), nil, nil, rules, TaskDescriptor{})

	assert.False(t, result.Matched)
}
