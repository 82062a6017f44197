package tasklifecycle

import (
	"context"

	"github.com/cavendo/fleetctl/pkg/db"
	"github.com/cavendo/fleetctl/pkg/models"
)

// ProjectProvider resolves a task's project row, needed for the
// project-default-agent routing fallback. A task with a nil ProjectID
// never calls this.
type ProjectProvider interface {
	Get(ctx context.Context, tx db.Handle, id string) (*models.Project, error)
}

// RuleProvider lists the enabled routing rules for a project, already in
// the order router.Evaluate expects to stable-sort them in.
type RuleProvider interface {
	ListEnabled(ctx context.Context, tx db.Handle, projectID string) ([]models.RoutingRule, error)
}

// SQLProjectProvider is the persistence-backed ProjectProvider.
type SQLProjectProvider struct{}

func (SQLProjectProvider) Get(ctx context.Context, tx db.Handle, id string) (*models.Project, error) {
	var p models.Project
	err := tx.One(ctx, &p, "SELECT id, name, default_agent_id, created_at, updated_at FROM projects WHERE id = ?", id)
	if err == db.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// SQLRuleProvider is the persistence-backed RuleProvider.
type SQLRuleProvider struct{}

func (SQLRuleProvider) ListEnabled(ctx context.Context, tx db.Handle, projectID string) ([]models.RoutingRule, error) {
	var rows []struct {
		ID                 string  `db:"id"`
		ProjectID          string  `db:"project_id"`
		Name               string  `db:"name"`
		Enabled            bool    `db:"enabled"`
		RulePriority       int     `db:"rule_priority"`
		Conditions         *string `db:"conditions"`
		AssignTo           *string `db:"assign_to"`
		AssignToCapability *string `db:"assign_to_capability"`
		AssignStrategy     string  `db:"assign_strategy"`
		FallbackTo         *string `db:"fallback_to"`
		InsertionOrder     int     `db:"insertion_order"`
	}
	err := tx.Many(ctx, &rows,
		`SELECT id, project_id, name, enabled, rule_priority, conditions, assign_to, assign_to_capability,
		        assign_strategy, fallback_to, insertion_order
		 FROM routing_rules WHERE project_id = ? AND enabled = true
		 ORDER BY rule_priority ASC, insertion_order ASC`, projectID)
	if err != nil {
		return nil, err
	}

	rules := make([]models.RoutingRule, 0, len(rows))
	for _, r := range rows {
		rule := models.RoutingRule{
			ID: r.ID, ProjectID: r.ProjectID, Name: r.Name, Enabled: r.Enabled,
			RulePriority: r.RulePriority, AssignTo: r.AssignTo, AssignToCapability: r.AssignToCapability,
			AssignStrategy: models.AssignStrategy(r.AssignStrategy), FallbackTo: r.FallbackTo,
			InsertionOrder: r.InsertionOrder,
		}
		if r.Conditions != nil {
			cond, err := decodeConditions(*r.Conditions)
			if err != nil {
				return nil, err
			}
			rule.Conditions = cond
		}
		rules = append(rules, rule)
	}
	return rules, nil
}
