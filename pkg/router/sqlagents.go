package router

import (
	"context"

	"github.com/cavendo/fleetctl/pkg/db"
	"github.com/cavendo/fleetctl/pkg/models"
)

// SQLAgentLookup implements AgentLookup against this module's persistence
// layer. It is stateless: every call takes the tx handle it should run
// against, so evaluation always reads the same snapshot a subsequent
// Reserve call will act on.
type SQLAgentLookup struct{}

func (SQLAgentLookup) Get(ctx context.Context, tx db.Handle, id string) (*models.Agent, error) {
	var agent models.Agent
	err := tx.One(ctx, &agent,
		`SELECT id, project_id, name, status, execution_mode, max_concurrent_tasks, active_task_count, capabilities, owner_user_id, created_at, updated_at
		 FROM agents WHERE id = ?`, id)
	if err == db.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &agent, nil
}

func (SQLAgentLookup) ListActiveByCapability(ctx context.Context, tx db.Handle, capability string) ([]*models.Agent, error) {
	var agents []*models.Agent
	err := tx.Many(ctx, &agents,
		`SELECT id, project_id, name, status, execution_mode, max_concurrent_tasks, active_task_count, capabilities, owner_user_id, created_at, updated_at
		 FROM agents WHERE status = 'active'`)
	if err != nil {
		return nil, err
	}
	out := make([]*models.Agent, 0, len(agents))
	for _, a := range agents {
		if a.HasCapability(capability) {
			out = append(out, a)
		}
	}
	return out, nil
}
