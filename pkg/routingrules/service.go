// Package routingrules implements the read/replace/dry-run operations
// behind GET/PUT /projects/:id/routing-rules and the test endpoint, reusing
// router.Evaluator for the dry run rather than duplicating its matching
// logic (spec §4.3, §6).
package routingrules

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/cavendo/fleetctl/internal/apierr"
	"github.com/cavendo/fleetctl/pkg/db"
	"github.com/cavendo/fleetctl/pkg/models"
	"github.com/cavendo/fleetctl/pkg/router"
)

// Service implements the routing-rules subset of the project API.
type Service struct {
	handle *db.DB
	agents router.AgentLookup
	cursor router.Cursor
}

// Config collects Service's dependencies.
type Config struct {
	Handle *db.DB
	Agents router.AgentLookup
	Cursor router.Cursor
}

// NewService builds a Service, defaulting Agents/Cursor to their SQL and
// in-memory implementations the way tasklifecycle.NewService does.
func NewService(cfg Config) *Service {
	if cfg.Agents == nil {
		cfg.Agents = router.SQLAgentLookup{}
	}
	if cfg.Cursor == nil {
		cfg.Cursor = router.NewMemoryCursor()
	}
	return &Service{handle: cfg.Handle, agents: cfg.Agents, cursor: cfg.Cursor}
}

// List returns a project's rule set ordered the way the evaluator consumes
// it: rule_priority ascending, then insertion order.
func (s *Service) List(ctx context.Context, projectID string) ([]models.RoutingRule, error) {
	var rules []models.RoutingRule
	err := s.handle.Many(ctx, &rules,
		`SELECT id, project_id, name, enabled, rule_priority, conditions, assign_to, assign_to_capability,
		        assign_strategy, fallback_to, insertion_order
		 FROM routing_rules WHERE project_id = ? ORDER BY rule_priority ASC, insertion_order ASC`, projectID)
	if err != nil {
		return nil, err
	}
	return rules, nil
}

// Replace deletes a project's existing rule set and inserts in, preserving
// slice order as insertion_order, in a single transaction — the whole-list
// PUT semantics spec §6 describes (no per-rule patch endpoint exists).
func (s *Service) Replace(ctx context.Context, projectID string, in []models.RoutingRule) ([]models.RoutingRule, error) {
	now := time.Now().UTC()
	out := make([]models.RoutingRule, len(in))

	err := s.handle.Tx(ctx, func(ctx context.Context, tx db.Handle) error {
		if _, err := tx.Exec(ctx, "DELETE FROM routing_rules WHERE project_id = ?", projectID); err != nil {
			return apierr.Wrap(apierr.Classify(err), err, "failed to clear existing routing rules")
		}

		for i, r := range in {
			r.ProjectID = projectID
			if r.ID == "" {
				r.ID = uuid.NewString()
			}
			r.InsertionOrder = i

			_, err := tx.Insert(ctx,
				`INSERT INTO routing_rules (id, project_id, name, enabled, rule_priority, conditions, assign_to,
				                            assign_to_capability, assign_strategy, fallback_to, insertion_order, created_at, updated_at)
				 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				r.ID, r.ProjectID, r.Name, r.Enabled, r.RulePriority, r.Conditions, r.AssignTo,
				r.AssignToCapability, string(r.AssignStrategy), r.FallbackTo, r.InsertionOrder, now, now,
			)
			if err != nil {
				return apierr.Wrap(apierr.Classify(err), err, "failed to insert routing rule "+r.Name)
			}
			out[i] = r
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// TestInput is the request shape for the dry-run endpoint: a simulated
// task descriptor evaluated against the project's current rule set without
// creating anything or reserving capacity.
type TestInput struct {
	Tags     []string
	Priority int
	Context  models.JSONMap
}

// Test runs router.Evaluate against the project's live rule set and a
// synthetic task, returning the routing decision a real Create call would
// produce. It never calls router.Reserve, so running it repeatedly has no
// side effect on agent capacity.
func (s *Service) Test(ctx context.Context, projectID string, in TestInput) (models.RoutingResult, error) {
	var result models.RoutingResult
	err := s.handle.Tx(ctx, func(ctx context.Context, tx db.Handle) error {
		var project models.Project
		perr := tx.One(ctx, &project, "SELECT id, name, default_agent_id, created_at, updated_at FROM projects WHERE id = ?", projectID)
		if perr == db.ErrNoRows {
			return apierr.New(apierr.KindNotFound, "project "+projectID+" not found")
		}
		if perr != nil {
			return perr
		}

		var rules []models.RoutingRule
		if err := tx.Many(ctx, &rules,
			`SELECT id, project_id, name, enabled, rule_priority, conditions, assign_to, assign_to_capability,
			        assign_strategy, fallback_to, insertion_order
			 FROM routing_rules WHERE project_id = ? ORDER BY rule_priority ASC, insertion_order ASC`, projectID); err != nil {
			return err
		}

		evaluator := router.NewEvaluator(s.agents, s.cursor, time.Now().UnixNano())
		result = evaluator.Evaluate(ctx, tx, &project, rules, router.TaskDescriptor{
			Tags: in.Tags, Priority: in.Priority, Context: in.Context,
		})
		return nil
	})
	if err != nil {
		return models.RoutingResult{}, err
	}
	return result, nil
}
