package tasklifecycle

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/cavendo/fleetctl/internal/apierr"
	"github.com/cavendo/fleetctl/pkg/db"
	"github.com/cavendo/fleetctl/pkg/models"
	"github.com/cavendo/fleetctl/pkg/router"
)

// CreateInput is the request shape for Create. AssignedAgentID, if set,
// assigns the task directly and skips rule evaluation entirely - this is
// the manual-assignment path the router's rule DSL sits beside, not on
// top of.
type CreateInput struct {
	ProjectID   *string
	Title       string
	Description string
	Priority    int
	Tags        []string
	Context     models.JSONMap

	AssignedAgentID *string
}

// Create validates input, resolves an assignee (explicit, routed, or
// none), reserves that assignee's capacity, and inserts the task - all in
// one transaction, per spec §4.3's "task INSERT and reservation MUST occur
// in the same transaction."
func (s *Service) Create(ctx context.Context, in CreateInput) (*models.Task, error) {
	if in.Title == "" {
		return nil, apierr.Validation(apierr.FieldError{Path: "title", Message: "is required"})
	}
	if !models.ValidPriority(in.Priority) {
		return nil, apierr.Validation(apierr.FieldError{Path: "priority", Message: "must be between 1 and 4"})
	}

	task := &models.Task{
		ID:          uuid.NewString(),
		ProjectID:   in.ProjectID,
		Status:      models.TaskStatusPending,
		Priority:    in.Priority,
		Title:       in.Title,
		Description: in.Description,
		Tags:        models.StringArray(in.Tags),
		Context:     in.Context,
	}

	var events []pendingEvent
	err := s.handle.Tx(ctx, func(ctx context.Context, tx db.Handle) error {
		if err := s.resolveAssignment(ctx, tx, task, in.AssignedAgentID); err != nil {
			return err
		}

		now := time.Now().UTC()
		task.CreatedAt, task.UpdatedAt = now, now
		if task.AssignedAgentID != nil {
			task.Status = models.TaskStatusAssigned
		}

		_, err := tx.Insert(ctx,
			`INSERT INTO tasks (id, project_id, assigned_agent_id, status, priority, title, description, tags, context,
			                     routing_rule_id, routing_decision, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			task.ID, task.ProjectID, task.AssignedAgentID, string(task.Status), task.Priority, task.Title,
			task.Description, task.Tags, task.Context, task.RoutingRuleID, task.RoutingDecision, task.CreatedAt, task.UpdatedAt,
		)
		if err != nil {
			return apierr.Wrap(apierr.Classify(err), err, "failed to insert task")
		}

		if err := s.activity.Record(ctx, tx, models.EntityTypeTask, task.ID, "task.created", "system", nil); err != nil {
			return err
		}

		events = append(events, pendingEvent{eventType: models.EventTaskCreated, projectID: task.ProjectID, payload: taskPayload(task)})
		if task.AssignedAgentID != nil {
			events = append(events, pendingEvent{eventType: models.EventTaskAssigned, projectID: task.ProjectID, payload: taskPayload(task)})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.flush(ctx, events)
	return task, nil
}

// resolveAssignment decides task.AssignedAgentID and task.RoutingDecision
// (and, when a rule matched, task.RoutingRuleID), reserving capacity on
// whatever agent is chosen. It never fails the create on an unresolved
// assignment - an unmatched task is simply left unassigned, with the
// reason recorded for operators.
func (s *Service) resolveAssignment(ctx context.Context, tx db.Handle, task *models.Task, explicit *string) error {
	if explicit != nil {
		res, err := router.Reserve(ctx, tx, *explicit)
		if err != nil {
			return err
		}
		if !res.OK {
			return apierr.New(apierr.KindConflict, "cannot assign to agent "+*explicit+": "+res.Reason)
		}
		task.AssignedAgentID = explicit
		return nil
	}

	if task.ProjectID == nil {
		task.RoutingDecision = strPtr("task is not project-scoped; no routing rules apply")
		return nil
	}

	rules, err := s.rules.ListEnabled(ctx, tx, *task.ProjectID)
	if err != nil {
		return err
	}
	project, err := s.projects.Get(ctx, tx, *task.ProjectID)
	if err != nil {
		return err
	}

	result := s.evaluator().Evaluate(ctx, tx, project, rules, router.TaskDescriptor{
		Tags: task.Tags, Priority: task.Priority, Context: task.Context,
	})
	task.RoutingDecision = strPtr(result.Decision)
	if !result.Matched {
		return nil
	}

	res, err := router.Reserve(ctx, tx, result.AgentID)
	if err != nil {
		return err
	}
	if !res.OK {
		task.RoutingDecision = strPtr("matched rule but reservation failed: " + res.Reason)
		return nil
	}

	task.AssignedAgentID = &result.AgentID
	if result.RuleID != "" {
		task.RoutingRuleID = &result.RuleID
	}
	return nil
}

func strPtr(s string) *string { return &s }

func taskPayload(t *models.Task) models.JSONMap {
	payload := models.JSONMap{
		"id": t.ID, "status": string(t.Status), "priority": t.Priority,
	}
	if t.ProjectID != nil {
		payload["project_id"] = *t.ProjectID
	}
	if t.AssignedAgentID != nil {
		payload["assigned_agent_id"] = *t.AssignedAgentID
	}
	return payload
}
