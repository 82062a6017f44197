package tasklifecycle

import (
	"context"
	"time"

	"github.com/cavendo/fleetctl/internal/apierr"
	"github.com/cavendo/fleetctl/pkg/db"
	"github.com/cavendo/fleetctl/pkg/models"
	"github.com/cavendo/fleetctl/pkg/router"
)

// ChangeStatus drives task through one edge of the state machine in
// pkg/tasklifecycle/machine.go, maintaining the assignee's
// active_task_count per spec §4.3's count-maintenance rules and writing
// the activity_log + dispatch side effects spec §4.4 requires.
func (s *Service) ChangeStatus(ctx context.Context, taskID string, to models.TaskStatus, actorName string) (*models.Task, error) {
	var task *models.Task
	var events []pendingEvent

	err := s.handle.Tx(ctx, func(ctx context.Context, tx db.Handle) error {
		t, err := getTaskForUpdate(ctx, tx, taskID)
		if err != nil {
			return err
		}
		from := t.Status

		if !CanTransition(from, to) {
			return apierr.New(apierr.KindValidation, "cannot transition task from "+string(from)+" to "+string(to))
		}

		if t.AssignedAgentID != nil {
			if enteringTerminal(from, to) {
				if err := router.Release(ctx, tx, *t.AssignedAgentID); err != nil {
					return err
				}
			} else if leavingTerminal(from, to) {
				if err := router.ForceReserve(ctx, tx, *t.AssignedAgentID); err != nil {
					return err
				}
			}
		}

		now := time.Now().UTC()
		if _, err := tx.Exec(ctx, "UPDATE tasks SET status = ?, updated_at = ? WHERE id = ?", string(to), now, taskID); err != nil {
			return apierr.Wrap(apierr.Classify(err), err, "failed to update task status")
		}
		t.Status, t.UpdatedAt = to, now

		if err := s.activity.Record(ctx, tx, models.EntityTypeTask, taskID, "task.status_changed", actorName,
			models.JSONMap{"from": string(from), "to": string(to)}); err != nil {
			return err
		}

		events = append(events, pendingEvent{eventType: models.EventTaskStatusChanged, projectID: t.ProjectID, payload: taskPayload(t)})
		switch to {
		case models.TaskStatusCompleted:
			events = append(events, pendingEvent{eventType: models.EventTaskCompleted, projectID: t.ProjectID, payload: taskPayload(t)})
		case models.TaskStatusCancelled:
			events = append(events, pendingEvent{eventType: models.EventTaskCancelled, projectID: t.ProjectID, payload: taskPayload(t)})
		}

		task = t
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.flush(ctx, events)
	return task, nil
}

func getTaskForUpdate(ctx context.Context, tx db.Handle, taskID string) (*models.Task, error) {
	var t models.Task
	err := tx.One(ctx, &t,
		`SELECT id, project_id, assigned_agent_id, status, priority, title, description, tags, context,
		        routing_rule_id, routing_decision, created_at, updated_at
		 FROM tasks WHERE id = ?`, taskID)
	if err == db.ErrNoRows {
		return nil, taskNotFound(taskID)
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}
