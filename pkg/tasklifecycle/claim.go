package tasklifecycle

import (
	"context"
	"time"

	"github.com/cavendo/fleetctl/internal/apierr"
	"github.com/cavendo/fleetctl/pkg/db"
	"github.com/cavendo/fleetctl/pkg/models"
	"github.com/cavendo/fleetctl/pkg/router"
)

// Claim performs the atomic self-assignment from spec §4.4: an agent may
// claim a task that is pending or assigned-to-itself. The UPDATE's WHERE
// clause is the sole arbiter of the race; a zero-row result always means
// some other writer won it first, not a bug in this function.
func (s *Service) Claim(ctx context.Context, taskID, agentID string) (*models.Task, error) {
	var task *models.Task
	var events []pendingEvent

	err := s.handle.Tx(ctx, func(ctx context.Context, tx db.Handle) error {
		before, err := getTaskForUpdate(ctx, tx, taskID)
		if err != nil {
			return err
		}
		wasUnassigned := before.AssignedAgentID == nil

		now := time.Now().UTC()
		res, err := tx.Exec(ctx,
			`UPDATE tasks SET assigned_agent_id = ?, status = CASE WHEN status = 'pending' THEN 'assigned' ELSE status END,
			        updated_at = ?
			 WHERE id = ? AND status IN ('pending', 'assigned') AND (assigned_agent_id IS NULL OR assigned_agent_id = ?)`,
			agentID, now, taskID, agentID,
		)
		if err != nil {
			return apierr.Wrap(apierr.Classify(err), err, "failed to claim task")
		}
		if res.Changes == 0 {
			return diagnoseClaimFailure(before, agentID)
		}

		if wasUnassigned {
			reserveResult, err := router.Reserve(ctx, tx, agentID)
			if err != nil {
				return err
			}
			if !reserveResult.OK {
				return apierr.New(apierr.KindConflict, "claim succeeded but reservation failed: "+reserveResult.Reason)
			}
		}

		before.AssignedAgentID = &agentID
		before.UpdatedAt = now
		if before.Status == models.TaskStatusPending {
			before.Status = models.TaskStatusAssigned
		}

		if err := s.activity.Record(ctx, tx, models.EntityTypeTask, taskID, "task.claimed", agentID, nil); err != nil {
			return err
		}
		if wasUnassigned {
			events = append(events, pendingEvent{eventType: models.EventTaskAssigned, projectID: before.ProjectID, payload: taskPayload(before)})
		}

		task = before
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.flush(ctx, events)
	return task, nil
}

func diagnoseClaimFailure(task *models.Task, agentID string) error {
	if !task.Status.IsClaimable() {
		return apierr.New(apierr.KindConflict, "task is not claimable in status "+string(task.Status))
	}
	if task.AssignedAgentID != nil && *task.AssignedAgentID != agentID {
		return apierr.New(apierr.KindConflict, "task is already claimed by a different agent")
	}
	return apierr.New(apierr.KindConflict, "task claim lost a race")
}
