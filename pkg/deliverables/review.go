package deliverables

import (
	"context"
	"time"

	"github.com/cavendo/fleetctl/internal/apierr"
	"github.com/cavendo/fleetctl/pkg/db"
	"github.com/cavendo/fleetctl/pkg/models"
)

// ReviewDecision is the reviewer's verdict from PATCH /deliverables/:id/review.
type ReviewDecision string

const (
	DecisionApproved          ReviewDecision = "approved"
	DecisionRevisionRequested ReviewDecision = "revision_requested"
	DecisionRejected          ReviewDecision = "rejected"
)

func (d ReviewDecision) status() models.DeliverableStatus {
	switch d {
	case DecisionApproved:
		return models.DeliverableStatusApproved
	case DecisionRevisionRequested:
		return models.DeliverableStatusRevisionRequested
	case DecisionRejected:
		return models.DeliverableStatusRejected
	default:
		return ""
	}
}

// Review records a reviewer's decision on a pending deliverable.
func (s *Service) Review(ctx context.Context, deliverableID string, decision ReviewDecision, reviewerName string) (*models.Deliverable, error) {
	newStatus := decision.status()
	if newStatus == "" {
		return nil, apierr.New(apierr.KindValidation, "unrecognized review decision "+string(decision))
	}

	var deliverable *models.Deliverable
	var events []pendingEvent

	err := s.handle.Tx(ctx, func(ctx context.Context, tx db.Handle) error {
		var d models.Deliverable
		err := tx.One(ctx, &d,
			`SELECT id, task_id, project_id, submitter_id, version, parent_id, status, content_type, content, files, actions, created_at, updated_at
			 FROM deliverables WHERE id = ?`, deliverableID)
		if err == db.ErrNoRows {
			return apierr.New(apierr.KindNotFound, "deliverable "+deliverableID+" not found")
		}
		if err != nil {
			return err
		}
		if d.Status != models.DeliverableStatusPending {
			return apierr.New(apierr.KindValidation, "only a pending deliverable can be reviewed, this one is "+string(d.Status))
		}

		now := time.Now().UTC()
		if _, err := tx.Exec(ctx, "UPDATE deliverables SET status = ?, updated_at = ? WHERE id = ?", string(newStatus), now, deliverableID); err != nil {
			return apierr.Wrap(apierr.Classify(err), err, "failed to record review decision")
		}
		d.Status, d.UpdatedAt = newStatus, now

		if err := s.activity.Record(ctx, tx, models.EntityTypeDeliverable, deliverableID, "deliverable."+string(decision), reviewerName, nil); err != nil {
			return err
		}

		eventType := models.EventDeliverableApproved
		switch decision {
		case DecisionRevisionRequested:
			eventType = models.EventDeliverableRevisionRequested
		case DecisionRejected:
			eventType = models.EventDeliverableRejected
		}
		events = append(events, pendingEvent{eventType: eventType, projectID: d.ProjectID, payload: deliverablePayload(&d)})

		deliverable = &d
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.flush(ctx, events)
	return deliverable, nil
}
