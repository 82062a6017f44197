// Package deliverables implements the versioning protocol and review
// workflow for work products agents submit against tasks (spec §4.5).
package deliverables

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/cavendo/fleetctl/internal/apierr"
	"github.com/cavendo/fleetctl/pkg/activity"
	"github.com/cavendo/fleetctl/pkg/db"
	"github.com/cavendo/fleetctl/pkg/models"
)

// maxVersionAttempts bounds the retry-on-unique-violation loop. The
// original system caps at three attempts with no backoff between them
// (see DESIGN.md's Open Questions entry); NewConstantBackOff(0) is how
// that "no backoff" choice is expressed through cenkalti/backoff's API
// without hand-rolling a retry loop.
const maxVersionAttempts = 3

// Service implements Submit, revisions, and reviewer decisions.
type Service struct {
	handle   *db.DB
	store    FileStore
	activity *activity.Recorder
	emitter  EventEmitter
}

// EventEmitter mirrors tasklifecycle.EventEmitter: dispatch is invoked
// only after the transaction producing the event has committed.
type EventEmitter interface {
	Emit(ctx context.Context, eventType models.EventType, projectID *string, payload models.JSONMap)
}

type NopEmitter struct{}

func (NopEmitter) Emit(context.Context, models.EventType, *string, models.JSONMap) {}

// Config collects Service's dependencies.
type Config struct {
	Handle   *db.DB
	Store    FileStore
	Activity *activity.Recorder
	Emitter  EventEmitter
}

func NewService(cfg Config) *Service {
	if cfg.Activity == nil {
		cfg.Activity = activity.NewRecorder()
	}
	if cfg.Emitter == nil {
		cfg.Emitter = NopEmitter{}
	}
	return &Service{handle: cfg.Handle, store: cfg.Store, activity: cfg.Activity, emitter: cfg.Emitter}
}

// SubmitInput is the POST /deliverables request shape.
type SubmitInput struct {
	TaskID      *string
	ProjectID   *string
	SubmitterID string
	ContentType models.ContentType
	Content     string
	Files       []FileUpload
}

// Submit runs the versioning protocol from spec §4.5: validate attachments
// up front, then retry (read-MAX, compute v, insert) inside one
// transaction per attempt until the INSERT lands without a unique
// violation, then write attachments to disk and patch the files column.
func (s *Service) Submit(ctx context.Context, in SubmitInput) (*models.Deliverable, error) {
	return s.submit(ctx, in, nil)
}

// SubmitRevisionInput is the POST /deliverables/:id/revision request shape.
type SubmitRevisionInput struct {
	ParentID    string
	SubmitterID string
	ContentType models.ContentType
	Content     string
	Files       []FileUpload
}

// SubmitRevision creates the next version against parentID, which must
// currently be in revision_requested status.
func (s *Service) SubmitRevision(ctx context.Context, in SubmitRevisionInput) (*models.Deliverable, error) {
	var parent models.Deliverable
	err := s.handle.One(ctx, &parent,
		`SELECT id, task_id, project_id, submitter_id, version, parent_id, status, content_type, content, files, actions, created_at, updated_at
		 FROM deliverables WHERE id = ?`, in.ParentID)
	if err == db.ErrNoRows {
		return nil, apierr.New(apierr.KindNotFound, "deliverable "+in.ParentID+" not found")
	}
	if err != nil {
		return nil, err
	}
	if parent.Status != models.DeliverableStatusRevisionRequested {
		return nil, apierr.New(apierr.KindValidation, "revision requires parent deliverable status revision_requested")
	}

	return s.submit(ctx, SubmitInput{
		TaskID: parent.TaskID, ProjectID: parent.ProjectID, SubmitterID: in.SubmitterID,
		ContentType: in.ContentType, Content: in.Content, Files: in.Files,
	}, &parent)
}

func (s *Service) submit(ctx context.Context, in SubmitInput, parent *models.Deliverable) (*models.Deliverable, error) {
	if err := ValidateFiles(in.Files); err != nil {
		return nil, err
	}

	var deliverable *models.Deliverable
	var events []pendingEvent
	attempts := 0

	retryPolicy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(0), maxVersionAttempts-1), ctx)
	err := backoff.Retry(func() error {
		attempts++
		d := &models.Deliverable{
			ID: uuid.NewString(), TaskID: in.TaskID, ProjectID: in.ProjectID, SubmitterID: in.SubmitterID,
			Status: models.DeliverableStatusPending, ContentType: in.ContentType, Content: in.Content,
			Files: models.JSONArray{},
		}
		if parent != nil {
			d.ParentID = &parent.ID
		}

		var txEvents []pendingEvent
		txErr := s.handle.Tx(ctx, func(ctx context.Context, tx db.Handle) error {
			version, verr := nextVersion(ctx, tx, in.TaskID)
			if verr != nil {
				return verr
			}
			d.Version = version
			now := time.Now().UTC()
			d.CreatedAt, d.UpdatedAt = now, now

			_, ierr := tx.Insert(ctx,
				`INSERT INTO deliverables (id, task_id, project_id, submitter_id, version, parent_id, status, content_type, content, files, actions, created_at, updated_at)
				 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				d.ID, d.TaskID, d.ProjectID, d.SubmitterID, d.Version, d.ParentID, string(d.Status),
				string(d.ContentType), d.Content, d.Files, d.Actions, d.CreatedAt, d.UpdatedAt,
			)
			if ierr != nil {
				return ierr
			}

			if parent != nil {
				if _, err := tx.Exec(ctx, "UPDATE deliverables SET status = ?, updated_at = ? WHERE id = ?",
					string(models.DeliverableStatusRevised), now, parent.ID); err != nil {
					return err
				}
			}

			if err := s.activity.Record(ctx, tx, models.EntityTypeDeliverable, d.ID, "deliverable.submitted", d.SubmitterID, nil); err != nil {
				return err
			}

			txEvents = append(txEvents, pendingEvent{eventType: models.EventDeliverableSubmitted, projectID: d.ProjectID, payload: deliverablePayload(d)})
			return nil
		})
		if txErr != nil {
			if apierr.Classify(txErr) == apierr.KindConflict {
				return txErr // retryable: a concurrent submitter won this version number
			}
			return backoff.Permanent(txErr)
		}

		deliverable, events = d, txEvents
		return nil
	}, retryPolicy)

	if err != nil {
		if attempts >= maxVersionAttempts {
			return nil, apierr.New(apierr.KindConflict, "deliverable version assignment exhausted its retry budget")
		}
		return nil, err
	}

	if len(in.Files) > 0 && s.store != nil {
		refs, serr := s.store.Save(deliverable.ID, in.Files)
		if serr != nil {
			return deliverable, serr
		}
		deliverable.Files = models.JSONArray(refs)
		if _, err := s.handle.Exec(ctx, "UPDATE deliverables SET files = ? WHERE id = ?", deliverable.Files, deliverable.ID); err != nil {
			return deliverable, err
		}
	}

	s.flush(ctx, events)
	return deliverable, nil
}

// nextVersion reads MAX(version) and adds one, per spec §4.5 step 1-2.
// taskID nil (a standalone, non-task-linked deliverable) always yields
// version 1 - the uniqueness invariant only applies when task_id is set.
func nextVersion(ctx context.Context, tx db.Handle, taskID *string) (int, error) {
	if taskID == nil {
		return 1, nil
	}
	var max *int
	if err := tx.One(ctx, &max, "SELECT MAX(version) FROM deliverables WHERE task_id = ?", *taskID); err != nil {
		return 0, err
	}
	if max == nil {
		return 1, nil
	}
	return *max + 1, nil
}

func deliverablePayload(d *models.Deliverable) models.JSONMap {
	payload := models.JSONMap{"id": d.ID, "version": d.Version, "status": string(d.Status)}
	if d.TaskID != nil {
		payload["task_id"] = *d.TaskID
	}
	return payload
}
