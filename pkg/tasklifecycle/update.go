package tasklifecycle

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/cavendo/fleetctl/internal/apierr"
	"github.com/cavendo/fleetctl/pkg/db"
	"github.com/cavendo/fleetctl/pkg/models"
)

// UpdateInput is the PATCH /tasks/:id request shape. Nil fields are left
// unchanged. All states except the terminal ones accept these edits, per
// spec §4.4.
type UpdateInput struct {
	Priority    *int
	Title       *string
	Description *string
	Tags        []string
}

// Update edits priority/title/description/tags on a non-terminal task.
func (s *Service) Update(ctx context.Context, taskID string, in UpdateInput) (*models.Task, error) {
	var task *models.Task

	err := s.handle.Tx(ctx, func(ctx context.Context, tx db.Handle) error {
		t, err := getTaskForUpdate(ctx, tx, taskID)
		if err != nil {
			return err
		}
		if t.Status.IsTerminal() {
			return apierr.New(apierr.KindValidation, "cannot edit a task in terminal status "+string(t.Status))
		}
		if in.Priority != nil && !models.ValidPriority(*in.Priority) {
			return apierr.Validation(apierr.FieldError{Path: "priority", Message: "must be between 1 and 4"})
		}

		if in.Priority != nil {
			t.Priority = *in.Priority
		}
		if in.Title != nil {
			t.Title = *in.Title
		}
		if in.Description != nil {
			t.Description = *in.Description
		}
		if in.Tags != nil {
			t.Tags = models.StringArray(in.Tags)
		}
		t.UpdatedAt = time.Now().UTC()

		_, err = tx.Exec(ctx,
			"UPDATE tasks SET priority = ?, title = ?, description = ?, tags = ?, updated_at = ? WHERE id = ?",
			t.Priority, t.Title, t.Description, t.Tags, t.UpdatedAt, taskID,
		)
		if err != nil {
			return apierr.Wrap(apierr.Classify(err), err, "failed to update task")
		}

		if err := s.activity.Record(ctx, tx, models.EntityTypeTask, taskID, "task.updated", "system", nil); err != nil {
			return err
		}

		task = t
		return nil
	})
	return task, err
}

// ProgressEntryInput is the POST /tasks/:id/progress request shape.
type ProgressEntryInput struct {
	Message string
	Detail  models.JSONMap
}

// AddProgress appends an append-only progress note. Progress notes do not
// drive any state transition; they are purely informational.
func (s *Service) AddProgress(ctx context.Context, taskID string, in ProgressEntryInput) (*models.ProgressEntry, error) {
	if in.Message == "" {
		return nil, apierr.Validation(apierr.FieldError{Path: "message", Message: "is required"})
	}

	entry := &models.ProgressEntry{ID: uuid.NewString(), TaskID: taskID, Message: in.Message, Detail: in.Detail, CreatedAt: time.Now().UTC()}

	err := s.handle.Tx(ctx, func(ctx context.Context, tx db.Handle) error {
		if _, err := getTaskForUpdate(ctx, tx, taskID); err != nil {
			return err
		}
		_, err := tx.Insert(ctx,
			"INSERT INTO task_progress_entries (id, task_id, message, detail, created_at) VALUES (?, ?, ?, ?, ?)",
			entry.ID, entry.TaskID, entry.Message, entry.Detail, entry.CreatedAt,
		)
		if err != nil {
			return apierr.Wrap(apierr.Classify(err), err, "failed to record progress entry")
		}
		return s.activity.Record(ctx, tx, models.EntityTypeTask, taskID, "task.progress_added", "system", models.JSONMap{"message": in.Message})
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}
