package models

import "time"

// DeliverableStatus is the review state of a Deliverable.
type DeliverableStatus string

const (
	DeliverableStatusPending           DeliverableStatus = "pending"
	DeliverableStatusApproved          DeliverableStatus = "approved"
	DeliverableStatusRevisionRequested DeliverableStatus = "revision_requested"
	DeliverableStatusRevised           DeliverableStatus = "revised"
	DeliverableStatusRejected          DeliverableStatus = "rejected"
)

// ContentType is the format of a Deliverable's primary content.
type ContentType string

const (
	ContentTypeMarkdown ContentType = "markdown"
	ContentTypeHTML     ContentType = "html"
	ContentTypeJSON     ContentType = "json"
	ContentTypeText     ContentType = "text"
	ContentTypeCode     ContentType = "code"
)

// Deliverable is an artifact an agent submits against a task, or standalone
// against a project. (task_id, version) is unique whenever task_id is set;
// see deliverables.Submit for the protocol that enforces this.
type Deliverable struct {
	ID          string            `json:"id" db:"id"`
	TaskID      *string           `json:"taskId,omitempty" db:"task_id"`
	ProjectID   *string           `json:"projectId,omitempty" db:"project_id"`
	SubmitterID string            `json:"submitterId" db:"submitter_id"`
	Version     int               `json:"version" db:"version"`
	ParentID    *string           `json:"parentId,omitempty" db:"parent_id"`
	Status      DeliverableStatus `json:"status" db:"status"`
	ContentType ContentType       `json:"contentType" db:"content_type"`
	Content     string            `json:"content,omitempty" db:"content"`
	Files       JSONArray         `json:"files,omitempty" db:"files"`
	Actions     JSONArray         `json:"actions,omitempty" db:"actions"`
	CreatedAt   time.Time         `json:"createdAt" db:"created_at"`
	UpdatedAt   time.Time         `json:"updatedAt" db:"updated_at"`
}

// FileLimits bound the size of a single attachment and of a submission as a
// whole. Enforced before the versioning transaction opens so a rejected
// upload never produces an orphaned deliverable row.
const (
	MaxFileBytes       = 10 * 1024 * 1024
	MaxTotalFilesBytes = 50 * 1024 * 1024
)
