package api

import (
	"encoding/base64"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/cavendo/fleetctl/internal/apierr"
	"github.com/cavendo/fleetctl/pkg/auth"
	"github.com/cavendo/fleetctl/pkg/db"
	"github.com/cavendo/fleetctl/pkg/deliverables"
	"github.com/cavendo/fleetctl/pkg/models"
)

// DeliverableAPI registers the deliverable endpoints from spec §6.
type DeliverableAPI struct {
	deliverables *deliverables.Service
	handle       *db.DB
}

// NewDeliverableAPI builds a DeliverableAPI.
func NewDeliverableAPI(svc *deliverables.Service, handle *db.DB) *DeliverableAPI {
	return &DeliverableAPI{deliverables: svc, handle: handle}
}

// RegisterRoutes mounts deliverable endpoints under router.
func (a *DeliverableAPI) RegisterRoutes(router *gin.RouterGroup) {
	d := router.Group("/deliverables")
	d.POST("", a.submit)
	d.POST("/:id/revision", a.submitRevision)
	d.PATCH("/:id/review", a.review)
}

// fileUploadRequest carries attachment bytes base64-encoded in the JSON
// body, matching how the teacher's webhook payloads carry binary content
// inline rather than via multipart.
type fileUploadRequest struct {
	Filename string `json:"filename"`
	Content  string `json:"content"` // base64
}

func (r fileUploadRequest) toUpload() (deliverables.FileUpload, error) {
	content, err := base64.StdEncoding.DecodeString(r.Content)
	if err != nil {
		return deliverables.FileUpload{}, apierr.Validation(apierr.FieldError{Path: "files." + r.Filename, Message: "content is not valid base64"})
	}
	return deliverables.FileUpload{Filename: r.Filename, Content: content}, nil
}

func toUploads(reqs []fileUploadRequest) ([]deliverables.FileUpload, error) {
	out := make([]deliverables.FileUpload, 0, len(reqs))
	for _, r := range reqs {
		u, err := r.toUpload()
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, nil
}

type submitDeliverableRequest struct {
	TaskID      *string              `json:"taskId"`
	ProjectID   *string              `json:"projectId"`
	SubmitterID string               `json:"submitterId"`
	ContentType models.ContentType   `json:"contentType"`
	Content     string               `json:"content"`
	Files       []fileUploadRequest  `json:"files"`
}

func (a *DeliverableAPI) submit(c *gin.Context) {
	if _, ok := requireIdentity(c); !ok {
		return
	}
	var req submitDeliverableRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, apierr.Validation(apierr.FieldError{Path: "body", Message: err.Error()}))
		return
	}
	files, err := toUploads(req.Files)
	if err != nil {
		fail(c, err)
		return
	}

	deliverable, err := a.deliverables.Submit(c.Request.Context(), deliverables.SubmitInput{
		TaskID: req.TaskID, ProjectID: req.ProjectID, SubmitterID: req.SubmitterID,
		ContentType: req.ContentType, Content: req.Content, Files: files,
	})
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusCreated, deliverable)
}

type submitRevisionRequest struct {
	SubmitterID string               `json:"submitterId"`
	ContentType models.ContentType   `json:"contentType"`
	Content     string               `json:"content"`
	Files       []fileUploadRequest  `json:"files"`
}

func (a *DeliverableAPI) submitRevision(c *gin.Context) {
	identity, idOK := requireIdentity(c)
	if !idOK {
		return
	}
	parentID := c.Param("id")
	if !a.authorizeDeliverable(c, identity, parentID, "deliverable.submit") {
		return
	}

	var req submitRevisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, apierr.Validation(apierr.FieldError{Path: "body", Message: err.Error()}))
		return
	}
	files, err := toUploads(req.Files)
	if err != nil {
		fail(c, err)
		return
	}

	deliverable, err := a.deliverables.SubmitRevision(c.Request.Context(), deliverables.SubmitRevisionInput{
		ParentID: parentID, SubmitterID: req.SubmitterID, ContentType: req.ContentType, Content: req.Content, Files: files,
	})
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusCreated, deliverable)
}

func (a *DeliverableAPI) review(c *gin.Context) {
	identity, idOK := requireIdentity(c)
	if !idOK {
		return
	}
	deliverableID := c.Param("id")
	if !a.authorizeDeliverable(c, identity, deliverableID, "deliverable.review") {
		return
	}

	var req struct {
		Decision     deliverables.ReviewDecision `json:"decision"`
		ReviewerName string                      `json:"reviewerName"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, apierr.Validation(apierr.FieldError{Path: "body", Message: err.Error()}))
		return
	}
	deliverable, err := a.deliverables.Review(c.Request.Context(), deliverableID, req.Decision, req.ReviewerName)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, deliverable)
}

// authorizeDeliverable loads the deliverable's submitter (treated as the
// owning agent when the submitter id is one, which auth.Authorize cannot
// distinguish from a human name — ownership checks degrade gracefully to
// "no match" for non-agent submitter ids) before consulting auth.Authorize.
func (a *DeliverableAPI) authorizeDeliverable(c *gin.Context, identity auth.Identity, deliverableID, action string) bool {
	var row struct {
		SubmitterID string  `db:"submitter_id"`
		OwnerUserID *string `db:"owner_user_id"`
	}
	err := a.handle.One(c.Request.Context(), &row,
		`SELECT d.submitter_id, a.owner_user_id FROM deliverables d
		 LEFT JOIN agents a ON a.id = d.submitter_id WHERE d.id = ?`, deliverableID)
	entity := auth.Entity{Exists: err == nil}
	if err != nil && err != db.ErrNoRows {
		fail(c, err)
		return false
	}
	if row.SubmitterID != "" {
		entity.OwningAgentID = &row.SubmitterID
	}
	entity.AgentOwnerUserID = row.OwnerUserID

	switch auth.Authorize(identity, auth.Action(action), entity) {
	case auth.Allow:
		return true
	case auth.NotFound:
		fail(c, apierr.New(apierr.KindNotFound, "deliverable "+deliverableID+" not found"))
		return false
	default:
		fail(c, apierr.New(apierr.KindAuthorization, "not permitted to perform "+action))
		return false
	}
}
