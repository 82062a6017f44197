package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/cavendo/fleetctl/internal/apierr"
	"github.com/cavendo/fleetctl/pkg/auth"
	"github.com/cavendo/fleetctl/pkg/db"
	"github.com/cavendo/fleetctl/pkg/models"
	"github.com/cavendo/fleetctl/pkg/tasklifecycle"
)

// maxBulkTasks bounds POST /tasks/bulk, per spec §6.
const maxBulkTasks = 50

// TaskAPI registers the task endpoints from spec §6.
type TaskAPI struct {
	tasks  *tasklifecycle.Service
	handle *db.DB
}

// NewTaskAPI builds a TaskAPI.
func NewTaskAPI(tasks *tasklifecycle.Service, handle *db.DB) *TaskAPI {
	return &TaskAPI{tasks: tasks, handle: handle}
}

// RegisterRoutes mounts task endpoints under router.
func (a *TaskAPI) RegisterRoutes(router *gin.RouterGroup) {
	tasks := router.Group("/tasks")
	tasks.POST("", a.create)
	tasks.POST("/bulk", a.createBulk)
	tasks.PATCH("/:id", a.update)
	tasks.POST("/:id/claim", a.claim)
	tasks.PATCH("/:id/status", a.changeStatus)
	tasks.POST("/:id/progress", a.addProgress)
}

type createTaskRequest struct {
	ProjectID       *string         `json:"projectId"`
	Title           string          `json:"title"`
	Description     string          `json:"description"`
	Priority        int             `json:"priority"`
	Tags            []string        `json:"tags"`
	Context         models.JSONMap  `json:"context"`
	AssignedAgentID *string         `json:"assignedAgentId"`
}

func (r createTaskRequest) toInput() tasklifecycle.CreateInput {
	in := tasklifecycle.CreateInput{
		ProjectID: r.ProjectID, Title: r.Title, Description: r.Description,
		Priority: r.Priority, Tags: r.Tags, Context: r.Context,
	}
	// "auto" requests routing rather than naming an explicit agent - the
	// router path is what omitting the field already means, so both spellings
	// funnel to a nil AssignedAgentID.
	if r.AssignedAgentID != nil && *r.AssignedAgentID != "auto" {
		in.AssignedAgentID = r.AssignedAgentID
	}
	return in
}

func (a *TaskAPI) create(c *gin.Context) {
	if _, ok := requireIdentity(c); !ok {
		return
	}
	var req createTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, apierr.Validation(apierr.FieldError{Path: "body", Message: err.Error()}))
		return
	}
	task, err := a.tasks.Create(c.Request.Context(), req.toInput())
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusCreated, task)
}

func (a *TaskAPI) createBulk(c *gin.Context) {
	if _, ok := requireIdentity(c); !ok {
		return
	}
	var reqs []createTaskRequest
	if err := c.ShouldBindJSON(&reqs); err != nil {
		fail(c, apierr.Validation(apierr.FieldError{Path: "body", Message: err.Error()}))
		return
	}
	if len(reqs) == 0 || len(reqs) > maxBulkTasks {
		fail(c, apierr.Validation(apierr.FieldError{Path: "body", Message: "must submit between 1 and 50 tasks"}))
		return
	}

	created := make([]*models.Task, 0, len(reqs))
	for _, req := range reqs {
		task, err := a.tasks.Create(c.Request.Context(), req.toInput())
		if err != nil {
			fail(c, err)
			return
		}
		created = append(created, task)
	}
	ok(c, http.StatusCreated, created)
}

type updateTaskRequest struct {
	Priority    *int     `json:"priority"`
	Title       *string  `json:"title"`
	Description *string  `json:"description"`
	Tags        []string `json:"tags"`
}

func (a *TaskAPI) update(c *gin.Context) {
	identity, ok := requireIdentity(c)
	if !ok {
		return
	}
	taskID := c.Param("id")
	if !a.authorizeTask(c, identity, taskID, "task.update") {
		return
	}

	var req updateTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, apierr.Validation(apierr.FieldError{Path: "body", Message: err.Error()}))
		return
	}
	task, err := a.tasks.Update(c.Request.Context(), taskID, tasklifecycle.UpdateInput{
		Priority: req.Priority, Title: req.Title, Description: req.Description, Tags: req.Tags,
	})
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, task)
}

func (a *TaskAPI) claim(c *gin.Context) {
	identity, idOK := requireIdentity(c)
	if !idOK {
		return
	}
	taskID := c.Param("id")
	if !a.authorizeTask(c, identity, taskID, "task.claim") {
		return
	}

	var req struct {
		AgentID string `json:"agentId"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.AgentID == "" {
		fail(c, apierr.Validation(apierr.FieldError{Path: "agentId", Message: "is required"}))
		return
	}
	task, err := a.tasks.Claim(c.Request.Context(), taskID, req.AgentID)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, task)
}

func (a *TaskAPI) changeStatus(c *gin.Context) {
	identity, idOK := requireIdentity(c)
	if !idOK {
		return
	}
	taskID := c.Param("id")
	if !a.authorizeTask(c, identity, taskID, "task.status") {
		return
	}

	var req struct {
		Status    models.TaskStatus `json:"status"`
		ActorName string            `json:"actorName"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, apierr.Validation(apierr.FieldError{Path: "body", Message: err.Error()}))
		return
	}
	task, err := a.tasks.ChangeStatus(c.Request.Context(), taskID, req.Status, req.ActorName)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, task)
}

func (a *TaskAPI) addProgress(c *gin.Context) {
	identity, idOK := requireIdentity(c)
	if !idOK {
		return
	}
	taskID := c.Param("id")
	if !a.authorizeTask(c, identity, taskID, "task.progress") {
		return
	}

	var req struct {
		Message string          `json:"message"`
		Detail  models.JSONMap  `json:"detail"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, apierr.Validation(apierr.FieldError{Path: "body", Message: err.Error()}))
		return
	}
	entry, err := a.tasks.AddProgress(c.Request.Context(), taskID, tasklifecycle.ProgressEntryInput{Message: req.Message, Detail: req.Detail})
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusCreated, entry)
}

// authorizeTask loads the task's ownership facts and consults
// auth.Authorize before the handler proceeds; it writes the fail response
// itself and returns false when the caller should stop.
func (a *TaskAPI) authorizeTask(c *gin.Context, identity auth.Identity, taskID, action string) bool {
	var row struct {
		AssignedAgentID *string `db:"assigned_agent_id"`
		OwnerUserID     *string `db:"owner_user_id"`
	}
	err := a.handle.One(c.Request.Context(), &row,
		`SELECT t.assigned_agent_id, a.owner_user_id FROM tasks t
		 LEFT JOIN agents a ON a.id = t.assigned_agent_id WHERE t.id = ?`, taskID)
	entity := auth.Entity{Exists: err == nil}
	if err != nil && err != db.ErrNoRows {
		fail(c, err)
		return false
	}
	entity.OwningAgentID = row.AssignedAgentID
	entity.AgentOwnerUserID = row.OwnerUserID

	switch auth.Authorize(identity, auth.Action(action), entity) {
	case auth.Allow:
		return true
	case auth.NotFound:
		fail(c, apierr.New(apierr.KindNotFound, "task "+taskID+" not found"))
		return false
	default:
		fail(c, apierr.New(apierr.KindAuthorization, "not permitted to perform "+action))
		return false
	}
}
