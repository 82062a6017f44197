package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/cavendo/fleetctl/internal/apierr"
	"github.com/cavendo/fleetctl/pkg/auth"
	"github.com/cavendo/fleetctl/pkg/models"
	"github.com/cavendo/fleetctl/pkg/routingrules"
)

// RoutingRuleAPI registers the GET/PUT rule-list and dry-run endpoints
// from spec §6 under /projects/:id.
type RoutingRuleAPI struct {
	rules *routingrules.Service
}

// NewRoutingRuleAPI builds a RoutingRuleAPI.
func NewRoutingRuleAPI(svc *routingrules.Service) *RoutingRuleAPI {
	return &RoutingRuleAPI{rules: svc}
}

// RegisterRoutes mounts routing-rule endpoints under router.
func (a *RoutingRuleAPI) RegisterRoutes(router *gin.RouterGroup) {
	projects := router.Group("/projects/:id")
	projects.GET("/routing-rules", a.list)
	projects.PUT("/routing-rules", a.replace)
	projects.POST("/routing-rules/test", a.test)
}

func (a *RoutingRuleAPI) list(c *gin.Context) {
	identity, idOK := requireIdentity(c)
	if !idOK {
		return
	}
	if !authorizeProjectAction(c, identity, "routing_rule.read") {
		return
	}
	rules, err := a.rules.List(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, rules)
}

func (a *RoutingRuleAPI) replace(c *gin.Context) {
	identity, idOK := requireIdentity(c)
	if !idOK {
		return
	}
	if !authorizeProjectAction(c, identity, "routing_rule.write") {
		return
	}

	var rules []models.RoutingRule
	if err := c.ShouldBindJSON(&rules); err != nil {
		fail(c, apierr.Validation(apierr.FieldError{Path: "body", Message: err.Error()}))
		return
	}
	replaced, err := a.rules.Replace(c.Request.Context(), c.Param("id"), rules)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, replaced)
}

func (a *RoutingRuleAPI) test(c *gin.Context) {
	identity, idOK := requireIdentity(c)
	if !idOK {
		return
	}
	if !authorizeProjectAction(c, identity, "routing_rule.read") {
		return
	}

	var req struct {
		Tags     []string        `json:"tags"`
		Priority int             `json:"priority"`
		Context  models.JSONMap  `json:"context"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, apierr.Validation(apierr.FieldError{Path: "body", Message: err.Error()}))
		return
	}
	result, err := a.rules.Test(c.Request.Context(), c.Param("id"), routingrules.TestInput{
		Tags: req.Tags, Priority: req.Priority, Context: req.Context,
	})
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, result)
}

// authorizeProjectAction is deliberately coarser than the task/deliverable
// checks: routing rules have no single owning agent, so only roles with an
// explicit grant (admin, reviewer's read-only grant, viewer's read-only
// grant) may touch them.
func authorizeProjectAction(c *gin.Context, identity auth.Identity, action string) bool {
	switch auth.Authorize(identity, auth.Action(action), auth.Entity{Exists: true}) {
	case auth.Allow:
		return true
	default:
		fail(c, apierr.New(apierr.KindAuthorization, "not permitted to perform "+action))
		return false
	}
}
