// Package api wires the HTTP surface from spec §6 onto the tasklifecycle,
// deliverables, routingrules, and dispatch services, following the
// gin-gonic handler/route-group layout the teacher's handlers package uses.
package api

import (
	"errors"

	"github.com/gin-gonic/gin"

	"github.com/cavendo/fleetctl/internal/apierr"
)

// envelope is the {success, data?, error?} response shape spec §6 requires
// of every endpoint.
type envelope struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *errorBody  `json:"error,omitempty"`
}

type errorBody struct {
	Kind    string               `json:"kind"`
	Message string               `json:"message"`
	Fields  []apierr.FieldError  `json:"fields,omitempty"`
}

func ok(c *gin.Context, status int, data interface{}) {
	c.JSON(status, envelope{Success: true, Data: data})
}

// fail classifies err through apierr and writes the matching HTTP status
// and envelope. Every handler funnels its error return through this single
// function, so a kind's status mapping only has to be right in one place.
func fail(c *gin.Context, err error) {
	var apiErr *apierr.Error
	if !errors.As(err, &apiErr) {
		apiErr = apierr.Wrap(apierr.Classify(err), err, "request failed")
	}
	c.JSON(apiErr.Kind.HTTPStatus(), envelope{
		Success: false,
		Error:   &errorBody{Kind: string(apiErr.Kind), Message: apiErr.Message, Fields: apiErr.Fields},
	})
}
