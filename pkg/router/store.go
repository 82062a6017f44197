// Package router evaluates a project's routing-rule list against a task
// descriptor and selects one agent (spec §4.3), and exposes the atomic
// capacity-reservation primitive that backs task assignment.
package router

import (
	"context"

	"github.com/cavendo/fleetctl/pkg/db"
	"github.com/cavendo/fleetctl/pkg/models"
)

// AgentLookup is the read access the evaluator needs, against the same tx
// the caller is about to reserve capacity in — evaluation and reservation
// must see the same snapshot of agent state. task lifecycle code supplies
// SQLAgentLookup; tests supply an in-memory one.
type AgentLookup interface {
	Get(ctx context.Context, tx db.Handle, id string) (*models.Agent, error)
	ListActiveByCapability(ctx context.Context, tx db.Handle, capability string) ([]*models.Agent, error)
}

// Cursor tracks the round_robin strategy's per-project, per-capability
// pointer. It is process-local: spec.md's concurrency model assumes a
// single writer for the hot paths, so an in-memory cursor is sufficient and
// avoids a schema column nothing else needs.
type Cursor interface {
	Next(projectID, capability string, candidateCount int) int
}
