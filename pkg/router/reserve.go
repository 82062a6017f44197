package router

import (
	"context"

	"github.com/cavendo/fleetctl/pkg/db"
)

// ReserveResult is the outcome of Reserve.
type ReserveResult struct {
	OK     bool
	Reason string // populated only when OK is false
}

// Reserve performs the atomic compare-and-increment described in spec
// §4.3: `active_task_count = active_task_count + 1` guarded by
// `status = 'active' AND (max_concurrent_tasks IS NULL OR
// COALESCE(active_task_count, 0) < max_concurrent_tasks)`. It must be
// called with the same tx that inserts (or updates) the task row, so a
// subsequent rollback releases the reservation automatically.
func Reserve(ctx context.Context, tx db.Handle, agentID string) (ReserveResult, error) {
	res, err := tx.Exec(ctx,
		`UPDATE agents SET active_task_count = active_task_count + 1
		 WHERE id = ? AND status = 'active'
		   AND (max_concurrent_tasks IS NULL OR COALESCE(active_task_count, 0) < max_concurrent_tasks)`,
		agentID,
	)
	if err != nil {
		return ReserveResult{}, err
	}
	if res.Changes == 1 {
		return ReserveResult{OK: true}, nil
	}

	reason, err := diagnoseReserveFailure(ctx, tx, agentID)
	if err != nil {
		return ReserveResult{}, err
	}
	return ReserveResult{OK: false, Reason: reason}, nil
}

// diagnoseReserveFailure re-reads the agent row (inside the same
// transaction, so it sees the state Reserve just failed to improve on) to
// produce the specific reason spec §4.3 asks be surfaced into the task's
// routing_decision.
func diagnoseReserveFailure(ctx context.Context, tx db.Handle, agentID string) (string, error) {
	var row struct {
		Status             string `db:"status"`
		ActiveTaskCount     int    `db:"active_task_count"`
		MaxConcurrentTasks  *int   `db:"max_concurrent_tasks"`
	}
	err := tx.One(ctx, &row, "SELECT status, active_task_count, max_concurrent_tasks FROM agents WHERE id = ?", agentID)
	if err == db.ErrNoRows {
		return "agent not found", nil
	}
	if err != nil {
		return "", err
	}
	if row.Status != "active" {
		return "agent not active", nil
	}
	return "at capacity", nil
}

// Release decrements the assigned agent's counter by one, guarded against
// going negative. Used when unassigning a task or moving it into a
// terminal status from a non-terminal one.
func Release(ctx context.Context, tx db.Handle, agentID string) error {
	_, err := tx.Exec(ctx, "UPDATE agents SET active_task_count = MAX(0, active_task_count - 1) WHERE id = ?", agentID)
	return err
}

// ForceReserve increments unconditionally, for direct admin reassignment
// which spec §4.3 says "may bypass the capacity check." Overdraft is the
// operator's call at that point, not this primitive's.
func ForceReserve(ctx context.Context, tx db.Handle, agentID string) error {
	_, err := tx.Exec(ctx, "UPDATE agents SET active_task_count = active_task_count + 1 WHERE id = ?", agentID)
	return err
}
