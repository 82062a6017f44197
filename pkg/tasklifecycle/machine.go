// Package tasklifecycle implements the task state machine, the Claim
// self-assignment primitive, and the active_task_count maintenance rules
// that accompany every transition (spec §4.4).
package tasklifecycle

import "github.com/cavendo/fleetctl/pkg/models"

// transitions is the six-state machine from spec §4.4. cancel is legal
// from every non-terminal state, so it is added to each entry below rather
// than repeated as a special case at every call site.
var transitions = map[models.TaskStatus][]models.TaskStatus{
	models.TaskStatusPending: {
		models.TaskStatusAssigned, models.TaskStatusCancelled,
	},
	models.TaskStatusAssigned: {
		models.TaskStatusInProgress, models.TaskStatusCancelled,
	},
	models.TaskStatusInProgress: {
		models.TaskStatusReview, models.TaskStatusCancelled,
	},
	models.TaskStatusReview: {
		models.TaskStatusCompleted, models.TaskStatusAssigned, models.TaskStatusCancelled,
	},
	models.TaskStatusCompleted: {},
	models.TaskStatusCancelled: {},
}

// CanTransition reports whether from -> to is a legal edge in the state
// machine.
func CanTransition(from, to models.TaskStatus) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// enteringTerminal reports whether to is terminal and from is not - the
// condition under which the assignee's active_task_count is released.
func enteringTerminal(from, to models.TaskStatus) bool {
	return !from.IsTerminal() && to.IsTerminal()
}

// leavingTerminal reports whether from is terminal and to is not - the
// condition under which the assignee's active_task_count is re-reserved.
func leavingTerminal(from, to models.TaskStatus) bool {
	return from.IsTerminal() && !to.IsTerminal()
}
