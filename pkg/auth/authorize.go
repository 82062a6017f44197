package auth

// Action names an operation being attempted, e.g. "task.read",
// "task.claim", "deliverable.review". Actions are free-form strings rather
// than a closed enum since new endpoints add new actions over time; the
// role matrix below is the single place that has to know about all of
// them.
type Action string

// Decision is the outcome of authorize.
type Decision string

const (
	Allow    Decision = "allow"
	Deny     Decision = "deny"
	NotFound Decision = "notFound"
)

// Entity describes the ownership facts authorize needs about the thing
// being acted on. Callers populate it from the task/deliverable row (and,
// when the owner is an agent, that agent's owner_user_id) before calling
// authorize; authorize itself never touches the database.
type Entity struct {
	Exists bool

	// OwningAgentID is the agent that directly owns this entity (a task's
	// assigned_agent_id, a deliverable's submitter_id when the submitter is
	// an agent).
	OwningAgentID *string

	// AgentOwnerUserID is OwningAgentID's owner_user_id, if any.
	AgentOwnerUserID *string
}

// roleMatrix is the static role→action table the Open Question in spec §9
// resolves to: no "wildcard user key" path, just this table.
var roleMatrix = map[Role]map[string]bool{
	RoleAdmin: {"*": true},
	RoleReviewer: {
		"task.read": true, "task.update": true, "task.status": true, "task.claim": true, "task.progress": true,
		"deliverable.read": true, "deliverable.submit": true, "deliverable.review": true,
		"routing_rule.read": true,
	},
	RoleViewer: {
		"task.read": true, "deliverable.read": true, "routing_rule.read": true,
	},
}

func (r Role) permits(action Action) bool {
	scopes, ok := roleMatrix[r]
	if !ok {
		return false
	}
	if scopes["*"] {
		return true
	}
	return scopes[string(action)]
}

// Authorize implements the predicate from spec §4.7 and §9: a session user
// is allowed when its role is admin or the static role matrix permits the
// action; a user key when the matrix permits the action or the key's user
// owns the owning agent; an agent key only when it is the owning agent or
// shares that agent's owner_user_id. Agent keys never consult the matrix.
func Authorize(identity Identity, action Action, entity Entity) Decision {
	if !entity.Exists {
		return NotFound
	}

	switch id := identity.(type) {
	case User:
		if id.Role == RoleAdmin {
			return Allow
		}
		if id.Role.permits(action) {
			return Allow
		}
		return Deny

	case UserKey:
		if id.Role.permits(action) {
			return Allow
		}
		if entity.OwningAgentID != nil && id.owns(*entity.OwningAgentID) {
			return Allow
		}
		return Deny

	case AgentKey:
		if entity.OwningAgentID != nil && *entity.OwningAgentID == id.AgentID {
			return Allow
		}
		if entity.AgentOwnerUserID != nil && *entity.AgentOwnerUserID == id.OwnerUserID {
			return Allow
		}
		return Deny

	default:
		return Deny
	}
}
