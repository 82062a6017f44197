// Package auth resolves an inbound request's identity and exposes the
// authorize predicate every mutating operation in tasklifecycle,
// deliverables, and the routing-rules endpoints consults before acting.
package auth

// Role is a user's static permission tier.
type Role string

const (
	RoleAdmin    Role = "admin"
	RoleReviewer Role = "reviewer"
	RoleViewer   Role = "viewer"
)

// Identity is the sealed variant spec §9's design note calls for in place
// of passing a generic request object through predicates: a session user,
// a user API key, or an agent API key. Exactly one concrete type is ever
// in play for a given request.
type Identity interface {
	isIdentity()
}

// User is a human operator authenticated via session cookie.
type User struct {
	ID   string
	Role Role
}

func (User) isIdentity() {}

// UserKey is a human operator authenticated via a `cav_uk_…` API key. It
// carries the ids of the agents that key's owner registered, since a user
// key's reach extends to entities owned by those agents.
type UserKey struct {
	UserID        string
	Role          Role
	OwnedAgentIDs []string
}

func (UserKey) isIdentity() {}

// AgentKey is an agent authenticated via a `cav_ak_…` API key.
type AgentKey struct {
	AgentID     string
	OwnerUserID string
}

func (AgentKey) isIdentity() {}

func (k UserKey) owns(agentID string) bool {
	for _, id := range k.OwnedAgentIDs {
		if id == agentID {
			return true
		}
	}
	return false
}
