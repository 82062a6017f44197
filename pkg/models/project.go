package models

import "time"

// Project groups rules, tasks, and (optionally) routes under one namespace.
// Routes may instead be global (ProjectID nil on the Route itself).
type Project struct {
	ID             string    `json:"id" db:"id"`
	Name           string    `json:"name" db:"name"`
	DefaultAgentID *string   `json:"defaultAgentId,omitempty" db:"default_agent_id"`
	CreatedAt      time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt      time.Time `json:"updatedAt" db:"updated_at"`
}
