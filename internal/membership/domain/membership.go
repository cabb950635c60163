package domain

import (
	"time"
)

// Membership links a user to an organization with a role. At most one active
// membership per (user, org) pair is meaningful; deactivation is the system's
// only revocation signal and is observed at the next refresh or org switch.
type Membership struct {
	ID         string
	UserID     string
	OrgID      string
	Role       Role
	IsOrgAdmin bool
	Active     bool
	CreatedAt  time.Time
}

type Role string

const (
	RoleOwner  Role = "owner"
	RoleAdmin  Role = "admin"
	RoleMember Role = "member"
)
