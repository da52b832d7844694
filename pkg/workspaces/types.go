// Package workspaces manages tenants, memberships, and workspace roles.
package workspaces

import (
	"errors"
	"time"
)

// Plan is the workspace billing tier
type Plan string

const (
	PlanFree       Plan = "free"
	PlanPro        Plan = "pro"
	PlanEnterprise Plan = "enterprise"
)

// Role is a workspace-scoped member role
type Role string

const (
	RoleOwner  Role = "owner"
	RoleAdmin  Role = "admin"
	RoleMember Role = "member"
	RoleViewer Role = "viewer"
)

// Level places roles on a total order: viewer < member < admin < owner.
// Unknown roles rank below viewer so they never satisfy a requirement.
func (r Role) Level() int {
	switch r {
	case RoleOwner:
		return 4
	case RoleAdmin:
		return 3
	case RoleMember:
		return 2
	case RoleViewer:
		return 1
	default:
		return 0
	}
}

// Valid reports whether r is a known workspace role
func (r Role) Valid() bool {
	return r.Level() > 0
}

// AtLeast reports whether r satisfies the required role
func (r Role) AtLeast(required Role) bool {
	return r.Level() >= required.Level()
}

// HighestRole returns the most privileged role in the list, or fallback when
// the list contains no valid role. Used by JIT group mapping where explicit
// admin grants must not be silently downgraded.
func HighestRole(roles []Role, fallback Role) Role {
	best := Role("")
	for _, r := range roles {
		if r.Valid() && r.Level() > best.Level() {
			best = r
		}
	}
	if best == "" {
		return fallback
	}
	return best
}

// Workspace is a tenant. A workspace always has exactly one owner.
type Workspace struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Slug        string    `json:"slug"`
	OwnerID     string    `json:"owner_id"`
	Plan        Plan      `json:"plan"`
	SSOEnabled  bool      `json:"sso_enabled"`
	SSOEnforced bool      `json:"sso_enforced"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Member links one user to one workspace with a role. Unique on
// (workspace_id, user_id).
type Member struct {
	ID          string    `json:"id"`
	WorkspaceID string    `json:"workspace_id"`
	UserID      string    `json:"user_id"`
	Role        Role      `json:"role"`
	CreatedAt   time.Time `json:"created_at"`
}

var (
	// ErrNotFound indicates the workspace or member does not exist.
	ErrNotFound = errors.New("workspaces: not found")
	// ErrSlugTaken indicates the requested slug is already in use.
	ErrSlugTaken = errors.New("workspaces: slug already in use")
	// ErrAlreadyMember indicates the user already belongs to the workspace.
	ErrAlreadyMember = errors.New("workspaces: user is already a member")
	// ErrOwnerImmutable indicates an attempt to remove or demote the owner
	// outside of an ownership transfer.
	ErrOwnerImmutable = errors.New("workspaces: owner membership cannot be removed")
	// ErrForbidden indicates the acting user lacks the required role.
	ErrForbidden = errors.New("workspaces: insufficient role")
	// ErrInvalidRole indicates an unknown role value.
	ErrInvalidRole = errors.New("workspaces: invalid role")
	// ErrInvalidName indicates a name that produces an empty slug.
	ErrInvalidName = errors.New("workspaces: name produces empty slug")
)
