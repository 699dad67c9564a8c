// Package member manages who belongs to a space and with which role.
package member

import (
	"context"
	"fmt"
	"strings"
	"time"

	"gatherly.app/internal/apperr"
	"gatherly.app/internal/identity"
)

// Role is a membership role. Roles form a total order: viewer < member <
// editor < admin.
type Role string

const (
	RoleViewer Role = "viewer"
	RoleMember Role = "member"
	RoleEditor Role = "editor"
	RoleAdmin  Role = "admin"
)

var ranks = map[Role]int{
	RoleViewer: 1,
	RoleMember: 2,
	RoleEditor: 3,
	RoleAdmin:  4,
}

// Roles lists every valid role from lowest to highest.
var Roles = []Role{RoleViewer, RoleMember, RoleEditor, RoleAdmin}

// Rank is the position of r in the lattice; unknown roles rank 0.
func (r Role) Rank() int { return ranks[r] }

// Valid reports whether r is one of the four known roles.
func (r Role) Valid() bool { return ranks[r] > 0 }

// AtLeast reports whether r is min or higher. Unknown roles satisfy nothing.
func (r Role) AtLeast(min Role) bool {
	return r.Valid() && min.Valid() && r.Rank() >= min.Rank()
}

// ParseRole validates s case-insensitively.
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	if !r.Valid() {
		return "", fmt.Errorf("%w: unknown role %q", apperr.ErrInvalidInput, s)
	}
	return r, nil
}

// Membership links a user to a space. Inactive memberships grant nothing.
type Membership struct {
	SpaceID   string    `json:"space_id"`
	UserID    string    `json:"user_id"`
	Role      Role      `json:"role"`
	IsActive  bool      `json:"is_active"`
	IsPrivate bool      `json:"is_private"`
	JoinedAt  time.Time `json:"joined_at"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Member is a membership joined with the user's directory entry.
type Member struct {
	Membership
	User identity.User `json:"user"`
}

// ListFilter narrows a member listing. Search matches name or email.
type ListFilter struct {
	Search string
	Limit  int
	Offset int
}

// Page is one page of members plus the total number of matches.
type Page struct {
	Members []Member `json:"members"`
	Total   int      `json:"total"`
	Limit   int      `json:"limit"`
	Offset  int      `json:"offset"`
}

// Store persists memberships. Find returns apperr.ErrNotFound when the user
// has no row in the space; Insert returns apperr.ErrAlreadyExists when one
// already exists.
type Store interface {
	Find(ctx context.Context, spaceID, userID string) (Membership, error)
	Insert(ctx context.Context, m *Membership) error
	UpdateRole(ctx context.Context, spaceID, userID string, role Role, at time.Time) error
	Delete(ctx context.Context, spaceID, userID string) (bool, error)
	List(ctx context.Context, spaceID string, f ListFilter) ([]Member, int, error)
	// Search returns members of spaceID whose name or email contains query,
	// ordered by user id.
	Search(ctx context.Context, spaceID, query string, limit int) ([]identity.User, error)
}
