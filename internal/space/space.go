// Package space implements the lifecycle of Spaces: shared workspaces owned
// by one user and populated with items and members.
package space

import (
	"context"
	"time"
)

// State is the lifecycle state of a space or item.
type State string

const (
	StateActive  State = "active"
	StateDeleted State = "deleted"
)

// Space is a workspace. Slug is assigned at creation and never changes.
type Space struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Slug        string     `json:"slug"`
	Description string     `json:"description"`
	IsPrivate   bool       `json:"is_private"`
	OwnerID     string     `json:"owner_id"`
	State       State      `json:"state"`
	DeletedAt   *time.Time `json:"deleted_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// OwnedBy reports whether userID created the space. The empty id never
// owns anything.
func (s Space) OwnedBy(userID string) bool {
	return userID != "" && s.OwnerID == userID
}

// CreateInput carries the user-supplied fields of a new space.
type CreateInput struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	IsPrivate   bool   `json:"is_private"`
}

// UpdateInput replaces the editable fields of a space.
type UpdateInput struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	IsPrivate   bool   `json:"is_private"`
}

// ListFilter narrows the owned-spaces listing.
type ListFilter struct {
	Search  string
	SortBy  string
	SortDir string
	Limit   int
	Offset  int
}

// Page is one page of spaces plus the total number of matches.
type Page struct {
	Spaces []Space `json:"spaces"`
	Total  int     `json:"total"`
	Limit  int     `json:"limit"`
	Offset int     `json:"offset"`
}

// Store persists spaces. Lookups only see active spaces unless stated
// otherwise; missing rows yield apperr.ErrNotFound and slug conflicts on
// Insert yield apperr.ErrAlreadyExists.
type Store interface {
	Insert(ctx context.Context, s *Space) error
	Get(ctx context.Context, id string) (Space, error)
	GetBySlug(ctx context.Context, slug string) (Space, error)
	// GetIncludingDeleted also returns soft-deleted spaces.
	GetIncludingDeleted(ctx context.Context, id string) (Space, error)
	Update(ctx context.Context, s *Space) error
	SoftDelete(ctx context.Context, id string, at time.Time) error
	Purge(ctx context.Context, id string) error
	CountOwned(ctx context.Context, ownerID string) (int, error)
	// LockOwner serializes quota checks for ownerID until the surrounding
	// transaction ends.
	LockOwner(ctx context.Context, ownerID string) error
	ListOwned(ctx context.Context, ownerID string, f ListFilter) ([]Space, int, error)
}
