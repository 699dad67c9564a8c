// Package access decides whether an actor may perform an action on a space
// or one of its items.
//
// Every decision reduces to one predicate over the role lattice
// viewer < member < editor < admin, with the space owner ranked above
// admin. Decisions never return errors: anything that cannot be proven
// allowed is denied.
package access

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"gatherly.app/internal/apperr"
	"gatherly.app/internal/item"
	"gatherly.app/internal/member"
	"gatherly.app/internal/obs"
	"gatherly.app/internal/space"
)

// ownerRank sits above every membership role.
const ownerRank = 100

// MembershipLookup finds the membership of userID in spaceID, returning
// apperr.ErrNotFound when there is none. member.Store satisfies it.
type MembershipLookup interface {
	Find(ctx context.Context, spaceID, userID string) (member.Membership, error)
}

// Engine evaluates access checks against the membership store.
type Engine struct {
	members MembershipLookup
	logger  *zap.Logger
}

// Option configures Engine.
type Option func(*Engine)

// WithLogger sets the logger used for lookup failures.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

func New(members MembershipLookup, opts ...Option) *Engine {
	e := &Engine{members: members, logger: obs.Logger()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Capabilities is every decision for one actor and space.
type Capabilities struct {
	View          bool `json:"view"`
	Update        bool `json:"update"`
	Delete        bool `json:"delete"`
	ManageMembers bool `json:"manage_members"`
	CreateItem    bool `json:"create_item"`
	UpdateItems   bool `json:"update_items"`
	DeleteItems   bool `json:"delete_items"`
}

// relation is what the actor is to the space.
type relation struct {
	rank   int
	member bool
}

func (r relation) atLeast(min member.Role) bool {
	return r.rank >= min.Rank() && min.Valid()
}

func (r relation) canView() bool { return r.member || r.rank == ownerRank }

func (e *Engine) relate(ctx context.Context, actorID string, sp space.Space) relation {
	if actorID == "" || sp.ID == "" {
		return relation{}
	}
	if sp.OwnedBy(actorID) {
		return relation{rank: ownerRank}
	}
	if e.members == nil {
		return relation{}
	}
	m, err := e.members.Find(ctx, sp.ID, actorID)
	if err != nil {
		if !errors.Is(err, apperr.ErrNotFound) {
			e.logger.Warn("membership lookup failed; denying",
				zap.String("space_id", sp.ID),
				zap.String("actor_id", actorID),
				zap.Error(err))
		}
		return relation{}
	}
	if !m.IsActive {
		return relation{}
	}
	return relation{rank: m.Role.Rank(), member: true}
}

func decide(check string, allowed bool) bool {
	obs.RecordDecision(check, allowed)
	return allowed
}

// HasRoleAtLeast reports whether actorID owns sp or holds an active
// membership with role min or higher.
func (e *Engine) HasRoleAtLeast(ctx context.Context, actorID string, sp space.Space, min member.Role) bool {
	return e.relate(ctx, actorID, sp).atLeast(min)
}

// CanViewSpace allows the owner and any active member regardless of role.
func (e *Engine) CanViewSpace(ctx context.Context, actorID string, sp space.Space) bool {
	return decide("view_space", e.relate(ctx, actorID, sp).canView())
}

// CanUpdateSpace allows the owner, admins and editors.
func (e *Engine) CanUpdateSpace(ctx context.Context, actorID string, sp space.Space) bool {
	return decide("update_space", e.HasRoleAtLeast(ctx, actorID, sp, member.RoleEditor))
}

// CanDeleteSpace allows the owner and admins.
func (e *Engine) CanDeleteSpace(ctx context.Context, actorID string, sp space.Space) bool {
	return decide("delete_space", e.HasRoleAtLeast(ctx, actorID, sp, member.RoleAdmin))
}

// CanManageMembers allows the owner and admins.
func (e *Engine) CanManageMembers(ctx context.Context, actorID string, sp space.Space) bool {
	return decide("manage_members", e.HasRoleAtLeast(ctx, actorID, sp, member.RoleAdmin))
}

// CanCreateItem allows the owner, admins and editors.
func (e *Engine) CanCreateItem(ctx context.Context, actorID string, sp space.Space) bool {
	return decide("create_item", e.HasRoleAtLeast(ctx, actorID, sp, member.RoleEditor))
}

// CanViewItem follows CanViewSpace for items that belong to sp.
func (e *Engine) CanViewItem(ctx context.Context, actorID string, sp space.Space, it item.Item) bool {
	if it.SpaceID != sp.ID {
		return decide("view_item", false)
	}
	return decide("view_item", e.relate(ctx, actorID, sp).canView())
}

// CanUpdateItem allows the space owner, admins and editors. Having created
// the item grants nothing extra.
func (e *Engine) CanUpdateItem(ctx context.Context, actorID string, sp space.Space, it item.Item) bool {
	if it.SpaceID != sp.ID {
		return decide("update_item", false)
	}
	return decide("update_item", e.HasRoleAtLeast(ctx, actorID, sp, member.RoleEditor))
}

// CanDeleteItem allows the space owner and admins.
func (e *Engine) CanDeleteItem(ctx context.Context, actorID string, sp space.Space, it item.Item) bool {
	if it.SpaceID != sp.ID {
		return decide("delete_item", false)
	}
	return decide("delete_item", e.HasRoleAtLeast(ctx, actorID, sp, member.RoleAdmin))
}

// Capabilities evaluates every space-level decision with one lookup.
func (e *Engine) Capabilities(ctx context.Context, actorID string, sp space.Space) Capabilities {
	r := e.relate(ctx, actorID, sp)
	editor := r.atLeast(member.RoleEditor)
	admin := r.atLeast(member.RoleAdmin)
	return Capabilities{
		View:          r.canView(),
		Update:        editor,
		Delete:        admin,
		ManageMembers: admin,
		CreateItem:    editor,
		UpdateItems:   editor,
		DeleteItems:   admin,
	}
}
