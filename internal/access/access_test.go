package access

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"gatherly.app/internal/apperr"
	"gatherly.app/internal/item"
	"gatherly.app/internal/member"
	"gatherly.app/internal/space"
)

type lookupFunc func(ctx context.Context, spaceID, userID string) (member.Membership, error)

func (f lookupFunc) Find(ctx context.Context, spaceID, userID string) (member.Membership, error) {
	return f(ctx, spaceID, userID)
}

func staticMembers(rows ...member.Membership) lookupFunc {
	return func(_ context.Context, spaceID, userID string) (member.Membership, error) {
		for _, m := range rows {
			if m.SpaceID == spaceID && m.UserID == userID {
				return m, nil
			}
		}
		return member.Membership{}, apperr.ErrNotFound
	}
}

const (
	owner    = "01HOWNER"
	outsider = "01HOUTSIDER"
)

var marketing = space.Space{ID: "01HSPACE", Name: "Marketing", OwnerID: owner, State: space.StateActive}

func engineWithRole(userID string, role member.Role) *Engine {
	return New(staticMembers(member.Membership{SpaceID: marketing.ID, UserID: userID, Role: role, IsActive: true}))
}

func TestOwnerIsAllowedEverything(t *testing.T) {
	e := New(staticMembers())
	ctx := context.Background()
	it := item.Item{ID: "01HITEM", SpaceID: marketing.ID}

	assert.True(t, e.CanViewSpace(ctx, owner, marketing))
	assert.True(t, e.CanUpdateSpace(ctx, owner, marketing))
	assert.True(t, e.CanDeleteSpace(ctx, owner, marketing))
	assert.True(t, e.CanManageMembers(ctx, owner, marketing))
	assert.True(t, e.CanCreateItem(ctx, owner, marketing))
	assert.True(t, e.CanViewItem(ctx, owner, marketing, it))
	assert.True(t, e.CanUpdateItem(ctx, owner, marketing, it))
	assert.True(t, e.CanDeleteItem(ctx, owner, marketing, it))
}

func TestRoleMatrix(t *testing.T) {
	ctx := context.Background()
	it := item.Item{ID: "01HITEM", SpaceID: marketing.ID}
	tests := []struct {
		role                              member.Role
		view, update, del, manage, create bool
		viewItem, updateItem, deleteItem  bool
	}{
		{member.RoleAdmin, true, true, true, true, true, true, true, true},
		{member.RoleEditor, true, true, false, false, true, true, true, false},
		{member.RoleMember, true, false, false, false, false, true, false, false},
		{member.RoleViewer, true, false, false, false, false, true, false, false},
	}
	for _, tc := range tests {
		t.Run(string(tc.role), func(t *testing.T) {
			const user = "01HUSER"
			e := engineWithRole(user, tc.role)
			assert.Equal(t, tc.view, e.CanViewSpace(ctx, user, marketing), "view space")
			assert.Equal(t, tc.update, e.CanUpdateSpace(ctx, user, marketing), "update space")
			assert.Equal(t, tc.del, e.CanDeleteSpace(ctx, user, marketing), "delete space")
			assert.Equal(t, tc.manage, e.CanManageMembers(ctx, user, marketing), "manage members")
			assert.Equal(t, tc.create, e.CanCreateItem(ctx, user, marketing), "create item")
			assert.Equal(t, tc.viewItem, e.CanViewItem(ctx, user, marketing, it), "view item")
			assert.Equal(t, tc.updateItem, e.CanUpdateItem(ctx, user, marketing, it), "update item")
			assert.Equal(t, tc.deleteItem, e.CanDeleteItem(ctx, user, marketing, it), "delete item")
		})
	}
}

func TestOutsiderAndAnonymousAreDenied(t *testing.T) {
	e := New(staticMembers())
	ctx := context.Background()
	for _, actor := range []string{outsider, ""} {
		assert.False(t, e.CanViewSpace(ctx, actor, marketing))
		assert.False(t, e.CanUpdateSpace(ctx, actor, marketing))
		assert.False(t, e.CanDeleteSpace(ctx, actor, marketing))
		assert.False(t, e.CanCreateItem(ctx, actor, marketing))
	}
}

func TestAnonymousNeverOwnsOwnerlessSpace(t *testing.T) {
	e := New(staticMembers())
	orphan := space.Space{ID: "01HORPHAN"}
	assert.False(t, e.CanViewSpace(context.Background(), "", orphan))
}

func TestInactiveMembershipGrantsNothing(t *testing.T) {
	const user = "01HUSER"
	e := New(staticMembers(member.Membership{SpaceID: marketing.ID, UserID: user, Role: member.RoleAdmin}))
	assert.False(t, e.CanViewSpace(context.Background(), user, marketing))
	assert.False(t, e.CanDeleteSpace(context.Background(), user, marketing))
}

func TestUnknownRoleStillViews(t *testing.T) {
	const user = "01HUSER"
	e := engineWithRole(user, member.Role("guest"))
	assert.True(t, e.CanViewSpace(context.Background(), user, marketing))
	assert.False(t, e.CanUpdateSpace(context.Background(), user, marketing))
}

func TestItemOutsideSpaceIsDenied(t *testing.T) {
	e := New(staticMembers())
	foreign := item.Item{ID: "01HITEM", SpaceID: "01HOTHER"}
	ctx := context.Background()
	assert.False(t, e.CanViewItem(ctx, owner, marketing, foreign))
	assert.False(t, e.CanUpdateItem(ctx, owner, marketing, foreign))
	assert.False(t, e.CanDeleteItem(ctx, owner, marketing, foreign))
}

func TestLookupFailureDeniesAndLogs(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	e := New(lookupFunc(func(context.Context, string, string) (member.Membership, error) {
		return member.Membership{}, errors.New("connection reset")
	}), WithLogger(zap.New(core)))

	assert.False(t, e.CanViewSpace(context.Background(), "01HUSER", marketing))
	assert.Equal(t, 1, logs.FilterMessage("membership lookup failed; denying").Len())
}

func TestCreatorHasNoExtraRight(t *testing.T) {
	const user = "01HUSER"
	e := engineWithRole(user, member.RoleMember)
	it := item.Item{ID: "01HITEM", SpaceID: marketing.ID, CreatorID: user}
	assert.False(t, e.CanUpdateItem(context.Background(), user, marketing, it))
	assert.False(t, e.CanDeleteItem(context.Background(), user, marketing, it))
}

func TestCapabilities(t *testing.T) {
	const user = "01HUSER"
	e := engineWithRole(user, member.RoleEditor)
	got := e.Capabilities(context.Background(), user, marketing)
	assert.Equal(t, Capabilities{View: true, Update: true, CreateItem: true, UpdateItems: true}, got)

	all := New(staticMembers()).Capabilities(context.Background(), owner, marketing)
	assert.Equal(t, Capabilities{true, true, true, true, true, true, true}, all)
}

func TestHasRoleAtLeastIsMonotonic(t *testing.T) {
	ctx := context.Background()
	const user = "01HUSER"
	for _, held := range member.Roles {
		e := engineWithRole(user, held)
		for _, min := range member.Roles {
			assert.Equal(t, held.Rank() >= min.Rank(), e.HasRoleAtLeast(ctx, user, marketing, min),
				"held %s, min %s", held, min)
		}
	}
}
