package access_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gatherly.app/internal/access"
	"gatherly.app/internal/audit"
	"gatherly.app/internal/identity"
	"gatherly.app/internal/item"
	"gatherly.app/internal/member"
	"gatherly.app/internal/space"
	"gatherly.app/internal/store/memstore"
	"gatherly.app/internal/subscription"
)

// A owns Marketing, adds B as editor; B may move the task along but may not
// delete the space.
func TestMarketingScenario(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	st.PutUser(identity.User{ID: "user-a", FirstName: "Ada", Email: "a@example.com"})
	st.PutUser(identity.User{ID: "user-b", FirstName: "Ben", Email: "b@example.com"})

	subs, err := subscription.NewService(st, st, st)
	require.NoError(t, err)
	_, err = subs.AssignFreePlan(ctx, audit.System, "user-a")
	require.NoError(t, err)

	spaces, err := space.NewService(st.Spaces(), st, st, st, st)
	require.NoError(t, err)
	items, err := item.NewService(st.Items(), st, st, st)
	require.NoError(t, err)
	members, err := member.NewService(st.Members(), st, st, st)
	require.NoError(t, err)
	engine := access.New(st.Members())

	a := audit.Actor{UserID: "user-a"}
	b := audit.Actor{UserID: "user-b"}

	mkt, err := spaces.Create(ctx, a, space.CreateInput{Name: "Marketing"})
	require.NoError(t, err)
	assert.Equal(t, "marketing", mkt.Slug)

	require.True(t, engine.CanCreateItem(ctx, a.UserID, mkt))
	plan, err := items.Create(ctx, a, mkt, item.CreateInput{Type: "TASK", Title: "Launch Plan"})
	require.NoError(t, err)
	assert.Equal(t, "launch-plan", plan.Slug)
	require.NotNil(t, plan.Status)
	assert.Equal(t, item.StatusTodo, *plan.Status)

	assert.False(t, engine.CanViewSpace(ctx, b.UserID, mkt))

	require.True(t, engine.CanManageMembers(ctx, a.UserID, mkt))
	_, err = members.Add(ctx, a, mkt.ID, mkt.OwnerID, "b@example.com", member.RoleEditor)
	require.NoError(t, err)

	require.True(t, engine.CanUpdateItem(ctx, b.UserID, mkt, plan))
	status := "IN_PROGRESS"
	moved, err := items.Update(ctx, b, plan, item.UpdateInput{Status: &status})
	require.NoError(t, err)
	assert.Equal(t, item.StatusInProgress, *moved.Status)

	assert.False(t, engine.CanDeleteSpace(ctx, b.UserID, mkt))
	assert.False(t, engine.CanDeleteItem(ctx, b.UserID, mkt, plan))
	assert.True(t, engine.CanDeleteSpace(ctx, a.UserID, mkt))

	var actors []string
	for _, e := range st.AuditEntries() {
		actors = append(actors, e.ActorID+":"+string(e.Action))
	}
	assert.Equal(t, []string{
		"system:plan_assigned",
		"user-a:created",
		"user-a:created",
		"user-a:member_added",
		"user-b:updated",
	}, actors)
}
