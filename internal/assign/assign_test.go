package assign_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gatherly.app/internal/apperr"
	"gatherly.app/internal/assign"
	"gatherly.app/internal/audit"
	"gatherly.app/internal/identity"
	"gatherly.app/internal/item"
	"gatherly.app/internal/space"
	"gatherly.app/internal/store/memstore"
)

type fixture struct {
	store  *memstore.Store
	engine *assign.Engine
	task   item.Item
	note   item.Item
	actor  audit.Actor
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	ctx := context.Background()
	st := memstore.New()
	for _, id := range []string{"u1", "u2", "u3"} {
		st.PutUser(identity.User{ID: id, FirstName: id, Email: id + "@example.com"})
	}
	sp := space.Space{ID: "space-1", Slug: "ops", OwnerID: "owner", State: space.StateActive}
	require.NoError(t, st.Spaces().Insert(ctx, &sp))
	todo := item.StatusTodo
	task := item.Item{ID: "task-1", SpaceID: sp.ID, Type: item.TypeTask, Slug: "task", Status: &todo, State: space.StateActive}
	note := item.Item{ID: "note-1", SpaceID: sp.ID, Type: item.TypeNote, Slug: "note", State: space.StateActive}
	require.NoError(t, st.Items().Insert(ctx, &task))
	require.NoError(t, st.Items().Insert(ctx, &note))

	e, err := assign.New(st.Assignments(), st, st)
	require.NoError(t, err)
	return fixture{store: st, engine: e, task: task, note: note, actor: audit.Actor{UserID: "owner"}}
}

func assigneeIDs(t *testing.T, f fixture) []string {
	t.Helper()
	users, err := f.engine.Assignees(context.Background(), f.task)
	require.NoError(t, err)
	var ids []string
	for _, u := range users {
		ids = append(ids, u.ID)
	}
	return ids
}

func TestSyncIsAUnion(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	added, err := f.engine.Sync(ctx, f.actor, f.task, []string{"u1", "u2"})
	require.NoError(t, err)
	assert.Equal(t, []string{"u1", "u2"}, added)

	added, err = f.engine.Sync(ctx, f.actor, f.task, []string{"u2", "u3"})
	require.NoError(t, err)
	assert.Equal(t, []string{"u3"}, added)

	assert.ElementsMatch(t, []string{"u1", "u2", "u3"}, assigneeIDs(t, f))
}

func TestSyncIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.engine.Sync(ctx, f.actor, f.task, []string{"u1", " u1 ", ""})
	require.NoError(t, err)
	before := len(f.store.AuditEntries())

	added, err := f.engine.Sync(ctx, f.actor, f.task, []string{"u1"})
	require.NoError(t, err)
	assert.Empty(t, added)
	assert.Len(t, f.store.AuditEntries(), before)
	assert.Equal(t, []string{"u1"}, assigneeIDs(t, f))
}

func TestSyncRejectsNotes(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.Sync(context.Background(), f.actor, f.note, []string{"u1"})
	assert.ErrorIs(t, err, apperr.ErrInvalidState)
}

func TestSyncUnknownUserRollsBack(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.Sync(context.Background(), f.actor, f.task, []string{"u1", "ghost"})
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	assert.Empty(t, assigneeIDs(t, f))
}

func TestRemove(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.engine.Sync(ctx, f.actor, f.task, []string{"u1", "u2"})
	require.NoError(t, err)

	removed, err := f.engine.Remove(ctx, f.actor, f.task.ID, "u1")
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = f.engine.Remove(ctx, f.actor, f.task.ID, "u1")
	require.NoError(t, err)
	assert.False(t, removed)

	assert.Equal(t, []string{"u2"}, assigneeIDs(t, f))
}

func TestClear(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.engine.Sync(ctx, f.actor, f.task, []string{"u1", "u2", "u3"})
	require.NoError(t, err)

	n, err := f.engine.Clear(ctx, f.actor, f.task)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Empty(t, assigneeIDs(t, f))

	n, err = f.engine.Clear(ctx, f.actor, f.task)
	require.NoError(t, err)
	assert.Zero(t, n)
}
