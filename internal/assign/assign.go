// Package assign links TASK items to the users mentioned on them.
package assign

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gatherly.app/internal/apperr"
	"gatherly.app/internal/audit"
	"gatherly.app/internal/identity"
	"gatherly.app/internal/item"
	"gatherly.app/internal/obs"
	"gatherly.app/internal/txn"
)

// StatusPending is the status of a fresh assignment. Later states are
// driven by other systems.
const StatusPending = "pending"

// Assignment records that a user is expected to act on a task.
type Assignment struct {
	TaskID    string    `json:"task_id"`
	UserID    string    `json:"user_id"`
	Status    string    `json:"status"`
	Role      *string   `json:"role"`
	Reason    *string   `json:"reason"`
	CreatedAt time.Time `json:"created_at"`
}

// Store persists assignments. There is at most one row per (task, user).
type Store interface {
	// InsertIfAbsent reports whether a new row was written. Unknown users
	// yield apperr.ErrNotFound.
	InsertIfAbsent(ctx context.Context, a *Assignment) (bool, error)
	Delete(ctx context.Context, taskID, userID string) (bool, error)
	DeleteAll(ctx context.Context, taskID string) (int, error)
	Assignees(ctx context.Context, taskID string) ([]identity.User, error)
}

// Engine synchronizes mention sets into assignments.
type Engine struct {
	store Store
	tx    txn.Runner
	sink  audit.Sink
	now   func() time.Time
}

func New(store Store, tx txn.Runner, sink audit.Sink) (*Engine, error) {
	if store == nil || tx == nil || sink == nil {
		return nil, errors.New("assign: store, transaction runner and audit sink are required")
	}
	return &Engine{store: store, tx: tx, sink: sink, now: time.Now}, nil
}

// Sync assigns every user in userIDs to the task. Existing assignments are
// left untouched and users missing from userIDs keep theirs: the result is
// the union of old and new. It returns the ids that were newly assigned.
func (e *Engine) Sync(ctx context.Context, actor audit.Actor, task item.Item, userIDs []string) ([]string, error) {
	if !task.IsTask() {
		return nil, fmt.Errorf("%w: only tasks can be assigned", apperr.ErrInvalidState)
	}
	wanted := dedupe(userIDs)
	if len(wanted) == 0 {
		return []string{}, nil
	}

	added := []string{}
	err := e.tx.InTx(ctx, func(ctx context.Context) error {
		added = added[:0]
		now := e.now().UTC()
		for _, id := range wanted {
			ok, err := e.store.InsertIfAbsent(ctx, &Assignment{
				TaskID:    task.ID,
				UserID:    id,
				Status:    StatusPending,
				CreatedAt: now,
			})
			if err != nil {
				return fmt.Errorf("assign %s: %w", id, err)
			}
			if ok {
				added = append(added, id)
			}
		}
		if len(added) == 0 {
			return nil
		}
		entry := audit.NewEntry(actor, audit.ActionAssignmentsSync, audit.ResourceItem, task.ID, now)
		entry.NewValues = map[string]any{"user_ids": append([]string(nil), added...)}
		if err := e.sink.Record(ctx, entry); err != nil {
			return fmt.Errorf("record audit: %w", err)
		}
		return nil
	})
	obs.RecordMutation(audit.ResourceAssignment, string(audit.ActionAssignmentsSync), err)
	if err != nil {
		return nil, err
	}
	return added, nil
}

// Remove unassigns userID from the task and reports whether an assignment
// existed.
func (e *Engine) Remove(ctx context.Context, actor audit.Actor, taskID, userID string) (bool, error) {
	var removed bool
	err := e.tx.InTx(ctx, func(ctx context.Context) error {
		ok, err := e.store.Delete(ctx, taskID, userID)
		if err != nil || !ok {
			return err
		}
		entry := audit.NewEntry(actor, audit.ActionAssignmentRemove, audit.ResourceItem, taskID, e.now().UTC())
		entry.OldValues = map[string]any{"user_id": userID}
		if err := e.sink.Record(ctx, entry); err != nil {
			return fmt.Errorf("record audit: %w", err)
		}
		removed = true
		return nil
	})
	obs.RecordMutation(audit.ResourceAssignment, string(audit.ActionAssignmentRemove), err)
	if err != nil {
		return false, err
	}
	return removed, nil
}

// Clear removes every assignment of the item and returns how many there were.
func (e *Engine) Clear(ctx context.Context, actor audit.Actor, it item.Item) (int, error) {
	var n int
	err := e.tx.InTx(ctx, func(ctx context.Context) error {
		var err error
		if n, err = e.store.DeleteAll(ctx, it.ID); err != nil || n == 0 {
			return err
		}
		entry := audit.NewEntry(actor, audit.ActionAssignmentsClear, audit.ResourceItem, it.ID, e.now().UTC())
		entry.OldValues = map[string]any{"count": n}
		if err := e.sink.Record(ctx, entry); err != nil {
			return fmt.Errorf("record audit: %w", err)
		}
		return nil
	})
	obs.RecordMutation(audit.ResourceAssignment, string(audit.ActionAssignmentsClear), err)
	if err != nil {
		return 0, err
	}
	return n, nil
}

// Assignees lists the users assigned to the item.
func (e *Engine) Assignees(ctx context.Context, it item.Item) ([]identity.User, error) {
	users, err := e.store.Assignees(ctx, it.ID)
	if err != nil {
		return nil, err
	}
	if users == nil {
		users = []identity.User{}
	}
	return users, nil
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
