// Package audit describes the activity log entries emitted by every mutating
// lifecycle operation and the sinks that persist them.
package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"gatherly.app/internal/ids"
)

// Action names the kind of mutation an entry records.
type Action string

const (
	ActionCreated          Action = "created"
	ActionUpdated          Action = "updated"
	ActionDeleted          Action = "deleted"
	ActionForceDeleted     Action = "force_deleted"
	ActionMemberAdded      Action = "member_added"
	ActionMemberUpdated    Action = "member_updated"
	ActionMemberRemoved    Action = "member_removed"
	ActionAssignmentsSync  Action = "assignments_synced"
	ActionAssignmentRemove Action = "assignment_removed"
	ActionAssignmentsClear Action = "assignments_cleared"
	ActionPlanAssigned     Action = "plan_assigned"
)

// Resource types.
const (
	ResourceSpace        = "space"
	ResourceItem         = "item"
	ResourceMembership   = "membership"
	ResourceAssignment   = "task_assignment"
	ResourceSubscription = "subscription"
)

// Actor identifies who performs an operation and from where. It is passed
// explicitly to every lifecycle method.
type Actor struct {
	UserID    string
	IP        string
	UserAgent string
	RequestID string
}

// System is the actor used by administrative tooling.
var System = Actor{UserID: "system"}

// Entry is an append-only record of a mutation.
type Entry struct {
	ID           string         `json:"id"`
	OccurredAt   time.Time      `json:"occurred_at"`
	ActorID      string         `json:"actor_id"`
	Action       Action         `json:"action"`
	ResourceType string         `json:"resource_type"`
	ResourceID   string         `json:"resource_id"`
	OldValues    map[string]any `json:"old_values,omitempty"`
	NewValues    map[string]any `json:"new_values,omitempty"`
	IP           string         `json:"ip_address,omitempty"`
	UserAgent    string         `json:"user_agent,omitempty"`
	RequestID    string         `json:"request_id,omitempty"`
}

// NewEntry builds an entry for actor with a fresh id and timestamp.
func NewEntry(actor Actor, action Action, resourceType, resourceID string, at time.Time) *Entry {
	return &Entry{
		ID:           ids.NewAt(at),
		OccurredAt:   at.UTC(),
		ActorID:      actor.UserID,
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		IP:           actor.IP,
		UserAgent:    actor.UserAgent,
		RequestID:    actor.RequestID,
	}
}

// Validate checks the fields every sink relies on.
func (e *Entry) Validate() error {
	if e == nil {
		return errors.New("audit entry is nil")
	}
	if strings.TrimSpace(string(e.Action)) == "" {
		return errors.New("audit action is required")
	}
	if e.ResourceType == "" || e.ResourceID == "" {
		return errors.New("audit resource is required")
	}
	return nil
}

// Sink durably records entries. Implementations must honour the
// transaction carried by ctx so a failed write aborts the mutation.
type Sink interface {
	Record(ctx context.Context, entry *Entry) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, entry *Entry) error

func (f SinkFunc) Record(ctx context.Context, entry *Entry) error { return f(ctx, entry) }

// Multi records to every sink in order and stops at the first failure.
func Multi(sinks ...Sink) Sink {
	return SinkFunc(func(ctx context.Context, entry *Entry) error {
		for _, s := range sinks {
			if s == nil {
				continue
			}
			if err := s.Record(ctx, entry); err != nil {
				return err
			}
		}
		return nil
	})
}

// Snapshot converts a record into the generic map stored as old/new values.
func Snapshot(v any) (map[string]any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("audit snapshot: %w", err)
	}
	out := map[string]any{}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("audit snapshot: %w", err)
	}
	return out, nil
}
