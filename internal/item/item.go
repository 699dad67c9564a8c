// Package item implements the lifecycle of items: tasks and sticky notes
// that live inside a space.
package item

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"gatherly.app/internal/apperr"
	"gatherly.app/internal/space"
)

// Type distinguishes tasks from notes. It never changes after creation.
type Type string

const (
	TypeTask Type = "TASK"
	TypeNote Type = "NOTE"
)

// ParseType accepts TASK or NOTE in any case.
func ParseType(s string) (Type, error) {
	switch t := Type(strings.ToUpper(strings.TrimSpace(s))); t {
	case TypeTask, TypeNote:
		return t, nil
	}
	return "", fmt.Errorf("%w: type must be TASK or NOTE", apperr.ErrInvalidInput)
}

// Status is the workflow position of a task. Notes have none.
type Status string

const (
	StatusTodo       Status = "TODO"
	StatusInProgress Status = "IN_PROGRESS"
	StatusReview     Status = "REVIEW"
	StatusDone       Status = "DONE"
)

// Statuses lists the valid task statuses in workflow order.
var Statuses = []Status{StatusTodo, StatusInProgress, StatusReview, StatusDone}

// ParseStatus accepts one of the four statuses in any case.
func ParseStatus(s string) (Status, error) {
	st := Status(strings.ToUpper(strings.TrimSpace(s)))
	for _, v := range Statuses {
		if st == v {
			return st, nil
		}
	}
	return "", fmt.Errorf("%w: status %q is not one of TODO, IN_PROGRESS, REVIEW, DONE", apperr.ErrInvalidState, s)
}

// Item is a task or note. Status and DueDate are nil for notes.
type Item struct {
	ID          string      `json:"id"`
	SpaceID     string      `json:"space_id"`
	CreatorID   string      `json:"creator_id"`
	Type        Type        `json:"type"`
	Title       string      `json:"title"`
	Slug        string      `json:"slug"`
	Description *string     `json:"description"`
	Status      *Status     `json:"status"`
	DueDate     *time.Time  `json:"due_date"`
	State       space.State `json:"state"`
	DeletedAt   *time.Time  `json:"deleted_at,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// IsTask reports whether the item is a TASK.
func (it Item) IsTask() bool { return it.Type == TypeTask }

// CreateInput carries the fields of a new item. Empty Status means TODO for
// tasks.
type CreateInput struct {
	Type        string     `json:"type"`
	Title       string     `json:"title"`
	Description *string    `json:"description"`
	Status      string     `json:"status"`
	DueDate     *time.Time `json:"due_date"`
}

// UpdateInput applies the non-nil fields to an item. An empty Description
// clears it; ClearDueDate removes the due date.
type UpdateInput struct {
	Title        *string    `json:"title"`
	Description  *string    `json:"description"`
	Status       *string    `json:"status"`
	DueDate      *time.Time `json:"due_date"`
	ClearDueDate bool       `json:"clear_due_date"`
}

// ListFilter narrows an item listing. Type "" or "ALL" matches both
// kinds; Status only applies when Type is TASK.
type ListFilter struct {
	Type   string
	Status string
	Cursor string
	Limit  int
}

// Query is the validated form of ListFilter handed to the store.
type Query struct {
	Type   Type
	Status Status
	After  *Cursor
	Limit  int
}

// Page is one page of items, newest first.
type Page struct {
	Items      []Item `json:"items"`
	NextCursor string `json:"next_cursor,omitempty"`
}

// Cursor is the keyset position after which the next page starts.
type Cursor struct {
	CreatedAt time.Time
	ID        string
}

var errBadCursor = errors.New("malformed cursor")

// Encode renders the cursor as an opaque URL-safe token.
func (c Cursor) Encode() string {
	raw := strconv.FormatInt(c.CreatedAt.UnixNano(), 10) + ":" + c.ID
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// DecodeCursor parses a token produced by Encode.
func DecodeCursor(token string) (Cursor, error) {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return Cursor{}, fmt.Errorf("%w: %v", apperr.ErrInvalidInput, errBadCursor)
	}
	ts, id, ok := strings.Cut(string(raw), ":")
	if !ok || id == "" {
		return Cursor{}, fmt.Errorf("%w: %v", apperr.ErrInvalidInput, errBadCursor)
	}
	nanos, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return Cursor{}, fmt.Errorf("%w: %v", apperr.ErrInvalidInput, errBadCursor)
	}
	return Cursor{CreatedAt: time.Unix(0, nanos).UTC(), ID: id}, nil
}

// Store persists items. Lookups only see active items; slug conflicts
// surface as apperr.ErrAlreadyExists.
type Store interface {
	Insert(ctx context.Context, it *Item) error
	Get(ctx context.Context, id string) (Item, error)
	GetBySlug(ctx context.Context, spaceID, slug string) (Item, error)
	Update(ctx context.Context, it *Item) error
	SoftDelete(ctx context.Context, id string, at time.Time) error
	// List returns up to q.Limit items ordered by (created_at, id) desc,
	// strictly after q.After when set.
	List(ctx context.Context, spaceID string, q Query) ([]Item, error)
	// Open returns notes and unfinished tasks, newest first.
	Open(ctx context.Context, spaceID string, limit int) ([]Item, error)
}
