package item

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"gatherly.app/internal/apperr"
	"gatherly.app/internal/audit"
	"gatherly.app/internal/ids"
	"gatherly.app/internal/obs"
	"gatherly.app/internal/slug"
	"gatherly.app/internal/space"
	"gatherly.app/internal/txn"
)

const (
	maxTitleLength   = 255
	defaultPageSize  = 15
	maxPageSize      = 100
	defaultOpenLimit = 7
)

// Service creates, edits and deletes items. Callers must have run the
// matching access check first.
type Service struct {
	store       Store
	slugs       slug.Registry
	tx          txn.Runner
	sink        audit.Sink
	now         func() time.Time
	stableSlugs bool
}

// Option configures Service.
type Option func(*Service)

// WithClock overrides the time source.
func WithClock(fn func() time.Time) Option {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// WithStableSlugs keeps an item's slug fixed after creation instead of
// regenerating it when the title changes.
func WithStableSlugs() Option {
	return func(s *Service) { s.stableSlugs = true }
}

func NewService(store Store, slugs slug.Registry, tx txn.Runner, sink audit.Sink, opts ...Option) (*Service, error) {
	if store == nil || slugs == nil || tx == nil || sink == nil {
		return nil, errors.New("item: store, slug registry, transaction runner and audit sink are required")
	}
	s := &Service{store: store, slugs: slugs, tx: tx, sink: sink, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// List returns one page of the space's items, newest first.
func (s *Service) List(ctx context.Context, sp space.Space, f ListFilter) (Page, error) {
	var q Query
	if t := strings.TrimSpace(f.Type); t != "" && !strings.EqualFold(t, "ALL") {
		typ, err := ParseType(t)
		if err != nil {
			return Page{}, err
		}
		q.Type = typ
	}
	if q.Type == TypeTask && strings.TrimSpace(f.Status) != "" {
		st, err := ParseStatus(f.Status)
		if err != nil {
			return Page{}, err
		}
		q.Status = st
	}
	if f.Cursor != "" {
		c, err := DecodeCursor(f.Cursor)
		if err != nil {
			return Page{}, err
		}
		q.After = &c
	}
	q.Limit = f.Limit
	if q.Limit <= 0 || q.Limit > maxPageSize {
		q.Limit = defaultPageSize
	}
	limit := q.Limit
	q.Limit++

	items, err := s.store.List(ctx, sp.ID, q)
	if err != nil {
		return Page{}, err
	}
	page := Page{Items: items}
	if len(items) > limit {
		page.Items = items[:limit]
		last := page.Items[limit-1]
		page.NextCursor = Cursor{CreatedAt: last.CreatedAt, ID: last.ID}.Encode()
	}
	if page.Items == nil {
		page.Items = []Item{}
	}
	return page, nil
}

// Create adds an item to sp on behalf of actor.
func (s *Service) Create(ctx context.Context, actor audit.Actor, sp space.Space, in CreateInput) (Item, error) {
	typ, err := ParseType(in.Type)
	if err != nil {
		return Item{}, err
	}
	title, err := validateTitle(in.Title)
	if err != nil {
		return Item{}, err
	}
	var status *Status
	due := in.DueDate
	if typ == TypeTask {
		st := StatusTodo
		if strings.TrimSpace(in.Status) != "" {
			if st, err = ParseStatus(in.Status); err != nil {
				return Item{}, err
			}
		}
		status = &st
	} else {
		due = nil
	}

	var created Item
	err = slug.Retry(ctx, slug.KindItem, func(ctx context.Context) error {
		return s.tx.InTx(ctx, func(ctx context.Context) error {
			sl, err := slug.Next(ctx, s.slugs, slug.KindItem, title)
			if err != nil {
				return err
			}
			now := s.now().UTC()
			it := Item{
				ID:          ids.NewAt(now),
				SpaceID:     sp.ID,
				CreatorID:   actor.UserID,
				Type:        typ,
				Title:       title,
				Slug:        sl,
				Description: normalizeDescription(in.Description),
				Status:      status,
				DueDate:     utcPtr(due),
				State:       space.StateActive,
				CreatedAt:   now,
				UpdatedAt:   now,
			}
			if err := s.store.Insert(ctx, &it); err != nil {
				return err
			}
			entry := audit.NewEntry(actor, audit.ActionCreated, audit.ResourceItem, it.ID, now)
			if entry.NewValues, err = audit.Snapshot(it); err != nil {
				return err
			}
			if err := s.sink.Record(ctx, entry); err != nil {
				return fmt.Errorf("record audit: %w", err)
			}
			created = it
			return nil
		})
	})
	obs.RecordMutation(audit.ResourceItem, string(audit.ActionCreated), err)
	if err != nil {
		return Item{}, err
	}
	return created, nil
}

// Update applies in to it. Setting a status on a NOTE is ErrInvalidState.
func (s *Service) Update(ctx context.Context, actor audit.Actor, it Item, in UpdateInput) (Item, error) {
	var (
		title  string
		status *Status
		err    error
	)
	if in.Title != nil {
		if title, err = validateTitle(*in.Title); err != nil {
			return Item{}, err
		}
	}
	if in.Status != nil {
		if it.Type != TypeTask {
			return Item{}, fmt.Errorf("%w: notes have no status", apperr.ErrInvalidState)
		}
		st, err := ParseStatus(*in.Status)
		if err != nil {
			return Item{}, err
		}
		status = &st
	}
	if it.Type != TypeTask && in.DueDate != nil {
		return Item{}, fmt.Errorf("%w: notes have no due date", apperr.ErrInvalidState)
	}

	var updated Item
	err = slug.Retry(ctx, slug.KindItem, func(ctx context.Context) error {
		return s.tx.InTx(ctx, func(ctx context.Context) error {
			current, err := s.store.Get(ctx, it.ID)
			if err != nil {
				return err
			}
			before, err := audit.Snapshot(current)
			if err != nil {
				return err
			}
			if in.Title != nil && title != current.Title {
				if !s.stableSlugs && slug.Make(title) != slug.Make(current.Title) {
					if current.Slug, err = slug.Next(ctx, s.slugs, slug.KindItem, title); err != nil {
						return err
					}
				}
				current.Title = title
			}
			if in.Description != nil {
				current.Description = normalizeDescription(in.Description)
			}
			if status != nil {
				current.Status = status
			}
			switch {
			case in.ClearDueDate:
				current.DueDate = nil
			case in.DueDate != nil:
				current.DueDate = utcPtr(in.DueDate)
			}
			now := s.now().UTC()
			current.UpdatedAt = now
			if err := s.store.Update(ctx, &current); err != nil {
				return err
			}
			entry := audit.NewEntry(actor, audit.ActionUpdated, audit.ResourceItem, current.ID, now)
			entry.OldValues = before
			if entry.NewValues, err = audit.Snapshot(current); err != nil {
				return err
			}
			if err := s.sink.Record(ctx, entry); err != nil {
				return fmt.Errorf("record audit: %w", err)
			}
			updated = current
			return nil
		})
	})
	obs.RecordMutation(audit.ResourceItem, string(audit.ActionUpdated), err)
	if err != nil {
		return Item{}, err
	}
	return updated, nil
}

// Delete soft-deletes it.
func (s *Service) Delete(ctx context.Context, actor audit.Actor, it Item) error {
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		current, err := s.store.Get(ctx, it.ID)
		if err != nil {
			return err
		}
		before, err := audit.Snapshot(current)
		if err != nil {
			return err
		}
		now := s.now().UTC()
		if err := s.store.SoftDelete(ctx, current.ID, now); err != nil {
			return err
		}
		entry := audit.NewEntry(actor, audit.ActionDeleted, audit.ResourceItem, current.ID, now)
		entry.OldValues = before
		if err := s.sink.Record(ctx, entry); err != nil {
			return fmt.Errorf("record audit: %w", err)
		}
		return nil
	})
	obs.RecordMutation(audit.ResourceItem, string(audit.ActionDeleted), err)
	return err
}

// Get returns an active item by id.
func (s *Service) Get(ctx context.Context, id string) (Item, error) {
	return s.store.Get(ctx, strings.TrimSpace(id))
}

// GetBySlug returns an active item of spaceID by slug.
func (s *Service) GetBySlug(ctx context.Context, spaceID, sl string) (Item, error) {
	return s.store.GetBySlug(ctx, spaceID, strings.TrimSpace(sl))
}

// Resolve finds an active item of sp by slug, falling back to id.
func (s *Service) Resolve(ctx context.Context, sp space.Space, ref string) (Item, error) {
	ref = strings.TrimSpace(ref)
	it, err := s.store.GetBySlug(ctx, sp.ID, ref)
	if err == nil || !errors.Is(err, apperr.ErrNotFound) || !ids.Valid(ref) {
		return it, err
	}
	return s.store.Get(ctx, ref)
}

// Open returns the notes and unfinished tasks of spaceID, newest first.
func (s *Service) Open(ctx context.Context, spaceID string, limit int) ([]Item, error) {
	if limit <= 0 || limit > maxPageSize {
		limit = defaultOpenLimit
	}
	items, err := s.store.Open(ctx, spaceID, limit)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []Item{}
	}
	return items, nil
}

func validateTitle(title string) (string, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return "", fmt.Errorf("%w: title is required", apperr.ErrInvalidInput)
	}
	if utf8.RuneCountInString(title) > maxTitleLength {
		return "", fmt.Errorf("%w: title must be at most %d characters", apperr.ErrInvalidInput, maxTitleLength)
	}
	return title, nil
}

func normalizeDescription(d *string) *string {
	if d == nil {
		return nil
	}
	v := strings.TrimSpace(*d)
	if v == "" {
		return nil
	}
	return &v
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}
