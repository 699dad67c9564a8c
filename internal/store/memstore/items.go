package memstore

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"time"

	"gatherly.app/internal/apperr"
	"gatherly.app/internal/item"
	"gatherly.app/internal/space"
)

// Items implements item.Store.
type Items struct{ s *Store }

func (t Items) Insert(_ context.Context, it *item.Item) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	if _, ok := t.s.st.spaces[it.SpaceID]; !ok {
		return fmt.Errorf("%w: space %s", apperr.ErrNotFound, it.SpaceID)
	}
	if _, ok := t.s.st.items[it.ID]; ok {
		return fmt.Errorf("%w: item %s", apperr.ErrAlreadyExists, it.ID)
	}
	if t.s.itemSlugTaken(it.Slug, "") {
		return fmt.Errorf("%w: item slug %q", apperr.ErrAlreadyExists, it.Slug)
	}
	t.s.st.items[it.ID] = *it
	return nil
}

func (t Items) Get(_ context.Context, id string) (item.Item, error) {
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	it, ok := t.s.st.items[id]
	if !ok || it.State != space.StateActive {
		return item.Item{}, fmt.Errorf("%w: item %s", apperr.ErrNotFound, id)
	}
	return it, nil
}

func (t Items) GetBySlug(_ context.Context, spaceID, sl string) (item.Item, error) {
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	for _, it := range t.s.st.items {
		if it.SpaceID == spaceID && it.Slug == sl && it.State == space.StateActive {
			return it, nil
		}
	}
	return item.Item{}, fmt.Errorf("%w: item %q", apperr.ErrNotFound, sl)
}

func (t Items) Update(_ context.Context, it *item.Item) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	cur, ok := t.s.st.items[it.ID]
	if !ok || cur.State != space.StateActive {
		return fmt.Errorf("%w: item %s", apperr.ErrNotFound, it.ID)
	}
	if it.Slug != cur.Slug && t.s.itemSlugTaken(it.Slug, it.ID) {
		return fmt.Errorf("%w: item slug %q", apperr.ErrAlreadyExists, it.Slug)
	}
	cur.Title = it.Title
	cur.Slug = it.Slug
	cur.Description = it.Description
	cur.Status = it.Status
	cur.DueDate = it.DueDate
	cur.UpdatedAt = it.UpdatedAt
	t.s.st.items[it.ID] = cur
	return nil
}

func (t Items) SoftDelete(_ context.Context, id string, at time.Time) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	it, ok := t.s.st.items[id]
	if !ok || it.State != space.StateActive {
		return fmt.Errorf("%w: item %s", apperr.ErrNotFound, id)
	}
	it.State = space.StateDeleted
	it.DeletedAt = &at
	it.UpdatedAt = at
	t.s.st.items[id] = it
	return nil
}

func (t Items) List(_ context.Context, spaceID string, q item.Query) ([]item.Item, error) {
	return t.collect(spaceID, q.Limit, func(it item.Item) bool {
		if q.Type != "" && it.Type != q.Type {
			return false
		}
		if q.Status != "" && (it.Status == nil || *it.Status != q.Status) {
			return false
		}
		if q.After != nil && !before(it, *q.After) {
			return false
		}
		return true
	}), nil
}

func (t Items) Open(_ context.Context, spaceID string, limit int) ([]item.Item, error) {
	return t.collect(spaceID, limit, func(it item.Item) bool {
		return it.Type == item.TypeNote || it.Status == nil || *it.Status != item.StatusDone
	}), nil
}

func (t Items) collect(spaceID string, limit int, keep func(item.Item) bool) []item.Item {
	t.s.mu.RLock()
	var out []item.Item
	for _, it := range t.s.st.items {
		if it.SpaceID == spaceID && it.State == space.StateActive && keep(it) {
			out = append(out, it)
		}
	}
	t.s.mu.RUnlock()
	slices.SortFunc(out, newestFirst)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func newestFirst(a, b item.Item) int {
	if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
		return c
	}
	return cmp.Compare(b.ID, a.ID)
}

// before reports whether it sorts after the cursor position in a
// newest-first listing.
func before(it item.Item, c item.Cursor) bool {
	if !it.CreatedAt.Equal(c.CreatedAt) {
		return it.CreatedAt.Before(c.CreatedAt)
	}
	return it.ID < c.ID
}
