package memstore

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"time"

	"gatherly.app/internal/apperr"
	"gatherly.app/internal/space"
)

// Spaces implements space.Store.
type Spaces struct{ s *Store }

func (t Spaces) Insert(_ context.Context, sp *space.Space) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	if _, ok := t.s.st.spaces[sp.ID]; ok {
		return fmt.Errorf("%w: space %s", apperr.ErrAlreadyExists, sp.ID)
	}
	if t.s.spaceSlugTaken(sp.Slug, "") {
		return fmt.Errorf("%w: space slug %q", apperr.ErrAlreadyExists, sp.Slug)
	}
	t.s.st.spaces[sp.ID] = *sp
	return nil
}

func (t Spaces) Get(_ context.Context, id string) (space.Space, error) {
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	sp, ok := t.s.st.spaces[id]
	if !ok || sp.State != space.StateActive {
		return space.Space{}, fmt.Errorf("%w: space %s", apperr.ErrNotFound, id)
	}
	return sp, nil
}

func (t Spaces) GetBySlug(_ context.Context, sl string) (space.Space, error) {
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	for _, sp := range t.s.st.spaces {
		if sp.State == space.StateActive && sp.Slug == sl {
			return sp, nil
		}
	}
	return space.Space{}, fmt.Errorf("%w: space %q", apperr.ErrNotFound, sl)
}

func (t Spaces) GetIncludingDeleted(_ context.Context, id string) (space.Space, error) {
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	sp, ok := t.s.st.spaces[id]
	if !ok {
		return space.Space{}, fmt.Errorf("%w: space %s", apperr.ErrNotFound, id)
	}
	return sp, nil
}

func (t Spaces) Update(_ context.Context, sp *space.Space) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	cur, ok := t.s.st.spaces[sp.ID]
	if !ok || cur.State != space.StateActive {
		return fmt.Errorf("%w: space %s", apperr.ErrNotFound, sp.ID)
	}
	cur.Name = sp.Name
	cur.Description = sp.Description
	cur.IsPrivate = sp.IsPrivate
	cur.UpdatedAt = sp.UpdatedAt
	t.s.st.spaces[sp.ID] = cur
	return nil
}

func (t Spaces) SoftDelete(_ context.Context, id string, at time.Time) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	sp, ok := t.s.st.spaces[id]
	if !ok || sp.State != space.StateActive {
		return fmt.Errorf("%w: space %s", apperr.ErrNotFound, id)
	}
	sp.State = space.StateDeleted
	sp.DeletedAt = &at
	sp.UpdatedAt = at
	t.s.st.spaces[id] = sp
	return nil
}

// Purge removes the space and everything that hangs off it.
func (t Spaces) Purge(_ context.Context, id string) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	if _, ok := t.s.st.spaces[id]; !ok {
		return fmt.Errorf("%w: space %s", apperr.ErrNotFound, id)
	}
	delete(t.s.st.spaces, id)
	for k := range t.s.st.members {
		if k.space == id {
			delete(t.s.st.members, k)
		}
	}
	for itemID, it := range t.s.st.items {
		if it.SpaceID != id {
			continue
		}
		delete(t.s.st.items, itemID)
		for k := range t.s.st.assignments {
			if k.task == itemID {
				delete(t.s.st.assignments, k)
			}
		}
	}
	return nil
}

// LockOwner is a no-op; InTx already serializes writers.
func (t Spaces) LockOwner(context.Context, string) error { return nil }

func (t Spaces) CountOwned(_ context.Context, ownerID string) (int, error) {
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	n := 0
	for _, sp := range t.s.st.spaces {
		if sp.OwnerID == ownerID && sp.State == space.StateActive {
			n++
		}
	}
	return n, nil
}

func (t Spaces) ListOwned(_ context.Context, ownerID string, f space.ListFilter) ([]space.Space, int, error) {
	t.s.mu.RLock()
	var out []space.Space
	for _, sp := range t.s.st.spaces {
		if sp.OwnerID != ownerID || sp.State != space.StateActive {
			continue
		}
		if f.Search != "" && !containsFold(sp.Name, f.Search) {
			continue
		}
		out = append(out, sp)
	}
	t.s.mu.RUnlock()

	slices.SortFunc(out, func(a, b space.Space) int {
		var c int
		switch f.SortBy {
		case "name":
			c = cmp.Compare(a.Name, b.Name)
		case "is_private":
			c = cmp.Compare(boolRank(a.IsPrivate), boolRank(b.IsPrivate))
		default:
			c = a.CreatedAt.Compare(b.CreatedAt)
		}
		if c == 0 {
			c = cmp.Compare(a.ID, b.ID)
		}
		if f.SortDir == "desc" {
			return -c
		}
		return c
	})
	return page(out, f.Offset, f.Limit), len(out), nil
}

func boolRank(b bool) int {
	if b {
		return 1
	}
	return 0
}

func page[T any](all []T, offset, limit int) []T {
	if offset >= len(all) {
		return []T{}
	}
	end := len(all)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return all[offset:end]
}
