package memstore

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"time"

	"gatherly.app/internal/apperr"
	"gatherly.app/internal/assign"
	"gatherly.app/internal/identity"
	"gatherly.app/internal/member"
)

// Members implements member.Store.
type Members struct{ s *Store }

func (t Members) Find(_ context.Context, spaceID, userID string) (member.Membership, error) {
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	m, ok := t.s.st.members[memberKey{spaceID, userID}]
	if !ok {
		return member.Membership{}, fmt.Errorf("%w: membership", apperr.ErrNotFound)
	}
	return m, nil
}

func (t Members) Insert(_ context.Context, m *member.Membership) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	if _, ok := t.s.st.spaces[m.SpaceID]; !ok {
		return fmt.Errorf("%w: space %s", apperr.ErrNotFound, m.SpaceID)
	}
	if _, ok := t.s.st.users[m.UserID]; !ok {
		return fmt.Errorf("%w: user %s", apperr.ErrNotFound, m.UserID)
	}
	k := memberKey{m.SpaceID, m.UserID}
	if _, ok := t.s.st.members[k]; ok {
		return fmt.Errorf("%w: membership", apperr.ErrAlreadyExists)
	}
	t.s.st.members[k] = *m
	return nil
}

func (t Members) UpdateRole(_ context.Context, spaceID, userID string, role member.Role, at time.Time) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	k := memberKey{spaceID, userID}
	m, ok := t.s.st.members[k]
	if !ok {
		return fmt.Errorf("%w: membership", apperr.ErrNotFound)
	}
	m.Role = role
	m.UpdatedAt = at
	t.s.st.members[k] = m
	return nil
}

func (t Members) Delete(_ context.Context, spaceID, userID string) (bool, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	k := memberKey{spaceID, userID}
	if _, ok := t.s.st.members[k]; !ok {
		return false, nil
	}
	delete(t.s.st.members, k)
	return true, nil
}

func (t Members) List(_ context.Context, spaceID string, f member.ListFilter) ([]member.Member, int, error) {
	t.s.mu.RLock()
	var out []member.Member
	for k, m := range t.s.st.members {
		if k.space != spaceID {
			continue
		}
		u := t.s.st.users[k.user]
		if f.Search != "" && !matchesUser(u, f.Search) {
			continue
		}
		out = append(out, member.Member{Membership: m, User: u})
	}
	t.s.mu.RUnlock()

	slices.SortFunc(out, func(a, b member.Member) int {
		if c := b.JoinedAt.Compare(a.JoinedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.UserID, b.UserID)
	})
	return page(out, f.Offset, f.Limit), len(out), nil
}

func (t Members) Search(_ context.Context, spaceID, query string, limit int) ([]identity.User, error) {
	t.s.mu.RLock()
	var out []identity.User
	for k := range t.s.st.members {
		if k.space != spaceID {
			continue
		}
		u, ok := t.s.st.users[k.user]
		if !ok || !matchesUser(u, query) {
			continue
		}
		out = append(out, u)
	}
	t.s.mu.RUnlock()
	slices.SortFunc(out, func(a, b identity.User) int { return cmp.Compare(a.ID, b.ID) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func matchesUser(u identity.User, q string) bool {
	return containsFold(u.FirstName, q) || containsFold(u.LastName, q) ||
		containsFold(u.Name(), q) || containsFold(u.Email, q)
}

// Assignments implements assign.Store.
type Assignments struct{ s *Store }

func (t Assignments) InsertIfAbsent(_ context.Context, a *assign.Assignment) (bool, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	if _, ok := t.s.st.items[a.TaskID]; !ok {
		return false, fmt.Errorf("%w: task %s", apperr.ErrNotFound, a.TaskID)
	}
	if _, ok := t.s.st.users[a.UserID]; !ok {
		return false, fmt.Errorf("%w: user %s", apperr.ErrNotFound, a.UserID)
	}
	k := assignKey{a.TaskID, a.UserID}
	if _, ok := t.s.st.assignments[k]; ok {
		return false, nil
	}
	t.s.st.assignments[k] = *a
	return true, nil
}

func (t Assignments) Delete(_ context.Context, taskID, userID string) (bool, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	k := assignKey{taskID, userID}
	if _, ok := t.s.st.assignments[k]; !ok {
		return false, nil
	}
	delete(t.s.st.assignments, k)
	return true, nil
}

func (t Assignments) DeleteAll(_ context.Context, taskID string) (int, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	n := 0
	for k := range t.s.st.assignments {
		if k.task == taskID {
			delete(t.s.st.assignments, k)
			n++
		}
	}
	return n, nil
}

func (t Assignments) Assignees(_ context.Context, taskID string) ([]identity.User, error) {
	t.s.mu.RLock()
	var rows []assign.Assignment
	for k, a := range t.s.st.assignments {
		if k.task == taskID {
			rows = append(rows, a)
		}
	}
	users := make([]identity.User, 0, len(rows))
	slices.SortFunc(rows, func(a, b assign.Assignment) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.UserID, b.UserID)
	})
	for _, a := range rows {
		users = append(users, t.s.st.users[a.UserID])
	}
	t.s.mu.RUnlock()
	return users, nil
}
