// Package memstore is an in-process implementation of every storage
// interface the lifecycle services depend on. Transactions are serialized
// and rolled back by restoring a snapshot taken when they began.
package memstore

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"

	"gatherly.app/internal/apperr"
	"gatherly.app/internal/assign"
	"gatherly.app/internal/audit"
	"gatherly.app/internal/identity"
	"gatherly.app/internal/ids"
	"gatherly.app/internal/item"
	"gatherly.app/internal/member"
	"gatherly.app/internal/slug"
	"gatherly.app/internal/space"
	"gatherly.app/internal/subscription"
	"gatherly.app/internal/txn"
)

type memberKey struct{ space, user string }

type assignKey struct{ task, user string }

type state struct {
	users       map[string]identity.User
	spaces      map[string]space.Space
	items       map[string]item.Item
	members     map[memberKey]member.Membership
	assignments map[assignKey]assign.Assignment
	plans       map[string]subscription.Plan
	subs        []subscription.Subscription
	audit       []audit.Entry
}

func newState() state {
	return state{
		users:       map[string]identity.User{},
		spaces:      map[string]space.Space{},
		items:       map[string]item.Item{},
		members:     map[memberKey]member.Membership{},
		assignments: map[assignKey]assign.Assignment{},
		plans:       map[string]subscription.Plan{subscription.FreePlanSlug: subscription.FreePlan},
	}
}

func (s state) clone() state {
	return state{
		users:       maps.Clone(s.users),
		spaces:      maps.Clone(s.spaces),
		items:       maps.Clone(s.items),
		members:     maps.Clone(s.members),
		assignments: maps.Clone(s.assignments),
		plans:       maps.Clone(s.plans),
		subs:        slices.Clone(s.subs),
		audit:       slices.Clone(s.audit),
	}
}

// Store holds all data in memory. The zero value is not usable; call New.
type Store struct {
	txMu sync.Mutex
	mu   sync.RWMutex
	st   state
}

var (
	_ txn.Runner         = (*Store)(nil)
	_ slug.Registry      = (*Store)(nil)
	_ audit.Sink         = (*Store)(nil)
	_ identity.Directory = (*Store)(nil)
	_ subscription.Store = (*Store)(nil)
	_ space.Store        = Spaces{}
	_ item.Store         = Items{}
	_ member.Store       = Members{}
	_ assign.Store       = Assignments{}
)

// New returns an empty store with the free plan seeded.
func New() *Store {
	return &Store{st: newState()}
}

type txKey struct{}

// InTx runs fn with exclusive write access. Nested calls join the outer
// transaction but, like a savepoint, undo only their own writes on error.
// After-commit hooks run once the outermost call succeeds.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(txKey{}) == s {
		hooks, _ := txn.HooksFrom(ctx)
		mark := hooks.Mark()
		if err := s.attempt(ctx, fn); err != nil {
			hooks.Discard(mark)
			return err
		}
		return nil
	}
	s.txMu.Lock()
	defer s.txMu.Unlock()

	ctx, hooks := txn.WithHooks(context.WithValue(ctx, txKey{}, s))
	if err := s.attempt(ctx, fn); err != nil {
		return err
	}
	hooks.Run()
	return nil
}

// attempt runs fn and restores the pre-call state if it fails.
func (s *Store) attempt(ctx context.Context, fn func(ctx context.Context) error) error {
	s.mu.RLock()
	snapshot := s.st.clone()
	s.mu.RUnlock()

	if err := fn(ctx); err != nil {
		s.mu.Lock()
		s.st = snapshot
		s.mu.Unlock()
		return err
	}
	return nil
}

// SlugExists reports whether a live space or item already uses candidate.
func (s *Store) SlugExists(_ context.Context, kind slug.Kind, candidate string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	switch kind {
	case slug.KindSpace:
		return s.spaceSlugTaken(candidate, ""), nil
	case slug.KindItem:
		return s.itemSlugTaken(candidate, ""), nil
	}
	return false, fmt.Errorf("unknown slug kind %q", kind)
}

func (s *Store) spaceSlugTaken(sl, exceptID string) bool {
	for _, sp := range s.st.spaces {
		if sp.State == space.StateActive && sp.Slug == sl && sp.ID != exceptID {
			return true
		}
	}
	return false
}

func (s *Store) itemSlugTaken(sl, exceptID string) bool {
	for _, it := range s.st.items {
		if it.State == space.StateActive && it.Slug == sl && it.ID != exceptID {
			return true
		}
	}
	return false
}

// Record appends an audit entry.
func (s *Store) Record(_ context.Context, e *audit.Entry) error {
	if err := e.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.audit = append(s.st.audit, *e)
	return nil
}

// AuditEntries returns a copy of every recorded entry in insertion order.
func (s *Store) AuditEntries() []audit.Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.st.audit)
}

// PutUser inserts or replaces a directory entry.
func (s *Store) PutUser(u identity.User) {
	u.Email = identity.NormalizeEmail(u.Email)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.users[u.ID] = u
}

func (s *Store) FindByID(_ context.Context, id string) (identity.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.st.users[id]
	if !ok {
		return identity.User{}, fmt.Errorf("%w: user %s", apperr.ErrNotFound, id)
	}
	return u, nil
}

func (s *Store) FindByEmail(_ context.Context, email string) (identity.User, error) {
	email = identity.NormalizeEmail(email)
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.st.users {
		if u.Email == email {
			return u, nil
		}
	}
	return identity.User{}, fmt.Errorf("%w: user %s", apperr.ErrNotFound, email)
}

// ActiveSubscription returns the most recently started active subscription.
func (s *Store) ActiveSubscription(_ context.Context, userID string) (subscription.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var (
		found subscription.Subscription
		ok    bool
	)
	for _, sub := range s.st.subs {
		if sub.UserID != userID || sub.Status != subscription.StatusActive {
			continue
		}
		if !ok || sub.StartedAt.After(found.StartedAt) {
			found, ok = sub, true
		}
	}
	if !ok {
		return subscription.Subscription{}, fmt.Errorf("%w: no active subscription", apperr.ErrNotFound)
	}
	return found, nil
}

func (s *Store) Plan(_ context.Context, slugName string) (subscription.Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.st.plans[slugName]
	if !ok {
		return subscription.Plan{}, fmt.Errorf("%w: plan %s", apperr.ErrNotFound, slugName)
	}
	return p, nil
}

func (s *Store) InsertSubscription(_ context.Context, sub *subscription.Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sub.ID == "" {
		sub.ID = ids.NewAt(sub.StartedAt)
	}
	s.st.subs = append(s.st.subs, *sub)
	return nil
}

// Spaces returns the space table.
func (s *Store) Spaces() Spaces { return Spaces{s} }

// Items returns the item table.
func (s *Store) Items() Items { return Items{s} }

// Members returns the membership table.
func (s *Store) Members() Members { return Members{s} }

// Assignments returns the task assignment table.
func (s *Store) Assignments() Assignments { return Assignments{s} }

func containsFold(haystack, needle string) bool {
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}
