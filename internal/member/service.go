package member

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gatherly.app/internal/apperr"
	"gatherly.app/internal/audit"
	"gatherly.app/internal/identity"
	"gatherly.app/internal/obs"
	"gatherly.app/internal/txn"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
	searchLimit      = 10
)

// Service manages memberships. Callers must have authorized the actor with
// access.Engine.CanManageMembers (or CanViewSpace for reads) first.
type Service struct {
	store Store
	users identity.Directory
	tx    txn.Runner
	sink  audit.Sink
	now   func() time.Time
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

func NewService(store Store, users identity.Directory, tx txn.Runner, sink audit.Sink, opts ...Option) (*Service, error) {
	if store == nil || users == nil || tx == nil || sink == nil {
		return nil, errors.New("member: store, directory, transaction runner and audit sink are required")
	}
	s := &Service{store: store, users: users, tx: tx, sink: sink, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// List pages through the members of spaceID.
func (s *Service) List(ctx context.Context, spaceID string, f ListFilter) (Page, error) {
	f.Search = strings.TrimSpace(f.Search)
	if f.Limit <= 0 || f.Limit > maxListLimit {
		f.Limit = defaultListLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	members, total, err := s.store.List(ctx, spaceID, f)
	if err != nil {
		return Page{}, err
	}
	if members == nil {
		members = []Member{}
	}
	return Page{Members: members, Total: total, Limit: f.Limit, Offset: f.Offset}, nil
}

// Add grants the user registered under email the given role in spaceID.
// An empty role means RoleMember.
func (s *Service) Add(ctx context.Context, actor audit.Actor, spaceID, ownerID, email string, role Role) (Member, error) {
	if role == "" {
		role = RoleMember
	}
	if !role.Valid() {
		return Member{}, fmt.Errorf("%w: unknown role %q", apperr.ErrInvalidInput, role)
	}
	email = identity.NormalizeEmail(email)
	if email == "" {
		return Member{}, fmt.Errorf("%w: email is required", apperr.ErrInvalidInput)
	}

	var added Member
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		user, err := s.users.FindByEmail(ctx, email)
		if err != nil {
			if errors.Is(err, apperr.ErrNotFound) {
				return fmt.Errorf("%w: no user with email %s", apperr.ErrNotFound, email)
			}
			return err
		}
		if user.ID == ownerID {
			return fmt.Errorf("%w: the owner cannot be added as a member", apperr.ErrInvalidInput)
		}
		if _, err := s.store.Find(ctx, spaceID, user.ID); err == nil {
			return fmt.Errorf("%w: user is already a member of this space", apperr.ErrAlreadyExists)
		} else if !errors.Is(err, apperr.ErrNotFound) {
			return err
		}
		now := s.now().UTC()
		m := Membership{
			SpaceID:   spaceID,
			UserID:    user.ID,
			Role:      role,
			IsActive:  true,
			JoinedAt:  now,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := s.store.Insert(ctx, &m); err != nil {
			return err
		}
		entry := audit.NewEntry(actor, audit.ActionMemberAdded, audit.ResourceMembership, spaceID, now)
		entry.NewValues = map[string]any{"user_id": user.ID, "role": string(role)}
		if err := s.sink.Record(ctx, entry); err != nil {
			return fmt.Errorf("record audit: %w", err)
		}
		added = Member{Membership: m, User: user}
		return nil
	})
	obs.RecordMutation(audit.ResourceMembership, string(audit.ActionMemberAdded), err)
	if err != nil {
		return Member{}, err
	}
	return added, nil
}

// UpdateRole changes the role of an existing member.
func (s *Service) UpdateRole(ctx context.Context, actor audit.Actor, spaceID, userID string, role Role) (Membership, error) {
	if !role.Valid() {
		return Membership{}, fmt.Errorf("%w: unknown role %q", apperr.ErrInvalidInput, role)
	}

	var updated Membership
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		m, err := s.store.Find(ctx, spaceID, userID)
		if err != nil {
			if errors.Is(err, apperr.ErrNotFound) {
				return fmt.Errorf("%w: user is not a member", apperr.ErrNotFound)
			}
			return err
		}
		now := s.now().UTC()
		if err := s.store.UpdateRole(ctx, spaceID, userID, role, now); err != nil {
			return err
		}
		entry := audit.NewEntry(actor, audit.ActionMemberUpdated, audit.ResourceMembership, spaceID, now)
		entry.OldValues = map[string]any{"user_id": userID, "role": string(m.Role)}
		entry.NewValues = map[string]any{"user_id": userID, "role": string(role)}
		if err := s.sink.Record(ctx, entry); err != nil {
			return fmt.Errorf("record audit: %w", err)
		}
		m.Role = role
		m.UpdatedAt = now
		updated = m
		return nil
	})
	obs.RecordMutation(audit.ResourceMembership, string(audit.ActionMemberUpdated), err)
	if err != nil {
		return Membership{}, err
	}
	return updated, nil
}

// Remove deletes the membership of userID. It reports whether a row was
// removed; removing a non-member is not an error.
func (s *Service) Remove(ctx context.Context, actor audit.Actor, spaceID, userID string) (bool, error) {
	var removed bool
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		m, err := s.store.Find(ctx, spaceID, userID)
		if errors.Is(err, apperr.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		ok, err := s.store.Delete(ctx, spaceID, userID)
		if err != nil || !ok {
			return err
		}
		entry := audit.NewEntry(actor, audit.ActionMemberRemoved, audit.ResourceMembership, spaceID, s.now().UTC())
		entry.OldValues = map[string]any{"user_id": userID, "role": string(m.Role)}
		if err := s.sink.Record(ctx, entry); err != nil {
			return fmt.Errorf("record audit: %w", err)
		}
		removed = true
		return nil
	})
	obs.RecordMutation(audit.ResourceMembership, string(audit.ActionMemberRemoved), err)
	if err != nil {
		return false, err
	}
	return removed, nil
}

// Search finds up to ten members of the space for mention autocomplete.
// The owner only shows up when they also hold a membership row. An empty
// query returns nothing.
func (s *Service) Search(ctx context.Context, spaceID, query string) ([]identity.User, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return []identity.User{}, nil
	}
	users, err := s.store.Search(ctx, spaceID, query, searchLimit)
	if err != nil {
		return nil, err
	}
	if users == nil {
		users = []identity.User{}
	}
	return users, nil
}
