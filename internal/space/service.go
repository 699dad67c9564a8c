package space

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
	"gatherly.app/internal/subscription"
	"gatherly.app/internal/txn"
)

const (
	maxNameLength        = 255
	maxDescriptionLength = 1000
	defaultListLimit     = 10
	maxListLimit         = 100
)

var allowedSorts = map[string]bool{"name": true, "created_at": true, "is_private": true}

// Service creates, edits and deletes spaces. Callers must have run the
// matching access check before invoking a mutation.
type Service struct {
	store Store
	slugs slug.Registry
	subs  subscription.Lookup
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

func NewService(store Store, slugs slug.Registry, subs subscription.Lookup, tx txn.Runner, sink audit.Sink, opts ...Option) (*Service, error) {
	if store == nil || slugs == nil || subs == nil || tx == nil || sink == nil {
		return nil, errors.New("space: store, slug registry, subscription lookup, transaction runner and audit sink are required")
	}
	s := &Service{store: store, slugs: slugs, subs: subs, tx: tx, sink: sink, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Create makes actor the owner of a new space, subject to plan quota.
func (s *Service) Create(ctx context.Context, actor audit.Actor, in CreateInput) (Space, error) {
	name, desc, err := validate(in.Name, in.Description)
	if err != nil {
		return Space{}, err
	}
	if actor.UserID == "" {
		return Space{}, fmt.Errorf("%w: actor is required", apperr.ErrUnauthorized)
	}

	var created Space
	err = slug.Retry(ctx, slug.KindSpace, func(ctx context.Context) error {
		return s.tx.InTx(ctx, func(ctx context.Context) error {
			now := s.now().UTC()
			if err := s.store.LockOwner(ctx, actor.UserID); err != nil {
				return fmt.Errorf("lock owner: %w", err)
			}
			owned, err := s.store.CountOwned(ctx, actor.UserID)
			if err != nil {
				return fmt.Errorf("count owned spaces: %w", err)
			}
			if err := subscription.CheckSpaceQuota(ctx, s.subs, actor.UserID, owned, now); err != nil {
				return err
			}
			sl, err := slug.Next(ctx, s.slugs, slug.KindSpace, name)
			if err != nil {
				return err
			}
			sp := Space{
				ID:          ids.NewAt(now),
				Name:        name,
				Slug:        sl,
				Description: desc,
				IsPrivate:   in.IsPrivate,
				OwnerID:     actor.UserID,
				State:       StateActive,
				CreatedAt:   now,
				UpdatedAt:   now,
			}
			if err := s.store.Insert(ctx, &sp); err != nil {
				return err
			}
			entry := audit.NewEntry(actor, audit.ActionCreated, audit.ResourceSpace, sp.ID, now)
			if entry.NewValues, err = audit.Snapshot(sp); err != nil {
				return err
			}
			if err := s.sink.Record(ctx, entry); err != nil {
				return fmt.Errorf("record audit: %w", err)
			}
			created = sp
			return nil
		})
	})
	obs.RecordMutation(audit.ResourceSpace, string(audit.ActionCreated), err)
	if err != nil {
		return Space{}, err
	}
	return created, nil
}

// Update replaces name, description and privacy. The slug is kept.
func (s *Service) Update(ctx context.Context, actor audit.Actor, sp Space, in UpdateInput) (Space, error) {
	name, desc, err := validate(in.Name, in.Description)
	if err != nil {
		return Space{}, err
	}

	var updated Space
	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		current, err := s.store.Get(ctx, sp.ID)
		if err != nil {
			return err
		}
		before, err := audit.Snapshot(current)
		if err != nil {
			return err
		}
		now := s.now().UTC()
		current.Name = name
		current.Description = desc
		current.IsPrivate = in.IsPrivate
		current.UpdatedAt = now
		if err := s.store.Update(ctx, &current); err != nil {
			return err
		}
		entry := audit.NewEntry(actor, audit.ActionUpdated, audit.ResourceSpace, current.ID, now)
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
	obs.RecordMutation(audit.ResourceSpace, string(audit.ActionUpdated), err)
	if err != nil {
		return Space{}, err
	}
	return updated, nil
}

// Delete soft-deletes the active space identified by slug or id.
func (s *Service) Delete(ctx context.Context, actor audit.Actor, ref string) error {
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		sp, err := s.resolve(ctx, ref)
		if err != nil {
			return err
		}
		before, err := audit.Snapshot(sp)
		if err != nil {
			return err
		}
		now := s.now().UTC()
		if err := s.store.SoftDelete(ctx, sp.ID, now); err != nil {
			return err
		}
		entry := audit.NewEntry(actor, audit.ActionDeleted, audit.ResourceSpace, sp.ID, now)
		entry.OldValues = before
		if err := s.sink.Record(ctx, entry); err != nil {
			return fmt.Errorf("record audit: %w", err)
		}
		return nil
	})
	obs.RecordMutation(audit.ResourceSpace, string(audit.ActionDeleted), err)
	return err
}

// ForceDelete permanently removes a space, soft-deleted or not, together
// with its memberships, items and assignments. Administrative use only.
func (s *Service) ForceDelete(ctx context.Context, actor audit.Actor, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("%w: space id is required", apperr.ErrInvalidInput)
	}
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		sp, err := s.store.GetIncludingDeleted(ctx, id)
		if err != nil {
			return err
		}
		before, err := audit.Snapshot(sp)
		if err != nil {
			return err
		}
		if err := s.store.Purge(ctx, sp.ID); err != nil {
			return err
		}
		entry := audit.NewEntry(actor, audit.ActionForceDeleted, audit.ResourceSpace, sp.ID, s.now().UTC())
		entry.OldValues = before
		if err := s.sink.Record(ctx, entry); err != nil {
			return fmt.Errorf("record audit: %w", err)
		}
		return nil
	})
	obs.RecordMutation(audit.ResourceSpace, string(audit.ActionForceDeleted), err)
	return err
}

// Get returns an active space by id.
func (s *Service) Get(ctx context.Context, id string) (Space, error) {
	return s.store.Get(ctx, strings.TrimSpace(id))
}

// GetBySlug returns an active space by slug.
func (s *Service) GetBySlug(ctx context.Context, sl string) (Space, error) {
	return s.store.GetBySlug(ctx, strings.TrimSpace(sl))
}

// Resolve finds an active space by slug, falling back to id.
func (s *Service) Resolve(ctx context.Context, ref string) (Space, error) {
	return s.resolve(ctx, ref)
}

// ListOwned pages through the spaces ownerID created.
func (s *Service) ListOwned(ctx context.Context, ownerID string, f ListFilter) (Page, error) {
	f.Search = strings.TrimSpace(f.Search)
	if !allowedSorts[f.SortBy] {
		f.SortBy = "created_at"
	}
	f.SortDir = strings.ToLower(f.SortDir)
	if f.SortDir != "asc" && f.SortDir != "desc" {
		f.SortDir = "desc"
	}
	if f.Limit <= 0 || f.Limit > maxListLimit {
		f.Limit = defaultListLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	spaces, total, err := s.store.ListOwned(ctx, ownerID, f)
	if err != nil {
		return Page{}, err
	}
	if spaces == nil {
		spaces = []Space{}
	}
	return Page{Spaces: spaces, Total: total, Limit: f.Limit, Offset: f.Offset}, nil
}

func (s *Service) resolve(ctx context.Context, ref string) (Space, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return Space{}, fmt.Errorf("%w: space not found", apperr.ErrNotFound)
	}
	sp, err := s.store.GetBySlug(ctx, ref)
	if err == nil {
		return sp, nil
	}
	if !errors.Is(err, apperr.ErrNotFound) {
		return Space{}, err
	}
	if ids.Valid(ref) {
		sp, err = s.store.Get(ctx, ref)
		if err == nil || !errors.Is(err, apperr.ErrNotFound) {
			return sp, err
		}
	}
	return Space{}, fmt.Errorf("%w: space not found", apperr.ErrNotFound)
}

func validate(name, description string) (string, string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", "", fmt.Errorf("%w: space name is required", apperr.ErrInvalidInput)
	}
	if utf8.RuneCountInString(name) > maxNameLength {
		return "", "", fmt.Errorf("%w: space name must be at most %d characters", apperr.ErrInvalidInput, maxNameLength)
	}
	description = strings.TrimSpace(description)
	if utf8.RuneCountInString(description) > maxDescriptionLength {
		return "", "", fmt.Errorf("%w: description must be at most %d characters", apperr.ErrInvalidInput, maxDescriptionLength)
	}
	return name, description, nil
}
