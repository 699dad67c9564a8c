// Package subscription exposes the plan limits the space lifecycle consults
// before creating a space, and assigns the free plan to new users.
package subscription

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gatherly.app/internal/apperr"
	"gatherly.app/internal/audit"
	"gatherly.app/internal/txn"
)

// Status of a subscription.
type Status string

const (
	StatusActive    Status = "active"
	StatusInactive  Status = "inactive"
	StatusPastDue   Status = "past_due"
	StatusCancelled Status = "cancelled"
)

// FreePlanSlug identifies the plan every user starts on.
const FreePlanSlug = "free"

// Plan is a catalog entry.
type Plan struct {
	Slug               string          `json:"slug"`
	Name               string          `json:"name"`
	Description        string          `json:"description,omitempty"`
	MaxSpaces          int             `json:"max_spaces"`
	MaxMembersPerSpace int             `json:"max_members_per_space"`
	MaxTasksPerSpace   int             `json:"max_tasks_per_space"`
	StorageLimitMB     int             `json:"storage_limit_mb"`
	Features           map[string]bool `json:"features,omitempty"`
	PriceMinor         int64           `json:"price_minor"`
	Currency           string          `json:"currency"`
}

// FreePlan mirrors the seeded "free" plan row.
var FreePlan = Plan{
	Slug:               FreePlanSlug,
	Name:               "Free",
	Description:        "The perfect starting point for small teams.",
	MaxSpaces:          3,
	MaxMembersPerSpace: 10,
	MaxTasksPerSpace:   100,
	StorageLimitMB:     500,
	Features: map[string]bool{
		"custom_fields":  false,
		"analytics":      false,
		"priority_tasks": false,
	},
	Currency: "USD",
}

// Subscription snapshots a plan's limits for one user.
type Subscription struct {
	ID                 string          `json:"id"`
	UserID             string          `json:"user_id"`
	PlanSlug           string          `json:"plan_slug"`
	MaxSpaces          int             `json:"max_spaces"`
	MaxMembersPerSpace int             `json:"max_members_per_space"`
	MaxTasksPerSpace   int             `json:"max_tasks_per_space"`
	StorageLimitMB     int             `json:"storage_limit_mb"`
	Features           map[string]bool `json:"features,omitempty"`
	Status             Status          `json:"status"`
	StartedAt          time.Time       `json:"started_at"`
	ExpiresAt          *time.Time      `json:"expires_at,omitempty"`
}

// Active reports whether the subscription currently grants its limits.
func (s Subscription) Active(now time.Time) bool {
	if s.Status != StatusActive {
		return false
	}
	return s.ExpiresAt == nil || now.Before(*s.ExpiresAt)
}

// Lookup returns the user's active subscription or apperr.ErrNotFound.
type Lookup interface {
	ActiveSubscription(ctx context.Context, userID string) (Subscription, error)
}

// Store persists plans and subscriptions.
type Store interface {
	Lookup
	Plan(ctx context.Context, slug string) (Plan, error)
	InsertSubscription(ctx context.Context, sub *Subscription) error
}

// CheckSpaceQuota fails with apperr.ErrQuotaExceeded unless the user holds
// an active subscription allowing one more owned space.
func CheckSpaceQuota(ctx context.Context, lookup Lookup, userID string, owned int, now time.Time) error {
	sub, err := lookup.ActiveSubscription(ctx, userID)
	if errors.Is(err, apperr.ErrNotFound) {
		return fmt.Errorf("%w: no active subscription", apperr.ErrQuotaExceeded)
	}
	if err != nil {
		return fmt.Errorf("lookup subscription: %w", err)
	}
	if !sub.Active(now) {
		return fmt.Errorf("%w: subscription is %s", apperr.ErrQuotaExceeded, sub.Status)
	}
	if owned >= sub.MaxSpaces {
		return fmt.Errorf("%w: you have reached the maximum number of spaces allowed for your plan (%d)",
			apperr.ErrQuotaExceeded, sub.MaxSpaces)
	}
	return nil
}

// Service assigns plans.
type Service struct {
	store Store
	tx    txn.Runner
	sink  audit.Sink
	now   func() time.Time
}

func NewService(store Store, tx txn.Runner, sink audit.Sink) (*Service, error) {
	if store == nil || tx == nil || sink == nil {
		return nil, errors.New("subscription: store, transaction runner and audit sink are required")
	}
	return &Service{store: store, tx: tx, sink: sink, now: time.Now}, nil
}

// AssignFreePlan gives userID an active free subscription. Users that
// already hold an active subscription get apperr.ErrAlreadyExists.
func (s *Service) AssignFreePlan(ctx context.Context, actor audit.Actor, userID string) (Subscription, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return Subscription{}, fmt.Errorf("%w: user_id is required", apperr.ErrInvalidInput)
	}
	var sub Subscription
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		if _, err := s.store.ActiveSubscription(ctx, userID); err == nil {
			return fmt.Errorf("%w: user already has an active subscription", apperr.ErrAlreadyExists)
		} else if !errors.Is(err, apperr.ErrNotFound) {
			return err
		}
		plan, err := s.store.Plan(ctx, FreePlanSlug)
		if err != nil {
			return fmt.Errorf("load free plan: %w", err)
		}
		now := s.now().UTC()
		sub = Subscription{
			UserID:             userID,
			PlanSlug:           plan.Slug,
			MaxSpaces:          plan.MaxSpaces,
			MaxMembersPerSpace: plan.MaxMembersPerSpace,
			MaxTasksPerSpace:   plan.MaxTasksPerSpace,
			StorageLimitMB:     plan.StorageLimitMB,
			Features:           plan.Features,
			Status:             StatusActive,
			StartedAt:          now,
		}
		if err := s.store.InsertSubscription(ctx, &sub); err != nil {
			return err
		}
		entry := audit.NewEntry(actor, audit.ActionPlanAssigned, audit.ResourceSubscription, sub.ID, now)
		entry.NewValues = map[string]any{"user_id": userID, "plan": plan.Slug}
		return s.sink.Record(ctx, entry)
	})
	if err != nil {
		return Subscription{}, err
	}
	return sub, nil
}
