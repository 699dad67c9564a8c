package subscription_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gatherly.app/internal/apperr"
	"gatherly.app/internal/audit"
	"gatherly.app/internal/store/memstore"
	"gatherly.app/internal/subscription"
)

func TestAssignFreePlan(t *testing.T) {
	st := memstore.New()
	svc, err := subscription.NewService(st, st, st)
	require.NoError(t, err)
	ctx := context.Background()

	sub, err := svc.AssignFreePlan(ctx, audit.System, "alice")
	require.NoError(t, err)
	assert.Equal(t, subscription.FreePlanSlug, sub.PlanSlug)
	assert.Equal(t, 3, sub.MaxSpaces)
	assert.Equal(t, subscription.StatusActive, sub.Status)

	_, err = svc.AssignFreePlan(ctx, audit.System, "alice")
	assert.ErrorIs(t, err, apperr.ErrAlreadyExists)

	_, err = svc.AssignFreePlan(ctx, audit.System, " ")
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)

	entries := st.AuditEntries()
	require.Len(t, entries, 1)
	assert.Equal(t, audit.ActionPlanAssigned, entries[0].Action)
}

func TestCheckSpaceQuota(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	expired := now.Add(-time.Hour)
	tests := []struct {
		name  string
		sub   *subscription.Subscription
		owned int
		want  error
	}{
		{"no subscription", nil, 0, apperr.ErrQuotaExceeded},
		{"under limit", &subscription.Subscription{Status: subscription.StatusActive, MaxSpaces: 3}, 2, nil},
		{"at limit", &subscription.Subscription{Status: subscription.StatusActive, MaxSpaces: 3}, 3, apperr.ErrQuotaExceeded},
		{"past due", &subscription.Subscription{Status: subscription.StatusPastDue, MaxSpaces: 3}, 0, apperr.ErrQuotaExceeded},
		{"expired", &subscription.Subscription{Status: subscription.StatusActive, MaxSpaces: 3, ExpiresAt: &expired}, 0, apperr.ErrQuotaExceeded},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			lookup := lookupFunc(func(context.Context, string) (subscription.Subscription, error) {
				if tc.sub == nil {
					return subscription.Subscription{}, apperr.ErrNotFound
				}
				return *tc.sub, nil
			})
			err := subscription.CheckSpaceQuota(context.Background(), lookup, "alice", tc.owned, now)
			if tc.want == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

type lookupFunc func(ctx context.Context, userID string) (subscription.Subscription, error)

func (f lookupFunc) ActiveSubscription(ctx context.Context, userID string) (subscription.Subscription, error) {
	return f(ctx, userID)
}
