package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"gatherly.app/internal/audit"
	"gatherly.app/internal/identity"
	"gatherly.app/internal/ids"
	"gatherly.app/internal/subscription"
)

func scanUsers(rows *sql.Rows) ([]identity.User, error) {
	var out []identity.User
	for rows.Next() {
		var u identity.User
		if err := rows.Scan(&u.ID, &u.FirstName, &u.LastName, &u.Email, &u.Avatar); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) FindByID(ctx context.Context, id string) (identity.User, error) {
	var u identity.User
	err := s.conn(ctx).QueryRowContext(ctx, `select `+userColumns+` from users where id = $1`, id).
		Scan(&u.ID, &u.FirstName, &u.LastName, &u.Email, &u.Avatar)
	if err != nil {
		return identity.User{}, mapError(err, "user")
	}
	return u, nil
}

func (s *Store) FindByEmail(ctx context.Context, email string) (identity.User, error) {
	var u identity.User
	err := s.conn(ctx).QueryRowContext(ctx, `select `+userColumns+` from users where lower(email) = $1`,
		identity.NormalizeEmail(email)).Scan(&u.ID, &u.FirstName, &u.LastName, &u.Email, &u.Avatar)
	if err != nil {
		return identity.User{}, mapError(err, "user")
	}
	return u, nil
}

// Record writes an audit entry to activity_logs inside the caller's
// transaction.
func (s *Store) Record(ctx context.Context, e *audit.Entry) error {
	if err := e.Validate(); err != nil {
		return err
	}
	oldJSON, err := marshalValues(e.OldValues)
	if err != nil {
		return fmt.Errorf("encode old values: %w", err)
	}
	newJSON, err := marshalValues(e.NewValues)
	if err != nil {
		return fmt.Errorf("encode new values: %w", err)
	}
	_, err = s.conn(ctx).ExecContext(ctx, `
		insert into activity_logs (id, occurred_at, actor_id, action, resource_type, resource_id,
			old_values, new_values, ip_address, user_agent, request_id)
		values ($1, $2, $3, $4, $5, $6, $7, $8, nullif($9, ''), nullif($10, ''), nullif($11, ''))
	`, e.ID, e.OccurredAt, e.ActorID, string(e.Action), e.ResourceType, e.ResourceID,
		oldJSON, newJSON, e.IP, e.UserAgent, e.RequestID)
	return mapError(err, "insert activity log")
}

// marshalValues encodes v for a jsonb column; nil maps become SQL NULL.
func marshalValues(v map[string]any) (any, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

const subscriptionColumns = `id, user_id, plan_slug, max_spaces, max_members_per_space, max_tasks_per_space,
	storage_limit_mb, features, status, started_at, expires_at`

func (s *Store) ActiveSubscription(ctx context.Context, userID string) (subscription.Subscription, error) {
	var (
		sub      subscription.Subscription
		features []byte
		status   string
		expires  sql.NullTime
	)
	err := s.conn(ctx).QueryRowContext(ctx, `
		select `+subscriptionColumns+`
		from subscriptions
		where user_id = $1 and status = 'active'
		order by started_at desc
		limit 1
	`, userID).Scan(&sub.ID, &sub.UserID, &sub.PlanSlug, &sub.MaxSpaces, &sub.MaxMembersPerSpace,
		&sub.MaxTasksPerSpace, &sub.StorageLimitMB, &features, &status, &sub.StartedAt, &expires)
	if err != nil {
		return subscription.Subscription{}, mapError(err, "active subscription")
	}
	sub.Status = subscription.Status(status)
	if expires.Valid {
		sub.ExpiresAt = &expires.Time
	}
	if len(features) > 0 {
		if err := json.Unmarshal(features, &sub.Features); err != nil {
			return subscription.Subscription{}, fmt.Errorf("decode features: %w", err)
		}
	}
	return sub, nil
}

func (s *Store) Plan(ctx context.Context, slugName string) (subscription.Plan, error) {
	var (
		p        subscription.Plan
		features []byte
	)
	err := s.conn(ctx).QueryRowContext(ctx, `
		select slug, name, description, max_spaces, max_members_per_space, max_tasks_per_space,
			storage_limit_mb, features, price_minor, currency
		from plans where slug = $1
	`, slugName).Scan(&p.Slug, &p.Name, &p.Description, &p.MaxSpaces, &p.MaxMembersPerSpace,
		&p.MaxTasksPerSpace, &p.StorageLimitMB, &features, &p.PriceMinor, &p.Currency)
	if err != nil {
		return subscription.Plan{}, mapError(err, "plan")
	}
	if len(features) > 0 {
		if err := json.Unmarshal(features, &p.Features); err != nil {
			return subscription.Plan{}, fmt.Errorf("decode features: %w", err)
		}
	}
	return p, nil
}

func (s *Store) InsertSubscription(ctx context.Context, sub *subscription.Subscription) error {
	if sub.ID == "" {
		sub.ID = ids.NewAt(sub.StartedAt)
	}
	features := []byte("{}")
	if len(sub.Features) > 0 {
		var err error
		if features, err = json.Marshal(sub.Features); err != nil {
			return fmt.Errorf("encode features: %w", err)
		}
	}
	_, err := s.conn(ctx).ExecContext(ctx, `
		insert into subscriptions (`+subscriptionColumns+`)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, sub.ID, sub.UserID, sub.PlanSlug, sub.MaxSpaces, sub.MaxMembersPerSpace, sub.MaxTasksPerSpace,
		sub.StorageLimitMB, features, string(sub.Status), sub.StartedAt, nullTime(sub.ExpiresAt))
	return mapError(err, "insert subscription")
}
