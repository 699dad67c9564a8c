package pg

import (
	"context"
	"fmt"
	"time"

	"gatherly.app/internal/assign"
	"gatherly.app/internal/identity"
	"gatherly.app/internal/member"
)

const (
	membershipColumns = `space_id, user_id, role, is_active, is_private, joined_at, created_at, updated_at`
	userColumns       = `id, first_name, last_name, email, avatar`
	userMatch         = `(u.first_name ilike $%[1]d or u.last_name ilike $%[1]d or u.email ilike $%[1]d
		or (u.first_name || ' ' || u.last_name) ilike $%[1]d)`
)

// Members implements member.Store.
type Members struct{ s *Store }

var _ member.Store = (*Members)(nil)

func scanMembership(row scanner, m *member.Membership) error {
	var role string
	if err := row.Scan(&m.SpaceID, &m.UserID, &role, &m.IsActive, &m.IsPrivate,
		&m.JoinedAt, &m.CreatedAt, &m.UpdatedAt); err != nil {
		return err
	}
	m.Role = member.Role(role)
	return nil
}

func (t *Members) Find(ctx context.Context, spaceID, userID string) (member.Membership, error) {
	var m member.Membership
	row := t.s.conn(ctx).QueryRowContext(ctx,
		`select `+membershipColumns+` from space_user where space_id = $1 and user_id = $2`, spaceID, userID)
	if err := scanMembership(row, &m); err != nil {
		return member.Membership{}, mapError(err, "membership")
	}
	return m, nil
}

func (t *Members) Insert(ctx context.Context, m *member.Membership) error {
	_, err := t.s.conn(ctx).ExecContext(ctx, `
		insert into space_user (`+membershipColumns+`)
		values ($1, $2, $3, $4, $5, $6, $7, $8)
	`, m.SpaceID, m.UserID, string(m.Role), m.IsActive, m.IsPrivate, m.JoinedAt, m.CreatedAt, m.UpdatedAt)
	return mapError(err, "insert membership")
}

func (t *Members) UpdateRole(ctx context.Context, spaceID, userID string, role member.Role, at time.Time) error {
	res, err := t.s.conn(ctx).ExecContext(ctx, `
		update space_user set role = $3, updated_at = $4
		where space_id = $1 and user_id = $2
	`, spaceID, userID, string(role), at)
	if err != nil {
		return mapError(err, "update membership")
	}
	return requireAffected(res, "membership")
}

func (t *Members) Delete(ctx context.Context, spaceID, userID string) (bool, error) {
	res, err := t.s.conn(ctx).ExecContext(ctx,
		`delete from space_user where space_id = $1 and user_id = $2`, spaceID, userID)
	if err != nil {
		return false, mapError(err, "delete membership")
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (t *Members) List(ctx context.Context, spaceID string, f member.ListFilter) ([]member.Member, int, error) {
	where := `su.space_id = $1`
	args := []any{spaceID}
	if f.Search != "" {
		args = append(args, likePattern(f.Search))
		where += ` and ` + fmt.Sprintf(userMatch, len(args))
	}

	q := t.s.conn(ctx)
	var total int
	if err := q.QueryRowContext(ctx, `
		select count(*) from space_user su join users u on u.id = su.user_id
		where `+where, args...).Scan(&total); err != nil {
		return nil, 0, mapError(err, "count members")
	}

	n := len(args)
	rows, err := q.QueryContext(ctx, fmt.Sprintf(`
		select su.space_id, su.user_id, su.role, su.is_active, su.is_private, su.joined_at, su.created_at, su.updated_at,
		       u.id, u.first_name, u.last_name, u.email, u.avatar
		from space_user su join users u on u.id = su.user_id
		where %s
		order by su.joined_at desc, su.user_id
		limit $%d offset $%d`, where, n+1, n+2), append(args, f.Limit, f.Offset)...)
	if err != nil {
		return nil, 0, mapError(err, "list members")
	}
	defer rows.Close()

	var out []member.Member
	for rows.Next() {
		var (
			m    member.Member
			role string
		)
		if err := rows.Scan(&m.SpaceID, &m.UserID, &role, &m.IsActive, &m.IsPrivate, &m.JoinedAt,
			&m.CreatedAt, &m.UpdatedAt, &m.User.ID, &m.User.FirstName, &m.User.LastName,
			&m.User.Email, &m.User.Avatar); err != nil {
			return nil, 0, err
		}
		m.Role = member.Role(role)
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

func (t *Members) Search(ctx context.Context, spaceID, query string, limit int) ([]identity.User, error) {
	rows, err := t.s.conn(ctx).QueryContext(ctx, fmt.Sprintf(`
		select u.id, u.first_name, u.last_name, u.email, u.avatar
		from space_user su
		join users u on u.id = su.user_id
		where su.space_id = $1
		  and %s
		order by u.id
		limit $3`, fmt.Sprintf(userMatch, 2)), spaceID, likePattern(query), limit)
	if err != nil {
		return nil, mapError(err, "search members")
	}
	defer rows.Close()
	return scanUsers(rows)
}

// Assignments implements assign.Store.
type Assignments struct{ s *Store }

var _ assign.Store = (*Assignments)(nil)

func (t *Assignments) InsertIfAbsent(ctx context.Context, a *assign.Assignment) (bool, error) {
	res, err := t.s.conn(ctx).ExecContext(ctx, `
		insert into task_user (task_id, user_id, status, role, reason, created_at)
		values ($1, $2, $3, $4, $5, $6)
		on conflict (task_id, user_id) do nothing
	`, a.TaskID, a.UserID, a.Status, nullString(a.Role), nullString(a.Reason), a.CreatedAt)
	if err != nil {
		return false, mapError(err, "insert assignment")
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

func (t *Assignments) Delete(ctx context.Context, taskID, userID string) (bool, error) {
	res, err := t.s.conn(ctx).ExecContext(ctx,
		`delete from task_user where task_id = $1 and user_id = $2`, taskID, userID)
	if err != nil {
		return false, mapError(err, "delete assignment")
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (t *Assignments) DeleteAll(ctx context.Context, taskID string) (int, error) {
	res, err := t.s.conn(ctx).ExecContext(ctx, `delete from task_user where task_id = $1`, taskID)
	if err != nil {
		return 0, mapError(err, "clear assignments")
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (t *Assignments) Assignees(ctx context.Context, taskID string) ([]identity.User, error) {
	rows, err := t.s.conn(ctx).QueryContext(ctx, `
		select u.id, u.first_name, u.last_name, u.email, u.avatar
		from task_user tu join users u on u.id = tu.user_id
		where tu.task_id = $1
		order by tu.created_at, u.id
	`, taskID)
	if err != nil {
		return nil, mapError(err, "list assignees")
	}
	defer rows.Close()
	return scanUsers(rows)
}
