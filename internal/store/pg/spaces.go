package pg

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"gatherly.app/internal/space"
)

const spaceColumns = `id, name, slug, description, is_private, owner_id, state, deleted_at, created_at, updated_at`

var spaceSortColumns = map[string]string{
	"name":       "name",
	"created_at": "created_at",
	"is_private": "is_private",
}

// Spaces implements space.Store.
type Spaces struct{ s *Store }

var _ space.Store = (*Spaces)(nil)

func scanSpace(row scanner) (space.Space, error) {
	var (
		sp      space.Space
		state   string
		deleted sql.NullTime
	)
	if err := row.Scan(&sp.ID, &sp.Name, &sp.Slug, &sp.Description, &sp.IsPrivate, &sp.OwnerID,
		&state, &deleted, &sp.CreatedAt, &sp.UpdatedAt); err != nil {
		return space.Space{}, err
	}
	sp.State = space.State(state)
	if deleted.Valid {
		t := deleted.Time
		sp.DeletedAt = &t
	}
	return sp, nil
}

func (t *Spaces) Insert(ctx context.Context, sp *space.Space) error {
	_, err := t.s.conn(ctx).ExecContext(ctx, `
		insert into spaces (id, name, slug, description, is_private, owner_id, state, created_at, updated_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, sp.ID, sp.Name, sp.Slug, sp.Description, sp.IsPrivate, sp.OwnerID, string(sp.State), sp.CreatedAt, sp.UpdatedAt)
	return mapError(err, "insert space")
}

func (t *Spaces) get(ctx context.Context, where string, arg any) (space.Space, error) {
	row := t.s.conn(ctx).QueryRowContext(ctx, `select `+spaceColumns+` from spaces where `+where, arg)
	sp, err := scanSpace(row)
	if err != nil {
		return space.Space{}, mapError(err, "space")
	}
	return sp, nil
}

func (t *Spaces) Get(ctx context.Context, id string) (space.Space, error) {
	return t.get(ctx, `id = $1 and state = 'active'`, id)
}

func (t *Spaces) GetBySlug(ctx context.Context, sl string) (space.Space, error) {
	return t.get(ctx, `slug = $1 and state = 'active'`, sl)
}

func (t *Spaces) GetIncludingDeleted(ctx context.Context, id string) (space.Space, error) {
	return t.get(ctx, `id = $1`, id)
}

func (t *Spaces) Update(ctx context.Context, sp *space.Space) error {
	res, err := t.s.conn(ctx).ExecContext(ctx, `
		update spaces set name = $2, description = $3, is_private = $4, updated_at = $5
		where id = $1 and state = 'active'
	`, sp.ID, sp.Name, sp.Description, sp.IsPrivate, sp.UpdatedAt)
	if err != nil {
		return mapError(err, "update space")
	}
	return requireAffected(res, "space")
}

func (t *Spaces) SoftDelete(ctx context.Context, id string, at time.Time) error {
	res, err := t.s.conn(ctx).ExecContext(ctx, `
		update spaces set state = 'deleted', deleted_at = $2, updated_at = $2
		where id = $1 and state = 'active'
	`, id, at)
	if err != nil {
		return mapError(err, "delete space")
	}
	return requireAffected(res, "space")
}

// Purge deletes the row; memberships, items and assignments cascade.
func (t *Spaces) Purge(ctx context.Context, id string) error {
	res, err := t.s.conn(ctx).ExecContext(ctx, `delete from spaces where id = $1`, id)
	if err != nil {
		return mapError(err, "purge space")
	}
	return requireAffected(res, "space")
}

// LockOwner takes a transaction-scoped advisory lock keyed by owner, so
// concurrent creates for the same owner count and insert one at a time.
func (t *Spaces) LockOwner(ctx context.Context, ownerID string) error {
	_, err := t.s.conn(ctx).ExecContext(ctx,
		`select pg_advisory_xact_lock(hashtextextended('space-quota:' || $1, 0))`, ownerID)
	if err != nil {
		return mapError(err, "lock space owner")
	}
	return nil
}

func (t *Spaces) CountOwned(ctx context.Context, ownerID string) (int, error) {
	var n int
	err := t.s.conn(ctx).QueryRowContext(ctx,
		`select count(*) from spaces where owner_id = $1 and state = 'active'`, ownerID).Scan(&n)
	if err != nil {
		return 0, mapError(err, "count spaces")
	}
	return n, nil
}

func (t *Spaces) ListOwned(ctx context.Context, ownerID string, f space.ListFilter) ([]space.Space, int, error) {
	col, ok := spaceSortColumns[f.SortBy]
	if !ok {
		col = "created_at"
	}
	dir := "desc"
	if f.SortDir == "asc" {
		dir = "asc"
	}
	where := `owner_id = $1 and state = 'active'`
	args := []any{ownerID}
	if f.Search != "" {
		where += ` and name ilike $2`
		args = append(args, likePattern(f.Search))
	}

	q := t.s.conn(ctx)
	var total int
	if err := q.QueryRowContext(ctx, `select count(*) from spaces where `+where, args...).Scan(&total); err != nil {
		return nil, 0, mapError(err, "count spaces")
	}

	n := len(args)
	query := fmt.Sprintf(`select %s from spaces where %s order by %s %s, id %s limit $%d offset $%d`,
		spaceColumns, where, col, dir, dir, n+1, n+2)
	rows, err := q.QueryContext(ctx, query, append(args, f.Limit, f.Offset)...)
	if err != nil {
		return nil, 0, mapError(err, "list spaces")
	}
	defer rows.Close()

	var out []space.Space
	for rows.Next() {
		sp, err := scanSpace(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, sp)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return out, total, nil
}
