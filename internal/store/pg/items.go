package pg

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"gatherly.app/internal/item"
	"gatherly.app/internal/space"
)

const itemColumns = `id, space_id, creator_id, type, title, slug, description, status, due_date, state, deleted_at, created_at, updated_at`

// Items implements item.Store.
type Items struct{ s *Store }

var _ item.Store = (*Items)(nil)

func scanItem(row scanner) (item.Item, error) {
	var (
		it          item.Item
		typ, state  string
		description sql.NullString
		status      sql.NullString
		due         sql.NullTime
		deleted     sql.NullTime
	)
	if err := row.Scan(&it.ID, &it.SpaceID, &it.CreatorID, &typ, &it.Title, &it.Slug, &description,
		&status, &due, &state, &deleted, &it.CreatedAt, &it.UpdatedAt); err != nil {
		return item.Item{}, err
	}
	it.Type = item.Type(typ)
	it.State = space.State(state)
	if description.Valid {
		it.Description = &description.String
	}
	if status.Valid {
		st := item.Status(status.String)
		it.Status = &st
	}
	if due.Valid {
		it.DueDate = &due.Time
	}
	if deleted.Valid {
		it.DeletedAt = &deleted.Time
	}
	return it, nil
}

func nullStatus(st *item.Status) sql.NullString {
	if st == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: string(*st), Valid: true}
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func (t *Items) Insert(ctx context.Context, it *item.Item) error {
	_, err := t.s.conn(ctx).ExecContext(ctx, `
		insert into items (id, space_id, creator_id, type, title, slug, description, status, due_date, state, created_at, updated_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, it.ID, it.SpaceID, it.CreatorID, string(it.Type), it.Title, it.Slug, nullString(it.Description),
		nullStatus(it.Status), nullTime(it.DueDate), string(it.State), it.CreatedAt, it.UpdatedAt)
	return mapError(err, "insert item")
}

func (t *Items) Get(ctx context.Context, id string) (item.Item, error) {
	row := t.s.conn(ctx).QueryRowContext(ctx,
		`select `+itemColumns+` from items where id = $1 and state = 'active'`, id)
	it, err := scanItem(row)
	if err != nil {
		return item.Item{}, mapError(err, "item")
	}
	return it, nil
}

func (t *Items) GetBySlug(ctx context.Context, spaceID, sl string) (item.Item, error) {
	row := t.s.conn(ctx).QueryRowContext(ctx,
		`select `+itemColumns+` from items where space_id = $1 and slug = $2 and state = 'active'`, spaceID, sl)
	it, err := scanItem(row)
	if err != nil {
		return item.Item{}, mapError(err, "item")
	}
	return it, nil
}

func (t *Items) Update(ctx context.Context, it *item.Item) error {
	res, err := t.s.conn(ctx).ExecContext(ctx, `
		update items
		set title = $2, slug = $3, description = $4, status = $5, due_date = $6, updated_at = $7
		where id = $1 and state = 'active'
	`, it.ID, it.Title, it.Slug, nullString(it.Description), nullStatus(it.Status), nullTime(it.DueDate), it.UpdatedAt)
	if err != nil {
		return mapError(err, "update item")
	}
	return requireAffected(res, "item")
}

func (t *Items) SoftDelete(ctx context.Context, id string, at time.Time) error {
	res, err := t.s.conn(ctx).ExecContext(ctx, `
		update items set state = 'deleted', deleted_at = $2, updated_at = $2
		where id = $1 and state = 'active'
	`, id, at)
	if err != nil {
		return mapError(err, "delete item")
	}
	return requireAffected(res, "item")
}

func (t *Items) List(ctx context.Context, spaceID string, q item.Query) ([]item.Item, error) {
	conds := []string{`space_id = $1`, `state = 'active'`}
	args := []any{spaceID}
	add := func(cond string, vals ...any) {
		idx := make([]any, len(vals))
		for i, v := range vals {
			args = append(args, v)
			idx[i] = len(args)
		}
		conds = append(conds, fmt.Sprintf(cond, idx...))
	}
	if q.Type != "" {
		add(`type = $%d`, string(q.Type))
	}
	if q.Status != "" {
		add(`status = $%d`, string(q.Status))
	}
	if q.After != nil {
		add(`(created_at, id) < ($%d, $%d)`, q.After.CreatedAt, q.After.ID)
	}
	args = append(args, q.Limit)
	query := fmt.Sprintf(`select %s from items where %s order by created_at desc, id desc limit $%d`,
		itemColumns, strings.Join(conds, " and "), len(args))
	return t.query(ctx, query, args...)
}

func (t *Items) Open(ctx context.Context, spaceID string, limit int) ([]item.Item, error) {
	return t.query(ctx, `
		select `+itemColumns+` from items
		where space_id = $1 and state = 'active' and (type = 'NOTE' or status is distinct from 'DONE')
		order by created_at desc, id desc
		limit $2
	`, spaceID, limit)
}

func (t *Items) query(ctx context.Context, query string, args ...any) ([]item.Item, error) {
	rows, err := t.s.conn(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapError(err, "list items")
	}
	defer rows.Close()

	var out []item.Item
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
