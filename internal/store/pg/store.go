package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"gatherly.app/internal/apperr"
	"gatherly.app/internal/audit"
	"gatherly.app/internal/identity"
	"gatherly.app/internal/slug"
	"gatherly.app/internal/subscription"
	"gatherly.app/internal/txn"
)

const (
	pgErrUniqueViolation     = "23505"
	pgErrForeignKeyViolation = "23503"
)

// Store is the PostgreSQL implementation of every storage interface the
// lifecycle services use.
type Store struct {
	db *sql.DB
}

var (
	_ txn.Runner         = (*Store)(nil)
	_ slug.Registry      = (*Store)(nil)
	_ audit.Sink         = (*Store)(nil)
	_ identity.Directory = (*Store)(nil)
	_ subscription.Store = (*Store)(nil)
)

func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	// Tuned pool defaults; adjust under load tests
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

// New wraps an existing handle.
func New(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	if s.db == nil {
		return errors.New("database connection unavailable")
	}
	return s.db.PingContext(ctx)
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type txKey struct{}

// txState is the open transaction carried by ctx. depth counts the
// savepoints currently nested inside it.
type txState struct {
	tx    *sql.Tx
	depth int
	hooks *txn.Hooks
}

// conn returns the transaction carried by ctx, or the pool.
func (s *Store) conn(ctx context.Context) querier {
	if st, ok := ctx.Value(txKey{}).(*txState); ok {
		return st.tx
	}
	return s.db
}

// InTx runs fn in a transaction. A nested call joins the outer transaction
// under a savepoint, so a failure inside it (a unique violation during slug
// retry, say) rolls back only its own statements and leaves the outer
// transaction usable. After-commit hooks run once the outermost call commits.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if st, ok := ctx.Value(txKey{}).(*txState); ok {
		return s.inSavepoint(ctx, st, fn)
	}
	if s.db == nil {
		return errors.New("database connection unavailable")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	ctx, hooks := txn.WithHooks(ctx)
	if err := fn(context.WithValue(ctx, txKey{}, &txState{tx: tx, hooks: hooks})); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	hooks.Run()
	return nil
}

func (s *Store) inSavepoint(ctx context.Context, st *txState, fn func(ctx context.Context) error) error {
	st.depth++
	defer func() { st.depth-- }()
	name := fmt.Sprintf("sp_%d", st.depth)
	if _, err := st.tx.ExecContext(ctx, "savepoint "+name); err != nil {
		return fmt.Errorf("savepoint: %w", err)
	}
	mark := st.hooks.Mark()
	if err := fn(ctx); err != nil {
		st.hooks.Discard(mark)
		if _, rbErr := st.tx.ExecContext(ctx, "rollback to savepoint "+name); rbErr != nil {
			return errors.Join(err, fmt.Errorf("rollback to savepoint: %w", rbErr))
		}
		return err
	}
	if _, err := st.tx.ExecContext(ctx, "release savepoint "+name); err != nil {
		return fmt.Errorf("release savepoint: %w", err)
	}
	return nil
}

// Spaces returns the space table.
func (s *Store) Spaces() *Spaces { return &Spaces{s} }

// Items returns the item table.
func (s *Store) Items() *Items { return &Items{s} }

// Members returns the space_user table.
func (s *Store) Members() *Members { return &Members{s} }

// Assignments returns the task_user table.
func (s *Store) Assignments() *Assignments { return &Assignments{s} }

// SlugExists reports whether a live space or item already uses candidate.
func (s *Store) SlugExists(ctx context.Context, kind slug.Kind, candidate string) (bool, error) {
	var table string
	switch kind {
	case slug.KindSpace:
		table = "spaces"
	case slug.KindItem:
		table = "items"
	default:
		return false, fmt.Errorf("unknown slug kind %q", kind)
	}
	var exists bool
	err := s.conn(ctx).QueryRowContext(ctx,
		`select exists(select 1 from `+table+` where slug = $1 and deleted_at is null)`, candidate).Scan(&exists)
	return exists, err
}

func maybePgError(err error) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr, true
	}
	return nil, false
}

// mapError translates driver errors into apperr sentinels.
func mapError(err error, what string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", apperr.ErrNotFound, what)
	}
	if pgErr, ok := maybePgError(err); ok {
		switch pgErr.Code {
		case pgErrUniqueViolation:
			return fmt.Errorf("%w: %s (%s)", apperr.ErrAlreadyExists, what, pgErr.ConstraintName)
		case pgErrForeignKeyViolation:
			return fmt.Errorf("%w: %s references a missing row (%s)", apperr.ErrNotFound, what, pgErr.ConstraintName)
		}
	}
	return fmt.Errorf("%s: %w", what, err)
}

// requireAffected turns a zero-row update into ErrNotFound.
func requireAffected(res sql.Result, what string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", apperr.ErrNotFound, what)
	}
	return nil
}

// likePattern escapes q for use in an ILIKE substring match.
func likePattern(q string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(q) + "%"
}

type scanner interface {
	Scan(dest ...any) error
}
