// Package postgres implements store.Store on a pgx connection pool. Each
// unit of work is one database transaction; row locks are taken with
// SELECT ... FOR UPDATE.
package postgres

import (
	"context"
	"errors"

	"github.com/finanspro/dbo/internal/store"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	pkgerrors "github.com/pkg/errors"
)

const (
	uniqueViolation     = "23505"
	foreignKeyViolation = "23503"
)

type Store struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *Store) InTx(ctx context.Context, fn func(tx store.Tx) error) error {
	return pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(ptx pgx.Tx) error {
		return fn(&tx{q: ptx})
	})
}

type tx struct {
	q pgx.Tx
}

// mapErr translates driver errors into store sentinels and adds context.
func mapErr(err error, op string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return store.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case uniqueViolation:
			return pkgerrors.Wrapf(store.ErrConflict, "%s: %s", op, pgErr.ConstraintName)
		case foreignKeyViolation:
			return pkgerrors.Wrapf(store.ErrNotFound, "%s: %s", op, pgErr.ConstraintName)
		}
	}
	return pkgerrors.Wrap(err, op)
}

// execOne runs a statement that must touch exactly one row.
func (t *tx) execOne(ctx context.Context, op, sql string, args ...any) error {
	tag, err := t.q.Exec(ctx, sql, args...)
	if err != nil {
		return mapErr(err, op)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}
