package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// translateNoRows maps pgx.ErrNoRows to the caller's not-found sentinel so
// repository callers never need to import pgx directly (matching the
// teacher's pattern of a package-local ErrNotFound).
func translateNoRows(err error, notFound error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return notFound
	}
	return err
}

// dbTx is satisfied by both *pgxpool.Pool and pgx.Tx, letting a repository
// run its statements against either the pool directly or an in-progress
// transaction. WithTx methods below rebind a repository from the former to
// the latter.
type dbTx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}
