// Package postgres implements the relational task store and the locked
// claim protocol on top of github.com/jackc/pgx/v5.
package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// PGXPool is the subset of *pgxpool.Pool's surface the store needs. It is
// satisfied by both *pgxpool.Pool and github.com/pashagolub/pgxmock/v4's
// mock pool, which is the seam the store tests run through.
type PGXPool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}
