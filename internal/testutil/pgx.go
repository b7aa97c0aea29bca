// Package testutil holds test doubles shared across package tests.
package testutil

import (
	"context"
	"sync/atomic"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// NoopTx satisfies pgx.Tx. Exec succeeds with an empty tag; query methods return nil, so
// code under test must reach the database only through mocked repositories.
type NoopTx struct {
	pool *NoopPool
}

func (t NoopTx) Begin(context.Context) (pgx.Tx, error) { return t, nil }

func (t NoopTx) Commit(context.Context) error {
	if t.pool != nil {
		t.pool.commits.Add(1)
	}
	return nil
}

func (t NoopTx) Rollback(context.Context) error { return nil }

func (NoopTx) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	return pgconn.NewCommandTag(""), nil
}
func (NoopTx) Query(context.Context, string, ...any) (pgx.Rows, error) { return nil, nil }
func (NoopTx) QueryRow(context.Context, string, ...any) pgx.Row        { return nil }
func (NoopTx) CopyFrom(context.Context, pgx.Identifier, []string, pgx.CopyFromSource) (int64, error) {
	return 0, nil
}
func (NoopTx) SendBatch(context.Context, *pgx.Batch) pgx.BatchResults { return nil }
func (NoopTx) LargeObjects() pgx.LargeObjects                         { return pgx.LargeObjects{} }
func (NoopTx) Prepare(context.Context, string, string) (*pgconn.StatementDescription, error) {
	return nil, nil
}
func (NoopTx) Conn() *pgx.Conn { return nil }

// NoopPool hands out NoopTx values and counts commits.
type NoopPool struct {
	commits atomic.Int64
}

func (p *NoopPool) Begin(context.Context) (pgx.Tx, error) { return NoopTx{pool: p}, nil }

// Commits returns how many transactions from this pool were committed.
func (p *NoopPool) Commits() int64 { return p.commits.Load() }
