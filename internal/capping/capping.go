// Package capping enforces per-day and lifetime reward ceilings per user.
//
// Reading what a user has already earned and writing the new reward must happen under the
// same per-user lock and in the same transaction, otherwise two jobs for one user can both
// pass the cap check against a stale total. WithUserLock provides that scope.
package capping

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// TxBeginner is satisfied by *pgxpool.Pool.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// EarningsReader returns what a user has earned (APPROVED or CLAIMED rewards) since dayStart
// and over their lifetime.
type EarningsReader interface {
	EarnedTotalsTx(ctx context.Context, tx pgx.Tx, userID uuid.UUID, dayStart time.Time) (today, lifetime int64, err error)
}

// Caps are the effective ceilings for one award. Nil means unbounded.
type Caps struct {
	Daily    *int64
	Lifetime *int64
}

type Authority struct {
	pool     TxBeginner
	earnings EarningsReader
	loc      *time.Location
	locks    *keyedMutex
}

// NewAuthority returns an Authority whose day boundary is midnight in loc (UTC when nil).
func NewAuthority(pool TxBeginner, earnings EarningsReader, loc *time.Location) *Authority {
	if loc == nil {
		loc = time.UTC
	}
	return &Authority{pool: pool, earnings: earnings, loc: loc, locks: newKeyedMutex()}
}

// WithUserLock runs fn in a transaction that holds the user's lock both in this process and,
// through a transaction-scoped advisory lock, across processes. fn's error rolls back.
func (a *Authority) WithUserLock(ctx context.Context, userID uuid.UUID, fn func(tx pgx.Tx) error) error {
	unlock := a.locks.lock(userID)
	defer unlock()

	tx, err := a.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, advisoryKey(userID)); err != nil {
		return fmt.Errorf("advisory lock: %w", err)
	}
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// Cap returns min(proposed, daily remaining, lifetime remaining), floored at zero.
// Call it inside WithUserLock and write the reward on the same tx.
func (a *Authority) Cap(ctx context.Context, tx pgx.Tx, caps Caps, proposed int64, userID uuid.UUID, now time.Time) (int64, error) {
	if proposed <= 0 {
		return 0, nil
	}
	if caps.Daily == nil && caps.Lifetime == nil {
		return proposed, nil
	}
	today, lifetime, err := a.earnings.EarnedTotalsTx(ctx, tx, userID, a.DayStart(now))
	if err != nil {
		return 0, fmt.Errorf("read earned totals: %w", err)
	}
	return Apply(caps, proposed, today, lifetime), nil
}

// DayStart is local midnight of now in the authority's time zone.
func (a *Authority) DayStart(now time.Time) time.Time {
	t := now.In(a.loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, a.loc)
}

// Apply is the pure capping rule.
func Apply(caps Caps, proposed, earnedToday, earnedLifetime int64) int64 {
	out := proposed
	if caps.Daily != nil {
		out = min(out, *caps.Daily-earnedToday)
	}
	if caps.Lifetime != nil {
		out = min(out, *caps.Lifetime-earnedLifetime)
	}
	return max(out, 0)
}

// advisoryKey folds the user id into the bigint key space of pg_advisory_xact_lock.
func advisoryKey(id uuid.UUID) int64 {
	var k uint64
	for i := 0; i < 8; i++ {
		k = k<<8 | uint64(id[i]^id[i+8])
	}
	return int64(k)
}
