// Package dbx holds the transaction plumbing shared by repositories and
// services. Repositories are written against DBTX so the same code runs on
// the pool or inside a transaction.
package dbx

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// DBTX is satisfied by both *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// TxFunc is the unit of work run by WithTx.
type TxFunc func(ctx context.Context, tx DBTX) error

// WithTx runs fn inside a transaction opened with opts. The transaction is
// committed when fn returns nil and rolled back otherwise; a panic in fn
// rolls back and is re-raised. A failed rollback is joined to fn's error.
func WithTx(ctx context.Context, db *sql.DB, opts *sql.TxOptions, fn TxFunc) (err error) {
	tx, err := db.BeginTx(ctx, opts)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	committed := false
	defer func() {
		if committed {
			return
		}
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if rerr := tx.Rollback(); rerr != nil && !errors.Is(rerr, sql.ErrTxDone) {
			err = errors.Join(err, fmt.Errorf("rollback tx: %w", rerr))
		}
	}()

	if err = fn(ctx, tx); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	committed = true
	return nil
}

// ReadCommitted is the isolation used for short record-scoped transactions.
var ReadCommitted = &sql.TxOptions{Isolation: sql.LevelReadCommitted}

// WithNewTx runs fn in a fresh read-committed transaction taken from the
// pool. It never joins a caller's transaction: once it returns nil the work
// is committed regardless of what the caller does next.
func WithNewTx(ctx context.Context, db *sql.DB, fn TxFunc) error {
	return WithTx(ctx, db, ReadCommitted, fn)
}
