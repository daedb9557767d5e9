package storage

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"tiedye/internal/models"
	"tiedye/internal/worker"
)

// TxFunc is one unit of work. Returning an error rolls the whole unit back.
type TxFunc func(ctx context.Context, tx *sqlx.Tx) error

// Runner executes units of work on a bounded storage pool. Every unit gets
// its own transaction, so concurrent units never share a connection.
type Runner struct {
	db   *sqlx.DB
	pool *worker.Pool
}

func NewRunner(s *Storage, pool *worker.Pool) *Runner {
	return &Runner{db: s.db, pool: pool}
}

// Do schedules fn and returns its future without blocking the caller.
func (r *Runner) Do(ctx context.Context, fn TxFunc) *worker.Future {
	return r.pool.Submit(ctx, func(ctx context.Context) error {
		return r.exec(ctx, fn)
	})
}

// Run is Do followed by waiting for the result.
func (r *Runner) Run(ctx context.Context, fn TxFunc) error {
	return r.Do(ctx, fn).Wait(ctx)
}

func (r *Runner) exec(ctx context.Context, fn TxFunc) (err error) {
	const op = "storage.Runner"

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return &models.TransientStoreError{Op: op + ".Begin", Err: err}
	}
	committed := false
	defer func() {
		if committed {
			return
		}
		if p := recover(); p != nil {
			_ = tx.Rollback()
			err = fmt.Errorf("%s: panic in unit of work: %v", op, p)
			return
		}
		_ = tx.Rollback()
	}()

	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		committed = true // a failed commit already ended the transaction
		return &models.TransientStoreError{Op: op + ".Commit", Err: err}
	}
	committed = true
	return nil
}
