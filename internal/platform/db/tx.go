package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// WithTx executes fn within a transaction. PostgreSQL runs at RepeatableRead;
// SQLite transactions are serializable by construction. The transaction is
// rolled back when fn returns an error or panics.
func (d *DB) WithTx(ctx context.Context, fn func(Querier) error) error {
	if d == nil || d.sql == nil {
		return errors.New("platform/db: not initialised")
	}
	opts := &sql.TxOptions{}
	if d.driver == DriverPostgres {
		opts.Isolation = sql.LevelRepeatableRead
	}
	tx, err := d.sql.BeginTx(ctx, opts)
	if err != nil {
		return fmt.Errorf("platform/db: begin tx: %w", err)
	}

	defer func() {
		_ = tx.Rollback()
	}()

	if err := fn(rebinder{q: tx, driver: d.driver}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("platform/db: commit tx: %w", err)
	}

	return nil
}
