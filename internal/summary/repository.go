package summary

import (
	"context"
	"database/sql"
	"errors"

	"github.com/fleetmed/medsync/internal/platform/db"
	"github.com/fleetmed/medsync/internal/stock"
)

// Repository persists compiled summary rows.
type Repository struct {
	db *db.DB
}

// NewRepository constructs Repository.
func NewRepository(d *db.DB) *Repository {
	return &Repository{db: d}
}

// TxRepository exposes transactional operations used by the merge.
type TxRepository interface {
	Get(ctx context.Context, medicine string) (Row, error)
	Upsert(ctx context.Context, row Row) error
}

// NewTxRepository adapts an open transaction.
func NewTxRepository(q db.Querier) TxRepository {
	return sqlStore{q: q}
}

// WithTx executes the callback inside a store transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil || r.db == nil {
		return errors.New("summary repository not initialised")
	}
	return r.db.WithTx(ctx, func(q db.Querier) error {
		return fn(ctx, sqlStore{q: q})
	})
}

// List returns every compiled row ordered by medicine.
func (r *Repository) List(ctx context.Context) ([]Row, error) {
	rows, err := r.db.Querier().QueryContext(ctx, `SELECT medicine_name, compiled_date, opening_balance, consumption,
		emergency_qty, closing_balance, store_issued, stock_available FROM compiled_summary ORDER BY medicine_name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Row
	for rows.Next() {
		row, err := scanRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// Window aggregates rows whose compile date falls in [from, to].
func (r *Repository) Window(ctx context.Context, from, to string) ([]stock.Item, error) {
	rows, err := r.db.Querier().QueryContext(ctx, `SELECT medicine_name,
			COALESCE(SUM(opening_balance), 0), COALESCE(SUM(consumption), 0), COALESCE(SUM(emergency_qty), 0),
			COALESCE(SUM(closing_balance), 0), COALESCE(SUM(store_issued), 0), COALESCE(MAX(stock_available), 0)
		FROM compiled_summary
		WHERE compiled_date >= ? AND compiled_date <= ?
		GROUP BY medicine_name
		ORDER BY medicine_name`, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []stock.Item
	for rows.Next() {
		var it stock.Item
		if err := rows.Scan(&it.Medicine, &it.Opening, &it.Consumption, &it.Emergency, &it.Closing, &it.StoreIssued, &it.StockAvailable); err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

// Delete removes the row for one medicine.
func (r *Repository) Delete(ctx context.Context, medicine string) error {
	res, err := r.db.Querier().ExecContext(ctx, `DELETE FROM compiled_summary WHERE medicine_name = ?`, medicine)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteAll removes every compiled row.
func (r *Repository) DeleteAll(ctx context.Context) (int64, error) {
	res, err := r.db.Querier().ExecContext(ctx, `DELETE FROM compiled_summary`)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

type sqlStore struct {
	q db.Querier
}

func (s sqlStore) Get(ctx context.Context, medicine string) (Row, error) {
	row := s.q.QueryRowContext(ctx, `SELECT medicine_name, compiled_date, opening_balance, consumption,
		emergency_qty, closing_balance, store_issued, stock_available FROM compiled_summary WHERE medicine_name = ?`, medicine)
	out, err := scanRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Row{}, ErrNotFound
	}
	return out, err
}

func (s sqlStore) Upsert(ctx context.Context, row Row) error {
	_, err := s.q.ExecContext(ctx, `INSERT INTO compiled_summary (medicine_name, compiled_date, opening_balance,
		consumption, emergency_qty, closing_balance, store_issued, stock_available)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (medicine_name) DO UPDATE SET
			compiled_date = excluded.compiled_date,
			opening_balance = excluded.opening_balance,
			consumption = excluded.consumption,
			emergency_qty = excluded.emergency_qty,
			closing_balance = excluded.closing_balance,
			store_issued = excluded.store_issued,
			stock_available = excluded.stock_available`,
		row.Medicine, row.Date, row.Opening, row.Consumption, row.Emergency, row.Closing, row.StoreIssued, row.StockAvailable)
	return err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRow(sc scanner) (Row, error) {
	var row Row
	err := sc.Scan(&row.Medicine, &row.Date, &row.Opening, &row.Consumption, &row.Emergency,
		&row.Closing, &row.StoreIssued, &row.StockAvailable)
	return row, err
}
