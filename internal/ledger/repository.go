package ledger

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/fleetmed/medsync/internal/platform/db"
)

// Repository persists ledger rows in the local store.
type Repository struct {
	db *db.DB
}

// NewRepository constructs Repository.
func NewRepository(d *db.DB) *Repository {
	return &Repository{db: d}
}

// TxRepository exposes the row operations available inside a transaction.
type TxRepository interface {
	Get(ctx context.Context, vehicleID, medicine string) (Row, error)
	ListByVehicle(ctx context.Context, vehicleID string) ([]Row, error)
	ListAll(ctx context.Context) ([]Row, error)
	Upsert(ctx context.Context, row Row) error
	Delete(ctx context.Context, vehicleID, medicine string) error
	DeleteAll(ctx context.Context) error
}

// WithTx executes the callback inside a store transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil || r.db == nil {
		return errors.New("ledger repository not initialised")
	}
	return r.db.WithTx(ctx, func(q db.Querier) error {
		return fn(ctx, sqlStore{q: q})
	})
}

// Get reads one row outside a transaction.
func (r *Repository) Get(ctx context.Context, vehicleID, medicine string) (Row, error) {
	return sqlStore{q: r.db.Querier()}.Get(ctx, vehicleID, medicine)
}

// ListByVehicle reads every row of a vehicle.
func (r *Repository) ListByVehicle(ctx context.Context, vehicleID string) ([]Row, error) {
	return sqlStore{q: r.db.Querier()}.ListByVehicle(ctx, vehicleID)
}

// ListAll reads the entire ledger.
func (r *Repository) ListAll(ctx context.Context) ([]Row, error) {
	return sqlStore{q: r.db.Querier()}.ListAll(ctx)
}

// NewTxRepository adapts an open transaction so callers composing several
// stores in one transaction can read the ledger.
func NewTxRepository(q db.Querier) TxRepository {
	return sqlStore{q: q}
}

type sqlStore struct {
	q db.Querier
}

const selectRow = `SELECT vehicle_id, medicine_name, opening_balance, consumption, emergency_qty,
	closing_balance, store_issued, updated_at FROM ledger_rows`

func (s sqlStore) Get(ctx context.Context, vehicleID, medicine string) (Row, error) {
	row := s.q.QueryRowContext(ctx, selectRow+` WHERE vehicle_id = ? AND medicine_name = ?`, vehicleID, medicine)
	out, err := scanRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Row{VehicleID: vehicleID, Medicine: medicine}, ErrRowNotFound
	}
	return out, err
}

func (s sqlStore) ListByVehicle(ctx context.Context, vehicleID string) ([]Row, error) {
	return s.list(ctx, selectRow+` WHERE vehicle_id = ? ORDER BY medicine_name`, vehicleID)
}

func (s sqlStore) ListAll(ctx context.Context) ([]Row, error) {
	return s.list(ctx, selectRow+` ORDER BY vehicle_id, medicine_name`)
}

func (s sqlStore) list(ctx context.Context, query string, args ...any) ([]Row, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
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

func (s sqlStore) Upsert(ctx context.Context, row Row) error {
	_, err := s.q.ExecContext(ctx, `INSERT INTO ledger_rows (vehicle_id, medicine_name, opening_balance, consumption,
		emergency_qty, closing_balance, store_issued, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (vehicle_id, medicine_name) DO UPDATE SET
			opening_balance = excluded.opening_balance,
			consumption = excluded.consumption,
			emergency_qty = excluded.emergency_qty,
			closing_balance = excluded.closing_balance,
			store_issued = excluded.store_issued,
			updated_at = excluded.updated_at`,
		row.VehicleID, row.Medicine, row.Opening, row.Consumption, row.Emergency,
		row.Closing, row.StoreIssued, formatTime(row.UpdatedAt))
	return err
}

func (s sqlStore) Delete(ctx context.Context, vehicleID, medicine string) error {
	res, err := s.q.ExecContext(ctx, `DELETE FROM ledger_rows WHERE vehicle_id = ? AND medicine_name = ?`, vehicleID, medicine)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrRowNotFound
	}
	return nil
}

func (s sqlStore) DeleteAll(ctx context.Context) error {
	_, err := s.q.ExecContext(ctx, `DELETE FROM ledger_rows`)
	return err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRow(sc scanner) (Row, error) {
	var row Row
	var updated string
	if err := sc.Scan(&row.VehicleID, &row.Medicine, &row.Opening, &row.Consumption, &row.Emergency,
		&row.Closing, &row.StoreIssued, &updated); err != nil {
		return Row{}, err
	}
	row.UpdatedAt = parseTime(updated)
	return row, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
