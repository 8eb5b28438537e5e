package archive

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/fleetmed/medsync/internal/platform/db"
	"github.com/fleetmed/medsync/internal/stock"
)

// Repository persists daily and monthly archive rows.
type Repository struct {
	db *db.DB
}

// NewRepository constructs Repository.
func NewRepository(d *db.DB) *Repository {
	return &Repository{db: d}
}

// RangeTotal is the first pass of a range aggregation: summed flows and the
// latest contributing date for one medicine.
type RangeTotal struct {
	Medicine    string
	Consumption stock.Quantity
	Emergency   stock.Quantity
	LatestDate  string
}

// TxRepository exposes transactional operations used by accumulation and range
// aggregation.
type TxRepository interface {
	GetDaily(ctx context.Context, date, medicine string) (DailyRow, error)
	UpsertDaily(ctx context.Context, row DailyRow) error
	Totals(ctx context.Context, from, to string) ([]RangeTotal, error)
	GetMonthly(ctx context.Context, year, month int, medicine string) (MonthlyRow, error)
	UpsertMonthly(ctx context.Context, row MonthlyRow) error
}

// NewTxRepository adapts an open transaction.
func NewTxRepository(q db.Querier) TxRepository {
	return sqlStore{q: q}
}

// WithTx executes the callback inside a store transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil || r.db == nil {
		return errors.New("archive repository not initialised")
	}
	return r.db.WithTx(ctx, func(q db.Querier) error {
		return fn(ctx, sqlStore{q: q})
	})
}

const dailyColumns = `archive_date, medicine_name, opening_balance, consumption, emergency_qty,
	closing_balance, store_issued, stock_available`

const monthlyColumns = `archive_year, archive_month, medicine_name, opening_balance, consumption,
	emergency_qty, closing_balance, store_issued, stock_available, last_updated_date`

// ListBetween returns daily rows with from <= date <= to ordered by date then medicine.
func (r *Repository) ListBetween(ctx context.Context, from, to string) ([]DailyRow, error) {
	rows, err := r.db.Querier().QueryContext(ctx, `SELECT `+dailyColumns+` FROM archive_daily
		WHERE archive_date >= ? AND archive_date <= ? ORDER BY archive_date, medicine_name`, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []DailyRow
	for rows.Next() {
		row, err := scanDaily(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// DeleteRange removes daily rows in [from, to]. A non-empty medicine restricts
// the deletion to that medicine.
func (r *Repository) DeleteRange(ctx context.Context, from, to, medicine string) (int64, error) {
	query := `DELETE FROM archive_daily WHERE archive_date >= ? AND archive_date <= ?`
	args := []any{from, to}
	if medicine != "" {
		query += ` AND medicine_name = ?`
		args = append(args, medicine)
	}
	res, err := r.db.Querier().ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ListMonthly returns the monthly rows of one month; month 0 lists every month.
func (r *Repository) ListMonthly(ctx context.Context, year, month int) ([]MonthlyRow, error) {
	var b strings.Builder
	b.WriteString(`SELECT ` + monthlyColumns + ` FROM archive_monthly`)
	var args []any
	if month > 0 {
		b.WriteString(` WHERE archive_year = ? AND archive_month = ?`)
		args = append(args, year, month)
	}
	b.WriteString(` ORDER BY archive_year, archive_month, medicine_name`)
	rows, err := r.db.Querier().QueryContext(ctx, b.String(), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []MonthlyRow
	for rows.Next() {
		row, err := scanMonthly(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// DeleteMonthly removes every monthly row for year/month.
func (r *Repository) DeleteMonthly(ctx context.Context, year, month int) (int64, error) {
	res, err := r.db.Querier().ExecContext(ctx, `DELETE FROM archive_monthly WHERE archive_year = ? AND archive_month = ?`, year, month)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

type sqlStore struct {
	q db.Querier
}

func (s sqlStore) GetDaily(ctx context.Context, date, medicine string) (DailyRow, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+dailyColumns+` FROM archive_daily
		WHERE archive_date = ? AND medicine_name = ?`, date, medicine)
	out, err := scanDaily(row)
	if errors.Is(err, sql.ErrNoRows) {
		return DailyRow{}, ErrNotFound
	}
	return out, err
}

func (s sqlStore) UpsertDaily(ctx context.Context, row DailyRow) error {
	_, err := s.q.ExecContext(ctx, `INSERT INTO archive_daily (`+dailyColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (archive_date, medicine_name) DO UPDATE SET
			opening_balance = excluded.opening_balance,
			consumption = excluded.consumption,
			emergency_qty = excluded.emergency_qty,
			closing_balance = excluded.closing_balance,
			store_issued = excluded.store_issued,
			stock_available = excluded.stock_available`,
		row.Date, row.Medicine, row.Opening, row.Consumption, row.Emergency, row.Closing, row.StoreIssued, row.StockAvailable)
	return err
}

func (s sqlStore) Totals(ctx context.Context, from, to string) ([]RangeTotal, error) {
	rows, err := s.q.QueryContext(ctx, `SELECT medicine_name, COALESCE(SUM(consumption), 0),
			COALESCE(SUM(emergency_qty), 0), MAX(archive_date)
		FROM archive_daily
		WHERE archive_date >= ? AND archive_date <= ?
		GROUP BY medicine_name
		ORDER BY medicine_name`, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []RangeTotal
	for rows.Next() {
		var t RangeTotal
		if err := rows.Scan(&t.Medicine, &t.Consumption, &t.Emergency, &t.LatestDate); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s sqlStore) GetMonthly(ctx context.Context, year, month int, medicine string) (MonthlyRow, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+monthlyColumns+` FROM archive_monthly
		WHERE archive_year = ? AND archive_month = ? AND medicine_name = ?`, year, month, medicine)
	out, err := scanMonthly(row)
	if errors.Is(err, sql.ErrNoRows) {
		return MonthlyRow{}, ErrNotFound
	}
	return out, err
}

func (s sqlStore) UpsertMonthly(ctx context.Context, row MonthlyRow) error {
	_, err := s.q.ExecContext(ctx, `INSERT INTO archive_monthly (`+monthlyColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (archive_year, archive_month, medicine_name) DO UPDATE SET
			opening_balance = excluded.opening_balance,
			consumption = excluded.consumption,
			emergency_qty = excluded.emergency_qty,
			closing_balance = excluded.closing_balance,
			store_issued = excluded.store_issued,
			stock_available = excluded.stock_available,
			last_updated_date = excluded.last_updated_date`,
		row.Year, row.Month, row.Medicine, row.Opening, row.Consumption, row.Emergency, row.Closing,
		row.StoreIssued, row.StockAvailable, row.LastUpdatedDate)
	return err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDaily(sc scanner) (DailyRow, error) {
	var row DailyRow
	err := sc.Scan(&row.Date, &row.Medicine, &row.Opening, &row.Consumption, &row.Emergency,
		&row.Closing, &row.StoreIssued, &row.StockAvailable)
	return row, err
}

func scanMonthly(sc scanner) (MonthlyRow, error) {
	var row MonthlyRow
	err := sc.Scan(&row.Year, &row.Month, &row.Medicine, &row.Opening, &row.Consumption, &row.Emergency,
		&row.Closing, &row.StoreIssued, &row.StockAvailable, &row.LastUpdatedDate)
	return row, err
}
