// Package reconcile folds the ledger into the compiled summary and the archives.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/fleetmed/medsync/internal/archive"
	"github.com/fleetmed/medsync/internal/ledger"
	"github.com/fleetmed/medsync/internal/platform/db"
	"github.com/fleetmed/medsync/internal/stock"
	"github.com/fleetmed/medsync/internal/summary"
)

var (
	// ErrEmptyLedger indicates a compile with nothing to fold.
	ErrEmptyLedger = errors.New("reconcile: ledger is empty")
	// ErrInvalidDate indicates a compile date not in YYYY-MM-DD form.
	ErrInvalidDate = errors.New("reconcile: invalid compile date")
)

// TxRunner opens store transactions. *db.DB satisfies it.
type TxRunner interface {
	WithTx(ctx context.Context, fn func(db.Querier) error) error
}

// Result describes one compile.
type Result struct {
	Date  string       `json:"date"`
	Items []stock.Item `json:"items"`
}

// Compiler folds the ledger for a date into every accumulator store inside a
// single transaction.
type Compiler struct {
	store  TxRunner
	logger *slog.Logger
}

// NewCompiler builds Compiler.
func NewCompiler(store TxRunner, logger *slog.Logger) *Compiler {
	return &Compiler{store: store, logger: logger}
}

// Compile reads the whole ledger, folds rows across vehicles by medicine and
// merges the result into the compiled summary, the daily archive of date and
// the monthly archive of date's month. Either every store is updated or none.
func (c *Compiler) Compile(ctx context.Context, date string) (Result, error) {
	if _, err := time.Parse(time.DateOnly, date); err != nil {
		return Result{}, fmt.Errorf("%w %q", ErrInvalidDate, date)
	}
	var items []stock.Item
	err := c.store.WithTx(ctx, func(q db.Querier) error {
		rows, err := ledger.NewTxRepository(q).ListAll(ctx)
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			return ErrEmptyLedger
		}
		items = Fold(rows)
		if err := summary.Accumulate(ctx, summary.NewTxRepository(q), date, items); err != nil {
			return fmt.Errorf("reconcile: summary: %w", err)
		}
		archives := archive.NewTxRepository(q)
		if err := archive.AccumulateDaily(ctx, archives, date, items); err != nil {
			return fmt.Errorf("reconcile: daily archive: %w", err)
		}
		if err := archive.AccumulateMonthly(ctx, archives, date, items); err != nil {
			return fmt.Errorf("reconcile: monthly archive: %w", err)
		}
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	c.log().Info("ledger compiled", slog.String("date", date), slog.Int("medicines", len(items)))
	return Result{Date: date, Items: items}, nil
}

// Fold pools ledger rows by medicine name across vehicles. Every quantity is
// summed; stock available is the pooled closing balance.
func Fold(rows []ledger.Row) []stock.Item {
	byName := make(map[string]*stock.Item, len(rows))
	var order []string
	for _, row := range rows {
		name := strings.TrimSpace(row.Medicine)
		it, ok := byName[name]
		if !ok {
			it = &stock.Item{Medicine: name}
			byName[name] = it
			order = append(order, name)
		}
		it.Opening += row.Opening
		it.Consumption += row.Consumption
		it.Emergency += row.Emergency
		it.Closing += row.Closing
		it.StoreIssued += row.StoreIssued
		it.StockAvailable += row.Closing
	}
	out := make([]stock.Item, 0, len(order))
	for _, name := range order {
		out = append(out, *byName[name])
	}
	stock.SortItems(out)
	return out
}

func (c *Compiler) log() *slog.Logger {
	if c != nil && c.logger != nil {
		return c.logger.With(slog.String("component", "reconcile"))
	}
	return slog.Default().With(slog.String("component", "reconcile"))
}
