package reconcile

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fleetmed/medsync/internal/archive"
	"github.com/fleetmed/medsync/internal/ledger"
	"github.com/fleetmed/medsync/internal/platform/db"
	"github.com/fleetmed/medsync/internal/stock"
	"github.com/fleetmed/medsync/internal/summary"
)

type fixture struct {
	db       *db.DB
	ledger   *ledger.Service
	summary  *summary.Service
	archive  *archive.Service
	compiler *Compiler
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	d, err := db.OpenMemory(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })
	return fixture{
		db:       d,
		ledger:   ledger.NewService(ledger.NewRepository(d), nil, nil),
		summary:  summary.NewService(summary.NewRepository(d)),
		archive:  archive.NewService(archive.NewRepository(d), nil),
		compiler: NewCompiler(d, nil),
	}
}

func TestFoldPoolsVehicles(t *testing.T) {
	items := Fold([]ledger.Row{
		{VehicleID: "BNA 07", Medicine: "X", Opening: 10, Consumption: 2, Closing: 8, StoreIssued: 1},
		{VehicleID: "BNA 09", Medicine: "X", Opening: 5, Emergency: 1, Closing: 4},
		{VehicleID: "BNA 09", Medicine: "a", Opening: 1, Closing: 1},
	})
	require.Equal(t, []stock.Item{
		{Medicine: "a", Opening: 1, Closing: 1, StockAvailable: 1},
		{Medicine: "X", Opening: 15, Consumption: 2, Emergency: 1, Closing: 12, StoreIssued: 1, StockAvailable: 12},
	}, items)
}

func TestCompileUpdatesEveryStore(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.ledger.Upsert(ctx, ledger.Row{VehicleID: "BNA 07", Medicine: "X", Opening: 50, Consumption: 5, Closing: 45})
	require.NoError(t, err)
	_, err = f.compiler.Compile(ctx, "2024-03-01")
	require.NoError(t, err)

	_, err = f.ledger.Upsert(ctx, ledger.Row{VehicleID: "BNA 07", Medicine: "X", Opening: 45, Consumption: 3, Closing: 42})
	require.NoError(t, err)
	res, err := f.compiler.Compile(ctx, "2024-03-02")
	require.NoError(t, err)
	require.Len(t, res.Items, 1)

	rows, err := f.summary.List(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, stock.Quantity(8), rows[0].Consumption)
	require.Equal(t, stock.Quantity(45), rows[0].Opening)
	require.Equal(t, stock.Quantity(42), rows[0].Closing)
	require.Equal(t, "2024-03-02", rows[0].Date)

	day, err := f.archive.ListDay(ctx, "2024-03-02")
	require.NoError(t, err)
	require.Len(t, day, 1)
	require.Equal(t, stock.Quantity(3), day[0].Consumption)

	monthly, err := f.archive.GetMonthly(ctx, 2024, 3)
	require.NoError(t, err)
	require.Len(t, monthly, 1)
	require.Equal(t, stock.Quantity(8), monthly[0].Consumption)
	require.Equal(t, "2024-03-02", monthly[0].LastUpdatedDate)
}

func TestCompileIsAllOrNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.compiler.Compile(ctx, "2024-03-01")
	require.ErrorIs(t, err, ErrEmptyLedger)

	_, err = f.ledger.Upsert(ctx, ledger.Row{VehicleID: "BNA 07", Medicine: "X", Consumption: 1, Closing: 1})
	require.NoError(t, err)

	boom := errors.New("boom")
	failing := NewCompiler(failAfter{db: f.db, err: boom}, nil)
	_, err = failing.Compile(ctx, "2024-03-01")
	require.ErrorIs(t, err, boom)

	rows, err := f.summary.List(ctx)
	require.NoError(t, err)
	require.Empty(t, rows)
	day, err := f.archive.ListDay(ctx, "2024-03-01")
	require.NoError(t, err)
	require.Empty(t, day)

	_, err = f.compiler.Compile(ctx, "01-03-2024")
	require.ErrorIs(t, err, ErrInvalidDate)
}

// failAfter runs the compile body, then fails so the transaction rolls back.
type failAfter struct {
	db  *db.DB
	err error
}

func (f failAfter) WithTx(ctx context.Context, fn func(db.Querier) error) error {
	return f.db.WithTx(ctx, func(q db.Querier) error {
		if err := fn(q); err != nil {
			return err
		}
		return f.err
	})
}
