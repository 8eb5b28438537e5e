package ledger

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fleetmed/medsync/internal/stock"
)

type memoryRepo struct {
	rows map[string]Row
}

type memoryTx struct {
	rows map[string]Row
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{rows: make(map[string]Row)}
}

func key(vehicleID, medicine string) string {
	return vehicleID + "\x00" + medicine
}

// WithTx works on a copy and publishes it only when fn succeeds.
func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	staged := make(map[string]Row, len(r.rows))
	for k, v := range r.rows {
		staged[k] = v
	}
	if err := fn(ctx, &memoryTx{rows: staged}); err != nil {
		return err
	}
	r.rows = staged
	return nil
}

func (r *memoryRepo) Get(ctx context.Context, vehicleID, medicine string) (Row, error) {
	return (&memoryTx{rows: r.rows}).Get(ctx, vehicleID, medicine)
}

func (r *memoryRepo) ListByVehicle(ctx context.Context, vehicleID string) ([]Row, error) {
	return (&memoryTx{rows: r.rows}).ListByVehicle(ctx, vehicleID)
}

func (r *memoryRepo) ListAll(ctx context.Context) ([]Row, error) {
	return (&memoryTx{rows: r.rows}).ListAll(ctx)
}

func (tx *memoryTx) Get(ctx context.Context, vehicleID, medicine string) (Row, error) {
	if row, ok := tx.rows[key(vehicleID, medicine)]; ok {
		return row, nil
	}
	return Row{VehicleID: vehicleID, Medicine: medicine}, ErrRowNotFound
}

func (tx *memoryTx) ListByVehicle(ctx context.Context, vehicleID string) ([]Row, error) {
	var out []Row
	for _, row := range tx.rows {
		if row.VehicleID == vehicleID {
			out = append(out, row)
		}
	}
	sortRows(out)
	return out, nil
}

func (tx *memoryTx) ListAll(ctx context.Context) ([]Row, error) {
	out := make([]Row, 0, len(tx.rows))
	for _, row := range tx.rows {
		out = append(out, row)
	}
	sortRows(out)
	return out, nil
}

func (tx *memoryTx) Upsert(ctx context.Context, row Row) error {
	tx.rows[key(row.VehicleID, row.Medicine)] = row
	return nil
}

func (tx *memoryTx) Delete(ctx context.Context, vehicleID, medicine string) error {
	k := key(vehicleID, medicine)
	if _, ok := tx.rows[k]; !ok {
		return ErrRowNotFound
	}
	delete(tx.rows, k)
	return nil
}

func (tx *memoryTx) DeleteAll(ctx context.Context) error {
	for k := range tx.rows {
		delete(tx.rows, k)
	}
	return nil
}

func sortRows(rows []Row) {
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].VehicleID != rows[j].VehicleID {
			return rows[i].VehicleID < rows[j].VehicleID
		}
		return rows[i].Medicine < rows[j].Medicine
	})
}

type memoryPrefs struct {
	defaultVehicle string
	lastRollover   string
}

func (p *memoryPrefs) SetDefaultVehicle(ctx context.Context, vehicleID string) error {
	p.defaultVehicle = vehicleID
	return nil
}

func (p *memoryPrefs) LastRollover(ctx context.Context) (string, error) {
	return p.lastRollover, nil
}

func (p *memoryPrefs) SetLastRollover(ctx context.Context, date string) error {
	p.lastRollover = date
	return nil
}

const (
	vehicle = "BNA 07"
	para    = "Tab. Paracetamol 500 mg"
)

func newTestService(t *testing.T) (*Service, *memoryRepo, *memoryPrefs) {
	t.Helper()
	repo := newMemoryRepo()
	prefs := &memoryPrefs{}
	svc := NewService(repo, prefs, nil)
	svc.WithClock(func() time.Time { return time.Date(2024, 3, 15, 9, 0, 0, 0, time.UTC) })
	return svc, repo, prefs
}

func seed(t *testing.T, svc *Service, opening, closing stock.Quantity) {
	t.Helper()
	_, err := svc.Upsert(context.Background(), Row{VehicleID: vehicle, Medicine: para, Opening: opening, Closing: closing})
	require.NoError(t, err)
}

func TestSubmitConsumptionAccumulates(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	seed(t, svc, 100, 100)

	row, err := svc.SubmitConsumption(ctx, SubmitInput{VehicleID: vehicle, Medicine: para, Consumption: 10, Emergency: 5})
	require.NoError(t, err)
	require.Equal(t, stock.Quantity(10), row.Consumption)
	require.Equal(t, stock.Quantity(5), row.Emergency)
	require.Equal(t, stock.Quantity(85), row.Closing)

	row, err = svc.SubmitConsumption(ctx, SubmitInput{VehicleID: vehicle, Medicine: para, Consumption: 20})
	require.NoError(t, err)
	require.Equal(t, stock.Quantity(30), row.Consumption)
	require.Equal(t, stock.Quantity(65), row.Closing)
	require.Equal(t, stock.Quantity(100), row.Opening)
}

func TestSubmitConsumptionRejectsWithoutWriting(t *testing.T) {
	svc, repo, _ := newTestService(t)
	ctx := context.Background()
	seed(t, svc, 10, 10)

	_, err := svc.SubmitConsumption(ctx, SubmitInput{VehicleID: vehicle, Medicine: para, Consumption: 11})
	require.ErrorIs(t, err, ErrInsufficientBalance)
	require.True(t, IsValidation(err))

	stored := repo.rows[key(vehicle, para)]
	require.Equal(t, stock.Quantity(10), stored.Closing)
	require.Zero(t, stored.Consumption)

	seed(t, svc, 10, 0)
	_, err = svc.SubmitConsumption(ctx, SubmitInput{VehicleID: vehicle, Medicine: para, Consumption: 1})
	require.ErrorIs(t, err, ErrZeroBalance)

	_, err = svc.SubmitConsumption(ctx, SubmitInput{VehicleID: vehicle, Medicine: para})
	require.ErrorIs(t, err, ErrInvalidQuantity)

	_, err = svc.SubmitConsumption(ctx, SubmitInput{VehicleID: vehicle, Medicine: "Unknown", Consumption: 1})
	require.ErrorIs(t, err, ErrRowNotFound)

	_, err = svc.SubmitConsumption(ctx, SubmitInput{VehicleID: " ", Medicine: para, Consumption: 1})
	require.ErrorIs(t, err, ErrVehicleRequired)
}

func TestSubmitConsumptionEmergencyIsNotCapped(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	seed(t, svc, 10, 10)

	row, err := svc.SubmitConsumption(ctx, SubmitInput{VehicleID: vehicle, Medicine: para, Consumption: 5, Emergency: 10})
	require.NoError(t, err)
	require.Zero(t, row.Closing)
	require.Equal(t, stock.Quantity(5), row.Consumption)
	require.Equal(t, stock.Quantity(10), row.Emergency)

	row, err = svc.SubmitConsumption(ctx, SubmitInput{VehicleID: vehicle, Medicine: para, Emergency: 1})
	require.NoError(t, err)
	require.Zero(t, row.Closing)
	require.Equal(t, stock.Quantity(11), row.Emergency)

	_, err = svc.SubmitConsumption(ctx, SubmitInput{VehicleID: vehicle, Medicine: para, Consumption: 1, Emergency: 1})
	require.ErrorIs(t, err, ErrZeroBalance)
}

func TestApplyEditedPendingIsIdempotent(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	seed(t, svc, 100, 100)
	_, err := svc.SubmitConsumption(ctx, SubmitInput{VehicleID: vehicle, Medicine: para, Consumption: 10, Emergency: 5})
	require.NoError(t, err)

	first, err := svc.ApplyEditedPending(ctx, vehicle, para, 4, 1)
	require.NoError(t, err)
	require.Equal(t, stock.Quantity(95), first.Closing)

	second, err := svc.ApplyEditedPending(ctx, vehicle, para, 4, 1)
	require.NoError(t, err)
	require.Equal(t, first.Closing, second.Closing)
	require.Equal(t, stock.Quantity(4), second.Consumption)
	require.Equal(t, stock.Quantity(1), second.Emergency)
}

func TestApplyEditedPendingFloorsAtZero(t *testing.T) {
	svc, _, _ := newTestService(t)
	seed(t, svc, 5, 5)
	row, err := svc.ApplyEditedPending(context.Background(), vehicle, para, 9, 0)
	require.NoError(t, err)
	require.Zero(t, row.Closing)
}

func TestRevertPendingRestoresClosing(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	seed(t, svc, 100, 100)
	_, err := svc.SubmitConsumption(ctx, SubmitInput{VehicleID: vehicle, Medicine: para, Consumption: 10, Emergency: 5})
	require.NoError(t, err)

	row, err := svc.RevertPending(ctx, vehicle, para)
	require.NoError(t, err)
	require.Equal(t, stock.Quantity(100), row.Closing)
	require.Zero(t, row.Consumption)
	require.Zero(t, row.Emergency)
}

func TestAddStockAndIssue(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	row, err := svc.AddStock(ctx, vehicle, para, 20)
	require.NoError(t, err)
	require.Equal(t, stock.Quantity(20), row.Opening)
	require.Equal(t, stock.Quantity(20), row.Closing)

	row, err = svc.IssueFromStore(ctx, vehicle, para, 5)
	require.NoError(t, err)
	require.Equal(t, stock.Quantity(5), row.StoreIssued)
	require.Equal(t, stock.Quantity(25), row.Closing)

	_, err = svc.AddStock(ctx, vehicle, para, 0)
	require.ErrorIs(t, err, ErrInvalidQuantity)

	require.NoError(t, svc.IssueBatch(ctx, vehicle, map[string]stock.Quantity{para: 2, "ORS Sachet": 3}))
	row, err = svc.Get(ctx, vehicle, para)
	require.NoError(t, err)
	require.Equal(t, stock.Quantity(7), row.StoreIssued)
	ors, err := svc.Get(ctx, vehicle, "ORS Sachet")
	require.NoError(t, err)
	require.Equal(t, stock.Quantity(3), ors.Closing)
}

func TestResetFlows(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	seed(t, svc, 100, 100)
	_, err := svc.SubmitConsumption(ctx, SubmitInput{VehicleID: vehicle, Medicine: para, Consumption: 10, Emergency: 5})
	require.NoError(t, err)
	_, err = svc.IssueFromStore(ctx, vehicle, para, 3)
	require.NoError(t, err)

	require.NoError(t, svc.ResetFlows(ctx, ""))
	row, err := svc.Get(ctx, vehicle, para)
	require.NoError(t, err)
	require.Zero(t, row.Consumption)
	require.Zero(t, row.Emergency)
	require.Zero(t, row.StoreIssued)
	require.Equal(t, stock.Quantity(88), row.Closing)
}

func TestSettleUploadedKeepsLaterFlows(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	seed(t, svc, 100, 100)
	_, err := svc.SubmitConsumption(ctx, SubmitInput{VehicleID: vehicle, Medicine: para, Consumption: 10, Emergency: 5})
	require.NoError(t, err)
	sent, err := svc.ListAll(ctx)
	require.NoError(t, err)

	_, err = svc.SubmitConsumption(ctx, SubmitInput{VehicleID: vehicle, Medicine: para, Consumption: 3})
	require.NoError(t, err)
	_, err = svc.IssueFromStore(ctx, vehicle, para, 4)
	require.NoError(t, err)

	require.NoError(t, svc.SettleUploaded(ctx, append(sent, Row{VehicleID: vehicle, Medicine: "Gone", Consumption: 1})))
	row, err := svc.Get(ctx, vehicle, para)
	require.NoError(t, err)
	require.Equal(t, stock.Quantity(3), row.Consumption)
	require.Zero(t, row.Emergency)
	require.Equal(t, stock.Quantity(4), row.StoreIssued)
	require.Equal(t, stock.Quantity(86), row.Closing)
}

func TestRolloverOncePerDay(t *testing.T) {
	svc, _, prefs := newTestService(t)
	ctx := context.Background()
	seed(t, svc, 100, 100)
	_, err := svc.SubmitConsumption(ctx, SubmitInput{VehicleID: vehicle, Medicine: para, Consumption: 10})
	require.NoError(t, err)

	done, err := svc.Rollover(ctx, "2024-03-15")
	require.NoError(t, err)
	require.True(t, done)
	require.Equal(t, "2024-03-15", prefs.lastRollover)

	row, err := svc.Get(ctx, vehicle, para)
	require.NoError(t, err)
	require.Equal(t, stock.Quantity(90), row.Opening)
	require.Equal(t, stock.Quantity(90), row.Closing)
	require.Zero(t, row.Consumption)

	done, err = svc.Rollover(ctx, "2024-03-15")
	require.NoError(t, err)
	require.False(t, done)
}

func TestSelectAndSwitchVehicle(t *testing.T) {
	svc, repo, prefs := newTestService(t)
	ctx := context.Background()
	seed(t, svc, 7, 7)

	require.NoError(t, svc.SelectVehicle(ctx, vehicle, []string{para, "ORS Sachet"}))
	require.Len(t, repo.rows, 2)
	require.Equal(t, stock.Quantity(7), repo.rows[key(vehicle, para)].Closing, "existing rows are kept")
	require.Equal(t, vehicle, prefs.defaultVehicle)

	require.NoError(t, svc.SwitchVehicle(ctx, "BNA 09", []string{para}))
	require.Len(t, repo.rows, 1)
	row, err := svc.Get(ctx, "BNA 09", para)
	require.NoError(t, err)
	require.Zero(t, row.Closing)
	require.Equal(t, "BNA 09", prefs.defaultVehicle)
}

func TestApplyRemoteBalancesIsAtomic(t *testing.T) {
	svc, repo, _ := newTestService(t)
	ctx := context.Background()

	err := svc.ApplyRemoteBalances(ctx, vehicle, []Row{
		{Medicine: para, Opening: 50, Closing: 40},
		{Medicine: "ORS Sachet", Closing: -1},
	})
	require.ErrorIs(t, err, ErrInvalidQuantity)
	require.Empty(t, repo.rows)

	require.NoError(t, svc.ApplyRemoteBalances(ctx, vehicle, []Row{{Medicine: para, Opening: 50, Closing: 40}}))
	require.Equal(t, stock.Quantity(40), repo.rows[key(vehicle, para)].Closing)
}

type failingRepo struct {
	*memoryRepo
}

func (r failingRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return r.memoryRepo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := fn(ctx, tx); err != nil {
			return err
		}
		return errors.New("disk full")
	})
}

func TestFailedCommitLeavesRowsUntouched(t *testing.T) {
	repo := newMemoryRepo()
	repo.rows[key(vehicle, para)] = Row{VehicleID: vehicle, Medicine: para, Opening: 10, Closing: 10}
	svc := NewService(failingRepo{repo}, nil, nil)

	_, err := svc.SubmitConsumption(context.Background(), SubmitInput{VehicleID: vehicle, Medicine: para, Consumption: 2})
	require.Error(t, err)
	require.Equal(t, stock.Quantity(10), repo.rows[key(vehicle, para)].Closing)
}
