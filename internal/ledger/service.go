package ledger

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/fleetmed/medsync/internal/stock"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Get(ctx context.Context, vehicleID, medicine string) (Row, error)
	ListByVehicle(ctx context.Context, vehicleID string) ([]Row, error)
	ListAll(ctx context.Context) ([]Row, error)
}

// PrefsPort stores the device-local preferences the ledger maintains.
type PrefsPort interface {
	SetDefaultVehicle(ctx context.Context, vehicleID string) error
	LastRollover(ctx context.Context) (string, error)
	SetLastRollover(ctx context.Context, date string) error
}

// Service is the single writer of the ledger. Every mutation runs as one
// read-modify-write transaction and derives closing through
// stock.RecomputeClosing.
type Service struct {
	repo   RepositoryPort
	prefs  PrefsPort
	logger *slog.Logger
	clock  func() time.Time
}

// NewService builds Service. prefs may be nil.
func NewService(repo RepositoryPort, prefs PrefsPort, logger *slog.Logger) *Service {
	return &Service{
		repo:   repo,
		prefs:  prefs,
		logger: logger,
		clock:  func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the internal clock for deterministic tests.
func (s *Service) WithClock(clock func() time.Time) {
	if s != nil && clock != nil {
		s.clock = clock
	}
}

// Get returns a single row.
func (s *Service) Get(ctx context.Context, vehicleID, medicine string) (Row, error) {
	return s.repo.Get(ctx, strings.TrimSpace(vehicleID), strings.TrimSpace(medicine))
}

// ListByVehicle returns every row of a vehicle.
func (s *Service) ListByVehicle(ctx context.Context, vehicleID string) ([]Row, error) {
	vehicleID = strings.TrimSpace(vehicleID)
	if vehicleID == "" {
		return nil, ErrVehicleRequired
	}
	return s.repo.ListByVehicle(ctx, vehicleID)
}

// ListAll returns the entire ledger.
func (s *Service) ListAll(ctx context.Context) ([]Row, error) {
	return s.repo.ListAll(ctx)
}

// Upsert inserts the row when its key is absent, otherwise replaces the
// non-key fields.
func (s *Service) Upsert(ctx context.Context, row Row) (Row, error) {
	row.VehicleID = strings.TrimSpace(row.VehicleID)
	row.Medicine = strings.TrimSpace(row.Medicine)
	if err := row.validate(); err != nil {
		return Row{}, err
	}
	row.UpdatedAt = s.now()
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.Upsert(ctx, row)
	})
	if err != nil {
		return Row{}, err
	}
	return row, nil
}

// Delete removes one row.
func (s *Service) Delete(ctx context.Context, vehicleID, medicine string) error {
	vehicleID, medicine, err := normaliseKey(vehicleID, medicine)
	if err != nil {
		return err
	}
	return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.Delete(ctx, vehicleID, medicine)
	})
}

// SelectVehicle zero-initialises every missing medicine row for the vehicle
// and records it as the default vehicle.
func (s *Service) SelectVehicle(ctx context.Context, vehicleID string, medicines []string) error {
	vehicleID = strings.TrimSpace(vehicleID)
	if vehicleID == "" {
		return ErrVehicleRequired
	}
	now := s.now()
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		for _, medicine := range medicines {
			medicine = strings.TrimSpace(medicine)
			if medicine == "" {
				continue
			}
			_, err := tx.Get(ctx, vehicleID, medicine)
			if err == nil {
				continue
			}
			if !errors.Is(err, ErrRowNotFound) {
				return err
			}
			if err := tx.Upsert(ctx, Row{VehicleID: vehicleID, Medicine: medicine, UpdatedAt: now}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	return s.setDefaultVehicle(ctx, vehicleID)
}

// SwitchVehicle drops every ledger row and zero-initialises the new vehicle.
func (s *Service) SwitchVehicle(ctx context.Context, vehicleID string, medicines []string) error {
	vehicleID = strings.TrimSpace(vehicleID)
	if vehicleID == "" {
		return ErrVehicleRequired
	}
	now := s.now()
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.DeleteAll(ctx); err != nil {
			return err
		}
		for _, medicine := range medicines {
			medicine = strings.TrimSpace(medicine)
			if medicine == "" {
				continue
			}
			if err := tx.Upsert(ctx, Row{VehicleID: vehicleID, Medicine: medicine, UpdatedAt: now}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.log().Info("vehicle switched", slog.String("vehicle", vehicleID), slog.Int("medicines", len(medicines)))
	return s.setDefaultVehicle(ctx, vehicleID)
}

// SubmitConsumption records consumed and emergency quantities against the
// current closing balance. Only consumption is checked against closing;
// emergency use is recorded in full and closing floors at zero.
func (s *Service) SubmitConsumption(ctx context.Context, input SubmitInput) (Row, error) {
	if input.Consumption < 0 || input.Emergency < 0 {
		return Row{}, ErrInvalidQuantity
	}
	if input.Consumption == 0 && input.Emergency == 0 {
		return Row{}, ErrInvalidQuantity
	}
	return s.mutate(ctx, input.VehicleID, input.Medicine, false, func(row Row) (Row, error) {
		if input.Consumption > 0 && row.Closing == 0 {
			return Row{}, ErrZeroBalance
		}
		if input.Consumption > row.Closing {
			return Row{}, ErrInsufficientBalance
		}
		row.Closing = stock.RecomputeClosing(row.Closing, input.Consumption, input.Emergency)
		row.Consumption += input.Consumption
		row.Emergency += input.Emergency
		return row, nil
	})
}

// AddStock tops the vehicle up from its own supply, raising opening and
// closing balances.
func (s *Service) AddStock(ctx context.Context, vehicleID, medicine string, qty stock.Quantity) (Row, error) {
	if qty <= 0 {
		return Row{}, ErrInvalidQuantity
	}
	return s.mutate(ctx, vehicleID, medicine, true, func(row Row) (Row, error) {
		row.Opening += qty
		row.Closing += qty
		return row, nil
	})
}

// IssueFromStore records stock issued by the central store to the vehicle.
func (s *Service) IssueFromStore(ctx context.Context, vehicleID, medicine string, qty stock.Quantity) (Row, error) {
	if qty <= 0 {
		return Row{}, ErrInvalidQuantity
	}
	return s.mutate(ctx, vehicleID, medicine, true, func(row Row) (Row, error) {
		return applyIssue(row, qty), nil
	})
}

// IssueBatch applies several store issues for one vehicle atomically.
func (s *Service) IssueBatch(ctx context.Context, vehicleID string, issues map[string]stock.Quantity) error {
	vehicleID = strings.TrimSpace(vehicleID)
	if vehicleID == "" {
		return ErrVehicleRequired
	}
	for _, qty := range issues {
		if qty < 0 {
			return ErrInvalidQuantity
		}
	}
	now := s.now()
	return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		for medicine, qty := range issues {
			medicine = strings.TrimSpace(medicine)
			row, err := tx.Get(ctx, vehicleID, medicine)
			if err != nil {
				if !errors.Is(err, ErrRowNotFound) {
					return err
				}
				row = Row{VehicleID: vehicleID, Medicine: medicine}
			}
			row = applyIssue(row, qty)
			row.UpdatedAt = now
			if err := tx.Upsert(ctx, row); err != nil {
				return err
			}
		}
		return nil
	})
}

func applyIssue(row Row, qty stock.Quantity) Row {
	row.StoreIssued += qty
	row.Closing += qty
	return row
}

// ApplyEditedPending replaces the pending consumption and emergency values.
// Closing is recomputed from the base stock implied by the current row
// (closing + old consumption + old emergency), so applying the same values
// twice yields the same closing.
func (s *Service) ApplyEditedPending(ctx context.Context, vehicleID, medicine string, consumption, emergency stock.Quantity) (Row, error) {
	if consumption < 0 || emergency < 0 {
		return Row{}, ErrInvalidQuantity
	}
	return s.mutate(ctx, vehicleID, medicine, false, func(row Row) (Row, error) {
		base := row.Closing + row.Consumption + row.Emergency
		row.Closing = stock.RecomputeClosing(base, consumption, emergency)
		row.Consumption = consumption
		row.Emergency = emergency
		return row, nil
	})
}

// RevertPending discards an unsent edit by adding consumption and emergency
// back to closing and zeroing them.
func (s *Service) RevertPending(ctx context.Context, vehicleID, medicine string) (Row, error) {
	return s.mutate(ctx, vehicleID, medicine, false, func(row Row) (Row, error) {
		row.Closing = stock.RecomputeClosing(row.Closing+row.Consumption+row.Emergency, 0, 0)
		row.Consumption = 0
		row.Emergency = 0
		return row, nil
	})
}

// ResetFlows zeroes consumption, emergency and store-issued quantities for a
// vehicle, or for the whole ledger when vehicleID is empty.
func (s *Service) ResetFlows(ctx context.Context, vehicleID string) error {
	vehicleID = strings.TrimSpace(vehicleID)
	now := s.now()
	return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		rows, err := s.scope(ctx, tx, vehicleID)
		if err != nil {
			return err
		}
		for _, row := range rows {
			row.Consumption, row.Emergency, row.StoreIssued = 0, 0, 0
			row.UpdatedAt = now
			if err := tx.Upsert(ctx, row); err != nil {
				return err
			}
		}
		return nil
	})
}

// SettleUploaded deducts the flows of rows already delivered upstream from
// the current ledger in one transaction. Quantities recorded after sent was
// read stay pending for the next upload. Closing is untouched.
func (s *Service) SettleUploaded(ctx context.Context, sent []Row) error {
	now := s.now()
	return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		for _, prev := range sent {
			row, err := tx.Get(ctx, prev.VehicleID, prev.Medicine)
			if errors.Is(err, ErrRowNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			row.Consumption = settle(row.Consumption, prev.Consumption)
			row.Emergency = settle(row.Emergency, prev.Emergency)
			row.StoreIssued = settle(row.StoreIssued, prev.StoreIssued)
			row.UpdatedAt = now
			if err := tx.Upsert(ctx, row); err != nil {
				return err
			}
		}
		return nil
	})
}

func settle(current, sent stock.Quantity) stock.Quantity {
	if sent >= current {
		return 0
	}
	return current - sent
}

// ResetFlowsFor zeroes flow fields of the named medicines only.
func (s *Service) ResetFlowsFor(ctx context.Context, vehicleID string, medicines []string) error {
	return s.eachNamed(ctx, vehicleID, medicines, func(row Row) Row {
		row.Consumption, row.Emergency, row.StoreIssued = 0, 0, 0
		return row
	})
}

// RolloverFor carries closing into opening for the named medicines and zeroes
// their flows.
func (s *Service) RolloverFor(ctx context.Context, vehicleID string, medicines []string) error {
	return s.eachNamed(ctx, vehicleID, medicines, rollover)
}

// Rollover performs the daily rollover once per calendar date. It reports
// whether a rollover happened.
func (s *Service) Rollover(ctx context.Context, today string) (bool, error) {
	if s.prefs != nil {
		last, err := s.prefs.LastRollover(ctx)
		if err != nil {
			return false, err
		}
		if last == today {
			return false, nil
		}
	}
	now := s.now()
	count := 0
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		rows, err := tx.ListAll(ctx)
		if err != nil {
			return err
		}
		for _, row := range rows {
			row = rollover(row)
			row.UpdatedAt = now
			if err := tx.Upsert(ctx, row); err != nil {
				return err
			}
			count++
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	if s.prefs != nil {
		if err := s.prefs.SetLastRollover(ctx, today); err != nil {
			return true, err
		}
	}
	s.log().Info("ledger rolled over", slog.String("date", today), slog.Int("rows", count))
	return true, nil
}

func rollover(row Row) Row {
	row.Opening = row.Closing
	row.Consumption, row.Emergency, row.StoreIssued = 0, 0, 0
	return row
}

// ApplyRemoteBalances upserts rows fetched from the remote system of record
// for one vehicle.
func (s *Service) ApplyRemoteBalances(ctx context.Context, vehicleID string, rows []Row) error {
	vehicleID = strings.TrimSpace(vehicleID)
	if vehicleID == "" {
		return ErrVehicleRequired
	}
	now := s.now()
	for i := range rows {
		rows[i].VehicleID = vehicleID
		rows[i].Medicine = strings.TrimSpace(rows[i].Medicine)
		rows[i].UpdatedAt = now
		if err := rows[i].validate(); err != nil {
			return err
		}
	}
	return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		for _, row := range rows {
			if err := tx.Upsert(ctx, row); err != nil {
				return err
			}
		}
		return nil
	})
}

// UpsertBatch validates every row first, then writes them in one transaction.
func (s *Service) UpsertBatch(ctx context.Context, rows []Row) error {
	now := s.now()
	for i := range rows {
		rows[i].VehicleID = strings.TrimSpace(rows[i].VehicleID)
		rows[i].Medicine = strings.TrimSpace(rows[i].Medicine)
		rows[i].UpdatedAt = now
		if err := rows[i].validate(); err != nil {
			return err
		}
	}
	return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		for _, row := range rows {
			if err := tx.Upsert(ctx, row); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Service) mutate(ctx context.Context, vehicleID, medicine string, create bool, fn func(Row) (Row, error)) (Row, error) {
	vehicleID, medicine, err := normaliseKey(vehicleID, medicine)
	if err != nil {
		return Row{}, err
	}
	var out Row
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		row, err := tx.Get(ctx, vehicleID, medicine)
		if err != nil {
			if !errors.Is(err, ErrRowNotFound) || !create {
				return err
			}
			row = Row{VehicleID: vehicleID, Medicine: medicine}
		}
		next, err := fn(row)
		if err != nil {
			return err
		}
		next.UpdatedAt = s.now()
		if err := tx.Upsert(ctx, next); err != nil {
			return err
		}
		out = next
		return nil
	})
	if err != nil {
		return Row{}, err
	}
	return out, nil
}

func (s *Service) eachNamed(ctx context.Context, vehicleID string, medicines []string, fn func(Row) Row) error {
	vehicleID = strings.TrimSpace(vehicleID)
	if vehicleID == "" {
		return ErrVehicleRequired
	}
	now := s.now()
	return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		for _, medicine := range medicines {
			row, err := tx.Get(ctx, vehicleID, strings.TrimSpace(medicine))
			if errors.Is(err, ErrRowNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			row = fn(row)
			row.UpdatedAt = now
			if err := tx.Upsert(ctx, row); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Service) scope(ctx context.Context, tx TxRepository, vehicleID string) ([]Row, error) {
	if vehicleID == "" {
		return tx.ListAll(ctx)
	}
	return tx.ListByVehicle(ctx, vehicleID)
}

func (s *Service) setDefaultVehicle(ctx context.Context, vehicleID string) error {
	if s.prefs == nil {
		return nil
	}
	return s.prefs.SetDefaultVehicle(ctx, vehicleID)
}

func (s *Service) now() time.Time {
	if s != nil && s.clock != nil {
		return s.clock()
	}
	return time.Now().UTC()
}

func (s *Service) log() *slog.Logger {
	if s != nil && s.logger != nil {
		return s.logger.With(slog.String("component", "ledger"))
	}
	return slog.Default().With(slog.String("component", "ledger"))
}

func normaliseKey(vehicleID, medicine string) (string, string, error) {
	vehicleID = strings.TrimSpace(vehicleID)
	medicine = strings.TrimSpace(medicine)
	if vehicleID == "" {
		return "", "", ErrVehicleRequired
	}
	if medicine == "" {
		return "", "", ErrMedicineRequired
	}
	return vehicleID, medicine, nil
}
