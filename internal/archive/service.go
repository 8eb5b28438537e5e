package archive

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/fleetmed/medsync/internal/stock"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	ListBetween(ctx context.Context, from, to string) ([]DailyRow, error)
	DeleteRange(ctx context.Context, from, to, medicine string) (int64, error)
	ListMonthly(ctx context.Context, year, month int) ([]MonthlyRow, error)
	DeleteMonthly(ctx context.Context, year, month int) (int64, error)
}

// Service coordinates the daily and monthly archives.
type Service struct {
	repo   RepositoryPort
	logger *slog.Logger
}

// NewService builds Service.
func NewService(repo RepositoryPort, logger *slog.Logger) *Service {
	return &Service{repo: repo, logger: logger}
}

// InsertOrAccumulateSnapshot merges a batch into the daily rows of date.
func (s *Service) InsertOrAccumulateSnapshot(ctx context.Context, date string, items []stock.Item) error {
	return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return AccumulateDaily(ctx, tx, date, items)
	})
}

// InsertOrAccumulateMonthlyTotals merges a batch into the monthly rows of the
// month containing date, stamping lastUpdatedDate with date.
func (s *Service) InsertOrAccumulateMonthlyTotals(ctx context.Context, date string, items []stock.Item) error {
	return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return AccumulateMonthly(ctx, tx, date, items)
	})
}

// AccumulateDaily applies the additive/overwrite merge keyed by (date,
// medicine). Callers own the transaction.
func AccumulateDaily(ctx context.Context, tx TxRepository, date string, items []stock.Item) error {
	if _, err := parseDate(date); err != nil {
		return err
	}
	for _, it := range items {
		it.Medicine = strings.TrimSpace(it.Medicine)
		if err := it.Validate(); err != nil {
			return err
		}
		existing, err := tx.GetDaily(ctx, date, it.Medicine)
		switch {
		case errors.Is(err, ErrNotFound):
		case err != nil:
			return err
		default:
			it = stock.Accumulate(existing.Item(), it)
		}
		if err := tx.UpsertDaily(ctx, dailyFromItem(date, it)); err != nil {
			return err
		}
	}
	return nil
}

// AccumulateMonthly applies the additive/overwrite merge keyed by (year,
// month, medicine). Callers own the transaction.
func AccumulateMonthly(ctx context.Context, tx TxRepository, date string, items []stock.Item) error {
	day, err := parseDate(date)
	if err != nil {
		return err
	}
	year, month := day.Year(), int(day.Month())
	for _, it := range items {
		it.Medicine = strings.TrimSpace(it.Medicine)
		if err := it.Validate(); err != nil {
			return err
		}
		existing, err := tx.GetMonthly(ctx, year, month, it.Medicine)
		switch {
		case errors.Is(err, ErrNotFound):
		case err != nil:
			return err
		default:
			it = stock.Accumulate(existing.Item(), it)
		}
		if err := tx.UpsertMonthly(ctx, monthlyFromItem(year, month, date, it)); err != nil {
			return err
		}
	}
	return nil
}

// GetAggregatedBetween aggregates daily rows in [start, end]. Flows are summed
// over the range; level fields are read from each medicine's row at its latest
// contributing date.
func (s *Service) GetAggregatedBetween(ctx context.Context, start, end string) ([]stock.Item, error) {
	if err := checkRange(start, end); err != nil {
		return nil, err
	}
	var out []stock.Item
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		totals, err := tx.Totals(ctx, start, end)
		if err != nil {
			return err
		}
		out = make([]stock.Item, 0, len(totals))
		for _, t := range totals {
			latest, err := tx.GetDaily(ctx, t.LatestDate, t.Medicine)
			if err != nil {
				return fmt.Errorf("archive: latest row for %q on %s: %w", t.Medicine, t.LatestDate, err)
			}
			it := latest.Item()
			it.Consumption = t.Consumption
			it.Emergency = t.Emergency
			out = append(out, it)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	stock.SortItems(out)
	return out, nil
}

// ListDay returns the daily rows of one date.
func (s *Service) ListDay(ctx context.Context, date string) ([]DailyRow, error) {
	if _, err := parseDate(date); err != nil {
		return nil, err
	}
	return s.repo.ListBetween(ctx, date, date)
}

// ListBetween returns the raw daily rows in [start, end].
func (s *Service) ListBetween(ctx context.Context, start, end string) ([]DailyRow, error) {
	if err := checkRange(start, end); err != nil {
		return nil, err
	}
	return s.repo.ListBetween(ctx, start, end)
}

// GetHalf aggregates one half of a month.
func (s *Service) GetHalf(ctx context.Context, year, month int, half Half) ([]stock.Item, error) {
	from, to, err := HalfRange(year, month, half)
	if err != nil {
		return nil, err
	}
	return s.GetAggregatedBetween(ctx, from, to)
}

// DeleteHalf permanently removes the daily rows of one half of a month, for a
// single medicine when medicine is non-empty. Monthly rows are untouched.
func (s *Service) DeleteHalf(ctx context.Context, year, month int, half Half, medicine string) (int64, error) {
	from, to, err := HalfRange(year, month, half)
	if err != nil {
		return 0, err
	}
	return s.deleteRange(ctx, from, to, medicine)
}

// DeleteRange permanently removes daily rows in [start, end].
func (s *Service) DeleteRange(ctx context.Context, start, end, medicine string) (int64, error) {
	if err := checkRange(start, end); err != nil {
		return 0, err
	}
	return s.deleteRange(ctx, start, end, medicine)
}

func (s *Service) deleteRange(ctx context.Context, from, to, medicine string) (int64, error) {
	medicine = strings.TrimSpace(medicine)
	n, err := s.repo.DeleteRange(ctx, from, to, medicine)
	if err != nil {
		return 0, err
	}
	s.log().Info("archive rows deleted",
		slog.String("from", from), slog.String("to", to),
		slog.String("medicine", medicine), slog.Int64("rows", n))
	return n, nil
}

// GetMonthly returns the monthly rows of year/month.
func (s *Service) GetMonthly(ctx context.Context, year, month int) ([]MonthlyRow, error) {
	if _, _, err := MonthRange(year, month); err != nil {
		return nil, err
	}
	return s.repo.ListMonthly(ctx, year, month)
}

// ListMonthly returns every monthly row.
func (s *Service) ListMonthly(ctx context.Context) ([]MonthlyRow, error) {
	return s.repo.ListMonthly(ctx, 0, 0)
}

// DeleteMonthly removes the monthly accumulator of year/month.
func (s *Service) DeleteMonthly(ctx context.Context, year, month int) (int64, error) {
	if _, _, err := MonthRange(year, month); err != nil {
		return 0, err
	}
	n, err := s.repo.DeleteMonthly(ctx, year, month)
	if err != nil {
		return 0, err
	}
	s.log().Info("monthly archive deleted", slog.Int("year", year), slog.Int("month", month), slog.Int64("rows", n))
	return n, nil
}

func checkRange(start, end string) error {
	from, err := parseDate(start)
	if err != nil {
		return err
	}
	to, err := parseDate(end)
	if err != nil {
		return err
	}
	if from.After(to) {
		return ErrInvalidRange
	}
	return nil
}

func (s *Service) log() *slog.Logger {
	if s != nil && s.logger != nil {
		return s.logger.With(slog.String("component", "archive"))
	}
	return slog.Default().With(slog.String("component", "archive"))
}
