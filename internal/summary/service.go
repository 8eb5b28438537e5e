package summary

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/fleetmed/medsync/internal/stock"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	List(ctx context.Context) ([]Row, error)
	Window(ctx context.Context, from, to string) ([]stock.Item, error)
	Delete(ctx context.Context, medicine string) error
	DeleteAll(ctx context.Context) (int64, error)
}

// Service coordinates the compiled summary store.
type Service struct {
	repo RepositoryPort
}

// NewService builds Service.
func NewService(repo RepositoryPort) *Service {
	return &Service{repo: repo}
}

// InsertOrAccumulate merges a compiled batch in one transaction. Either every
// item is merged or none is.
func (s *Service) InsertOrAccumulate(ctx context.Context, date string, items []stock.Item) error {
	return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return Accumulate(ctx, tx, date, items)
	})
}

// Accumulate merges items keyed by medicine name only: consumption and
// emergency are summed into the existing row, the remaining fields and the
// date are overwritten. Callers own the transaction.
func Accumulate(ctx context.Context, tx TxRepository, date string, items []stock.Item) error {
	if strings.TrimSpace(date) == "" {
		return ErrDateRequired
	}
	for _, it := range items {
		it.Medicine = strings.TrimSpace(it.Medicine)
		if err := it.Validate(); err != nil {
			return err
		}
		existing, err := tx.Get(ctx, it.Medicine)
		switch {
		case errors.Is(err, ErrNotFound):
			if err := tx.Upsert(ctx, rowFromItem(date, it)); err != nil {
				return err
			}
		case err != nil:
			return err
		default:
			merged := stock.Accumulate(existing.Item(), it)
			if err := tx.Upsert(ctx, rowFromItem(date, merged)); err != nil {
				return err
			}
		}
	}
	return nil
}

// List returns every compiled row.
func (s *Service) List(ctx context.Context) ([]Row, error) {
	return s.repo.List(ctx)
}

// GetLastNDays aggregates rows compiled within the n calendar days ending on
// today: every quantity is summed except stock available, which takes the
// maximum.
func (s *Service) GetLastNDays(ctx context.Context, n int, today time.Time) ([]stock.Item, error) {
	if n <= 0 {
		return nil, ErrInvalidWindow
	}
	to := today.Format(time.DateOnly)
	from := today.AddDate(0, 0, -(n - 1)).Format(time.DateOnly)
	return s.repo.Window(ctx, from, to)
}

// Delete removes one medicine's accumulator.
func (s *Service) Delete(ctx context.Context, medicine string) error {
	return s.repo.Delete(ctx, strings.TrimSpace(medicine))
}

// DeleteAll removes every accumulator and reports how many were removed.
func (s *Service) DeleteAll(ctx context.Context) (int64, error) {
	return s.repo.DeleteAll(ctx)
}
