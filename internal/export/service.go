package export

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"

	"github.com/fleetmed/medsync/internal/catalog"
	"github.com/fleetmed/medsync/internal/ledger"
)

// Format names an export encoding.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
)

// ErrFormat indicates an unsupported export format.
var ErrFormat = errors.New("export: format must be csv or xlsx")

// ParseFormat validates a format name; empty selects CSV.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case "":
		return FormatCSV, nil
	case FormatCSV, FormatXLSX:
		return f, nil
	}
	return "", ErrFormat
}

// ContentType returns the MIME type of the format.
func (f Format) ContentType() string {
	if f == FormatXLSX {
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	}
	return "text/csv; charset=utf-8"
}

// Ledger is the subset of ledger.Service used here.
type Ledger interface {
	ListAll(ctx context.Context) ([]ledger.Row, error)
	ListByVehicle(ctx context.Context, vehicleID string) ([]ledger.Row, error)
	UpsertBatch(ctx context.Context, rows []ledger.Row) error
}

// Service exports and imports the ledger.
type Service struct {
	ledger  Ledger
	catalog *catalog.Catalog
	logger  *slog.Logger
}

// NewService builds Service.
func NewService(l Ledger, cat *catalog.Catalog, logger *slog.Logger) *Service {
	if cat == nil {
		cat = catalog.Default()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{ledger: l, catalog: cat, logger: logger}
}

// Export writes the ledger, or one vehicle's rows when vehicle is set.
func (s *Service) Export(ctx context.Context, w io.Writer, format Format, vehicle string) error {
	var (
		rows []ledger.Row
		err  error
	)
	if vehicle = strings.TrimSpace(vehicle); vehicle != "" {
		rows, err = s.ledger.ListByVehicle(ctx, vehicle)
	} else {
		rows, err = s.ledger.ListAll(ctx)
	}
	if err != nil {
		return err
	}
	if format == FormatXLSX {
		return WriteXLSX(w, s.catalog, rows)
	}
	return WriteCSV(w, s.catalog, rows)
}

// Import reads a CSV and upserts every row atomically. It reports how many
// rows were written.
func (s *Service) Import(ctx context.Context, r io.Reader) (int, error) {
	rows, err := ReadCSV(r, s.catalog)
	if err != nil {
		return 0, err
	}
	if err := s.ledger.UpsertBatch(ctx, rows); err != nil {
		return 0, err
	}
	s.logger.Info("ledger imported", slog.Int("rows", len(rows)))
	return len(rows), nil
}
