// Package export writes the ledger as CSV or XLSX and reads it back from CSV.
package export

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/fleetmed/medsync/internal/catalog"
	"github.com/fleetmed/medsync/internal/ledger"
	"github.com/fleetmed/medsync/internal/stock"
)

// Header is the fixed column order of the CSV layout.
var Header = []string{
	"vehicleName",
	"medicineName",
	"openingBalance",
	"consumption",
	"totalEmergency",
	"closingBalance",
	"storeIssued",
}

// ErrHeader indicates a CSV whose first line is not Header.
var ErrHeader = errors.New("export: unexpected csv header")

// LineError reports a malformed CSV line.
type LineError struct {
	Line int
	Err  error
}

func (e *LineError) Error() string { return fmt.Sprintf("line %d: %v", e.Line, e.Err) }

func (e *LineError) Unwrap() error { return e.Err }

// WriteCSV writes rows in the fixed layout. Fractional medicines carry two
// decimals, every other medicine its plain value.
func WriteCSV(w io.Writer, cat *catalog.Catalog, rows []ledger.Row) error {
	buf := bufio.NewWriter(w)
	writer := csv.NewWriter(buf)
	if err := writer.Write(Header); err != nil {
		return err
	}
	for _, row := range rows {
		if err := writer.Write(record(cat, row)); err != nil {
			return err
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return err
	}
	return buf.Flush()
}

func record(cat *catalog.Catalog, row ledger.Row) []string {
	f := func(q stock.Quantity) string { return cat.Format(row.Medicine, q) }
	return []string{
		row.VehicleID,
		row.Medicine,
		f(row.Opening),
		f(row.Consumption),
		f(row.Emergency),
		f(row.Closing),
		f(row.StoreIssued),
	}
}

// ReadCSV parses the fixed layout. Every malformed line is reported, joined,
// and no rows are returned when any line fails.
func ReadCSV(r io.Reader, cat *catalog.Catalog) ([]ledger.Row, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	head, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, ErrHeader
	}
	if err != nil {
		return nil, err
	}
	if !headerMatches(head) {
		return nil, fmt.Errorf("%w: %s", ErrHeader, strings.Join(head, ","))
	}

	var (
		rows []ledger.Row
		errs []error
		line = 1
	)
	for {
		rec, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			errs = append(errs, &LineError{Line: line, Err: err})
			continue
		}
		if blank(rec) {
			continue
		}
		row, err := parseRecord(cat, rec)
		if err != nil {
			errs = append(errs, &LineError{Line: line, Err: err})
			continue
		}
		rows = append(rows, row)
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return rows, nil
}

func headerMatches(head []string) bool {
	if len(head) != len(Header) {
		return false
	}
	for i, col := range head {
		col = strings.TrimPrefix(col, "\ufeff")
		if !strings.EqualFold(strings.TrimSpace(col), Header[i]) {
			return false
		}
	}
	return true
}

func blank(rec []string) bool {
	for _, v := range rec {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

func parseRecord(cat *catalog.Catalog, rec []string) (ledger.Row, error) {
	if len(rec) != len(Header) {
		return ledger.Row{}, fmt.Errorf("want %d columns, got %d", len(Header), len(rec))
	}
	row := ledger.Row{
		VehicleID: strings.TrimSpace(rec[0]),
		Medicine:  strings.TrimSpace(rec[1]),
	}
	if row.VehicleID == "" {
		return ledger.Row{}, ledger.ErrVehicleRequired
	}
	if row.Medicine == "" {
		return ledger.Row{}, ledger.ErrMedicineRequired
	}
	targets := []*stock.Quantity{&row.Opening, &row.Consumption, &row.Emergency, &row.Closing, &row.StoreIssued}
	for i, dst := range targets {
		v, err := cat.Parse(row.Medicine, rec[i+2])
		if err != nil {
			return ledger.Row{}, fmt.Errorf("%s: %w", Header[i+2], err)
		}
		*dst = v
	}
	return row, nil
}
