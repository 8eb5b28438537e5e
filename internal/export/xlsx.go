package export

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	"github.com/fleetmed/medsync/internal/catalog"
	"github.com/fleetmed/medsync/internal/ledger"
	"github.com/fleetmed/medsync/internal/stock"
)

// SheetName is the worksheet the ledger is written to.
const SheetName = "Ledger"

// WriteXLSX writes rows to a workbook with the CSV column layout. Fractional
// medicines keep their two-decimal text rendering; others are numeric cells.
func WriteXLSX(w io.Writer, cat *catalog.Catalog, rows []ledger.Row) error {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	if err := f.SetSheetName("Sheet1", SheetName); err != nil {
		return fmt.Errorf("export: rename sheet: %w", err)
	}
	for i, col := range Header {
		cell, err := excelize.CoordinatesToCellName(i+1, 1)
		if err != nil {
			return err
		}
		if err := f.SetCellValue(SheetName, cell, col); err != nil {
			return err
		}
	}
	for r, row := range rows {
		values := []any{row.VehicleID, row.Medicine}
		for _, q := range []stock.Quantity{row.Opening, row.Consumption, row.Emergency, row.Closing, row.StoreIssued} {
			switch {
			case cat.IsFractional(row.Medicine):
				values = append(values, cat.Format(row.Medicine, q))
			case q.Whole():
				values = append(values, int64(q/stock.Unit))
			default:
				values = append(values, q.Decimal().InexactFloat64())
			}
		}
		cell, err := excelize.CoordinatesToCellName(1, r+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(SheetName, cell, &values); err != nil {
			return fmt.Errorf("export: write row %d: %w", r+2, err)
		}
	}
	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("export: write workbook: %w", err)
	}
	return nil
}
