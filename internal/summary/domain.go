package summary

import (
	"errors"

	"github.com/fleetmed/medsync/internal/stock"
)

// Row is the compiled accumulator for one medicine across every vehicle. Date
// is informational and always holds the most recent compile date.
type Row struct {
	Medicine       string         `json:"medicineName"`
	Date           string         `json:"date"`
	Opening        stock.Quantity `json:"openingBalance"`
	Consumption    stock.Quantity `json:"consumption"`
	Emergency      stock.Quantity `json:"emergencyQuantity"`
	Closing        stock.Quantity `json:"closingBalance"`
	StoreIssued    stock.Quantity `json:"storeIssued"`
	StockAvailable stock.Quantity `json:"stockAvailable"`
}

// Item projects the row onto the shared merge type.
func (r Row) Item() stock.Item {
	return stock.Item{
		Medicine:       r.Medicine,
		Opening:        r.Opening,
		Consumption:    r.Consumption,
		Emergency:      r.Emergency,
		Closing:        r.Closing,
		StoreIssued:    r.StoreIssued,
		StockAvailable: r.StockAvailable,
	}
}

func rowFromItem(date string, it stock.Item) Row {
	return Row{
		Medicine:       it.Medicine,
		Date:           date,
		Opening:        it.Opening,
		Consumption:    it.Consumption,
		Emergency:      it.Emergency,
		Closing:        it.Closing,
		StoreIssued:    it.StoreIssued,
		StockAvailable: it.StockAvailable,
	}
}

var (
	// ErrNotFound indicates no compiled row for the medicine.
	ErrNotFound = errors.New("summary: row not found")
	// ErrInvalidWindow indicates a non-positive day window.
	ErrInvalidWindow = errors.New("summary: window must be at least one day")
	// ErrDateRequired indicates a compile without a date.
	ErrDateRequired = errors.New("summary: compile date required")
)
