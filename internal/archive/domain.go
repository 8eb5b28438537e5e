package archive

import (
	"errors"
	"fmt"
	"time"

	"github.com/fleetmed/medsync/internal/stock"
)

// DailyRow is the per-day accumulator for one medicine.
type DailyRow struct {
	Date           string         `json:"date"`
	Medicine       string         `json:"medicineName"`
	Opening        stock.Quantity `json:"openingBalance"`
	Consumption    stock.Quantity `json:"consumption"`
	Emergency      stock.Quantity `json:"emergencyQuantity"`
	Closing        stock.Quantity `json:"closingBalance"`
	StoreIssued    stock.Quantity `json:"storeIssued"`
	StockAvailable stock.Quantity `json:"stockAvailable"`
}

// MonthlyRow is the per-month accumulator for one medicine. It is stored apart
// from the daily rows and is never touched by daily deletions.
type MonthlyRow struct {
	Year            int            `json:"year"`
	Month           int            `json:"month"`
	Medicine        string         `json:"medicineName"`
	Opening         stock.Quantity `json:"openingBalance"`
	Consumption     stock.Quantity `json:"consumption"`
	Emergency       stock.Quantity `json:"emergencyQuantity"`
	Closing         stock.Quantity `json:"closingBalance"`
	StoreIssued     stock.Quantity `json:"storeIssued"`
	StockAvailable  stock.Quantity `json:"stockAvailable"`
	LastUpdatedDate string         `json:"lastUpdatedDate"`
}

// Item projects the row onto the shared merge type.
func (r DailyRow) Item() stock.Item {
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

// Item projects the row onto the shared merge type.
func (r MonthlyRow) Item() stock.Item {
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

func dailyFromItem(date string, it stock.Item) DailyRow {
	return DailyRow{
		Date:           date,
		Medicine:       it.Medicine,
		Opening:        it.Opening,
		Consumption:    it.Consumption,
		Emergency:      it.Emergency,
		Closing:        it.Closing,
		StoreIssued:    it.StoreIssued,
		StockAvailable: it.StockAvailable,
	}
}

func monthlyFromItem(year, month int, date string, it stock.Item) MonthlyRow {
	return MonthlyRow{
		Year:            year,
		Month:           month,
		Medicine:        it.Medicine,
		Opening:         it.Opening,
		Consumption:     it.Consumption,
		Emergency:       it.Emergency,
		Closing:         it.Closing,
		StoreIssued:     it.StoreIssued,
		StockAvailable:  it.StockAvailable,
		LastUpdatedDate: date,
	}
}

// Half selects one half of a calendar month.
type Half int

const (
	// FirstHalf covers days 1 to 15.
	FirstHalf Half = 1
	// SecondHalf covers day 16 to the last day of the month.
	SecondHalf Half = 2
)

func (h Half) String() string {
	switch h {
	case FirstHalf:
		return "first"
	case SecondHalf:
		return "second"
	default:
		return fmt.Sprintf("half(%d)", int(h))
	}
}

// ParseHalf accepts "1", "first", "2" or "second".
func ParseHalf(s string) (Half, error) {
	switch s {
	case "1", "first":
		return FirstHalf, nil
	case "2", "second":
		return SecondHalf, nil
	}
	return 0, ErrInvalidHalf
}

// HalfRange returns the inclusive YYYY-MM-DD bounds of a half month.
func HalfRange(year, month int, half Half) (string, string, error) {
	if month < 1 || month > 12 || year < 1 {
		return "", "", ErrInvalidMonth
	}
	first := time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC)
	switch half {
	case FirstHalf:
		return first.Format(time.DateOnly), first.AddDate(0, 0, 14).Format(time.DateOnly), nil
	case SecondHalf:
		last := first.AddDate(0, 1, -1)
		return first.AddDate(0, 0, 15).Format(time.DateOnly), last.Format(time.DateOnly), nil
	default:
		return "", "", ErrInvalidHalf
	}
}

// MonthRange returns the inclusive YYYY-MM-DD bounds of a calendar month.
func MonthRange(year, month int) (string, string, error) {
	if month < 1 || month > 12 || year < 1 {
		return "", "", ErrInvalidMonth
	}
	first := time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC)
	return first.Format(time.DateOnly), first.AddDate(0, 1, -1).Format(time.DateOnly), nil
}

func parseDate(date string) (time.Time, error) {
	t, err := time.Parse(time.DateOnly, date)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidDate, date)
	}
	return t, nil
}

var (
	// ErrNotFound indicates no archive row for the key.
	ErrNotFound = errors.New("archive: row not found")
	// ErrInvalidDate indicates a date not in YYYY-MM-DD form.
	ErrInvalidDate = errors.New("archive: invalid date")
	// ErrInvalidRange indicates a range whose start is after its end.
	ErrInvalidRange = errors.New("archive: start after end")
	// ErrInvalidHalf indicates a half other than first or second.
	ErrInvalidHalf = errors.New("archive: half must be first or second")
	// ErrInvalidMonth indicates a year/month outside the calendar.
	ErrInvalidMonth = errors.New("archive: invalid year or month")
)
