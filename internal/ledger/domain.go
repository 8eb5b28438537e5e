package ledger

import (
	"errors"
	"strings"
	"time"

	"github.com/fleetmed/medsync/internal/stock"
)

// Row is the per-(vehicle, medicine) stock bookkeeping record.
type Row struct {
	VehicleID   string         `json:"vehicleId"`
	Medicine    string         `json:"medicineName"`
	Opening     stock.Quantity `json:"openingBalance"`
	Consumption stock.Quantity `json:"consumption"`
	Emergency   stock.Quantity `json:"emergencyQuantity"`
	Closing     stock.Quantity `json:"closingBalance"`
	StoreIssued stock.Quantity `json:"storeIssued"`
	UpdatedAt   time.Time      `json:"updatedAt"`
}

// Item projects the row onto the shared merge type. Stock available on a
// vehicle is its closing balance.
func (r Row) Item() stock.Item {
	return stock.Item{
		Medicine:       r.Medicine,
		Opening:        r.Opening,
		Consumption:    r.Consumption,
		Emergency:      r.Emergency,
		Closing:        r.Closing,
		StoreIssued:    r.StoreIssued,
		StockAvailable: r.Closing,
	}
}

func (r Row) validate() error {
	if strings.TrimSpace(r.VehicleID) == "" {
		return ErrVehicleRequired
	}
	if strings.TrimSpace(r.Medicine) == "" {
		return ErrMedicineRequired
	}
	if r.Opening < 0 || r.Consumption < 0 || r.Emergency < 0 || r.Closing < 0 || r.StoreIssued < 0 {
		return ErrInvalidQuantity
	}
	return nil
}

// SubmitInput is a consumption submission from the field.
type SubmitInput struct {
	VehicleID   string         `json:"vehicleId" validate:"required"`
	Medicine    string         `json:"medicineName" validate:"required"`
	Consumption stock.Quantity `json:"consumption" validate:"gte=0"`
	Emergency   stock.Quantity `json:"emergencyQuantity" validate:"gte=0"`
}

var (
	// ErrVehicleRequired indicates a blank vehicle identifier.
	ErrVehicleRequired = errors.New("ledger: vehicle required")
	// ErrMedicineRequired indicates a blank medicine name.
	ErrMedicineRequired = errors.New("ledger: medicine required")
	// ErrInvalidQuantity indicates a negative or empty quantity.
	ErrInvalidQuantity = errors.New("ledger: quantity must be a non-negative number")
	// ErrZeroBalance rejects consumption against an empty closing balance.
	ErrZeroBalance = errors.New("ledger: closing balance is zero")
	// ErrInsufficientBalance rejects consumption above the closing balance.
	// Emergency use is not capped; closing floors at zero instead.
	ErrInsufficientBalance = errors.New("ledger: consumption exceeds closing balance")
	// ErrRowNotFound indicates no row for the vehicle/medicine pair.
	ErrRowNotFound = errors.New("ledger: row not found")
)

// IsValidation reports whether err is a user-facing validation failure.
func IsValidation(err error) bool {
	return errors.Is(err, ErrVehicleRequired) ||
		errors.Is(err, ErrMedicineRequired) ||
		errors.Is(err, ErrInvalidQuantity) ||
		errors.Is(err, ErrZeroBalance) ||
		errors.Is(err, ErrInsufficientBalance)
}
