package remote

import (
	"encoding/json"
	"fmt"

	"github.com/fleetmed/medsync/internal/stock"
)

// Action names understood by the endpoint.
const (
	ActionUpsert           = "upsert"
	ActionGet              = "get"
	ActionGetAllForVehicle = "getAllForVehicle"
	ActionGetAllForDate    = "getAllForDate"
	ActionBulkUpload       = "bulkUpload"
	ActionBalances         = "balances"
)

// Mode selects one of the per-item mutation endpoints.
type Mode string

const (
	ModeConsumption Mode = "consumption"
	ModeIssue       Mode = "issue"
	ModeRollover    Mode = "rollover"
)

// ParseMode validates a mode name.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(s); m {
	case ModeConsumption, ModeIssue, ModeRollover:
		return m, nil
	}
	return "", fmt.Errorf("%w %q", ErrInvalidMode, s)
}

// Record is one ledger row as the endpoint stores it. Quantities may arrive
// as JSON numbers or decimal strings.
type Record struct {
	VehicleName    string         `json:"vehicleName"`
	MedicineName   string         `json:"medicineName"`
	Date           string         `json:"date,omitempty"`
	OpeningBalance stock.Quantity `json:"openingBalance"`
	Consumption    stock.Quantity `json:"consumption"`
	TotalEmergency stock.Quantity `json:"totalEmergency"`
	ClosingBalance stock.Quantity `json:"closingBalance"`
	StoreIssued    stock.Quantity `json:"storeIssued"`
	StockAvailable stock.Quantity `json:"stockAvailable,omitempty"`
}

// Item projects the record onto the shared merge type. StockAvailable falls
// back to the closing balance when the endpoint omits it.
func (r Record) Item() stock.Item {
	available := r.StockAvailable
	if available == 0 {
		available = r.ClosingBalance
	}
	return stock.Item{
		Medicine:       r.MedicineName,
		Opening:        r.OpeningBalance,
		Consumption:    r.Consumption,
		Emergency:      r.TotalEmergency,
		Closing:        r.ClosingBalance,
		StoreIssued:    r.StoreIssued,
		StockAvailable: available,
	}
}

// RecordFromItem builds a record for vehicle from a merge item.
func RecordFromItem(vehicle, date string, it stock.Item) Record {
	return Record{
		VehicleName:    vehicle,
		MedicineName:   it.Medicine,
		Date:           date,
		OpeningBalance: it.Opening,
		Consumption:    it.Consumption,
		TotalEmergency: it.Emergency,
		ClosingBalance: it.Closing,
		StoreIssued:    it.StoreIssued,
		StockAvailable: it.StockAvailable,
	}
}

// ModeItem is one line of a consumption, issue or rollover submission.
type ModeItem struct {
	MedicineName   string         `json:"medicineName"`
	Consumption    stock.Quantity `json:"consumption,omitempty"`
	Emergency      stock.Quantity `json:"emergency,omitempty"`
	StoreIssued    stock.Quantity `json:"storeIssued,omitempty"`
	StockAvailable stock.Quantity `json:"stockAvailable,omitempty"`
	Quantity       stock.Quantity `json:"quantity,omitempty"`
}

type request struct {
	Action      string     `json:"action,omitempty"`
	Mode        Mode       `json:"mode,omitempty"`
	RequestID   string     `json:"requestId,omitempty"`
	VehicleName string     `json:"vehicleName,omitempty"`
	Medicine    string     `json:"medicineName,omitempty"`
	Date        string     `json:"date,omitempty"`
	Record      *Record    `json:"record,omitempty"`
	Records     []Record   `json:"records,omitempty"`
	Items       []ModeItem `json:"items,omitempty"`
}

type response struct {
	OK        bool            `json:"ok"`
	Duplicate bool            `json:"duplicate,omitempty"`
	Updated   []string        `json:"updated,omitempty"`
	NotFound  []string        `json:"notFound,omitempty"`
	Error     string          `json:"error,omitempty"`
	Code      string          `json:"code,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// Result is the outcome of a mutating call.
type Result struct {
	Duplicate bool     `json:"duplicate"`
	Updated   []string `json:"updated,omitempty"`
	NotFound  []string `json:"notFound,omitempty"`
}
