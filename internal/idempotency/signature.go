// Package idempotency derives canonical request signatures and remembers the
// requestId issued for each one so a manual retry reuses the same token.
package idempotency

import (
	"sort"
	"strconv"
	"strings"

	"github.com/fleetmed/medsync/internal/stock"
)

// Operation tags the kind of remote mutation a signature covers.
type Operation string

const (
	OpBulk        Operation = "bulk"
	OpUpsert      Operation = "upsert"
	OpConsumption Operation = "consumption"
	OpIssue       Operation = "issue"
	OpRollover    Operation = "rollover"
)

const (
	fieldSep = ":"
	itemSep  = ";"
	partSep  = "|"
	version  = "v2"
)

// SignatureFor returns the canonical signature of a payload. Items are ordered
// by case-insensitive medicine name so input order never changes the result.
// Consumption and bulk payloads serialise
// medicine:consumption:emergency:storeIssued:stockAvailable, every other
// operation medicine:qty. Names are quoted so separators inside them cannot
// make two payloads collide; quantities are raw hundredths.
func SignatureFor(vehicle string, op Operation, items []stock.Item) string {
	sorted := make([]stock.Item, len(items))
	copy(sorted, items)
	for i := range sorted {
		sorted[i].Medicine = strings.TrimSpace(sorted[i].Medicine)
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.Medicine != b.Medicine {
			return stock.LessMedicine(a.Medicine, b.Medicine)
		}
		return encodeItem(op, a) < encodeItem(op, b)
	})

	entries := make([]string, 0, len(sorted))
	for _, it := range sorted {
		entries = append(entries, encodeItem(op, it))
	}
	return strings.Join([]string{
		version,
		strconv.Quote(strings.TrimSpace(vehicle)),
		string(op),
		strings.Join(entries, itemSep),
	}, partSep)
}

func encodeItem(op Operation, it stock.Item) string {
	switch op {
	case OpConsumption, OpBulk:
		return strings.Join([]string{
			strconv.Quote(it.Medicine),
			formatQty(it.Consumption),
			formatQty(it.Emergency),
			formatQty(it.StoreIssued),
			formatQty(it.StockAvailable),
		}, fieldSep)
	default:
		return strconv.Quote(it.Medicine) + fieldSep + formatQty(Quantity(op, it))
	}
}

func formatQty(q stock.Quantity) string { return strconv.FormatInt(int64(q), 10) }

// ScopedMedicine names a medicine within a vehicle for signatures spanning
// several vehicles.
func ScopedMedicine(vehicle, medicine string) string {
	return strconv.Quote(vehicle) + "/" + medicine
}

// Quantity is the single quantity an operation carries for an item: the store
// issue for issue payloads, the closing balance for rollover and upsert.
func Quantity(op Operation, it stock.Item) stock.Quantity {
	switch op {
	case OpIssue:
		return it.StoreIssued
	case OpRollover, OpUpsert:
		return it.Closing
	default:
		return it.Consumption + it.Emergency
	}
}
