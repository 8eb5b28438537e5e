// Package stock holds the quantity types and merge rules shared by the ledger,
// summary and archive stores.
package stock

import (
	"errors"
	"sort"
	"strings"

	"golang.org/x/text/cases"
)

// ErrMedicineRequired indicates an item without a medicine name.
var ErrMedicineRequired = errors.New("stock: medicine name required")

// ErrNegativeQuantity indicates an item carrying a negative quantity.
var ErrNegativeQuantity = errors.New("stock: quantities must be >= 0")

// Item carries one medicine's quantities through compile and archive merges.
// Consumption and Emergency are flow fields; the rest are level fields.
type Item struct {
	Medicine       string   `json:"medicine"`
	Opening        Quantity `json:"openingBalance"`
	Consumption    Quantity `json:"consumption"`
	Emergency      Quantity `json:"emergency"`
	Closing        Quantity `json:"closingBalance"`
	StoreIssued    Quantity `json:"storeIssued"`
	StockAvailable Quantity `json:"stockAvailable"`
}

// DatedItem is an Item observed on a calendar date (YYYY-MM-DD).
type DatedItem struct {
	Date string `json:"date"`
	Item
}

// Validate checks the item can be merged.
func (i Item) Validate() error {
	if strings.TrimSpace(i.Medicine) == "" {
		return ErrMedicineRequired
	}
	if i.Opening < 0 || i.Consumption < 0 || i.Emergency < 0 || i.Closing < 0 || i.StoreIssued < 0 || i.StockAvailable < 0 {
		return ErrNegativeQuantity
	}
	return nil
}

// RecomputeClosing derives the closing balance from a base stock, floored at zero.
// Every ledger mutation path computes closing through this function.
func RecomputeClosing(base, consumption, emergency Quantity) Quantity {
	closing := base - consumption - emergency
	if closing < 0 {
		return 0
	}
	return closing
}

// Accumulate merges incoming into existing: flows are summed, levels are
// replaced by the incoming values.
func Accumulate(existing, incoming Item) Item {
	return Item{
		Medicine:       incoming.Medicine,
		Opening:        incoming.Opening,
		Consumption:    existing.Consumption + incoming.Consumption,
		Emergency:      existing.Emergency + incoming.Emergency,
		Closing:        incoming.Closing,
		StoreIssued:    incoming.StoreIssued,
		StockAvailable: incoming.StockAvailable,
	}
}

// WindowTotals groups items by medicine, summing every field except
// StockAvailable, which takes the maximum. Output is ordered by medicine.
func WindowTotals(items []Item) []Item {
	byName := make(map[string]*Item, len(items))
	var order []string
	for _, it := range items {
		agg, ok := byName[it.Medicine]
		if !ok {
			agg = &Item{Medicine: it.Medicine, StockAvailable: it.StockAvailable}
			byName[it.Medicine] = agg
			order = append(order, it.Medicine)
		}
		agg.Opening += it.Opening
		agg.Consumption += it.Consumption
		agg.Emergency += it.Emergency
		agg.Closing += it.Closing
		agg.StoreIssued += it.StoreIssued
		if it.StockAvailable > agg.StockAvailable {
			agg.StockAvailable = it.StockAvailable
		}
	}
	out := make([]Item, 0, len(order))
	for _, name := range order {
		out = append(out, *byName[name])
	}
	SortItems(out)
	return out
}

// FoldLatest folds dated observations per medicine: flows are summed across all
// dates and level fields come from the chronologically last observation.
func FoldLatest(rows []DatedItem) []Item {
	type acc struct {
		latest string
		item   Item
	}
	byName := make(map[string]*acc, len(rows))
	var order []string
	for _, row := range rows {
		a, ok := byName[row.Medicine]
		if !ok {
			a = &acc{latest: row.Date, item: row.Item}
			byName[row.Medicine] = a
			order = append(order, row.Medicine)
			continue
		}
		flowsC := a.item.Consumption + row.Consumption
		flowsE := a.item.Emergency + row.Emergency
		if row.Date >= a.latest {
			a.latest = row.Date
			a.item = row.Item
		}
		a.item.Consumption = flowsC
		a.item.Emergency = flowsE
	}
	out := make([]Item, 0, len(order))
	for _, name := range order {
		out = append(out, byName[name].item)
	}
	SortItems(out)
	return out
}

// FoldKey returns the case-insensitive ordering key for a medicine name.
func FoldKey(name string) string {
	return cases.Fold().String(name)
}

// SortItems orders items by case-insensitive medicine name, breaking ties on
// the raw name so the order is total.
func SortItems(items []Item) {
	sort.SliceStable(items, func(i, j int) bool {
		return LessMedicine(items[i].Medicine, items[j].Medicine)
	})
}

// LessMedicine reports whether a sorts before b.
func LessMedicine(a, b string) bool {
	fa, fb := FoldKey(a), FoldKey(b)
	if fa != fb {
		return fa < fb
	}
	return a < b
}
