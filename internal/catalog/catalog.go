// Package catalog lists the medicines carried by the fleet and formats their
// quantities.
package catalog

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/fleetmed/medsync/internal/stock"
)

// ErrInvalidQuantity indicates a quantity that cannot be parsed or is negative.
var ErrInvalidQuantity = errors.New("catalog: invalid quantity")

// defaultMedicines is the standard vehicle kit.
var defaultMedicines = []string{
	"Tab. Paracetamol 500 mg",
	"Tab. Aspirin 300 mg",
	"Tab. Ondansetron 4 mg",
	"Tab. Cetirizine 10 mg",
	"Inj. Adrenaline 1 mg",
	"Inj. Diclofenac 75 mg",
	"Inj. Hydrocortisone 100 mg",
	"Inj. Tramadol 50 mg",
	"Inj. Ondansetron 4 mg",
	"IV Normal Saline 500 ml",
	"IV Ringer Lactate 500 ml",
	"Salbutamol Nebuliser 2.5 mg",
	"ORS Sachet",
	"Povidone Iodine Solution",
	"Oxygen",
	"Crepe Bandage",
	"Cotton Roll",
	"Surgical Gloves",
}

// defaultFractional are measured rather than counted and display two decimals.
var defaultFractional = []string{
	"Povidone Iodine Solution",
	"Oxygen",
	"Cotton Roll",
}

// Catalog is an immutable medicine list.
type Catalog struct {
	medicines  []string
	fractional map[string]struct{}
}

// Default returns the standard kit catalogue.
func Default() *Catalog {
	return New(defaultMedicines, defaultFractional)
}

// New builds a catalogue. fractional names not present in medicines are still
// honoured for formatting.
func New(medicines, fractional []string) *Catalog {
	c := &Catalog{fractional: make(map[string]struct{}, len(fractional))}
	seen := make(map[string]struct{}, len(medicines))
	for _, m := range medicines {
		m = strings.TrimSpace(m)
		if m == "" {
			continue
		}
		key := stock.FoldKey(m)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		c.medicines = append(c.medicines, m)
	}
	for _, f := range fractional {
		c.fractional[stock.FoldKey(strings.TrimSpace(f))] = struct{}{}
	}
	return c
}

// Medicines returns a copy of the medicine names in catalogue order.
func (c *Catalog) Medicines() []string {
	out := make([]string, len(c.medicines))
	copy(out, c.medicines)
	return out
}

// IsFractional reports whether name is displayed with two decimal places.
func (c *Catalog) IsFractional(name string) bool {
	if c == nil {
		return false
	}
	_, ok := c.fractional[stock.FoldKey(strings.TrimSpace(name))]
	return ok
}

// Format renders qty for display and export.
func (c *Catalog) Format(name string, qty stock.Quantity) string {
	if c.IsFractional(name) {
		return qty.Decimal().StringFixed(2)
	}
	return qty.String()
}

// Parse reads a quantity for name. Fractional medicines keep two decimal
// places; counted ones are rounded half-up to whole units. Blank text is zero.
func (c *Catalog) Parse(name, text string) (stock.Quantity, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return 0, nil
	}
	d, err := decimal.NewFromString(text)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidQuantity, text)
	}
	if d.IsNegative() {
		return 0, fmt.Errorf("%w: %q is negative", ErrInvalidQuantity, text)
	}
	qty := stock.QuantityOf(d)
	if !c.IsFractional(name) {
		qty = qty.RoundUnits()
	}
	return qty, nil
}
