package stock

import (
	"bytes"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/shopspring/decimal"
)

// Quantity is a medicine amount in hundredths of a unit. Counted medicines
// hold whole units; measured ones (solutions, oxygen, cotton) keep two
// decimal places. Stores persist the raw hundredths as an integer.
type Quantity int64

// Unit is one whole unit.
const Unit Quantity = 100

// Units returns n whole units.
func Units(n int64) Quantity { return Quantity(n) * Unit }

// QuantityOf converts a decimal amount, rounding half-up past two places.
func QuantityOf(d decimal.Decimal) Quantity {
	return Quantity(d.Shift(2).Round(0).IntPart())
}

// ParseQuantity reads decimal text such as "10", "10.5" or "0.25". Blank
// text is zero.
func ParseQuantity(s string) (Quantity, error) {
	if s == "" {
		return 0, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("stock: quantity %q: %w", s, err)
	}
	return QuantityOf(d), nil
}

// Decimal returns the amount in units.
func (q Quantity) Decimal() decimal.Decimal { return decimal.New(int64(q), -2) }

// Whole reports whether q is a whole number of units.
func (q Quantity) Whole() bool { return q%Unit == 0 }

// RoundUnits rounds q half-up to whole units.
func (q Quantity) RoundUnits() Quantity { return QuantityOf(q.Decimal().Round(0)) }

// String renders the amount without trailing zeros.
func (q Quantity) String() string { return q.Decimal().String() }

// MarshalJSON writes the amount as a JSON number in units.
func (q Quantity) MarshalJSON() ([]byte, error) {
	return []byte(q.String()), nil
}

// UnmarshalJSON accepts a JSON number, a decimal string or null.
func (q *Quantity) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*q = 0
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		b = []byte(s)
	}
	v, err := ParseQuantity(string(bytes.TrimSpace(b)))
	if err != nil {
		return err
	}
	*q = v
	return nil
}

// Value implements driver.Valuer.
func (q Quantity) Value() (driver.Value, error) { return int64(q), nil }

// Scan implements sql.Scanner over the stored hundredths.
func (q *Quantity) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*q = 0
	case int64:
		*q = Quantity(v)
	case float64:
		*q = Quantity(decimal.NewFromFloat(v).Round(0).IntPart())
	case []byte:
		return q.scanText(string(v))
	case string:
		return q.scanText(v)
	default:
		return fmt.Errorf("stock: cannot scan %T into Quantity", src)
	}
	return nil
}

func (q *Quantity) scanText(s string) error {
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		*q = Quantity(n)
		return nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return fmt.Errorf("stock: scan quantity %q: %w", s, err)
	}
	*q = Quantity(d.Round(0).IntPart())
	return nil
}
