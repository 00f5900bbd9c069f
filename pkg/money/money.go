// Package money converts between decimal amounts at the API edge and the
// integer cents stored everywhere else.
package money

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// ParseCents converts "12.50" into 1250. More than two decimal places is an error.
func ParseCents(value string) (int64, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, fmt.Errorf("amount required")
	}
	d, err := decimal.NewFromString(value)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q", value)
	}
	return fromDecimal(d)
}

// FormatCents renders 1250 as "12.50".
func FormatCents(cents int64) string {
	return decimal.NewFromInt(cents).Shift(-2).StringFixed(2)
}

func fromDecimal(d decimal.Decimal) (int64, error) {
	cents := d.Shift(2)
	if !cents.IsInteger() {
		return 0, fmt.Errorf("amount %s has more than two decimal places", d.String())
	}
	return cents.IntPart(), nil
}

// Amount is a cents value that reads and writes JSON as a decimal amount.
// Both 12.5 and "12.50" decode to 1250.
type Amount int64

func (a Amount) Cents() int64 {
	return int64(a)
}

func (a Amount) String() string {
	return FormatCents(int64(a))
}

func (a Amount) MarshalJSON() ([]byte, error) {
	return []byte(`"` + a.String() + `"`), nil
}

func (a *Amount) UnmarshalJSON(data []byte) error {
	var d decimal.Decimal
	if err := d.UnmarshalJSON(data); err != nil {
		return fmt.Errorf("invalid amount: %w", err)
	}
	cents, err := fromDecimal(d)
	if err != nil {
		return err
	}
	*a = Amount(cents)
	return nil
}
