package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Cents is an amount in the currency's minor unit.
type Cents int64

// CentsFromDecimal converts a major-unit decimal (25.00) into minor units (2500).
func CentsFromDecimal(d decimal.Decimal) Cents {
	return Cents(d.Shift(2).Round(0).IntPart())
}

func (c Cents) Decimal() decimal.Decimal {
	return decimal.New(int64(c), -2)
}

func (c Cents) String() string {
	return c.Decimal().StringFixed(2)
}

func (c Cents) MarshalJSON() ([]byte, error) {
	return []byte(c.String()), nil
}

func (c *Cents) UnmarshalJSON(data []byte) error {
	var d decimal.Decimal
	if err := d.UnmarshalJSON(data); err != nil {
		return fmt.Errorf("parse amount: %w", err)
	}
	*c = CentsFromDecimal(d)
	return nil
}
