package domain

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// Money is an amount in minor currency units (pence, cents).
type Money int64

// Decimal returns the amount in major units.
func (m Money) Decimal() decimal.Decimal {
	return decimal.New(int64(m), -2)
}

// String formats the amount in major units with two decimal places.
func (m Money) String() string {
	return m.Decimal().StringFixed(2)
}

// Abs returns the absolute value.
func (m Money) Abs() Money {
	if m < 0 {
		return -m
	}
	return m
}

// MoneyFromDecimal rounds a major-unit decimal to the nearest minor unit.
func MoneyFromDecimal(d decimal.Decimal) Money {
	return Money(d.Shift(2).Round(0).IntPart())
}

// NullMoney is a Money that may be absent.
type NullMoney struct {
	Amount Money
	Valid  bool
}

// SomeMoney returns a present NullMoney.
func SomeMoney(m Money) NullMoney {
	return NullMoney{Amount: m, Valid: true}
}

// String formats a present amount like Money.String and an absent one as "".
func (n NullMoney) String() string {
	if !n.Valid {
		return ""
	}
	return n.Amount.String()
}

// MarshalJSON encodes the amount as an integer, or null when absent.
func (n NullMoney) MarshalJSON() ([]byte, error) {
	if !n.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(int64(n.Amount))
}

// UnmarshalJSON decodes an integer or null.
func (n *NullMoney) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*n = NullMoney{}
		return nil
	}
	var v int64
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("decoding minor-unit amount: %w", err)
	}
	*n = SomeMoney(Money(v))
	return nil
}
