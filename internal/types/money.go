// README: Common money value object used across modules.
package types

import (
	"errors"
	"fmt"
)

var ErrCurrencyMismatch = errors.New("currency mismatch")

// Money is an amount in minor units (cents, paise) with its currency code.
// An empty currency is unspecified and takes on the other operand's.
type Money struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

// SameCurrency reports whether m and o can be combined.
func (m Money) SameCurrency(o Money) bool {
	return m.Currency == "" || o.Currency == "" || m.Currency == o.Currency
}

func (m Money) Add(o Money) (Money, error) {
	if !m.SameCurrency(o) {
		return Money{}, fmt.Errorf("%w: %s + %s", ErrCurrencyMismatch, m.Currency, o.Currency)
	}
	cur := m.Currency
	if cur == "" {
		cur = o.Currency
	}
	return Money{Amount: m.Amount + o.Amount, Currency: cur}, nil
}

// Covers reports whether m pays for o in full. Amounts in different
// currencies never cover each other.
func (m Money) Covers(o Money) bool {
	return m.SameCurrency(o) && m.Amount >= o.Amount
}
