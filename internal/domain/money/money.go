// Package money holds the fixed-point amount conventions shared by the
// ledger, the escrow state machine and the payment gateway client.
// Amounts carry 7 fractional digits, the payment network's minimum unit.
package money

import (
	"errors"
	"strings"

	"github.com/shopspring/decimal"
)

const Scale = 7

var (
	ErrInvalidAmount     = errors.New("invalid amount")
	ErrNonPositiveAmount = errors.New("amount must be positive")
)

var Zero = decimal.Zero

// Parse reads a caller-supplied amount string. Amounts with more than
// Scale fractional digits are rejected rather than silently rounded.
func Parse(raw string) (decimal.Decimal, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return decimal.Decimal{}, ErrInvalidAmount
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Decimal{}, ErrInvalidAmount
	}
	if d.Exponent() < -Scale {
		return decimal.Decimal{}, ErrInvalidAmount
	}
	return d, nil
}

// ParsePositive is Parse plus the amount > 0 guard shared by every
// ledger mutation and payout.
func ParsePositive(raw string) (decimal.Decimal, error) {
	d, err := Parse(raw)
	if err != nil {
		return decimal.Decimal{}, err
	}
	if !d.IsPositive() {
		return decimal.Decimal{}, ErrNonPositiveAmount
	}
	return d, nil
}

// Format renders an amount as a fixed-7-decimal string, the only wire
// representation the payment network accepts.
func Format(d decimal.Decimal) string {
	return d.StringFixed(Scale)
}
