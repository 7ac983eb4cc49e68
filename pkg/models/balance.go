package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ParseBalance parses a non-negative integer amount in smallest token units.
func ParseBalance(raw string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: balance %q: %v", ErrInvalidEvent, raw, err)
	}
	if d.IsNegative() {
		return decimal.Zero, fmt.Errorf("%w: negative balance %s", ErrInvalidEvent, raw)
	}
	if !d.Equal(d.Truncate(0)) {
		return decimal.Zero, fmt.Errorf("%w: fractional balance %s", ErrInvalidEvent, raw)
	}
	return d, nil
}

// Tokens converts smallest units to whole tokens.
func Tokens(balance decimal.Decimal, decimals int32) decimal.Decimal {
	return balance.Shift(-decimals)
}

// ComputePoints returns tokens(balance) * rate * hours(d).
func ComputePoints(balance decimal.Decimal, decimals int32, rate float64, d time.Duration) float64 {
	if d <= 0 || balance.IsZero() {
		return 0
	}
	hours := decimal.NewFromInt(int64(d)).Div(decimal.NewFromInt(int64(time.Hour)))
	return Tokens(balance, decimals).
		Mul(decimal.NewFromFloat(rate)).
		Mul(hours).
		InexactFloat64()
}

// NormalizeTime strips monotonic readings and sub-microsecond precision so
// timestamps survive a Postgres round trip unchanged.
func NormalizeTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}
