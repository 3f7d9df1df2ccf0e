package asset

import (
	"fmt"
	"math"
	"math/big"
)

// The canonical value unit is a 9-decimal fixed point. All stake weights
// and pot totals are expressed in it, regardless of the asset's own
// decimal precision.
const (
	ValueDecimals = 9
	ValueScale    = int64(1_000_000_000)
	MaxDecimals   = 12
)

var pow10 = [MaxDecimals + 1]int64{
	1, 10, 100, 1_000, 10_000, 100_000, 1_000_000,
	10_000_000, 100_000_000, 1_000_000_000,
	10_000_000_000, 100_000_000_000, 1_000_000_000_000,
}

// ToRawAmount converts a human-scale amount to the asset's smallest
// indivisible unit, rounding to the nearest unit. Amounts that collapse
// to zero raw units are rejected rather than silently rounded.
func ToRawAmount(a *Asset, human float64) (int64, error) {
	if human <= 0 || math.IsNaN(human) || math.IsInf(human, 0) {
		return 0, fmt.Errorf("%w: amount %v", ErrInvalidAmount, human)
	}

	raw := math.Round(human * float64(pow10[a.Decimals]))
	if raw <= 0 {
		return 0, fmt.Errorf("%w: %v %s converts to zero raw units", ErrInvalidAmount, human, a.Symbol)
	}
	if raw > float64(math.MaxInt64) {
		return 0, fmt.Errorf("%w: %v %s overflows raw amount", ErrInvalidAmount, human, a.Symbol)
	}
	return int64(raw), nil
}

// FromRawAmount converts raw units back to a human-scale amount.
func FromRawAmount(a *Asset, raw int64) float64 {
	return float64(raw) / float64(pow10[a.Decimals])
}

// Value converts a raw amount to the canonical value unit:
// raw normalized to ValueDecimals and weighted by the asset's UnitPrice.
// Uses int128 intermediates so scaling never overflows. A product that
// does not fit int64 yields 0, which callers reject as a zero-value stake.
func Value(a *Asset, raw int64) int64 {
	if raw <= 0 {
		return 0
	}

	num := new(big.Int).Mul(big.NewInt(raw), big.NewInt(a.UnitPrice))
	num.Mul(num, big.NewInt(pow10[ValueDecimals]))

	denom := new(big.Int).Mul(big.NewInt(pow10[a.Decimals]), big.NewInt(ValueScale))
	num.Quo(num, denom)
	if !num.IsInt64() {
		return 0
	}
	return num.Int64()
}
