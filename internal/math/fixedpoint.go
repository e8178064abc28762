package math

import (
	"math/big"
	"sync"
)

// DecimalConfig defines fixed-point precision
type DecimalConfig struct {
	DecimalPrecision int   // Number of decimal places
	Scale            int64 // 10^DecimalPrecision
}

var (
	// Standard configs
	PriceConfig    = DecimalConfig{DecimalPrecision: 2, Scale: 100}       // 0.01
	QuantityConfig = DecimalConfig{DecimalPrecision: 6, Scale: 1_000_000} // 0.000001
	AmountConfig   = DecimalConfig{DecimalPrecision: 6, Scale: 1_000_000} // 0.000001, escrow balances and quote amounts
)

// Int128 is a pooled big.Int for intermediate calculations
var int128Pool = &sync.Pool{
	New: func() interface{} {
		return new(big.Int)
	},
}

func getInt128() *big.Int {
	return int128Pool.Get().(*big.Int)
}

func putInt128(v *big.Int) {
	v.SetInt64(0) // Clear before returning to pool
	int128Pool.Put(v)
}

// MultiplyInt128 performs a * b using int128 to prevent overflow
func MultiplyInt128(a, b int64) *big.Int {
	result := getInt128()
	result.Mul(big.NewInt(a), big.NewInt(b))
	return result
}

type RoundingMode int

const (
	RoundDown RoundingMode = iota // Truncate toward zero (default for settlement amounts)
	RoundHalfEven                 // Banker's rounding
	RoundUp
)

// DivideInt128 performs numerator / denominator with rounding.
// Numerators are non-negative in all settlement paths.
func DivideInt128(numerator *big.Int, denominator int64, roundingMode RoundingMode) int64 {
	denom := big.NewInt(denominator)
	quotient := getInt128()
	remainder := getInt128()

	quotient.DivMod(numerator, denom, remainder)

	result := quotient.Int64()

	switch roundingMode {
	case RoundHalfEven:
		half := big.NewInt(denominator / 2)
		cmp := remainder.Cmp(half)
		if cmp > 0 {
			result++
		} else if cmp == 0 && denominator%2 == 0 {
			// remainder == half and even denominator: round to even
			if result%2 != 0 {
				result++
			}
		}
	case RoundUp:
		if remainder.Sign() != 0 {
			result++
		}
	}

	putInt128(quotient)
	putInt128(remainder)

	return result
}

// QuoteAmount computes quantity * price converted to amount scale.
// Rounding is RoundDown: the quote owed is truncated, so settlement never
// credits more quote than the trade terms cover. A product that is exactly
// representable at amount scale converts without loss.
func QuoteAmount(quantity, price int64) int64 {
	return QuoteAmountWithScales(
		quantity, price,
		PriceConfig.Scale, QuantityConfig.Scale, AmountConfig.Scale,
	)
}

// QuoteAmountWithScales is the scale-explicit form of QuoteAmount.
func QuoteAmountWithScales(quantity, price, priceScale, qtyScale, amountScale int64) int64 {
	// raw = quantity * price
	raw := MultiplyInt128(quantity, price)

	// Convert to amount scale
	raw.Mul(raw, big.NewInt(amountScale))
	denominator := priceScale * qtyScale

	result := DivideInt128(raw, denominator, RoundDown)

	putInt128(raw)

	return result
}
