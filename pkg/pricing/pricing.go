// Package pricing converts between display amounts and base units and derives
// slippage bounds for note inputs.
package pricing

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"

	"github.com/uhyunpark/noteswap/pkg/ledger"
)

var (
	ErrNegativeAmount = errors.New("amount is negative")
	ErrAmountTooLarge = errors.New("amount exceeds max asset amount")
	ErrNoPrice        = errors.New("price must be positive")
	ErrBadSlippage    = errors.New("slippage must be within [0, 100]")
)

var (
	hundred   = decimal.NewFromInt(100)
	maxAmount = fromUint64(ledger.MaxAssetAmount)
)

// ToBaseUnits scales a display amount by 10^decimals. Digits beyond the
// token's precision are dropped.
func ToBaseUnits(amount decimal.Decimal, decimals uint8) (uint64, error) {
	if amount.IsNegative() {
		return 0, ErrNegativeAmount
	}
	units := amount.Shift(int32(decimals)).Truncate(0)
	if units.GreaterThan(maxAmount) {
		return 0, fmt.Errorf("%w: %s", ErrAmountTooLarge, amount)
	}
	return units.BigInt().Uint64(), nil
}

// ParseAmount parses a display amount such as "1.5" into base units.
func ParseAmount(s string, decimals uint8) (uint64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("parse amount %q: %w", s, err)
	}
	return ToBaseUnits(d, decimals)
}

func FromBaseUnits(units uint64, decimals uint8) decimal.Decimal {
	return fromUint64(units).Shift(-int32(decimals))
}

// QuoteOut values amountIn at priceIn and expresses it in the output token
// at priceOut, rounded down to base units.
func QuoteOut(amountIn uint64, priceIn, priceOut decimal.Decimal, decIn, decOut uint8) (uint64, error) {
	if !priceIn.IsPositive() || !priceOut.IsPositive() {
		return 0, ErrNoPrice
	}
	value := FromBaseUnits(amountIn, decIn).Mul(priceIn)
	return ToBaseUnits(value.DivRound(priceOut, int32(decOut)+8), decOut)
}

// MinAmountOut is quote reduced by slippagePct percent, rounded down.
func MinAmountOut(quote uint64, slippagePct decimal.Decimal) (uint64, error) {
	if slippagePct.IsNegative() || slippagePct.GreaterThan(hundred) {
		return 0, fmt.Errorf("%w: %s", ErrBadSlippage, slippagePct)
	}
	keep := hundred.Sub(slippagePct).Div(hundred)
	return fromUint64(quote).Mul(keep).Floor().BigInt().Uint64(), nil
}

func fromUint64(v uint64) decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(v), 0)
}
