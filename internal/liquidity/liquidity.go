// Package liquidity converts between token amounts and pool liquidity
// for a price range, following the Uniswap V3 LiquidityAmounts and
// SqrtPriceMath libraries.
package liquidity

import (
	"errors"

	"github.com/holiman/uint256"

	"alphavault/internal/fullmath"
)

var (
	// Q96 is 2^96, the fixed-point scale of sqrt prices.
	Q96 = new(uint256.Int).Lsh(uint256.NewInt(1), 96)

	// MaxUint128 bounds the liquidity type.
	MaxUint128 = new(uint256.Int).SubUint64(new(uint256.Int).Lsh(uint256.NewInt(1), 128), 1)

	// ErrLiquidityOverflow is returned when a computed liquidity value
	// does not fit in 128 bits.
	ErrLiquidityOverflow = errors.New("liquidity: exceeds uint128")
)

func sortRatios(a, b *uint256.Int) (*uint256.Int, *uint256.Int) {
	if a.Cmp(b) > 0 {
		return b, a
	}
	return a, b
}

// ForAmount0 computes the liquidity obtained by providing amount0 of
// token0 over the price range [a, b].
func ForAmount0(sqrtRatioAX96, sqrtRatioBX96, amount0 *uint256.Int) (*uint256.Int, error) {
	sqrtRatioAX96, sqrtRatioBX96 = sortRatios(sqrtRatioAX96, sqrtRatioBX96)
	intermediate, err := fullmath.MulDiv(sqrtRatioAX96, sqrtRatioBX96, Q96)
	if err != nil {
		return nil, err
	}
	diff := new(uint256.Int).Sub(sqrtRatioBX96, sqrtRatioAX96)
	return fullmath.MulDiv(amount0, intermediate, diff)
}

// ForAmount1 computes the liquidity obtained by providing amount1 of
// token1 over the price range [a, b].
func ForAmount1(sqrtRatioAX96, sqrtRatioBX96, amount1 *uint256.Int) (*uint256.Int, error) {
	sqrtRatioAX96, sqrtRatioBX96 = sortRatios(sqrtRatioAX96, sqrtRatioBX96)
	diff := new(uint256.Int).Sub(sqrtRatioBX96, sqrtRatioAX96)
	return fullmath.MulDiv(amount1, Q96, diff)
}

// ForAmounts computes the maximum liquidity obtainable from amount0 and
// amount1 over [a, b] at the current price.
func ForAmounts(sqrtRatioX96, sqrtRatioAX96, sqrtRatioBX96, amount0, amount1 *uint256.Int) (*uint256.Int, error) {
	sqrtRatioAX96, sqrtRatioBX96 = sortRatios(sqrtRatioAX96, sqrtRatioBX96)
	switch {
	case sqrtRatioX96.Cmp(sqrtRatioAX96) <= 0:
		return ForAmount0(sqrtRatioAX96, sqrtRatioBX96, amount0)
	case sqrtRatioX96.Cmp(sqrtRatioBX96) < 0:
		liquidity0, err := ForAmount0(sqrtRatioX96, sqrtRatioBX96, amount0)
		if err != nil {
			return nil, err
		}
		liquidity1, err := ForAmount1(sqrtRatioAX96, sqrtRatioX96, amount1)
		if err != nil {
			return nil, err
		}
		if liquidity0.Cmp(liquidity1) < 0 {
			return liquidity0, nil
		}
		return liquidity1, nil
	default:
		return ForAmount1(sqrtRatioAX96, sqrtRatioBX96, amount1)
	}
}

// Amount0Delta returns the amount of token0 covering liquidity over
// [a, b], rounding up when roundUp is set.
func Amount0Delta(sqrtRatioAX96, sqrtRatioBX96, liquidity *uint256.Int, roundUp bool) (*uint256.Int, error) {
	sqrtRatioAX96, sqrtRatioBX96 = sortRatios(sqrtRatioAX96, sqrtRatioBX96)
	if sqrtRatioAX96.IsZero() {
		return nil, fullmath.ErrDivZero
	}
	numerator1 := new(uint256.Int).Lsh(liquidity, 96)
	numerator2 := new(uint256.Int).Sub(sqrtRatioBX96, sqrtRatioAX96)

	if roundUp {
		inner, err := fullmath.MulDivRoundingUp(numerator1, numerator2, sqrtRatioBX96)
		if err != nil {
			return nil, err
		}
		return fullmath.DivRoundingUp(inner, sqrtRatioAX96), nil
	}
	inner, err := fullmath.MulDiv(numerator1, numerator2, sqrtRatioBX96)
	if err != nil {
		return nil, err
	}
	return inner.Div(inner, sqrtRatioAX96), nil
}

// Amount1Delta returns the amount of token1 covering liquidity over
// [a, b], rounding up when roundUp is set.
func Amount1Delta(sqrtRatioAX96, sqrtRatioBX96, liquidity *uint256.Int, roundUp bool) (*uint256.Int, error) {
	sqrtRatioAX96, sqrtRatioBX96 = sortRatios(sqrtRatioAX96, sqrtRatioBX96)
	diff := new(uint256.Int).Sub(sqrtRatioBX96, sqrtRatioAX96)
	if roundUp {
		return fullmath.MulDivRoundingUp(liquidity, diff, Q96)
	}
	return fullmath.MulDiv(liquidity, diff, Q96)
}

// AmountsForLiquidity returns the token amounts represented by
// liquidity over [a, b] at the current price, rounded down.
func AmountsForLiquidity(sqrtRatioX96, sqrtRatioAX96, sqrtRatioBX96, liquidity *uint256.Int) (amount0, amount1 *uint256.Int, err error) {
	sqrtRatioAX96, sqrtRatioBX96 = sortRatios(sqrtRatioAX96, sqrtRatioBX96)
	amount0 = new(uint256.Int)
	amount1 = new(uint256.Int)
	switch {
	case sqrtRatioX96.Cmp(sqrtRatioAX96) <= 0:
		amount0, err = Amount0Delta(sqrtRatioAX96, sqrtRatioBX96, liquidity, false)
	case sqrtRatioX96.Cmp(sqrtRatioBX96) < 0:
		amount0, err = Amount0Delta(sqrtRatioX96, sqrtRatioBX96, liquidity, false)
		if err != nil {
			return nil, nil, err
		}
		amount1, err = Amount1Delta(sqrtRatioAX96, sqrtRatioX96, liquidity, false)
	default:
		amount1, err = Amount1Delta(sqrtRatioAX96, sqrtRatioBX96, liquidity, false)
	}
	if err != nil {
		return nil, nil, err
	}
	return amount0, amount1, nil
}

// CheckUint128 rejects liquidity values that do not fit the pool's
// 128-bit liquidity type. Truncating here would misallocate funds.
func CheckUint128(liquidity *uint256.Int) error {
	if liquidity.Cmp(MaxUint128) > 0 {
		return ErrLiquidityOverflow
	}
	return nil
}
