package fullmath

import (
	"errors"

	"github.com/holiman/uint256"
)

var (
	// ErrOverflow is returned when a product does not fit in 256 bits
	// after division.
	ErrOverflow = errors.New("fullmath: overflow")
	// ErrDivZero is returned on division by zero.
	ErrDivZero = errors.New("fullmath: division by zero")

	one        = uint256.NewInt(1)
	maxUint256 = new(uint256.Int).Not(uint256.NewInt(0))
)

// MulDiv computes floor(a * b / denominator) with full 512-bit
// intermediate precision.
func MulDiv(a, b, denominator *uint256.Int) (*uint256.Int, error) {
	if denominator.IsZero() {
		return nil, ErrDivZero
	}
	result, overflow := new(uint256.Int).MulDivOverflow(a, b, denominator)
	if overflow {
		return nil, ErrOverflow
	}
	return result, nil
}

// MulDivRoundingUp computes ceil(a * b / denominator) with full 512-bit
// intermediate precision.
func MulDivRoundingUp(a, b, denominator *uint256.Int) (*uint256.Int, error) {
	result, err := MulDiv(a, b, denominator)
	if err != nil {
		return nil, err
	}
	rem := new(uint256.Int).MulMod(a, b, denominator)
	if !rem.IsZero() {
		if result.Eq(maxUint256) {
			return nil, ErrOverflow
		}
		result.Add(result, one)
	}
	return result, nil
}

// DivRoundingUp computes ceil(a / b). b must be nonzero.
func DivRoundingUp(a, b *uint256.Int) *uint256.Int {
	quot := new(uint256.Int).Div(a, b)
	rem := new(uint256.Int).Mod(a, b)
	if !rem.IsZero() {
		quot.Add(quot, one)
	}
	return quot
}
