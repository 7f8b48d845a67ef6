package strategy

import (
	"errors"

	"github.com/holiman/uint256"

	"alphavault/internal/pool"
	"alphavault/internal/tickmath"
)

// ErrEqualRanges is returned when a policy would place both orders on
// the same range, which would merge their pool positions.
var ErrEqualRanges = errors.New("strategy: base and limit ranges are equal")

// Symmetric places both orders centered on the price: a wide base order
// and a narrower inner order. It does not skew inventory; the two
// thresholds must differ or the orders would collide.
type Symmetric struct{}

func (Symmetric) Name() string { return "symmetric" }

func (Symmetric) ComputeRanges(tick, spacing int, _, _ *uint256.Int, p Params) (pool.Range, pool.Range, error) {
	floor := tickmath.Floor(tick, spacing)
	ceil := floor + spacing

	base := pool.Range{Lower: floor - p.BaseThreshold, Upper: ceil + p.BaseThreshold}
	limit := pool.Range{Lower: floor - p.LimitThreshold, Upper: ceil + p.LimitThreshold}
	if base == limit {
		return pool.Range{}, pool.Range{}, ErrEqualRanges
	}
	return base, limit, nil
}
