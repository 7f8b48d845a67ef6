// Package strategy computes the vault's target tick ranges. Policies
// are injected into the vault at construction so range selection can
// change without touching share accounting.
package strategy

import (
	"github.com/holiman/uint256"

	"alphavault/internal/pool"
)

// Params are the range-width knobs a policy works with, in ticks. Both
// must be positive multiples of the pool's tick spacing.
type Params struct {
	BaseThreshold  int
	LimitThreshold int
}

// RangeStrategy selects the base and limit order ranges for a
// rebalance, given the current tick and the vault's free balances.
type RangeStrategy interface {
	Name() string
	ComputeRanges(tick, spacing int, balance0, balance1 *uint256.Int, p Params) (base, limit pool.Range, err error)
}
