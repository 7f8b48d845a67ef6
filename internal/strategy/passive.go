package strategy

import (
	"github.com/holiman/uint256"

	"alphavault/internal/liquidity"
	"alphavault/internal/pool"
	"alphavault/internal/tickmath"
)

// Passive is the inventory-balancing policy: a wide base order centered
// on the price plus a one-sided limit order on whichever side can
// absorb more of the vault's current balances. After the base order
// consumes equal value of both tokens, the limit order soaks up the
// surplus token, pushing inventory toward parity without a swap.
type Passive struct{}

func (Passive) Name() string { return "passive" }

func (Passive) ComputeRanges(tick, spacing int, balance0, balance1 *uint256.Int, p Params) (pool.Range, pool.Range, error) {
	floor := tickmath.Floor(tick, spacing)
	ceil := floor + spacing

	base := pool.Range{Lower: floor - p.BaseThreshold, Upper: ceil + p.BaseThreshold}
	bid := pool.Range{Lower: floor - p.LimitThreshold, Upper: floor}
	ask := pool.Range{Lower: ceil, Upper: ceil + p.LimitThreshold}

	bidLiquidity, err := rangeLiquidity(bid, tick, balance0, balance1)
	if err != nil {
		return pool.Range{}, pool.Range{}, err
	}
	askLiquidity, err := rangeLiquidity(ask, tick, balance0, balance1)
	if err != nil {
		return pool.Range{}, pool.Range{}, err
	}

	// Bid wins ties.
	limit := bid
	if askLiquidity.Cmp(bidLiquidity) > 0 {
		limit = ask
	}
	return base, limit, nil
}

// rangeLiquidity computes the liquidity obtained by deploying the whole
// balance into r at the current tick.
func rangeLiquidity(r pool.Range, tick int, balance0, balance1 *uint256.Int) (*uint256.Int, error) {
	mid, err := tickmath.GetSqrtRatioAtTick(tick)
	if err != nil {
		return nil, err
	}
	lower, err := tickmath.GetSqrtRatioAtTick(r.Lower)
	if err != nil {
		return nil, err
	}
	upper, err := tickmath.GetSqrtRatioAtTick(r.Upper)
	if err != nil {
		return nil, err
	}
	return liquidity.ForAmounts(mid, lower, upper, balance0, balance1)
}
