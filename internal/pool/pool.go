// Package pool defines the vault's view of a concentrated-liquidity
// AMM pool and provides an in-memory implementation for simulation
// and tests.
package pool

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Range is a tick range. Both bounds are multiples of the pool's tick
// spacing and Lower < Upper for any live position.
type Range struct {
	Lower int `json:"lower"`
	Upper int `json:"upper"`
}

// IsZero reports whether the range is the unset zero value.
func (r Range) IsZero() bool {
	return r.Lower == 0 && r.Upper == 0
}

// Width returns the tick width of the range.
func (r Range) Width() int {
	return r.Upper - r.Lower
}

// Token is the minimal ERC20-like surface the vault needs.
type Token interface {
	Address() common.Address
	BalanceOf(owner common.Address) *uint256.Int
	Transfer(from, to common.Address, amount *uint256.Int) error
}

// PayFunc settles the token amounts owed for a mint. It is invoked
// synchronously while the pool processes the mint, so the caller must
// hold any locks it needs across the whole Mint call.
type PayFunc func(amount0, amount1 *uint256.Int) error

// Accessor is the pool surface consumed by the vault core.
type Accessor interface {
	// Slot0 returns the current sqrt price (Q64.96) and tick.
	Slot0() (*uint256.Int, int)
	TickSpacing() int
	Address() common.Address
	Token0() Token
	Token1() Token

	// Mint adds liquidity to owner's position over r. The owed token
	// amounts are collected through pay before the liquidity is
	// credited.
	Mint(owner common.Address, r Range, liquidity *uint256.Int, pay PayFunc) (amount0, amount1 *uint256.Int, err error)

	// Burn removes liquidity from owner's position over r and credits
	// the principal amounts as owed. Burning zero liquidity is a poke
	// that leaves the position unchanged.
	Burn(owner common.Address, r Range, liquidity *uint256.Int) (amount0, amount1 *uint256.Int, err error)

	// Collect transfers up to (max0, max1) of owner's owed tokens over
	// r to recipient and returns the collected amounts.
	Collect(owner, recipient common.Address, r Range, max0, max1 *uint256.Int) (collected0, collected1 *uint256.Int, err error)

	// PositionLiquidity returns the liquidity of owner's position over r.
	PositionLiquidity(owner common.Address, r Range) *uint256.Int

	// PositionOwed returns the uncollected token amounts of owner's
	// position over r, including accrued fees.
	PositionOwed(owner common.Address, r Range) (owed0, owed1 *uint256.Int)

	// TwapTick returns the time-weighted average tick over the last
	// secondsAgo seconds. Zero means the current tick.
	TwapTick(secondsAgo int64) (int, error)
}
