package vault

import "errors"

// Input and accounting errors. All are returned before any state is
// mutated, so a failed call leaves the vault exactly as it was.
var (
	ErrZeroRecipient = errors.New("vault: zero recipient address")
	ErrZeroShares    = errors.New("vault: computed shares are zero")
	ErrSlippage      = errors.New("vault: amount below caller minimum")
	ErrSupplyCap     = errors.New("vault: total supply cap exceeded")
	ErrInsufficient  = errors.New("vault: insufficient share balance")
	ErrOverflow      = errors.New("vault: arithmetic overflow")
)

// Safety gate errors. Any of these aborts a rebalance before liquidity
// is touched.
var (
	ErrPriceTooLow      = errors.New("vault: price too close to min tick")
	ErrPriceTooHigh     = errors.New("vault: price too close to max tick")
	ErrTwapDeviation    = errors.New("vault: price deviates too far from twap")
	ErrCooldown         = errors.New("vault: rebalance cooldown not elapsed")
	ErrNotKeeper        = errors.New("vault: caller is not the keeper")
	ErrRangeCollision   = errors.New("vault: base range collides with limit range")
)

// Access control errors.
var (
	ErrNotGovernance        = errors.New("vault: caller is not governance")
	ErrNotPendingGovernance = errors.New("vault: caller is not pending governance")
	ErrFinalized            = errors.New("vault: emergency powers disabled by finalize")
)
