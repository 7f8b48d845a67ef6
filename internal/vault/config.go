package vault

import (
	"fmt"

	"github.com/holiman/uint256"
)

// feeDenominator scales the parts-per-million fee rates.
const feeDenominator = 1_000_000

// Config holds every tunable vault parameter. It is replaced wholesale
// through UpdateConfig so cross-field invariants are re-checked
// atomically rather than drifting through individual setters.
type Config struct {
	// BaseThreshold is the half-width of the base order in ticks.
	BaseThreshold int
	// LimitThreshold is the width of the one-sided limit order in ticks.
	LimitThreshold int
	// MaxTwapDeviation bounds |current tick - twap| during a rebalance.
	MaxTwapDeviation int
	// TwapDuration is the TWAP lookback in seconds. Zero disables the
	// deviation check.
	TwapDuration int64
	// RebalanceCooldown is the minimum time between rebalances, seconds.
	RebalanceCooldown int64
	// MaxTotalSupply caps total shares. Nil or zero means uncapped.
	MaxTotalSupply *uint256.Int
	// ProtocolFeeRate is the protocol's cut of collected swap fees, ppm.
	ProtocolFeeRate uint64
	// StreamingFeeRate is an annualized fee on vault TVL, ppm per year.
	StreamingFeeRate uint64
	// DepositFeeRate is charged on deposited amounts, ppm.
	DepositFeeRate uint64
}

// Validate checks every cross-field invariant against the pool's tick
// spacing.
func (c Config) Validate(tickSpacing int) error {
	if tickSpacing <= 0 {
		return fmt.Errorf("vault: tick spacing must be positive, got %d", tickSpacing)
	}
	if c.BaseThreshold <= 0 || c.BaseThreshold%tickSpacing != 0 {
		return fmt.Errorf("vault: baseThreshold %d must be a positive multiple of tick spacing %d", c.BaseThreshold, tickSpacing)
	}
	if c.LimitThreshold <= 0 || c.LimitThreshold%tickSpacing != 0 {
		return fmt.Errorf("vault: limitThreshold %d must be a positive multiple of tick spacing %d", c.LimitThreshold, tickSpacing)
	}
	if c.MaxTwapDeviation < 0 {
		return fmt.Errorf("vault: maxTwapDeviation must be >= 0, got %d", c.MaxTwapDeviation)
	}
	if c.TwapDuration < 0 {
		return fmt.Errorf("vault: twapDuration must be >= 0, got %d", c.TwapDuration)
	}
	if c.RebalanceCooldown < 0 {
		return fmt.Errorf("vault: rebalanceCooldown must be >= 0, got %d", c.RebalanceCooldown)
	}
	if c.ProtocolFeeRate >= feeDenominator {
		return fmt.Errorf("vault: protocolFeeRate %d must be below %d", c.ProtocolFeeRate, feeDenominator)
	}
	if c.StreamingFeeRate >= feeDenominator {
		return fmt.Errorf("vault: streamingFeeRate %d must be below %d", c.StreamingFeeRate, feeDenominator)
	}
	if c.DepositFeeRate >= feeDenominator {
		return fmt.Errorf("vault: depositFeeRate %d must be below %d", c.DepositFeeRate, feeDenominator)
	}
	return nil
}

func (c Config) maxThreshold() int {
	if c.BaseThreshold > c.LimitThreshold {
		return c.BaseThreshold
	}
	return c.LimitThreshold
}

func (c Config) supplyCapped() bool {
	return c.MaxTotalSupply != nil && !c.MaxTotalSupply.IsZero()
}
