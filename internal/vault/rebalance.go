package vault

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"alphavault/internal/model"
	"alphavault/internal/pool"
	"alphavault/internal/strategy"
	"alphavault/internal/tickmath"
)

const secondsPerYear = 365 * 24 * 3600

// streamingFeeCapPPM bounds how much of the vault balance a single
// rebalance may skim as streaming fee, whatever the elapsed time.
const streamingFeeCapPPM = 100_000

// Rebalance exits both positions, sweeps accrued fees (taking the
// protocol cut), and redeploys the vault's balance into fresh base and
// limit ranges around the current price. Caller must be the keeper (or
// governance) when a keeper is set; a zero keeper makes the operation
// permissionless.
func (v *Vault) Rebalance(caller common.Address) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.keeper != (common.Address{}) && caller != v.keeper && caller != v.governance {
		return ErrNotKeeper
	}

	now := v.Now()
	if v.lastRebalance != 0 && now < v.lastRebalance+v.cfg.RebalanceCooldown {
		return fmt.Errorf("%w: %ds remaining", ErrCooldown, v.lastRebalance+v.cfg.RebalanceCooldown-now)
	}

	_, tick := v.pool.Slot0()
	spacing := v.pool.TickSpacing()

	twap, err := v.twapTick(tick)
	if err != nil {
		return err
	}
	if err := CheckGate(v.cfg, spacing, tick, twap); err != nil {
		return err
	}

	if err := v.exitPositions(); err != nil {
		return err
	}
	v.accrueStreamingFee(now)

	balance0, balance1 := v.freeBalances()
	base, limit, err := v.strat.ComputeRanges(tick, spacing, balance0, balance1, strategy.Params{
		BaseThreshold:  v.cfg.BaseThreshold,
		LimitThreshold: v.cfg.LimitThreshold,
	})
	if err != nil {
		return err
	}
	if base == limit {
		return ErrRangeCollision
	}
	if err := v.checkRange(base); err != nil {
		return err
	}
	if err := v.checkRange(limit); err != nil {
		return err
	}

	v.baseRange = base
	v.limitRange = limit

	if err := v.mintMaxIntoRange(base); err != nil {
		return err
	}
	if err := v.mintMaxIntoRange(limit); err != nil {
		return err
	}

	v.lastRebalance = now
	v.lastTick = tick

	total0, total1, err := v.totalAmounts()
	if err != nil {
		return err
	}
	v.record(model.EventSnapshot, model.SnapshotEvent{
		Tick:         tick,
		TotalAmount0: total0.String(),
		TotalAmount1: total1.String(),
		TotalShares:  v.totalShares.String(),
		BaseLower:    base.Lower,
		BaseUpper:    base.Upper,
		LimitLower:   limit.Lower,
		LimitUpper:   limit.Upper,
	})
	v.logger.Info("rebalanced",
		zap.Int("tick", tick),
		zap.Int("base_lower", base.Lower),
		zap.Int("base_upper", base.Upper),
		zap.Int("limit_lower", limit.Lower),
		zap.Int("limit_upper", limit.Upper),
		zap.String("total0", total0.String()),
		zap.String("total1", total1.String()),
	)
	return nil
}

// CheckGate evaluates the price and TWAP safety conditions for a
// prospective rebalance. The price must sit far enough from the tick
// bounds for the widest range to fit, and the spot tick must not
// deviate too far from the time-weighted average, a sign of
// manipulation or a flash move the vault should sit out. twapTick is
// ignored when the TWAP check is disabled.
func CheckGate(cfg Config, spacing, tick, twapTick int) error {
	max := cfg.maxThreshold()
	if tick <= tickmath.MinTick+max+spacing {
		return fmt.Errorf("%w: tick %d", ErrPriceTooLow, tick)
	}
	if tick >= tickmath.MaxTick-max-spacing {
		return fmt.Errorf("%w: tick %d", ErrPriceTooHigh, tick)
	}
	if cfg.TwapDuration == 0 {
		return nil
	}
	dev := tick - twapTick
	if dev < 0 {
		dev = -dev
	}
	if dev > cfg.MaxTwapDeviation {
		return fmt.Errorf("%w: spot %d vs twap %d", ErrTwapDeviation, tick, twapTick)
	}
	return nil
}

// twapTick reads the pool TWAP when the deviation check is enabled,
// falling back to the spot tick otherwise.
func (v *Vault) twapTick(tick int) (int, error) {
	if v.cfg.TwapDuration == 0 {
		return tick, nil
	}
	return v.pool.TwapTick(v.cfg.TwapDuration)
}

// exitPositions burns all liquidity from both positions and collects
// everything owed back into the vault, crediting the protocol its cut
// of the accrued fees.
func (v *Vault) exitPositions() error {
	for _, r := range []pool.Range{v.baseRange, v.limitRange} {
		if r.IsZero() {
			continue
		}
		// Owed before the burn is pure fees; the burn adds principal.
		fees0, fees1 := v.pool.PositionOwed(v.addr, r)

		liq := v.pool.PositionLiquidity(v.addr, r)
		if !liq.IsZero() {
			if _, _, err := v.pool.Burn(v.addr, r, liq); err != nil {
				return err
			}
		}
		owed0, owed1 := v.pool.PositionOwed(v.addr, r)
		if owed0.IsZero() && owed1.IsZero() && fees0.IsZero() && fees1.IsZero() {
			continue
		}
		if _, _, err := v.pool.Collect(v.addr, v.addr, r, owed0, owed1); err != nil {
			return err
		}

		cut0 := mulRate(fees0, v.cfg.ProtocolFeeRate)
		cut1 := mulRate(fees1, v.cfg.ProtocolFeeRate)
		v.protocolFees0.Add(v.protocolFees0, cut0)
		v.protocolFees1.Add(v.protocolFees1, cut1)

		v.record(model.EventCollectFees, model.CollectFeesEvent{
			TickLower:       r.Lower,
			TickUpper:       r.Upper,
			FeesFromPool0:   fees0.String(),
			FeesFromPool1:   fees1.String(),
			FeesToProtocol0: cut0.String(),
			FeesToProtocol1: cut1.String(),
		})
	}
	return nil
}

// accrueStreamingFee charges the time-based management fee on the
// vault's free balance, capped per rebalance.
func (v *Vault) accrueStreamingFee(now int64) {
	if v.cfg.StreamingFeeRate == 0 || v.lastRebalance == 0 {
		return
	}
	elapsed := now - v.lastRebalance
	if elapsed <= 0 {
		return
	}
	// ratePPM scaled by elapsed/year, capped so a stale vault cannot
	// be drained by one call.
	scaled := v.cfg.StreamingFeeRate * uint64(elapsed) / secondsPerYear
	if scaled > streamingFeeCapPPM {
		scaled = streamingFeeCapPPM
	}
	if scaled == 0 {
		return
	}
	free0, free1 := v.freeBalances()
	v.protocolFees0.Add(v.protocolFees0, mulRate(free0, scaled))
	v.protocolFees1.Add(v.protocolFees1, mulRate(free1, scaled))
}

// CanRebalance reports whether a rebalance would currently pass the
// safety gate, without mutating anything. Used by keepers to poll.
func (v *Vault) CanRebalance(caller common.Address) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.keeper != (common.Address{}) && caller != v.keeper && caller != v.governance {
		return ErrNotKeeper
	}
	now := v.Now()
	if v.lastRebalance != 0 && now < v.lastRebalance+v.cfg.RebalanceCooldown {
		return ErrCooldown
	}
	_, tick := v.pool.Slot0()
	spacing := v.pool.TickSpacing()
	twap, err := v.twapTick(tick)
	if err != nil {
		return err
	}
	return CheckGate(v.cfg, spacing, tick, twap)
}
