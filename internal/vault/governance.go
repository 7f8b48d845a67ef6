package vault

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"alphavault/internal/pool"
)

// SetGovernance starts the two-step governance handover. The new
// address holds no power until it calls AcceptGovernance.
func (v *Vault) SetGovernance(caller, next common.Address) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if caller != v.governance {
		return ErrNotGovernance
	}
	v.pendingGovernance = next
	return nil
}

// AcceptGovernance completes the handover started by SetGovernance.
func (v *Vault) AcceptGovernance(caller common.Address) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if caller == (common.Address{}) || caller != v.pendingGovernance {
		return ErrNotPendingGovernance
	}
	v.logger.Info("governance transferred",
		zap.String("from", v.governance.Hex()),
		zap.String("to", caller.Hex()),
	)
	v.governance = caller
	v.pendingGovernance = common.Address{}
	return nil
}

// SetKeeper restricts Rebalance to the given address. The zero address
// makes rebalancing permissionless again.
func (v *Vault) SetKeeper(caller, keeper common.Address) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if caller != v.governance {
		return ErrNotGovernance
	}
	v.keeper = keeper
	return nil
}

// UpdateConfig replaces the whole configuration after re-validating it
// against the pool's tick spacing. The new thresholds take effect at
// the next rebalance.
func (v *Vault) UpdateConfig(caller common.Address, cfg Config) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if caller != v.governance {
		return ErrNotGovernance
	}
	if err := cfg.Validate(v.pool.TickSpacing()); err != nil {
		return err
	}
	v.cfg = cfg
	return nil
}

// Finalize permanently disables EmergencyWithdraw and EmergencyBurn.
// There is no way back.
func (v *Vault) Finalize(caller common.Address) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if caller != v.governance {
		return ErrNotGovernance
	}
	v.finalized = true
	v.logger.Info("emergency powers finalized")
	return nil
}

// Finalized reports whether emergency powers have been disabled.
func (v *Vault) Finalized() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.finalized
}

// CollectProtocolFees sweeps up to the requested amounts of accrued
// protocol fees to the recipient.
func (v *Vault) CollectProtocolFees(caller, to common.Address, amount0, amount1 *uint256.Int) error {
	if to == (common.Address{}) {
		return ErrZeroRecipient
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if caller != v.governance {
		return ErrNotGovernance
	}
	if amount0.Cmp(v.protocolFees0) > 0 || amount1.Cmp(v.protocolFees1) > 0 {
		return ErrInsufficient
	}
	if err := v.pool.Token0().Transfer(v.addr, to, amount0); err != nil {
		return err
	}
	if err := v.pool.Token1().Transfer(v.addr, to, amount1); err != nil {
		return err
	}
	v.protocolFees0.Sub(v.protocolFees0, amount0)
	v.protocolFees1.Sub(v.protocolFees1, amount1)
	return nil
}

// EmergencyWithdraw sends arbitrary token balances out of the vault.
// Disabled once Finalize has been called.
func (v *Vault) EmergencyWithdraw(caller, to common.Address, token pool.Token, amount *uint256.Int) error {
	if to == (common.Address{}) {
		return ErrZeroRecipient
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if caller != v.governance {
		return ErrNotGovernance
	}
	if v.finalized {
		return ErrFinalized
	}
	v.logger.Warn("emergency withdraw",
		zap.String("token", token.Address().Hex()),
		zap.String("to", to.Hex()),
		zap.String("amount", amount.String()),
	)
	return token.Transfer(v.addr, to, amount)
}

// EmergencyBurn removes liquidity from an arbitrary range and collects
// the proceeds into the vault. Disabled once Finalize has been called.
func (v *Vault) EmergencyBurn(caller common.Address, r pool.Range, liq *uint256.Int) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if caller != v.governance {
		return ErrNotGovernance
	}
	if v.finalized {
		return ErrFinalized
	}
	if _, _, err := v.pool.Burn(v.addr, r, liq); err != nil {
		return err
	}
	owed0, owed1 := v.pool.PositionOwed(v.addr, r)
	_, _, err := v.pool.Collect(v.addr, v.addr, r, owed0, owed1)
	return err
}
