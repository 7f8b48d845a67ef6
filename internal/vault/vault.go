// Package vault implements the share accounting and position
// management core of the passive rebalancing vault.
package vault

import (
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"alphavault/internal/fullmath"
	"alphavault/internal/liquidity"
	"alphavault/internal/model"
	"alphavault/internal/pool"
	"alphavault/internal/strategy"
	"alphavault/internal/tickmath"
)

// EventSink receives vault lifecycle events. Nil sinks are replaced by
// a no-op.
type EventSink interface {
	Record(ev model.Event)
}

type nopSink struct{}

func (nopSink) Record(model.Event) {}

// Vault manages two concentrated liquidity positions on behalf of
// share holders. Every public operation holds the vault lock for its
// full duration, including the synchronous mint payment callback, so a
// reentrant call can never observe a partially updated ledger.
type Vault struct {
	mu sync.Mutex

	pool  pool.Accessor
	strat strategy.RangeStrategy
	addr  common.Address
	cfg   Config

	governance        common.Address
	pendingGovernance common.Address
	keeper            common.Address
	finalized         bool

	totalShares   *uint256.Int
	shareBalances map[common.Address]*uint256.Int

	baseRange  pool.Range
	limitRange pool.Range

	protocolFees0 *uint256.Int
	protocolFees1 *uint256.Int

	lastRebalance int64
	lastTick      int
	eventSeq      uint64

	// Now supplies timestamps for the cooldown and streaming fee.
	// Overridden in tests with a fake clock.
	Now func() int64

	logger *zap.Logger
	sink   EventSink
}

// Options bundle the constructor dependencies.
type Options struct {
	Pool       pool.Accessor
	Strategy   strategy.RangeStrategy
	Address    common.Address
	Governance common.Address
	Config     Config
	Logger     *zap.Logger
	Sink       EventSink
}

// New creates a vault with an initial base range centered on the
// current pool price. The limit range stays unset until the first
// rebalance.
func New(opts Options) (*Vault, error) {
	if opts.Pool == nil {
		return nil, fmt.Errorf("vault: pool accessor is required")
	}
	if opts.Strategy == nil {
		return nil, fmt.Errorf("vault: range strategy is required")
	}
	if opts.Governance == (common.Address{}) {
		return nil, fmt.Errorf("vault: governance address is required")
	}
	spacing := opts.Pool.TickSpacing()
	if err := opts.Config.Validate(spacing); err != nil {
		return nil, err
	}

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	sink := opts.Sink
	if sink == nil {
		sink = nopSink{}
	}

	_, tick := opts.Pool.Slot0()
	floor := tickmath.Floor(tick, spacing)
	ceil := floor + spacing

	v := &Vault{
		pool:          opts.Pool,
		strat:         opts.Strategy,
		addr:          opts.Address,
		cfg:           opts.Config,
		governance:    opts.Governance,
		totalShares:   new(uint256.Int),
		shareBalances: make(map[common.Address]*uint256.Int),
		baseRange: pool.Range{
			Lower: floor - opts.Config.BaseThreshold,
			Upper: ceil + opts.Config.BaseThreshold,
		},
		protocolFees0: new(uint256.Int),
		protocolFees1: new(uint256.Int),
		lastTick:      tick,
		Now:           func() int64 { return time.Now().Unix() },
		logger:        logger,
		sink:          sink,
	}
	if err := v.checkRange(v.baseRange); err != nil {
		return nil, err
	}
	return v, nil
}

// Address returns the vault's own address in the token ledgers.
func (v *Vault) Address() common.Address { return v.addr }

// Governance returns the current admin address.
func (v *Vault) Governance() common.Address {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.governance
}

// Keeper returns the configured keeper, zero when rebalancing is
// permissionless.
func (v *Vault) Keeper() common.Address {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.keeper
}

// Config returns the active configuration.
func (v *Vault) Config() Config {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.cfg
}

// BaseRange returns the current base order range.
func (v *Vault) BaseRange() pool.Range {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.baseRange
}

// LimitRange returns the current limit order range. Zero until the
// first rebalance.
func (v *Vault) LimitRange() pool.Range {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.limitRange
}

// TotalShares returns the outstanding share supply.
func (v *Vault) TotalShares() *uint256.Int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return new(uint256.Int).Set(v.totalShares)
}

// BalanceOf returns holder's share balance.
func (v *Vault) BalanceOf(holder common.Address) *uint256.Int {
	v.mu.Lock()
	defer v.mu.Unlock()
	if b, ok := v.shareBalances[holder]; ok {
		return new(uint256.Int).Set(b)
	}
	return new(uint256.Int)
}

// ProtocolFees returns the accrued, unswept protocol fee balances.
func (v *Vault) ProtocolFees() (*uint256.Int, *uint256.Int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return new(uint256.Int).Set(v.protocolFees0), new(uint256.Int).Set(v.protocolFees1)
}

// LastRebalance returns the timestamp of the last successful rebalance.
func (v *Vault) LastRebalance() int64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.lastRebalance
}

// GetTotalAmounts returns the vault's total holdings of each token:
// free balances plus the value of both positions, net of accrued
// protocol fees.
func (v *Vault) GetTotalAmounts() (*uint256.Int, *uint256.Int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.totalAmounts()
}

// Deposit pulls up to the desired amounts from sender, mints
// proportional liquidity into the vault's positions, and issues shares
// to the recipient.
func (v *Vault) Deposit(sender, to common.Address, amount0Desired, amount1Desired, amount0Min, amount1Min *uint256.Int) (shares, amount0, amount1 *uint256.Int, err error) {
	if to == (common.Address{}) {
		return nil, nil, nil, ErrZeroRecipient
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	totalSharesBefore := new(uint256.Int).Set(v.totalShares)

	if totalSharesBefore.IsZero() {
		amount0 = new(uint256.Int).Set(amount0Desired)
		amount1 = new(uint256.Int).Set(amount1Desired)
		// Bootstrap: the first depositor sets the share:value ratio at
		// parity for the larger token amount.
		shares = new(uint256.Int).Set(amount0)
		if amount1.Cmp(shares) > 0 {
			shares = new(uint256.Int).Set(amount1)
		}
	} else {
		shares, amount0, amount1, err = v.proportionalAmounts(amount0Desired, amount1Desired)
		if err != nil {
			return nil, nil, nil, err
		}
	}

	if v.cfg.DepositFeeRate > 0 {
		fee0 := mulRate(amount0, v.cfg.DepositFeeRate)
		fee1 := mulRate(amount1, v.cfg.DepositFeeRate)
		v.protocolFees0.Add(v.protocolFees0, fee0)
		v.protocolFees1.Add(v.protocolFees1, fee1)
		shares.Sub(shares, mulRate(shares, v.cfg.DepositFeeRate))
	}

	if shares.IsZero() {
		return nil, nil, nil, ErrZeroShares
	}
	if amount0.Cmp(amount0Min) < 0 || amount1.Cmp(amount1Min) < 0 {
		return nil, nil, nil, ErrSlippage
	}
	if v.cfg.supplyCapped() {
		newSupply := new(uint256.Int).Add(totalSharesBefore, shares)
		if newSupply.Cmp(v.cfg.MaxTotalSupply) > 0 {
			return nil, nil, nil, ErrSupplyCap
		}
	}

	token0 := v.pool.Token0()
	token1 := v.pool.Token1()
	if err := token0.Transfer(sender, v.addr, amount0); err != nil {
		return nil, nil, nil, err
	}
	if err := token1.Transfer(sender, v.addr, amount1); err != nil {
		// Undo the first leg so a failed deposit has no effect.
		_ = token0.Transfer(v.addr, sender, amount0)
		return nil, nil, nil, err
	}

	if totalSharesBefore.IsZero() {
		err = v.mintMaxIntoRange(v.baseRange)
	} else {
		err = v.mintProportional(shares, totalSharesBefore)
	}
	if err != nil {
		_ = token0.Transfer(v.addr, sender, amount0)
		_ = token1.Transfer(v.addr, sender, amount1)
		return nil, nil, nil, err
	}

	v.totalShares.Add(v.totalShares, shares)
	v.creditShares(to, shares)

	v.record(model.EventDeposit, model.DepositEvent{
		Sender:  sender.Hex(),
		To:      to.Hex(),
		Shares:  shares.String(),
		Amount0: amount0.String(),
		Amount1: amount1.String(),
	})
	v.logger.Debug("deposit",
		zap.String("sender", sender.Hex()),
		zap.String("to", to.Hex()),
		zap.String("shares", shares.String()),
		zap.String("amount0", amount0.String()),
		zap.String("amount1", amount1.String()),
	)
	return shares, amount0, amount1, nil
}

// proportionalAmounts computes the deposit amounts and shares that keep
// the new depositor's stake exactly proportional to the value
// contributed. Amounts round up (in the vault's favor), shares round
// down.
func (v *Vault) proportionalAmounts(amount0Desired, amount1Desired *uint256.Int) (shares, amount0, amount1 *uint256.Int, err error) {
	total0, total1, err := v.totalAmounts()
	if err != nil {
		return nil, nil, nil, err
	}
	one := uint256.NewInt(1)
	if total0.IsZero() {
		total0 = one
	}
	if total1.IsZero() {
		total1 = one
	}

	cross0, overflow := new(uint256.Int).MulOverflow(amount0Desired, total1)
	if overflow {
		return nil, nil, nil, ErrOverflow
	}
	cross1, overflow := new(uint256.Int).MulOverflow(amount1Desired, total0)
	if overflow {
		return nil, nil, nil, ErrOverflow
	}
	cross := cross0
	if cross1.Cmp(cross) < 0 {
		cross = cross1
	}
	if cross.IsZero() {
		return nil, nil, nil, ErrZeroShares
	}

	amount0 = fullmath.DivRoundingUp(cross, total1)
	if amount0.Cmp(amount0Desired) > 0 {
		amount0 = new(uint256.Int).Set(amount0Desired)
	}
	amount1 = fullmath.DivRoundingUp(cross, total0)
	if amount1.Cmp(amount1Desired) > 0 {
		amount1 = new(uint256.Int).Set(amount1Desired)
	}

	shares, err = fullmath.MulDiv(cross, v.totalShares, total0)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("%w: shares", ErrOverflow)
	}
	shares.Div(shares, total1)
	return shares, amount0, amount1, nil
}

// mintProportional grows both positions by shares/totalSharesBefore,
// paying out of the vault's balance. All fallible sizing runs before
// the first mint; a mint failure unwinds earlier mints so existing
// holders never fund a refund.
func (v *Vault) mintProportional(shares, totalSharesBefore *uint256.Int) error {
	type plannedMint struct {
		r   pool.Range
		add *uint256.Int
	}
	var plan []plannedMint
	for _, r := range []pool.Range{v.baseRange, v.limitRange} {
		if r.IsZero() {
			continue
		}
		existing := v.pool.PositionLiquidity(v.addr, r)
		if existing.IsZero() {
			continue
		}
		add, err := fullmath.MulDiv(existing, shares, totalSharesBefore)
		if err != nil {
			return fmt.Errorf("%w: liquidity", ErrOverflow)
		}
		if add.IsZero() {
			continue
		}
		if err := liquidity.CheckUint128(new(uint256.Int).Add(existing, add)); err != nil {
			return err
		}
		plan = append(plan, plannedMint{r: r, add: add})
	}

	var minted []plannedMint
	for _, m := range plan {
		if _, _, err := v.pool.Mint(v.addr, m.r, m.add, v.payFromVault()); err != nil {
			for _, u := range minted {
				if b0, b1, burnErr := v.pool.Burn(v.addr, u.r, u.add); burnErr == nil {
					_, _, _ = v.pool.Collect(v.addr, v.addr, u.r, b0, b1)
				}
			}
			return err
		}
		minted = append(minted, m)
	}
	return nil
}

// mintMaxIntoRange deploys as much of the vault's free balance as the
// range can absorb at the current price.
func (v *Vault) mintMaxIntoRange(r pool.Range) error {
	if r.IsZero() {
		return nil
	}
	free0, free1 := v.freeBalances()
	sqrtPrice, _ := v.pool.Slot0()
	lower, err := tickmath.GetSqrtRatioAtTick(r.Lower)
	if err != nil {
		return err
	}
	upper, err := tickmath.GetSqrtRatioAtTick(r.Upper)
	if err != nil {
		return err
	}
	liq, err := liquidity.ForAmounts(sqrtPrice, lower, upper, free0, free1)
	if err != nil {
		return err
	}
	if liq.IsZero() {
		return nil
	}
	existing := v.pool.PositionLiquidity(v.addr, r)
	if err := liquidity.CheckUint128(new(uint256.Int).Add(existing, liq)); err != nil {
		return err
	}
	_, _, err = v.pool.Mint(v.addr, r, liq, v.payFromVault())
	return err
}

// Withdraw burns shares from sender, removes the proportional liquidity
// from both positions, and sends the principal plus a proportional cut
// of the free balances to the recipient. Accrued fees stay in the pool
// for later sweeps.
func (v *Vault) Withdraw(sender, to common.Address, shares, amount0Min, amount1Min *uint256.Int) (amount0, amount1 *uint256.Int, err error) {
	if to == (common.Address{}) {
		return nil, nil, ErrZeroRecipient
	}
	if shares == nil || shares.IsZero() {
		return nil, nil, ErrZeroShares
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	held, ok := v.shareBalances[sender]
	if !ok || held.Cmp(shares) < 0 {
		return nil, nil, ErrInsufficient
	}

	amount0 = new(uint256.Int)
	amount1 = new(uint256.Int)

	// Free-balance cut is computed before burning liquidity so the
	// position principal does not inflate it.
	free0, free1 := v.freeBalances()
	spare0, err := fullmath.MulDiv(free0, shares, v.totalShares)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: spare balance", ErrOverflow)
	}
	spare1, err := fullmath.MulDiv(free1, shares, v.totalShares)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: spare balance", ErrOverflow)
	}

	// Value the proportional liquidity of both positions up front so
	// the minimum-amount check runs before anything is burned or
	// transferred.
	type plannedBurn struct {
		r   pool.Range
		liq *uint256.Int
	}
	var burns []plannedBurn
	for _, r := range []pool.Range{v.baseRange, v.limitRange} {
		if r.IsZero() {
			continue
		}
		liq, err := v.liquidityForShares(r, shares)
		if err != nil {
			return nil, nil, err
		}
		if liq.IsZero() {
			continue
		}
		p0, p1, err := v.principalForLiquidity(r, liq)
		if err != nil {
			return nil, nil, err
		}
		amount0.Add(amount0, p0)
		amount1.Add(amount1, p1)
		burns = append(burns, plannedBurn{r: r, liq: liq})
	}
	amount0.Add(amount0, spare0)
	amount1.Add(amount1, spare1)

	if amount0.Cmp(amount0Min) < 0 || amount1.Cmp(amount1Min) < 0 {
		return nil, nil, ErrSlippage
	}

	for _, b := range burns {
		burned0, burned1, err := v.pool.Burn(v.addr, b.r, b.liq)
		if err != nil {
			return nil, nil, err
		}
		// Collect exactly the principal; fees stay accrued for the
		// next rebalance sweep.
		if _, _, err := v.pool.Collect(v.addr, to, b.r, burned0, burned1); err != nil {
			return nil, nil, err
		}
	}

	if err := v.pool.Token0().Transfer(v.addr, to, spare0); err != nil {
		return nil, nil, err
	}
	if err := v.pool.Token1().Transfer(v.addr, to, spare1); err != nil {
		return nil, nil, err
	}

	held.Sub(held, shares)
	if held.IsZero() {
		delete(v.shareBalances, sender)
	}
	v.totalShares.Sub(v.totalShares, shares)

	v.record(model.EventWithdraw, model.WithdrawEvent{
		Sender:  sender.Hex(),
		To:      to.Hex(),
		Shares:  shares.String(),
		Amount0: amount0.String(),
		Amount1: amount1.String(),
	})
	v.logger.Debug("withdraw",
		zap.String("sender", sender.Hex()),
		zap.String("to", to.Hex()),
		zap.String("shares", shares.String()),
		zap.String("amount0", amount0.String()),
		zap.String("amount1", amount1.String()),
	)
	return amount0, amount1, nil
}

// liquidityForShares converts a share count into the position liquidity
// it represents, rounding down. The result must fit the pool's 128-bit
// liquidity type.
func (v *Vault) liquidityForShares(r pool.Range, shares *uint256.Int) (*uint256.Int, error) {
	if v.totalShares.IsZero() {
		return nil, ErrZeroShares
	}
	deposited := v.pool.PositionLiquidity(v.addr, r)
	liq, err := fullmath.MulDiv(deposited, shares, v.totalShares)
	if err != nil {
		return nil, fmt.Errorf("%w: liquidity for shares", ErrOverflow)
	}
	if err := liquidity.CheckUint128(liq); err != nil {
		return nil, err
	}
	return liq, nil
}

// totalAmounts sums free balances and the value of both positions,
// excluding accrued protocol fees. Caller holds the lock.
func (v *Vault) totalAmounts() (*uint256.Int, *uint256.Int, error) {
	total0, total1 := v.freeBalances()
	for _, r := range []pool.Range{v.baseRange, v.limitRange} {
		if r.IsZero() {
			continue
		}
		p0, p1, err := v.positionAmounts(r)
		if err != nil {
			return nil, nil, err
		}
		total0.Add(total0, p0)
		total1.Add(total1, p1)
	}
	return total0, total1, nil
}

// positionAmounts values one position: principal implied by its
// liquidity at the current price plus uncollected owed tokens.
func (v *Vault) positionAmounts(r pool.Range) (*uint256.Int, *uint256.Int, error) {
	liq := v.pool.PositionLiquidity(v.addr, r)
	owed0, owed1 := v.pool.PositionOwed(v.addr, r)
	if liq.IsZero() {
		return owed0, owed1, nil
	}
	p0, p1, err := v.principalForLiquidity(r, liq)
	if err != nil {
		return nil, nil, err
	}
	return p0.Add(p0, owed0), p1.Add(p1, owed1), nil
}

// principalForLiquidity values liq over r at the current price,
// rounding down the way the pool pays out on burn.
func (v *Vault) principalForLiquidity(r pool.Range, liq *uint256.Int) (*uint256.Int, *uint256.Int, error) {
	sqrtPrice, _ := v.pool.Slot0()
	lower, err := tickmath.GetSqrtRatioAtTick(r.Lower)
	if err != nil {
		return nil, nil, err
	}
	upper, err := tickmath.GetSqrtRatioAtTick(r.Upper)
	if err != nil {
		return nil, nil, err
	}
	return liquidity.AmountsForLiquidity(sqrtPrice, lower, upper, liq)
}

// freeBalances returns the vault's token balances net of accrued
// protocol fees.
func (v *Vault) freeBalances() (*uint256.Int, *uint256.Int) {
	b0 := v.pool.Token0().BalanceOf(v.addr)
	b1 := v.pool.Token1().BalanceOf(v.addr)
	if b0.Cmp(v.protocolFees0) > 0 {
		b0.Sub(b0, v.protocolFees0)
	} else {
		b0.Clear()
	}
	if b1.Cmp(v.protocolFees1) > 0 {
		b1.Sub(b1, v.protocolFees1)
	} else {
		b1.Clear()
	}
	return b0, b1
}

func (v *Vault) payFromVault() pool.PayFunc {
	return func(amount0, amount1 *uint256.Int) error {
		if err := v.pool.Token0().Transfer(v.addr, v.pool.Address(), amount0); err != nil {
			return err
		}
		return v.pool.Token1().Transfer(v.addr, v.pool.Address(), amount1)
	}
}

func (v *Vault) checkRange(r pool.Range) error {
	spacing := v.pool.TickSpacing()
	if r.Lower >= r.Upper {
		return fmt.Errorf("vault: tickLower %d >= tickUpper %d", r.Lower, r.Upper)
	}
	if r.Lower < tickmath.MinTick {
		return fmt.Errorf("vault: tickLower %d too low", r.Lower)
	}
	if r.Upper > tickmath.MaxTick {
		return fmt.Errorf("vault: tickUpper %d too high", r.Upper)
	}
	if r.Lower%spacing != 0 || r.Upper%spacing != 0 {
		return fmt.Errorf("vault: range %d..%d not aligned to tick spacing %d", r.Lower, r.Upper, spacing)
	}
	return nil
}

func (v *Vault) creditShares(to common.Address, shares *uint256.Int) {
	b, ok := v.shareBalances[to]
	if !ok {
		b = new(uint256.Int)
		v.shareBalances[to] = b
	}
	b.Add(b, shares)
}

func (v *Vault) record(name string, payload interface{}) {
	v.eventSeq++
	v.sink.Record(model.Event{
		Seq:       v.eventSeq,
		Timestamp: v.Now(),
		Name:      name,
		Payload:   payload,
	})
}

// mulRate applies a parts-per-million rate, rounding down.
func mulRate(amount *uint256.Int, ratePPM uint64) *uint256.Int {
	out := new(uint256.Int).Mul(amount, uint256.NewInt(ratePPM))
	return out.Div(out, uint256.NewInt(feeDenominator))
}
