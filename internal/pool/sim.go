package pool

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"alphavault/internal/liquidity"
	"alphavault/internal/tickmath"
)

var (
	ErrInvalidRange          = errors.New("pool: invalid tick range")
	ErrInsufficientLiquidity = errors.New("pool: insufficient position liquidity")
	ErrPaymentShortfall      = errors.New("pool: mint payment not received")
)

type positionKey struct {
	owner common.Address
	lower int
	upper int
}

type position struct {
	liquidity *uint256.Int
	owed0     *uint256.Int
	owed1     *uint256.Int
}

type observation struct {
	ts   int64
	tick int
}

// SimPool is an in-memory pool accessor. It tracks positions keyed by
// (owner, tickLower, tickUpper) with Uniswap V3 amount semantics:
// mint charges rounded-up amounts through a synchronous payment
// callback, burn credits rounded-down principal as owed, and collect
// pays owed tokens out of the pool's ledger balance.
type SimPool struct {
	mu        sync.Mutex
	addr      common.Address
	token0    *Ledger
	token1    *Ledger
	spacing   int
	tick      int
	sqrtPrice *uint256.Int
	positions map[positionKey]*position
	obs       []observation

	// Now supplies timestamps for TWAP observations. Overridden in
	// tests and simulations with a shared fake clock.
	Now func() int64
}

func NewSimPool(addr common.Address, token0, token1 *Ledger, tickSpacing, initialTick int) (*SimPool, error) {
	if tickSpacing <= 0 {
		return nil, fmt.Errorf("pool: tick spacing must be positive, got %d", tickSpacing)
	}
	price, err := tickmath.GetSqrtRatioAtTick(initialTick)
	if err != nil {
		return nil, err
	}
	p := &SimPool{
		addr:      addr,
		token0:    token0,
		token1:    token1,
		spacing:   tickSpacing,
		tick:      initialTick,
		sqrtPrice: price,
		positions: make(map[positionKey]*position),
		Now:       func() int64 { return time.Now().Unix() },
	}
	p.obs = append(p.obs, observation{ts: p.Now(), tick: initialTick})
	return p, nil
}

func (p *SimPool) Slot0() (*uint256.Int, int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return new(uint256.Int).Set(p.sqrtPrice), p.tick
}

func (p *SimPool) TickSpacing() int { return p.spacing }

func (p *SimPool) Address() common.Address { return p.addr }

func (p *SimPool) Token0() Token { return p.token0 }

func (p *SimPool) Token1() Token { return p.token1 }

// SetTick moves the pool price to the given tick, settles the move
// against open positions, and records a TWAP observation.
func (p *SimPool) SetTick(tick int) error {
	price, err := tickmath.GetSqrtRatioAtTick(tick)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if tick != p.tick {
		if err := p.settleMove(tick, price); err != nil {
			return err
		}
	}
	p.tick = tick
	p.sqrtPrice = price
	p.obs = append(p.obs, observation{ts: p.Now(), tick: tick})
	return nil
}

// settleMove funds a price move: the swap counterparty pays in the
// token that open positions gain at the new price, so every later burn
// stays backed by the pool's ledger balance. Principal the positions
// shed stays in the pool as the counterparty's surplus.
func (p *SimPool) settleMove(newTick int, newPrice *uint256.Int) error {
	have0, have1 := new(uint256.Int), new(uint256.Int)
	need0, need1 := new(uint256.Int), new(uint256.Int)
	for key, pos := range p.positions {
		if pos.liquidity.IsZero() {
			continue
		}
		r := Range{Lower: key.lower, Upper: key.upper}
		o0, o1, err := p.amountsAt(p.tick, p.sqrtPrice, r, pos.liquidity, false)
		if err != nil {
			return err
		}
		n0, n1, err := p.amountsAt(newTick, newPrice, r, pos.liquidity, true)
		if err != nil {
			return err
		}
		have0.Add(have0, o0)
		have1.Add(have1, o1)
		need0.Add(need0, n0)
		need1.Add(need1, n1)
	}
	if need0.Cmp(have0) > 0 {
		p.token0.MintTo(p.addr, new(uint256.Int).Sub(need0, have0))
	}
	if need1.Cmp(have1) > 0 {
		p.token1.MintTo(p.addr, new(uint256.Int).Sub(need1, have1))
	}
	return nil
}

func (p *SimPool) checkRange(r Range) error {
	if r.Lower >= r.Upper {
		return fmt.Errorf("%w: tickLower %d >= tickUpper %d", ErrInvalidRange, r.Lower, r.Upper)
	}
	if r.Lower < tickmath.MinTick {
		return fmt.Errorf("%w: tickLower %d too low", ErrInvalidRange, r.Lower)
	}
	if r.Upper > tickmath.MaxTick {
		return fmt.Errorf("%w: tickUpper %d too high", ErrInvalidRange, r.Upper)
	}
	if r.Lower%p.spacing != 0 {
		return fmt.Errorf("%w: tickLower %d not a multiple of spacing %d", ErrInvalidRange, r.Lower, p.spacing)
	}
	if r.Upper%p.spacing != 0 {
		return fmt.Errorf("%w: tickUpper %d not a multiple of spacing %d", ErrInvalidRange, r.Upper, p.spacing)
	}
	return nil
}

// amountsForLiquidity returns the token amounts represented by liq over
// r at the current price. Mint rounds up (the pool charges in full),
// burn rounds down (the pool pays out conservatively).
func (p *SimPool) amountsForLiquidity(r Range, liq *uint256.Int, roundUp bool) (*uint256.Int, *uint256.Int, error) {
	return p.amountsAt(p.tick, p.sqrtPrice, r, liq, roundUp)
}

func (p *SimPool) amountsAt(tick int, price *uint256.Int, r Range, liq *uint256.Int, roundUp bool) (*uint256.Int, *uint256.Int, error) {
	lower, err := tickmath.GetSqrtRatioAtTick(r.Lower)
	if err != nil {
		return nil, nil, err
	}
	upper, err := tickmath.GetSqrtRatioAtTick(r.Upper)
	if err != nil {
		return nil, nil, err
	}

	amount0 := new(uint256.Int)
	amount1 := new(uint256.Int)
	switch {
	case tick < r.Lower:
		amount0, err = liquidity.Amount0Delta(lower, upper, liq, roundUp)
	case tick < r.Upper:
		amount0, err = liquidity.Amount0Delta(price, upper, liq, roundUp)
		if err != nil {
			return nil, nil, err
		}
		amount1, err = liquidity.Amount1Delta(lower, price, liq, roundUp)
	default:
		amount1, err = liquidity.Amount1Delta(lower, upper, liq, roundUp)
	}
	if err != nil {
		return nil, nil, err
	}
	return amount0, amount1, nil
}

func (p *SimPool) Mint(owner common.Address, r Range, liq *uint256.Int, pay PayFunc) (*uint256.Int, *uint256.Int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.checkRange(r); err != nil {
		return nil, nil, err
	}
	if liq == nil || liq.IsZero() {
		return new(uint256.Int), new(uint256.Int), nil
	}

	key := positionKey{owner: owner, lower: r.Lower, upper: r.Upper}
	pos, ok := p.positions[key]
	if !ok {
		pos = &position{
			liquidity: new(uint256.Int),
			owed0:     new(uint256.Int),
			owed1:     new(uint256.Int),
		}
	}

	newLiquidity := new(uint256.Int).Add(pos.liquidity, liq)
	if err := liquidity.CheckUint128(newLiquidity); err != nil {
		return nil, nil, err
	}

	amount0, amount1, err := p.amountsForLiquidity(r, liq, true)
	if err != nil {
		return nil, nil, err
	}

	before0 := p.token0.BalanceOf(p.addr)
	before1 := p.token1.BalanceOf(p.addr)

	if pay == nil {
		return nil, nil, fmt.Errorf("%w: no payment callback", ErrPaymentShortfall)
	}
	if err := pay(new(uint256.Int).Set(amount0), new(uint256.Int).Set(amount1)); err != nil {
		return nil, nil, err
	}

	want0 := new(uint256.Int).Add(before0, amount0)
	want1 := new(uint256.Int).Add(before1, amount1)
	if p.token0.BalanceOf(p.addr).Cmp(want0) < 0 || p.token1.BalanceOf(p.addr).Cmp(want1) < 0 {
		return nil, nil, ErrPaymentShortfall
	}

	pos.liquidity = newLiquidity
	p.positions[key] = pos
	return amount0, amount1, nil
}

func (p *SimPool) Burn(owner common.Address, r Range, liq *uint256.Int) (*uint256.Int, *uint256.Int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.checkRange(r); err != nil {
		return nil, nil, err
	}
	if liq == nil || liq.IsZero() {
		return new(uint256.Int), new(uint256.Int), nil
	}

	key := positionKey{owner: owner, lower: r.Lower, upper: r.Upper}
	pos, ok := p.positions[key]
	if !ok || pos.liquidity.Cmp(liq) < 0 {
		return nil, nil, ErrInsufficientLiquidity
	}

	amount0, amount1, err := p.amountsForLiquidity(r, liq, false)
	if err != nil {
		return nil, nil, err
	}

	pos.liquidity = new(uint256.Int).Sub(pos.liquidity, liq)
	pos.owed0.Add(pos.owed0, amount0)
	pos.owed1.Add(pos.owed1, amount1)
	return amount0, amount1, nil
}

func (p *SimPool) Collect(owner, recipient common.Address, r Range, max0, max1 *uint256.Int) (*uint256.Int, *uint256.Int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	key := positionKey{owner: owner, lower: r.Lower, upper: r.Upper}
	pos, ok := p.positions[key]
	if !ok {
		return new(uint256.Int), new(uint256.Int), nil
	}

	collected0 := new(uint256.Int).Set(pos.owed0)
	if max0 != nil && collected0.Cmp(max0) > 0 {
		collected0.Set(max0)
	}
	collected1 := new(uint256.Int).Set(pos.owed1)
	if max1 != nil && collected1.Cmp(max1) > 0 {
		collected1.Set(max1)
	}

	if err := p.token0.Transfer(p.addr, recipient, collected0); err != nil {
		return nil, nil, err
	}
	if err := p.token1.Transfer(p.addr, recipient, collected1); err != nil {
		return nil, nil, err
	}

	pos.owed0.Sub(pos.owed0, collected0)
	pos.owed1.Sub(pos.owed1, collected1)
	return collected0, collected1, nil
}

func (p *SimPool) PositionLiquidity(owner common.Address, r Range) *uint256.Int {
	p.mu.Lock()
	defer p.mu.Unlock()
	key := positionKey{owner: owner, lower: r.Lower, upper: r.Upper}
	if pos, ok := p.positions[key]; ok {
		return new(uint256.Int).Set(pos.liquidity)
	}
	return new(uint256.Int)
}

func (p *SimPool) PositionOwed(owner common.Address, r Range) (*uint256.Int, *uint256.Int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	key := positionKey{owner: owner, lower: r.Lower, upper: r.Upper}
	if pos, ok := p.positions[key]; ok {
		return new(uint256.Int).Set(pos.owed0), new(uint256.Int).Set(pos.owed1)
	}
	return new(uint256.Int), new(uint256.Int)
}

// AccrueFees credits swap-fee revenue to a specific position, minting
// the backing tokens to the pool so a later collect can pay them out.
func (p *SimPool) AccrueFees(owner common.Address, r Range, fee0, fee1 *uint256.Int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	key := positionKey{owner: owner, lower: r.Lower, upper: r.Upper}
	pos, ok := p.positions[key]
	if !ok {
		return ErrInsufficientLiquidity
	}
	p.token0.MintTo(p.addr, fee0)
	p.token1.MintTo(p.addr, fee1)
	pos.owed0.Add(pos.owed0, fee0)
	pos.owed1.Add(pos.owed1, fee1)
	return nil
}

// AccrueFeesInRange distributes fee revenue pro rata over all positions
// whose range contains the current tick. Used by the simulator to model
// trading activity.
func (p *SimPool) AccrueFeesInRange(fee0, fee1 *uint256.Int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	total := new(uint256.Int)
	var active []*position
	for key, pos := range p.positions {
		if key.lower <= p.tick && p.tick < key.upper && !pos.liquidity.IsZero() {
			total.Add(total, pos.liquidity)
			active = append(active, pos)
		}
	}
	if total.IsZero() {
		return nil
	}

	p.token0.MintTo(p.addr, fee0)
	p.token1.MintTo(p.addr, fee1)
	for _, pos := range active {
		share0, overflow := new(uint256.Int).MulDivOverflow(fee0, pos.liquidity, total)
		if overflow {
			return fmt.Errorf("pool: fee share overflow")
		}
		share1, overflow := new(uint256.Int).MulDivOverflow(fee1, pos.liquidity, total)
		if overflow {
			return fmt.Errorf("pool: fee share overflow")
		}
		pos.owed0.Add(pos.owed0, share0)
		pos.owed1.Add(pos.owed1, share1)
	}
	return nil
}

// TwapTick returns the time-weighted average tick over the trailing
// window, treating the recorded tick as constant between observations.
func (p *SimPool) TwapTick(secondsAgo int64) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if secondsAgo <= 0 {
		return p.tick, nil
	}

	now := p.Now()
	from := now - secondsAgo

	var weighted int64
	for i, o := range p.obs {
		segStart := o.ts
		segEnd := now
		if i+1 < len(p.obs) {
			segEnd = p.obs[i+1].ts
		}
		if i == 0 && segStart > from {
			// Window starts before the first observation; the earliest
			// tick is extended backwards.
			segStart = from
		}
		if segStart < from {
			segStart = from
		}
		if segEnd > segStart {
			weighted += int64(o.tick) * (segEnd - segStart)
		}
	}

	avg := weighted / secondsAgo
	if weighted%secondsAgo != 0 && weighted < 0 {
		avg--
	}
	return int(avg), nil
}
