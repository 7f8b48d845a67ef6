package pool

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

var ErrInsufficientBalance = errors.New("pool: insufficient token balance")

// Ledger is an in-memory fungible token. It implements Token and backs
// SimPool balances in simulation and tests.
type Ledger struct {
	mu       sync.RWMutex
	addr     common.Address
	symbol   string
	balances map[common.Address]*uint256.Int
}

func NewLedger(addr common.Address, symbol string) *Ledger {
	return &Ledger{
		addr:     addr,
		symbol:   symbol,
		balances: make(map[common.Address]*uint256.Int),
	}
}

func (l *Ledger) Address() common.Address { return l.addr }

func (l *Ledger) Symbol() string { return l.symbol }

// BalanceOf returns a copy of owner's balance.
func (l *Ledger) BalanceOf(owner common.Address) *uint256.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if b, ok := l.balances[owner]; ok {
		return new(uint256.Int).Set(b)
	}
	return new(uint256.Int)
}

// MintTo credits amount to owner out of thin air. Simulation setup only.
func (l *Ledger) MintTo(owner common.Address, amount *uint256.Int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.balances[owner]
	if !ok {
		b = new(uint256.Int)
		l.balances[owner] = b
	}
	b.Add(b, amount)
}

// Transfer moves amount from one holder to another.
func (l *Ledger) Transfer(from, to common.Address, amount *uint256.Int) error {
	if amount.IsZero() {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.balances[from]
	if !ok || b.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s transfer %s from %s", ErrInsufficientBalance, l.symbol, amount, from)
	}
	b.Sub(b, amount)
	dst, ok := l.balances[to]
	if !ok {
		dst = new(uint256.Int)
		l.balances[to] = dst
	}
	dst.Add(dst, amount)
	return nil
}
