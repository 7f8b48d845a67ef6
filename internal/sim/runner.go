// Package sim drives a vault against an in-memory pool through a
// randomized price path, exercising deposits, withdrawals, fee
// accrual, and keeper rebalances without touching a chain.
package sim

import (
	"context"
	"errors"
	"fmt"
	"math/rand"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"alphavault/internal/model"
	"alphavault/internal/pool"
	"alphavault/internal/storage"
	"alphavault/internal/strategy"
	"alphavault/internal/vault"
)

// Config controls a simulation run.
type Config struct {
	Steps          int
	Seed           int64
	StepSeconds    int64
	TickSpacing    int
	InitialTick    int
	TickVolatility int
	FeePerStep     uint64
	DepositAmount  uint64
	DepositEvery   int
	WithdrawEvery  int
	FlushEvery     int
	Vault          vault.Config
}

// Validate checks the simulation parameters.
func (c Config) Validate() error {
	if c.Steps <= 0 {
		return fmt.Errorf("sim: steps must be positive, got %d", c.Steps)
	}
	if c.StepSeconds <= 0 {
		return fmt.Errorf("sim: step seconds must be positive, got %d", c.StepSeconds)
	}
	if c.TickSpacing <= 0 {
		return fmt.Errorf("sim: tick spacing must be positive, got %d", c.TickSpacing)
	}
	if c.TickVolatility < 0 {
		return fmt.Errorf("sim: tick volatility must be >= 0, got %d", c.TickVolatility)
	}
	if c.DepositAmount == 0 {
		return fmt.Errorf("sim: deposit amount must be positive")
	}
	return nil
}

// Summary reports what a simulation run did.
type Summary struct {
	Steps       int    `json:"steps"`
	Deposits    int    `json:"deposits"`
	Withdrawals int    `json:"withdrawals"`
	Rebalances  int    `json:"rebalances"`
	FinalTick   int    `json:"final_tick"`
	FinalTotal0 string `json:"final_total0"`
	FinalTotal1 string `json:"final_total1"`
	FinalShares string `json:"final_shares"`
}

// Runner owns the simulated world: token ledgers, pool, vault, users,
// and a shared fake clock.
type Runner struct {
	cfg     Config
	logger  *zap.Logger
	storage storage.Storage

	clock  int64
	rng    *rand.Rand
	buffer []model.Event

	// Populated by Run so tests can audit the final world state.
	vault  *vault.Vault
	pool   *pool.SimPool
	token0 *pool.Ledger
	token1 *pool.Ledger
	users  []common.Address
}

func NewRunner(cfg Config, storageSink storage.Storage, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		cfg:     cfg,
		logger:  logger,
		storage: storageSink,
	}
}

// Record buffers a vault event for the next flush. Runner is the
// vault's event sink.
func (r *Runner) Record(ev model.Event) {
	r.buffer = append(r.buffer, ev)
}

// Run executes the simulation and returns a summary.
func (r *Runner) Run(ctx context.Context) (Summary, error) {
	if err := r.cfg.Validate(); err != nil {
		return Summary{}, err
	}

	r.rng = rand.New(rand.NewSource(r.cfg.Seed))
	r.clock = 1_700_000_000
	r.buffer = r.buffer[:0]

	token0 := pool.NewLedger(common.HexToAddress("0x00000000000000000000000000000000000000a0"), "TOKEN0")
	token1 := pool.NewLedger(common.HexToAddress("0x00000000000000000000000000000000000000a1"), "TOKEN1")
	poolAddr := common.HexToAddress("0x00000000000000000000000000000000000000f0")
	vaultAddr := common.HexToAddress("0x00000000000000000000000000000000000000f1")
	governance := common.HexToAddress("0x0000000000000000000000000000000000000001")
	keeper := common.HexToAddress("0x0000000000000000000000000000000000000002")

	simPool, err := pool.NewSimPool(poolAddr, token0, token1, r.cfg.TickSpacing, r.cfg.InitialTick)
	if err != nil {
		return Summary{}, err
	}
	simPool.Now = func() int64 { return r.clock }
	if err := simPool.SetTick(r.cfg.InitialTick); err != nil {
		return Summary{}, err
	}

	v, err := vault.New(vault.Options{
		Pool:       simPool,
		Strategy:   strategy.Passive{},
		Address:    vaultAddr,
		Governance: governance,
		Config:     r.cfg.Vault,
		Logger:     r.logger,
		Sink:       r,
	})
	if err != nil {
		return Summary{}, err
	}
	v.Now = func() int64 { return r.clock }

	users := make([]common.Address, 4)
	funding := new(uint256.Int).Mul(uint256.NewInt(r.cfg.DepositAmount), uint256.NewInt(1_000_000))
	for i := range users {
		users[i] = common.Address{18: 0x10, 19: byte(i + 1)}
		token0.MintTo(users[i], new(uint256.Int).Set(funding))
		token1.MintTo(users[i], new(uint256.Int).Set(funding))
	}

	r.vault = v
	r.pool = simPool
	r.token0 = token0
	r.token1 = token1
	r.users = users

	summary := Summary{}
	tick := r.cfg.InitialTick
	zero := new(uint256.Int)

	for step := 0; step < r.cfg.Steps; step++ {
		select {
		case <-ctx.Done():
			return summary, ctx.Err()
		default:
		}

		r.clock += r.cfg.StepSeconds

		if r.cfg.TickVolatility > 0 {
			tick += r.rng.Intn(2*r.cfg.TickVolatility+1) - r.cfg.TickVolatility
			if err := simPool.SetTick(tick); err != nil {
				return summary, fmt.Errorf("step %d: set tick: %w", step, err)
			}
		}

		if r.cfg.FeePerStep > 0 {
			fee := uint256.NewInt(r.cfg.FeePerStep)
			if err := simPool.AccrueFeesInRange(fee, fee); err != nil {
				return summary, fmt.Errorf("step %d: accrue fees: %w", step, err)
			}
		}

		if r.cfg.DepositEvery > 0 && step%r.cfg.DepositEvery == 0 {
			user := users[(step/r.cfg.DepositEvery)%len(users)]
			amount := uint256.NewInt(r.cfg.DepositAmount)
			if _, _, _, err := v.Deposit(user, user, amount, amount, zero, zero); err != nil {
				if !errors.Is(err, vault.ErrZeroShares) && !errors.Is(err, vault.ErrSupplyCap) {
					return summary, fmt.Errorf("step %d: deposit: %w", step, err)
				}
			} else {
				summary.Deposits++
			}
		}

		if r.cfg.WithdrawEvery > 0 && step > 0 && step%r.cfg.WithdrawEvery == 0 {
			user := users[(step/r.cfg.WithdrawEvery)%len(users)]
			held := v.BalanceOf(user)
			if !held.IsZero() {
				shares := held.Div(held, uint256.NewInt(2))
				if shares.IsZero() {
					shares = v.BalanceOf(user)
				}
				if _, _, err := v.Withdraw(user, user, shares, zero, zero); err != nil {
					return summary, fmt.Errorf("step %d: withdraw: %w", step, err)
				}
				summary.Withdrawals++
			}
		}

		if v.CanRebalance(keeper) == nil {
			if err := v.Rebalance(keeper); err != nil {
				return summary, fmt.Errorf("step %d: rebalance: %w", step, err)
			}
			summary.Rebalances++
		}

		if r.cfg.FlushEvery > 0 && (step+1)%r.cfg.FlushEvery == 0 {
			if err := r.flush(); err != nil {
				return summary, err
			}
		}
	}

	if err := r.flush(); err != nil {
		return summary, err
	}

	total0, total1, err := v.GetTotalAmounts()
	if err != nil {
		return summary, err
	}
	summary.Steps = r.cfg.Steps
	summary.FinalTick = tick
	summary.FinalTotal0 = total0.String()
	summary.FinalTotal1 = total1.String()
	summary.FinalShares = v.TotalShares().String()

	r.logger.Info("simulation complete",
		zap.Int("steps", summary.Steps),
		zap.Int("deposits", summary.Deposits),
		zap.Int("withdrawals", summary.Withdrawals),
		zap.Int("rebalances", summary.Rebalances),
		zap.Int("final_tick", summary.FinalTick),
		zap.String("final_total0", summary.FinalTotal0),
		zap.String("final_total1", summary.FinalTotal1),
		zap.String("final_shares", summary.FinalShares),
	)
	return summary, nil
}

func (r *Runner) flush() error {
	if r.storage == nil || len(r.buffer) == 0 {
		r.buffer = r.buffer[:0]
		return nil
	}
	if err := r.storage.PutEventBatch(r.buffer); err != nil {
		return fmt.Errorf("flush events: %w", err)
	}
	r.buffer = r.buffer[:0]
	return nil
}
