// Package report aggregates recorded vault events into per-window
// performance summaries.
package report

import (
	"encoding/json"
	"fmt"
	"math/big"

	"alphavault/internal/model"
)

// Accumulator holds aggregate values for one vault window.
type Accumulator struct {
	WindowStart int64
	WindowEnd   int64

	Deposits    uint64
	Withdrawals uint64
	Rebalances  uint64

	DepositAmount0  *big.Int
	DepositAmount1  *big.Int
	WithdrawAmount0 *big.Int
	WithdrawAmount1 *big.Int
	FeesCollected0  *big.Int
	FeesCollected1  *big.Int
	ProtocolFees0   *big.Int
	ProtocolFees1   *big.Int

	// Snapshot of vault state at the last rebalance in the window.
	EndTick     int
	EndTotal0   string
	EndTotal1   string
	EndShares   string
	HasSnapshot bool

	LastSeq int64
}

func NewAccumulator(windowStart, windowEnd int64) *Accumulator {
	return &Accumulator{
		WindowStart:     windowStart,
		WindowEnd:       windowEnd,
		DepositAmount0:  big.NewInt(0),
		DepositAmount1:  big.NewInt(0),
		WithdrawAmount0: big.NewInt(0),
		WithdrawAmount1: big.NewInt(0),
		FeesCollected0:  big.NewInt(0),
		FeesCollected1:  big.NewInt(0),
		ProtocolFees0:   big.NewInt(0),
		ProtocolFees1:   big.NewInt(0),
	}
}

// AddEvent folds one event into the window. Events the report does not
// track are counted toward sequence progress and otherwise ignored.
func (a *Accumulator) AddEvent(name string, payload json.RawMessage, seq uint64) error {
	if int64(seq) > a.LastSeq {
		a.LastSeq = int64(seq)
	}

	switch name {
	case model.EventDeposit:
		var dep model.DepositEvent
		if err := json.Unmarshal(payload, &dep); err != nil {
			return fmt.Errorf("decode deposit: %w", err)
		}
		a.Deposits++
		if err := addString(a.DepositAmount0, dep.Amount0); err != nil {
			return err
		}
		return addString(a.DepositAmount1, dep.Amount1)

	case model.EventWithdraw:
		var wd model.WithdrawEvent
		if err := json.Unmarshal(payload, &wd); err != nil {
			return fmt.Errorf("decode withdraw: %w", err)
		}
		a.Withdrawals++
		if err := addString(a.WithdrawAmount0, wd.Amount0); err != nil {
			return err
		}
		return addString(a.WithdrawAmount1, wd.Amount1)

	case model.EventCollectFees:
		var fees model.CollectFeesEvent
		if err := json.Unmarshal(payload, &fees); err != nil {
			return fmt.Errorf("decode collect_fees: %w", err)
		}
		if err := addString(a.FeesCollected0, fees.FeesFromPool0); err != nil {
			return err
		}
		if err := addString(a.FeesCollected1, fees.FeesFromPool1); err != nil {
			return err
		}
		if err := addString(a.ProtocolFees0, fees.FeesToProtocol0); err != nil {
			return err
		}
		return addString(a.ProtocolFees1, fees.FeesToProtocol1)

	case model.EventSnapshot:
		var snap model.SnapshotEvent
		if err := json.Unmarshal(payload, &snap); err != nil {
			return fmt.Errorf("decode snapshot: %w", err)
		}
		a.Rebalances++
		a.EndTick = snap.Tick
		a.EndTotal0 = snap.TotalAmount0
		a.EndTotal1 = snap.TotalAmount1
		a.EndShares = snap.TotalShares
		a.HasSnapshot = true
		return nil

	default:
		return nil
	}
}

func addString(target *big.Int, value string) error {
	if value == "" {
		return nil
	}
	parsed, ok := new(big.Int).SetString(value, 10)
	if !ok {
		return fmt.Errorf("invalid int: %s", value)
	}
	target.Add(target, parsed)
	return nil
}
