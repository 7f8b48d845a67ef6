package dex

import (
	"fmt"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"alphavault/internal/model"
)

// SwapTopic returns topic0 of the V3 pool Swap event.
func SwapTopic() (common.Hash, error) {
	poolABI, err := V3PoolABI()
	if err != nil {
		return common.Hash{}, err
	}
	return poolABI.Events["Swap"].ID, nil
}

// DecodeSwap decodes a Swap log emitted by a V3 pool.
func DecodeSwap(log types.Log) (model.SwapRecord, error) {
	poolABI, err := V3PoolABI()
	if err != nil {
		return model.SwapRecord{}, fmt.Errorf("parse pool abi: %w", err)
	}
	event := poolABI.Events["Swap"]

	if len(log.Topics) != 3 {
		return model.SwapRecord{}, fmt.Errorf("swap log has %d topics, want 3", len(log.Topics))
	}
	if log.Topics[0] != event.ID {
		return model.SwapRecord{}, fmt.Errorf("unexpected topic0: %s", log.Topics[0].Hex())
	}

	var indexed struct {
		Sender    common.Address
		Recipient common.Address
	}
	if err := abi.ParseTopics(&indexed, indexedArguments(event.Inputs), log.Topics[1:]); err != nil {
		return model.SwapRecord{}, fmt.Errorf("parse topics: %w", err)
	}

	values, err := event.Inputs.NonIndexed().Unpack(log.Data)
	if err != nil {
		return model.SwapRecord{}, fmt.Errorf("unpack swap data: %w", err)
	}
	if len(values) != 5 {
		return model.SwapRecord{}, fmt.Errorf("unexpected swap values: %d", len(values))
	}

	amount0, err := asBigInt(values[0])
	if err != nil {
		return model.SwapRecord{}, err
	}
	amount1, err := asBigInt(values[1])
	if err != nil {
		return model.SwapRecord{}, err
	}
	sqrtPrice, err := asBigInt(values[2])
	if err != nil {
		return model.SwapRecord{}, err
	}
	liquidity, err := asBigInt(values[3])
	if err != nil {
		return model.SwapRecord{}, err
	}
	tickInt, err := asBigInt(values[4])
	if err != nil {
		return model.SwapRecord{}, err
	}
	tick, err := int24FromBig(tickInt)
	if err != nil {
		return model.SwapRecord{}, err
	}

	return model.SwapRecord{
		BlockNumber:  log.BlockNumber,
		TxHash:       log.TxHash.Hex(),
		LogIndex:     log.Index,
		Pool:         log.Address.Hex(),
		Sender:       indexed.Sender.Hex(),
		Recipient:    indexed.Recipient.Hex(),
		Amount0:      amount0.String(),
		Amount1:      amount1.String(),
		SqrtPriceX96: sqrtPrice.String(),
		Liquidity:    liquidity.String(),
		Tick:         tick,
	}, nil
}

func indexedArguments(args abi.Arguments) abi.Arguments {
	indexed := make(abi.Arguments, 0, len(args))
	for _, arg := range args {
		if arg.Indexed {
			indexed = append(indexed, arg)
		}
	}
	return indexed
}
