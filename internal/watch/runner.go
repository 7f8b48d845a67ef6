// Package watch follows one live pool, records its swaps, and reports
// whether the vault's rebalance gate would currently open.
package watch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"alphavault/internal/chain"
	"alphavault/internal/dex"
	"alphavault/internal/model"
	"alphavault/internal/storage"
	"alphavault/internal/vault"
)

// RunConfig holds runtime settings for the watcher.
type RunConfig struct {
	Pool              common.Address
	FromBlock         uint64
	BatchSize         uint64
	PollInterval      time.Duration
	Once              bool
	CheckpointPath    string
	CheckpointEnabled bool
	MaxRetries        int
	RetryBackoff      time.Duration
	Gate              vault.Config
}

// Watcher streams pool swaps from the chain, writes them to storage,
// and evaluates the rebalance gate after each batch.
type Watcher struct {
	cfg        RunConfig
	chain      *chain.Client
	reader     *dex.PoolReader
	storage    storage.Storage
	logger     *zap.Logger
	seen       map[string]struct{}
	checkpoint *CheckpointStore
	seq        uint64
}

// NewWatcher builds a Watcher with its dependencies.
func NewWatcher(cfg RunConfig, chainClient *chain.Client, reader *dex.PoolReader, storageSink storage.Storage, logger *zap.Logger) *Watcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Watcher{
		cfg:        cfg,
		chain:      chainClient,
		reader:     reader,
		storage:    storageSink,
		logger:     logger,
		seen:       make(map[string]struct{}),
		checkpoint: NewCheckpointStore(cfg.CheckpointPath, cfg.CheckpointEnabled),
	}
}

// Run executes the watch loop until the context is canceled, or until
// it catches up with the chain head when Once is set.
func (w *Watcher) Run(ctx context.Context) error {
	if w.chain == nil {
		return fmt.Errorf("chain client is nil")
	}
	if w.reader == nil {
		return fmt.Errorf("pool reader is nil")
	}
	if w.storage == nil {
		return fmt.Errorf("storage is nil")
	}
	if w.cfg.BatchSize == 0 {
		return fmt.Errorf("batch size must be greater than zero")
	}
	if err := w.cfg.Gate.Validate(w.reader.TickSpacing()); err != nil {
		return err
	}

	swapTopic, err := dex.SwapTopic()
	if err != nil {
		return fmt.Errorf("swap topic: %w", err)
	}

	from := w.cfg.FromBlock
	if w.checkpoint != nil {
		cp, ok, err := w.checkpoint.Load()
		if err != nil {
			return err
		}
		if ok && cp.LastProcessedBlock >= from {
			from = cp.LastProcessedBlock + 1
			w.logger.Info("resume from checkpoint", zap.Uint64("last_processed", cp.LastProcessedBlock), zap.Uint64("from", from))
		}
	}

	poll := w.cfg.PollInterval
	if poll <= 0 {
		poll = 10 * time.Second
	}

	for {
		latest, err := w.chain.LatestBlockNumber(ctx)
		if err != nil {
			return fmt.Errorf("get latest block: %w", err)
		}

		if from > latest {
			if w.cfg.Once {
				w.logger.Info("caught up", zap.Uint64("latest", latest))
				return nil
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(poll):
			}
			continue
		}

		ranges, err := SplitRange(from, latest, w.cfg.BatchSize)
		if err != nil {
			return err
		}

		for _, blockRange := range ranges {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}

			if err := w.processRange(ctx, blockRange, swapTopic); err != nil {
				return err
			}

			if w.checkpoint != nil {
				if err := w.checkpoint.Save(blockRange.To); err != nil {
					return err
				}
			}
		}
		from = latest + 1

		if err := w.reportGate(ctx, latest); err != nil {
			return err
		}
		if w.cfg.Once {
			return nil
		}
	}
}

func (w *Watcher) processRange(ctx context.Context, blockRange BlockRange, swapTopic common.Hash) error {
	logs, err := w.filterLogsWithRetry(ctx, blockRange.From, blockRange.To, swapTopic)
	if err != nil {
		return fmt.Errorf("filter logs: %w", err)
	}

	events := make([]model.Event, 0, len(logs))
	for _, log := range logs {
		if w.isDuplicate(log) {
			continue
		}

		swap, err := dex.DecodeSwap(log)
		if err != nil {
			w.logger.Warn("decode swap failed", zap.Error(err), zap.Uint64("block", log.BlockNumber))
			continue
		}
		ts, err := w.blockTimestampWithRetry(ctx, log.BlockNumber)
		if err != nil {
			return fmt.Errorf("block timestamp %d: %w", log.BlockNumber, err)
		}

		w.seq++
		events = append(events, model.Event{
			Seq:       w.seq,
			Timestamp: int64(ts),
			Name:      model.EventSwap,
			Payload:   swap,
		})
	}

	if err := w.storage.PutEventBatch(events); err != nil {
		return fmt.Errorf("store swaps: %w", err)
	}

	w.logger.Info("batch complete", zap.Int("swaps", len(events)), zap.Uint64("from", blockRange.From), zap.Uint64("to", blockRange.To))
	return nil
}

// reportGate reads the pool's spot and TWAP ticks and records whether
// a rebalance would currently pass the safety gate.
func (w *Watcher) reportGate(ctx context.Context, block uint64) error {
	_, tick, err := w.reader.Slot0(ctx)
	if err != nil {
		return fmt.Errorf("read slot0: %w", err)
	}
	twap := tick
	if w.cfg.Gate.TwapDuration > 0 {
		twap, err = w.reader.TwapTick(ctx, w.cfg.Gate.TwapDuration)
		if err != nil {
			return fmt.Errorf("read twap: %w", err)
		}
	}

	gateErr := vault.CheckGate(w.cfg.Gate, w.reader.TickSpacing(), tick, twap)

	dev := tick - twap
	if dev < 0 {
		dev = -dev
	}
	report := model.GateReport{
		BlockNumber: block,
		Tick:        int32(tick),
		TwapTick:    int32(twap),
		Deviation:   int32(dev),
		Ready:       gateErr == nil,
	}
	if gateErr != nil {
		report.Reason = gateErr.Error()
	}

	w.seq++
	event := model.Event{
		Seq:       w.seq,
		Timestamp: time.Now().Unix(),
		Name:      model.EventGate,
		Payload:   report,
	}
	if err := w.storage.PutEventBatch([]model.Event{event}); err != nil {
		return fmt.Errorf("store gate report: %w", err)
	}

	switch {
	case report.Ready:
		w.logger.Info("rebalance gate open",
			zap.Uint64("block", block),
			zap.Int("tick", tick),
			zap.Int("twap", twap),
		)
	case errors.Is(gateErr, vault.ErrTwapDeviation):
		w.logger.Warn("rebalance gate closed",
			zap.Uint64("block", block),
			zap.Int("tick", tick),
			zap.Int("twap", twap),
			zap.Int("deviation", dev),
		)
	default:
		w.logger.Info("rebalance gate closed",
			zap.Uint64("block", block),
			zap.Int("tick", tick),
			zap.String("reason", report.Reason),
		)
	}
	return nil
}

func (w *Watcher) filterLogsWithRetry(ctx context.Context, fromBlock, toBlock uint64, swapTopic common.Hash) ([]types.Log, error) {
	var logs []types.Log
	err := withRetry(ctx, w.cfg.MaxRetries, w.cfg.RetryBackoff, func(ctx context.Context) error {
		var err error
		logs, err = w.chain.FilterLogs(ctx, fromBlock, toBlock, []common.Address{w.cfg.Pool}, []common.Hash{swapTopic})
		if err != nil {
			w.logger.Warn("filter logs failed", zap.Error(err), zap.Uint64("from", fromBlock), zap.Uint64("to", toBlock))
		}
		return err
	})
	return logs, err
}

func (w *Watcher) blockTimestampWithRetry(ctx context.Context, blockNumber uint64) (uint64, error) {
	var ts uint64
	err := withRetry(ctx, w.cfg.MaxRetries, w.cfg.RetryBackoff, func(ctx context.Context) error {
		var err error
		ts, err = w.chain.BlockTimestamp(ctx, blockNumber)
		if err != nil {
			w.logger.Warn("block timestamp fetch failed", zap.Error(err), zap.Uint64("block_number", blockNumber))
		}
		return err
	})
	return ts, err
}

func (w *Watcher) isDuplicate(log types.Log) bool {
	id := fmt.Sprintf("%d:%s:%d", log.BlockNumber, log.TxHash.Hex(), log.Index)
	if _, ok := w.seen[id]; ok {
		return true
	}
	w.seen[id] = struct{}{}
	return false
}
