package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"alphavault/internal/chain"
	"alphavault/internal/config"
	"alphavault/internal/dex"
	"alphavault/internal/storage"
	"alphavault/internal/vault"
	"alphavault/internal/watch"
)

func main() {
	root := &cobra.Command{
		Use:          "keeper",
		Short:        "Liquidity vault keeper",
		SilenceUsage: true,
	}

	root.PersistentFlags().String("config", "", "config file path")

	watchCmd := &cobra.Command{
		Use:   "watch",
		Short: "Watch a pool and evaluate the rebalance gate",
		RunE:  runWatch,
	}

	watchCmd.Flags().String("rpc", "", "RPC URL")
	watchCmd.Flags().String("pool", "", "pool contract address")
	watchCmd.Flags().Uint64("from", 0, "start block (inclusive)")
	watchCmd.Flags().Uint64("batch-size", 2000, "blocks per batch")
	watchCmd.Flags().Duration("poll-interval", 10*time.Second, "head poll interval")
	watchCmd.Flags().Bool("once", false, "exit after catching up to the chain head")
	watchCmd.Flags().String("out", "./data/pool_events.jsonl", "output JSONL path")
	watchCmd.Flags().String("checkpoint", "./data/checkpoint.json", "checkpoint file path")
	watchCmd.Flags().Bool("checkpoint-enabled", true, "enable checkpointing")
	watchCmd.Flags().Int("max-retries", 5, "maximum retry attempts")
	watchCmd.Flags().Duration("retry-backoff", 500*time.Millisecond, "initial retry backoff")
	watchCmd.Flags().Int("base-threshold", 600, "base range half-width in ticks")
	watchCmd.Flags().Int("limit-threshold", 1200, "limit range width in ticks")
	watchCmd.Flags().Int("max-twap-deviation", 100, "max spot-vs-TWAP deviation in ticks")
	watchCmd.Flags().Int64("twap-duration", 600, "TWAP window in seconds, 0 disables the check")
	watchCmd.Flags().Int64("rebalance-cooldown", 0, "minimum seconds between rebalances")
	watchCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(watchCmd)

	simulateCmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run a deterministic vault simulation",
		RunE:  runSimulate,
	}

	simulateCmd.Flags().Int("steps", 10_000, "simulation steps")
	simulateCmd.Flags().Int64("seed", 1, "random seed")
	simulateCmd.Flags().Int64("step-seconds", 60, "seconds per step")
	simulateCmd.Flags().Int("tick-spacing", 60, "pool tick spacing")
	simulateCmd.Flags().Int("initial-tick", 0, "initial pool tick")
	simulateCmd.Flags().Int("tick-volatility", 30, "max tick move per step")
	simulateCmd.Flags().Uint64("fee-per-step", 100, "fees accrued per step per token")
	simulateCmd.Flags().Uint64("deposit-amount", 1_000_000, "deposit size per user action")
	simulateCmd.Flags().Int("deposit-every", 50, "steps between deposits")
	simulateCmd.Flags().Int("withdraw-every", 175, "steps between withdrawals")
	simulateCmd.Flags().Int("flush-every", 500, "steps between event flushes")
	simulateCmd.Flags().String("out", "./data/sim_events.jsonl", "output JSONL path")
	simulateCmd.Flags().Int("base-threshold", 600, "base range half-width in ticks")
	simulateCmd.Flags().Int("limit-threshold", 1200, "limit range width in ticks")
	simulateCmd.Flags().Int("max-twap-deviation", 100, "max spot-vs-TWAP deviation in ticks")
	simulateCmd.Flags().Int64("twap-duration", 600, "TWAP window in seconds, 0 disables the check")
	simulateCmd.Flags().Int64("rebalance-cooldown", 3600, "minimum seconds between rebalances")
	simulateCmd.Flags().Uint64("max-total-supply", 0, "share supply cap, 0 means unlimited")
	simulateCmd.Flags().Uint64("protocol-fee-rate", 100_000, "protocol cut of swap fees in ppm")
	simulateCmd.Flags().Uint64("streaming-fee-rate", 0, "annualized streaming fee in ppm")
	simulateCmd.Flags().Uint64("deposit-fee-rate", 0, "deposit fee in ppm")
	simulateCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(simulateCmd)

	reportCmd := &cobra.Command{
		Use:   "report",
		Short: "Aggregate vault events into window metrics",
		RunE:  runReport,
	}

	reportCmd.Flags().String("in", "", "input vault events JSONL")
	reportCmd.Flags().String("window", "1h", "aggregation window (e.g. 5m, 1h, 24h)")
	reportCmd.Flags().String("pg-dsn", "", "Postgres DSN (optional)")
	reportCmd.Flags().String("vault", "", "vault address for DB rows")
	reportCmd.Flags().String("state-name", "", "progress state name in the DB")
	reportCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(reportCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func runWatch(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadWatch(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if cfg.RPCURL == "" {
		return fmt.Errorf("rpc url is required")
	}
	if !common.IsHexAddress(cfg.Pool) {
		return fmt.Errorf("invalid pool address %q", cfg.Pool)
	}
	poolAddr := common.HexToAddress(cfg.Pool)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	chainClient, err := chain.NewClient(ctx, cfg.RPCURL)
	if err != nil {
		return fmt.Errorf("connect rpc: %w", err)
	}
	defer chainClient.Close()

	reader, err := dex.NewPoolReader(ctx, chainClient, poolAddr, dex.NewPoolMetaCache(), dex.NewTokenMetaCache(), logger)
	if err != nil {
		return fmt.Errorf("read pool metadata: %w", err)
	}

	storageSink := storage.NewJsonlStorage(cfg.Out)

	watcher := watch.NewWatcher(watch.RunConfig{
		Pool:              poolAddr,
		FromBlock:         cfg.FromBlock,
		BatchSize:         cfg.BatchSize,
		PollInterval:      cfg.PollInterval,
		Once:              cfg.Once,
		CheckpointPath:    cfg.Checkpoint,
		CheckpointEnabled: cfg.CheckpointEnabled,
		MaxRetries:        cfg.MaxRetries,
		RetryBackoff:      cfg.RetryBackoff,
		Gate: vault.Config{
			BaseThreshold:     cfg.BaseThreshold,
			LimitThreshold:    cfg.LimitThreshold,
			MaxTwapDeviation:  cfg.MaxTwapDeviation,
			TwapDuration:      cfg.TwapDuration,
			RebalanceCooldown: cfg.RebalanceCooldown,
		},
	}, chainClient, reader, storageSink, logger)

	logger.Info("watch start",
		zap.String("rpc", cfg.RPCURL),
		zap.String("pool", poolAddr.Hex()),
		zap.Uint64("from", cfg.FromBlock),
		zap.Uint64("batch_size", cfg.BatchSize),
		zap.String("out", cfg.Out),
		zap.Bool("checkpoint_enabled", cfg.CheckpointEnabled),
		zap.String("checkpoint", cfg.Checkpoint),
		zap.Bool("once", cfg.Once),
	)

	return watcher.Run(ctx)
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevel()
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}

	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build()
}
