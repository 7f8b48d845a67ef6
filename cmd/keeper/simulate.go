package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/holiman/uint256"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"alphavault/internal/config"
	"alphavault/internal/sim"
	"alphavault/internal/storage"
	"alphavault/internal/vault"
)

func runSimulate(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadSim(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	var supplyCap *uint256.Int
	if cfg.MaxTotalSupply > 0 {
		supplyCap = uint256.NewInt(cfg.MaxTotalSupply)
	}

	runCfg := sim.Config{
		Steps:          cfg.Steps,
		Seed:           cfg.Seed,
		StepSeconds:    cfg.StepSeconds,
		TickSpacing:    cfg.TickSpacing,
		InitialTick:    cfg.InitialTick,
		TickVolatility: cfg.TickVolatility,
		FeePerStep:     cfg.FeePerStep,
		DepositAmount:  cfg.DepositAmount,
		DepositEvery:   cfg.DepositEvery,
		WithdrawEvery:  cfg.WithdrawEvery,
		FlushEvery:     cfg.FlushEvery,
		Vault: vault.Config{
			BaseThreshold:     cfg.BaseThreshold,
			LimitThreshold:    cfg.LimitThreshold,
			MaxTwapDeviation:  cfg.MaxTwapDeviation,
			TwapDuration:      cfg.TwapDuration,
			RebalanceCooldown: cfg.RebalanceCooldown,
			MaxTotalSupply:    supplyCap,
			ProtocolFeeRate:   cfg.ProtocolFeeRate,
			StreamingFeeRate:  cfg.StreamingFeeRate,
			DepositFeeRate:    cfg.DepositFeeRate,
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	storageSink := storage.NewJsonlStorage(cfg.Out)

	runner := sim.NewRunner(runCfg, storageSink, logger)

	logger.Info("simulate start",
		zap.Int("steps", cfg.Steps),
		zap.Int64("seed", cfg.Seed),
		zap.Int("tick_spacing", cfg.TickSpacing),
		zap.Int("tick_volatility", cfg.TickVolatility),
		zap.String("out", cfg.Out),
	)

	summary, err := runner.Run(ctx)
	if err != nil {
		return err
	}

	logger.Info("simulate done",
		zap.Int("deposits", summary.Deposits),
		zap.Int("withdrawals", summary.Withdrawals),
		zap.Int("rebalances", summary.Rebalances),
		zap.Int("final_tick", summary.FinalTick),
		zap.String("final_total0", summary.FinalTotal0),
		zap.String("final_total1", summary.FinalTotal1),
		zap.String("final_shares", summary.FinalShares),
	)

	return nil
}
