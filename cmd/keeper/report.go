package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"alphavault/internal/config"
	"alphavault/internal/report"
	"alphavault/internal/storage/postgres"
)

func runReport(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadReport(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if cfg.Input == "" {
		return fmt.Errorf("input path is required")
	}

	windowDuration, err := time.ParseDuration(cfg.Window)
	if err != nil {
		return fmt.Errorf("invalid window: %w", err)
	}
	windowSeconds := int64(windowDuration.Seconds())
	if windowSeconds <= 0 {
		return fmt.Errorf("window must be at least 1s")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var store *postgres.Store
	if cfg.PGDSN != "" {
		store, err = postgres.NewStore(ctx, cfg.PGDSN)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		defer store.Close()
	}

	stateName := cfg.StateName
	if store != nil && stateName == "" {
		stateName = fmt.Sprintf("report:%s:%d", cfg.VaultAddress, windowSeconds)
	}

	agg := report.NewAggregator(report.Config{
		WindowSeconds: windowSeconds,
		VaultAddress:  cfg.VaultAddress,
		StateName:     stateName,
	}, store, logger)

	logger.Info("report start",
		zap.String("input", cfg.Input),
		zap.String("pg_dsn", redactDSN(cfg.PGDSN)),
		zap.Int64("window_seconds", windowSeconds),
		zap.String("vault", cfg.VaultAddress),
	)

	windows, err := agg.Run(ctx, cfg.Input)
	if err != nil {
		return err
	}

	for _, w := range windows {
		fields := []zap.Field{
			zap.Int64("window_start", w.WindowStart),
			zap.Int64("window_end", w.WindowEnd),
			zap.Uint64("deposits", w.Deposits),
			zap.Uint64("withdrawals", w.Withdrawals),
			zap.Uint64("rebalances", w.Rebalances),
			zap.String("deposit_amount0", w.DepositAmount0.String()),
			zap.String("deposit_amount1", w.DepositAmount1.String()),
			zap.String("withdraw_amount0", w.WithdrawAmount0.String()),
			zap.String("withdraw_amount1", w.WithdrawAmount1.String()),
			zap.String("fees_collected0", w.FeesCollected0.String()),
			zap.String("fees_collected1", w.FeesCollected1.String()),
			zap.String("protocol_fees0", w.ProtocolFees0.String()),
			zap.String("protocol_fees1", w.ProtocolFees1.String()),
		}
		if w.HasSnapshot {
			fields = append(fields,
				zap.Int("end_tick", w.EndTick),
				zap.String("end_total0", w.EndTotal0),
				zap.String("end_total1", w.EndTotal1),
				zap.String("end_shares", w.EndShares),
			)
		}
		logger.Info("window", fields...)
	}

	return nil
}

func redactDSN(dsn string) string {
	if dsn == "" {
		return dsn
	}
	return "***"
}
