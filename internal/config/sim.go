package config

import (
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// SimConfig holds configuration for the simulate command.
type SimConfig struct {
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
	Out            string
	LogLevel       string

	BaseThreshold     int
	LimitThreshold    int
	MaxTwapDeviation  int
	TwapDuration      int64
	RebalanceCooldown int64
	MaxTotalSupply    uint64
	ProtocolFeeRate   uint64
	StreamingFeeRate  uint64
	DepositFeeRate    uint64
}

// LoadSim merges config file, environment variables, and flags into
// SimConfig.
func LoadSim(cfgFile string, flags *pflag.FlagSet) (SimConfig, error) {
	v, err := newViper(cfgFile, flags, func(v *viper.Viper) {
		v.SetDefault("steps", 10_000)
		v.SetDefault("seed", int64(1))
		v.SetDefault("step-seconds", int64(60))
		v.SetDefault("tick-spacing", 60)
		v.SetDefault("tick-volatility", 30)
		v.SetDefault("fee-per-step", uint64(100))
		v.SetDefault("deposit-amount", uint64(1_000_000))
		v.SetDefault("deposit-every", 50)
		v.SetDefault("withdraw-every", 175)
		v.SetDefault("flush-every", 500)
		v.SetDefault("out", "./data/sim_events.jsonl")
		v.SetDefault("log-level", "info")
		v.SetDefault("base-threshold", 600)
		v.SetDefault("limit-threshold", 1200)
		v.SetDefault("max-twap-deviation", 100)
		v.SetDefault("twap-duration", int64(600))
		v.SetDefault("rebalance-cooldown", int64(3600))
		v.SetDefault("protocol-fee-rate", uint64(100_000))
	})
	if err != nil {
		return SimConfig{}, err
	}

	cfg := SimConfig{
		Steps:             v.GetInt("steps"),
		Seed:              v.GetInt64("seed"),
		StepSeconds:       v.GetInt64("step-seconds"),
		TickSpacing:       v.GetInt("tick-spacing"),
		InitialTick:       v.GetInt("initial-tick"),
		TickVolatility:    v.GetInt("tick-volatility"),
		FeePerStep:        v.GetUint64("fee-per-step"),
		DepositAmount:     v.GetUint64("deposit-amount"),
		DepositEvery:      v.GetInt("deposit-every"),
		WithdrawEvery:     v.GetInt("withdraw-every"),
		FlushEvery:        v.GetInt("flush-every"),
		Out:               v.GetString("out"),
		LogLevel:          v.GetString("log-level"),
		BaseThreshold:     v.GetInt("base-threshold"),
		LimitThreshold:    v.GetInt("limit-threshold"),
		MaxTwapDeviation:  v.GetInt("max-twap-deviation"),
		TwapDuration:      v.GetInt64("twap-duration"),
		RebalanceCooldown: v.GetInt64("rebalance-cooldown"),
		MaxTotalSupply:    v.GetUint64("max-total-supply"),
		ProtocolFeeRate:   v.GetUint64("protocol-fee-rate"),
		StreamingFeeRate:  v.GetUint64("streaming-fee-rate"),
		DepositFeeRate:    v.GetUint64("deposit-fee-rate"),
	}

	return cfg, nil
}
