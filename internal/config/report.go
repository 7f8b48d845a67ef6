package config

import (
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// ReportConfig holds configuration for the report command.
type ReportConfig struct {
	Input        string
	Window       string
	PGDSN        string
	VaultAddress string
	StateName    string
	LogLevel     string
}

// LoadReport merges config file, environment variables, and flags into
// ReportConfig.
func LoadReport(cfgFile string, flags *pflag.FlagSet) (ReportConfig, error) {
	v, err := newViper(cfgFile, flags, func(v *viper.Viper) {
		v.SetDefault("window", "1h")
		v.SetDefault("log-level", "info")
	})
	if err != nil {
		return ReportConfig{}, err
	}

	cfg := ReportConfig{
		Input:        v.GetString("in"),
		Window:       v.GetString("window"),
		PGDSN:        v.GetString("pg-dsn"),
		VaultAddress: v.GetString("vault"),
		StateName:    v.GetString("state-name"),
		LogLevel:     v.GetString("log-level"),
	}

	return cfg, nil
}
