package config

import (
	"time"

	"github.com/spf13/viper"
)

// Config carries engine-wide settings. Values come from the
// environment (TXENGINE_ prefix) with an optional config file.
type Config struct {
	LogLevel          string
	QuotePollInterval time.Duration
	QuoteFetchTimeout time.Duration
	OrderStoreDSN     string
}

// Load reads configuration from the environment and, if set via
// TXENGINE_CONFIG_FILE, a yaml file. Missing keys fall back to
// defaults; the quote poll interval is clamped to at least one second
// so a misconfigured value cannot hammer the quote source.
func Load() *Config {
	v := viper.New()
	v.SetEnvPrefix("TXENGINE")
	v.AutomaticEnv()

	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("QUOTE_POLL_INTERVAL", "5s")
	v.SetDefault("QUOTE_FETCH_TIMEOUT", "10s")
	v.SetDefault("ORDER_STORE_DSN", "file::memory:?cache=shared")

	if file := v.GetString("CONFIG_FILE"); file != "" {
		v.SetConfigFile(file)
		// Env still wins over the file; a missing file is not fatal.
		_ = v.ReadInConfig()
	}

	cfg := &Config{
		LogLevel:          v.GetString("LOG_LEVEL"),
		QuotePollInterval: v.GetDuration("QUOTE_POLL_INTERVAL"),
		QuoteFetchTimeout: v.GetDuration("QUOTE_FETCH_TIMEOUT"),
		OrderStoreDSN:     v.GetString("ORDER_STORE_DSN"),
	}
	if cfg.QuotePollInterval < time.Second {
		cfg.QuotePollInterval = time.Second
	}
	return cfg
}
