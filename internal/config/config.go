// Package config loads runtime configuration with github.com/spf13/viper,
// the way the polymarket market-maker reference repo in the retrieved
// example pack configures itself: environment variables with a fixed
// prefix, optional config file, and defaults baked in so a bare `go run`
// with no environment still starts cleanly.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

// Config is every knob the server binary needs. The mapstructure tags double
// as the (upper-cased, prefixed) environment variable names viper binds to.
type Config struct {
	ListenAddr string `mapstructure:"listen_addr"`
	ListenPort int    `mapstructure:"listen_port"`

	DatabasePath string `mapstructure:"database_path"`

	LockTimeout     time.Duration `mapstructure:"lock_timeout"`
	LockRetries     int           `mapstructure:"lock_retries"`
	HubWorkers      int           `mapstructure:"hub_workers"`
	OperatorBalance int64         `mapstructure:"operator_balance"`

	LogLevel string `mapstructure:"log_level"`
}

const envPrefix = "PREDMKT"

// Load reads configuration from environment variables prefixed PREDMKT_
// and an optional config file named by PREDMKT_CONFIG_FILE (or
// ./predmkt.yaml if present), falling back to the defaults below.
func Load() (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()

	v.SetDefault("listen_addr", "0.0.0.0")
	v.SetDefault("listen_port", 8080)
	v.SetDefault("database_path", "predmkt.db")
	v.SetDefault("lock_timeout", 25*time.Millisecond)
	v.SetDefault("lock_retries", 3)
	v.SetDefault("hub_workers", 4)
	v.SetDefault("operator_balance", int64(1_000_000_000))
	v.SetDefault("log_level", "info")

	v.SetConfigType("yaml")
	if path := os.Getenv(envPrefix + "_CONFIG_FILE"); path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("predmkt")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	return cfg, nil
}
