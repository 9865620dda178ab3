// Package config loads the fund engine's configuration tree with viper:
// defaults, then an optional YAML file, then FUND_* environment variables.
package config

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"github.com/atmx/fund-engine/internal/params"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Log       LogConfig       `mapstructure:"log"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	NATS      NATSConfig      `mapstructure:"nats"`
	Fund      FundConfig      `mapstructure:"fund"`
	Keeper    KeeperConfig    `mapstructure:"keeper"`
	Simulator SimulatorConfig `mapstructure:"simulator"`

	// Parameters are the fund's initial configuration entries, validated by
	// the same setters as runtime updates.
	Parameters map[string]string `mapstructure:"parameters"`
}

type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

type DatabaseConfig struct {
	URL     string `mapstructure:"url"`
	Migrate bool   `mapstructure:"migrate"`
}

type RedisConfig struct {
	URL      string        `mapstructure:"url"`
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
}

type NATSConfig struct {
	URL string `mapstructure:"url"`
}

type FundConfig struct {
	Account            string `mapstructure:"account"`
	Administrator      string `mapstructure:"administrator"`
	Manager            string `mapstructure:"manager"`
	Maintainer         string `mapstructure:"maintainer"`
	Capacity           string `mapstructure:"capacity"`
	CollateralDecimals int    `mapstructure:"collateral_decimals"`
	Inversed           bool   `mapstructure:"inversed"`
	SettlementSlippage string `mapstructure:"settlement_slippage"`
	// TargetLeverage seeds the target-leverage strategy's signal.
	TargetLeverage string `mapstructure:"target_leverage"`
}

type KeeperConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	Account        string        `mapstructure:"account"`
	EmergencyWatch string        `mapstructure:"emergency_watch"`
	NAVSnapshot    string        `mapstructure:"nav_snapshot"`
	JobTimeout     time.Duration `mapstructure:"job_timeout"`
}

// SimulatorConfig drives the in-process Position Service used when no
// external venue is wired.
type SimulatorConfig struct {
	MarkPrice         string `mapstructure:"mark_price"`
	InitialMarginRate string `mapstructure:"initial_margin_rate"`
	// Wallets are initial collateral wallet balances by holder.
	Wallets map[string]string `mapstructure:"wallets"`
}

// Load reads configuration. path may be empty, in which case only defaults
// and the environment apply.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("FUND")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.read_timeout", "10s")
	v.SetDefault("server.write_timeout", "10s")
	v.SetDefault("server.shutdown_timeout", "5s")
	v.SetDefault("log.level", "info")
	v.SetDefault("database.url", "")
	v.SetDefault("database.migrate", true)
	v.SetDefault("redis.url", "")
	v.SetDefault("redis.cache_ttl", "30s")
	v.SetDefault("nats.url", "")
	v.SetDefault("fund.account", "fund")
	v.SetDefault("fund.administrator", "admin")
	v.SetDefault("fund.manager", "")
	v.SetDefault("fund.maintainer", "")
	v.SetDefault("fund.capacity", "1000000")
	v.SetDefault("fund.collateral_decimals", 18)
	v.SetDefault("fund.inversed", false)
	v.SetDefault("fund.settlement_slippage", "0.01")
	v.SetDefault("fund.target_leverage", "1")
	v.SetDefault("keeper.enabled", true)
	v.SetDefault("keeper.account", "keeper")
	v.SetDefault("keeper.emergency_watch", "*/15 * * * * *")
	v.SetDefault("keeper.nav_snapshot", "0 * * * * *")
	v.SetDefault("keeper.job_timeout", "30s")
	v.SetDefault("simulator.mark_price", "100")
	v.SetDefault("simulator.initial_margin_rate", "0.1")

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// SlogLevel maps the configured level name to a slog.Level.
func (c LogConfig) SlogLevel() slog.Level {
	switch strings.ToLower(c.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// FundParams builds the initial fund configuration from Parameters. Keys
// are matched case-insensitively since viper lowercases map keys.
func (c Config) FundParams() (params.Params, error) {
	byLower := make(map[string]params.Key, len(params.Keys()))
	for _, k := range params.Keys() {
		byLower[strings.ToLower(string(k))] = k
	}

	names := make([]string, 0, len(c.Parameters))
	for name := range c.Parameters {
		names = append(names, name)
	}
	sort.Strings(names)

	entries := make([]params.Entry, 0, len(names))
	for _, name := range names {
		key, ok := byLower[strings.ToLower(name)]
		if !ok {
			return params.Params{}, fmt.Errorf("config: parameters: %w: %q", params.ErrUnrecognizedKey, name)
		}
		entries = append(entries, params.Entry{Key: key, Value: c.Parameters[name]})
	}
	p, err := params.Params{}.Apply(entries)
	if err != nil {
		return params.Params{}, fmt.Errorf("config: parameters: %w", err)
	}
	return p, nil
}

// Decimal parses a decimal config value; name is used in the error.
func Decimal(name, raw string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("config: %s: %w", name, err)
	}
	return d, nil
}
