package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/rustyeddy/tradekeeper/market"
	"github.com/rustyeddy/tradekeeper/risk"
)

// EnvPrefix prefixes environment overrides: TRADER_LOG_LEVEL=debug sets
// log.level.
const EnvPrefix = "TRADER"

// Config represents the complete service configuration
type Config struct {
	Log         LogConfig                     `json:"log" yaml:"log" mapstructure:"log"`
	Server      ServerConfig                  `json:"server" yaml:"server" mapstructure:"server"`
	Accounts    []AccountConfig               `json:"accounts" yaml:"accounts" mapstructure:"accounts"`
	Risk        RiskConfig                    `json:"risk" yaml:"risk" mapstructure:"risk"`
	Strategies  map[string]risk.ScalingPolicy `json:"strategies,omitempty" yaml:"strategies,omitempty" mapstructure:"strategies"`
	Instruments []market.InstrumentMeta       `json:"instruments,omitempty" yaml:"instruments,omitempty" mapstructure:"instruments"`
}

type LogConfig struct {
	Level             string `json:"level" yaml:"level" mapstructure:"level"`
	Encoding          string `json:"encoding" yaml:"encoding" mapstructure:"encoding"` // "json" or "console"
	Development       bool   `json:"development" yaml:"development" mapstructure:"development"`
	Sampling          bool   `json:"sampling" yaml:"sampling" mapstructure:"sampling"`
	DisableCaller     bool   `json:"disable_caller" yaml:"disable_caller" mapstructure:"disable_caller"`
	DisableStacktrace bool   `json:"disable_stacktrace" yaml:"disable_stacktrace" mapstructure:"disable_stacktrace"`
}

type ServerConfig struct {
	Addr string `json:"addr" yaml:"addr" mapstructure:"addr"`
	Mode string `json:"mode" yaml:"mode" mapstructure:"mode"` // gin mode: "debug" or "release"
}

// AccountConfig describes one broker account. Each account keeps its own
// state directory and ledger.
type AccountConfig struct {
	ID         string           `json:"id" yaml:"id" mapstructure:"id"`
	StateDir   string           `json:"state_dir" yaml:"state_dir" mapstructure:"state_dir"`
	Equity     float64          `json:"equity" yaml:"equity" mapstructure:"equity"`
	FillSource FillSourceConfig `json:"fill_source" yaml:"fill_source" mapstructure:"fill_source"`
	Journal    JournalConfig    `json:"journal" yaml:"journal" mapstructure:"journal"`
	Reconcile  ReconcileConfig  `json:"reconcile" yaml:"reconcile" mapstructure:"reconcile"`
}

// FillSourceConfig selects where fills come from.
type FillSourceConfig struct {
	Type     string        `json:"type" yaml:"type" mapstructure:"type"` // "rest" or "replay"
	BaseURL  string        `json:"base_url,omitempty" yaml:"base_url,omitempty" mapstructure:"base_url"`
	TokenEnv string        `json:"token_env,omitempty" yaml:"token_env,omitempty" mapstructure:"token_env"`
	Path     string        `json:"path,omitempty" yaml:"path,omitempty" mapstructure:"path"`
	Timeout  time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty" mapstructure:"timeout"`
}

// Token reads the bearer token from the configured environment variable.
func (f FillSourceConfig) Token() string {
	if f.TokenEnv == "" {
		return ""
	}
	return os.Getenv(f.TokenEnv)
}

type JournalConfig struct {
	Type string `json:"type" yaml:"type" mapstructure:"type"` // "jsonl" or "sqlite"
	Path string `json:"path,omitempty" yaml:"path,omitempty" mapstructure:"path"`
}

type ReconcileConfig struct {
	Schedule     string        `json:"schedule" yaml:"schedule" mapstructure:"schedule"`
	SafetyWindow time.Duration `json:"safety_window" yaml:"safety_window" mapstructure:"safety_window"`
	FetchTimeout time.Duration `json:"fetch_timeout" yaml:"fetch_timeout" mapstructure:"fetch_timeout"`
}

type RiskConfig struct {
	Limits         risk.Limits        `json:"limits" yaml:"limits" mapstructure:"limits"`
	Sizing         risk.Sizing        `json:"sizing" yaml:"sizing" mapstructure:"sizing"`
	DefaultPolicy  risk.ScalingPolicy `json:"default_policy" yaml:"default_policy" mapstructure:"default_policy"`
	ReservationTTL time.Duration      `json:"reservation_ttl" yaml:"reservation_ttl" mapstructure:"reservation_ttl"`
}

const (
	DefaultSchedule     = "@every 5m"
	DefaultSafetyWindow = 24 * time.Hour
	DefaultFetchTimeout = 30 * time.Second
)

// Load reads a YAML (or JSON) config file. Values missing from the file
// take their defaults and TRADER_* environment variables override scalar
// keys. The result is validated.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetConfigFile(path)
	if ext := strings.ToLower(filepath.Ext(path)); ext == ".json" {
		v.SetConfigType("json")
	} else {
		v.SetConfigType("yaml")
	}
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoadFromFile is Load under the name older callers use.
func LoadFromFile(path string) (*Config, error) {
	return Load(path)
}

func setDefaults(v *viper.Viper) {
	def := Default()
	v.SetDefault("log.level", def.Log.Level)
	v.SetDefault("log.encoding", def.Log.Encoding)
	v.SetDefault("log.development", def.Log.Development)
	v.SetDefault("log.sampling", def.Log.Sampling)
	v.SetDefault("log.disable_caller", false)
	v.SetDefault("log.disable_stacktrace", false)
	v.SetDefault("server.addr", def.Server.Addr)
	v.SetDefault("server.mode", def.Server.Mode)

	lim := def.Risk.Limits
	v.SetDefault("risk.limits.max_consecutive_losses", lim.MaxConsecutiveLosses)
	v.SetDefault("risk.limits.max_daily_loss_pct", lim.MaxDailyLossPct)
	v.SetDefault("risk.limits.max_daily_trades", lim.MaxDailyTrades)
	v.SetDefault("risk.limits.max_symbol_position_pct", lim.MaxSymbolPositionPct)
	v.SetDefault("risk.limits.max_portfolio_position_pct", lim.MaxPortfolioPositionPct)
	v.SetDefault("risk.limits.max_portfolio_heat_pct", lim.MaxPortfolioHeatPct)

	sz := def.Risk.Sizing
	v.SetDefault("risk.sizing.risk_per_trade", sz.RiskPerTrade)
	v.SetDefault("risk.sizing.default_stop_pct", sz.DefaultStopPct)
	v.SetDefault("risk.sizing.min_confidence_multiplier", sz.MinConfidenceMultiplier)
	v.SetDefault("risk.sizing.max_confidence_multiplier", sz.MaxConfidenceMultiplier)

	pol := def.Risk.DefaultPolicy
	v.SetDefault("risk.default_policy.max_entries_per_symbol", pol.MaxEntriesPerSymbol)
	v.SetDefault("risk.default_policy.scaling_mode", string(pol.ScalingMode))
	v.SetDefault("risk.reservation_ttl", def.Risk.ReservationTTL)
}

// applyDefaults fills per-account values that viper cannot default inside
// a list.
func (c *Config) applyDefaults() {
	for i := range c.Accounts {
		a := &c.Accounts[i]
		if a.StateDir == "" && a.ID != "" {
			a.StateDir = filepath.Join("state", a.ID)
		}
		if a.Journal.Type == "" {
			a.Journal.Type = "jsonl"
		}
		if a.Journal.Path == "" {
			name := "trades.jsonl"
			if a.Journal.Type == "sqlite" {
				name = "trades.sqlite"
			}
			a.Journal.Path = filepath.Join(a.StateDir, name)
		}
		if a.Reconcile.Schedule == "" {
			a.Reconcile.Schedule = DefaultSchedule
		}
		if a.Reconcile.SafetyWindow == 0 {
			a.Reconcile.SafetyWindow = DefaultSafetyWindow
		}
		if a.Reconcile.FetchTimeout == 0 {
			a.Reconcile.FetchTimeout = DefaultFetchTimeout
		}
	}
}

// SaveToFile saves configuration to a file (JSON or YAML based on extension)
func (c *Config) SaveToFile(path string) error {
	var data []byte
	var err error

	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		data, err = json.MarshalIndent(c, "", "  ")
	default:
		data, err = yaml.Marshal(c)
	}
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}

// Account returns the account with the given id.
func (c *Config) Account(id string) (AccountConfig, bool) {
	for _, a := range c.Accounts {
		if a.ID == id {
			return a, true
		}
	}
	return AccountConfig{}, false
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	switch c.Log.Encoding {
	case "json", "console":
	default:
		return fmt.Errorf("log.encoding must be 'json' or 'console'")
	}
	if len(c.Accounts) == 0 {
		return fmt.Errorf("at least one account is required")
	}

	seen := make(map[string]bool, len(c.Accounts))
	for i, a := range c.Accounts {
		if err := a.Validate(); err != nil {
			return fmt.Errorf("accounts[%d]: %w", i, err)
		}
		if seen[a.ID] {
			return fmt.Errorf("accounts[%d]: duplicate id %q", i, a.ID)
		}
		seen[a.ID] = true
	}

	if err := c.Risk.Limits.Validate(); err != nil {
		return fmt.Errorf("risk.limits: %w", err)
	}
	if err := c.Risk.Sizing.Validate(); err != nil {
		return fmt.Errorf("risk.sizing: %w", err)
	}
	if err := c.Risk.DefaultPolicy.Validate(); err != nil {
		return fmt.Errorf("risk.default_policy: %w", err)
	}
	if c.Risk.ReservationTTL < 0 {
		return fmt.Errorf("risk.reservation_ttl must not be negative")
	}
	for name, p := range c.Strategies {
		if err := p.Validate(); err != nil {
			return fmt.Errorf("strategies.%s: %w", name, err)
		}
	}
	for _, in := range c.Instruments {
		if err := in.Validate(); err != nil {
			return fmt.Errorf("instruments: %w", err)
		}
	}
	return nil
}

func (a AccountConfig) Validate() error {
	if strings.TrimSpace(a.ID) == "" {
		return fmt.Errorf("id is required")
	}
	if a.StateDir == "" {
		return fmt.Errorf("account %s: state_dir is required", a.ID)
	}
	if a.Equity < 0 {
		return fmt.Errorf("account %s: equity must not be negative", a.ID)
	}

	switch a.FillSource.Type {
	case "rest":
		if a.FillSource.BaseURL == "" {
			return fmt.Errorf("account %s: fill_source.base_url required for rest type", a.ID)
		}
	case "replay":
		if a.FillSource.Path == "" {
			return fmt.Errorf("account %s: fill_source.path required for replay type", a.ID)
		}
	default:
		return fmt.Errorf("account %s: fill_source.type must be 'rest' or 'replay'", a.ID)
	}
	if a.FillSource.Timeout < 0 {
		return fmt.Errorf("account %s: fill_source.timeout must not be negative", a.ID)
	}

	if a.Journal.Type != "jsonl" && a.Journal.Type != "sqlite" {
		return fmt.Errorf("account %s: journal.type must be 'jsonl' or 'sqlite'", a.ID)
	}
	if a.Journal.Path == "" {
		return fmt.Errorf("account %s: journal.path is required", a.ID)
	}
	if a.Reconcile.SafetyWindow <= 0 || a.Reconcile.FetchTimeout <= 0 {
		return fmt.Errorf("account %s: reconcile.safety_window and fetch_timeout must be positive", a.ID)
	}
	return nil
}

// Default returns a configuration with sensible defaults
func Default() *Config {
	cfg := &Config{
		Log: LogConfig{
			Level:    "info",
			Encoding: "json",
		},
		Server: ServerConfig{
			Addr: ":8080",
			Mode: "release",
		},
		Accounts: []AccountConfig{
			{
				ID:       "paper",
				StateDir: "./state/paper",
				Equity:   100000,
				FillSource: FillSourceConfig{
					Type: "replay",
					Path: "./fills.jsonl",
				},
				Journal: JournalConfig{
					Type: "jsonl",
				},
			},
		},
		Risk: RiskConfig{
			Limits:         risk.DefaultLimits(),
			Sizing:         risk.DefaultSizing(),
			DefaultPolicy:  risk.DefaultPolicy(),
			ReservationTTL: 10 * time.Minute,
		},
		Strategies: map[string]risk.ScalingPolicy{
			"breakout": {
				AllowsMultipleEntries: true,
				MaxEntriesPerSymbol:   3,
				MaxTotalPositionPct:   0.2,
				ScalingMode:           risk.Pyramid,
				MinTimeBetweenEntries: 4 * time.Hour,
			},
		},
		Instruments: []market.InstrumentMeta{
			{Symbol: "AAPL", QuantityStep: 1, MinQuantity: 1, MinNotional: 1},
		},
	}
	cfg.applyDefaults()
	return cfg
}
