package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"quantbot/internal/domain"
)

// RegimeWeights is the fusion weight triple applied under one regime.
type RegimeWeights struct {
	Technical float64 `yaml:"technical"`
	ML        float64 `yaml:"ml"`
	Sentiment float64 `yaml:"sentiment"`
}

// FusionConfig configures the regime-gated signal combiner.
type FusionConfig struct {
	// RegimeWeights maps regime name -> weight triple. Validated to be
	// total over the Regime enumeration: the "choppy" entry is required
	// and backfills any missing regime, so lookups never fall through
	// silently at combine time.
	RegimeWeights      map[string]RegimeWeights `yaml:"regime_weights"`
	ChoppyScale        float64                  `yaml:"choppy_scale"`
	DirectionThreshold float64                  `yaml:"direction_threshold"`
}

// RiskConfig holds pre-trade gate and sizing thresholds.
// MaxConcentrationPct and MaxPositionPct are evaluated over the same
// ratio today but stay independently configurable.
type RiskConfig struct {
	VolTarget                 float64 `yaml:"vol_target"`
	MaxPositionPct            float64 `yaml:"max_position_pct"`
	MaxDrawdownPct            float64 `yaml:"max_drawdown_pct"`
	MaxConcentrationPct       float64 `yaml:"max_concentration_pct"`
	MinTradeUSD               float64 `yaml:"min_trade_usd"`
	StalenessThresholdMinutes int     `yaml:"staleness_threshold_minutes"`
}

// ExecutionConfig selects paper or live execution and its cost model.
type ExecutionConfig struct {
	Mode        string  `yaml:"mode"` // "paper" or "live"
	SlippageBps float64 `yaml:"slippage_bps"`
	FeeBps      float64 `yaml:"fee_bps"`
}

// PortfolioConfig seeds the portfolio store.
type PortfolioConfig struct {
	InitialEquity   float64 `yaml:"initial_equity"`
	VolLookbackBars int     `yaml:"vol_lookback_bars"`
}

// UniverseConfig lists the symbols the pipeline iterates.
type UniverseConfig struct {
	Symbols      []string `yaml:"symbols"`
	Timeframe    string   `yaml:"timeframe"`
	LookbackBars int      `yaml:"lookback_bars"`
}

// WorkerConfig holds the four scheduler cadences and retention windows.
type WorkerConfig struct {
	SignalIntervalHours    int `yaml:"signal_interval_hours"`
	CandleIntervalHours    int `yaml:"candle_interval_hours"`
	CleanupIntervalMinutes int `yaml:"cleanup_interval_minutes"`
	HealthIntervalSeconds  int `yaml:"health_interval_seconds"`
	CandleBackfillBars     int `yaml:"candle_backfill_bars"`
	RetentionDays          int `yaml:"retention_days"`
}

// ExchangeConfig configures the live venue adapter.
type ExchangeConfig struct {
	APIKey       string `yaml:"-"`
	SecretKey    string `yaml:"-"`
	UseTestnet   bool   `yaml:"use_testnet"`
	RateLimitRPM int    `yaml:"rate_limit_rpm"`
}

// Config holds all application configuration.
type Config struct {
	Universe  UniverseConfig  `yaml:"universe"`
	Fusion    FusionConfig    `yaml:"fusion"`
	Risk      RiskConfig      `yaml:"risk"`
	Execution ExecutionConfig `yaml:"execution"`
	Portfolio PortfolioConfig `yaml:"portfolio"`
	Worker    WorkerConfig    `yaml:"worker"`
	Exchange  ExchangeConfig  `yaml:"exchange"`

	DBPath    string `yaml:"db_path"`
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"` // "text" or "json"
}

// Defaults returns a Config populated with conservative defaults. The
// choppy weight triple is the guaranteed fallback for every regime.
func Defaults() *Config {
	return &Config{
		Universe: UniverseConfig{
			Symbols:      []string{"BTCUSDT"},
			Timeframe:    "4h",
			LookbackBars: 500,
		},
		Fusion: FusionConfig{
			RegimeWeights: map[string]RegimeWeights{
				string(domain.RegimeTrending):      {Technical: 0.4, ML: 0.5, Sentiment: 0.1},
				string(domain.RegimeMeanReverting): {Technical: 0.6, ML: 0.3, Sentiment: 0.1},
				string(domain.RegimeChoppy):        {Technical: 0.33, ML: 0.34, Sentiment: 0.33},
			},
			ChoppyScale:        0.3,
			DirectionThreshold: 0.05,
		},
		Risk: RiskConfig{
			VolTarget:                 0.15,
			MaxPositionPct:            0.25,
			MaxDrawdownPct:            0.15,
			MaxConcentrationPct:       0.30,
			MinTradeUSD:               10.0,
			StalenessThresholdMinutes: 30,
		},
		Execution: ExecutionConfig{
			Mode:        "paper",
			SlippageBps: 5.0,
			FeeBps:      10.0,
		},
		Portfolio: PortfolioConfig{
			InitialEquity:   100_000.0,
			VolLookbackBars: 100,
		},
		Worker: WorkerConfig{
			SignalIntervalHours:    4,
			CandleIntervalHours:    1,
			CleanupIntervalMinutes: 15,
			HealthIntervalSeconds:  30,
			CandleBackfillBars:     200,
			RetentionDays:          90,
		},
		Exchange: ExchangeConfig{
			UseTestnet:   true,
			RateLimitRPM: 1200,
		},
		DBPath:    "./data/quantbot.db",
		LogLevel:  "INFO",
		LogFormat: "text",
	}
}

// Load reads configuration from an optional YAML file with environment
// variable overrides (.env supported via godotenv), then validates it.
func Load(path string) (*Config, error) {
	// Load .env file, but don't fail if it doesn't exist (allow pure env vars)
	_ = godotenv.Load()

	cfg := Defaults()

	if path == "" {
		path = getEnv("CONFIG_PATH", "config/config.yaml")
	}
	if raw, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file '%s': %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read config file '%s': %w", path, err)
	}

	// Environment overrides (secrets and deploy-specific knobs only)
	cfg.Exchange.APIKey = getEnv("BINANCE_API_KEY", cfg.Exchange.APIKey)
	cfg.Exchange.SecretKey = getEnv("BINANCE_API_SECRET", cfg.Exchange.SecretKey)
	cfg.Exchange.UseTestnet = getEnvAsBool("IS_TESTNET", cfg.Exchange.UseTestnet)
	cfg.DBPath = getEnv("DB_PATH", cfg.DBPath)
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)
	cfg.LogFormat = getEnv("LOG_FORMAT", cfg.LogFormat)
	cfg.Execution.Mode = getEnv("EXECUTION_MODE", cfg.Execution.Mode)
	cfg.Portfolio.InitialEquity = getEnvAsFloat("INITIAL_EQUITY", cfg.Portfolio.InitialEquity)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration and normalizes the fusion weight
// map to be total over the regime enumeration.
func (c *Config) Validate() error {
	var errs []string

	if len(c.Universe.Symbols) == 0 {
		errs = append(errs, "universe.symbols must list at least one symbol")
	}
	if c.Universe.Timeframe == "" {
		errs = append(errs, "universe.timeframe must be set")
	}
	if c.Universe.LookbackBars <= 0 {
		errs = append(errs, "universe.lookback_bars must be positive")
	}

	// Fusion: choppy is the mandatory default; every regime must resolve.
	choppy, ok := c.Fusion.RegimeWeights[string(domain.RegimeChoppy)]
	if !ok {
		errs = append(errs, "fusion.regime_weights must include a 'choppy' entry (guaranteed default)")
	} else {
		for _, r := range domain.AllRegimes() {
			if _, ok := c.Fusion.RegimeWeights[string(r)]; !ok {
				c.Fusion.RegimeWeights[string(r)] = choppy
			}
		}
	}
	for name := range c.Fusion.RegimeWeights {
		if !isKnownRegime(name) {
			errs = append(errs, fmt.Sprintf("fusion.regime_weights contains unknown regime %q", name))
		}
	}
	if c.Fusion.ChoppyScale <= 0 || c.Fusion.ChoppyScale >= 1 {
		errs = append(errs, "fusion.choppy_scale must be between 0 and 1 (exclusive)")
	}
	if c.Fusion.DirectionThreshold < 0 || c.Fusion.DirectionThreshold >= 1 {
		errs = append(errs, "fusion.direction_threshold must be in [0, 1)")
	}

	if c.Risk.VolTarget <= 0 {
		errs = append(errs, "risk.vol_target must be positive")
	}
	if c.Risk.MaxPositionPct <= 0 || c.Risk.MaxPositionPct > 1 {
		errs = append(errs, "risk.max_position_pct must be in (0, 1]")
	}
	if c.Risk.MaxDrawdownPct <= 0 || c.Risk.MaxDrawdownPct >= 1 {
		errs = append(errs, "risk.max_drawdown_pct must be between 0 and 1 (exclusive)")
	}
	if c.Risk.MaxConcentrationPct <= 0 || c.Risk.MaxConcentrationPct > 1 {
		errs = append(errs, "risk.max_concentration_pct must be in (0, 1]")
	}
	if c.Risk.MinTradeUSD < 0 {
		errs = append(errs, "risk.min_trade_usd cannot be negative")
	}
	if c.Risk.StalenessThresholdMinutes <= 0 {
		errs = append(errs, "risk.staleness_threshold_minutes must be positive")
	}

	if c.Execution.Mode != "paper" && c.Execution.Mode != "live" {
		errs = append(errs, fmt.Sprintf("execution.mode must be 'paper' or 'live', got %q", c.Execution.Mode))
	}
	if c.Execution.SlippageBps < 0 {
		errs = append(errs, "execution.slippage_bps cannot be negative")
	}
	if c.Execution.FeeBps < 0 {
		errs = append(errs, "execution.fee_bps cannot be negative")
	}
	if c.Execution.Mode == "live" {
		if c.Exchange.APIKey == "" || c.Exchange.SecretKey == "" {
			errs = append(errs, "BINANCE_API_KEY and BINANCE_API_SECRET must be set in live mode")
		}
	}

	if c.Portfolio.InitialEquity <= 0 {
		errs = append(errs, "portfolio.initial_equity must be positive")
	}
	if c.Portfolio.VolLookbackBars <= 0 {
		errs = append(errs, "portfolio.vol_lookback_bars must be positive")
	}

	if c.Worker.SignalIntervalHours <= 0 || c.Worker.CandleIntervalHours <= 0 ||
		c.Worker.CleanupIntervalMinutes <= 0 || c.Worker.HealthIntervalSeconds <= 0 {
		errs = append(errs, "worker intervals must all be positive")
	}
	if c.Worker.RetentionDays <= 0 {
		errs = append(errs, "worker.retention_days must be positive")
	}
	if c.Exchange.RateLimitRPM <= 0 {
		errs = append(errs, "exchange.rate_limit_rpm must be positive")
	}
	if c.DBPath == "" {
		errs = append(errs, "db_path must be set")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// StalenessThreshold returns the staleness window as a duration.
func (c *Config) StalenessThreshold() time.Duration {
	return time.Duration(c.Risk.StalenessThresholdMinutes) * time.Minute
}

func isKnownRegime(name string) bool {
	for _, r := range domain.AllRegimes() {
		if string(r) == name {
			return true
		}
	}
	return false
}

// --- Env Var Helpers ---

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
