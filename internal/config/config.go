package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all application configuration. Trading keys are flat so that
// an existing bot_config.json can be loaded unchanged; infrastructure lives in
// nested sections.
type Config struct {
	Symbols          []string          `yaml:"symbols"`
	SymbolGroups     map[string]string `yaml:"symbol_groups"`
	TradingDirection string            `yaml:"trading_direction"`
	Leverage         float64           `yaml:"leverage"`

	TimeframeSignal string `yaml:"timeframe_signal"`
	TimeframeTrend  string `yaml:"timeframe_trend"`
	TimeframeMTF    string `yaml:"timeframe_mtf"`
	CandleLimit     int    `yaml:"candle_limit"`

	RiskPerTrade         float64 `yaml:"risk_per_trade"`
	MaxTotalRisk         float64 `yaml:"max_total_risk"`
	MaxPositionsPerGroup int     `yaml:"max_positions_per_group"`
	MaxPositionPercent   float64 `yaml:"max_position_percent"`

	LookbackPeriod int     `yaml:"lookback_period"`
	VolumeMAPeriod int     `yaml:"volume_ma_period"`
	ATRPeriod      int     `yaml:"atr_period"`
	ATRMultiplier  float64 `yaml:"atr_multiplier"`
	ADXPeriod      int     `yaml:"adx_period"`
	EMAFast        int     `yaml:"ema_fast"`
	EMASlow        int     `yaml:"ema_slow"`
	MTFEMAFast     int     `yaml:"mtf_ema_fast"`
	MTFEMASlow     int     `yaml:"mtf_ema_slow"`

	ADXThreshold             float64 `yaml:"adx_threshold"`
	ADXBaseThreshold         float64 `yaml:"adx_base_threshold"`
	ADXStrongThreshold       float64 `yaml:"adx_strong_threshold"`
	ATRSpikeMultiplier       float64 `yaml:"atr_spike_multiplier"`
	EMAEntanglementThreshold float64 `yaml:"ema_entanglement_threshold"`
	RegimeLowRatio           float64 `yaml:"regime_low_ratio"`
	RegimeHighRatio          float64 `yaml:"regime_high_ratio"`
	ATRQuietMultiplier       float64 `yaml:"atr_quiet_multiplier"`
	ATRNormalMultiplier      float64 `yaml:"atr_normal_multiplier"`
	ATRVolatileMultiplier    float64 `yaml:"atr_volatile_multiplier"`

	VolExplosiveThreshold float64 `yaml:"vol_explosive_threshold"`
	VolStrongThreshold    float64 `yaml:"vol_strong_threshold"`
	VolModerateThreshold  float64 `yaml:"vol_moderate_threshold"`
	VolMinimumThreshold   float64 `yaml:"vol_minimum_threshold"`
	AcceptWeakSignals     bool    `yaml:"accept_weak_signals"`
	VolumeBreakoutMult    float64 `yaml:"volume_breakout_mult"`
	PullbackVolumeMin     float64 `yaml:"pullback_volume_min"`
	EMAPullbackThreshold  float64 `yaml:"ema_pullback_threshold"`

	FirstPartialPct       float64 `yaml:"first_partial_pct"`
	SecondPartialPct      float64 `yaml:"second_partial_pct"`
	APlusTrailingATRMult  float64 `yaml:"aplus_trailing_atr_mult"`
	MaxHoldHours          float64 `yaml:"max_hold_hours"`
	StructureBreakCandles int     `yaml:"structure_break_candles"`
	StructureBreakPct     float64 `yaml:"structure_break_pct"`

	TierAPositionMult float64 `yaml:"tier_a_position_mult"`
	TierBPositionMult float64 `yaml:"tier_b_position_mult"`
	TierCPositionMult float64 `yaml:"tier_c_position_mult"`

	EnableMarketFilter       bool `yaml:"enable_market_filter"`
	EnableDynamicThresholds  bool `yaml:"enable_dynamic_thresholds"`
	EnableVolumeGrading      bool `yaml:"enable_volume_grading"`
	EnableVolumeBreakout     bool `yaml:"enable_volume_breakout"`
	EnableEMAPullback        bool `yaml:"enable_ema_pullback"`
	EnableMTFConfirmation    bool `yaml:"enable_mtf_confirmation"`
	EnableTieredEntry        bool `yaml:"enable_tiered_entry"`
	EnableStructureBreakExit bool `yaml:"enable_structure_break_exit"`
	UseHardStopLoss          bool `yaml:"use_hard_stop_loss"`
	CloseOnShutdown          bool `yaml:"close_on_shutdown"`

	UseScannerSymbols    bool    `yaml:"use_scanner_symbols"`
	ScannerJSONPath      string  `yaml:"scanner_json_path"`
	ScannerMaxAgeMinutes float64 `yaml:"scanner_max_age_minutes"`

	CheckInterval      int `yaml:"check_interval"`
	MaxRetry           int `yaml:"max_retry"`
	RetryDelay         int `yaml:"retry_delay"`
	ExchangeTimeout    int `yaml:"exchange_timeout"`
	MaxParallelSymbols int `yaml:"max_parallel_symbols"`

	Exchange struct {
		Name         string  `yaml:"name"`
		APIKey       string  `yaml:"api_key"`
		APISecret    string  `yaml:"api_secret"`
		Testnet      bool    `yaml:"testnet"`
		RequestsPerS float64 `yaml:"requests_per_second"`
		PaperBalance float64 `yaml:"paper_balance"`
	} `yaml:"exchange"`
	Telegram struct {
		BotToken string `yaml:"bot_token"`
		ChatID   string `yaml:"chat_id"`
	} `yaml:"telegram"`
	Database struct {
		SQLitePath string `yaml:"sqlite_path"`
	} `yaml:"database"`
	State struct {
		File          string `yaml:"file"`
		RedisAddr     string `yaml:"redis_addr"`
		RedisPassword string `yaml:"redis_password"`
		RedisDB       int    `yaml:"redis_db"`
	} `yaml:"state"`
	Telemetry struct {
		ListenAddr string `yaml:"listen_addr"`
	} `yaml:"telemetry"`
	Log struct {
		Level string `yaml:"level"`
		JSON  bool   `yaml:"json"`
	} `yaml:"log"`
}

// Default returns the configuration used for every key the file omits.
func Default() *Config {
	cfg := &Config{
		Symbols: []string{"BTC/USDT", "ETH/USDT", "SOL/USDT"},
		SymbolGroups: map[string]string{
			"BTCUSDT": "layer1",
			"ETHUSDT": "layer1",
			"SOLUSDT": "layer1",
		},
		TradingDirection: "both",
		Leverage:         5,

		TimeframeSignal: "1h",
		TimeframeTrend:  "1d",
		TimeframeMTF:    "4h",
		CandleLimit:     100,

		RiskPerTrade:         0.01,
		MaxTotalRisk:         0.05,
		MaxPositionsPerGroup: 2,
		MaxPositionPercent:   0.3,

		LookbackPeriod: 20,
		VolumeMAPeriod: 20,
		ATRPeriod:      14,
		ATRMultiplier:  1.5,
		ADXPeriod:      14,
		EMAFast:        10,
		EMASlow:        20,
		MTFEMAFast:     20,
		MTFEMASlow:     50,

		ADXThreshold:             20,
		ADXBaseThreshold:         18,
		ADXStrongThreshold:       25,
		ATRSpikeMultiplier:       2.0,
		EMAEntanglementThreshold: 0.02,
		RegimeLowRatio:           0.8,
		RegimeHighRatio:          1.5,
		ATRQuietMultiplier:       1.2,
		ATRNormalMultiplier:      1.5,
		ATRVolatileMultiplier:    2.0,

		VolExplosiveThreshold: 2.5,
		VolStrongThreshold:    1.5,
		VolModerateThreshold:  1.0,
		VolMinimumThreshold:   0.7,
		AcceptWeakSignals:     true,
		VolumeBreakoutMult:    2.0,
		PullbackVolumeMin:     0.6,
		EMAPullbackThreshold:  0.02,

		FirstPartialPct:       30,
		SecondPartialPct:      30,
		APlusTrailingATRMult:  1.5,
		MaxHoldHours:          24,
		StructureBreakCandles: 10,
		StructureBreakPct:     0.005,

		TierAPositionMult: 1.0,
		TierBPositionMult: 0.7,
		TierCPositionMult: 0.5,

		EnableMarketFilter:       true,
		EnableDynamicThresholds:  true,
		EnableVolumeGrading:      true,
		EnableVolumeBreakout:     true,
		EnableEMAPullback:        true,
		EnableMTFConfirmation:    true,
		EnableTieredEntry:        true,
		EnableStructureBreakExit: true,
		UseHardStopLoss:          true,
		CloseOnShutdown:          true,

		ScannerJSONPath:      "hot_symbols.json",
		ScannerMaxAgeMinutes: 30,

		CheckInterval:      300,
		MaxRetry:           3,
		RetryDelay:         5,
		ExchangeTimeout:    10,
		MaxParallelSymbols: 4,
	}
	cfg.Exchange.Name = "paper"
	cfg.Exchange.RequestsPerS = 10
	cfg.Exchange.PaperBalance = 10000
	cfg.Database.SQLitePath = "data/breakout_sentinel.db"
	cfg.State.File = "data/positions.json"
	cfg.Telemetry.ListenAddr = ":8080"
	cfg.Log.Level = "info"
	return cfg
}

// Load reads config from a YAML (or JSON) file on top of Default, then applies
// environment variable overrides. A missing file yields the defaults; unknown
// keys are an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if len(bytes.TrimSpace(data)) > 0 {
		if err := Decode(bytes.NewReader(data), cfg); err != nil {
			return nil, err
		}
	}

	// Environment variable overrides
	if v := os.Getenv("BINANCE_API_KEY"); v != "" {
		cfg.Exchange.APIKey = v
	}
	if v := os.Getenv("BINANCE_API_SECRET"); v != "" {
		cfg.Exchange.APISecret = v
	}
	if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		cfg.Telegram.BotToken = v
	}
	if v := os.Getenv("TELEGRAM_CHAT_ID"); v != "" {
		cfg.Telegram.ChatID = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.State.RedisAddr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.State.RedisPassword = v
	}
	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.Database.SQLitePath = v
	}

	return cfg, nil
}

// Decode overlays the document read from r onto cfg.
func Decode(r io.Reader, cfg *Config) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parse config: %w", err)
	}
	return nil
}

// Validate checks ranges and cross-field constraints.
func (c *Config) Validate() error {
	if len(c.Symbols) == 0 && !c.UseScannerSymbols {
		return fmt.Errorf("symbols is required")
	}
	switch c.TradingDirection {
	case "long", "short", "both":
	default:
		return fmt.Errorf("trading_direction must be long, short or both, got %q", c.TradingDirection)
	}
	if c.Leverage <= 0 {
		return fmt.Errorf("leverage must be positive")
	}
	if c.RiskPerTrade <= 0 || c.RiskPerTrade > c.MaxTotalRisk {
		return fmt.Errorf("risk_per_trade must be in (0, max_total_risk]")
	}
	if c.MaxTotalRisk <= 0 || c.MaxTotalRisk >= 1 {
		return fmt.Errorf("max_total_risk must be in (0, 1)")
	}
	if c.MaxPositionsPerGroup < 1 {
		return fmt.Errorf("max_positions_per_group must be at least 1")
	}
	if c.MaxPositionPercent <= 0 || c.MaxPositionPercent > 1 {
		return fmt.Errorf("max_position_percent must be in (0, 1]")
	}
	for name, v := range map[string]int{
		"lookback_period":         c.LookbackPeriod,
		"volume_ma_period":        c.VolumeMAPeriod,
		"atr_period":              c.ATRPeriod,
		"adx_period":              c.ADXPeriod,
		"ema_fast":                c.EMAFast,
		"ema_slow":                c.EMASlow,
		"mtf_ema_fast":            c.MTFEMAFast,
		"mtf_ema_slow":            c.MTFEMASlow,
		"structure_break_candles": c.StructureBreakCandles,
	} {
		if v < 2 {
			return fmt.Errorf("%s must be at least 2", name)
		}
	}
	if c.EMAFast >= c.EMASlow {
		return fmt.Errorf("ema_fast must be shorter than ema_slow")
	}
	if c.MTFEMAFast >= c.MTFEMASlow {
		return fmt.Errorf("mtf_ema_fast must be shorter than mtf_ema_slow")
	}
	if !(c.VolExplosiveThreshold >= c.VolStrongThreshold &&
		c.VolStrongThreshold >= c.VolModerateThreshold &&
		c.VolModerateThreshold >= c.VolMinimumThreshold &&
		c.VolMinimumThreshold >= 0) {
		return fmt.Errorf("vol_*_threshold must be descending from explosive to minimum")
	}
	if c.RegimeLowRatio >= c.RegimeHighRatio {
		return fmt.Errorf("regime_low_ratio must be below regime_high_ratio")
	}
	if c.FirstPartialPct < 0 || c.SecondPartialPct < 0 || c.FirstPartialPct+c.SecondPartialPct > 100 {
		return fmt.Errorf("partial percentages must be non-negative and sum to at most 100")
	}
	if c.MaxHoldHours <= 0 {
		return fmt.Errorf("max_hold_hours must be positive")
	}
	if c.CheckInterval < 1 {
		return fmt.Errorf("check_interval must be at least 1 second")
	}
	if c.MaxRetry < 1 {
		return fmt.Errorf("max_retry must be at least 1")
	}
	if c.ExchangeTimeout < 1 {
		return fmt.Errorf("exchange_timeout must be at least 1 second")
	}
	if c.MaxParallelSymbols < 1 {
		return fmt.Errorf("max_parallel_symbols must be at least 1")
	}
	switch c.Exchange.Name {
	case "paper":
	case "binance":
		if c.Exchange.APIKey == "" || c.Exchange.APISecret == "" {
			return fmt.Errorf("exchange.api_key and exchange.api_secret are required for binance")
		}
	default:
		return fmt.Errorf("exchange.name must be paper or binance, got %q", c.Exchange.Name)
	}
	if c.Telegram.BotToken != "" && c.Telegram.ChatID == "" {
		return fmt.Errorf("telegram.chat_id is required when telegram.bot_token is set")
	}
	return nil
}

// Group returns the configured group for a normalized symbol.
func (c *Config) Group(symbol string) string {
	if g, ok := c.SymbolGroups[strings.ToUpper(symbol)]; ok && g != "" {
		return g
	}
	return "other"
}

func (c *Config) Interval() time.Duration {
	return time.Duration(c.CheckInterval) * time.Second
}

func (c *Config) Timeout() time.Duration {
	return time.Duration(c.ExchangeTimeout) * time.Second
}

func (c *Config) ScannerMaxAge() time.Duration {
	return time.Duration(c.ScannerMaxAgeMinutes * float64(time.Minute))
}

func (c *Config) MaxHold() time.Duration {
	return time.Duration(c.MaxHoldHours * float64(time.Hour))
}
