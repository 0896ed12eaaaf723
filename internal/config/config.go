// Package config handles configuration loading for indexsignal.
// It supports YAML config files with environment variable overrides and
// validates the resulting tuning parameters before the engine starts.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix for environment variable overrides.
const EnvPrefix = "INDEXSIGNAL"

// Config represents the complete application configuration.
type Config struct {
	Engine       EngineConfig       `mapstructure:"engine"       yaml:"engine"`
	Provider     ProviderConfig     `mapstructure:"provider"     yaml:"provider"`
	Cache        CacheConfig        `mapstructure:"cache"        yaml:"cache"`
	Structure    StructureConfig    `mapstructure:"structure"    yaml:"structure"`
	MTF          MTFConfig          `mapstructure:"mtf"          yaml:"mtf"`
	AMD          AMDConfig          `mapstructure:"amd"          yaml:"amd"`
	Constituents ConstituentConfig  `mapstructure:"constituents" yaml:"constituents"`
	Options      OptionsConfig      `mapstructure:"options"      yaml:"options"`
	Entry        EntryConfig        `mapstructure:"entry"        yaml:"entry"`
	Signal       SignalConfig       `mapstructure:"signal"       yaml:"signal"`
	Logging      LoggingConfig      `mapstructure:"logging"      yaml:"logging"`
	Metrics      MetricsConfig      `mapstructure:"metrics"      yaml:"metrics"`
	Server       ServerConfig       `mapstructure:"server"       yaml:"server"`
}

// EngineConfig holds scan orchestration settings.
type EngineConfig struct {
	StrikeCount         int           `mapstructure:"strike_count"          yaml:"strike_count"          validate:"gte=2,lte=100"`
	ConstituentWorkers  int           `mapstructure:"constituent_workers"   yaml:"constituent_workers"   validate:"gte=1,lte=64"`
	TimeframeWorkers    int           `mapstructure:"timeframe_workers"     yaml:"timeframe_workers"     validate:"gte=1,lte=16"`
	ScanTimeout         time.Duration `mapstructure:"scan_timeout"          yaml:"scan_timeout"          validate:"gt=0"`
	SentimentTimeout    time.Duration `mapstructure:"sentiment_timeout"     yaml:"sentiment_timeout"     validate:"gt=0"`
	AMDTimeframe        string        `mapstructure:"amd_timeframe"         yaml:"amd_timeframe"         validate:"oneof=1m 3m 5m"`
	RiskFreeRate        float64       `mapstructure:"risk_free_rate"        yaml:"risk_free_rate"        validate:"gte=0,lte=0.5"`
	MaxCandidates       int           `mapstructure:"max_candidates"        yaml:"max_candidates"        validate:"gte=1,lte=50"`
	DefaultExpiry       string        `mapstructure:"default_expiry"        yaml:"default_expiry"`
	IncludeConstituents bool          `mapstructure:"include_constituents"  yaml:"include_constituents"`
}

// ProviderConfig holds market data provider settings.
type ProviderConfig struct {
	MaxConcurrency int           `mapstructure:"max_concurrency" yaml:"max_concurrency" validate:"gte=1,lte=64"`
	MaxAttempts    int           `mapstructure:"max_attempts"    yaml:"max_attempts"    validate:"gte=1,lte=10"`
	BackoffMin     time.Duration `mapstructure:"backoff_min"     yaml:"backoff_min"     validate:"gt=0"`
	BackoffMax     time.Duration `mapstructure:"backoff_max"     yaml:"backoff_max"     validate:"gtfield=BackoffMin"`
	RatePerSecond  int           `mapstructure:"rate_per_second" yaml:"rate_per_second" validate:"gte=0"`
	HTTPTimeout    time.Duration `mapstructure:"http_timeout"    yaml:"http_timeout"    validate:"gt=0"`
	NSEBaseURL     string        `mapstructure:"nse_base_url"    yaml:"nse_base_url"    validate:"url"`
	YahooBaseURL   string        `mapstructure:"yahoo_base_url"  yaml:"yahoo_base_url"  validate:"url"`
	NewsEnabled    bool          `mapstructure:"news_enabled"    yaml:"news_enabled"`
}

// CacheConfig selects and tunes the shared cache.
type CacheConfig struct {
	Backend        string        `mapstructure:"backend"         yaml:"backend"         validate:"oneof=memory redis none"`
	RedisURL       string        `mapstructure:"redis_url"       yaml:"redis_url"       validate:"required_if=Backend redis"`
	KeyPrefix      string        `mapstructure:"key_prefix"      yaml:"key_prefix"`
	MaxEntries     int           `mapstructure:"max_entries"     yaml:"max_entries"     validate:"gte=0"`
	SentimentTTL   time.Duration `mapstructure:"sentiment_ttl"   yaml:"sentiment_ttl"   validate:"gte=0"`
	ConstituentTTL time.Duration `mapstructure:"constituent_ttl" yaml:"constituent_ttl" validate:"gte=0"`
	QuoteTTL       time.Duration `mapstructure:"quote_ttl"       yaml:"quote_ttl"       validate:"gte=0"`
}

// StructureConfig tunes single-timeframe structure detection.
type StructureConfig struct {
	SwingLookback    int     `mapstructure:"swing_lookback"     yaml:"swing_lookback"     validate:"gte=1,lte=20"`
	MinCandles       int     `mapstructure:"min_candles"        yaml:"min_candles"        validate:"gte=5"`
	MinGapPct        float64 `mapstructure:"min_gap_pct"        yaml:"min_gap_pct"        validate:"gte=0"`
	OrderBlockDepth  int     `mapstructure:"order_block_depth"  yaml:"order_block_depth"  validate:"gte=1"`
	ZoneClusterPct   float64 `mapstructure:"zone_cluster_pct"   yaml:"zone_cluster_pct"   validate:"gt=0"`
}

// MTFConfig tunes the timeframe ladder.
type MTFConfig struct {
	IntradayLadder []string `mapstructure:"intraday_ladder" yaml:"intraday_ladder" validate:"min=1,dive,oneof=1m 3m 5m 15m 1h 4h 1d 1w 1M"`
	SwingLadder    []string `mapstructure:"swing_ladder"    yaml:"swing_ladder"    validate:"min=1,dive,oneof=1m 3m 5m 15m 1h 4h 1d 1w 1M"`
}

// AMDConfig tunes manipulation (trap) detection.
type AMDConfig struct {
	ZoneTolerancePct    float64 `mapstructure:"zone_tolerance_pct"    yaml:"zone_tolerance_pct"    validate:"gt=0"`
	LocalLookback       int     `mapstructure:"local_lookback"        yaml:"local_lookback"        validate:"gte=1"`
	RecoveryWindow      int     `mapstructure:"recovery_window"       yaml:"recovery_window"       validate:"gte=1"`
	MinRecoveryPoints   float64 `mapstructure:"min_recovery_points"   yaml:"min_recovery_points"   validate:"gt=0"`
	VolumeWindow        int     `mapstructure:"volume_window"         yaml:"volume_window"         validate:"gte=2"`
	WickRatio           float64 `mapstructure:"wick_ratio"            yaml:"wick_ratio"            validate:"gt=0,lte=1"`
	HighVolumeMultiple  float64 `mapstructure:"high_volume_multiple"  yaml:"high_volume_multiple"  validate:"gte=1"`
	BaseConfidence      float64 `mapstructure:"base_confidence"       yaml:"base_confidence"       validate:"gte=0,lte=100"`
	WickBoost           float64 `mapstructure:"wick_boost"            yaml:"wick_boost"            validate:"gte=0,lte=100"`
	VolumeBoost         float64 `mapstructure:"volume_boost"          yaml:"volume_boost"          validate:"gte=0,lte=100"`
	CloseBoost          float64 `mapstructure:"close_boost"           yaml:"close_boost"           validate:"gte=0,lte=100"`
	OverrideThreshold   float64 `mapstructure:"override_threshold"    yaml:"override_threshold"    validate:"gte=0,lte=100"`
	// SelectionWindow bounds how far back from the latest trap a more
	// confident one may still be chosen. Zero considers the whole session.
	SelectionWindow time.Duration `mapstructure:"selection_window" yaml:"selection_window" validate:"gte=0"`
}

// ConstituentConfig tunes per-stock scoring and aggregation.
type ConstituentConfig struct {
	RSIWeight        float64 `mapstructure:"rsi_weight"         yaml:"rsi_weight"         validate:"gte=0"`
	EMAWeight        float64 `mapstructure:"ema_weight"         yaml:"ema_weight"         validate:"gte=0"`
	TrendWeight      float64 `mapstructure:"trend_weight"       yaml:"trend_weight"       validate:"gte=0"`
	VWAPWeight       float64 `mapstructure:"vwap_weight"        yaml:"vwap_weight"        validate:"gte=0"`
	VolumeWeight     float64 `mapstructure:"volume_weight"      yaml:"volume_weight"      validate:"gte=0"`
	MACDWeight       float64 `mapstructure:"macd_weight"        yaml:"macd_weight"        validate:"gte=0"`
	IntradayWeight   float64 `mapstructure:"intraday_weight"    yaml:"intraday_weight"    validate:"gte=0,lte=1"`
	DailyLookback    int     `mapstructure:"daily_lookback"     yaml:"daily_lookback"     validate:"gte=40"`
	NeutralBand      float64 `mapstructure:"neutral_band"       yaml:"neutral_band"       validate:"gte=0,lt=0.5"`
	DirectionMovePct float64 `mapstructure:"direction_move_pct" yaml:"direction_move_pct" validate:"gte=0"`
	TopContributors  int     `mapstructure:"top_contributors"   yaml:"top_contributors"   validate:"gte=1"`
}

// OptionsConfig tunes chain filtering and ranking.
type OptionsConfig struct {
	MinVolume          int64   `mapstructure:"min_volume"           yaml:"min_volume"           validate:"gte=0"`
	MinOI              int64   `mapstructure:"min_oi"               yaml:"min_oi"               validate:"gte=0"`
	MaxStrikeDistPct   float64 `mapstructure:"max_strike_dist_pct"  yaml:"max_strike_dist_pct"  validate:"gt=0"`
	DeltaLow           float64 `mapstructure:"delta_low"            yaml:"delta_low"            validate:"gt=0,lt=1"`
	DeltaHigh          float64 `mapstructure:"delta_high"           yaml:"delta_high"           validate:"gtfield=DeltaLow,lt=1"`
	DirectionBoostPct  float64 `mapstructure:"direction_boost_pct"  yaml:"direction_boost_pct"  validate:"gte=0,lte=100"`
	SentimentBoostPct  float64 `mapstructure:"sentiment_boost_pct"  yaml:"sentiment_boost_pct"  validate:"gte=0,lte=100"`
}

// EntryConfig holds entry-grade factor contributions. The values are
// empirical and meant to be tuned.
type EntryConfig struct {
	DeepDiscount      float64            `mapstructure:"deep_discount"       yaml:"deep_discount"`
	Discounted        float64            `mapstructure:"discounted"          yaml:"discounted"`
	Premium           float64            `mapstructure:"premium"             yaml:"premium"`
	HighPremium       float64            `mapstructure:"high_premium"        yaml:"high_premium"`
	NearExpiry        float64            `mapstructure:"near_expiry"         yaml:"near_expiry"`
	ShortExpiry       float64            `mapstructure:"short_expiry"        yaml:"short_expiry"`
	Infeasible        float64            `mapstructure:"infeasible"          yaml:"infeasible"`
	HeavyTheta        float64            `mapstructure:"heavy_theta"         yaml:"heavy_theta"`
	ModerateTheta     float64            `mapstructure:"moderate_theta"      yaml:"moderate_theta"`
	VolumeHigh        float64            `mapstructure:"volume_high"         yaml:"volume_high"`
	VolumeMedium      float64            `mapstructure:"volume_medium"       yaml:"volume_medium"`
	VolumeLow         float64            `mapstructure:"volume_low"          yaml:"volume_low"`
	VolumeThin        float64            `mapstructure:"volume_thin"         yaml:"volume_thin"`
	DeepOI            float64            `mapstructure:"deep_oi"             yaml:"deep_oi"`
	WideSpread        float64            `mapstructure:"wide_spread"         yaml:"wide_spread"`
	MinMinutes        int                `mapstructure:"min_minutes"         yaml:"min_minutes"         validate:"gte=0"`
	PullbackBasePct   float64            `mapstructure:"pullback_base_pct"   yaml:"pullback_base_pct"   validate:"gte=0"`
	PullbackMaxPct    float64            `mapstructure:"pullback_max_pct"    yaml:"pullback_max_pct"    validate:"gtefield=PullbackBasePct,lt=100"`
	MinTargetPct      float64            `mapstructure:"min_target_pct"      yaml:"min_target_pct"      validate:"gt=0"`
	IVReference       map[string]float64 `mapstructure:"iv_reference"        yaml:"iv_reference"        validate:"dive,gt=0"`
}

// SignalConfig holds SignalComposer weights and guards.
type SignalConfig struct {
	AlignmentWeight        float64 `mapstructure:"alignment_weight"         yaml:"alignment_weight"         validate:"gte=0"`
	ProbabilityWeight      float64 `mapstructure:"probability_weight"       yaml:"probability_weight"       validate:"gte=0"`
	MaxSpreadPct           float64 `mapstructure:"max_spread_pct"           yaml:"max_spread_pct"           validate:"gt=0"`
	RangingFallbackMinConf float64 `mapstructure:"ranging_fallback_min_conf" yaml:"ranging_fallback_min_conf" validate:"gte=0,lte=100"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"  yaml:"level"  validate:"oneof=trace debug info warn error"`
	Format string `mapstructure:"format" yaml:"format" validate:"oneof=json console"`
}

// MetricsConfig holds Prometheus settings.
type MetricsConfig struct {
	Enabled   bool   `mapstructure:"enabled"   yaml:"enabled"`
	Namespace string `mapstructure:"namespace" yaml:"namespace" validate:"required_if=Enabled true"`
}

// ServerConfig holds the HTTP surface and the background watcher.
type ServerConfig struct {
	Host          string        `mapstructure:"host"           yaml:"host"`
	Port          int           `mapstructure:"port"           yaml:"port"           validate:"gte=1,lte=65535"`
	CORSOrigins   []string      `mapstructure:"cors_origins"   yaml:"cors_origins"`
	WatchIndices  []string      `mapstructure:"watch_indices"  yaml:"watch_indices"  validate:"dive,oneof=NIFTY BANKNIFTY FINNIFTY MIDCPNIFTY"`
	WatchInterval time.Duration `mapstructure:"watch_interval" yaml:"watch_interval" validate:"gte=0"`
}

// Addr returns host:port for net/http.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// Load reads the configuration from file and environment variables.
// Config file search order:
//  1. ./config/config.yaml (project root)
//  2. ~/.indexsignal/config.yaml (home directory)
//  3. /etc/indexsignal/config.yaml (system)
//
// Environment variables override config file values.
// Format: INDEXSIGNAL_<SECTION>_<KEY>, e.g., INDEXSIGNAL_AMD_OVERRIDE_THRESHOLD
func Load() (*Config, error) {
	v := newViper()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./config")
	v.AddConfigPath(filepath.Join(homeDir(), ".indexsignal"))
	v.AddConfigPath("/etc/indexsignal")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found: defaults + env vars.
	}
	return decode(v)
}

// LoadFromFile reads configuration from a specific file path.
func LoadFromFile(path string) (*Config, error) {
	v := newViper()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config file %s: %w", path, err)
	}
	return decode(v)
}

// Default returns the built-in configuration without consulting files or env.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	cfg, err := decode(v)
	if err != nil {
		// Built-in defaults are covered by tests; failing here is a programming error.
		panic(fmt.Sprintf("config: invalid defaults: %v", err))
	}
	return cfg
}

func newViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	// viper lowercases map keys; index symbols are upper case everywhere else.
	refs := make(map[string]float64, len(cfg.Entry.IVReference))
	for k, val := range cfg.Entry.IVReference {
		refs[strings.ToUpper(k)] = val
	}
	cfg.Entry.IVReference = refs
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field-level constraints and cross-field invariants.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	c := cfg.Constituents
	if c.RSIWeight+c.EMAWeight+c.TrendWeight+c.VWAPWeight+c.VolumeWeight+c.MACDWeight <= 0 {
		return errors.New("invalid config: constituent factor weights must not all be zero")
	}
	if cfg.Signal.AlignmentWeight+cfg.Signal.ProbabilityWeight <= 0 {
		return errors.New("invalid config: signal alignment and probability weights must not both be zero")
	}
	return nil
}

// setDefaults sets sensible defaults for all config values.
func setDefaults(v *viper.Viper) {
	// Engine defaults
	v.SetDefault("engine.strike_count", 20)
	v.SetDefault("engine.constituent_workers", 8)
	v.SetDefault("engine.timeframe_workers", 4)
	v.SetDefault("engine.scan_timeout", "60s")
	v.SetDefault("engine.sentiment_timeout", "5s")
	v.SetDefault("engine.amd_timeframe", "5m")
	v.SetDefault("engine.risk_free_rate", 0.065) // RBI repo-adjacent
	v.SetDefault("engine.max_candidates", 5)
	v.SetDefault("engine.default_expiry", "weekly")
	v.SetDefault("engine.include_constituents", false)

	// Provider defaults
	v.SetDefault("provider.max_concurrency", 6)
	v.SetDefault("provider.max_attempts", 4)
	v.SetDefault("provider.backoff_min", "250ms")
	v.SetDefault("provider.backoff_max", "8s")
	v.SetDefault("provider.rate_per_second", 3)
	v.SetDefault("provider.http_timeout", "30s")
	v.SetDefault("provider.nse_base_url", "https://www.nseindia.com")
	v.SetDefault("provider.yahoo_base_url", "https://query1.finance.yahoo.com")
	v.SetDefault("provider.news_enabled", true)

	// Cache defaults
	v.SetDefault("cache.backend", "memory")
	v.SetDefault("cache.redis_url", "")
	v.SetDefault("cache.key_prefix", "indexsignal")
	v.SetDefault("cache.max_entries", 2048)
	v.SetDefault("cache.sentiment_ttl", "10m")
	v.SetDefault("cache.constituent_ttl", "12h")
	v.SetDefault("cache.quote_ttl", "5s")

	// Structure defaults
	v.SetDefault("structure.swing_lookback", 3)
	v.SetDefault("structure.min_candles", 20)
	v.SetDefault("structure.min_gap_pct", 0.05)
	v.SetDefault("structure.order_block_depth", 10)
	v.SetDefault("structure.zone_cluster_pct", 0.15)

	// Timeframe ladders
	v.SetDefault("mtf.intraday_ladder", []string{"5m", "15m", "1h", "4h"})
	v.SetDefault("mtf.swing_ladder", []string{"1d", "1w", "1M"})

	// AMD defaults
	v.SetDefault("amd.zone_tolerance_pct", 0.1)
	v.SetDefault("amd.local_lookback", 5)
	v.SetDefault("amd.recovery_window", 5)
	v.SetDefault("amd.min_recovery_points", 20)
	v.SetDefault("amd.volume_window", 20)
	v.SetDefault("amd.wick_ratio", 0.5)
	v.SetDefault("amd.high_volume_multiple", 1.5)
	v.SetDefault("amd.base_confidence", 75)
	v.SetDefault("amd.wick_boost", 20)
	v.SetDefault("amd.volume_boost", 15)
	v.SetDefault("amd.close_boost", 10)
	v.SetDefault("amd.override_threshold", 80)
	v.SetDefault("amd.selection_window", "30m")

	// Constituent defaults
	v.SetDefault("constituents.rsi_weight", 20)
	v.SetDefault("constituents.ema_weight", 25)
	v.SetDefault("constituents.trend_weight", 20)
	v.SetDefault("constituents.vwap_weight", 15)
	v.SetDefault("constituents.volume_weight", 15)
	v.SetDefault("constituents.macd_weight", 15)
	v.SetDefault("constituents.intraday_weight", 0.6)
	v.SetDefault("constituents.daily_lookback", 120)
	v.SetDefault("constituents.neutral_band", 0.05)
	v.SetDefault("constituents.direction_move_pct", 0.10)
	v.SetDefault("constituents.top_contributors", 5)

	// Option chain defaults
	v.SetDefault("options.min_volume", 500)
	v.SetDefault("options.min_oi", 1000)
	v.SetDefault("options.max_strike_dist_pct", 2.0)
	v.SetDefault("options.delta_low", 0.35)
	v.SetDefault("options.delta_high", 0.65)
	v.SetDefault("options.direction_boost_pct", 20)
	v.SetDefault("options.sentiment_boost_pct", 5)

	// Entry grade defaults
	v.SetDefault("entry.deep_discount", 30)
	v.SetDefault("entry.discounted", 15)
	v.SetDefault("entry.premium", -15)
	v.SetDefault("entry.high_premium", -30)
	v.SetDefault("entry.near_expiry", -15)
	v.SetDefault("entry.short_expiry", -5)
	v.SetDefault("entry.infeasible", -25)
	v.SetDefault("entry.heavy_theta", -10)
	v.SetDefault("entry.moderate_theta", -5)
	v.SetDefault("entry.volume_high", 30)
	v.SetDefault("entry.volume_medium", 15)
	v.SetDefault("entry.volume_low", 5)
	v.SetDefault("entry.volume_thin", -10)
	v.SetDefault("entry.deep_oi", 5)
	v.SetDefault("entry.wide_spread", -10)
	v.SetDefault("entry.min_minutes", 60)
	v.SetDefault("entry.pullback_base_pct", 3)
	v.SetDefault("entry.pullback_max_pct", 20)
	v.SetDefault("entry.min_target_pct", 5)
	v.SetDefault("entry.iv_reference", map[string]float64{
		"NIFTY":      14,
		"BANKNIFTY":  16,
		"FINNIFTY":   15,
		"MIDCPNIFTY": 18,
	})

	// Signal composer defaults
	v.SetDefault("signal.alignment_weight", 0.55)
	v.SetDefault("signal.probability_weight", 0.45)
	v.SetDefault("signal.max_spread_pct", 10)
	v.SetDefault("signal.ranging_fallback_min_conf", 50)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.namespace", "indexsignal")

	// Server defaults
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 8087)
	v.SetDefault("server.cors_origins", []string{})
	v.SetDefault("server.watch_indices", []string{"NIFTY", "BANKNIFTY"})
	v.SetDefault("server.watch_interval", "3m")
}

// homeDir returns the user's home directory.
func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}
