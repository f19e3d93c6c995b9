package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the full scheduler configuration.
type Config struct {
	Scheduler SchedulerConfig `yaml:"scheduler"`
	API       APIConfig       `yaml:"api"`
	Storage   StorageConfig   `yaml:"storage"`
	Log       LogConfig       `yaml:"log"`
}

// SchedulerConfig groups every tunable named in the configuration table:
// execution gates, pricing bands, strike selection, fill monitoring, and
// the Tier 2 retry window.
type SchedulerConfig struct {
	Mode   string `yaml:"mode"` // hybrid | supervised | autonomous
	DryRun bool   `yaml:"dry_run"`

	// UseStage2Fallback forces the legacy at-open premium check (Stage 2)
	// instead of the Live Strike Selector. Strike selection is the default
	// path; set this when the selector's live Greeks feed is unavailable.
	UseStage2Fallback bool `yaml:"use_stage2_fallback"`
	// UseFillManager swaps the rapid-fire threshold monitor for the
	// finer-grained Fill Manager (partial-fill handling, progressive
	// per-symbol price reduction) after Tier 1 submission.
	UseFillManager bool `yaml:"use_fill_manager"`

	MetricsAddr string `yaml:"metrics_addr"`

	UseAdaptiveAlgo     bool    `yaml:"use_adaptive_algo"`
	MaxExecutionSpread  float64 `yaml:"max_execution_spread"`
	AdjustmentThreshold float64 `yaml:"adjustment_threshold"`

	RapidFireMaxWaitSeconds    int     `yaml:"rapid_fire_max_wait_seconds"`
	QuoteFetchTimeoutSeconds   float64 `yaml:"quote_fetch_timeout_seconds"`
	ExecutionQuoteTimeout      float64 `yaml:"execution_quote_timeout"`
	ExecutionQuoteRetryTimeout float64 `yaml:"execution_quote_retry_timeout"`

	PremiumMin               float64 `yaml:"premium_min"`
	PremiumFloor             float64 `yaml:"premium_floor"`
	PriceAdjustmentIncrement float64 `yaml:"price_adjustment_increment"`
	MaxPriceAdjustments      int     `yaml:"max_price_adjustments"`
	BidMidRatio              float64 `yaml:"bid_mid_ratio"`

	FillMonitorWindowSeconds int     `yaml:"fill_monitor_window_seconds"`
	FillCheckInterval        float64 `yaml:"fill_check_interval"`
	FillAdjustmentInterval   int     `yaml:"fill_adjustment_interval"`
	FillPartialThreshold     float64 `yaml:"fill_partial_threshold"`
	FillLeaveWorking         bool    `yaml:"fill_leave_working"`

	StrikeTargetDelta      float64 `yaml:"strike_target_delta"`
	StrikeDeltaTolerance   float64 `yaml:"strike_delta_tolerance"`
	MinOTMPct              float64 `yaml:"min_otm_pct"`
	StrikeMinOpenInterest  int64   `yaml:"strike_min_open_interest"`
	StrikeMaxCandidates    int     `yaml:"strike_max_candidates"`
	GreeksWaitTimeout      float64 `yaml:"greeks_wait_timeout"`
	StrikeFallbackToOTM    bool    `yaml:"strike_fallback_to_otm"`

	MaxDeviationReady  float64 `yaml:"max_deviation_ready"`
	MaxDeviationAdjust float64 `yaml:"max_deviation_adjust"`
	MaxDeviationStale  float64 `yaml:"max_deviation_stale"`

	MaxPremiumDeviationConfirmed float64 `yaml:"max_premium_deviation_confirmed"`
	MaxPremiumDeviationAdjust    float64 `yaml:"max_premium_deviation_adjust"`
	MaxPremiumDeviationStale     float64 `yaml:"max_premium_deviation_stale"`

	Tier2VixLow          float64 `yaml:"tier2_vix_low"`
	Tier2VixHigh         float64 `yaml:"tier2_vix_high"`
	Tier2MaxSpread       float64 `yaml:"tier2_max_spread"`
	Tier2WindowStart     string  `yaml:"tier2_window_start"`
	Tier2WindowEnd       string  `yaml:"tier2_window_end"`
	Tier2CheckInterval   int     `yaml:"tier2_check_interval"`
	Tier2LimitAdjustment float64 `yaml:"tier2_limit_adjustment"`

	Stage1Time          string `yaml:"stage1_time"`
	Tier1ExecutionTime  string `yaml:"tier1_execution_time"`
	ReconciliationTime  string `yaml:"reconciliation_time"`

	ClockSyncThresholdMs int `yaml:"clock_sync_threshold_ms"`

	MaxTotalMargin float64 `yaml:"max_total_margin"`
	MaxPositions   int     `yaml:"max_positions"`
}

// APIConfig contains the broker connection settings.
type APIConfig struct {
	BrokerBase string `yaml:"broker_base"`
	CredsPath  string `yaml:"creds_path"`
}

// StorageConfig controls where state is persisted.
type StorageConfig struct {
	DSN string `yaml:"dsn"` // path to the SQLite file, or ":memory:"
}

// LogConfig controls log level and format.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // text | json
}

// Load reads the YAML config file and overlays a .env file if present.
// Values from .env override the YAML for the keys applyEnvOverrides knows.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config.Load: read %q: %w", path, err)
	}

	// Boolean options whose documented default is true are preset before
	// parsing: setDefaults cannot tell an omitted bool from an explicit false.
	cfg := Config{Scheduler: SchedulerConfig{
		UseAdaptiveAlgo:     true,
		FillLeaveWorking:    true,
		StrikeFallbackToOTM: true,
	}}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config.Load: parse YAML: %w", err)
	}

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)

	return &cfg, nil
}

// applyEnvOverrides overrides values with environment variables when present.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	if v := os.Getenv("BROKER_CREDS_PATH"); v != "" {
		cfg.API.CredsPath = v
	}
	if v := os.Getenv("SCHEDULER_MODE"); v != "" {
		cfg.Scheduler.Mode = v
	}
	if v := os.Getenv("DRY_RUN"); v == "1" || v == "true" {
		cfg.Scheduler.DryRun = true
	}
}

// setDefaults fills every zero-valued numeric and string tunable with the
// documented default. The boolean options that default to true are preset
// in Load.
func setDefaults(cfg *Config) {
	s := &cfg.Scheduler
	if s.Mode == "" {
		s.Mode = "supervised"
	}
	if s.MaxExecutionSpread == 0 {
		s.MaxExecutionSpread = 0.30
	}
	if s.AdjustmentThreshold == 0 {
		s.AdjustmentThreshold = 0.02
	}
	if s.RapidFireMaxWaitSeconds == 0 {
		s.RapidFireMaxWaitSeconds = 120
	}
	if s.QuoteFetchTimeoutSeconds == 0 {
		s.QuoteFetchTimeoutSeconds = 0.5
	}
	if s.ExecutionQuoteTimeout == 0 {
		s.ExecutionQuoteTimeout = 3.0
	}
	if s.ExecutionQuoteRetryTimeout == 0 {
		s.ExecutionQuoteRetryTimeout = 5.0
	}
	if s.PremiumMin == 0 {
		s.PremiumMin = 0.30
	}
	if s.PremiumFloor == 0 {
		s.PremiumFloor = 0.20
	}
	if s.PriceAdjustmentIncrement == 0 {
		s.PriceAdjustmentIncrement = 0.01
	}
	if s.MaxPriceAdjustments == 0 {
		s.MaxPriceAdjustments = 5
	}
	if s.BidMidRatio == 0 {
		s.BidMidRatio = 0.30
	}
	if s.FillMonitorWindowSeconds == 0 {
		s.FillMonitorWindowSeconds = 600
	}
	if s.FillCheckInterval == 0 {
		s.FillCheckInterval = 2.0
	}
	if s.FillAdjustmentInterval == 0 {
		s.FillAdjustmentInterval = 60
	}
	if s.FillPartialThreshold == 0 {
		s.FillPartialThreshold = 0.5
	}
	if s.StrikeTargetDelta == 0 {
		s.StrikeTargetDelta = 0.20
	}
	if s.StrikeDeltaTolerance == 0 {
		s.StrikeDeltaTolerance = 0.05
	}
	if s.MinOTMPct == 0 {
		s.MinOTMPct = 0.10
	}
	if s.StrikeMinOpenInterest == 0 {
		s.StrikeMinOpenInterest = 50
	}
	if s.StrikeMaxCandidates == 0 {
		s.StrikeMaxCandidates = 5
	}
	if s.GreeksWaitTimeout == 0 {
		s.GreeksWaitTimeout = 5.0
	}
	if s.MaxDeviationReady == 0 {
		s.MaxDeviationReady = 0.03
	}
	if s.MaxDeviationAdjust == 0 {
		s.MaxDeviationAdjust = 0.05
	}
	if s.MaxDeviationStale == 0 {
		s.MaxDeviationStale = 0.10
	}
	if s.MaxPremiumDeviationConfirmed == 0 {
		s.MaxPremiumDeviationConfirmed = 0.15
	}
	if s.MaxPremiumDeviationAdjust == 0 {
		s.MaxPremiumDeviationAdjust = 0.50
	}
	if s.MaxPremiumDeviationStale == 0 {
		s.MaxPremiumDeviationStale = 0.50
	}
	if s.Tier2VixLow == 0 {
		s.Tier2VixLow = 18
	}
	if s.Tier2VixHigh == 0 {
		s.Tier2VixHigh = 25
	}
	if s.Tier2MaxSpread == 0 {
		s.Tier2MaxSpread = 0.08
	}
	if s.Tier2WindowStart == "" {
		s.Tier2WindowStart = "09:45"
	}
	if s.Tier2WindowEnd == "" {
		s.Tier2WindowEnd = "10:30"
	}
	if s.Tier2CheckInterval == 0 {
		s.Tier2CheckInterval = 300
	}
	if s.Tier2LimitAdjustment == 0 {
		s.Tier2LimitAdjustment = 1.10
	}
	if s.Stage1Time == "" {
		s.Stage1Time = "09:15"
	}
	if s.Tier1ExecutionTime == "" {
		s.Tier1ExecutionTime = "09:30"
	}
	if s.ReconciliationTime == "" {
		s.ReconciliationTime = "10:30"
	}
	if s.ClockSyncThresholdMs == 0 {
		s.ClockSyncThresholdMs = 50
	}
	if s.MaxPositions == 0 {
		s.MaxPositions = 20
	}
	if s.MetricsAddr == "" {
		s.MetricsAddr = ":9090"
	}

	if cfg.Storage.DSN == "" {
		cfg.Storage.DSN = "scheduler.db"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
}
