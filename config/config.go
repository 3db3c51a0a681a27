package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"fxRecoveryBot/internal/adapters/logger"
	"fxRecoveryBot/internal/recovery"
)

// Config holds all application configuration.
type Config struct {
	// Bridge connection
	BridgeURL   string
	BridgeWSURL string // Empty disables the tick stream
	HTTPTimeout time.Duration

	// Trading scope
	Symbols       []string // Symbols the loop manages
	EntryVolume   float64  // Lots for a fresh entry
	MaxPositions  int      // Top-level positions across all symbols
	WorkTimeframe string   // Timeframe for momentum/trend evaluation
	BarsCount     int      // Bars fetched per market refresh
	ADXPeriod     int

	// Control loop
	TickInterval       time.Duration
	DataRefreshEvery   time.Duration // Market data staleness window
	StateSaveEveryTick int           // Snapshot cadence in ticks

	// Recovery policy thresholds
	Recovery recovery.Config

	// Persistence
	StatePath       string
	BlockStaleAfter time.Duration // Persisted blocks older than this are dropped on load

	// Telemetry
	DBPath           string
	TelemetryEnabled bool

	// Logging
	LogLevel  logger.LogLevel
	LogFormat string // "text" | "json"
}

// LoadConfig loads configuration from environment variables (.env file).
func LoadConfig() (*Config, error) {
	// Load .env file, but don't fail if it doesn't exist (allow pure env vars)
	_ = godotenv.Load()

	cfg := &Config{}
	var err error
	var errs []string

	// Bridge connection
	cfg.BridgeURL = getEnv("BRIDGE_URL", "http://127.0.0.1:8787")
	if cfg.BridgeURL == "" {
		errs = append(errs, "BRIDGE_URL must be set")
	}
	cfg.BridgeWSURL = getEnv("BRIDGE_WS_URL", "")
	httpTimeoutSeconds := getEnvAsInt("BRIDGE_HTTP_TIMEOUT_SECONDS", 10)
	if httpTimeoutSeconds <= 0 {
		errs = append(errs, "BRIDGE_HTTP_TIMEOUT_SECONDS must be positive")
	}
	cfg.HTTPTimeout = time.Duration(httpTimeoutSeconds) * time.Second

	// Trading scope
	symbolsStr := getEnv("SYMBOLS", "EURUSD")
	for _, s := range strings.Split(symbolsStr, ",") {
		if s = strings.TrimSpace(s); s != "" {
			cfg.Symbols = append(cfg.Symbols, s)
		}
	}
	if len(cfg.Symbols) == 0 {
		errs = append(errs, "SYMBOLS must name at least one symbol")
	}

	cfg.EntryVolume, err = getEnvAsFloatRequired("ENTRY_VOLUME", 0.10)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid ENTRY_VOLUME: %v", err))
	} else if cfg.EntryVolume <= 0 {
		errs = append(errs, "ENTRY_VOLUME must be positive")
	}

	cfg.MaxPositions, err = getEnvAsIntRequired("MAX_POSITIONS", 3)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid MAX_POSITIONS: %v", err))
	} else if cfg.MaxPositions <= 0 {
		errs = append(errs, "MAX_POSITIONS must be positive")
	}

	cfg.WorkTimeframe = getEnv("WORK_TIMEFRAME", "M15")
	cfg.BarsCount = getEnvAsInt("BARS_COUNT", 50)
	if cfg.BarsCount <= 0 {
		errs = append(errs, "BARS_COUNT must be positive")
	}
	cfg.ADXPeriod = getEnvAsInt("ADX_PERIOD", 14)
	if cfg.ADXPeriod <= 0 {
		errs = append(errs, "ADX_PERIOD must be positive")
	}

	// Control loop
	tickSeconds := getEnvAsInt("TICK_INTERVAL_SECONDS", 60)
	if tickSeconds <= 0 {
		errs = append(errs, "TICK_INTERVAL_SECONDS must be positive")
	}
	cfg.TickInterval = time.Duration(tickSeconds) * time.Second

	refreshMinutes := getEnvAsInt("DATA_REFRESH_MINUTES", 5)
	if refreshMinutes <= 0 {
		errs = append(errs, "DATA_REFRESH_MINUTES must be positive")
	}
	cfg.DataRefreshEvery = time.Duration(refreshMinutes) * time.Minute

	cfg.StateSaveEveryTick = getEnvAsInt("STATE_SAVE_EVERY_TICKS", 5)
	if cfg.StateSaveEveryTick <= 0 {
		errs = append(errs, "STATE_SAVE_EVERY_TICKS must be positive")
	}

	// Recovery policy thresholds; defaults are the strategy's tuned values.
	rc := recovery.Config{}
	rc.DCATriggerPips = getEnvAsFloat("DCA_TRIGGER_PIPS", 15)
	rc.DCAVolume = getEnvAsFloat("DCA_VOLUME", 0.10)
	rc.MaxDCALevels = getEnvAsInt("MAX_DCA_LEVELS", 3)
	rc.TrendCandleCount = getEnvAsInt("TREND_CANDLE_COUNT", 3)
	rc.TrendCandleBodyRatio = getEnvAsFloat("TREND_CANDLE_BODY_RATIO", 0.6)
	rc.HedgeTriggerPips = getEnvAsFloat("HEDGE_TRIGGER_PIPS", 45)
	rc.HedgeMultiplier = getEnvAsFloat("HEDGE_MULTIPLIER", 2.0)
	rc.MaxHedges = getEnvAsInt("MAX_HEDGES", 1)
	rc.ADXTrendThreshold = getEnvAsFloat("ADX_TREND_THRESHOLD", 30)
	rc.HedgeDCATriggerPips = getEnvAsFloat("HEDGE_DCA_TRIGGER_PIPS", 20)
	rc.MaxHedgeDCALevels = getEnvAsInt("MAX_HEDGE_DCA_LEVELS", 2)
	rc.HedgeRelease1Recovery = getEnvAsFloat("HEDGE_RELEASE_1_RECOVERY", 0.5)
	rc.HedgeRelease2Recovery = getEnvAsFloat("HEDGE_RELEASE_2_RECOVERY", 0.75)
	rc.StackStopLossUSD = getEnvAsFloat("STACK_STOP_LOSS_USD", 100)
	rc.StackStopLossRecoveryUSD = getEnvAsFloat("STACK_STOP_LOSS_RECOVERY_USD", 250)
	rc.StackDrawdownMultiple = getEnvAsFloat("STACK_DRAWDOWN_MULTIPLE", 4)
	rc.ProfitTargetPercent = getEnvAsFloat("PROFIT_TARGET_PERCENT", 1.0)
	rc.MaxPositionHours = getEnvAsFloat("MAX_POSITION_HOURS", 48)
	rc.PC1Pips = getEnvAsFloat("PC1_PIPS", 10)
	rc.PC1Percent = getEnvAsFloat("PC1_PERCENT", 0.25)
	rc.PC2Pips = getEnvAsFloat("PC2_PIPS", 20)
	rc.PC2Percent = getEnvAsFloat("PC2_PERCENT", 0.25)
	rc.TrailingDistancePips = getEnvAsFloat("TRAILING_DISTANCE_PIPS", 8)
	rc.PC2TimeLimit = time.Duration(getEnvAsInt("PC2_TIME_LIMIT_MINUTES", 60)) * time.Minute
	rc.CascadeWindow = time.Duration(getEnvAsInt("CASCADE_WINDOW_MINUTES", 30)) * time.Minute
	rc.CascadeStopCount = getEnvAsInt("CASCADE_STOP_COUNT", 2)
	rc.CascadeADXThreshold = getEnvAsFloat("CASCADE_ADX_THRESHOLD", 30)
	rc.TrendBlock = time.Duration(getEnvAsInt("TREND_BLOCK_MINUTES", 60)) * time.Minute
	rc.ADXBlockThreshold = getEnvAsFloat("ADX_BLOCK_THRESHOLD", 35)
	rc.OrphanLossLimitUSD = getEnvAsFloat("ORPHAN_LOSS_LIMIT_USD", 75)
	if err := rc.Validate(); err != nil {
		errs = append(errs, err.Error())
	}
	cfg.Recovery = rc

	// Persistence
	cfg.StatePath = getEnv("STATE_PATH", "./data/recovery_state.json")
	if cfg.StatePath == "" {
		errs = append(errs, "STATE_PATH must be set")
	}
	staleHours := getEnvAsInt("BLOCK_STALE_HOURS", 2)
	if staleHours <= 0 {
		errs = append(errs, "BLOCK_STALE_HOURS must be positive")
	}
	cfg.BlockStaleAfter = time.Duration(staleHours) * time.Hour

	// Telemetry
	cfg.DBPath = getEnv("DB_PATH", "./data/recovery_events.db")
	cfg.TelemetryEnabled = getEnvAsBool("TELEMETRY_ENABLED", true)
	if cfg.TelemetryEnabled && cfg.DBPath == "" {
		errs = append(errs, "DB_PATH must be set when TELEMETRY_ENABLED is true")
	}

	// Logging
	cfg.LogLevel = logger.ParseLevel(getEnv("LOG_LEVEL", "INFO"))
	cfg.LogFormat = strings.ToLower(getEnv("LOG_FORMAT", "text"))
	if cfg.LogFormat != "text" && cfg.LogFormat != "json" {
		errs = append(errs, "LOG_FORMAT must be 'text' or 'json'")
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}

	return cfg, nil
}

// --- Env Var Helpers ---

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsIntRequired(key string, defaultValue int) (int, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue, nil
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return 0, fmt.Errorf("invalid integer value '%s' for key %s: %w", valueStr, key, err)
	}
	return value, nil
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

func getEnvAsFloatRequired(key string, defaultValue float64) (float64, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue, nil
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid float value '%s' for key %s: %w", valueStr, key, err)
	}
	return value, nil
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
