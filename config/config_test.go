package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fxRecoveryBot/internal/adapters/logger"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, []string{"EURUSD"}, cfg.Symbols)
	assert.Equal(t, 60*time.Second, cfg.TickInterval)
	assert.Equal(t, 15.0, cfg.Recovery.DCATriggerPips)
	assert.Equal(t, 45.0, cfg.Recovery.HedgeTriggerPips)
	assert.Equal(t, 2.0, cfg.Recovery.HedgeMultiplier)
	assert.Equal(t, 2, cfg.Recovery.CascadeStopCount)
	assert.Equal(t, 30*time.Minute, cfg.Recovery.CascadeWindow)
	assert.Equal(t, 2*time.Hour, cfg.BlockStaleAfter)
	assert.Equal(t, logger.LevelInfo, cfg.LogLevel)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.True(t, cfg.TelemetryEnabled)
}

func TestLoadConfig_Overrides(t *testing.T) {
	t.Setenv("SYMBOLS", "EURUSD, GBPUSD")
	t.Setenv("DCA_TRIGGER_PIPS", "20")
	t.Setenv("TICK_INTERVAL_SECONDS", "30")
	t.Setenv("LOG_FORMAT", "json")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, []string{"EURUSD", "GBPUSD"}, cfg.Symbols)
	assert.Equal(t, 20.0, cfg.Recovery.DCATriggerPips)
	assert.Equal(t, 30*time.Second, cfg.TickInterval)
	assert.Equal(t, "json", cfg.LogFormat)
}

func TestLoadConfig_CollectsAllErrors(t *testing.T) {
	t.Setenv("TICK_INTERVAL_SECONDS", "0")
	t.Setenv("LOG_FORMAT", "xml")
	t.Setenv("HEDGE_TRIGGER_PIPS", "5") // below the DCA trigger

	_, err := LoadConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TICK_INTERVAL_SECONDS")
	assert.Contains(t, err.Error(), "LOG_FORMAT")
	assert.Contains(t, err.Error(), "HedgeTriggerPips")
}
