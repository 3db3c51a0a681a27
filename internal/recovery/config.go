package recovery

import (
	"fmt"
	"strings"
	"time"
)

// Config carries every tuned threshold of the recovery policy. Values are
// strategy decisions loaded from the environment, never hard-coded in rules.
type Config struct {
	// DCA.
	DCATriggerPips float64 // Adverse pips per DCA level
	DCAVolume      float64 // Lots per DCA order
	MaxDCALevels   int

	// Candle momentum safeguard.
	TrendCandleCount     int     // Consecutive same-direction candles that count as momentum
	TrendCandleBodyRatio float64 // Minimum body/range for a candle to count

	// Hedge.
	HedgeTriggerPips  float64
	HedgeMultiplier   float64 // Hedge volume = multiplier x same-direction exposure
	MaxHedges         int
	ADXTrendThreshold float64 // ADX at or above this confirms a trend

	// Hedge DCA.
	HedgeDCATriggerPips float64
	MaxHedgeDCALevels   int

	// Hedge release ladder: fraction of max drawdown the original must have
	// recovered before each step fires.
	HedgeRelease1Recovery float64 // Step 1 closes 50% of the hedge
	HedgeRelease2Recovery float64 // Step 2 closes half the remainder (75% cumulative)

	// Stack exits.
	StackStopLossUSD         float64 // Standalone stack loss limit
	StackStopLossRecoveryUSD float64 // Limit once recovery orders exist
	StackDrawdownMultiple    float64 // Drawdown guard: multiple of expected take profit
	ProfitTargetPercent      float64 // Net stack profit target as % of balance
	MaxPositionHours         float64

	// Non-recovery partial-close ladder.
	PC1Pips              float64
	PC1Percent           float64 // Share of initial volume closed at PC1
	PC2Pips              float64
	PC2Percent           float64
	TrailingDistancePips float64
	PC2TimeLimit         time.Duration

	// Cascade protection.
	CascadeWindow       time.Duration
	CascadeStopCount    int
	CascadeADXThreshold float64
	TrendBlock          time.Duration // Entry block applied to cascaded symbols

	// Market-wide trend block for new entries.
	ADXBlockThreshold float64

	// Orphan sweep.
	OrphanLossLimitUSD float64
}

// Validate collects every configuration problem instead of stopping at the
// first, so a misconfigured deploy surfaces all mistakes at once.
func (c Config) Validate() error {
	var problems []string
	check := func(ok bool, msg string) {
		if !ok {
			problems = append(problems, msg)
		}
	}

	check(c.DCATriggerPips > 0, "DCATriggerPips must be positive")
	check(c.DCAVolume > 0, "DCAVolume must be positive")
	check(c.MaxDCALevels >= 0, "MaxDCALevels must not be negative")
	check(c.TrendCandleCount > 0, "TrendCandleCount must be positive")
	check(c.TrendCandleBodyRatio > 0 && c.TrendCandleBodyRatio <= 1, "TrendCandleBodyRatio must be in (0, 1]")
	check(c.HedgeTriggerPips > c.DCATriggerPips, "HedgeTriggerPips must exceed DCATriggerPips")
	check(c.HedgeMultiplier > 0, "HedgeMultiplier must be positive")
	check(c.MaxHedges >= 0, "MaxHedges must not be negative")
	check(c.ADXTrendThreshold > 0, "ADXTrendThreshold must be positive")
	check(c.HedgeDCATriggerPips > 0, "HedgeDCATriggerPips must be positive")
	check(c.MaxHedgeDCALevels >= 0, "MaxHedgeDCALevels must not be negative")
	check(c.HedgeRelease1Recovery > 0 && c.HedgeRelease1Recovery < 1, "HedgeRelease1Recovery must be in (0, 1)")
	check(c.HedgeRelease2Recovery > c.HedgeRelease1Recovery && c.HedgeRelease2Recovery < 1, "HedgeRelease2Recovery must be between HedgeRelease1Recovery and 1")
	check(c.StackStopLossUSD > 0, "StackStopLossUSD must be positive")
	check(c.StackStopLossRecoveryUSD >= c.StackStopLossUSD, "StackStopLossRecoveryUSD must not be tighter than StackStopLossUSD")
	check(c.StackDrawdownMultiple > 1, "StackDrawdownMultiple must exceed 1")
	check(c.ProfitTargetPercent > 0, "ProfitTargetPercent must be positive")
	check(c.MaxPositionHours > 0, "MaxPositionHours must be positive")
	check(c.PC1Pips > 0, "PC1Pips must be positive")
	check(c.PC1Percent > 0 && c.PC1Percent < 1, "PC1Percent must be in (0, 1)")
	check(c.PC2Pips > c.PC1Pips, "PC2Pips must exceed PC1Pips")
	check(c.PC2Percent > 0 && c.PC2Percent < 1, "PC2Percent must be in (0, 1)")
	check(c.TrailingDistancePips > 0, "TrailingDistancePips must be positive")
	check(c.PC2TimeLimit > 0, "PC2TimeLimit must be positive")
	check(c.CascadeWindow > 0, "CascadeWindow must be positive")
	check(c.CascadeStopCount >= 2, "CascadeStopCount must be at least 2")
	check(c.CascadeADXThreshold > 0, "CascadeADXThreshold must be positive")
	check(c.TrendBlock > 0, "TrendBlock must be positive")
	check(c.ADXBlockThreshold > 0, "ADXBlockThreshold must be positive")
	check(c.OrphanLossLimitUSD > 0, "OrphanLossLimitUSD must be positive")

	if len(problems) > 0 {
		return fmt.Errorf("invalid recovery config: %s", strings.Join(problems, "; "))
	}
	return nil
}
