package recovery

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fxRecoveryBot/internal/domain"
)

func testConfig() Config {
	return Config{
		DCATriggerPips:           15,
		DCAVolume:                0.10,
		MaxDCALevels:             3,
		TrendCandleCount:         3,
		TrendCandleBodyRatio:     0.6,
		HedgeTriggerPips:         45,
		HedgeMultiplier:          2.0,
		MaxHedges:                1,
		ADXTrendThreshold:        30,
		HedgeDCATriggerPips:      20,
		MaxHedgeDCALevels:        2,
		HedgeRelease1Recovery:    0.5,
		HedgeRelease2Recovery:    0.75,
		StackStopLossUSD:         100,
		StackStopLossRecoveryUSD: 250,
		StackDrawdownMultiple:    4,
		ProfitTargetPercent:      1.0,
		MaxPositionHours:         48,
		PC1Pips:                  10,
		PC1Percent:               0.25,
		PC2Pips:                  20,
		PC2Percent:               0.25,
		TrailingDistancePips:     8,
		PC2TimeLimit:             60 * time.Minute,
		CascadeWindow:            30 * time.Minute,
		CascadeStopCount:         2,
		CascadeADXThreshold:      30,
		TrendBlock:               60 * time.Minute,
		ADXBlockThreshold:        35,
		OrphanLossLimitUSD:       75,
	}
}

func newTestEngine(t *testing.T) *Engine {
	e, err := New(testConfig())
	require.NoError(t, err)
	return e
}

const pip = 0.0001

func shortPosition() *domain.TrackedPosition {
	return &domain.TrackedPosition{
		Ticket:        1001,
		Symbol:        "EURUSD",
		Side:          domain.Sell,
		Kind:          domain.KindStandalone,
		EntryPrice:    1.10500,
		InitialVolume: 0.10,
		CurrentVolume: 0.10,
		OpenedAt:      time.Now().Add(-time.Hour),
	}
}

func quoteAt(price float64) Quote {
	return Quote{Bid: price - 0.00005, Ask: price + 0.00005}
}

func TestNew_RejectsInvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.HedgeTriggerPips = 5 // below the DCA trigger
	_, err := New(cfg)
	assert.Error(t, err)

	cfg = testConfig()
	cfg.StackStopLossRecoveryUSD = 50 // tighter than the standalone limit
	_, err = New(cfg)
	assert.Error(t, err)
}

func TestCheckDCATrigger(t *testing.T) {
	e := newTestEngine(t)
	pos := shortPosition()
	calm := MarketState{Symbol: "EURUSD"}

	// 10 pips against a short: below the trigger.
	act := e.CheckDCATrigger(pos, Quote{Ask: 1.10600}, calm, pip)
	assert.Nil(t, act)

	// 16 pips against with mixed candles: level 1 fires.
	act = e.CheckDCATrigger(pos, Quote{Ask: 1.10660}, calm, pip)
	require.NotNil(t, act)
	assert.Equal(t, ActionOpenDCA, act.Type)
	assert.Equal(t, domain.Sell, act.Side)
	assert.Equal(t, 1, act.Level)
	assert.Equal(t, "DCA L1 - 1001", act.Comment)
	assert.Equal(t, 0.10, act.Volume)
}

func TestCheckDCATrigger_MomentumSafeguard(t *testing.T) {
	e := newTestEngine(t)
	pos := shortPosition()

	// Three decisive bullish candles: sustained momentum against the short.
	trending := MarketState{Symbol: "EURUSD", RunSide: domain.Buy, RunLength: 3}
	act := e.CheckDCATrigger(pos, Quote{Ask: 1.10660}, trending, pip)
	assert.Nil(t, act, "never average into a sustained adverse run")

	// Same run length in the short's favor is not adverse momentum.
	falling := MarketState{Symbol: "EURUSD", RunSide: domain.Sell, RunLength: 3}
	act = e.CheckDCATrigger(pos, Quote{Ask: 1.10660}, falling, pip)
	assert.NotNil(t, act)
}

func TestCheckDCATrigger_LevelsScaleAndCap(t *testing.T) {
	e := newTestEngine(t)
	pos := shortPosition()
	pos.DCALevels = []domain.DCALevel{{Ticket: 1002, LevelIndex: 1, Volume: 0.10}}
	calm := MarketState{}

	// 16 pips adverse does not re-fire level 1 and is short of level 2 (30).
	assert.Nil(t, e.CheckDCATrigger(pos, Quote{Ask: 1.10660}, calm, pip))

	// 31 pips adverse fires level 2.
	act := e.CheckDCATrigger(pos, Quote{Ask: 1.10810}, calm, pip)
	require.NotNil(t, act)
	assert.Equal(t, 2, act.Level)
	assert.Equal(t, "DCA L2 - 1001", act.Comment)

	pos.DCALevels = []domain.DCALevel{
		{Ticket: 1002, LevelIndex: 1}, {Ticket: 1003, LevelIndex: 2}, {Ticket: 1004, LevelIndex: 3},
	}
	assert.Nil(t, e.CheckDCATrigger(pos, Quote{Ask: 1.20000}, calm, pip), "level cap reached")
}

func TestCheckHedgeTrigger(t *testing.T) {
	e := newTestEngine(t)
	pos := shortPosition()
	pos.DCALevels = []domain.DCALevel{{Ticket: 1002, LevelIndex: 1, Volume: 0.10}}

	// 46 pips adverse but no trend confirmation: no hedge.
	calm := MarketState{Symbol: "EURUSD", ADX: 15}
	assert.Nil(t, e.CheckHedgeTrigger(pos, Quote{Ask: 1.10960}, calm, pip))

	// Trend confirmed by candle run.
	trending := MarketState{Symbol: "EURUSD", RunSide: domain.Buy, RunLength: 3, ADX: 15}
	act := e.CheckHedgeTrigger(pos, Quote{Ask: 1.10960}, trending, pip)
	require.NotNil(t, act)
	assert.Equal(t, ActionOpenHedge, act.Type)
	assert.Equal(t, domain.Buy, act.Side)
	assert.InDelta(t, 0.40, act.Volume, 1e-9, "2x the 0.20 same-direction exposure")
	assert.Equal(t, "Hedge - 1001", act.Comment)

	// Trend confirmed by ADX alone.
	adxOnly := MarketState{Symbol: "EURUSD", ADX: 32}
	assert.NotNil(t, e.CheckHedgeTrigger(pos, Quote{Ask: 1.10960}, adxOnly, pip))

	// Hedge cap.
	pos.Hedges = []domain.Hedge{{Ticket: 5001}}
	assert.Nil(t, e.CheckHedgeTrigger(pos, Quote{Ask: 1.10960}, trending, pip))
}

func TestCheckHedgeDCA(t *testing.T) {
	e := newTestEngine(t)
	pos := shortPosition()
	hedge := &domain.Hedge{Ticket: 5001, Side: domain.Buy, Volume: 0.40, EntryPrice: 1.10950}
	pos.Hedges = []domain.Hedge{*hedge}
	calm := MarketState{}

	// Hedge long from 1.10950; price falls 21 pips to 1.10740 (bid).
	act := e.CheckHedgeDCA(pos, hedge, Quote{Bid: 1.10740}, calm, pip)
	require.NotNil(t, act)
	assert.Equal(t, ActionOpenHedgeDCA, act.Type)
	assert.Equal(t, domain.Buy, act.Side)
	assert.Equal(t, "HDCA L1 - 5001", act.Comment)
	assert.Equal(t, int64(5001), act.HedgeTicket)

	// Momentum against the hedge (falling run) vetoes averaging it.
	falling := MarketState{RunSide: domain.Sell, RunLength: 3}
	assert.Nil(t, e.CheckHedgeDCA(pos, hedge, Quote{Bid: 1.10740}, falling, pip))
}

func TestCheckHedgePartialClose_Ladder(t *testing.T) {
	e := newTestEngine(t)
	pos := shortPosition()
	pos.MaxDrawdownPips = 60
	hedge := &domain.Hedge{Ticket: 5001, Side: domain.Buy, Volume: 0.40, EntryPrice: 1.10950}

	// Still 40 pips under water: recovered only 33%, no release.
	assert.Nil(t, e.CheckHedgePartialClose(pos, hedge, Quote{Ask: 1.10900}, pip))

	// 25 pips under water: recovered ~58%, step 1 releases half.
	act := e.CheckHedgePartialClose(pos, hedge, Quote{Ask: 1.10750}, pip)
	require.NotNil(t, act)
	assert.Equal(t, 1, act.Stage)
	assert.Equal(t, 0.5, act.Fraction)

	// 10 pips under water: recovered ~83%, step 2.
	hedge.ReleaseStage = 1
	act = e.CheckHedgePartialClose(pos, hedge, Quote{Ask: 1.10600}, pip)
	require.NotNil(t, act)
	assert.Equal(t, 2, act.Stage)
	assert.Equal(t, 0.5, act.Fraction)

	// Breakeven: full release.
	hedge.ReleaseStage = 2
	act = e.CheckHedgePartialClose(pos, hedge, Quote{Ask: 1.10500}, pip)
	require.NotNil(t, act)
	assert.Equal(t, 3, act.Stage)
	assert.Equal(t, 1.0, act.Fraction)

	// Ladder never walks backwards.
	hedge.ReleaseStage = 3
	assert.Nil(t, e.CheckHedgePartialClose(pos, hedge, Quote{Ask: 1.10500}, pip))
}

func TestCheckStackStopLoss_RecoveryWidensLimit(t *testing.T) {
	e := newTestEngine(t)
	pos := shortPosition()

	act := e.CheckStackStopLoss(pos, -120)
	require.NotNil(t, act)
	assert.Equal(t, domain.CloseReasonStackStopLoss, act.Reason)

	// Same loss with active recovery stays inside the wider limit.
	pos.DCALevels = []domain.DCALevel{{Ticket: 1002}}
	assert.Nil(t, e.CheckStackStopLoss(pos, -120))
	assert.NotNil(t, e.CheckStackStopLoss(pos, -260))
}

func TestCheckStackDrawdown(t *testing.T) {
	e := newTestEngine(t)
	pos := shortPosition()

	// Balance 10000, target 1% = 100, guard at 4x = 400.
	assert.Nil(t, e.CheckStackDrawdown(pos, -399, 10000))
	act := e.CheckStackDrawdown(pos, -400, 10000)
	require.NotNil(t, act)
	assert.Equal(t, domain.CloseReasonStackDrawdown, act.Reason)
}

func TestCheckProfitTargetAndTimeLimit(t *testing.T) {
	e := newTestEngine(t)
	pos := shortPosition()

	assert.Nil(t, e.CheckProfitTarget(pos, 99, 10000))
	act := e.CheckProfitTarget(pos, 101, 10000)
	require.NotNil(t, act)
	assert.Equal(t, domain.CloseReasonProfitTarget, act.Reason)

	// A recovery stack exits flat instead of waiting for the full target.
	hedged := shortPosition()
	hedged.Hedges = []domain.Hedge{{Ticket: 5001}}
	assert.Nil(t, e.CheckProfitTarget(hedged, -1, 10000))
	act = e.CheckProfitTarget(hedged, 0.5, 10000)
	require.NotNil(t, act)
	assert.Equal(t, domain.CloseReasonProfitTarget, act.Reason)

	now := pos.OpenedAt.Add(47 * time.Hour)
	assert.Nil(t, e.CheckTimeLimit(pos, now))
	act = e.CheckTimeLimit(pos, pos.OpenedAt.Add(49*time.Hour))
	require.NotNil(t, act)
	assert.Equal(t, domain.CloseReasonTimeLimit, act.Reason)
}

func TestCheckPartialClose_Ladder(t *testing.T) {
	e := newTestEngine(t)
	pos := shortPosition()

	// +11 pips on the short: PC1.
	act := e.CheckPartialClose(pos, Quote{Ask: 1.10390}, pip)
	require.NotNil(t, act)
	assert.Equal(t, 1, act.Milestone)
	assert.InDelta(t, 0.025, act.CloseVolume, 1e-9)
	assert.False(t, act.ArmTrailing)

	// PC2 needs PC1 done first.
	pos.PartialClose.PC1Closed = true
	act = e.CheckPartialClose(pos, Quote{Ask: 1.10290}, pip)
	require.NotNil(t, act)
	assert.Equal(t, 2, act.Milestone)
	assert.True(t, act.ArmTrailing)

	pos.PartialClose.PC2Closed = true
	assert.Nil(t, e.CheckPartialClose(pos, Quote{Ask: 1.10290}, pip))
}

func TestCheckPartialClose_DeadOnceRecoveryActive(t *testing.T) {
	e := newTestEngine(t)
	pos := shortPosition()
	pos.DCALevels = []domain.DCALevel{{Ticket: 1002}}

	assert.Nil(t, e.CheckPartialClose(pos, Quote{Ask: 1.10290}, pip))
	assert.Nil(t, e.CheckTrailing(pos, Quote{Ask: 1.10290}, pip))
	assert.Nil(t, e.CheckPC2TimeLimit(pos, time.Now().Add(100*time.Hour)))
}

func TestCheckTrailing_ShortSide(t *testing.T) {
	e := newTestEngine(t)
	pos := shortPosition()
	pos.Trailing = e.InitialTrailing(pos, Quote{Ask: 1.10300}, pip)
	assert.True(t, pos.Trailing.Active)
	assert.InDelta(t, 1.10380, pos.Trailing.StopPrice, 1e-9)

	// New low advances the stop.
	act := e.CheckTrailing(pos, Quote{Ask: 1.10250}, pip)
	require.NotNil(t, act)
	assert.Equal(t, ActionTrailingUpdate, act.Type)
	assert.InDelta(t, 1.10250, act.PeakPrice, 1e-9)
	assert.InDelta(t, 1.10330, act.StopPrice, 1e-9)

	// Giveback to the stop closes.
	pos.Trailing.PeakPrice = 1.10250
	pos.Trailing.StopPrice = 1.10330
	act = e.CheckTrailing(pos, Quote{Ask: 1.10335}, pip)
	require.NotNil(t, act)
	assert.Equal(t, ActionCloseStack, act.Type)
	assert.Equal(t, domain.CloseReasonTrailingStop, act.Reason)
}

func TestCheckPC2TimeLimit(t *testing.T) {
	e := newTestEngine(t)
	pos := shortPosition()
	trigger := time.Now()
	pos.PartialClose = domain.PartialCloseState{PC1Closed: true, PC2Closed: true, PC2TriggerTime: &trigger}

	assert.Nil(t, e.CheckPC2TimeLimit(pos, trigger.Add(59*time.Minute)))
	act := e.CheckPC2TimeLimit(pos, trigger.Add(61*time.Minute))
	require.NotNil(t, act)
	assert.Equal(t, domain.CloseReasonPC2TimeLimit, act.Reason)
}
