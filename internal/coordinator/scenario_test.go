package coordinator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fxRecoveryBot/internal/domain"
	"fxRecoveryBot/internal/ports"
	"fxRecoveryBot/internal/recovery"
)

// Full lifecycle of one losing short that recovers: DCA into the pullback,
// hedge into the trend, release half the hedge as the original climbs back,
// close everything flat.
func TestRecoveryLifecycle_ShortDCAHedgeRelease(t *testing.T) {
	coord, trk, gw, _, engine := newFixture(t)
	ctx := context.Background()
	now := time.Now()
	const pip = 0.0001

	// Entry: short 0.10 at 1.10500.
	gw.fillPrice = 1.10500
	res, err := coord.OpenEntry(ctx, "EURUSD", domain.Sell, 0.10, eurusd, now)
	require.NoError(t, err)
	original := res.Ticket
	pos, _ := trk.Get(original)

	// Tick 1: +16 pips against, mixed candles. DCA level 1 opens.
	q := recovery.Quote{Bid: 1.10650, Ask: 1.10660}
	calm := recovery.MarketState{Symbol: "EURUSD", ADX: 18}
	act := engine.CheckDCATrigger(pos, q, calm, pip)
	require.NotNil(t, act)
	gw.fillPrice = 1.10660
	require.NoError(t, coord.ExecuteAction(ctx, *act, q, eurusd, now))
	require.Len(t, pos.DCALevels, 1)
	dcaTicket := pos.DCALevels[0].Ticket

	// Tick 2: +46 pips with three bullish candles and ADX above threshold.
	// Hedge opens at 2x the 0.20 same-direction exposure.
	q = recovery.Quote{Bid: 1.10950, Ask: 1.10960}
	trending := recovery.MarketState{Symbol: "EURUSD", RunSide: domain.Buy, RunLength: 3, ADX: 32}
	assert.Nil(t, engine.CheckDCATrigger(pos, q, trending, pip), "momentum safeguard vetoes further averaging")
	act = engine.CheckHedgeTrigger(pos, q, trending, pip)
	require.NotNil(t, act)
	assert.InDelta(t, 0.40, act.Volume, 1e-9)
	gw.fillPrice = 1.10960
	require.NoError(t, coord.ExecuteAction(ctx, *act, q, eurusd, now))
	require.Len(t, pos.Hedges, 1)
	hedgeTicket := pos.Hedges[0].Ticket
	pos.MaxDrawdownPips = 46

	// Recovery is active: the partial-close path is dead for this position.
	assert.Nil(t, engine.CheckPartialClose(pos, recovery.Quote{Ask: 1.10200}, pip))

	// Tick 3: price reverts most of the way. The hedge releases its first 50%.
	q = recovery.Quote{Bid: 1.10680, Ask: 1.10690}
	act = engine.CheckHedgePartialClose(pos, &pos.Hedges[0], q, pip)
	require.NotNil(t, act)
	assert.Equal(t, 1, act.Stage)
	require.NoError(t, coord.ExecuteAction(ctx, *act, q, eurusd, now))
	assert.InDelta(t, 0.20, pos.Hedges[0].Volume, 1e-9)

	// Tick 4: net stack P&L crosses breakeven. Everything closes as one unit.
	gw.positions = livePositions(original, dcaTicket, hedgeTicket)
	netProfit, ok := trk.NetStackProfit(original, gw.positions)
	require.True(t, ok)
	act = engine.CheckProfitTarget(pos, netProfit, 10000)
	require.NotNil(t, act)
	require.NoError(t, coord.ExecuteAction(ctx, *act, q, eurusd, now))

	assert.ElementsMatch(t, []int64{original, dcaTicket, hedgeTicket}, gw.closed)
	_, stillTracked := trk.Get(original)
	assert.False(t, stillTracked)
	assert.Equal(t, 0, trk.Count())
}

func livePositions(original, dca, hedge int64) []ports.PositionRecord {
	return []ports.PositionRecord{
		{Ticket: original, Symbol: "EURUSD", Profit: -18.0},
		{Ticket: dca, Symbol: "EURUSD", Profit: -3.0},
		{Ticket: hedge, Symbol: "EURUSD", Profit: 22.0},
	}
}
