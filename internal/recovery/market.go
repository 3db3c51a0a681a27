package recovery

import "fxRecoveryBot/internal/domain"

// Quote is the current bid/ask for a symbol.
type Quote struct {
	Bid float64
	Ask float64
}

// ClosePrice returns the price a position of the given side would close at.
func (q Quote) ClosePrice(side domain.Side) float64 {
	if side == domain.Buy {
		return q.Bid
	}
	return q.Ask
}

// MarketState is the per-symbol market context the policy rules consume.
// It is computed once per symbol per tick from bars and the terminal-side
// ADX, then passed by value into every rule.
type MarketState struct {
	Symbol string
	ADX    float64 // 0 when the terminal could not provide it

	// Trailing run of consecutive same-direction candles on the work
	// timeframe: RunSide is the direction price moved, RunLength how many
	// candles in a row, counting only candles with a decisive body.
	RunSide   domain.Side
	RunLength int
}

// EvaluateMarket derives MarketState from the most recent bars. The run is
// counted backwards from the latest bar; an indecisive candle (body ratio
// below the configured minimum) ends the run.
func EvaluateMarket(symbol string, bars []*domain.Kline, adx float64, cfg Config) MarketState {
	ms := MarketState{Symbol: symbol, ADX: adx}
	if len(bars) == 0 {
		return ms
	}

	last := bars[len(bars)-1]
	switch {
	case last.IsBullish():
		ms.RunSide = domain.Buy
	case last.IsBearish():
		ms.RunSide = domain.Sell
	default:
		return ms
	}

	for i := len(bars) - 1; i >= 0; i-- {
		b := bars[i]
		sameDir := (ms.RunSide == domain.Buy && b.IsBullish()) || (ms.RunSide == domain.Sell && b.IsBearish())
		if !sameDir || b.BodyRatio() < cfg.TrendCandleBodyRatio {
			break
		}
		ms.RunLength++
	}
	return ms
}

// MomentumAgainst reports sustained candle momentum moving price against a
// position of the given side. This is the DCA safeguard: averaging into a
// ranging pullback is acceptable, averaging into a real trend is not.
func (m MarketState) MomentumAgainst(side domain.Side, cfg Config) bool {
	adverse := side.Opposite() // For a sell, rising (buy-direction) candles are adverse
	return m.RunSide == adverse && m.RunLength >= cfg.TrendCandleCount
}

// Trending reports trend confirmation for the hedge trigger: either a full
// adverse candle run or an elevated ADX. The hedge is the trend case, the
// mirror of the DCA safeguard.
func (m MarketState) Trending(side domain.Side, cfg Config) bool {
	if m.MomentumAgainst(side, cfg) {
		return true
	}
	return m.ADX >= cfg.ADXTrendThreshold
}

// TrendBlockActive reports whether the symbol-wide ADX block for new entries
// should be on.
func (m MarketState) TrendBlockActive(cfg Config) bool {
	return m.ADX >= cfg.ADXBlockThreshold
}
