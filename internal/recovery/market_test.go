package recovery

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"fxRecoveryBot/internal/domain"
)

// bar builds a candle from open/close with a range wide enough that the
// body ratio is controlled by the open/close distance alone.
func bar(open, close float64) *domain.Kline {
	high, low := open, close
	if close > open {
		high, low = close, open
	}
	// 25% wick total keeps body ratio at 0.8 for decisive candles.
	pad := (high - low) * 0.125
	return &domain.Kline{Open: open, High: high + pad, Low: low - pad, Close: close}
}

func TestEvaluateMarket_BullishRun(t *testing.T) {
	cfg := testConfig()
	bars := []*domain.Kline{
		bar(1.1000, 1.0990), // bearish, breaks any longer run
		bar(1.0990, 1.1010),
		bar(1.1010, 1.1030),
		bar(1.1030, 1.1050),
	}
	ms := EvaluateMarket("EURUSD", bars, 28, cfg)
	assert.Equal(t, domain.Buy, ms.RunSide)
	assert.Equal(t, 3, ms.RunLength)
	assert.Equal(t, 28.0, ms.ADX)
}

func TestEvaluateMarket_IndecisiveCandleEndsRun(t *testing.T) {
	cfg := testConfig()
	doji := &domain.Kline{Open: 1.1010, High: 1.1030, Low: 1.0990, Close: 1.1011}
	bars := []*domain.Kline{
		bar(1.0990, 1.1010),
		doji,
		bar(1.1011, 1.1031),
	}
	ms := EvaluateMarket("EURUSD", bars, 0, cfg)
	assert.Equal(t, domain.Buy, ms.RunSide)
	assert.Equal(t, 1, ms.RunLength, "a doji in the middle ends the run")
}

func TestEvaluateMarket_NoBars(t *testing.T) {
	ms := EvaluateMarket("EURUSD", nil, 0, testConfig())
	assert.Equal(t, 0, ms.RunLength)
	assert.False(t, ms.MomentumAgainst(domain.Sell, testConfig()))
}

func TestMomentumAgainst(t *testing.T) {
	cfg := testConfig()
	rising := MarketState{RunSide: domain.Buy, RunLength: 3}

	assert.True(t, rising.MomentumAgainst(domain.Sell, cfg), "rising candles fight a short")
	assert.False(t, rising.MomentumAgainst(domain.Buy, cfg), "rising candles help a long")

	short := MarketState{RunSide: domain.Buy, RunLength: 2}
	assert.False(t, short.MomentumAgainst(domain.Sell, cfg), "two candles are not a run")
}

func TestTrending(t *testing.T) {
	cfg := testConfig()

	byCandles := MarketState{RunSide: domain.Buy, RunLength: 3, ADX: 10}
	assert.True(t, byCandles.Trending(domain.Sell, cfg))

	byADX := MarketState{ADX: 31}
	assert.True(t, byADX.Trending(domain.Sell, cfg))

	neither := MarketState{RunSide: domain.Buy, RunLength: 2, ADX: 20}
	assert.False(t, neither.Trending(domain.Sell, cfg))
}

func TestTrendBlockActive(t *testing.T) {
	cfg := testConfig()
	assert.True(t, MarketState{ADX: 36}.TrendBlockActive(cfg))
	assert.False(t, MarketState{ADX: 34}.TrendBlockActive(cfg))
}

func TestQuoteClosePrice(t *testing.T) {
	q := Quote{Bid: 1.1000, Ask: 1.1002}
	assert.Equal(t, 1.1000, q.ClosePrice(domain.Buy))
	assert.Equal(t, 1.1002, q.ClosePrice(domain.Sell))
}
