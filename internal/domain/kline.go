package domain

import "time"

// Kline represents a single candlestick data point.
type Kline struct {
	OpenTime  time.Time // Start time of the interval
	CloseTime time.Time // End time of the interval
	Symbol    string    // Trading symbol
	Timeframe string    // Bar timeframe (e.g., "M15", "H1")
	Open      float64   // Opening price
	High      float64   // Highest price
	Low       float64   // Lowest price
	Close     float64   // Closing price
	Volume    float64   // Tick volume
}

// Body returns the absolute size of the candle body.
func (k *Kline) Body() float64 {
	if k.Close >= k.Open {
		return k.Close - k.Open
	}
	return k.Open - k.Close
}

// Range returns the high-low span of the candle.
func (k *Kline) Range() float64 {
	return k.High - k.Low
}

// BodyRatio returns body/range, or 0 for a degenerate candle.
func (k *Kline) BodyRatio() float64 {
	r := k.Range()
	if r == 0 {
		return 0
	}
	return k.Body() / r
}

// IsBullish reports whether the candle closed above its open.
func (k *Kline) IsBullish() bool { return k.Close > k.Open }

// IsBearish reports whether the candle closed below its open.
func (k *Kline) IsBearish() bool { return k.Close < k.Open }
