package ports

import (
	"context"

	"fxRecoveryBot/internal/domain"
)

// SymbolInfo carries the broker metadata the sizing and pip arithmetic need.
type SymbolInfo struct {
	Symbol     string  // Broker symbol name (e.g., "EURUSD")
	PipSize    float64 // Price increment of one pip (e.g., 0.0001)
	Digits     int     // Price decimal digits
	VolumeStep float64 // Smallest lot increment accepted by the broker
	VolumeMin  float64 // Smallest lot size accepted by the broker
}

// MarketData is the read-only market boundary: quotes, bars and symbol
// metadata come from the terminal, never computed here. Indicator values the
// policy consumes as scalars (ADX) are also served by the terminal side so
// the core never owns indicator math.
type MarketData interface {
	// BidAsk returns the current bid and ask for a symbol.
	BidAsk(ctx context.Context, symbol string) (bid, ask float64, err error)

	// Bars returns up to count most recent bars for the given timeframe
	// (e.g., "M15", "H1"), oldest first.
	Bars(ctx context.Context, symbol, timeframe string, count int) ([]*domain.Kline, error)

	// SymbolInfo returns pip size and volume constraints for a symbol.
	SymbolInfo(ctx context.Context, symbol string) (*SymbolInfo, error)

	// ADX returns the current Average Directional Index value for the
	// symbol on the given timeframe. Returns 0 with no error when the
	// terminal cannot provide it; callers treat 0 as "unknown".
	ADX(ctx context.Context, symbol, timeframe string, period int) (float64, error)
}
