package ports

import (
	"context"

	"fxRecoveryBot/internal/domain"
)

// Signal is an opaque entry decision from the external confluence detector.
// The core consumes the score for sizing/filtering and never recomputes it.
type Signal struct {
	Symbol          string
	Side            domain.Side
	Price           float64
	ConfluenceScore int
	StrategyLabel   string // e.g., "VWAP", "BREAKOUT"; embedded in the order comment
}

// SignalSource is the boundary to the signal-detection collaborator.
// Detect returns nil, nil when no setup is present.
type SignalSource interface {
	Detect(ctx context.Context, symbol string, bars []*domain.Kline) (*Signal, error)
}
