package domain

// Side represents the direction of a position (buy/long or sell/short).
type Side string

const (
	Buy  Side = "buy"
	Sell Side = "sell"
)

// Opposite returns the offsetting direction.
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

// PositionKind classifies a tracked position. The kind answers the
// "can this spawn a grid child" question by type, not by scattered flags.
type PositionKind string

const (
	// KindStandalone is an original entry; it may spawn grid, DCA and hedge children.
	KindStandalone PositionKind = "standalone"
	// KindGridChild is a pyramided same-direction order. It may receive DCA
	// and hedges of its own but never spawns further grid children.
	KindGridChild PositionKind = "grid_child"
)

// CanSpawnGrid reports whether a position of this kind may open grid children.
func (k PositionKind) CanSpawnGrid() bool {
	return k == KindStandalone
}

// CloseReason indicates why a stack or position was closed.
type CloseReason string

const (
	CloseReasonProfitTarget  CloseReason = "PROFIT_TARGET"
	CloseReasonTimeLimit     CloseReason = "TIME_LIMIT"
	CloseReasonStackStopLoss CloseReason = "STACK_STOP_LOSS"
	CloseReasonStackDrawdown CloseReason = "STACK_DRAWDOWN"
	CloseReasonCascade       CloseReason = "CASCADE_PROTECTION"
	CloseReasonExitSignal    CloseReason = "EXIT_SIGNAL"
	CloseReasonTrailingStop  CloseReason = "TRAILING_STOP"
	CloseReasonPC2TimeLimit  CloseReason = "PC2_TIME_LIMIT"
	CloseReasonHedgeDrawdown CloseReason = "HEDGE_DRAWDOWN"
	CloseReasonOrphanLoss    CloseReason = "ORPHAN_LOSS"
	CloseReasonManual        CloseReason = "MANUAL"
)

// ProfitPips converts a price move into pips from the position's perspective.
func ProfitPips(side Side, entryPrice, currentPrice, pipSize float64) float64 {
	if pipSize == 0 {
		return 0
	}
	if side == Buy {
		return (currentPrice - entryPrice) / pipSize
	}
	return (entryPrice - currentPrice) / pipSize
}
