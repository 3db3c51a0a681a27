package ports

import (
	"context"
	"time"

	"fxRecoveryBot/internal/domain"
)

// OpenRequest describes a market order to be opened.
type OpenRequest struct {
	Symbol  string
	Side    domain.Side
	Volume  float64
	Comment string // Recovery tag for child orders; survives restarts at the broker
}

// OrderResult is the broker's answer to a successful open.
type OrderResult struct {
	Ticket    int64
	FillPrice float64
}

// PositionRecord is the broker's authoritative view of one open position.
type PositionRecord struct {
	Ticket       int64
	Symbol       string
	Side         domain.Side
	Volume       float64
	OpenPrice    float64
	CurrentPrice float64
	Profit       float64 // Unrealized P&L in account currency
	Comment      string
	OpenedAt     time.Time
}

// OrderGateway is the order execution boundary. Every call is a synchronous,
// fire-and-forget broker request: it either succeeds immediately or returns
// an error. There is no retry here; a failed action is naturally retried on
// the next tick because the condition that produced it persists.
type OrderGateway interface {
	// Open places a market order and returns the ticket and fill price.
	Open(ctx context.Context, req OpenRequest) (*OrderResult, error)

	// Close fully closes the position identified by ticket.
	Close(ctx context.Context, ticket int64) error

	// ClosePartial closes volume lots of the position identified by ticket.
	ClosePartial(ctx context.Context, ticket int64, volume float64) error

	// ModifyStopLoss moves the hardware stop loss of a position.
	ModifyStopLoss(ctx context.Context, ticket int64, price float64) error

	// OpenPositions returns all open positions, or only those for symbol
	// when symbol is non-empty.
	OpenPositions(ctx context.Context, symbol string) ([]PositionRecord, error)

	// AccountBalance returns the current account balance.
	AccountBalance(ctx context.Context) (float64, error)
}
