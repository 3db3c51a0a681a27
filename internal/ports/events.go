package ports

import (
	"context"
	"time"
)

// Event types written to the telemetry sink. The ML analysis side reads
// these; the core only appends.
const (
	EventRecoveryDecision  = "recovery_decision"
	EventRecoveryBlocked   = "recovery_blocked"
	EventDCAOpened         = "dca_opened"
	EventHedgeOpened       = "hedge_opened"
	EventHedgeDCAOpened    = "hedge_dca_opened"
	EventHedgePartialClose = "hedge_partial_close"
	EventPartialClose1     = "pc1"
	EventPartialClose2     = "pc2"
	EventTrailingUpdate    = "trailing_update"
	EventTrailingHit       = "trailing_hit"
	EventStopOut           = "stop_out"
	EventCascade           = "cascade"
	EventStackClosed       = "stack_closed"
	EventOrphanClosed      = "orphan_closed"
)

// Event is one append-only telemetry record.
type Event struct {
	Type   string
	Symbol string
	Ticket int64
	Time   time.Time
	Fields map[string]interface{}
}

// StackClose summarizes a fully processed stack closure for the history table.
type StackClose struct {
	Ticket      int64
	Symbol      string
	Reason      string
	FinalProfit float64
	TicketCount int
	ClosedCount int
	OpenedAt    time.Time
	ClosedAt    time.Time
}

// EventSink is the write-only telemetry boundary. Writes are best effort:
// a sink failure must never block or fail a trading decision, so callers
// log returned errors and move on.
type EventSink interface {
	Record(ctx context.Context, ev Event) error
	RecordStackClose(ctx context.Context, sc StackClose) error
	Close() error
}
