package domain

import "time"

// StopOutEvent records one stack stop-loss firing. A short rolling window of
// these is the input to cascade detection: one stop is noise, a burst of
// stops during a trending move is a signal to stop fighting the market.
type StopOutEvent struct {
	Symbol    string    `json:"symbol"`
	Timestamp time.Time `json:"timestamp"`
	ADXAtStop float64   `json:"adx_at_stop"` // 0 when unknown
}

// BlockingState holds the process-wide trade blocks. It is persisted so a
// restart does not silently drop an active block.
type BlockingState struct {
	CascadeBlocks       map[string]time.Time `json:"cascade_blocks"`
	MarketTrendingBlock map[string]bool      `json:"market_trending_block"`
	LastBlockUpdate     time.Time            `json:"last_block_update"`
}

// NewBlockingState returns an empty, usable BlockingState.
func NewBlockingState() *BlockingState {
	return &BlockingState{
		CascadeBlocks:       make(map[string]time.Time),
		MarketTrendingBlock: make(map[string]bool),
	}
}

// SetCascadeBlock blocks new entries on symbol until the given time.
func (b *BlockingState) SetCascadeBlock(symbol string, until time.Time) {
	if b.CascadeBlocks == nil {
		b.CascadeBlocks = make(map[string]time.Time)
	}
	b.CascadeBlocks[symbol] = until
	b.LastBlockUpdate = until
}

// CascadeBlockedUntil returns the active block expiry for symbol, clearing
// the entry if it has already lapsed.
func (b *BlockingState) CascadeBlockedUntil(symbol string, now time.Time) (time.Time, bool) {
	until, ok := b.CascadeBlocks[symbol]
	if !ok {
		return time.Time{}, false
	}
	if !now.Before(until) {
		delete(b.CascadeBlocks, symbol)
		return time.Time{}, false
	}
	return until, true
}

// SetTrendingBlock records whether the market-trending block is active for symbol.
func (b *BlockingState) SetTrendingBlock(symbol string, blocked bool, now time.Time) {
	if b.MarketTrendingBlock == nil {
		b.MarketTrendingBlock = make(map[string]bool)
	}
	b.MarketTrendingBlock[symbol] = blocked
	b.LastBlockUpdate = now
}

// TrendingBlocked reports whether new entries on symbol are blocked by trend state.
func (b *BlockingState) TrendingBlocked(symbol string) bool {
	return b.MarketTrendingBlock[symbol]
}

// DropStale clears all blocks when the persisted state is older than maxAge.
// A block carried across a long downtime says nothing about the current
// market, so startup re-evaluates from scratch instead.
func (b *BlockingState) DropStale(now time.Time, maxAge time.Duration) bool {
	if b.LastBlockUpdate.IsZero() || now.Sub(b.LastBlockUpdate) <= maxAge {
		return false
	}
	b.CascadeBlocks = make(map[string]time.Time)
	b.MarketTrendingBlock = make(map[string]bool)
	return true
}

// StateSnapshot is the single persisted document: the tracker table plus
// blocking flags. Unknown fields are ignored on load and missing fields
// default to empty, so the schema stays backward-readable as fields are added.
type StateSnapshot struct {
	SchemaVersion       int                        `json:"schema_version"`
	SavedAt             time.Time                  `json:"saved_at"`
	Positions           map[int64]*TrackedPosition `json:"positions"`
	CascadeBlocks       map[string]time.Time       `json:"cascade_blocks"`
	MarketTrendingBlock map[string]bool            `json:"market_trending_block"`
	LastBlockUpdate     time.Time                  `json:"last_block_update"`
}

// SchemaVersionCurrent is bumped when the snapshot layout changes shape.
const SchemaVersionCurrent = 1

// EmptySnapshot returns a snapshot with all maps allocated.
func EmptySnapshot() *StateSnapshot {
	return &StateSnapshot{
		SchemaVersion:       SchemaVersionCurrent,
		Positions:           make(map[int64]*TrackedPosition),
		CascadeBlocks:       make(map[string]time.Time),
		MarketTrendingBlock: make(map[string]bool),
	}
}

// Blocking extracts the blocking portion of the snapshot.
func (s *StateSnapshot) Blocking() *BlockingState {
	b := NewBlockingState()
	for sym, until := range s.CascadeBlocks {
		b.CascadeBlocks[sym] = until
	}
	for sym, blocked := range s.MarketTrendingBlock {
		b.MarketTrendingBlock[sym] = blocked
	}
	b.LastBlockUpdate = s.LastBlockUpdate
	return b
}
