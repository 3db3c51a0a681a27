package tracker

import (
	"context"
	"fmt"
	"sort"
	"time"

	"fxRecoveryBot/internal/domain"
	"fxRecoveryBot/internal/ports"
)

// Tracker is the single source of truth for which broker tickets belong to
// which logical trade stack, plus all per-position recovery metadata.
//
// It is mutated only by the stack coordinator from the single control-loop
// goroutine; the policy engine only reads. That ownership rule is the
// concurrency model, so there is no lock here.
type Tracker struct {
	logger    ports.Logger
	positions map[int64]*domain.TrackedPosition
}

// New creates an empty tracker.
func New(logger ports.Logger) (*Tracker, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required for tracker")
	}
	return &Tracker{
		logger:    logger,
		positions: make(map[int64]*domain.TrackedPosition),
	}, nil
}

// Track registers a new top-level position. Re-tracking a known ticket is a
// warned no-op rather than an error: reconciliation runs every tick and must
// be idempotent.
func (t *Tracker) Track(ctx context.Context, ticket int64, symbol string, side domain.Side, entryPrice, volume float64, kind domain.PositionKind, openedAt time.Time) {
	if t.knownAnywhere(ticket) {
		t.logger.Warn(ctx, "Ticket already tracked, ignoring track request", map[string]interface{}{"ticket": ticket, "symbol": symbol})
		return
	}
	if openedAt.IsZero() {
		openedAt = time.Now().UTC()
	}
	t.positions[ticket] = &domain.TrackedPosition{
		Ticket:        ticket,
		Symbol:        symbol,
		Side:          side,
		Kind:          kind,
		EntryPrice:    entryPrice,
		InitialVolume: volume,
		CurrentVolume: volume,
		OpenedAt:      openedAt,
	}
	t.logger.Debug(ctx, "Position tracked", map[string]interface{}{"ticket": ticket, "symbol": symbol, "side": side, "kind": kind, "volume": volume})
}

// Untrack removes a top-level position and all its nested metadata. It does
// not touch broker state.
func (t *Tracker) Untrack(ctx context.Context, ticket int64) {
	if _, ok := t.positions[ticket]; !ok {
		t.logger.Debug(ctx, "Untrack of unknown ticket ignored", map[string]interface{}{"ticket": ticket})
		return
	}
	delete(t.positions, ticket)
	t.logger.Debug(ctx, "Position untracked", map[string]interface{}{"ticket": ticket})
}

// Get returns the tracked position for ticket, if any.
func (t *Tracker) Get(ticket int64) (*domain.TrackedPosition, bool) {
	p, ok := t.positions[ticket]
	return p, ok
}

// All returns every tracked position ordered by ticket for deterministic
// iteration within a tick.
func (t *Tracker) All() []*domain.TrackedPosition {
	out := make([]*domain.TrackedPosition, 0, len(t.positions))
	for _, p := range t.positions {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ticket < out[j].Ticket })
	return out
}

// Count returns the number of top-level tracked positions.
func (t *Tracker) Count() int { return len(t.positions) }

// LinkDCA attaches an averaging order to its parent's DCA list.
func (t *Tracker) LinkDCA(ctx context.Context, parent, child int64, level int, volume, entryPrice float64) error {
	pos, ok := t.positions[parent]
	if !ok {
		return fmt.Errorf("link dca %d: parent %d: %w", child, parent, ports.ErrStackNotTracked)
	}
	if t.knownAnywhere(child) {
		return fmt.Errorf("link dca %d to %d: %w", child, parent, ports.ErrDuplicateTicket)
	}
	pos.DCALevels = append(pos.DCALevels, domain.DCALevel{
		Ticket:     child,
		LevelIndex: level,
		Volume:     volume,
		EntryPrice: entryPrice,
	})
	t.logger.Debug(ctx, "DCA level linked", map[string]interface{}{"parent": parent, "ticket": child, "level": level})
	return nil
}

// LinkHedge attaches an offsetting order to its parent's hedge list.
func (t *Tracker) LinkHedge(ctx context.Context, parent, child int64, side domain.Side, volume, entryPrice float64) error {
	pos, ok := t.positions[parent]
	if !ok {
		return fmt.Errorf("link hedge %d: parent %d: %w", child, parent, ports.ErrStackNotTracked)
	}
	if t.knownAnywhere(child) {
		return fmt.Errorf("link hedge %d to %d: %w", child, parent, ports.ErrDuplicateTicket)
	}
	pos.Hedges = append(pos.Hedges, domain.Hedge{
		Ticket:     child,
		Side:       side,
		Volume:     volume,
		EntryPrice: entryPrice,
	})
	t.logger.Debug(ctx, "Hedge linked", map[string]interface{}{"parent": parent, "ticket": child})
	return nil
}

// LinkHedgeDCA attaches an averaging order to a specific hedge, not to the
// original.
func (t *Tracker) LinkHedgeDCA(ctx context.Context, parent, hedgeTicket, child int64, level int, volume, entryPrice float64) error {
	pos, ok := t.positions[parent]
	if !ok {
		return fmt.Errorf("link hedge dca %d: parent %d: %w", child, parent, ports.ErrStackNotTracked)
	}
	hedge := pos.FindHedge(hedgeTicket)
	if hedge == nil {
		return fmt.Errorf("link hedge dca %d: hedge %d not found on %d: %w", child, hedgeTicket, parent, ports.ErrStackNotTracked)
	}
	if t.knownAnywhere(child) {
		return fmt.Errorf("link hedge dca %d to hedge %d: %w", child, hedgeTicket, ports.ErrDuplicateTicket)
	}
	hedge.DCALevels = append(hedge.DCALevels, domain.DCALevel{
		Ticket:     child,
		LevelIndex: level,
		Volume:     volume,
		EntryPrice: entryPrice,
	})
	t.logger.Debug(ctx, "Hedge DCA linked", map[string]interface{}{"parent": parent, "hedge": hedgeTicket, "ticket": child, "level": level})
	return nil
}

// StackTickets returns the flattened set of every ticket belonging to one
// stack. Returns nil when the ticket is not a top-level tracked position.
func (t *Tracker) StackTickets(ticket int64) []int64 {
	pos, ok := t.positions[ticket]
	if !ok {
		return nil
	}
	return pos.StackTickets()
}

// NetStackProfit sums the broker-reported unrealized profit across every
// stack ticket present in the live snapshot.
func (t *Tracker) NetStackProfit(ticket int64, live []ports.PositionRecord) (float64, bool) {
	pos, ok := t.positions[ticket]
	if !ok {
		return 0, false
	}
	byTicket := indexByTicket(live)
	var total float64
	for _, tk := range pos.StackTickets() {
		if rec, ok := byTicket[tk]; ok {
			total += rec.Profit
		}
	}
	return total, true
}

// TrackedStackVolume sums the tracker's view of a stack's open volume.
// Against the broker's per-ticket volumes this must never silently diverge.
func (t *Tracker) TrackedStackVolume(ticket int64) float64 {
	pos, ok := t.positions[ticket]
	if !ok {
		return 0
	}
	vol := pos.CurrentVolume
	for _, d := range pos.DCALevels {
		vol += d.Volume
	}
	for _, h := range pos.Hedges {
		vol += h.Volume
		for _, d := range h.DCALevels {
			vol += d.Volume
		}
	}
	return vol
}

// UnderwaterStacks returns the tickets of every stack whose net profit is
// negative, ordered by ticket.
func (t *Tracker) UnderwaterStacks(live []ports.PositionRecord) []int64 {
	var out []int64
	for _, pos := range t.All() {
		if profit, ok := t.NetStackProfit(pos.Ticket, live); ok && profit < 0 {
			out = append(out, pos.Ticket)
		}
	}
	return out
}

// RemoveClosedHedge drops a hedge (and its DCA children) from a stack after
// the hedge was closed at the broker.
func (t *Tracker) RemoveClosedHedge(ctx context.Context, parent, hedgeTicket int64) {
	pos, ok := t.positions[parent]
	if !ok {
		return
	}
	for i := range pos.Hedges {
		if pos.Hedges[i].Ticket == hedgeTicket {
			pos.Hedges = append(pos.Hedges[:i], pos.Hedges[i+1:]...)
			t.logger.Debug(ctx, "Hedge removed from stack", map[string]interface{}{"parent": parent, "hedge": hedgeTicket})
			return
		}
	}
}

// ApplyHedgePartialClose records a proportional partial close on a hedge and
// its DCA children. fraction is the share of current volume closed; at 1.0
// the hedge is removed from the stack entirely.
func (t *Tracker) ApplyHedgePartialClose(ctx context.Context, parent, hedgeTicket int64, fraction float64, stage int) {
	pos, ok := t.positions[parent]
	if !ok {
		return
	}
	hedge := pos.FindHedge(hedgeTicket)
	if hedge == nil {
		return
	}
	if fraction >= 1.0 {
		t.RemoveClosedHedge(ctx, parent, hedgeTicket)
		return
	}
	hedge.Volume -= hedge.Volume * fraction
	for i := range hedge.DCALevels {
		hedge.DCALevels[i].Volume -= hedge.DCALevels[i].Volume * fraction
	}
	if stage > hedge.ReleaseStage {
		hedge.ReleaseStage = stage
	}
}

// ReduceVolume records a partial close on the original position itself
// (PC1/PC2 path).
func (t *Tracker) ReduceVolume(ctx context.Context, ticket int64, closedVolume float64) {
	pos, ok := t.positions[ticket]
	if !ok {
		return
	}
	pos.CurrentVolume -= closedVolume
	if pos.CurrentVolume < 0 {
		t.logger.Warn(ctx, "Tracked volume went negative after partial close, clamping", map[string]interface{}{"ticket": ticket})
		pos.CurrentVolume = 0
	}
}

// knownAnywhere reports whether the ticket appears anywhere: as a top-level
// position, a DCA level, a hedge, or a hedge-DCA level. A ticket lives in
// exactly one slot, never duplicated across categories.
func (t *Tracker) knownAnywhere(ticket int64) bool {
	if _, ok := t.positions[ticket]; ok {
		return true
	}
	for _, pos := range t.positions {
		if pos.ContainsTicket(ticket) {
			return true
		}
	}
	return false
}

// Validate scans for duplicate ticket membership across stacks. A duplicate
// means the same money is being managed twice, a tracking bug severe enough
// to surface loudly rather than correct silently.
func (t *Tracker) Validate() error {
	seen := make(map[int64]int64) // ticket -> owning stack
	for _, pos := range t.All() {
		for _, tk := range pos.StackTickets() {
			if owner, dup := seen[tk]; dup {
				return fmt.Errorf("ticket %d appears in stacks %d and %d: duplicate membership", tk, owner, pos.Ticket)
			}
			seen[tk] = pos.Ticket
		}
	}
	return nil
}

// Snapshot returns a deep copy of the tracked table for persistence.
func (t *Tracker) Snapshot() map[int64]*domain.TrackedPosition {
	out := make(map[int64]*domain.TrackedPosition, len(t.positions))
	for ticket, pos := range t.positions {
		out[ticket] = pos.Clone()
	}
	return out
}

// Restore replaces the tracked table from a persisted snapshot.
func (t *Tracker) Restore(positions map[int64]*domain.TrackedPosition) {
	t.positions = make(map[int64]*domain.TrackedPosition, len(positions))
	for ticket, pos := range positions {
		t.positions[ticket] = pos.Clone()
	}
}

func indexByTicket(live []ports.PositionRecord) map[int64]ports.PositionRecord {
	byTicket := make(map[int64]ports.PositionRecord, len(live))
	for _, rec := range live {
		byTicket[rec.Ticket] = rec
	}
	return byTicket
}
