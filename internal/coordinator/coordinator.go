package coordinator

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"fxRecoveryBot/internal/domain"
	"fxRecoveryBot/internal/ports"
	"fxRecoveryBot/internal/recovery"
	"fxRecoveryBot/internal/tracker"
)

// Coordinator translates policy decisions into broker calls and tracker
// mutations, absorbing partial failure. A failed broker call is logged and
// the tracker left unchanged; the triggering condition persists, so the
// decision naturally re-fires next tick. There are no retry loops here.
type Coordinator struct {
	logger  ports.Logger
	gateway ports.OrderGateway
	tracker *tracker.Tracker
	sink    ports.EventSink
	engine  *recovery.Engine
}

// New wires a coordinator. The sink may be nil (telemetry disabled).
func New(logger ports.Logger, gateway ports.OrderGateway, trk *tracker.Tracker, sink ports.EventSink, engine *recovery.Engine) (*Coordinator, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required for coordinator")
	}
	if gateway == nil {
		return nil, fmt.Errorf("order gateway is required for coordinator")
	}
	if trk == nil {
		return nil, fmt.Errorf("tracker is required for coordinator")
	}
	if engine == nil {
		return nil, fmt.Errorf("recovery engine is required for coordinator")
	}
	return &Coordinator{logger: logger, gateway: gateway, tracker: trk, sink: sink, engine: engine}, nil
}

// ExecuteAction dispatches one policy action. Errors are returned for the
// caller's log line but must not abort the tick.
func (c *Coordinator) ExecuteAction(ctx context.Context, act recovery.Action, q recovery.Quote, info *ports.SymbolInfo, now time.Time) error {
	switch act.Type {
	case recovery.ActionOpenDCA:
		return c.openDCA(ctx, act, info, now)
	case recovery.ActionOpenHedge:
		return c.openHedge(ctx, act, info, now)
	case recovery.ActionOpenHedgeDCA:
		return c.openHedgeDCA(ctx, act, info, now)
	case recovery.ActionHedgePartialClose:
		return c.HedgePartialClose(ctx, act.Ticket, act.HedgeTicket, act.Fraction, act.Stage, info, now)
	case recovery.ActionPartialClose:
		return c.partialClose(ctx, act, q, info, now)
	case recovery.ActionTrailingUpdate:
		return c.trailingUpdate(ctx, act, now)
	case recovery.ActionCloseStack:
		return c.CloseStack(ctx, act.Ticket, act.Reason, now)
	}
	return fmt.Errorf("unknown action type %q: %w", act.Type, ports.ErrInvalidRequest)
}

func (c *Coordinator) openDCA(ctx context.Context, act recovery.Action, info *ports.SymbolInfo, now time.Time) error {
	pos, ok := c.tracker.Get(act.Ticket)
	if !ok {
		return fmt.Errorf("open dca for %d: %w", act.Ticket, ports.ErrStackNotTracked)
	}
	volume := RoundVolume(act.Volume, info)
	if volume <= 0 {
		return fmt.Errorf("open dca for %d: volume %.4f below broker minimum: %w", act.Ticket, act.Volume, ports.ErrVolumeInvalid)
	}
	res, err := c.gateway.Open(ctx, ports.OpenRequest{Symbol: pos.Symbol, Side: act.Side, Volume: volume, Comment: act.Comment})
	if err != nil {
		return fmt.Errorf("open dca for %d: %w", act.Ticket, err)
	}
	if err := c.tracker.LinkDCA(ctx, act.Ticket, res.Ticket, act.Level, volume, res.FillPrice); err != nil {
		c.logger.Error(ctx, err, "DCA opened at broker but linking failed", map[string]interface{}{"parent": act.Ticket, "ticket": res.Ticket})
		return err
	}
	c.logger.Info(ctx, "DCA order opened", map[string]interface{}{"parent": act.Ticket, "ticket": res.Ticket, "level": act.Level, "volume": volume, "fill": res.FillPrice})
	c.emit(ctx, ports.Event{Type: ports.EventDCAOpened, Symbol: pos.Symbol, Ticket: act.Ticket, Time: now, Fields: map[string]interface{}{
		"child": res.Ticket, "level": act.Level, "volume": volume, "fill": res.FillPrice, "note": act.Note,
	}})
	return nil
}

func (c *Coordinator) openHedge(ctx context.Context, act recovery.Action, info *ports.SymbolInfo, now time.Time) error {
	pos, ok := c.tracker.Get(act.Ticket)
	if !ok {
		return fmt.Errorf("open hedge for %d: %w", act.Ticket, ports.ErrStackNotTracked)
	}
	volume := RoundVolume(act.Volume, info)
	if volume <= 0 {
		return fmt.Errorf("open hedge for %d: volume %.4f below broker minimum: %w", act.Ticket, act.Volume, ports.ErrVolumeInvalid)
	}
	res, err := c.gateway.Open(ctx, ports.OpenRequest{Symbol: pos.Symbol, Side: act.Side, Volume: volume, Comment: act.Comment})
	if err != nil {
		return fmt.Errorf("open hedge for %d: %w", act.Ticket, err)
	}
	if err := c.tracker.LinkHedge(ctx, act.Ticket, res.Ticket, act.Side, volume, res.FillPrice); err != nil {
		c.logger.Error(ctx, err, "Hedge opened at broker but linking failed", map[string]interface{}{"parent": act.Ticket, "ticket": res.Ticket})
		return err
	}
	c.logger.Info(ctx, "Hedge opened", map[string]interface{}{"parent": act.Ticket, "ticket": res.Ticket, "volume": volume, "fill": res.FillPrice})
	c.emit(ctx, ports.Event{Type: ports.EventHedgeOpened, Symbol: pos.Symbol, Ticket: act.Ticket, Time: now, Fields: map[string]interface{}{
		"hedge": res.Ticket, "volume": volume, "fill": res.FillPrice, "note": act.Note,
	}})
	return nil
}

func (c *Coordinator) openHedgeDCA(ctx context.Context, act recovery.Action, info *ports.SymbolInfo, now time.Time) error {
	pos, ok := c.tracker.Get(act.Ticket)
	if !ok {
		return fmt.Errorf("open hedge dca for %d: %w", act.Ticket, ports.ErrStackNotTracked)
	}
	volume := RoundVolume(act.Volume, info)
	if volume <= 0 {
		return fmt.Errorf("open hedge dca for %d: volume %.4f below broker minimum: %w", act.Ticket, act.Volume, ports.ErrVolumeInvalid)
	}
	res, err := c.gateway.Open(ctx, ports.OpenRequest{Symbol: pos.Symbol, Side: act.Side, Volume: volume, Comment: act.Comment})
	if err != nil {
		return fmt.Errorf("open hedge dca for %d: %w", act.Ticket, err)
	}
	if err := c.tracker.LinkHedgeDCA(ctx, act.Ticket, act.HedgeTicket, res.Ticket, act.Level, volume, res.FillPrice); err != nil {
		c.logger.Error(ctx, err, "Hedge DCA opened at broker but linking failed", map[string]interface{}{"hedge": act.HedgeTicket, "ticket": res.Ticket})
		return err
	}
	c.logger.Info(ctx, "Hedge DCA opened", map[string]interface{}{"parent": act.Ticket, "hedge": act.HedgeTicket, "ticket": res.Ticket, "level": act.Level, "volume": volume})
	c.emit(ctx, ports.Event{Type: ports.EventHedgeDCAOpened, Symbol: pos.Symbol, Ticket: act.Ticket, Time: now, Fields: map[string]interface{}{
		"hedge": act.HedgeTicket, "child": res.Ticket, "level": act.Level, "volume": volume, "note": act.Note,
	}})
	return nil
}

// CloseStack closes every ticket in the stack, best effort: each close is
// attempted independently, a failed child never prevents attempting the
// rest. The stack is untracked only when all closes succeeded; otherwise it
// stays tracked so the next tick retries the remainder, and the failure is
// surfaced loudly for the operator.
func (c *Coordinator) CloseStack(ctx context.Context, ticket int64, reason domain.CloseReason, now time.Time) error {
	pos, ok := c.tracker.Get(ticket)
	if !ok {
		return fmt.Errorf("close stack %d: %w", ticket, ports.ErrStackNotTracked)
	}
	tickets := pos.StackTickets()

	finalProfit := 0.0
	if live, err := c.gateway.OpenPositions(ctx, pos.Symbol); err == nil {
		if p, ok := c.tracker.NetStackProfit(ticket, live); ok {
			finalProfit = p
		}
	}

	var failed []int64
	for _, tk := range tickets {
		if err := c.gateway.Close(ctx, tk); err != nil {
			c.logger.Error(ctx, err, "Failed to close stack ticket", map[string]interface{}{"stack": ticket, "ticket": tk, "reason": reason})
			failed = append(failed, tk)
		}
	}

	closed := len(tickets) - len(failed)
	if len(failed) > 0 {
		c.logger.Error(ctx, ports.ErrPartialCloseFailed, "Stack closed incompletely, remains tracked for retry", map[string]interface{}{
			"stack": ticket, "reason": reason, "closed": closed, "failed": failed,
		})
		return fmt.Errorf("close stack %d: %d of %d tickets failed: %w", ticket, len(failed), len(tickets), ports.ErrPartialCloseFailed)
	}

	c.tracker.Untrack(ctx, ticket)
	c.logger.Info(ctx, "Stack closed", map[string]interface{}{"stack": ticket, "reason": reason, "tickets": len(tickets), "final_profit": finalProfit})
	if reason == domain.CloseReasonTrailingStop {
		c.emit(ctx, ports.Event{Type: ports.EventTrailingHit, Symbol: pos.Symbol, Ticket: ticket, Time: now, Fields: map[string]interface{}{
			"stop": pos.Trailing.StopPrice, "peak": pos.Trailing.PeakPrice, "final_profit": finalProfit,
		}})
	}
	c.emit(ctx, ports.Event{Type: ports.EventStackClosed, Symbol: pos.Symbol, Ticket: ticket, Time: now, Fields: map[string]interface{}{
		"reason": string(reason), "tickets": len(tickets), "final_profit": finalProfit,
	}})
	if c.sink != nil {
		if err := c.sink.RecordStackClose(ctx, ports.StackClose{
			Ticket: ticket, Symbol: pos.Symbol, Reason: string(reason), FinalProfit: finalProfit,
			TicketCount: len(tickets), ClosedCount: closed, OpenedAt: pos.OpenedAt, ClosedAt: now,
		}); err != nil {
			c.logger.Warn(ctx, "Failed to record stack close history", map[string]interface{}{"stack": ticket, "error": err.Error()})
		}
	}
	return nil
}

// HedgePartialClose closes a fraction of a hedge and its DCA children
// proportionally. At fraction 1.0 it degrades to a full close that removes
// the hedge and its DCA list from the stack. Tracker volumes are adjusted
// only after every broker call succeeded; if a leg fails, the broker and
// tracker disagree until the next reconciliation prunes the closed legs.
func (c *Coordinator) HedgePartialClose(ctx context.Context, parent, hedgeTicket int64, fraction float64, stage int, info *ports.SymbolInfo, now time.Time) error {
	pos, ok := c.tracker.Get(parent)
	if !ok {
		return fmt.Errorf("hedge partial close %d: %w", parent, ports.ErrStackNotTracked)
	}
	hedge := pos.FindHedge(hedgeTicket)
	if hedge == nil {
		return fmt.Errorf("hedge partial close: hedge %d not on stack %d: %w", hedgeTicket, parent, ports.ErrStackNotTracked)
	}

	type leg struct {
		ticket int64
		volume float64
	}
	legs := []leg{{hedge.Ticket, hedge.Volume}}
	for _, d := range hedge.DCALevels {
		legs = append(legs, leg{d.Ticket, d.Volume})
	}

	full := fraction >= 1.0
	for _, l := range legs {
		var err error
		if full {
			err = c.gateway.Close(ctx, l.ticket)
		} else {
			closeVol := RoundVolume(l.volume*fraction, info)
			if closeVol <= 0 {
				c.logger.Debug(ctx, "Partial close volume below broker minimum, skipping leg", map[string]interface{}{"ticket": l.ticket})
				continue
			}
			err = c.gateway.ClosePartial(ctx, l.ticket, closeVol)
		}
		if err != nil {
			return fmt.Errorf("hedge partial close %d leg %d: %w", hedgeTicket, l.ticket, err)
		}
	}

	c.tracker.ApplyHedgePartialClose(ctx, parent, hedgeTicket, fraction, stage)
	c.logger.Info(ctx, "Hedge partially closed", map[string]interface{}{"parent": parent, "hedge": hedgeTicket, "fraction": fraction, "stage": stage})
	c.emit(ctx, ports.Event{Type: ports.EventHedgePartialClose, Symbol: pos.Symbol, Ticket: parent, Time: now, Fields: map[string]interface{}{
		"hedge": hedgeTicket, "fraction": fraction, "stage": stage,
	}})
	return nil
}

func (c *Coordinator) partialClose(ctx context.Context, act recovery.Action, q recovery.Quote, info *ports.SymbolInfo, now time.Time) error {
	pos, ok := c.tracker.Get(act.Ticket)
	if !ok {
		return fmt.Errorf("partial close %d: %w", act.Ticket, ports.ErrStackNotTracked)
	}
	volume := RoundVolume(act.CloseVolume, info)
	if volume <= 0 {
		return fmt.Errorf("partial close %d: volume %.4f below broker minimum: %w", act.Ticket, act.CloseVolume, ports.ErrVolumeInvalid)
	}
	if err := c.gateway.ClosePartial(ctx, act.Ticket, volume); err != nil {
		return fmt.Errorf("partial close %d: %w", act.Ticket, err)
	}
	c.tracker.ReduceVolume(ctx, act.Ticket, volume)

	evType := ports.EventPartialClose1
	if act.Milestone == 1 {
		pos.PartialClose.PC1Closed = true
	} else {
		evType = ports.EventPartialClose2
		pos.PartialClose.PC2Closed = true
		trigger := now
		pos.PartialClose.PC2TriggerTime = &trigger
	}
	if act.ArmTrailing {
		pipSize := 0.0001
		if info != nil && info.PipSize > 0 {
			pipSize = info.PipSize
		}
		pos.Trailing = c.engine.InitialTrailing(pos, q, pipSize)
	}
	c.logger.Info(ctx, "Partial profit banked", map[string]interface{}{"ticket": act.Ticket, "milestone": act.Milestone, "volume": volume, "trailing_armed": act.ArmTrailing})
	c.emit(ctx, ports.Event{Type: evType, Symbol: pos.Symbol, Ticket: act.Ticket, Time: now, Fields: map[string]interface{}{
		"volume": volume, "trailing_armed": act.ArmTrailing, "note": act.Note,
	}})
	return nil
}

func (c *Coordinator) trailingUpdate(ctx context.Context, act recovery.Action, now time.Time) error {
	pos, ok := c.tracker.Get(act.Ticket)
	if !ok {
		return fmt.Errorf("trailing update %d: %w", act.Ticket, ports.ErrStackNotTracked)
	}
	pos.Trailing.PeakPrice = act.PeakPrice
	pos.Trailing.StopPrice = act.StopPrice
	c.logger.Debug(ctx, "Trailing stop advanced", map[string]interface{}{"ticket": act.Ticket, "peak": act.PeakPrice, "stop": act.StopPrice})
	c.emit(ctx, ports.Event{Type: ports.EventTrailingUpdate, Symbol: pos.Symbol, Ticket: act.Ticket, Time: now, Fields: map[string]interface{}{
		"peak": act.PeakPrice, "stop": act.StopPrice,
	}})
	return nil
}

// OrphanSweep closes recovery-tagged broker positions whose parent is gone
// and whose loss exceeds the orphan limit. An orphan no longer benefits from
// its stack's profit-target logic, so it gets this one independent safety
// rule instead. Returns the number of orphans closed.
func (c *Coordinator) OrphanSweep(ctx context.Context, live []ports.PositionRecord, now time.Time) int {
	limit := c.engine.Config().OrphanLossLimitUSD
	closed := 0
	for _, rec := range c.tracker.OrphanedRecoveryOrders(live) {
		if rec.Profit > -limit {
			continue
		}
		if err := c.gateway.Close(ctx, rec.Ticket); err != nil {
			c.logger.Error(ctx, err, "Failed to close orphaned recovery order", map[string]interface{}{"ticket": rec.Ticket, "loss": rec.Profit})
			continue
		}
		closed++
		c.logger.Warn(ctx, "Orphaned recovery order closed at loss limit", map[string]interface{}{"ticket": rec.Ticket, "symbol": rec.Symbol, "loss": rec.Profit, "comment": rec.Comment})
		c.emit(ctx, ports.Event{Type: ports.EventOrphanClosed, Symbol: rec.Symbol, Ticket: rec.Ticket, Time: now, Fields: map[string]interface{}{
			"loss": rec.Profit, "comment": rec.Comment,
		}})
	}
	return closed
}

// OpenGridChild pyramids a same-direction order onto an open standalone
// position. The child is tracked top-level as a grid child so it manages its
// own recovery but can never pyramid further; the comment tag is what ties
// it back to its parent across restarts.
func (c *Coordinator) OpenGridChild(ctx context.Context, parentTicket int64, level int, volume float64, info *ports.SymbolInfo, now time.Time) (*ports.OrderResult, error) {
	pos, ok := c.tracker.Get(parentTicket)
	if !ok {
		return nil, fmt.Errorf("open grid child for %d: %w", parentTicket, ports.ErrStackNotTracked)
	}
	if !pos.Kind.CanSpawnGrid() {
		return nil, fmt.Errorf("open grid child for %d: %s position cannot pyramid: %w", parentTicket, pos.Kind, ports.ErrInvalidRequest)
	}
	vol := RoundVolume(volume, info)
	if vol <= 0 {
		return nil, fmt.Errorf("open grid child for %d: volume %.4f below broker minimum: %w", parentTicket, volume, ports.ErrVolumeInvalid)
	}
	res, err := c.gateway.Open(ctx, ports.OpenRequest{Symbol: pos.Symbol, Side: pos.Side, Volume: vol, Comment: domain.FormatGridComment(level, parentTicket)})
	if err != nil {
		return nil, fmt.Errorf("open grid child for %d: %w", parentTicket, err)
	}
	c.tracker.Track(ctx, res.Ticket, pos.Symbol, pos.Side, res.FillPrice, vol, domain.KindGridChild, now)
	c.logger.Info(ctx, "Grid child opened", map[string]interface{}{"parent": parentTicket, "ticket": res.Ticket, "level": level, "volume": vol, "fill": res.FillPrice})
	return res, nil
}

// OpenEntry places a fresh standalone position and tracks it. Entry
// eligibility (blocks, position limits) is the caller's concern.
func (c *Coordinator) OpenEntry(ctx context.Context, symbol string, side domain.Side, volume float64, info *ports.SymbolInfo, now time.Time) (*ports.OrderResult, error) {
	vol := RoundVolume(volume, info)
	if vol <= 0 {
		return nil, fmt.Errorf("open entry %s: volume %.4f below broker minimum: %w", symbol, volume, ports.ErrVolumeInvalid)
	}
	res, err := c.gateway.Open(ctx, ports.OpenRequest{Symbol: symbol, Side: side, Volume: vol})
	if err != nil {
		return nil, fmt.Errorf("open entry %s: %w", symbol, err)
	}
	c.tracker.Track(ctx, res.Ticket, symbol, side, res.FillPrice, vol, domain.KindStandalone, now)
	c.logger.Info(ctx, "Entry opened", map[string]interface{}{"ticket": res.Ticket, "symbol": symbol, "side": side, "volume": vol, "fill": res.FillPrice})
	return res, nil
}

// emit writes a telemetry event, best effort. Sink failures are logged and
// never influence a trading decision.
func (c *Coordinator) emit(ctx context.Context, ev ports.Event) {
	if c.sink == nil {
		return
	}
	if err := c.sink.Record(ctx, ev); err != nil {
		c.logger.Warn(ctx, "Telemetry write failed", map[string]interface{}{"type": ev.Type, "error": err.Error()})
	}
}

// RoundVolume floors a lot size to the broker's volume step. Floating-point
// lot arithmetic drifts (0.1+0.2 style), so the rounding runs on decimals.
// Returns 0 when the result falls below the broker minimum.
func RoundVolume(volume float64, info *ports.SymbolInfo) float64 {
	if info == nil || info.VolumeStep <= 0 {
		return volume
	}
	step := decimal.NewFromFloat(info.VolumeStep)
	v := decimal.NewFromFloat(volume)
	rounded, _ := v.Div(step).Floor().Mul(step).Float64()
	if rounded < info.VolumeMin {
		return 0
	}
	return rounded
}
