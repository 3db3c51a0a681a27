package recovery

import (
	"fmt"
	"time"

	"fxRecoveryBot/internal/domain"
)

// Engine is the recovery policy: pure functions mapping a tracked position,
// the current quote and market context to zero or more actions. It never
// calls the broker, never logs, never reads the clock. Every check takes
// its time input explicitly so rules stay deterministic and testable.
type Engine struct {
	cfg Config
}

// New validates the configuration and returns an engine.
func New(cfg Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Engine{cfg: cfg}, nil
}

// Config returns the engine's configuration.
func (e *Engine) Config() Config { return e.cfg }

// AdversePips returns how many pips price has moved against the position.
// Positive means underwater.
func AdversePips(pos *domain.TrackedPosition, q Quote, pipSize float64) float64 {
	return -domain.ProfitPips(pos.Side, pos.EntryPrice, q.ClosePrice(pos.Side), pipSize)
}

// CheckStackDrawdown is the conservative guard evaluated before everything
// else: unrealized loss beyond a multiple of the expected take-profit value
// closes the stack no matter what the primary stop says. It catches a
// misconfigured primary limit or volume scaling that made it too loose.
func (e *Engine) CheckStackDrawdown(pos *domain.TrackedPosition, netProfit, balance float64) *Action {
	expectedTP := balance * e.cfg.ProfitTargetPercent / 100
	if expectedTP <= 0 {
		return nil
	}
	limit := e.cfg.StackDrawdownMultiple * expectedTP
	if netProfit > -limit {
		return nil
	}
	return &Action{
		Type:   ActionCloseStack,
		Ticket: pos.Ticket,
		Reason: domain.CloseReasonStackDrawdown,
		Note:   fmt.Sprintf("stack loss %.2f exceeds %.1fx expected take profit %.2f", netProfit, e.cfg.StackDrawdownMultiple, expectedTP),
	}
}

// CheckStackStopLoss closes the stack when cumulative loss breaches the
// absolute limit. Stacks with active recovery get the wider limit because
// their drawdown is expected to run deeper before the hedge pays off.
func (e *Engine) CheckStackStopLoss(pos *domain.TrackedPosition, netProfit float64) *Action {
	limit := e.cfg.StackStopLossUSD
	if pos.RecoveryActive() {
		limit = e.cfg.StackStopLossRecoveryUSD
	}
	if netProfit > -limit {
		return nil
	}
	return &Action{
		Type:   ActionCloseStack,
		Ticket: pos.Ticket,
		Reason: domain.CloseReasonStackStopLoss,
		Note:   fmt.Sprintf("stack loss %.2f breached stop limit %.2f", netProfit, limit),
	}
}

// CheckDCATrigger proposes the next averaging order. Level n fires when the
// adverse move exceeds n times the trigger distance, so a stack that is
// already past level 1 does not re-fire it every tick. The momentum
// safeguard vetoes averaging into a sustained adverse run.
func (e *Engine) CheckDCATrigger(pos *domain.TrackedPosition, q Quote, m MarketState, pipSize float64) *Action {
	nextLevel := len(pos.DCALevels) + 1
	if nextLevel > e.cfg.MaxDCALevels {
		return nil
	}
	adverse := AdversePips(pos, q, pipSize)
	if adverse < e.cfg.DCATriggerPips*float64(nextLevel) {
		return nil
	}
	if m.MomentumAgainst(pos.Side, e.cfg) {
		return nil
	}
	return &Action{
		Type:    ActionOpenDCA,
		Ticket:  pos.Ticket,
		Side:    pos.Side,
		Volume:  e.cfg.DCAVolume,
		Level:   nextLevel,
		Comment: domain.FormatDCAComment(nextLevel, pos.Ticket),
		Note:    fmt.Sprintf("adverse %.1f pips, level %d of %d", adverse, nextLevel, e.cfg.MaxDCALevels),
	}
}

// CheckHedgeTrigger proposes an offsetting order once drawdown passes the
// hedge threshold and the market is confirmed trending. Opposite logic from
// the DCA safeguard: DCA is the range case, the hedge is the trend case.
func (e *Engine) CheckHedgeTrigger(pos *domain.TrackedPosition, q Quote, m MarketState, pipSize float64) *Action {
	if len(pos.Hedges) >= e.cfg.MaxHedges {
		return nil
	}
	adverse := AdversePips(pos, q, pipSize)
	if adverse < e.cfg.HedgeTriggerPips {
		return nil
	}
	if !m.Trending(pos.Side, e.cfg) {
		return nil
	}
	volume := e.cfg.HedgeMultiplier * pos.SameDirectionVolume()
	return &Action{
		Type:    ActionOpenHedge,
		Ticket:  pos.Ticket,
		Side:    pos.Side.Opposite(),
		Volume:  volume,
		Comment: domain.FormatHedgeComment(pos.Ticket),
		Note:    fmt.Sprintf("adverse %.1f pips, trend confirmed (run %d, adx %.1f)", adverse, m.RunLength, m.ADX),
	}
}

// CheckHedgeDCA proposes averaging on an underwater hedge, with the same
// momentum safeguard applied from the hedge's perspective.
func (e *Engine) CheckHedgeDCA(pos *domain.TrackedPosition, hedge *domain.Hedge, q Quote, m MarketState, pipSize float64) *Action {
	nextLevel := len(hedge.DCALevels) + 1
	if nextLevel > e.cfg.MaxHedgeDCALevels {
		return nil
	}
	adverse := -domain.ProfitPips(hedge.Side, hedge.EntryPrice, q.ClosePrice(hedge.Side), pipSize)
	if adverse < e.cfg.HedgeDCATriggerPips*float64(nextLevel) {
		return nil
	}
	if m.MomentumAgainst(hedge.Side, e.cfg) {
		return nil
	}
	return &Action{
		Type:        ActionOpenHedgeDCA,
		Ticket:      pos.Ticket,
		HedgeTicket: hedge.Ticket,
		Side:        hedge.Side,
		Volume:      hedge.Volume,
		Level:       nextLevel,
		Comment:     domain.FormatHedgeDCAComment(nextLevel, hedge.Ticket),
		Note:        fmt.Sprintf("hedge adverse %.1f pips, level %d of %d", adverse, nextLevel, e.cfg.MaxHedgeDCALevels),
	}
}

// CheckHedgePartialClose walks the release ladder as the original recovers
// toward breakeven. One step fires per evaluation:
//
//	step 1: recovered past the first threshold, close 50% of the hedge
//	step 2: recovered past the second threshold, close half the remainder
//	step 3: original at or past breakeven, close the hedge fully
//
// Recovery is measured against the worst drawdown seen, so the ladder locks
// in the hedge's profit in proportion to how much of the hole has been
// climbed out of.
func (e *Engine) CheckHedgePartialClose(pos *domain.TrackedPosition, hedge *domain.Hedge, q Quote, pipSize float64) *Action {
	if pos.MaxDrawdownPips <= 0 {
		return nil
	}
	currentDrawdown := AdversePips(pos, q, pipSize)
	recovered := 1 - currentDrawdown/pos.MaxDrawdownPips

	step := func(stage int, fraction float64, reason string) *Action {
		return &Action{
			Type:        ActionHedgePartialClose,
			Ticket:      pos.Ticket,
			HedgeTicket: hedge.Ticket,
			Fraction:    fraction,
			Stage:       stage,
			Note:        reason,
		}
	}

	switch {
	case recovered >= 1 && hedge.ReleaseStage < 3:
		return step(3, 1.0, "original at breakeven, releasing hedge fully")
	case recovered >= e.cfg.HedgeRelease2Recovery && hedge.ReleaseStage < 2:
		return step(2, 0.5, fmt.Sprintf("recovered %.0f%% of max drawdown", recovered*100))
	case recovered >= e.cfg.HedgeRelease1Recovery && hedge.ReleaseStage < 1:
		return step(1, 0.5, fmt.Sprintf("recovered %.0f%% of max drawdown", recovered*100))
	}
	return nil
}

// CheckProfitTarget closes the stack when net profit reaches the configured
// share of account balance. A stack with active recovery exits at breakeven
// instead: the goal of a recovery is to get out flat, not to hold a
// multi-order stack hoping for the full target.
func (e *Engine) CheckProfitTarget(pos *domain.TrackedPosition, netProfit, balance float64) *Action {
	if pos.RecoveryActive() {
		if netProfit < 0 {
			return nil
		}
		return &Action{
			Type:   ActionCloseStack,
			Ticket: pos.Ticket,
			Reason: domain.CloseReasonProfitTarget,
			Note:   fmt.Sprintf("recovery stack reached breakeven (net %.2f)", netProfit),
		}
	}
	target := balance * e.cfg.ProfitTargetPercent / 100
	if target <= 0 || netProfit < target {
		return nil
	}
	return &Action{
		Type:   ActionCloseStack,
		Ticket: pos.Ticket,
		Reason: domain.CloseReasonProfitTarget,
		Note:   fmt.Sprintf("net profit %.2f reached target %.2f", netProfit, target),
	}
}

// CheckTimeLimit closes the stack once the position has been open too long.
// Recovery is time-boxed; an indefinite recovery attempt ties up margin and
// usually means the trade idea was simply wrong.
func (e *Engine) CheckTimeLimit(pos *domain.TrackedPosition, now time.Time) *Action {
	maxAge := time.Duration(e.cfg.MaxPositionHours * float64(time.Hour))
	age := now.Sub(pos.OpenedAt)
	if age < maxAge {
		return nil
	}
	return &Action{
		Type:   ActionCloseStack,
		Ticket: pos.Ticket,
		Reason: domain.CloseReasonTimeLimit,
		Note:   fmt.Sprintf("age %.1fh exceeds limit %.1fh", age.Hours(), e.cfg.MaxPositionHours),
	}
}

// CheckPartialClose runs the non-recovery profit ladder. PC1 banks a slice
// at the first milestone; PC2 banks another, arms the trailing stop and
// starts the time-limit countdown. Callers must not invoke this once
// recovery is active; the check enforces it anyway because double-managing
// one position through two exit policies is the bug class this whole
// contract exists to prevent.
func (e *Engine) CheckPartialClose(pos *domain.TrackedPosition, q Quote, pipSize float64) *Action {
	if pos.RecoveryActive() {
		return nil
	}
	profit := domain.ProfitPips(pos.Side, pos.EntryPrice, q.ClosePrice(pos.Side), pipSize)

	if !pos.PartialClose.PC1Closed && profit >= e.cfg.PC1Pips {
		return &Action{
			Type:        ActionPartialClose,
			Ticket:      pos.Ticket,
			Milestone:   1,
			CloseVolume: pos.InitialVolume * e.cfg.PC1Percent,
			Note:        fmt.Sprintf("+%.1f pips, banking %.0f%%", profit, e.cfg.PC1Percent*100),
		}
	}
	if pos.PartialClose.PC1Closed && !pos.PartialClose.PC2Closed && profit >= e.cfg.PC2Pips {
		return &Action{
			Type:        ActionPartialClose,
			Ticket:      pos.Ticket,
			Milestone:   2,
			CloseVolume: pos.InitialVolume * e.cfg.PC2Percent,
			ArmTrailing: true,
			Note:        fmt.Sprintf("+%.1f pips, banking %.0f%% and arming trailing stop", profit, e.cfg.PC2Percent*100),
		}
	}
	return nil
}

// CheckTrailing advances the trailing stop with the favorable extreme and
// closes the remainder when price gives the distance back.
func (e *Engine) CheckTrailing(pos *domain.TrackedPosition, q Quote, pipSize float64) *Action {
	if pos.RecoveryActive() || !pos.Trailing.Active {
		return nil
	}
	price := q.ClosePrice(pos.Side)
	dist := pos.Trailing.DistancePips * pipSize

	if pos.Side == domain.Buy {
		if price > pos.Trailing.PeakPrice {
			return &Action{Type: ActionTrailingUpdate, Ticket: pos.Ticket, PeakPrice: price, StopPrice: price - dist}
		}
		if price <= pos.Trailing.StopPrice {
			return &Action{Type: ActionCloseStack, Ticket: pos.Ticket, Reason: domain.CloseReasonTrailingStop, Note: fmt.Sprintf("price %.5f hit trailing stop %.5f", price, pos.Trailing.StopPrice)}
		}
		return nil
	}

	if price < pos.Trailing.PeakPrice {
		return &Action{Type: ActionTrailingUpdate, Ticket: pos.Ticket, PeakPrice: price, StopPrice: price + dist}
	}
	if price >= pos.Trailing.StopPrice {
		return &Action{Type: ActionCloseStack, Ticket: pos.Ticket, Reason: domain.CloseReasonTrailingStop, Note: fmt.Sprintf("price %.5f hit trailing stop %.5f", price, pos.Trailing.StopPrice)}
	}
	return nil
}

// CheckPC2TimeLimit closes what is left of a position that banked PC2 but
// then went nowhere for too long.
func (e *Engine) CheckPC2TimeLimit(pos *domain.TrackedPosition, now time.Time) *Action {
	if pos.RecoveryActive() || !pos.PartialClose.PC2Closed || pos.PartialClose.PC2TriggerTime == nil {
		return nil
	}
	elapsed := now.Sub(*pos.PartialClose.PC2TriggerTime)
	if elapsed < e.cfg.PC2TimeLimit {
		return nil
	}
	return &Action{
		Type:   ActionCloseStack,
		Ticket: pos.Ticket,
		Reason: domain.CloseReasonPC2TimeLimit,
		Note:   fmt.Sprintf("%.0f minutes since second partial close", elapsed.Minutes()),
	}
}

// InitialTrailing returns the trailing-stop state to arm at PC2.
func (e *Engine) InitialTrailing(pos *domain.TrackedPosition, q Quote, pipSize float64) domain.TrailingStop {
	price := q.ClosePrice(pos.Side)
	dist := e.cfg.TrailingDistancePips * pipSize
	stop := price - dist
	if pos.Side == domain.Sell {
		stop = price + dist
	}
	return domain.TrailingStop{
		Active:       true,
		StopPrice:    stop,
		DistancePips: e.cfg.TrailingDistancePips,
		PeakPrice:    price,
	}
}
