package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"fxRecoveryBot/internal/coordinator"
	"fxRecoveryBot/internal/domain"
	"fxRecoveryBot/internal/ports"
	"fxRecoveryBot/internal/recovery"
	"fxRecoveryBot/internal/tracker"
)

// Config holds dependencies and loop settings for the service.
type Config struct {
	Logger      ports.Logger
	Market      ports.MarketData
	Gateway     ports.OrderGateway
	State       ports.StateStore
	Sink        ports.EventSink      // Optional
	Signals     ports.SignalSource   // Optional; nil runs manage-only
	Engine      *recovery.Engine
	Tracker     *tracker.Tracker
	Coordinator *coordinator.Coordinator

	Symbols            []string
	EntryVolume        float64
	MaxPositions       int
	WorkTimeframe      string
	BarsCount          int
	ADXPeriod          int
	TickInterval       time.Duration
	DataRefreshEvery   time.Duration
	StateSaveEveryTick int
	BlockStaleAfter    time.Duration
}

// symbolContext is the per-symbol market snapshot a tick works from.
type symbolContext struct {
	info        *ports.SymbolInfo
	quote       recovery.Quote
	market      recovery.MarketState
	bars        []*domain.Kline
	refreshedAt time.Time
}

// Service runs the single-goroutine control loop: every tick it reconciles
// the tracker against the broker, evaluates the recovery policy per position
// in a fixed order, sweeps orphans, evaluates entries, and periodically
// persists state. There is no parallelism across symbols; order placement
// is rate-limited and ordering matters for correctness.
type Service struct {
	cfg      Config
	blocking *domain.BlockingState
	stopOuts *recovery.StopOutTracker
	symbols  map[string]*symbolContext
	tickNum  int
}

// New validates the configuration and creates the service.
func New(cfg Config) (*Service, error) {
	if cfg.Logger == nil {
		return nil, errors.New("logger is required for service")
	}
	if cfg.Market == nil || cfg.Gateway == nil {
		return nil, errors.New("market data and order gateway are required for service")
	}
	if cfg.State == nil {
		return nil, errors.New("state store is required for service")
	}
	if cfg.Engine == nil || cfg.Tracker == nil || cfg.Coordinator == nil {
		return nil, errors.New("engine, tracker and coordinator are required for service")
	}
	if len(cfg.Symbols) == 0 {
		return nil, errors.New("at least one symbol is required")
	}
	if cfg.TickInterval <= 0 {
		return nil, errors.New("tick interval must be positive")
	}
	if cfg.StateSaveEveryTick <= 0 {
		return nil, errors.New("state save cadence must be positive")
	}
	return &Service{
		cfg:      cfg,
		blocking: domain.NewBlockingState(),
		stopOuts: recovery.NewStopOutTracker(cfg.Engine.Config().CascadeWindow),
		symbols:  make(map[string]*symbolContext),
	}, nil
}

// Start performs startup recovery and runs the loop until ctx is cancelled.
// A final state save happens on the way out.
func (s *Service) Start(ctx context.Context) error {
	if err := s.startup(ctx); err != nil {
		return err
	}

	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	s.cfg.Logger.Info(ctx, "Control loop started", map[string]interface{}{
		"symbols": s.cfg.Symbols, "interval": s.cfg.TickInterval.String(),
	})

	for {
		select {
		case <-ctx.Done():
			s.cfg.Logger.Info(ctx, "Shutting down, saving final state", nil)
			if err := s.saveState(context.Background()); err != nil {
				s.cfg.Logger.Error(context.Background(), err, "Final state save failed", nil)
			}
			return nil
		case now := <-ticker.C:
			s.tick(ctx, now.UTC())
		}
	}
}

// startup loads persisted state (corrupt state is fatal), reconciles against
// the broker, rebuilds stacks from order comments and logs a diagnostic.
func (s *Service) startup(ctx context.Context) error {
	snap, err := s.cfg.State.Load(ctx)
	if err != nil {
		return fmt.Errorf("cannot start with untrusted state: %w", err)
	}
	s.cfg.Tracker.Restore(snap.Positions)
	s.blocking = snap.Blocking()
	if s.blocking.DropStale(time.Now().UTC(), s.cfg.BlockStaleAfter) {
		s.cfg.Logger.Info(ctx, "Dropped stale trade blocks from persisted state", map[string]interface{}{
			"max_age": s.cfg.BlockStaleAfter.String(),
		})
	}

	live, err := s.cfg.Gateway.OpenPositions(ctx, "")
	if err != nil {
		return fmt.Errorf("startup position query failed: %w", err)
	}
	res := s.cfg.Tracker.ReconcileWithBroker(ctx, live)
	rebuilt := s.cfg.Tracker.ReconstructStacks(ctx, live, false)
	if err := s.cfg.Tracker.Validate(); err != nil {
		// Duplicate membership means double-managed money; refuse to trade.
		return fmt.Errorf("tracker invariant violation after startup reconciliation: %w", err)
	}

	for _, symbol := range s.cfg.Symbols {
		if err := s.refreshSymbol(ctx, symbol, time.Now().UTC()); err != nil {
			s.cfg.Logger.Warn(ctx, "Startup market refresh failed, will retry in loop", map[string]interface{}{
				"symbol": symbol, "error": err.Error(),
			})
		}
	}

	s.cfg.Logger.Info(ctx, "Startup recovery complete", map[string]interface{}{
		"tracked": s.cfg.Tracker.Count(), "added": res.Added, "removed": res.Removed,
		"validated": res.Validated, "synced": res.Synced, "rebuilt": rebuilt,
	})
	return nil
}

// tick is one full pass: refresh, reconcile, manage, sweep, enter, persist.
func (s *Service) tick(ctx context.Context, now time.Time) {
	live, err := s.cfg.Gateway.OpenPositions(ctx, "")
	if err != nil {
		s.cfg.Logger.Error(ctx, err, "Position query failed, skipping tick", nil)
		return
	}
	s.cfg.Tracker.ReconcileWithBroker(ctx, live)
	s.cfg.Tracker.ReconstructStacks(ctx, live, true)
	if err := s.cfg.Tracker.Validate(); err != nil {
		s.cfg.Logger.Error(ctx, err, "Tracker invariant violation detected, halting management this tick", nil)
		return
	}

	balance, err := s.cfg.Gateway.AccountBalance(ctx)
	if err != nil {
		s.cfg.Logger.Error(ctx, err, "Balance query failed, skipping tick", nil)
		return
	}

	for _, symbol := range s.cfg.Symbols {
		if err := s.maybeRefreshSymbol(ctx, symbol, now); err != nil {
			// One symbol's data failure never halts the others.
			s.cfg.Logger.Warn(ctx, "Market data unavailable, skipping symbol this tick", map[string]interface{}{
				"symbol": symbol, "error": err.Error(),
			})
			continue
		}
		s.manageSymbol(ctx, symbol, live, balance, now)
	}

	s.cfg.Coordinator.OrphanSweep(ctx, live, now)
	s.evaluateEntries(ctx, now)

	s.tickNum++
	if s.tickNum%s.cfg.StateSaveEveryTick == 0 {
		if err := s.saveState(ctx); err != nil {
			s.cfg.Logger.Error(ctx, err, "Periodic state save failed", nil)
		}
	}
}

func (s *Service) maybeRefreshSymbol(ctx context.Context, symbol string, now time.Time) error {
	sc, ok := s.symbols[symbol]
	if ok && now.Sub(sc.refreshedAt) < s.cfg.DataRefreshEvery {
		// Bars and ADX are fresh enough; the quote is always refreshed.
		bid, ask, err := s.cfg.Market.BidAsk(ctx, symbol)
		if err != nil {
			return err
		}
		sc.quote = recovery.Quote{Bid: bid, Ask: ask}
		return nil
	}
	return s.refreshSymbol(ctx, symbol, now)
}

func (s *Service) refreshSymbol(ctx context.Context, symbol string, now time.Time) error {
	info, err := s.cfg.Market.SymbolInfo(ctx, symbol)
	if err != nil {
		return err
	}
	bid, ask, err := s.cfg.Market.BidAsk(ctx, symbol)
	if err != nil {
		return err
	}
	bars, err := s.cfg.Market.Bars(ctx, symbol, s.cfg.WorkTimeframe, s.cfg.BarsCount)
	if err != nil {
		return err
	}
	adx, err := s.cfg.Market.ADX(ctx, symbol, s.cfg.WorkTimeframe, s.cfg.ADXPeriod)
	if err != nil {
		s.cfg.Logger.Debug(ctx, "ADX unavailable, treating as unknown", map[string]interface{}{"symbol": symbol})
		adx = 0
	}

	market := recovery.EvaluateMarket(symbol, bars, adx, s.cfg.Engine.Config())
	s.symbols[symbol] = &symbolContext{
		info:        info,
		quote:       recovery.Quote{Bid: bid, Ask: ask},
		market:      market,
		bars:        bars,
		refreshedAt: now,
	}

	blocked := market.TrendBlockActive(s.cfg.Engine.Config())
	if blocked != s.blocking.TrendingBlocked(symbol) {
		s.blocking.SetTrendingBlock(symbol, blocked, now)
		s.cfg.Logger.Info(ctx, "Market trend block changed", map[string]interface{}{
			"symbol": symbol, "blocked": blocked, "adx": adx,
		})
	}
	return nil
}

func (s *Service) manageSymbol(ctx context.Context, symbol string, live []ports.PositionRecord, balance float64, now time.Time) {
	sc := s.symbols[symbol]
	for _, pos := range s.cfg.Tracker.All() {
		if pos.Symbol != symbol {
			continue
		}
		s.managePosition(ctx, pos, sc, live, balance, now)
	}
}

// managePosition runs the policy checks for one position in a fixed order:
// drawdown guard, stack stop (with cascade), recovery triggers, hedge
// maintenance, profit target, time limit, then the non-recovery exits.
// Capital preservation checks always run before profit-taking.
func (s *Service) managePosition(ctx context.Context, pos *domain.TrackedPosition, sc *symbolContext, live []ports.PositionRecord, balance float64, now time.Time) {
	engine := s.cfg.Engine
	pipSize := sc.info.PipSize

	// Track the worst adverse excursion; the hedge release ladder measures
	// recovery against it.
	if adverse := recovery.AdversePips(pos, sc.quote, pipSize); adverse > pos.MaxDrawdownPips {
		pos.MaxDrawdownPips = adverse
	}

	netProfit, ok := s.cfg.Tracker.NetStackProfit(pos.Ticket, live)
	if !ok {
		return
	}

	// 1. Drawdown guard.
	if act := engine.CheckStackDrawdown(pos, netProfit, balance); act != nil {
		s.execute(ctx, *act, sc, now)
		return
	}

	// 2. Stack stop loss; a stop-out feeds cascade detection.
	if act := engine.CheckStackStopLoss(pos, netProfit); act != nil {
		s.handleStopOut(ctx, pos, *act, sc, live, now)
		return
	}

	// 3. DCA trigger.
	if act := engine.CheckDCATrigger(pos, sc.quote, sc.market, pipSize); act != nil {
		s.execute(ctx, *act, sc, now)
	}

	// 4. Hedge trigger.
	if act := engine.CheckHedgeTrigger(pos, sc.quote, sc.market, pipSize); act != nil {
		s.execute(ctx, *act, sc, now)
	}

	// 5. Hedge maintenance: DCA into underwater hedges, release recovering ones.
	for i := range pos.Hedges {
		hedge := &pos.Hedges[i]
		if act := engine.CheckHedgeDCA(pos, hedge, sc.quote, sc.market, pipSize); act != nil {
			s.execute(ctx, *act, sc, now)
		}
	}
	for i := range pos.Hedges {
		hedge := &pos.Hedges[i]
		if act := engine.CheckHedgePartialClose(pos, hedge, sc.quote, pipSize); act != nil {
			s.execute(ctx, *act, sc, now)
			break // The release mutates the hedge slice; one step per tick.
		}
	}

	// 6. Profit target.
	if act := engine.CheckProfitTarget(pos, netProfit, balance); act != nil {
		s.execute(ctx, *act, sc, now)
		return
	}

	// 7. Time limit.
	if act := engine.CheckTimeLimit(pos, now); act != nil {
		s.execute(ctx, *act, sc, now)
		return
	}

	// 8. Non-recovery exits only; dead forever once recovery is active.
	if pos.RecoveryActive() {
		return
	}
	if act := engine.CheckPC2TimeLimit(pos, now); act != nil {
		s.execute(ctx, *act, sc, now)
		return
	}
	if act := engine.CheckPartialClose(pos, sc.quote, pipSize); act != nil {
		s.execute(ctx, *act, sc, now)
		return
	}
	if act := engine.CheckTrailing(pos, sc.quote, pipSize); act != nil {
		s.execute(ctx, *act, sc, now)
	}
}

func (s *Service) execute(ctx context.Context, act recovery.Action, sc *symbolContext, now time.Time) error {
	err := s.cfg.Coordinator.ExecuteAction(ctx, act, sc.quote, sc.info, now)
	if err != nil {
		// Dropped for this tick; the condition persists and re-fires next tick.
		s.cfg.Logger.Warn(ctx, "Action failed, will re-evaluate next tick", map[string]interface{}{
			"type": string(act.Type), "ticket": act.Ticket, "error": err.Error(),
		})
	}
	fields := map[string]interface{}{"action": string(act.Type), "note": act.Note}
	if err != nil {
		fields["error"] = err.Error()
	}
	s.emit(ctx, ports.Event{Type: ports.EventRecoveryDecision, Symbol: sc.info.Symbol, Ticket: act.Ticket, Time: now, Fields: fields})
	return err
}

// handleStopOut closes the stopped stack, records the stop-out and, when the
// rolling window confirms a cascade, closes every other underwater stack and
// blocks the affected symbols.
func (s *Service) handleStopOut(ctx context.Context, pos *domain.TrackedPosition, act recovery.Action, sc *symbolContext, live []ports.PositionRecord, now time.Time) {
	if err := s.execute(ctx, act, sc, now); err != nil {
		// The stack stays tracked and the stop re-fires next tick. Only a
		// completed close counts toward cascade detection, otherwise one
		// stack with a stuck close re-fires every tick and confirms a
		// cascade alone.
		return
	}

	ev := domain.StopOutEvent{Symbol: pos.Symbol, Timestamp: now, ADXAtStop: sc.market.ADX}
	s.stopOuts.Record(ev)
	s.emit(ctx, ports.Event{Type: ports.EventStopOut, Symbol: pos.Symbol, Ticket: pos.Ticket, Time: now, Fields: map[string]interface{}{
		"adx": sc.market.ADX, "note": act.Note,
	}})

	cfg := s.cfg.Engine.Config()
	info := s.stopOuts.Check(now, cfg.CascadeStopCount, cfg.CascadeADXThreshold)
	if !info.Confirmed {
		return
	}

	s.cfg.Logger.Warn(ctx, "Cascade confirmed, closing underwater stacks and blocking symbols", map[string]interface{}{
		"stops": info.StopCount, "avg_adx": info.AvgADX, "symbols": info.Symbols,
	})
	for _, ticket := range s.cfg.Tracker.UnderwaterStacks(live) {
		if ticket == pos.Ticket {
			continue
		}
		if err := s.cfg.Coordinator.CloseStack(ctx, ticket, domain.CloseReasonCascade, now); err != nil {
			s.cfg.Logger.Error(ctx, err, "Cascade close failed, stack remains tracked", map[string]interface{}{"ticket": ticket})
		}
	}
	until := now.Add(cfg.TrendBlock)
	for _, symbol := range info.Symbols {
		s.blocking.SetCascadeBlock(symbol, until)
	}
	s.emit(ctx, ports.Event{Type: ports.EventCascade, Symbol: pos.Symbol, Time: now, Fields: map[string]interface{}{
		"stops": info.StopCount, "avg_adx": info.AvgADX, "symbols": info.Symbols, "block_until": until,
	}})
	s.stopOuts.Reset()
}

// evaluateEntries asks the external signal source for setups on unblocked
// symbols while the position limit allows.
func (s *Service) evaluateEntries(ctx context.Context, now time.Time) {
	if s.cfg.Signals == nil {
		return
	}
	for _, symbol := range s.cfg.Symbols {
		if s.cfg.Tracker.Count() >= s.cfg.MaxPositions {
			return
		}
		if _, blocked := s.blocking.CascadeBlockedUntil(symbol, now); blocked {
			continue
		}
		if s.blocking.TrendingBlocked(symbol) {
			s.emitBlocked(ctx, symbol, "market_trending", now)
			continue
		}
		sc, ok := s.symbols[symbol]
		if !ok {
			continue
		}
		sig, err := s.cfg.Signals.Detect(ctx, symbol, sc.bars)
		if err != nil {
			s.cfg.Logger.Warn(ctx, "Signal detection failed", map[string]interface{}{"symbol": symbol, "error": err.Error()})
			continue
		}
		if sig == nil {
			continue
		}
		// A repeat signal in the direction of an open standalone position
		// pyramids a grid child onto it instead of opening an unrelated entry.
		if parent := s.gridParent(symbol, sig.Side); parent != nil {
			level := s.gridChildCount(symbol) + 1
			if _, err := s.cfg.Coordinator.OpenGridChild(ctx, parent.Ticket, level, s.cfg.EntryVolume, sc.info, now); err != nil {
				s.cfg.Logger.Warn(ctx, "Grid child failed, signal dropped", map[string]interface{}{"symbol": symbol, "parent": parent.Ticket, "error": err.Error()})
			}
			continue
		}
		if _, err := s.cfg.Coordinator.OpenEntry(ctx, symbol, sig.Side, s.cfg.EntryVolume, sc.info, now); err != nil {
			s.cfg.Logger.Warn(ctx, "Entry failed, signal dropped", map[string]interface{}{"symbol": symbol, "error": err.Error()})
		}
	}
}

// gridParent returns the standalone position a same-direction signal may
// pyramid onto, or nil. Grid children never qualify as parents.
func (s *Service) gridParent(symbol string, side domain.Side) *domain.TrackedPosition {
	for _, pos := range s.cfg.Tracker.All() {
		if pos.Symbol == symbol && pos.Side == side && pos.Kind.CanSpawnGrid() {
			return pos
		}
	}
	return nil
}

func (s *Service) gridChildCount(symbol string) int {
	n := 0
	for _, pos := range s.cfg.Tracker.All() {
		if pos.Symbol == symbol && pos.Kind == domain.KindGridChild {
			n++
		}
	}
	return n
}

func (s *Service) emitBlocked(ctx context.Context, symbol, reason string, now time.Time) {
	s.emit(ctx, ports.Event{Type: ports.EventRecoveryBlocked, Symbol: symbol, Time: now, Fields: map[string]interface{}{
		"reason": reason,
	}})
}

func (s *Service) emit(ctx context.Context, ev ports.Event) {
	if s.cfg.Sink == nil {
		return
	}
	if err := s.cfg.Sink.Record(ctx, ev); err != nil {
		s.cfg.Logger.Warn(ctx, "Telemetry write failed", map[string]interface{}{"type": ev.Type, "error": err.Error()})
	}
}

func (s *Service) saveState(ctx context.Context) error {
	snap := domain.EmptySnapshot()
	snap.Positions = s.cfg.Tracker.Snapshot()
	for symbol, until := range s.blocking.CascadeBlocks {
		snap.CascadeBlocks[symbol] = until
	}
	for symbol, blocked := range s.blocking.MarketTrendingBlock {
		snap.MarketTrendingBlock[symbol] = blocked
	}
	snap.LastBlockUpdate = s.blocking.LastBlockUpdate
	return s.cfg.State.Save(ctx, snap)
}
