package tracker

import (
	"context"
	"math"

	"fxRecoveryBot/internal/domain"
	"fxRecoveryBot/internal/ports"
)

// ReconcileResult summarizes one reconciliation pass against the broker.
type ReconcileResult struct {
	Added     int // Untagged live positions adopted as standalone
	Removed   int // Tracked entries dropped because the broker no longer has them
	Validated int // Tracked entries confirmed still open
	Synced    int // Tracked volumes corrected to the broker's figure
}

// ReconcileWithBroker brings the tracked table in line with the broker's
// open-position snapshot. Three passes:
//
//  1. Drop top-level entries whose ticket is no longer open. Children of a
//     vanished original are not force-closed here; the orphan sweep owns them.
//  2. Prune nested children (DCA, hedge, hedge-DCA) that were closed outside
//     the bot, for example manually in the terminal, and adopt the broker's
//     volume wherever the tracked figure diverges (a manual partial close
//     leaves the ticket open at a smaller volume; silently keeping the stale
//     figure would skew hedge sizing).
//  3. Adopt untagged live positions the tracker has never seen.
//
// The pass is idempotent: a second run against the same snapshot reports
// zero added, zero removed and zero synced.
func (t *Tracker) ReconcileWithBroker(ctx context.Context, live []ports.PositionRecord) ReconcileResult {
	byTicket := indexByTicket(live)
	var res ReconcileResult

	for _, pos := range t.All() {
		if _, open := byTicket[pos.Ticket]; !open {
			t.logger.Info(ctx, "Tracked position no longer open at broker, dropping", map[string]interface{}{"ticket": pos.Ticket, "symbol": pos.Symbol})
			delete(t.positions, pos.Ticket)
			res.Removed++
			continue
		}
		res.Removed += t.pruneClosedChildren(ctx, pos, byTicket)
		res.Synced += t.syncVolumes(ctx, pos, byTicket)
		res.Validated++
	}

	for _, rec := range live {
		if t.knownAnywhere(rec.Ticket) {
			continue
		}
		if domain.IsRecoveryComment(rec.Comment) {
			// Tagged but unknown: stack reconstruction owns these.
			continue
		}
		t.Track(ctx, rec.Ticket, rec.Symbol, rec.Side, rec.OpenPrice, rec.Volume, domain.KindStandalone, rec.OpenedAt)
		res.Added++
	}

	if res.Added > 0 || res.Removed > 0 || res.Synced > 0 {
		t.logger.Info(ctx, "Reconciliation complete", map[string]interface{}{
			"added": res.Added, "removed": res.Removed, "validated": res.Validated, "synced": res.Synced,
		})
	}
	return res
}

// syncVolumes adopts the broker's volume for every stack member whose tracked
// figure diverges. The broker is authoritative on volume; divergence means
// something changed a position outside the bot.
func (t *Tracker) syncVolumes(ctx context.Context, pos *domain.TrackedPosition, byTicket map[int64]ports.PositionRecord) int {
	synced := 0
	adopt := func(ticket int64, tracked *float64, member string) {
		rec, open := byTicket[ticket]
		if !open || volumesEqual(*tracked, rec.Volume) {
			return
		}
		t.logger.Warn(ctx, "Tracked volume diverged from broker, adopting broker volume", map[string]interface{}{
			"stack": pos.Ticket, "ticket": ticket, "member": member, "tracked": *tracked, "broker": rec.Volume,
		})
		*tracked = rec.Volume
		synced++
	}

	before := t.TrackedStackVolume(pos.Ticket)
	adopt(pos.Ticket, &pos.CurrentVolume, "position")
	for i := range pos.DCALevels {
		adopt(pos.DCALevels[i].Ticket, &pos.DCALevels[i].Volume, "dca")
	}
	for i := range pos.Hedges {
		h := &pos.Hedges[i]
		adopt(h.Ticket, &h.Volume, "hedge")
		for j := range h.DCALevels {
			adopt(h.DCALevels[j].Ticket, &h.DCALevels[j].Volume, "hedge_dca")
		}
	}
	if synced > 0 {
		t.logger.Warn(ctx, "Stack volume corrected", map[string]interface{}{
			"stack": pos.Ticket, "members": synced, "was": before, "now": t.TrackedStackVolume(pos.Ticket),
		})
	}
	return synced
}

func volumesEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func (t *Tracker) pruneClosedChildren(ctx context.Context, pos *domain.TrackedPosition, byTicket map[int64]ports.PositionRecord) int {
	pruned := 0

	kept := pos.DCALevels[:0]
	for _, d := range pos.DCALevels {
		if _, open := byTicket[d.Ticket]; open {
			kept = append(kept, d)
		} else {
			t.logger.Info(ctx, "DCA level closed outside bot, pruning", map[string]interface{}{"parent": pos.Ticket, "ticket": d.Ticket})
			pruned++
		}
	}
	pos.DCALevels = kept

	keptHedges := pos.Hedges[:0]
	for _, h := range pos.Hedges {
		if _, open := byTicket[h.Ticket]; !open {
			t.logger.Info(ctx, "Hedge closed outside bot, pruning with its DCA children", map[string]interface{}{"parent": pos.Ticket, "hedge": h.Ticket})
			pruned++
			continue
		}
		keptDCA := h.DCALevels[:0]
		for _, d := range h.DCALevels {
			if _, open := byTicket[d.Ticket]; open {
				keptDCA = append(keptDCA, d)
			} else {
				t.logger.Info(ctx, "Hedge DCA closed outside bot, pruning", map[string]interface{}{"hedge": h.Ticket, "ticket": d.Ticket})
				pruned++
			}
		}
		h.DCALevels = keptDCA
		keptHedges = append(keptHedges, h)
	}
	pos.Hedges = keptHedges

	return pruned
}

// ReconstructStacks rebuilds stack linkage from broker comments after a
// restart. Ordering matters: originals before DCA and hedges, hedges before
// hedge-DCA, because each pass resolves parents created by the one before.
// The pass is idempotent and safe to run every startup; silent suppresses
// per-ticket logging when nothing was actually rebuilt.
func (t *Tracker) ReconstructStacks(ctx context.Context, live []ports.PositionRecord, silent bool) int {
	rebuilt := 0

	logRebuild := func(msg string, fields map[string]interface{}) {
		if !silent {
			t.logger.Info(ctx, msg, fields)
		}
	}

	// Pass 1: untagged originals.
	for _, rec := range live {
		if domain.IsRecoveryComment(rec.Comment) || t.knownAnywhere(rec.Ticket) {
			continue
		}
		t.Track(ctx, rec.Ticket, rec.Symbol, rec.Side, rec.OpenPrice, rec.Volume, domain.KindStandalone, rec.OpenedAt)
		logRebuild("Adopted untagged position as standalone", map[string]interface{}{"ticket": rec.Ticket, "symbol": rec.Symbol})
		rebuilt++
	}

	// Pass 2: grid children become top-level entries flagged so they cannot
	// pyramid further.
	for _, rec := range live {
		tag, ok := domain.ParseComment(rec.Comment)
		if !ok || tag.Kind != domain.RecoveryGrid || t.knownAnywhere(rec.Ticket) {
			continue
		}
		t.Track(ctx, rec.Ticket, rec.Symbol, rec.Side, rec.OpenPrice, rec.Volume, domain.KindGridChild, rec.OpenedAt)
		logRebuild("Rebuilt grid child from comment", map[string]interface{}{"ticket": rec.Ticket, "parent": tag.Parent, "level": tag.Level})
		rebuilt++
	}

	// Pass 3: DCA levels.
	for _, rec := range live {
		tag, ok := domain.ParseComment(rec.Comment)
		if !ok || tag.Kind != domain.RecoveryDCA || t.knownAnywhere(rec.Ticket) {
			continue
		}
		if _, tracked := t.positions[tag.Parent]; !tracked {
			t.logger.Warn(ctx, "DCA order references unknown parent, leaving for orphan sweep", map[string]interface{}{"ticket": rec.Ticket, "parent": tag.Parent})
			continue
		}
		if err := t.LinkDCA(ctx, tag.Parent, rec.Ticket, tag.Level, rec.Volume, rec.OpenPrice); err == nil {
			logRebuild("Rebuilt DCA level from comment", map[string]interface{}{"ticket": rec.Ticket, "parent": tag.Parent, "level": tag.Level})
			rebuilt++
		}
	}

	// Pass 4: hedges.
	for _, rec := range live {
		tag, ok := domain.ParseComment(rec.Comment)
		if !ok || tag.Kind != domain.RecoveryHedge || t.knownAnywhere(rec.Ticket) {
			continue
		}
		if _, tracked := t.positions[tag.Parent]; !tracked {
			t.logger.Warn(ctx, "Hedge references unknown parent, leaving for orphan sweep", map[string]interface{}{"ticket": rec.Ticket, "parent": tag.Parent})
			continue
		}
		if err := t.LinkHedge(ctx, tag.Parent, rec.Ticket, rec.Side, rec.Volume, rec.OpenPrice); err == nil {
			logRebuild("Rebuilt hedge from comment", map[string]interface{}{"ticket": rec.Ticket, "parent": tag.Parent})
			rebuilt++
		}
	}

	// Pass 5: hedge-DCA levels; the tag's parent is the hedge ticket, so find
	// the stack that owns that hedge.
	for _, rec := range live {
		tag, ok := domain.ParseComment(rec.Comment)
		if !ok || tag.Kind != domain.RecoveryHedgeDCA || t.knownAnywhere(rec.Ticket) {
			continue
		}
		owner := t.stackOwningHedge(tag.Parent)
		if owner == 0 {
			t.logger.Warn(ctx, "Hedge DCA references unknown hedge, leaving for orphan sweep", map[string]interface{}{"ticket": rec.Ticket, "hedge": tag.Parent})
			continue
		}
		if err := t.LinkHedgeDCA(ctx, owner, tag.Parent, rec.Ticket, tag.Level, rec.Volume, rec.OpenPrice); err == nil {
			logRebuild("Rebuilt hedge DCA from comment", map[string]interface{}{"ticket": rec.Ticket, "hedge": tag.Parent, "level": tag.Level})
			rebuilt++
		}
	}

	if rebuilt > 0 && !silent {
		t.logger.Info(ctx, "Stack reconstruction complete", map[string]interface{}{"rebuilt": rebuilt, "stacks": len(t.positions)})
	}
	return rebuilt
}

func (t *Tracker) stackOwningHedge(hedgeTicket int64) int64 {
	for _, pos := range t.All() {
		if pos.FindHedge(hedgeTicket) != nil {
			return pos.Ticket
		}
	}
	return 0
}

// OrphanedRecoveryOrders returns live recovery-tagged positions whose parent
// is no longer open at the broker. Grid children are excluded: they stand on
// their own once adopted and do not die with their parent.
func (t *Tracker) OrphanedRecoveryOrders(live []ports.PositionRecord) []ports.PositionRecord {
	byTicket := indexByTicket(live)
	var orphans []ports.PositionRecord
	for _, rec := range live {
		tag, ok := domain.ParseComment(rec.Comment)
		if !ok || tag.Kind == domain.RecoveryGrid {
			continue
		}
		if _, parentOpen := byTicket[tag.Parent]; !parentOpen {
			orphans = append(orphans, rec)
		}
	}
	return orphans
}
