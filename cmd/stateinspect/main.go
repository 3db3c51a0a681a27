package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"fxRecoveryBot/internal/adapters/logger"
	"fxRecoveryBot/internal/adapters/statefile"
	"fxRecoveryBot/internal/domain"
)

// stateinspect prints the persisted recovery state snapshot in a readable
// form: every tracked stack with its DCA levels and hedges, plus any active
// trade blocks. Useful when deciding whether a snapshot is safe to restart
// against, or when diagnosing what the loop thought it was managing.
func main() {
	path := flag.String("state", "./data/recovery_state.json", "path to the state snapshot")
	flag.Parse()

	store, err := statefile.New(*path, logger.NewStdLogger(logger.LevelError))
	if err != nil {
		log.Fatalf("Error opening state store: %v", err)
	}
	snap, err := store.Load(context.Background())
	if err != nil {
		log.Fatalf("Error loading snapshot: %v", err)
	}

	fmt.Printf("Snapshot: %s\n", *path)
	fmt.Printf("Schema version: %d, saved at: %s\n", snap.SchemaVersion, formatTime(snap.SavedAt))
	fmt.Printf("Tracked stacks: %d\n\n", len(snap.Positions))

	if len(snap.Positions) > 0 {
		printStacks(snap.Positions)
	}
	printBlocks(snap)
}

func printStacks(positions map[int64]*domain.TrackedPosition) {
	tickets := make([]int64, 0, len(positions))
	for t := range positions {
		tickets = append(tickets, t)
	}
	sort.Slice(tickets, func(i, j int) bool { return tickets[i] < tickets[j] })

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "Ticket\tSymbol\tSide\tKind\tEntry\tVolume\tOpened\tDCA\tHedges\tMaxDD(pips)")
	for _, t := range tickets {
		p := positions[t]
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%.5f\t%.2f\t%s\t%d\t%d\t%.1f\n",
			p.Ticket, p.Symbol, p.Side, p.Kind, p.EntryPrice, p.CurrentVolume,
			formatTime(p.OpenedAt), len(p.DCALevels), len(p.Hedges), p.MaxDrawdownPips)
	}
	w.Flush()

	for _, t := range tickets {
		p := positions[t]
		if len(p.DCALevels) == 0 && len(p.Hedges) == 0 {
			continue
		}
		fmt.Printf("\nStack %d (%s %s):\n", p.Ticket, p.Symbol, p.Side)
		for _, d := range p.DCALevels {
			fmt.Printf("  DCA L%d  ticket=%d volume=%.2f entry=%.5f\n", d.LevelIndex, d.Ticket, d.Volume, d.EntryPrice)
		}
		for _, h := range p.Hedges {
			fmt.Printf("  Hedge   ticket=%d side=%s volume=%.2f entry=%.5f release_stage=%d\n",
				h.Ticket, h.Side, h.Volume, h.EntryPrice, h.ReleaseStage)
			for _, d := range h.DCALevels {
				fmt.Printf("    HDCA L%d ticket=%d volume=%.2f entry=%.5f\n", d.LevelIndex, d.Ticket, d.Volume, d.EntryPrice)
			}
		}
		if p.Trailing.Active {
			fmt.Printf("  Trailing stop=%.5f peak=%.5f distance=%.1f pips\n",
				p.Trailing.StopPrice, p.Trailing.PeakPrice, p.Trailing.DistancePips)
		}
	}
}

func printBlocks(snap *domain.StateSnapshot) {
	if len(snap.CascadeBlocks) == 0 && len(snap.MarketTrendingBlock) == 0 {
		fmt.Println("\nNo active trade blocks.")
		return
	}
	fmt.Println("\nTrade blocks:")
	for symbol, until := range snap.CascadeBlocks {
		fmt.Printf("  cascade   %s until %s\n", symbol, formatTime(until))
	}
	for symbol, blocked := range snap.MarketTrendingBlock {
		if blocked {
			fmt.Printf("  trending  %s\n", symbol)
		}
	}
	fmt.Printf("  last update %s\n", formatTime(snap.LastBlockUpdate))
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}
