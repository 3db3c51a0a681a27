package recovery

import (
	"sort"
	"time"

	"fxRecoveryBot/internal/domain"
)

// StopOutTracker keeps a rolling window of stack stop-loss events. It is
// deliberately ephemeral: a process restart forgets the window, which is
// acceptable because cascade evidence older than one window is worthless.
type StopOutTracker struct {
	window time.Duration
	events []domain.StopOutEvent
}

// NewStopOutTracker returns a tracker with the given rolling window.
func NewStopOutTracker(window time.Duration) *StopOutTracker {
	return &StopOutTracker{window: window}
}

// Record appends a stop-out event.
func (t *StopOutTracker) Record(ev domain.StopOutEvent) {
	t.events = append(t.events, ev)
}

// CascadeInfo is the result of a cascade check.
type CascadeInfo struct {
	Confirmed bool
	StopCount int
	AvgADX    float64
	Symbols   []string // Distinct symbols that stopped out, sorted
}

// Check prunes expired events and evaluates cascade confirmation: at least
// minStops stop-outs inside the window with average trend strength at or
// above minADX. One stop is noise; a burst of stops during a strong trend is
// the market telling us to stop fighting it. Events with unknown ADX (0) are
// excluded from the average but still count toward the stop count.
func (t *StopOutTracker) Check(now time.Time, minStops int, minADX float64) CascadeInfo {
	t.prune(now)

	info := CascadeInfo{StopCount: len(t.events)}
	if len(t.events) == 0 {
		return info
	}

	seen := make(map[string]bool)
	var adxSum float64
	adxN := 0
	for _, ev := range t.events {
		if !seen[ev.Symbol] {
			seen[ev.Symbol] = true
			info.Symbols = append(info.Symbols, ev.Symbol)
		}
		if ev.ADXAtStop > 0 {
			adxSum += ev.ADXAtStop
			adxN++
		}
	}
	sort.Strings(info.Symbols)
	if adxN > 0 {
		info.AvgADX = adxSum / float64(adxN)
	}

	info.Confirmed = info.StopCount >= minStops && info.AvgADX >= minADX
	return info
}

// Reset drops all recorded events, used after a cascade has been acted on so
// the same burst does not re-trigger every subsequent tick.
func (t *StopOutTracker) Reset() {
	t.events = nil
}

func (t *StopOutTracker) prune(now time.Time) {
	cutoff := now.Add(-t.window)
	kept := t.events[:0]
	for _, ev := range t.events {
		if ev.Timestamp.After(cutoff) {
			kept = append(kept, ev)
		}
	}
	t.events = kept
}
