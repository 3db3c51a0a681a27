package domain

import "time"

// DCALevel is one averaging order opened in the same direction as its parent.
type DCALevel struct {
	Ticket     int64   `json:"ticket"`
	LevelIndex int     `json:"level_index"`
	Volume     float64 `json:"volume"`
	EntryPrice float64 `json:"entry_price"`
}

// Hedge is an offsetting position linked to an original. A hedge may accrue
// its own DCA children, tracked separately from the original's DCA levels.
type Hedge struct {
	Ticket       int64      `json:"ticket"`
	Side         Side       `json:"side"`
	Volume       float64    `json:"volume"`
	EntryPrice   float64    `json:"entry_price"`
	DCALevels    []DCALevel `json:"dca_levels,omitempty"`
	ReleaseStage int        `json:"release_stage,omitempty"` // Partial-close steps already taken (0..2); full closure removes the hedge
}

// PartialCloseState records which partial-profit milestones have fired for a
// position on the non-recovery exit path.
type PartialCloseState struct {
	PC1Closed      bool       `json:"pc1_closed"`
	PC2Closed      bool       `json:"pc2_closed"`
	PC2TriggerTime *time.Time `json:"pc2_trigger_time,omitempty"`
}

// TrailingStop is the software trailing-stop state armed after PC2.
type TrailingStop struct {
	Active       bool    `json:"active"`
	StopPrice    float64 `json:"stop_price,omitempty"`
	DistancePips float64 `json:"distance_pips,omitempty"`
	PeakPrice    float64 `json:"peak_price,omitempty"`
}

// TrackedPosition is one broker position the strategy originated, plus all
// recovery metadata. It is the unit of the tracker table; recovery children
// (DCA, hedge, hedge-DCA) live nested here and are never top-level entries.
type TrackedPosition struct {
	Ticket        int64        `json:"ticket"`
	Symbol        string       `json:"symbol"`
	Side          Side         `json:"side"`
	Kind          PositionKind `json:"kind"`
	EntryPrice    float64      `json:"entry_price"`
	InitialVolume float64      `json:"initial_volume"`
	CurrentVolume float64      `json:"current_volume"`
	OpenedAt      time.Time    `json:"opened_at"`

	DCALevels []DCALevel `json:"dca_levels,omitempty"`
	Hedges    []Hedge    `json:"hedges,omitempty"`

	PartialClose PartialCloseState `json:"partial_close"`
	Trailing     TrailingStop      `json:"trailing_stop"`

	// MaxDrawdownPips is the worst adverse excursion seen so far, used to
	// measure how much of the drawdown the original has recovered when
	// deciding hedge release steps.
	MaxDrawdownPips float64 `json:"max_drawdown_pips,omitempty"`
}

// RecoveryActive reports whether any DCA or hedge exists. Once true, the
// partial-close/trailing exit path is permanently disabled for this
// position: two exit policies must never manage the same money.
func (p *TrackedPosition) RecoveryActive() bool {
	return len(p.DCALevels)+len(p.Hedges) > 0
}

// FindHedge returns the hedge with the given ticket, or nil.
func (p *TrackedPosition) FindHedge(ticket int64) *Hedge {
	for i := range p.Hedges {
		if p.Hedges[i].Ticket == ticket {
			return &p.Hedges[i]
		}
	}
	return nil
}

// StackTickets returns every ticket in the stack: the original, its DCA
// levels, hedges, and hedge-DCA levels, in that order.
func (p *TrackedPosition) StackTickets() []int64 {
	tickets := []int64{p.Ticket}
	for _, d := range p.DCALevels {
		tickets = append(tickets, d.Ticket)
	}
	for _, h := range p.Hedges {
		tickets = append(tickets, h.Ticket)
		for _, d := range h.DCALevels {
			tickets = append(tickets, d.Ticket)
		}
	}
	return tickets
}

// ContainsTicket reports whether the ticket appears anywhere in the stack.
func (p *TrackedPosition) ContainsTicket(ticket int64) bool {
	for _, t := range p.StackTickets() {
		if t == ticket {
			return true
		}
	}
	return false
}

// SameDirectionVolume returns the total volume exposed in the original's
// direction (original + DCA levels). Hedge sizing is a multiple of this.
func (p *TrackedPosition) SameDirectionVolume() float64 {
	vol := p.CurrentVolume
	for _, d := range p.DCALevels {
		vol += d.Volume
	}
	return vol
}

// Clone returns a deep copy, safe to hand to persistence while the loop
// keeps mutating the original.
func (p *TrackedPosition) Clone() *TrackedPosition {
	cp := *p
	cp.DCALevels = append([]DCALevel(nil), p.DCALevels...)
	cp.Hedges = make([]Hedge, len(p.Hedges))
	for i, h := range p.Hedges {
		cp.Hedges[i] = h
		cp.Hedges[i].DCALevels = append([]DCALevel(nil), h.DCALevels...)
	}
	if p.PartialClose.PC2TriggerTime != nil {
		t := *p.PartialClose.PC2TriggerTime
		cp.PartialClose.PC2TriggerTime = &t
	}
	return &cp
}
