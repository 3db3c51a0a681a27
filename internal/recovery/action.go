package recovery

import "fxRecoveryBot/internal/domain"

// ActionType enumerates everything the policy engine can ask the coordinator
// to do. The engine only describes the action; execution, linking and
// tracker mutation happen in the coordinator.
type ActionType string

const (
	ActionOpenDCA           ActionType = "open_dca"
	ActionOpenHedge         ActionType = "open_hedge"
	ActionOpenHedgeDCA      ActionType = "open_hedge_dca"
	ActionHedgePartialClose ActionType = "hedge_partial_close"
	ActionCloseStack        ActionType = "close_stack"
	ActionPartialClose      ActionType = "partial_close"
	ActionTrailingUpdate    ActionType = "trailing_update"
)

// Action is one recovery decision. Fields are populated per type; unused
// fields stay zero.
type Action struct {
	Type   ActionType
	Ticket int64 // Top-level position the action belongs to

	// Open actions.
	Side    domain.Side
	Volume  float64
	Level   int    // DCA level index for open_dca / open_hedge_dca
	Comment string // Recovery tag to place on the broker order

	// Hedge actions.
	HedgeTicket int64
	Fraction    float64 // Share of current hedge volume to close
	Stage       int     // Release ladder step (1..3)

	// Close / partial-close actions.
	Reason      domain.CloseReason
	CloseVolume float64 // Lots to close on the original for partial_close
	Milestone   int     // 1 for PC1, 2 for PC2
	ArmTrailing bool    // PC2 arms the trailing stop

	// Trailing updates.
	StopPrice float64
	PeakPrice float64

	// Why the rule fired, for telemetry.
	Note string
}
