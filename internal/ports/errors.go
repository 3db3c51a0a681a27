package ports

import "errors"

// Standard application-level errors.
// Adapters wrap underlying infrastructure errors with these standard errors
// so the coordinator and app layers can branch without knowing the transport.
var (
	// General Errors
	ErrUnknown            = errors.New("unknown error occurred")
	ErrInvalidRequest     = errors.New("invalid request parameters or format")
	ErrNotFound           = errors.New("resource not found")
	ErrTimeout            = errors.New("operation timed out")
	ErrContextCanceled    = errors.New("operation canceled via context")
	ErrConfigurationError = errors.New("invalid or missing configuration")

	// Broker / terminal bridge errors
	ErrBridgeUnavailable  = errors.New("terminal bridge is unavailable")
	ErrConnectionFailed   = errors.New("failed to connect to the terminal bridge")
	ErrRateLimited        = errors.New("terminal request rate limit exceeded")
	ErrMarketDataMissing  = errors.New("no market data available for symbol")
	ErrOrderRejected      = errors.New("order rejected by broker")
	ErrRequote            = errors.New("order failed on requote")
	ErrTicketNotFound     = errors.New("position ticket not found at broker")
	ErrInsufficientFunds  = errors.New("insufficient margin for operation")
	ErrVolumeInvalid      = errors.New("order volume outside broker limits")
	ErrModifyFailed       = errors.New("failed to modify position stop loss")
	ErrPartialCloseFailed = errors.New("failed to partially close position")

	// Tracking / persistence errors
	ErrDuplicateTicket = errors.New("ticket is already tracked")
	ErrStackNotTracked = errors.New("ticket does not belong to a tracked stack")
	ErrStateCorrupt    = errors.New("persisted state file is corrupt")
	ErrSinkUnavailable = errors.New("telemetry sink unavailable")
)
