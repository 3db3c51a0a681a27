package ports

import (
	"context"

	"fxRecoveryBot/internal/domain"
)

// StateStore persists the tracker snapshot plus blocking flags.
type StateStore interface {
	// Save atomically replaces the persisted snapshot.
	Save(ctx context.Context, snap *domain.StateSnapshot) error

	// Load returns the persisted snapshot. A missing file yields an empty
	// snapshot and no error; a malformed file yields an error wrapping
	// ErrStateCorrupt. Startup treats the latter as fatal: running with a
	// trading book we cannot trust is worse than refusing to start.
	Load(ctx context.Context) (*domain.StateSnapshot, error)
}
