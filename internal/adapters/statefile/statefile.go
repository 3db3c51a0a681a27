package statefile

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"fxRecoveryBot/internal/domain"
	"fxRecoveryBot/internal/ports"
)

// Store persists the state snapshot as a single JSON document. Save writes a
// temp file in the same directory, fsyncs and renames it over the real path,
// so a reader never sees a half-written file. Load treats a missing file as
// an empty book and a malformed file as an error the caller must not ignore:
// silently resetting a live trading book would duplicate tracking of
// already-open positions.
type Store struct {
	path   string
	logger ports.Logger
}

// New creates a store writing to path.
func New(path string, logger ports.Logger) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("state file path is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for state store")
	}
	return &Store{path: path, logger: logger}, nil
}

// Save writes the snapshot atomically.
func (s *Store) Save(ctx context.Context, snap *domain.StateSnapshot) error {
	snap.SchemaVersion = domain.SchemaVersionCurrent
	snap.SavedAt = time.Now().UTC()

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state snapshot: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create state dir %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp state file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp state file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp state file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("swap state file into place: %w", err)
	}

	s.logger.Debug(ctx, "State snapshot saved", map[string]interface{}{
		"path": s.path, "positions": len(snap.Positions), "bytes": len(data),
	})
	return nil
}

// Load reads the snapshot. Missing file returns an empty snapshot; a file
// that exists but cannot be parsed returns ErrStateCorrupt.
func (s *Store) Load(ctx context.Context) (*domain.StateSnapshot, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			s.logger.Info(ctx, "No state file found, starting with an empty book", map[string]interface{}{"path": s.path})
			return domain.EmptySnapshot(), nil
		}
		return nil, fmt.Errorf("read state file %s: %w", s.path, err)
	}

	snap := domain.EmptySnapshot()
	if err := json.Unmarshal(data, snap); err != nil {
		return nil, fmt.Errorf("parse state file %s: %v: %w", s.path, err, ports.ErrStateCorrupt)
	}
	if snap.Positions == nil {
		snap.Positions = make(map[int64]*domain.TrackedPosition)
	}
	if snap.CascadeBlocks == nil {
		snap.CascadeBlocks = make(map[string]time.Time)
	}
	if snap.MarketTrendingBlock == nil {
		snap.MarketTrendingBlock = make(map[string]bool)
	}

	s.logger.Info(ctx, "State snapshot loaded", map[string]interface{}{
		"path": s.path, "positions": len(snap.Positions), "saved_at": snap.SavedAt,
	})
	return snap, nil
}
