package statefile

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fxRecoveryBot/internal/domain"
	"fxRecoveryBot/internal/ports"
)

type nopLogger struct{}

func (nopLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (nopLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (nopLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (nopLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

func newStore(t *testing.T) *Store {
	s, err := New(filepath.Join(t.TempDir(), "state.json"), nopLogger{})
	require.NoError(t, err)
	return s
}

func fullSnapshot() *domain.StateSnapshot {
	opened := time.Date(2026, 8, 20, 9, 30, 0, 0, time.UTC)
	pc2 := opened.Add(3 * time.Hour)
	snap := domain.EmptySnapshot()
	snap.Positions[1001] = &domain.TrackedPosition{
		Ticket: 1001, Symbol: "EURUSD", Side: domain.Sell, Kind: domain.KindStandalone,
		EntryPrice: 1.10500, InitialVolume: 0.10, CurrentVolume: 0.05, OpenedAt: opened,
		DCALevels: []domain.DCALevel{{Ticket: 1002, LevelIndex: 1, Volume: 0.10, EntryPrice: 1.10650}},
		Hedges: []domain.Hedge{{
			Ticket: 5001, Side: domain.Buy, Volume: 0.40, EntryPrice: 1.10950, ReleaseStage: 1,
			DCALevels: []domain.DCALevel{{Ticket: 5002, LevelIndex: 1, Volume: 0.40, EntryPrice: 1.10700}},
		}},
		PartialClose:    domain.PartialCloseState{PC1Closed: true, PC2Closed: true, PC2TriggerTime: &pc2},
		Trailing:        domain.TrailingStop{Active: true, StopPrice: 1.10370, DistancePips: 8, PeakPrice: 1.10290},
		MaxDrawdownPips: 46,
	}
	snap.CascadeBlocks["GBPUSD"] = opened.Add(time.Hour)
	snap.MarketTrendingBlock["EURUSD"] = true
	snap.LastBlockUpdate = opened.Add(30 * time.Minute)
	return snap
}

func TestRoundTrip_FullState(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	saved := fullSnapshot()
	require.NoError(t, s.Save(ctx, saved))

	loaded, err := s.Load(ctx)
	require.NoError(t, err)

	assert.Equal(t, saved.Positions, loaded.Positions)
	assert.True(t, saved.CascadeBlocks["GBPUSD"].Equal(loaded.CascadeBlocks["GBPUSD"]))
	assert.Equal(t, saved.MarketTrendingBlock, loaded.MarketTrendingBlock)
	assert.True(t, saved.LastBlockUpdate.Equal(loaded.LastBlockUpdate))
	assert.Equal(t, domain.SchemaVersionCurrent, loaded.SchemaVersion)
}

func TestRoundTrip_EmptyState(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, domain.EmptySnapshot()))
	loaded, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, loaded.Positions)
	assert.NotNil(t, loaded.CascadeBlocks)
	assert.NotNil(t, loaded.MarketTrendingBlock)
}

func TestLoad_MissingFileReturnsEmpty(t *testing.T) {
	s := newStore(t)
	loaded, err := s.Load(context.Background())
	require.NoError(t, err)
	assert.Empty(t, loaded.Positions)
}

func TestLoad_CorruptFileFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"positions": {"1001": {`), 0o644))

	s, err := New(path, nopLogger{})
	require.NoError(t, err)
	_, err = s.Load(context.Background())
	assert.ErrorIs(t, err, ports.ErrStateCorrupt)
}

func TestLoad_UnknownFieldsIgnored(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	doc := `{"schema_version": 1, "positions": {}, "future_field": {"x": 1}}`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	s, err := New(path, nopLogger{})
	require.NoError(t, err)
	loaded, err := s.Load(context.Background())
	require.NoError(t, err)
	assert.Empty(t, loaded.Positions)
}

func TestSave_LeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	s, err := New(filepath.Join(dir, "state.json"), nopLogger{})
	require.NoError(t, err)
	require.NoError(t, s.Save(context.Background(), fullSnapshot()))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "state.json", entries[0].Name())
}
