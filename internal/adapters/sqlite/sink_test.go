package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fxRecoveryBot/internal/ports"
)

type nopLogger struct{}

func (nopLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (nopLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (nopLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (nopLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

func newTestSink(t *testing.T) *Sink {
	s, err := NewSink(Config{DBPath: filepath.Join(t.TempDir(), "events.db"), Logger: nopLogger{}})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRecord_RoundTrip(t *testing.T) {
	s := newTestSink(t)
	ctx := context.Background()

	ev := ports.Event{
		Type:   ports.EventHedgeOpened,
		Symbol: "EURUSD",
		Ticket: 1001,
		Time:   time.Now().UTC(),
		Fields: map[string]interface{}{"hedge": 5001, "volume": 0.4},
	}
	require.NoError(t, s.Record(ctx, ev))

	var count int
	var payload string
	row := s.db.QueryRowContext(ctx, `SELECT COUNT(*), MAX(payload) FROM events WHERE event_type = ?`, ports.EventHedgeOpened)
	require.NoError(t, row.Scan(&count, &payload))
	assert.Equal(t, 1, count)
	assert.Contains(t, payload, `"hedge":5001`)
}

func TestRecord_NilFields(t *testing.T) {
	s := newTestSink(t)
	require.NoError(t, s.Record(context.Background(), ports.Event{Type: ports.EventStopOut, Symbol: "GBPUSD", Ticket: 2001}))
}

func TestRecord_UnavailableSink(t *testing.T) {
	s, err := NewSink(Config{DBPath: filepath.Join(t.TempDir(), "events.db"), Logger: nopLogger{}})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	err = s.Record(context.Background(), ports.Event{Type: ports.EventStopOut, Symbol: "EURUSD", Ticket: 1001})
	assert.ErrorIs(t, err, ports.ErrSinkUnavailable)

	err = s.RecordStackClose(context.Background(), ports.StackClose{Ticket: 1001, Symbol: "EURUSD", Reason: "MANUAL"})
	assert.ErrorIs(t, err, ports.ErrSinkUnavailable)
}

func TestRecordStackClose(t *testing.T) {
	s := newTestSink(t)
	ctx := context.Background()

	opened := time.Now().UTC().Add(-90 * time.Minute)
	require.NoError(t, s.RecordStackClose(ctx, ports.StackClose{
		Ticket: 1001, Symbol: "EURUSD", Reason: "PROFIT_TARGET", FinalProfit: 12.5,
		TicketCount: 4, ClosedCount: 4, OpenedAt: opened, ClosedAt: opened.Add(90 * time.Minute),
	}))

	var reason string
	var minutes float64
	row := s.db.QueryRowContext(ctx, `SELECT reason, duration_minutes FROM stack_history WHERE ticket = 1001`)
	require.NoError(t, row.Scan(&reason, &minutes))
	assert.Equal(t, "PROFIT_TARGET", reason)
	assert.InDelta(t, 90, minutes, 0.01)
}
