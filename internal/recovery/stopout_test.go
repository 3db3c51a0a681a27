package recovery

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"fxRecoveryBot/internal/domain"
)

func TestStopOutTracker_CascadeConfirmed(t *testing.T) {
	tr := NewStopOutTracker(30 * time.Minute)
	now := time.Now()

	tr.Record(domain.StopOutEvent{Symbol: "EURUSD", Timestamp: now.Add(-20 * time.Minute), ADXAtStop: 36})
	tr.Record(domain.StopOutEvent{Symbol: "GBPUSD", Timestamp: now.Add(-5 * time.Minute), ADXAtStop: 34})

	info := tr.Check(now, 2, 30)
	assert.True(t, info.Confirmed)
	assert.Equal(t, 2, info.StopCount)
	assert.InDelta(t, 35, info.AvgADX, 1e-9)
	assert.Equal(t, []string{"EURUSD", "GBPUSD"}, info.Symbols)
}

func TestStopOutTracker_SingleStopIsNoise(t *testing.T) {
	tr := NewStopOutTracker(30 * time.Minute)
	now := time.Now()
	tr.Record(domain.StopOutEvent{Symbol: "EURUSD", Timestamp: now, ADXAtStop: 50})

	info := tr.Check(now, 2, 30)
	assert.False(t, info.Confirmed)
	assert.Equal(t, 1, info.StopCount)
}

func TestStopOutTracker_LowADXNotConfirmed(t *testing.T) {
	tr := NewStopOutTracker(30 * time.Minute)
	now := time.Now()
	tr.Record(domain.StopOutEvent{Symbol: "EURUSD", Timestamp: now, ADXAtStop: 20})
	tr.Record(domain.StopOutEvent{Symbol: "GBPUSD", Timestamp: now, ADXAtStop: 25})

	info := tr.Check(now, 2, 30)
	assert.False(t, info.Confirmed, "stops without elevated trend strength are chop, not cascade")
}

func TestStopOutTracker_WindowPrunes(t *testing.T) {
	tr := NewStopOutTracker(30 * time.Minute)
	now := time.Now()
	tr.Record(domain.StopOutEvent{Symbol: "EURUSD", Timestamp: now.Add(-45 * time.Minute), ADXAtStop: 40})
	tr.Record(domain.StopOutEvent{Symbol: "GBPUSD", Timestamp: now.Add(-5 * time.Minute), ADXAtStop: 40})

	info := tr.Check(now, 2, 30)
	assert.False(t, info.Confirmed)
	assert.Equal(t, 1, info.StopCount, "events older than the window are dropped")
}

func TestStopOutTracker_UnknownADXCountsButNotAveraged(t *testing.T) {
	tr := NewStopOutTracker(30 * time.Minute)
	now := time.Now()
	tr.Record(domain.StopOutEvent{Symbol: "EURUSD", Timestamp: now, ADXAtStop: 0})
	tr.Record(domain.StopOutEvent{Symbol: "GBPUSD", Timestamp: now, ADXAtStop: 36})

	info := tr.Check(now, 2, 30)
	assert.Equal(t, 2, info.StopCount)
	assert.InDelta(t, 36, info.AvgADX, 1e-9)
	assert.True(t, info.Confirmed)
}

func TestStopOutTracker_Reset(t *testing.T) {
	tr := NewStopOutTracker(30 * time.Minute)
	now := time.Now()
	tr.Record(domain.StopOutEvent{Symbol: "EURUSD", Timestamp: now, ADXAtStop: 40})
	tr.Record(domain.StopOutEvent{Symbol: "GBPUSD", Timestamp: now, ADXAtStop: 40})
	tr.Reset()

	info := tr.Check(now, 2, 30)
	assert.Equal(t, 0, info.StopCount)
	assert.False(t, info.Confirmed)
}
