package mt5bridge

import (
	"context"
	"net/http"
	"net/http/httptest"
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

func newTestClient(t *testing.T, handler http.Handler) *Client {
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c, err := NewClient(Config{BaseURL: srv.URL, Logger: nopLogger{}})
	require.NoError(t, err)
	return c
}

func TestNewClient_RequiresBaseURL(t *testing.T) {
	_, err := NewClient(Config{Logger: nopLogger{}})
	assert.ErrorIs(t, err, ports.ErrConfigurationError)
}

func TestBidAsk(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/quote", r.URL.Path)
		assert.Equal(t, "EURUSD", r.URL.Query().Get("symbol"))
		w.Write([]byte(`{"symbol":"EURUSD","bid":1.10500,"ask":1.10512}`))
	}))

	bid, ask, err := c.BidAsk(context.Background(), "EURUSD")
	require.NoError(t, err)
	assert.Equal(t, 1.10500, bid)
	assert.Equal(t, 1.10512, ask)
}

func TestBidAsk_EmptyQuote(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"symbol":"EURUSD","bid":0,"ask":0}`))
	}))
	_, _, err := c.BidAsk(context.Background(), "EURUSD")
	assert.ErrorIs(t, err, ports.ErrMarketDataMissing)
}

func TestBars(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "M15", r.URL.Query().Get("timeframe"))
		w.Write([]byte(`[
			{"time":1724200000,"open":1.1,"high":1.102,"low":1.099,"close":1.101,"volume":1200},
			{"time":1724200900,"open":1.101,"high":1.103,"low":1.100,"close":1.102,"volume":900}
		]`))
	}))

	bars, err := c.Bars(context.Background(), "EURUSD", "M15", 2)
	require.NoError(t, err)
	require.Len(t, bars, 2)
	assert.Equal(t, 1.101, bars[0].Close)
	assert.Equal(t, "M15", bars[0].Timeframe)
	assert.Equal(t, 15*time.Minute, bars[0].CloseTime.Sub(bars[0].OpenTime))
}

func TestOpen_TranslatesSide(t *testing.T) {
	var gotBody string
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		buf := make([]byte, r.ContentLength)
		r.Body.Read(buf)
		gotBody = string(buf)
		w.Write([]byte(`{"ticket":9001,"price":1.10502}`))
	}))

	res, err := c.Open(context.Background(), ports.OpenRequest{Symbol: "EURUSD", Side: domain.Sell, Volume: 0.10, Comment: "DCA L1 - 1001"})
	require.NoError(t, err)
	assert.Equal(t, int64(9001), res.Ticket)
	assert.Equal(t, 1.10502, res.FillPrice)
	assert.Contains(t, gotBody, `"side":"sell"`)
	assert.Contains(t, gotBody, `"comment":"DCA L1 - 1001"`)
}

func TestOpen_BridgeErrorTranslated(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":{"code":"REQUOTE","message":"price moved"}}`))
	}))

	_, err := c.Open(context.Background(), ports.OpenRequest{Symbol: "EURUSD", Side: domain.Buy, Volume: 0.1})
	assert.ErrorIs(t, err, ports.ErrRequote)
}

func TestClose_UnknownCodeFallsBackByStatus(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`boom`))
	}))
	err := c.Close(context.Background(), 1001)
	assert.ErrorIs(t, err, ports.ErrBridgeUnavailable)
}

func TestOpenPositions_Mapping(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{
			"ticket":1001,"symbol":"EURUSD","type":"sell","volume":0.1,
			"price_open":1.105,"price_current":1.1065,"profit":-15.0,
			"comment":"","time_open":1724200000
		}]`))
	}))

	recs, err := c.OpenPositions(context.Background(), "EURUSD")
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, domain.Sell, recs[0].Side)
	assert.Equal(t, -15.0, recs[0].Profit)
	assert.Equal(t, time.Unix(1724200000, 0).UTC(), recs[0].OpenedAt)
}

func TestTickStream_Cache(t *testing.T) {
	s := newTickStream("ws://unused", nopLogger{})

	_, _, ok := s.latest("EURUSD", time.Second)
	assert.False(t, ok)

	s.mu.Lock()
	s.quotes["EURUSD"] = cachedQuote{bid: 1.105, ask: 1.1052, receivedAt: time.Now()}
	s.quotes["GBPUSD"] = cachedQuote{bid: 1.27, ask: 1.2702, receivedAt: time.Now().Add(-time.Minute)}
	s.mu.Unlock()

	bid, ask, ok := s.latest("EURUSD", 10*time.Second)
	require.True(t, ok)
	assert.Equal(t, 1.105, bid)
	assert.Equal(t, 1.1052, ask)

	_, _, ok = s.latest("GBPUSD", 10*time.Second)
	assert.False(t, ok, "stale cache entries are not served")
}
