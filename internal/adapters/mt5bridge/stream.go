package mt5bridge

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"fxRecoveryBot/internal/ports"
)

// tickStream maintains a websocket subscription to the bridge's tick feed
// and caches the latest quote per symbol. The cache spares the control loop
// an HTTP round trip per BidAsk call; when the stream is down or stale the
// client falls back to HTTP, so a broken stream degrades latency, never
// correctness.
type tickStream struct {
	url    string
	logger ports.Logger

	mu     sync.RWMutex
	quotes map[string]cachedQuote
}

type cachedQuote struct {
	bid        float64
	ask        float64
	receivedAt time.Time
}

type tickMessage struct {
	Symbol string  `json:"symbol"`
	Bid    float64 `json:"bid"`
	Ask    float64 `json:"ask"`
}

type subscribeMessage struct {
	Action  string   `json:"action"`
	Symbols []string `json:"symbols"`
}

func newTickStream(url string, logger ports.Logger) *tickStream {
	return &tickStream{url: url, logger: logger, quotes: make(map[string]cachedQuote)}
}

// latest returns the cached quote for symbol if younger than maxAge.
func (s *tickStream) latest(symbol string, maxAge time.Duration) (bid, ask float64, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	q, found := s.quotes[symbol]
	if !found || time.Since(q.receivedAt) > maxAge {
		return 0, 0, false
	}
	return q.bid, q.ask, true
}

// run connects and reads ticks until ctx is cancelled, reconnecting with
// capped backoff on any failure.
func (s *tickStream) run(ctx context.Context, symbols []string) {
	go func() {
		backoff := time.Second
		const maxBackoff = 30 * time.Second
		for {
			if ctx.Err() != nil {
				return
			}
			err := s.connectAndRead(ctx, symbols)
			if ctx.Err() != nil {
				return
			}
			s.logger.Warn(ctx, "Tick stream disconnected, reconnecting", map[string]interface{}{
				"url": s.url, "error": errString(err), "backoff": backoff.String(),
			})
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}
	}()
}

func (s *tickStream) connectAndRead(ctx context.Context, symbols []string) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := conn.WriteJSON(subscribeMessage{Action: "subscribe", Symbols: symbols}); err != nil {
		return err
	}
	s.logger.Info(ctx, "Tick stream connected", map[string]interface{}{"url": s.url, "symbols": symbols})

	// Close the connection when ctx ends so ReadMessage unblocks.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		var tick tickMessage
		if err := json.Unmarshal(data, &tick); err != nil {
			s.logger.Debug(ctx, "Skipping unparseable tick message", map[string]interface{}{"error": err.Error()})
			continue
		}
		if tick.Symbol == "" || tick.Bid <= 0 || tick.Ask <= 0 {
			continue
		}
		s.mu.Lock()
		s.quotes[tick.Symbol] = cachedQuote{bid: tick.Bid, ask: tick.Ask, receivedAt: time.Now()}
		s.mu.Unlock()
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
