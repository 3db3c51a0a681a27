package mt5bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"fxRecoveryBot/internal/domain"
	"fxRecoveryBot/internal/ports"
)

// Client talks JSON over HTTP to the MT5 bridge Expert Advisor and
// implements both ports.MarketData and ports.OrderGateway. The terminal owns
// all indicator math; this side only moves requests and translates bridge
// error codes into the sentinel errors the rest of the system matches on.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	logger      ports.Logger
	stream      *tickStream
	maxQuoteAge time.Duration
}

// Config holds configuration for the bridge client.
type Config struct {
	BaseURL     string        // e.g. "http://127.0.0.1:8787"
	WSURL       string        // e.g. "ws://127.0.0.1:8787/ticks"; empty disables the stream
	HTTPTimeout time.Duration // Default 10s
	MaxQuoteAge time.Duration // Streamed quote freshness window; default 10s
	Logger      ports.Logger
}

// NewClient validates the config and returns a client. The tick stream, if
// configured, is started separately with StartStream.
func NewClient(cfg Config) (*Client, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for bridge client")
	}
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("bridge base URL is required: %w", ports.ErrConfigurationError)
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 10 * time.Second
	}
	if cfg.MaxQuoteAge <= 0 {
		cfg.MaxQuoteAge = 10 * time.Second
	}
	c := &Client{
		baseURL:     cfg.BaseURL,
		httpClient:  &http.Client{Timeout: cfg.HTTPTimeout},
		logger:      cfg.Logger,
		maxQuoteAge: cfg.MaxQuoteAge,
	}
	if cfg.WSURL != "" {
		c.stream = newTickStream(cfg.WSURL, cfg.Logger)
	}
	return c, nil
}

// StartStream connects the websocket tick stream and keeps it connected
// until ctx is cancelled. No-op when no WSURL was configured.
func (c *Client) StartStream(ctx context.Context, symbols []string) {
	if c.stream != nil {
		c.stream.run(ctx, symbols)
	}
}

// Bridge wire types. The bridge reports MT5 trade retcodes as short strings.

type bridgeError struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

type quoteResponse struct {
	Symbol string  `json:"symbol"`
	Bid    float64 `json:"bid"`
	Ask    float64 `json:"ask"`
}

type barResponse struct {
	Time   int64   `json:"time"`
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume float64 `json:"volume"`
}

type symbolInfoResponse struct {
	Symbol     string  `json:"symbol"`
	PipSize    float64 `json:"pip_size"`
	Digits     int     `json:"digits"`
	VolumeStep float64 `json:"volume_step"`
	VolumeMin  float64 `json:"volume_min"`
}

type positionResponse struct {
	Ticket       int64   `json:"ticket"`
	Symbol       string  `json:"symbol"`
	Type         string  `json:"type"` // "buy" | "sell"
	Volume       float64 `json:"volume"`
	PriceOpen    float64 `json:"price_open"`
	PriceCurrent float64 `json:"price_current"`
	Profit       float64 `json:"profit"`
	Comment      string  `json:"comment"`
	TimeOpen     int64   `json:"time_open"` // Unix seconds
}

type orderRequest struct {
	Symbol  string  `json:"symbol"`
	Side    string  `json:"side"`
	Volume  float64 `json:"volume"`
	Comment string  `json:"comment,omitempty"`
}

type orderResponse struct {
	Ticket int64   `json:"ticket"`
	Price  float64 `json:"price"`
}

type closeRequest struct {
	Ticket int64   `json:"ticket"`
	Volume float64 `json:"volume,omitempty"`
}

type modifySLRequest struct {
	Ticket   int64   `json:"ticket"`
	StopLoss float64 `json:"stop_loss"`
}

type balanceResponse struct {
	Balance float64 `json:"balance"`
}

type indicatorResponse struct {
	Value float64 `json:"value"`
}

// BidAsk serves from the streamed tick cache when fresh, falling back to an
// HTTP round trip otherwise.
func (c *Client) BidAsk(ctx context.Context, symbol string) (float64, float64, error) {
	if c.stream != nil {
		if bid, ask, ok := c.stream.latest(symbol, c.maxQuoteAge); ok {
			return bid, ask, nil
		}
	}
	var resp quoteResponse
	if err := c.get(ctx, "/quote", url.Values{"symbol": {symbol}}, &resp); err != nil {
		return 0, 0, fmt.Errorf("quote %s: %w", symbol, err)
	}
	if resp.Bid <= 0 || resp.Ask <= 0 {
		return 0, 0, fmt.Errorf("quote %s: empty prices: %w", symbol, ports.ErrMarketDataMissing)
	}
	return resp.Bid, resp.Ask, nil
}

// Bars returns up to count most recent bars, oldest first.
func (c *Client) Bars(ctx context.Context, symbol, timeframe string, count int) ([]*domain.Kline, error) {
	var resp []barResponse
	q := url.Values{"symbol": {symbol}, "timeframe": {timeframe}, "count": {fmt.Sprintf("%d", count)}}
	if err := c.get(ctx, "/bars", q, &resp); err != nil {
		return nil, fmt.Errorf("bars %s %s: %w", symbol, timeframe, err)
	}
	if len(resp) == 0 {
		return nil, fmt.Errorf("bars %s %s: %w", symbol, timeframe, ports.ErrMarketDataMissing)
	}
	bars := make([]*domain.Kline, 0, len(resp))
	for _, b := range resp {
		open := time.Unix(b.Time, 0).UTC()
		bars = append(bars, &domain.Kline{
			OpenTime:  open,
			CloseTime: open.Add(timeframeDuration(timeframe)),
			Symbol:    symbol,
			Timeframe: timeframe,
			Open:      b.Open,
			High:      b.High,
			Low:       b.Low,
			Close:     b.Close,
			Volume:    b.Volume,
		})
	}
	return bars, nil
}

// SymbolInfo returns pip size and volume constraints for a symbol.
func (c *Client) SymbolInfo(ctx context.Context, symbol string) (*ports.SymbolInfo, error) {
	var resp symbolInfoResponse
	if err := c.get(ctx, "/symbol_info", url.Values{"symbol": {symbol}}, &resp); err != nil {
		return nil, fmt.Errorf("symbol info %s: %w", symbol, err)
	}
	if resp.PipSize <= 0 {
		return nil, fmt.Errorf("symbol info %s: missing pip size: %w", symbol, ports.ErrMarketDataMissing)
	}
	return &ports.SymbolInfo{
		Symbol:     resp.Symbol,
		PipSize:    resp.PipSize,
		Digits:     resp.Digits,
		VolumeStep: resp.VolumeStep,
		VolumeMin:  resp.VolumeMin,
	}, nil
}

// ADX returns the terminal-computed Average Directional Index, 0 when the
// terminal has no value yet.
func (c *Client) ADX(ctx context.Context, symbol, timeframe string, period int) (float64, error) {
	var resp indicatorResponse
	q := url.Values{"symbol": {symbol}, "timeframe": {timeframe}, "period": {fmt.Sprintf("%d", period)}}
	if err := c.get(ctx, "/adx", q, &resp); err != nil {
		return 0, fmt.Errorf("adx %s: %w", symbol, err)
	}
	return resp.Value, nil
}

// Open places a market order.
func (c *Client) Open(ctx context.Context, req ports.OpenRequest) (*ports.OrderResult, error) {
	var resp orderResponse
	body := orderRequest{Symbol: req.Symbol, Side: string(req.Side), Volume: req.Volume, Comment: req.Comment}
	if err := c.post(ctx, "/order", body, &resp); err != nil {
		return nil, fmt.Errorf("open %s %s %.2f: %w", req.Symbol, req.Side, req.Volume, err)
	}
	if resp.Ticket == 0 {
		return nil, fmt.Errorf("open %s: bridge returned no ticket: %w", req.Symbol, ports.ErrOrderRejected)
	}
	return &ports.OrderResult{Ticket: resp.Ticket, FillPrice: resp.Price}, nil
}

// Close fully closes a position.
func (c *Client) Close(ctx context.Context, ticket int64) error {
	if err := c.post(ctx, "/close", closeRequest{Ticket: ticket}, nil); err != nil {
		return fmt.Errorf("close %d: %w", ticket, err)
	}
	return nil
}

// ClosePartial closes volume lots of a position.
func (c *Client) ClosePartial(ctx context.Context, ticket int64, volume float64) error {
	if err := c.post(ctx, "/close_partial", closeRequest{Ticket: ticket, Volume: volume}, nil); err != nil {
		return fmt.Errorf("close partial %d (%.2f): %w", ticket, volume, err)
	}
	return nil
}

// ModifyStopLoss moves a position's stop loss.
func (c *Client) ModifyStopLoss(ctx context.Context, ticket int64, price float64) error {
	if err := c.post(ctx, "/modify_sl", modifySLRequest{Ticket: ticket, StopLoss: price}, nil); err != nil {
		return fmt.Errorf("modify sl %d: %w", ticket, err)
	}
	return nil
}

// OpenPositions returns the broker's open positions, optionally filtered by
// symbol.
func (c *Client) OpenPositions(ctx context.Context, symbol string) ([]ports.PositionRecord, error) {
	q := url.Values{}
	if symbol != "" {
		q.Set("symbol", symbol)
	}
	var resp []positionResponse
	if err := c.get(ctx, "/positions", q, &resp); err != nil {
		return nil, fmt.Errorf("open positions: %w", err)
	}
	out := make([]ports.PositionRecord, 0, len(resp))
	for _, p := range resp {
		side := domain.Buy
		if p.Type == "sell" {
			side = domain.Sell
		}
		out = append(out, ports.PositionRecord{
			Ticket:       p.Ticket,
			Symbol:       p.Symbol,
			Side:         side,
			Volume:       p.Volume,
			OpenPrice:    p.PriceOpen,
			CurrentPrice: p.PriceCurrent,
			Profit:       p.Profit,
			Comment:      p.Comment,
			OpenedAt:     time.Unix(p.TimeOpen, 0).UTC(),
		})
	}
	return out, nil
}

// AccountBalance returns the current account balance.
func (c *Client) AccountBalance(ctx context.Context) (float64, error) {
	var resp balanceResponse
	if err := c.get(ctx, "/balance", nil, &resp); err != nil {
		return 0, fmt.Errorf("account balance: %w", err)
	}
	return resp.Balance, nil
}

func (c *Client) get(ctx context.Context, path string, query url.Values, out interface{}) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) post(ctx context.Context, path string, body, out interface{}) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out interface{}) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if req.Context().Err() != nil {
			return fmt.Errorf("%v: %w", err, ports.ErrContextCanceled)
		}
		return fmt.Errorf("%v: %w", err, ports.ErrBridgeUnavailable)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read bridge response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return translateBridgeError(resp.StatusCode, data)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode bridge response: %v: %w", err, ports.ErrUnknown)
	}
	return nil
}

// translateBridgeError maps bridge error codes onto the sentinel errors the
// coordinator matches on. Unrecognized codes fall back by HTTP status.
func translateBridgeError(status int, data []byte) error {
	var be bridgeError
	if err := json.Unmarshal(data, &be); err == nil && be.Error.Code != "" {
		sentinel, ok := bridgeErrorSentinels[be.Error.Code]
		if !ok {
			sentinel = ports.ErrUnknown
		}
		return fmt.Errorf("bridge error %s: %s: %w", be.Error.Code, be.Error.Message, sentinel)
	}
	switch {
	case status == http.StatusNotFound:
		return fmt.Errorf("bridge returned %d: %w", status, ports.ErrNotFound)
	case status == http.StatusTooManyRequests:
		return fmt.Errorf("bridge returned %d: %w", status, ports.ErrRateLimited)
	case status >= 500:
		return fmt.Errorf("bridge returned %d: %w", status, ports.ErrBridgeUnavailable)
	default:
		return fmt.Errorf("bridge returned %d: %w", status, ports.ErrInvalidRequest)
	}
}

var bridgeErrorSentinels = map[string]error{
	"REQUOTE":          ports.ErrRequote,
	"ORDER_REJECTED":   ports.ErrOrderRejected,
	"INVALID_VOLUME":   ports.ErrVolumeInvalid,
	"TICKET_NOT_FOUND": ports.ErrTicketNotFound,
	"NO_MONEY":         ports.ErrInsufficientFunds,
	"MODIFY_FAILED":    ports.ErrModifyFailed,
	"PARTIAL_FAILED":   ports.ErrPartialCloseFailed,
	"MARKET_CLOSED":    ports.ErrOrderRejected,
	"RATE_LIMIT":       ports.ErrRateLimited,
	"TERMINAL_OFFLINE": ports.ErrBridgeUnavailable,
	"SYMBOL_NOT_FOUND": ports.ErrNotFound,
	"NO_DATA":          ports.ErrMarketDataMissing,
	"TIMEOUT":          ports.ErrTimeout,
}

func timeframeDuration(tf string) time.Duration {
	switch tf {
	case "M1":
		return time.Minute
	case "M5":
		return 5 * time.Minute
	case "M15":
		return 15 * time.Minute
	case "M30":
		return 30 * time.Minute
	case "H1":
		return time.Hour
	case "H4":
		return 4 * time.Hour
	case "D1":
		return 24 * time.Hour
	default:
		return time.Minute
	}
}
