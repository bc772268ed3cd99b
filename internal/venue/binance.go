// Package venue contains the exchange integrations: live connectors
// implementing domain.VenueConnector and read-only alternate data sources.
package venue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/crossarb/crossarb/internal/crypto"
	"github.com/crossarb/crossarb/internal/domain"
)

// tickerFreshness is how long a streamed book ticker is preferred over a REST
// fetch.
const tickerFreshness = 5 * time.Second

// Binance implements domain.VenueConnector against the Binance spot API.
// Market data is taken from the book ticker WebSocket stream when available,
// falling back to REST; trading endpoints use HMAC-SHA256 signed requests.
type Binance struct {
	name     string
	restHost string
	auth     crypto.HMACAuth
	http     *http.Client

	stream *bookTickerStream

	mu        sync.RWMutex
	connected bool
}

// BinanceConfig holds the parameters for one Binance-style connector.
type BinanceConfig struct {
	// Name is the venue identifier used throughout the engine.
	Name string

	// RestHost is the REST API root, e.g. "https://api.binance.com".
	RestHost string

	// WsHost is the WebSocket stream host, e.g. "wss://stream.binance.com:9443".
	// Leave empty to disable streaming and use REST only.
	WsHost string

	// Auth holds the API key and secret for signed endpoints.
	Auth crypto.HMACAuth

	// Symbols are the engine symbols ("BTC/USDT") to stream tickers for.
	Symbols []string
}

// NewBinance creates a Binance connector. Call Connect before using it.
func NewBinance(cfg BinanceConfig) *Binance {
	b := &Binance{
		name:     cfg.Name,
		restHost: strings.TrimRight(cfg.RestHost, "/"),
		auth:     cfg.Auth,
		http: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
	if cfg.WsHost != "" {
		b.stream = newBookTickerStream(cfg.WsHost, cfg.Symbols)
	}
	return b
}

// Name returns the venue identifier.
func (b *Binance) Name() string {
	return b.name
}

// Connect verifies REST connectivity and starts the book ticker stream if one
// is configured.
func (b *Binance) Connect(ctx context.Context) error {
	if _, err := b.doPublic(ctx, "/api/v3/ping", nil); err != nil {
		return fmt.Errorf("venue %s: ping: %w", b.name, err)
	}

	if b.stream != nil {
		if err := b.stream.Connect(ctx); err != nil {
			return fmt.Errorf("venue %s: stream: %w", b.name, err)
		}
	}

	b.mu.Lock()
	b.connected = true
	b.mu.Unlock()
	return nil
}

// Disconnect stops the stream and marks the connector as disconnected.
func (b *Binance) Disconnect(ctx context.Context) error {
	b.mu.Lock()
	b.connected = false
	b.mu.Unlock()

	if b.stream != nil {
		return b.stream.Close()
	}
	return nil
}

// IsConnected reports whether Connect has succeeded and Disconnect has not
// been called since.
func (b *Binance) IsConnected() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.connected
}

// GetTicker returns the best bid/ask and 24h volume for a symbol. A fresh
// streamed book ticker is preferred; otherwise the REST 24hr endpoint is hit.
func (b *Binance) GetTicker(ctx context.Context, symbol string) (domain.Ticker, error) {
	if !b.IsConnected() {
		return domain.Ticker{}, domain.ErrNotConnected
	}

	if b.stream != nil {
		if t, ok := b.stream.Latest(symbol); ok && time.Since(t.Timestamp) < tickerFreshness {
			return t, nil
		}
	}

	params := url.Values{}
	params.Set("symbol", binanceSymbol(symbol))

	body, err := b.doPublic(ctx, "/api/v3/ticker/24hr", params)
	if err != nil {
		return domain.Ticker{}, fmt.Errorf("venue %s: ticker %s: %w", b.name, symbol, err)
	}

	var resp struct {
		LastPrice string `json:"lastPrice"`
		BidPrice  string `json:"bidPrice"`
		AskPrice  string `json:"askPrice"`
		Volume    string `json:"volume"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return domain.Ticker{}, fmt.Errorf("venue %s: decode ticker: %w", b.name, err)
	}

	return domain.Ticker{
		Price:     parseFloat(resp.LastPrice),
		Bid:       parseFloat(resp.BidPrice),
		Ask:       parseFloat(resp.AskPrice),
		Volume:    parseFloat(resp.Volume),
		Timestamp: time.Now().UTC(),
	}, nil
}

// PlaceOrder submits an order via the signed order endpoint and returns the
// venue's view of it, including any immediate fills.
func (b *Binance) PlaceOrder(ctx context.Context, req domain.OrderRequest) (domain.Order, error) {
	if !b.IsConnected() {
		return domain.Order{}, domain.ErrNotConnected
	}

	params := url.Values{}
	params.Set("symbol", binanceSymbol(req.Symbol))
	params.Set("side", strings.ToUpper(string(req.Side)))
	params.Set("type", strings.ToUpper(string(req.Type)))
	params.Set("quantity", strconv.FormatFloat(req.Quantity, 'f', -1, 64))
	if req.Type == domain.OrderTypeLimit {
		params.Set("timeInForce", "GTC")
		params.Set("price", strconv.FormatFloat(req.Price, 'f', -1, 64))
	}
	params.Set("newOrderRespType", "FULL")

	body, err := b.doSigned(ctx, http.MethodPost, "/api/v3/order", params)
	if err != nil {
		return domain.Order{}, fmt.Errorf("venue %s: place order: %w", b.name, err)
	}

	var resp struct {
		OrderID      int64  `json:"orderId"`
		Status       string `json:"status"`
		ExecutedQty  string `json:"executedQty"`
		TransactTime int64  `json:"transactTime"`
		Fills        []struct {
			Price string `json:"price"`
			Qty   string `json:"qty"`
		} `json:"fills"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return domain.Order{}, fmt.Errorf("venue %s: decode order response: %w", b.name, err)
	}

	order := domain.Order{
		ID:             strconv.FormatInt(resp.OrderID, 10),
		Venue:          b.name,
		Symbol:         req.Symbol,
		Side:           req.Side,
		Type:           req.Type,
		Quantity:       req.Quantity,
		Price:          req.Price,
		FilledQuantity: parseFloat(resp.ExecutedQty),
		Status:         mapOrderStatus(resp.Status),
		CreatedAt:      time.UnixMilli(resp.TransactTime).UTC(),
	}

	// Volume-weighted average over immediate fills.
	var notional, qty float64
	for _, f := range resp.Fills {
		p, q := parseFloat(f.Price), parseFloat(f.Qty)
		notional += p * q
		qty += q
	}
	if qty > 0 {
		order.AveragePrice = notional / qty
	}

	return order, nil
}

// CancelOrder cancels an open order. A venue-side "unknown order" response
// means the order already reached a terminal state and is not treated as an
// error.
func (b *Binance) CancelOrder(ctx context.Context, orderID, symbol string) error {
	if !b.IsConnected() {
		return domain.ErrNotConnected
	}

	params := url.Values{}
	params.Set("symbol", binanceSymbol(symbol))
	params.Set("orderId", orderID)

	_, err := b.doSigned(ctx, http.MethodDelete, "/api/v3/order", params)
	if err != nil {
		var apiErr *apiError
		if errors.As(err, &apiErr) && apiErr.Code == -2011 {
			return nil
		}
		return fmt.Errorf("venue %s: cancel order %s: %w", b.name, orderID, err)
	}
	return nil
}

// GetOrderStatus returns the current lifecycle state of an order.
func (b *Binance) GetOrderStatus(ctx context.Context, orderID, symbol string) (domain.OrderStatus, error) {
	if !b.IsConnected() {
		return "", domain.ErrNotConnected
	}

	params := url.Values{}
	params.Set("symbol", binanceSymbol(symbol))
	params.Set("orderId", orderID)

	body, err := b.doSigned(ctx, http.MethodGet, "/api/v3/order", params)
	if err != nil {
		return "", fmt.Errorf("venue %s: order status %s: %w", b.name, orderID, err)
	}

	var resp struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("venue %s: decode order status: %w", b.name, err)
	}

	return mapOrderStatus(resp.Status), nil
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

// apiError is the decoded Binance API error body.
type apiError struct {
	HTTPStatus int
	Code       int    `json:"code"`
	Msg        string `json:"msg"`
}

func (e *apiError) Error() string {
	return fmt.Sprintf("api error %d (HTTP %d): %s", e.Code, e.HTTPStatus, e.Msg)
}

// Unwrap maps the API error onto the domain sentinels so callers can use
// errors.Is.
func (e *apiError) Unwrap() error {
	switch {
	case e.HTTPStatus == http.StatusTooManyRequests || e.HTTPStatus == 418:
		return domain.ErrRateLimited
	case e.HTTPStatus >= 400 && e.HTTPStatus < 500:
		return domain.ErrRejected
	default:
		return nil
	}
}

func (b *Binance) doPublic(ctx context.Context, path string, params url.Values) ([]byte, error) {
	fullURL := b.restHost + path
	if len(params) > 0 {
		fullURL += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	return b.do(req)
}

func (b *Binance) doSigned(ctx context.Context, method, path string, params url.Values) ([]byte, error) {
	query := b.auth.SignedQuery(params.Encode())
	fullURL := b.restHost + path + "?" + query

	req, err := http.NewRequestWithContext(ctx, method, fullURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("X-MBX-APIKEY", b.auth.Key)
	return b.do(req)
}

func (b *Binance) do(req *http.Request) ([]byte, error) {
	resp, err := b.http.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
			return nil, fmt.Errorf("%w: %v", domain.ErrTimeout, err)
		}
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &apiError{HTTPStatus: resp.StatusCode}
		_ = json.Unmarshal(body, apiErr)
		return nil, apiErr
	}

	return body, nil
}

func isTimeout(err error) bool {
	var t interface{ Timeout() bool }
	return errors.As(err, &t) && t.Timeout()
}

// binanceSymbol converts an engine symbol ("BTC/USDT") to the venue's
// compact form ("BTCUSDT").
func binanceSymbol(symbol string) string {
	return strings.ToUpper(strings.ReplaceAll(symbol, "/", ""))
}

// mapOrderStatus translates a venue order status string into the domain
// lifecycle state.
func mapOrderStatus(status string) domain.OrderStatus {
	switch status {
	case "NEW":
		return domain.OrderStatusOpen
	case "PARTIALLY_FILLED":
		return domain.OrderStatusPartiallyFilled
	case "FILLED":
		return domain.OrderStatusFilled
	case "CANCELED", "PENDING_CANCEL", "EXPIRED":
		return domain.OrderStatusCancelled
	case "REJECTED":
		return domain.OrderStatusRejected
	default:
		return domain.OrderStatusPending
	}
}

func parseFloat(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}
