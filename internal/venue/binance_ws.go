package venue

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/crossarb/crossarb/internal/domain"
)

const (
	// wsWriteWait is the time allowed to write a message to the peer.
	wsWriteWait = 10 * time.Second

	// wsPongWait is the time allowed to read the next pong message.
	wsPongWait = 60 * time.Second

	// wsPingPeriod sends pings at this interval. Must be less than wsPongWait.
	wsPingPeriod = (wsPongWait * 9) / 10

	// wsReconnectDelay is the base delay before attempting to reconnect.
	wsReconnectDelay = 2 * time.Second

	// wsMaxReconnectDelay caps the exponential backoff.
	wsMaxReconnectDelay = 60 * time.Second
)

// bookTickerStream consumes the combined bookTicker WebSocket stream and
// keeps the latest best bid/ask per symbol. Reconnection with exponential
// backoff is handled internally.
type bookTickerStream struct {
	wsHost  string
	symbols []string

	// conn is the current generation's connection, kept only so Close can
	// shut it down; each readLoop owns the connection it was spawned with.
	conn *websocket.Conn

	mu     sync.RWMutex
	closed bool
	latest map[string]domain.Ticker // engine symbol -> latest ticker

	reconnectDelay time.Duration

	// done is closed when the stream shuts down.
	done chan struct{}
}

// newBookTickerStream creates a stream for the given engine symbols.
func newBookTickerStream(wsHost string, symbols []string) *bookTickerStream {
	return &bookTickerStream{
		wsHost:         strings.TrimRight(wsHost, "/"),
		symbols:        symbols,
		latest:         make(map[string]domain.Ticker, len(symbols)),
		reconnectDelay: wsReconnectDelay,
		done:           make(chan struct{}),
	}
}

// Connect establishes the WebSocket connection and starts the read and ping
// loops.
func (s *bookTickerStream) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("stream is closed")
	}

	streams := make([]string, 0, len(s.symbols))
	for _, sym := range s.symbols {
		streams = append(streams, strings.ToLower(binanceSymbol(sym))+"@bookTicker")
	}
	wsURL := s.wsHost + "/stream?streams=" + strings.Join(streams, "/")

	dialer := websocket.Dialer{
		HandshakeTimeout: 15 * time.Second,
	}

	conn, _, err := dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}

	s.conn = conn

	conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})

	go s.readLoop(conn)
	go s.pingLoop(conn)

	return nil
}

// Latest returns the most recent streamed ticker for an engine symbol.
func (s *bookTickerStream) Latest(symbol string) (domain.Ticker, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.latest[symbol]
	return t, ok
}

// Close shuts down the WebSocket connection.
func (s *bookTickerStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	s.closed = true
	close(s.done)

	if s.conn != nil {
		_ = s.conn.WriteMessage(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		)
		return s.conn.Close()
	}

	return nil
}

// readLoop continuously reads messages and updates the latest tickers. On
// disconnect it attempts reconnection. Each readLoop generation owns the
// connection it was spawned with and closes only that one, so it can never
// tear down a successor installed by reconnect.
func (s *bookTickerStream) readLoop(conn *websocket.Conn) {
	defer conn.Close()

	for {
		select {
		case <-s.done:
			return
		default:
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-s.done:
				return
			default:
			}

			s.reconnect()
			return
		}

		s.handleMessage(message)
	}
}

// pingLoop sends periodic pings to keep its generation's connection alive.
// It exits on the first write failure; the replacement connection gets its
// own ping loop.
func (s *bookTickerStream) pingLoop(conn *websocket.Conn) {
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage parses a combined-stream envelope and updates the ticker map.
func (s *bookTickerStream) handleMessage(raw []byte) {
	var envelope struct {
		Stream string          `json:"stream"`
		Data   json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return
	}

	var tick struct {
		Symbol string `json:"s"`
		BidPx  string `json:"b"`
		BidQty string `json:"B"`
		AskPx  string `json:"a"`
		AskQty string `json:"A"`
	}
	if err := json.Unmarshal(envelope.Data, &tick); err != nil {
		return
	}

	symbol, ok := s.engineSymbol(tick.Symbol)
	if !ok {
		return
	}

	bid := parseFloat(tick.BidPx)
	ask := parseFloat(tick.AskPx)

	s.mu.Lock()
	s.latest[symbol] = domain.Ticker{
		Price: (bid + ask) / 2,
		Bid:   bid,
		Ask:   ask,
		// The book ticker carries no 24h volume; the matched top-of-book
		// depth is the quantity actually tradable at these prices.
		Volume:    math.Min(parseFloat(tick.BidQty), parseFloat(tick.AskQty)),
		Timestamp: time.Now().UTC(),
	}
	s.mu.Unlock()
}

// engineSymbol maps a venue compact symbol ("BTCUSDT") back to the engine
// form ("BTC/USDT") it was subscribed under.
func (s *bookTickerStream) engineSymbol(compact string) (string, bool) {
	for _, sym := range s.symbols {
		if binanceSymbol(sym) == strings.ToUpper(compact) {
			return sym, true
		}
	}
	return "", false
}

// reconnect attempts to re-establish the WebSocket connection with
// exponential backoff.
func (s *bookTickerStream) reconnect() {
	delay := s.reconnectDelay

	for {
		select {
		case <-s.done:
			return
		default:
		}

		time.Sleep(delay)

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		err := s.Connect(ctx)
		cancel()

		if err == nil {
			return
		}

		delay *= 2
		if delay > wsMaxReconnectDelay {
			delay = wsMaxReconnectDelay
		}
	}
}
