package venue

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func bookTickerFrame(bidPx, bidQty, askPx, askQty float64) []byte {
	return []byte(fmt.Sprintf(
		`{"stream":"btcusdt@bookTicker","data":{"s":"BTCUSDT","b":"%f","B":"%f","a":"%f","A":"%f"}}`,
		bidPx, bidQty, askPx, askQty,
	))
}

func TestBookTickerStream_HandleMessage(t *testing.T) {
	s := newBookTickerStream("ws://unused", []string{"BTC/USDT"})

	t.Run("volume is the matched top-of-book depth", func(t *testing.T) {
		s.handleMessage(bookTickerFrame(50_000, 12.5, 50_010, 9.7))

		tick, ok := s.Latest("BTC/USDT")
		require.True(t, ok)
		assert.InDelta(t, 50_000, tick.Bid, 1e-9)
		assert.InDelta(t, 50_010, tick.Ask, 1e-9)
		assert.InDelta(t, 9.7, tick.Volume, 1e-9)
	})

	t.Run("unsubscribed symbol ignored", func(t *testing.T) {
		s.handleMessage([]byte(`{"stream":"ethusdt@bookTicker","data":{"s":"ETHUSDT","b":"3000","B":"1","a":"3001","A":"1"}}`))

		_, ok := s.Latest("ETH/USDT")
		assert.False(t, ok)
	})

	t.Run("malformed frame ignored", func(t *testing.T) {
		before, _ := s.Latest("BTC/USDT")
		s.handleMessage([]byte(`not json`))

		after, ok := s.Latest("BTC/USDT")
		require.True(t, ok)
		assert.Equal(t, before, after)
	})
}

func TestBookTickerStream_Reconnect(t *testing.T) {
	upgrader := websocket.Upgrader{}

	var mu sync.Mutex
	conns := 0

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}

		mu.Lock()
		conns++
		n := conns
		mu.Unlock()

		if n == 1 {
			// First connection serves one tick and drops.
			c.WriteMessage(websocket.TextMessage, bookTickerFrame(50_000, 1, 50_010, 1))
			time.Sleep(20 * time.Millisecond)
			c.Close()
			return
		}

		// The replacement keeps streaming rising bids until the client
		// goes away.
		defer c.Close()
		for i := 0; ; i++ {
			frame := bookTickerFrame(51_000+float64(i), 1, 51_010+float64(i), 1)
			if err := c.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
			time.Sleep(5 * time.Millisecond)
		}
	}))
	defer srv.Close()

	s := newBookTickerStream("ws"+strings.TrimPrefix(srv.URL, "http"), []string{"BTC/USDT"})
	s.reconnectDelay = 10 * time.Millisecond

	require.NoError(t, s.Connect(context.Background()))
	defer s.Close()

	// The replacement connection comes up and serves ticks.
	require.Eventually(t, func() bool {
		tick, ok := s.Latest("BTC/USDT")
		return ok && tick.Bid >= 51_000
	}, 3*time.Second, 10*time.Millisecond, "stream never recovered from the dropped connection")

	// And stays up: ticks keep advancing well after the first generation's
	// teardown has run.
	tick, _ := s.Latest("BTC/USDT")
	high := tick.Bid
	require.Eventually(t, func() bool {
		tick, _ := s.Latest("BTC/USDT")
		return tick.Bid > high
	}, 2*time.Second, 20*time.Millisecond, "replacement connection was torn down")

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 2, conns)
}
