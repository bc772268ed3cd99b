package venue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crossarb/crossarb/internal/domain"
)

func newTestPaper(t *testing.T, cfg PaperConfig) *Paper {
	t.Helper()
	if cfg.Name == "" {
		cfg.Name = "paper"
	}
	if cfg.Prices == nil {
		cfg.Prices = map[string]float64{"BTC/USDT": 50_000}
	}
	p := NewPaper(cfg)
	require.NoError(t, p.Connect(context.Background()))
	return p
}

func TestPaper_GetTicker(t *testing.T) {
	ctx := context.Background()

	t.Run("oscillates around the base price", func(t *testing.T) {
		p := newTestPaper(t, PaperConfig{Drift: 0.01})

		tick, err := p.GetTicker(ctx, "BTC/USDT")
		require.NoError(t, err)
		assert.InDelta(t, 50_000, tick.Price, 50_000*0.011)
		assert.Less(t, tick.Bid, tick.Ask)
		assert.Equal(t, 5000.0, tick.Volume)
	})

	t.Run("unknown symbol", func(t *testing.T) {
		p := newTestPaper(t, PaperConfig{})
		_, err := p.GetTicker(ctx, "DOGE/USDT")
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("disconnected", func(t *testing.T) {
		p := newTestPaper(t, PaperConfig{})
		require.NoError(t, p.Disconnect(ctx))
		_, err := p.GetTicker(ctx, "BTC/USDT")
		assert.ErrorIs(t, err, domain.ErrNotConnected)
	})
}

func TestPaper_Orders(t *testing.T) {
	ctx := context.Background()

	t.Run("market orders fill at the touch", func(t *testing.T) {
		p := newTestPaper(t, PaperConfig{})

		order, err := p.PlaceOrder(ctx, domain.OrderRequest{
			Symbol:   "BTC/USDT",
			Side:     domain.OrderSideBuy,
			Type:     domain.OrderTypeMarket,
			Quantity: 1,
		})
		require.NoError(t, err)

		assert.Equal(t, domain.OrderStatusFilled, order.Status)
		assert.Equal(t, 1.0, order.FilledQuantity)
		assert.Greater(t, order.AveragePrice, 50_000.0) // buys lift the ask
	})

	t.Run("sells hit the bid", func(t *testing.T) {
		p := newTestPaper(t, PaperConfig{})

		order, err := p.PlaceOrder(ctx, domain.OrderRequest{
			Symbol:   "BTC/USDT",
			Side:     domain.OrderSideSell,
			Type:     domain.OrderTypeMarket,
			Quantity: 1,
		})
		require.NoError(t, err)
		assert.Less(t, order.AveragePrice, 50_000.0)
	})

	t.Run("zero quantity rejected", func(t *testing.T) {
		p := newTestPaper(t, PaperConfig{})
		_, err := p.PlaceOrder(ctx, domain.OrderRequest{
			Symbol: "BTC/USDT",
			Side:   domain.OrderSideBuy,
		})
		assert.ErrorIs(t, err, domain.ErrInvalidOrder)
	})

	t.Run("fill delay keeps orders open then fills", func(t *testing.T) {
		p := newTestPaper(t, PaperConfig{FillDelay: 20 * time.Millisecond})

		order, err := p.PlaceOrder(ctx, domain.OrderRequest{
			Symbol:   "BTC/USDT",
			Side:     domain.OrderSideBuy,
			Type:     domain.OrderTypeMarket,
			Quantity: 1,
		})
		require.NoError(t, err)
		assert.Equal(t, domain.OrderStatusOpen, order.Status)

		time.Sleep(25 * time.Millisecond)
		status, err := p.GetOrderStatus(ctx, order.ID, order.Symbol)
		require.NoError(t, err)
		assert.Equal(t, domain.OrderStatusFilled, status)
	})

	t.Run("cancel open order", func(t *testing.T) {
		p := newTestPaper(t, PaperConfig{FillDelay: time.Minute})

		order, err := p.PlaceOrder(ctx, domain.OrderRequest{
			Symbol:   "BTC/USDT",
			Side:     domain.OrderSideBuy,
			Type:     domain.OrderTypeMarket,
			Quantity: 1,
		})
		require.NoError(t, err)

		require.NoError(t, p.CancelOrder(ctx, order.ID, order.Symbol))
		status, err := p.GetOrderStatus(ctx, order.ID, order.Symbol)
		require.NoError(t, err)
		assert.Equal(t, domain.OrderStatusCancelled, status)
	})

	t.Run("cancelling a filled order is a no-op", func(t *testing.T) {
		p := newTestPaper(t, PaperConfig{})

		order, err := p.PlaceOrder(ctx, domain.OrderRequest{
			Symbol:   "BTC/USDT",
			Side:     domain.OrderSideBuy,
			Type:     domain.OrderTypeMarket,
			Quantity: 1,
		})
		require.NoError(t, err)
		assert.NoError(t, p.CancelOrder(ctx, order.ID, order.Symbol))
	})

	t.Run("unknown order", func(t *testing.T) {
		p := newTestPaper(t, PaperConfig{})
		err := p.CancelOrder(ctx, "missing", "BTC/USDT")
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})
}
