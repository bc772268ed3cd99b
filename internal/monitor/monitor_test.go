package monitor

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crossarb/crossarb/internal/domain"
)

type tickerVenue struct {
	name      string
	connected bool
	tick      domain.Ticker
	err       error
}

func (v *tickerVenue) Name() string                         { return v.name }
func (v *tickerVenue) Connect(ctx context.Context) error    { v.connected = true; return nil }
func (v *tickerVenue) Disconnect(ctx context.Context) error { v.connected = false; return nil }
func (v *tickerVenue) IsConnected() bool                    { return v.connected }

func (v *tickerVenue) GetTicker(ctx context.Context, symbol string) (domain.Ticker, error) {
	if v.err != nil {
		return domain.Ticker{}, v.err
	}
	return v.tick, nil
}

func (v *tickerVenue) PlaceOrder(ctx context.Context, req domain.OrderRequest) (domain.Order, error) {
	return domain.Order{}, domain.ErrRejected
}

func (v *tickerVenue) CancelOrder(ctx context.Context, orderID, symbol string) error { return nil }

func (v *tickerVenue) GetOrderStatus(ctx context.Context, orderID, symbol string) (domain.OrderStatus, error) {
	return domain.OrderStatusFilled, nil
}

type tickerSource struct {
	name string
	tick domain.Ticker
}

func (s *tickerSource) Name() string { return s.name }

func (s *tickerSource) GetQuote(ctx context.Context, symbol string) (domain.Ticker, error) {
	return s.tick, nil
}

func testConfig() Config {
	return Config{
		RefreshInterval:    time.Second,
		FetchTimeout:       time.Second,
		HistorySize:        100,
		HistoryMaxAge:      time.Hour,
		DeviationThreshold: 0.05,
		VolumeSpikeFactor:  3,
		AlertRetention:     time.Hour,
	}
}

func ticker(price, volume float64) domain.Ticker {
	return domain.Ticker{
		Price:     price,
		Bid:       price - 5,
		Ask:       price + 5,
		Volume:    volume,
		Timestamp: time.Now(),
	}
}

func testMonitor(cfg Config, venues []domain.VenueConnector, sources []domain.DataSource) *Monitor {
	return New(cfg, []string{"BTC/USDT"}, Dependencies{
		Venues:  venues,
		Sources: sources,
		Logger:  slog.New(slog.NewJSONHandler(os.Stdout, nil)),
	})
}

func TestMonitor_Refresh(t *testing.T) {
	ctx := context.Background()

	t.Run("stores quotes from venues and sources", func(t *testing.T) {
		alpha := &tickerVenue{name: "alpha", connected: true, tick: ticker(50_000, 100)}
		agg := &tickerSource{name: "agg", tick: ticker(50_050, 0)}

		m := testMonitor(testConfig(), []domain.VenueConnector{alpha}, []domain.DataSource{agg})
		m.Refresh(ctx)

		quotes := m.Quotes("BTC/USDT")
		require.Len(t, quotes, 2)

		byVenue := map[string]domain.Quote{}
		for _, q := range quotes {
			byVenue[q.Venue] = q
		}
		assert.Equal(t, domain.SourceExchange, byVenue["alpha"].Source)
		assert.Equal(t, domain.SourceAlternative, byVenue["agg"].Source)
	})

	t.Run("skips disconnected venues", func(t *testing.T) {
		alpha := &tickerVenue{name: "alpha", connected: false, tick: ticker(50_000, 100)}
		m := testMonitor(testConfig(), []domain.VenueConnector{alpha}, nil)
		m.Refresh(ctx)

		assert.Empty(t, m.Quotes("BTC/USDT"))
	})

	t.Run("one failing venue does not block the rest", func(t *testing.T) {
		alpha := &tickerVenue{name: "alpha", connected: true, err: domain.ErrTimeout}
		beta := &tickerVenue{name: "beta", connected: true, tick: ticker(50_000, 100)}

		m := testMonitor(testConfig(), []domain.VenueConnector{alpha, beta}, nil)
		m.Refresh(ctx)

		quotes := m.Quotes("BTC/USDT")
		require.Len(t, quotes, 1)
		assert.Equal(t, "beta", quotes[0].Venue)
	})

	t.Run("newer quotes supersede older ones", func(t *testing.T) {
		alpha := &tickerVenue{name: "alpha", connected: true, tick: ticker(50_000, 100)}
		m := testMonitor(testConfig(), []domain.VenueConnector{alpha}, nil)

		m.Refresh(ctx)
		alpha.tick = ticker(51_000, 100)
		m.Refresh(ctx)

		quotes := m.Quotes("BTC/USDT")
		require.Len(t, quotes, 1)
		assert.Equal(t, 51_000.0, quotes[0].Price)
	})
}

func TestMonitor_BestPrices(t *testing.T) {
	ctx := context.Background()

	t.Run("lowest ask and highest bid", func(t *testing.T) {
		alpha := &tickerVenue{name: "alpha", connected: true, tick: ticker(50_000, 100)}
		beta := &tickerVenue{name: "beta", connected: true, tick: ticker(50_200, 100)}

		m := testMonitor(testConfig(), []domain.VenueConnector{alpha, beta}, nil)
		m.Refresh(ctx)

		best, err := m.BestPrices("BTC/USDT")
		require.NoError(t, err)
		assert.Equal(t, "alpha", best.BuyVenue)
		assert.Equal(t, 50_005.0, best.BuyPrice)
		assert.Equal(t, "beta", best.SellVenue)
		assert.Equal(t, 50_195.0, best.SellPrice)
	})

	t.Run("insufficient venues", func(t *testing.T) {
		alpha := &tickerVenue{name: "alpha", connected: true, tick: ticker(50_000, 100)}
		m := testMonitor(testConfig(), []domain.VenueConnector{alpha}, nil)
		m.Refresh(ctx)

		_, err := m.BestPrices("BTC/USDT")
		assert.ErrorIs(t, err, domain.ErrInsufficientVenues)
	})

	t.Run("alternative sources never count", func(t *testing.T) {
		alpha := &tickerVenue{name: "alpha", connected: true, tick: ticker(50_000, 100)}
		agg := &tickerSource{name: "agg", tick: ticker(50_050, 0)}

		m := testMonitor(testConfig(), []domain.VenueConnector{alpha}, []domain.DataSource{agg})
		m.Refresh(ctx)

		_, err := m.BestPrices("BTC/USDT")
		assert.ErrorIs(t, err, domain.ErrInsufficientVenues)
	})
}

func TestMonitor_PriceTrend(t *testing.T) {
	ctx := context.Background()

	t.Run("rising prices give a positive slope", func(t *testing.T) {
		alpha := &tickerVenue{name: "alpha", connected: true}
		m := testMonitor(testConfig(), []domain.VenueConnector{alpha}, nil)

		for _, price := range []float64{50_000, 50_100, 50_200, 50_300} {
			alpha.tick = ticker(price, 100)
			m.Refresh(ctx)
		}

		trend, err := m.PriceTrend("BTC/USDT", time.Hour)
		require.NoError(t, err)
		assert.Equal(t, 4, trend.Samples)
		assert.InDelta(t, 100.0, trend.Slope, 1e-6)
		assert.Greater(t, trend.Volatility, 0.0)
	})

	t.Run("flat prices give zero volatility", func(t *testing.T) {
		alpha := &tickerVenue{name: "alpha", connected: true, tick: ticker(50_000, 100)}
		m := testMonitor(testConfig(), []domain.VenueConnector{alpha}, nil)
		m.Refresh(ctx)
		m.Refresh(ctx)

		trend, err := m.PriceTrend("BTC/USDT", time.Hour)
		require.NoError(t, err)
		assert.Zero(t, trend.Slope)
		assert.Zero(t, trend.Volatility)
	})

	t.Run("too few samples", func(t *testing.T) {
		alpha := &tickerVenue{name: "alpha", connected: true, tick: ticker(50_000, 100)}
		m := testMonitor(testConfig(), []domain.VenueConnector{alpha}, nil)
		m.Refresh(ctx)

		_, err := m.PriceTrend("BTC/USDT", time.Hour)
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})
}

func TestMonitor_HistoryEviction(t *testing.T) {
	ctx := context.Background()

	cfg := testConfig()
	cfg.HistorySize = 3
	alpha := &tickerVenue{name: "alpha", connected: true, tick: ticker(50_000, 100)}
	m := testMonitor(cfg, []domain.VenueConnector{alpha}, nil)

	for i := 0; i < 10; i++ {
		m.Refresh(ctx)
	}

	trend, err := m.PriceTrend("BTC/USDT", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 3, trend.Samples)
}

func TestMonitor_DetectAnomalies(t *testing.T) {
	ctx := context.Background()

	t.Run("price deviation", func(t *testing.T) {
		alpha := &tickerVenue{name: "alpha", connected: true, tick: ticker(50_000, 100)}
		beta := &tickerVenue{name: "beta", connected: true, tick: ticker(60_000, 100)}

		m := testMonitor(testConfig(), []domain.VenueConnector{alpha, beta}, nil)
		m.Refresh(ctx)

		alerts := m.Alerts()
		require.NotEmpty(t, alerts)
		assert.Equal(t, domain.AnomalyPriceDeviation, alerts[0].Kind)
	})

	t.Run("agreeing venues raise nothing", func(t *testing.T) {
		alpha := &tickerVenue{name: "alpha", connected: true, tick: ticker(50_000, 100)}
		beta := &tickerVenue{name: "beta", connected: true, tick: ticker(50_100, 100)}

		m := testMonitor(testConfig(), []domain.VenueConnector{alpha, beta}, nil)
		m.Refresh(ctx)

		assert.Empty(t, m.Alerts())
	})

	t.Run("volume spike after enough history", func(t *testing.T) {
		alpha := &tickerVenue{name: "alpha", connected: true, tick: ticker(50_000, 100)}
		beta := &tickerVenue{name: "beta", connected: true, tick: ticker(50_100, 100)}

		m := testMonitor(testConfig(), []domain.VenueConnector{alpha, beta}, nil)
		for i := 0; i < 6; i++ {
			m.Refresh(ctx)
		}

		alpha.tick = ticker(50_000, 100_000)
		m.Refresh(ctx)

		var spikes int
		for _, a := range m.Alerts() {
			if a.Kind == domain.AnomalyVolumeSpike {
				spikes++
			}
		}
		assert.Equal(t, 1, spikes)
	})
}
