package risk

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crossarb/crossarb/internal/domain"
)

type fakeVenue struct {
	name      string
	connected bool
}

func (f *fakeVenue) Name() string                        { return f.name }
func (f *fakeVenue) Connect(ctx context.Context) error   { f.connected = true; return nil }
func (f *fakeVenue) Disconnect(ctx context.Context) error { f.connected = false; return nil }
func (f *fakeVenue) IsConnected() bool                   { return f.connected }

func (f *fakeVenue) GetTicker(ctx context.Context, symbol string) (domain.Ticker, error) {
	return domain.Ticker{}, domain.ErrNotFound
}

func (f *fakeVenue) PlaceOrder(ctx context.Context, req domain.OrderRequest) (domain.Order, error) {
	return domain.Order{}, domain.ErrRejected
}

func (f *fakeVenue) CancelOrder(ctx context.Context, orderID, symbol string) error { return nil }

func (f *fakeVenue) GetOrderStatus(ctx context.Context, orderID, symbol string) (domain.OrderStatus, error) {
	return domain.OrderStatusFilled, nil
}

type fakeTrends struct {
	trend domain.Trend
	err   error
}

func (f *fakeTrends) PriceTrend(symbol string, window time.Duration) (domain.Trend, error) {
	return f.trend, f.err
}

func testLimits() domain.RiskLimits {
	return domain.RiskLimits{
		MaxPositionSize:  100_000,
		MaxDailyLoss:     1_000,
		MaxDailyTrades:   100,
		MinSpreadPct:     0.001,
		MaxSpreadPct:     0.05,
		MinConfidence:    0.8,
		MaxRiskScore:     0.7,
		MaxExecutionTime: 30 * time.Second,
		MinLiquidity:     0.01,
		MaxVolatility:    0.1,
		MaxTrendSlope:    500,
	}
}

func testManager(limits domain.RiskLimits, trends TrendSource) *Manager {
	venues := map[string]domain.VenueConnector{
		"alpha": &fakeVenue{name: "alpha", connected: true},
		"beta":  &fakeVenue{name: "beta", connected: true},
		"delta": &fakeVenue{name: "delta", connected: true},
		"omega": &fakeVenue{name: "omega", connected: true},
	}
	return New(limits, 100, Dependencies{
		Venues:  venues,
		TopTier: map[string]bool{"alpha": true, "beta": true},
		Trends:  trends,
		Logger:  slog.New(slog.NewJSONHandler(os.Stdout, nil)),
	})
}

func approvableOpp() domain.Opportunity {
	return domain.Opportunity{
		ID:               "opp-1",
		Symbol:           "BTC/USDT",
		BuyVenue:         "alpha",
		SellVenue:        "beta",
		BuyPrice:         50_000,
		SellPrice:        50_100,
		Spread:           100,
		SpreadPct:        0.002,
		VolumeAvailable:  1,
		MaxProfit:        100,
		Confidence:       1.0,
		RiskScore:        0.1,
		ExecTimeEstimate: 450 * time.Millisecond,
		CreatedAt:        time.Now(),
	}
}

func settledExec(netProfit float64) domain.Execution {
	return domain.Execution{
		ID:        "exec-1",
		Status:    domain.ExecCompleted,
		NetProfit: netProfit,
		SettledAt: time.Now(),
	}
}

func TestManager_Approve(t *testing.T) {
	ctx := context.Background()

	t.Run("clean opportunity approved", func(t *testing.T) {
		m := testManager(testLimits(), nil)
		assert.True(t, m.Approve(ctx, approvableOpp()))
	})

	t.Run("risk score above limit rejected", func(t *testing.T) {
		m := testManager(testLimits(), nil)
		opp := approvableOpp()
		opp.RiskScore = 0.9
		assert.False(t, m.Approve(ctx, opp))
	})

	t.Run("low confidence rejected", func(t *testing.T) {
		m := testManager(testLimits(), nil)
		opp := approvableOpp()
		opp.Confidence = 0.5
		assert.False(t, m.Approve(ctx, opp))
	})

	t.Run("slow execution estimate rejected", func(t *testing.T) {
		m := testManager(testLimits(), nil)
		opp := approvableOpp()
		opp.ExecTimeEstimate = time.Minute
		assert.False(t, m.Approve(ctx, opp))
	})

	t.Run("oversized notional rejected", func(t *testing.T) {
		m := testManager(testLimits(), nil)
		opp := approvableOpp()
		opp.VolumeAvailable = 3 // 150k notional
		assert.False(t, m.Approve(ctx, opp))
	})

	t.Run("disconnected venue rejected", func(t *testing.T) {
		m := testManager(testLimits(), nil)
		m.venues["beta"] = &fakeVenue{name: "beta", connected: false}
		assert.False(t, m.Approve(ctx, approvableOpp()))
	})

	t.Run("unknown venue rejected", func(t *testing.T) {
		m := testManager(testLimits(), nil)
		opp := approvableOpp()
		opp.SellVenue = "nowhere"
		assert.False(t, m.Approve(ctx, opp))
	})

	t.Run("approve does not change metrics", func(t *testing.T) {
		m := testManager(testLimits(), nil)
		opp := approvableOpp()

		before := m.Metrics()
		require.True(t, m.Approve(ctx, opp))
		require.True(t, m.Approve(ctx, opp))
		after := m.Metrics()

		assert.Equal(t, before.DailyTrades, after.DailyTrades)
		assert.Equal(t, before.DailyPnL, after.DailyPnL)
	})
}

func TestManager_Approve_DailyLimits(t *testing.T) {
	ctx := context.Background()

	t.Run("trade count reached", func(t *testing.T) {
		limits := testLimits()
		limits.MaxDailyTrades = 2
		m := testManager(limits, nil)

		m.RecordSettlement(settledExec(1))
		m.RecordSettlement(settledExec(1))

		assert.False(t, m.Approve(ctx, approvableOpp()))
	})

	t.Run("daily loss reached", func(t *testing.T) {
		m := testManager(testLimits(), nil)
		m.RecordSettlement(settledExec(-2_000))
		assert.False(t, m.Approve(ctx, approvableOpp()))
	})

	t.Run("profits keep trading open", func(t *testing.T) {
		m := testManager(testLimits(), nil)
		m.RecordSettlement(settledExec(500))
		assert.True(t, m.Approve(ctx, approvableOpp()))
	})
}

func TestManager_Approve_TrendChecks(t *testing.T) {
	ctx := context.Background()

	t.Run("volatile market rejected", func(t *testing.T) {
		trends := &fakeTrends{trend: domain.Trend{Volatility: 0.5, Samples: 20}}
		m := testManager(testLimits(), trends)
		assert.False(t, m.Approve(ctx, approvableOpp()))
	})

	t.Run("steep trend rejected", func(t *testing.T) {
		trends := &fakeTrends{trend: domain.Trend{Slope: -900, Samples: 20}}
		m := testManager(testLimits(), trends)
		assert.False(t, m.Approve(ctx, approvableOpp()))
	})

	t.Run("missing history is not a breach", func(t *testing.T) {
		trends := &fakeTrends{err: errors.New("insufficient samples")}
		m := testManager(testLimits(), trends)
		assert.True(t, m.Approve(ctx, approvableOpp()))
	})
}

func TestManager_Approve_VenueTiers(t *testing.T) {
	ctx := context.Background()

	t.Run("mixed tier needs liquidity floor", func(t *testing.T) {
		m := testManager(testLimits(), nil)
		opp := approvableOpp()
		opp.SellVenue = "delta" // not top-tier
		opp.BuyPrice = 100
		opp.SellPrice = 100.2
		opp.VolumeAvailable = 10 // 1k notional, below the 5k floor
		assert.False(t, m.Approve(ctx, opp))

		opp.VolumeAvailable = 100 // 10k notional
		assert.True(t, m.Approve(ctx, opp))
	})

	t.Run("no top-tier legs need liquidity and high confidence", func(t *testing.T) {
		m := testManager(testLimits(), nil)
		opp := approvableOpp()
		opp.BuyVenue = "delta"
		opp.SellVenue = "omega"
		opp.BuyPrice = 100
		opp.SellPrice = 100.2
		opp.VolumeAvailable = 60 // 6k notional, below the 10k floor
		opp.Confidence = 0.95
		assert.False(t, m.Approve(ctx, opp))

		opp.VolumeAvailable = 150 // 15k notional
		assert.True(t, m.Approve(ctx, opp))

		opp.Confidence = 0.9 // boundary is exclusive
		assert.False(t, m.Approve(ctx, opp))
	})
}

func TestManager_RecordSettlement(t *testing.T) {
	t.Run("derived metrics", func(t *testing.T) {
		m := testManager(testLimits(), nil)
		m.RecordSettlement(settledExec(10))
		m.RecordSettlement(settledExec(-5))
		m.RecordSettlement(settledExec(20))

		metrics := m.Metrics()
		assert.Equal(t, 3, metrics.DailyTrades)
		assert.InDelta(t, 25.0, metrics.DailyPnL, 1e-9)
		assert.InDelta(t, 2.0/3.0, metrics.WinRate, 1e-9)
		assert.InDelta(t, 15.0, metrics.AvgWin, 1e-9)
		assert.InDelta(t, 5.0, metrics.AvgLoss, 1e-9)
		// Cumulative PnL peaks at 10, troughs at 5.
		assert.InDelta(t, 5.0, metrics.MaxDrawdown, 1e-9)
		assert.Greater(t, metrics.SharpeRatio, 0.0)
	})

	t.Run("non-terminal executions ignored", func(t *testing.T) {
		m := testManager(testLimits(), nil)
		exec := settledExec(10)
		exec.Status = domain.ExecExecuting
		m.RecordSettlement(exec)

		assert.Equal(t, 0, m.Metrics().DailyTrades)
	})

	t.Run("partial fill leaves open exposure", func(t *testing.T) {
		m := testManager(testLimits(), nil)
		exec := settledExec(-50)
		exec.Status = domain.ExecPartial
		exec.BuyOrder = &domain.Order{
			FilledQuantity: 1,
			AveragePrice:   50_000,
			Status:         domain.OrderStatusFilled,
		}
		exec.SellOrder = &domain.Order{Status: domain.OrderStatusCancelled}
		m.RecordSettlement(exec)

		metrics := m.Metrics()
		assert.InDelta(t, 50_000.0, metrics.CurrentPosition, 1e-9)

		// The remaining headroom is 50k; a 60k opportunity no longer fits.
		opp := approvableOpp()
		opp.VolumeAvailable = 1.2 // 60k notional
		assert.False(t, m.Approve(context.Background(), opp))
	})

	t.Run("history window bounds the metrics", func(t *testing.T) {
		m := testManager(testLimits(), nil)
		m.historyWindow = 2
		m.RecordSettlement(settledExec(-100))
		m.RecordSettlement(settledExec(10))
		m.RecordSettlement(settledExec(10))

		// Only the last two settlements remain in the window.
		assert.InDelta(t, 1.0, m.Metrics().WinRate, 1e-9)
	})
}
