package executor

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crossarb/crossarb/internal/domain"
)

// stubVenue scripts placement and status behaviour per test.
type stubVenue struct {
	name      string
	connected bool

	mu        sync.Mutex
	placed    []domain.OrderRequest
	cancelled []string

	placeFn  func(req domain.OrderRequest) (domain.Order, error)
	statusFn func(orderID string) (domain.OrderStatus, error)
}

func (s *stubVenue) Name() string                         { return s.name }
func (s *stubVenue) Connect(ctx context.Context) error    { s.connected = true; return nil }
func (s *stubVenue) Disconnect(ctx context.Context) error { s.connected = false; return nil }
func (s *stubVenue) IsConnected() bool                    { return s.connected }

func (s *stubVenue) GetTicker(ctx context.Context, symbol string) (domain.Ticker, error) {
	return domain.Ticker{}, domain.ErrNotFound
}

func (s *stubVenue) PlaceOrder(ctx context.Context, req domain.OrderRequest) (domain.Order, error) {
	s.mu.Lock()
	s.placed = append(s.placed, req)
	s.mu.Unlock()
	return s.placeFn(req)
}

func (s *stubVenue) CancelOrder(ctx context.Context, orderID, symbol string) error {
	s.mu.Lock()
	s.cancelled = append(s.cancelled, orderID)
	s.mu.Unlock()
	return nil
}

func (s *stubVenue) GetOrderStatus(ctx context.Context, orderID, symbol string) (domain.OrderStatus, error) {
	if s.statusFn != nil {
		return s.statusFn(orderID)
	}
	return domain.OrderStatusFilled, nil
}

func (s *stubVenue) placedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.placed)
}

func (s *stubVenue) cancelCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.cancelled)
}

// fillingVenue returns a stub whose orders fill instantly at the given price.
func fillingVenue(name string, fillPrice float64) *stubVenue {
	return &stubVenue{
		name:      name,
		connected: true,
		placeFn: func(req domain.OrderRequest) (domain.Order, error) {
			return domain.Order{
				ID:             uuid.NewString(),
				Venue:          name,
				Symbol:         req.Symbol,
				Side:           req.Side,
				Type:           req.Type,
				Quantity:       req.Quantity,
				FilledQuantity: req.Quantity,
				AveragePrice:   fillPrice,
				Status:         domain.OrderStatusFilled,
				CreatedAt:      time.Now(),
			}, nil
		},
	}
}

// stuckVenue returns a stub whose orders are accepted but never fill.
func stuckVenue(name string) *stubVenue {
	return &stubVenue{
		name:      name,
		connected: true,
		placeFn: func(req domain.OrderRequest) (domain.Order, error) {
			return domain.Order{
				ID:       uuid.NewString(),
				Venue:    name,
				Symbol:   req.Symbol,
				Side:     req.Side,
				Quantity: req.Quantity,
				Status:   domain.OrderStatusOpen,
			}, nil
		},
		statusFn: func(orderID string) (domain.OrderStatus, error) {
			return domain.OrderStatusOpen, nil
		},
	}
}

type fakeRecorder struct {
	mu      sync.Mutex
	settled []domain.Execution
}

func (f *fakeRecorder) RecordSettlement(exec domain.Execution) {
	f.mu.Lock()
	f.settled = append(f.settled, exec)
	f.mu.Unlock()
}

func (f *fakeRecorder) last() (domain.Execution, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.settled) == 0 {
		return domain.Execution{}, false
	}
	return f.settled[len(f.settled)-1], true
}

func testConfig() Config {
	return Config{
		MaxOrderSize:     10,
		MinOrderVolume:   0.001,
		RetryAttempts:    2,
		RetryDelay:       time.Millisecond,
		PollInterval:     5 * time.Millisecond,
		MaxExecutionTime: time.Second,
		MaxFreshness:     30 * time.Second,
	}
}

func testExecutor(cfg Config, buy, sell *stubVenue, recorder *fakeRecorder) *Executor {
	return New(cfg, Dependencies{
		Venues: map[string]domain.VenueConnector{
			buy.name:  buy,
			sell.name: sell,
		},
		Fees: domain.FeeTable{
			buy.name:  {TakerFee: 0.001},
			sell.name: {TakerFee: 0.001},
		},
		Risk:   recorder,
		Logger: slog.New(slog.NewJSONHandler(os.Stdout, nil)),
	})
}

func testOpp() domain.Opportunity {
	return domain.Opportunity{
		ID:              "opp-1",
		Symbol:          "BTC/USDT",
		BuyVenue:        "alpha",
		SellVenue:       "beta",
		BuyPrice:        50_000,
		SellPrice:       50_100,
		Spread:          100,
		SpreadPct:       0.002,
		VolumeAvailable: 1,
		Confidence:      1.0,
		RiskScore:       0,
		CreatedAt:       time.Now(),
	}
}

func TestExecutor_Execute_Completed(t *testing.T) {
	buy := fillingVenue("alpha", 50_000)
	sell := fillingVenue("beta", 50_100)
	recorder := &fakeRecorder{}
	ex := testExecutor(testConfig(), buy, sell, recorder)

	exec, err := ex.Execute(context.Background(), testOpp())
	require.NoError(t, err)

	assert.Equal(t, domain.ExecCompleted, exec.Status)
	require.NotNil(t, exec.BuyOrder)
	require.NotNil(t, exec.SellOrder)
	assert.Equal(t, 1.0, exec.BuyOrder.FilledQuantity)
	assert.Equal(t, 1.0, exec.SellOrder.FilledQuantity)

	// Gross 100, fees 0.1% of each leg's notional: the spread does not cover
	// the round trip.
	assert.InDelta(t, 100.0, exec.ActualProfit, 1e-9)
	assert.InDelta(t, 100.1, exec.FeesPaid, 1e-9)
	assert.InDelta(t, -0.1, exec.NetProfit, 1e-9)

	settled, ok := recorder.last()
	require.True(t, ok)
	assert.Equal(t, exec.ID, settled.ID)
	assert.Equal(t, domain.ExecCompleted, settled.Status)
}

func TestExecutor_Execute_FailFast(t *testing.T) {
	t.Run("stale opportunity", func(t *testing.T) {
		buy := fillingVenue("alpha", 50_000)
		sell := fillingVenue("beta", 50_100)
		recorder := &fakeRecorder{}
		ex := testExecutor(testConfig(), buy, sell, recorder)

		opp := testOpp()
		opp.CreatedAt = time.Now().Add(-time.Minute)

		exec, err := ex.Execute(context.Background(), opp)
		require.ErrorIs(t, err, domain.ErrStaleOpportunity)
		assert.Equal(t, domain.ExecFailed, exec.Status)
		assert.Zero(t, buy.placedCount())
		assert.Zero(t, sell.placedCount())

		// Even failed executions settle through the risk manager.
		settled, ok := recorder.last()
		require.True(t, ok)
		assert.Equal(t, domain.ExecFailed, settled.Status)
	})

	t.Run("inverted spread", func(t *testing.T) {
		buy := fillingVenue("alpha", 50_000)
		sell := fillingVenue("beta", 50_100)
		ex := testExecutor(testConfig(), buy, sell, &fakeRecorder{})

		opp := testOpp()
		opp.SellPrice = opp.BuyPrice - 1

		exec, err := ex.Execute(context.Background(), opp)
		require.ErrorIs(t, err, domain.ErrInvalidOrder)
		assert.Equal(t, domain.ExecFailed, exec.Status)
		assert.Zero(t, buy.placedCount())
	})

	t.Run("disconnected venue", func(t *testing.T) {
		buy := fillingVenue("alpha", 50_000)
		sell := fillingVenue("beta", 50_100)
		sell.connected = false
		ex := testExecutor(testConfig(), buy, sell, &fakeRecorder{})

		exec, err := ex.Execute(context.Background(), testOpp())
		require.ErrorIs(t, err, domain.ErrNotConnected)
		assert.Equal(t, domain.ExecFailed, exec.Status)
	})

	t.Run("volume below floor", func(t *testing.T) {
		buy := fillingVenue("alpha", 50_000)
		sell := fillingVenue("beta", 50_100)
		ex := testExecutor(testConfig(), buy, sell, &fakeRecorder{})

		opp := testOpp()
		opp.VolumeAvailable = 0.0001

		exec, err := ex.Execute(context.Background(), opp)
		require.ErrorIs(t, err, domain.ErrInvalidOrder)
		assert.Equal(t, domain.ExecFailed, exec.Status)
	})
}

func TestExecutor_Execute_PlacementFailure(t *testing.T) {
	buy := stuckVenue("alpha")
	sell := &stubVenue{
		name:      "beta",
		connected: true,
		placeFn: func(req domain.OrderRequest) (domain.Order, error) {
			return domain.Order{}, domain.ErrRejected
		},
	}
	recorder := &fakeRecorder{}
	ex := testExecutor(testConfig(), buy, sell, recorder)

	exec, err := ex.Execute(context.Background(), testOpp())
	require.ErrorIs(t, err, domain.ErrRejected)
	assert.Equal(t, domain.ExecFailed, exec.Status)

	// The rejected leg was retried, the surviving leg was unwound.
	assert.Equal(t, 2, sell.placedCount())
	assert.Equal(t, 1, buy.cancelCount())
	require.NotNil(t, exec.BuyOrder)
	assert.Equal(t, domain.OrderStatusCancelled, exec.BuyOrder.Status)
}

func TestExecutor_Execute_Timeout(t *testing.T) {
	buy := fillingVenue("alpha", 50_000)
	sell := stuckVenue("beta")
	recorder := &fakeRecorder{}

	cfg := testConfig()
	cfg.MaxExecutionTime = 25 * time.Millisecond
	cfg.PollInterval = 5 * time.Millisecond
	ex := testExecutor(cfg, buy, sell, recorder)

	exec, err := ex.Execute(context.Background(), testOpp())
	require.NoError(t, err)

	// One leg filled, the other never did: the execution is partial, never
	// completed, and the stuck leg is cancelled.
	assert.Equal(t, domain.ExecPartial, exec.Status)
	assert.Equal(t, 1, sell.cancelCount())
	require.NotNil(t, exec.SellOrder)
	assert.Equal(t, domain.OrderStatusCancelled, exec.SellOrder.Status)

	// No matched quantity, so no realized profit — but the filled buy leg
	// still paid its taker fee: 0.001 x 50000 x 1.
	assert.Zero(t, exec.ActualProfit)
	assert.InDelta(t, 50.0, exec.FeesPaid, 1e-9)
	assert.InDelta(t, -50.0, exec.NetProfit, 1e-9)

	settled, ok := recorder.last()
	require.True(t, ok)
	assert.Equal(t, domain.ExecPartial, settled.Status)
	assert.InDelta(t, -50.0, settled.NetProfit, 1e-9)
}

func TestExecutor_Execute_Shutdown(t *testing.T) {
	buy := stuckVenue("alpha")
	sell := stuckVenue("beta")
	recorder := &fakeRecorder{}

	cfg := testConfig()
	cfg.MaxExecutionTime = 10 * time.Second
	ex := testExecutor(cfg, buy, sell, recorder)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	exec, err := ex.Execute(ctx, testOpp())
	require.NoError(t, err)

	assert.Equal(t, domain.ExecCancelled, exec.Status)
	// Cancellation still runs after shutdown.
	assert.Equal(t, 1, buy.cancelCount())
	assert.Equal(t, 1, sell.cancelCount())
}

func TestExecutor_Execute_ShutdownDuringPlacement(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	buy := stuckVenue("alpha")
	sell := &stubVenue{name: "beta", connected: true}
	sell.placeFn = func(req domain.OrderRequest) (domain.Order, error) {
		<-ctx.Done()
		return domain.Order{}, ctx.Err()
	}
	recorder := &fakeRecorder{}
	ex := testExecutor(testConfig(), buy, sell, recorder)

	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	exec, err := ex.Execute(ctx, testOpp())
	require.ErrorIs(t, err, context.Canceled)

	// A placement aborted by shutdown is cancelled, not failed, and the
	// surviving leg is unwound.
	assert.Equal(t, domain.ExecCancelled, exec.Status)
	assert.Equal(t, 1, buy.cancelCount())

	settled, ok := recorder.last()
	require.True(t, ok)
	assert.Equal(t, domain.ExecCancelled, settled.Status)
}

func TestExecutor_OrderQuantity(t *testing.T) {
	ex := testExecutor(testConfig(), fillingVenue("alpha", 1), fillingVenue("beta", 1), &fakeRecorder{})

	t.Run("discounted by risk and confidence", func(t *testing.T) {
		opp := testOpp()
		opp.VolumeAvailable = 5
		opp.RiskScore = 0.3
		opp.Confidence = 0.9

		// min(5, 10) x 0.7 x 0.9
		assert.InDelta(t, 3.15, ex.orderQuantity(opp), 1e-9)
	})

	t.Run("capped at max order size", func(t *testing.T) {
		opp := testOpp()
		opp.VolumeAvailable = 100

		assert.InDelta(t, 10.0, ex.orderQuantity(opp), 1e-9)
	})

	t.Run("rounded to eight decimals", func(t *testing.T) {
		opp := testOpp()
		opp.VolumeAvailable = 1.0 / 3.0

		q := ex.orderQuantity(opp)
		assert.InDelta(t, 0.33333333, q, 1e-9)
	})
}

func TestExecutor_Execute_RetrySucceeds(t *testing.T) {
	var attempts int
	var mu sync.Mutex
	buy := fillingVenue("alpha", 50_000)
	sell := &stubVenue{
		name:      "beta",
		connected: true,
		statusFn: func(orderID string) (domain.OrderStatus, error) {
			return domain.OrderStatusFilled, nil
		},
	}
	sell.placeFn = func(req domain.OrderRequest) (domain.Order, error) {
		mu.Lock()
		attempts++
		n := attempts
		mu.Unlock()
		if n == 1 {
			return domain.Order{}, domain.ErrRateLimited
		}
		return domain.Order{
			ID:             uuid.NewString(),
			Venue:          "beta",
			Symbol:         req.Symbol,
			Side:           req.Side,
			Quantity:       req.Quantity,
			FilledQuantity: req.Quantity,
			AveragePrice:   50_100,
			Status:         domain.OrderStatusFilled,
		}, nil
	}

	ex := testExecutor(testConfig(), buy, sell, &fakeRecorder{})

	exec, err := ex.Execute(context.Background(), testOpp())
	require.NoError(t, err)
	assert.Equal(t, domain.ExecCompleted, exec.Status)
	assert.Equal(t, 2, sell.placedCount())
}
