package venue

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/crossarb/crossarb/internal/domain"
)

// PaperConfig holds the parameters for a simulated connector.
type PaperConfig struct {
	// Name is the venue identifier.
	Name string

	// Prices maps engine symbols to their base mid price.
	Prices map[string]float64

	// SpreadPct is the simulated bid/ask spread as a fraction of mid.
	SpreadPct float64

	// Volume is the constant 24h volume reported for every symbol.
	Volume float64

	// Drift is the amplitude of the deterministic price oscillation as a
	// fraction of the base price.
	Drift float64

	// FillDelay is how long placed orders stay open before filling. Zero
	// fills immediately.
	FillDelay time.Duration
}

// Paper is a deterministic in-memory connector used for dry runs and tests.
// Prices oscillate around their configured base and every order fills at the
// touch after FillDelay.
type Paper struct {
	cfg PaperConfig

	mu        sync.Mutex
	connected bool
	step      int64
	seq       int64
	orders    map[string]domain.Order
}

// NewPaper creates a simulated connector.
func NewPaper(cfg PaperConfig) *Paper {
	if cfg.SpreadPct == 0 {
		cfg.SpreadPct = 0.0005
	}
	if cfg.Volume == 0 {
		cfg.Volume = 5000
	}
	return &Paper{
		cfg:    cfg,
		orders: make(map[string]domain.Order),
	}
}

// Name returns the venue identifier.
func (p *Paper) Name() string {
	return p.cfg.Name
}

// Connect marks the connector as connected.
func (p *Paper) Connect(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.connected = true
	return nil
}

// Disconnect marks the connector as disconnected.
func (p *Paper) Disconnect(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.connected = false
	return nil
}

// IsConnected reports the connection state.
func (p *Paper) IsConnected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connected
}

// GetTicker returns a deterministic ticker. Each call advances the
// oscillation by one step.
func (p *Paper) GetTicker(ctx context.Context, symbol string) (domain.Ticker, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.connected {
		return domain.Ticker{}, domain.ErrNotConnected
	}

	base, ok := p.cfg.Prices[symbol]
	if !ok {
		return domain.Ticker{}, fmt.Errorf("paper venue %s: symbol %s: %w", p.cfg.Name, symbol, domain.ErrNotFound)
	}

	p.step++
	mid := base * (1 + p.cfg.Drift*math.Sin(float64(p.step)/10))
	half := mid * p.cfg.SpreadPct / 2

	return domain.Ticker{
		Price:     mid,
		Bid:       mid - half,
		Ask:       mid + half,
		Volume:    p.cfg.Volume,
		Timestamp: time.Now().UTC(),
	}, nil
}

// PlaceOrder accepts any valid order and fills it at the current touch
// price after the configured fill delay.
func (p *Paper) PlaceOrder(ctx context.Context, req domain.OrderRequest) (domain.Order, error) {
	if req.Quantity <= 0 {
		return domain.Order{}, fmt.Errorf("paper venue %s: %w: quantity %f", p.cfg.Name, domain.ErrInvalidOrder, req.Quantity)
	}

	tick, err := p.GetTicker(ctx, req.Symbol)
	if err != nil {
		return domain.Order{}, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	fill := tick.Ask
	if req.Side == domain.OrderSideSell {
		fill = tick.Bid
	}
	if req.Type == domain.OrderTypeLimit && req.Price > 0 {
		fill = req.Price
	}

	p.seq++
	order := domain.Order{
		ID:             strconv.FormatInt(p.seq, 10),
		Venue:          p.cfg.Name,
		Symbol:         req.Symbol,
		Side:           req.Side,
		Type:           req.Type,
		Quantity:       req.Quantity,
		Price:          req.Price,
		FilledQuantity: req.Quantity,
		AveragePrice:   fill,
		Status:         domain.OrderStatusFilled,
		CreatedAt:      time.Now().UTC(),
	}
	if p.cfg.FillDelay > 0 {
		order.Status = domain.OrderStatusOpen
	}

	p.orders[order.ID] = order
	return order, nil
}

// CancelOrder cancels an open order. Cancelling a terminal order is a no-op.
func (p *Paper) CancelOrder(ctx context.Context, orderID, symbol string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	order, ok := p.orders[orderID]
	if !ok {
		return fmt.Errorf("paper venue %s: order %s: %w", p.cfg.Name, orderID, domain.ErrNotFound)
	}
	if order.Status.Terminal() {
		return nil
	}

	order.Status = domain.OrderStatusCancelled
	p.orders[orderID] = order
	return nil
}

// GetOrderStatus returns the order state, transitioning open orders to
// filled once the fill delay has elapsed.
func (p *Paper) GetOrderStatus(ctx context.Context, orderID, symbol string) (domain.OrderStatus, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	order, ok := p.orders[orderID]
	if !ok {
		return "", fmt.Errorf("paper venue %s: order %s: %w", p.cfg.Name, orderID, domain.ErrNotFound)
	}

	if order.Status == domain.OrderStatusOpen && time.Since(order.CreatedAt) >= p.cfg.FillDelay {
		order.Status = domain.OrderStatusFilled
		p.orders[orderID] = order
	}

	return order.Status, nil
}
