package domain

import (
	"context"
	"time"
)

// Ticker is the raw best-bid/ask snapshot returned by a venue or data source.
type Ticker struct {
	Price     float64
	Bid       float64
	Ask       float64
	Volume    float64
	Timestamp time.Time
}

// VenueConnector is the per-exchange capability consumed by the price monitor
// and the execution engine. Implementations live in internal/venue; each one
// wraps a single exchange integration.
type VenueConnector interface {
	// Name returns the venue identifier, e.g. "binance".
	Name() string

	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	IsConnected() bool

	// GetTicker returns the current best bid/ask and volume for a symbol.
	// Fails with ErrNotConnected or ErrTimeout.
	GetTicker(ctx context.Context, symbol string) (Ticker, error)

	// PlaceOrder submits an order and returns the venue's view of it.
	// Fails with ErrRejected, ErrTimeout, or ErrRateLimited.
	PlaceOrder(ctx context.Context, req OrderRequest) (Order, error)

	// CancelOrder cancels an open order. Cancelling an already-terminal
	// order is not an error.
	CancelOrder(ctx context.Context, orderID, symbol string) error

	// GetOrderStatus returns the current lifecycle state of an order.
	GetOrderStatus(ctx context.Context, orderID, symbol string) (OrderStatus, error)
}

// DataSource is a read-only alternate price source. Its quotes are tagged
// SourceAlternative and are used for cross-checking confidence only, never
// as a tradable leg.
type DataSource interface {
	Name() string
	GetQuote(ctx context.Context, symbol string) (Ticker, error)
}
