package domain

import "time"

// OrderSide indicates whether this is a buy or sell.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// OrderType is the order pricing policy.
type OrderType string

const (
	OrderTypeMarket OrderType = "market"
	OrderTypeLimit  OrderType = "limit"
)

// OrderStatus tracks the order lifecycle as reported by a venue.
type OrderStatus string

const (
	OrderStatusPending         OrderStatus = "pending"
	OrderStatusOpen            OrderStatus = "open"
	OrderStatusFilled          OrderStatus = "filled"
	OrderStatusPartiallyFilled OrderStatus = "partially_filled"
	OrderStatusCancelled       OrderStatus = "cancelled"
	OrderStatusRejected        OrderStatus = "rejected"
)

// Terminal reports whether the venue will make no further state changes.
func (s OrderStatus) Terminal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusCancelled, OrderStatusRejected:
		return true
	default:
		return false
	}
}

// OrderRequest is the typed placement request passed to a VenueConnector.
// Price is ignored for market orders.
type OrderRequest struct {
	Symbol   string
	Side     OrderSide
	Type     OrderType
	Quantity float64
	Price    float64
}

// Order is one leg of an execution as accepted by a venue.
type Order struct {
	ID             string
	Venue          string
	Symbol         string
	Side           OrderSide
	Type           OrderType
	Quantity       float64
	Price          float64
	FilledQuantity float64
	AveragePrice   float64
	Status         OrderStatus
	CreatedAt      time.Time
}

// ExecStatus is the execution state. Transitions are one-directional:
// pending -> executing -> {completed|partial|failed}, with cancelled reachable
// from executing on engine shutdown.
type ExecStatus string

const (
	ExecPending   ExecStatus = "pending"
	ExecExecuting ExecStatus = "executing"
	ExecCompleted ExecStatus = "completed"
	ExecPartial   ExecStatus = "partial"
	ExecFailed    ExecStatus = "failed"
	ExecCancelled ExecStatus = "cancelled"
)

// Terminal reports whether the execution has settled.
func (s ExecStatus) Terminal() bool {
	switch s {
	case ExecCompleted, ExecPartial, ExecFailed, ExecCancelled:
		return true
	default:
		return false
	}
}

// Execution records one paired buy/sell attempt against an opportunity,
// including the realized outcome after settlement.
type Execution struct {
	ID            string
	Opportunity   Opportunity
	BuyOrder      *Order
	SellOrder     *Order
	Status        ExecStatus
	ActualProfit  float64
	FeesPaid      float64
	NetProfit     float64
	ExecutionTime time.Duration
	SettledAt     time.Time
}
