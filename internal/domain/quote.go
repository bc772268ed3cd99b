// Package domain contains the core types shared across the arbitrage engine:
// quotes, opportunities, executions, risk limits, fee schedules, and the
// interfaces implemented by the infrastructure layers (venues, caches, stores).
package domain

import "time"

// SourceKind distinguishes tradable exchange quotes from reference-only
// alternative data-source quotes.
type SourceKind string

const (
	SourceExchange    SourceKind = "exchange"
	SourceAlternative SourceKind = "alternative"
)

// Quote is the latest observed market state for a symbol on one venue or
// data source. Quotes are superseded on every refresh.
type Quote struct {
	Symbol     string
	Venue      string
	Price      float64
	Bid        float64
	Ask        float64
	Volume     float64
	ObservedAt time.Time
	Source     SourceKind
}

// Age returns how old the quote is relative to now.
func (q Quote) Age(now time.Time) time.Duration {
	return now.Sub(q.ObservedAt)
}

// Tradable reports whether the quote may be used as an order leg.
// Alternative-source quotes are reference-only.
func (q Quote) Tradable() bool {
	return q.Source == SourceExchange && q.Bid > 0 && q.Ask > 0
}

// BestPrices is the cross-venue best bid and ask for a symbol, taken over
// exchange-tagged quotes only.
type BestPrices struct {
	Symbol    string
	BuyVenue  string  // venue with the lowest ask
	BuyPrice  float64 // lowest ask
	SellVenue string  // venue with the highest bid
	SellPrice float64 // highest bid
}

// Trend summarises recent price movement for a symbol over a window.
type Trend struct {
	Symbol     string
	Slope      float64 // least-squares slope, price units per sample
	Volatility float64 // sample stdev / mean
	Samples    int
}

// PricePoint is one entry in a symbol's bounded price history.
type PricePoint struct {
	Price      float64
	Volume     float64
	Venue      string
	ObservedAt time.Time
}
