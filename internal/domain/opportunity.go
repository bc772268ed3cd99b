package domain

import "time"

// Opportunity is a detected buy-low/sell-high spread between two venues.
// It is immutable once created by the scanner and consumed at most once by
// the execution loop.
type Opportunity struct {
	ID               string
	Symbol           string
	BuyVenue         string
	SellVenue        string
	BuyPrice         float64 // ask on the buy venue
	SellPrice        float64 // bid on the sell venue
	Spread           float64
	SpreadPct        float64
	VolumeAvailable  float64 // min(buy leg volume, sell leg volume)
	MaxProfit        float64 // spread * volume available, gross
	Confidence       float64 // [0,1] freshness/agreement discount
	RiskScore        float64 // [0,1] spread/volume/venue-tier composite
	ExecTimeEstimate time.Duration
	CreatedAt        time.Time
}

// Age returns how long ago the opportunity was created.
func (o Opportunity) Age(now time.Time) time.Duration {
	return now.Sub(o.CreatedAt)
}

// Notional is the buy-side notional at the full available volume.
func (o Opportunity) Notional() float64 {
	return o.BuyPrice * o.VolumeAvailable
}
