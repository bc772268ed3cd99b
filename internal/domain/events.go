package domain

import "time"

// Event channel names on the signal bus.
const (
	ChannelOpportunities = "opportunities"
	ChannelExecutions    = "executions"
	ChannelAnomalies     = "anomalies"
	ChannelRiskBreaches  = "risk_breaches"
)

// AnomalyKind classifies a price-monitor alert.
type AnomalyKind string

const (
	AnomalyPriceDeviation AnomalyKind = "price_deviation"
	AnomalyVolumeSpike    AnomalyKind = "volume_spike"
)

// OpportunityEvent is published when the scanner accepts an opportunity.
type OpportunityEvent struct {
	Event      string    `json:"event"` // "opportunity_found"
	ID         string    `json:"id"`
	Symbol     string    `json:"symbol"`
	BuyVenue   string    `json:"buy_venue"`
	SellVenue  string    `json:"sell_venue"`
	SpreadPct  float64   `json:"spread_pct"`
	MaxProfit  float64   `json:"max_profit"`
	Confidence float64   `json:"confidence"`
	RiskScore  float64   `json:"risk_score"`
	Timestamp  time.Time `json:"timestamp"`
}

// SettlementEvent is published when an execution reaches a terminal state.
type SettlementEvent struct {
	Event         string    `json:"event"` // "execution_settled"
	ID            string    `json:"id"`
	Symbol        string    `json:"symbol"`
	Status        string    `json:"status"`
	ActualProfit  float64   `json:"actual_profit"`
	FeesPaid      float64   `json:"fees_paid"`
	NetProfit     float64   `json:"net_profit"`
	ExecutionMs   int64     `json:"execution_ms"`
	Timestamp     time.Time `json:"timestamp"`
}

// AnomalyEvent is an informational price or volume alert from the monitor.
type AnomalyEvent struct {
	Event     string      `json:"event"` // "anomaly"
	Kind      AnomalyKind `json:"kind"`
	Symbol    string      `json:"symbol"`
	Venue     string      `json:"venue"`
	Value     float64     `json:"value"`     // observed price or volume
	Reference float64     `json:"reference"` // cross-venue mean or trailing average
	Deviation float64     `json:"deviation"` // fractional deviation from reference
	Timestamp time.Time   `json:"timestamp"`
}

// RiskBreachEvent records a failed risk check. Breaches drop the opportunity
// but are never fatal.
type RiskBreachEvent struct {
	Event         string    `json:"event"` // "risk_breach"
	OpportunityID string    `json:"opportunity_id"`
	Symbol        string    `json:"symbol"`
	Check         string    `json:"check"`
	Value         float64   `json:"value"`
	Limit         float64   `json:"limit"`
	Timestamp     time.Time `json:"timestamp"`
}

// StreamMessage is one durable entry read back from an event stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}
