package domain

import "time"

// RiskLimits is the static risk configuration. It is read-only at runtime.
type RiskLimits struct {
	MaxPositionSize  float64 // max notional per trade and position cap
	MaxDailyLoss     float64 // positive number; trading halts below -MaxDailyLoss
	MaxDailyTrades   int
	MinSpreadPct     float64
	MaxSpreadPct     float64
	MinConfidence    float64
	MaxRiskScore     float64
	MaxExecutionTime time.Duration
	MinLiquidity     float64 // minimum opportunity volume, units
	MaxVolatility    float64 // trailing stdev/mean ceiling
	MaxTrendSlope    float64 // absolute trailing slope ceiling
}

// RiskMetrics is the mutable rolling state recomputed from the trade history
// window. The risk manager is its only writer; Day marks the UTC day the
// daily counters belong to.
type RiskMetrics struct {
	DailyPnL        float64
	DailyTrades     int
	CurrentPosition float64 // open notional exposure
	WinRate         float64
	AvgWin          float64
	AvgLoss         float64
	Volatility      float64 // population stdev of per-trade PnL
	SharpeRatio     float64 // mean / stdev of per-trade PnL
	MaxDrawdown     float64 // peak-to-trough on cumulative PnL, positive
	Day             time.Time
}

// TradeOutcome is one settled trade in the rolling history window.
type TradeOutcome struct {
	NetProfit float64
	SettledAt time.Time
}
