// Package risk implements the gatekeeper between the scanner and the
// execution engine: static limit checks, dynamic daily counters, and the
// rolling trade-history metrics recomputed from settlements.
package risk

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/crossarb/crossarb/internal/domain"
)

// trendWindow is the trailing window used for the volatility and slope checks.
const trendWindow = 10 * time.Minute

// Liquidity floors for the venue-tier correlation rule, in quote-currency
// notional.
const (
	mixedTierLiquidityFloor  = 5_000
	nonTopTierLiquidityFloor = 10_000
	nonTopTierMinConfidence  = 0.9
)

// TrendSource supplies trailing price trends; implemented by the monitor.
type TrendSource interface {
	PriceTrend(symbol string, window time.Duration) (domain.Trend, error)
}

// BreachNotifier receives operator-facing risk-breach alerts. Optional.
type BreachNotifier interface {
	NotifyRiskBreach(ctx context.Context, symbol, rule, reason string) error
}

// Dependencies are the collaborators injected into the Manager. Bus and
// Notifier are optional.
type Dependencies struct {
	Venues   map[string]domain.VenueConnector
	TopTier  map[string]bool // venue name -> top-tier flag
	Trends   TrendSource
	Bus      domain.SignalBus
	Notifier BreachNotifier
	Logger   *slog.Logger
}

// Manager owns the risk metrics. Approve is a read against the current
// snapshot; RecordSettlement is the sole writer.
type Manager struct {
	limits        domain.RiskLimits
	historyWindow int
	venues        map[string]domain.VenueConnector
	topTier       map[string]bool
	trends        TrendSource
	bus           domain.SignalBus
	notifier      BreachNotifier
	logger        *slog.Logger

	mu      sync.RWMutex
	metrics domain.RiskMetrics
	history []domain.TradeOutcome
}

// New creates a Manager with the given static limits. historyWindow bounds
// the rolling trade history used for the derived metrics.
func New(limits domain.RiskLimits, historyWindow int, deps Dependencies) *Manager {
	return &Manager{
		limits:        limits,
		historyWindow: historyWindow,
		venues:        deps.Venues,
		topTier:       deps.TopTier,
		trends:        deps.Trends,
		bus:           deps.Bus,
		notifier:      deps.Notifier,
		logger:        deps.Logger.With(slog.String("component", "risk")),
		metrics:       domain.RiskMetrics{Day: utcDay(time.Now())},
	}
}

// Approve runs every risk check against the opportunity. All checks must
// pass; the first failure records a structured breach and returns false.
// Approve does not modify the metrics, so repeated calls on unchanged state
// give the same answer.
func (m *Manager) Approve(ctx context.Context, opp domain.Opportunity) bool {
	metrics := m.Metrics()
	notional := opp.Notional()

	// (a) static limits.
	if opp.SpreadPct < m.limits.MinSpreadPct || opp.SpreadPct > m.limits.MaxSpreadPct {
		return m.breach(ctx, opp, "spread_pct", opp.SpreadPct, m.limits.MaxSpreadPct)
	}
	if opp.Confidence < m.limits.MinConfidence {
		return m.breach(ctx, opp, "confidence", opp.Confidence, m.limits.MinConfidence)
	}
	if opp.RiskScore > m.limits.MaxRiskScore {
		return m.breach(ctx, opp, "risk_score", opp.RiskScore, m.limits.MaxRiskScore)
	}
	if opp.ExecTimeEstimate > m.limits.MaxExecutionTime {
		return m.breach(ctx, opp, "exec_time_estimate", opp.ExecTimeEstimate.Seconds(), m.limits.MaxExecutionTime.Seconds())
	}

	// (b) position sizing.
	if notional > m.limits.MaxPositionSize {
		return m.breach(ctx, opp, "position_size", notional, m.limits.MaxPositionSize)
	}
	if metrics.CurrentPosition+notional > m.limits.MaxPositionSize {
		return m.breach(ctx, opp, "open_exposure", metrics.CurrentPosition+notional, m.limits.MaxPositionSize)
	}

	// (c) daily counters.
	if metrics.DailyTrades >= m.limits.MaxDailyTrades {
		return m.breach(ctx, opp, "daily_trades", float64(metrics.DailyTrades), float64(m.limits.MaxDailyTrades))
	}
	if metrics.DailyPnL <= -m.limits.MaxDailyLoss {
		return m.breach(ctx, opp, "daily_loss", metrics.DailyPnL, -m.limits.MaxDailyLoss)
	}

	// (d) connectivity and liquidity.
	for _, venue := range []string{opp.BuyVenue, opp.SellVenue} {
		conn, ok := m.venues[venue]
		if !ok || !conn.IsConnected() {
			return m.breach(ctx, opp, "venue_disconnected", 0, 0)
		}
	}
	if opp.VolumeAvailable < m.limits.MinLiquidity {
		return m.breach(ctx, opp, "liquidity", opp.VolumeAvailable, m.limits.MinLiquidity)
	}

	// (e) trailing volatility and trend. Insufficient history is not a breach.
	if m.trends != nil {
		if trend, err := m.trends.PriceTrend(opp.Symbol, trendWindow); err == nil {
			if trend.Volatility > m.limits.MaxVolatility {
				return m.breach(ctx, opp, "volatility", trend.Volatility, m.limits.MaxVolatility)
			}
			if math.Abs(trend.Slope) > m.limits.MaxTrendSlope {
				return m.breach(ctx, opp, "trend_slope", math.Abs(trend.Slope), m.limits.MaxTrendSlope)
			}
		}
	}

	// (f) venue-tier correlation rule.
	topTierLegs := 0
	for _, venue := range []string{opp.BuyVenue, opp.SellVenue} {
		if m.topTier[venue] {
			topTierLegs++
		}
	}
	switch topTierLegs {
	case 2:
		// Two top-tier venues always pass.
	case 1:
		if notional < mixedTierLiquidityFloor {
			return m.breach(ctx, opp, "tier_liquidity", notional, mixedTierLiquidityFloor)
		}
	default:
		if notional < nonTopTierLiquidityFloor {
			return m.breach(ctx, opp, "tier_liquidity", notional, nonTopTierLiquidityFloor)
		}
		if opp.Confidence <= nonTopTierMinConfidence {
			return m.breach(ctx, opp, "tier_confidence", opp.Confidence, nonTopTierMinConfidence)
		}
	}

	return true
}

// RecordSettlement folds a terminal execution into the daily counters and
// the rolling history, and recomputes the derived metrics. It is the only
// writer of the metrics.
func (m *Manager) RecordSettlement(exec domain.Execution) {
	if !exec.Status.Terminal() {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.rolloverLocked(exec.SettledAt)

	m.metrics.DailyPnL += exec.NetProfit
	m.metrics.DailyTrades++
	m.metrics.CurrentPosition += openExposure(exec)

	m.history = append(m.history, domain.TradeOutcome{
		NetProfit: exec.NetProfit,
		SettledAt: exec.SettledAt,
	})
	if m.historyWindow > 0 && len(m.history) > m.historyWindow {
		m.history = m.history[len(m.history)-m.historyWindow:]
	}

	m.recomputeLocked()
}

// Metrics returns a snapshot of the current metrics, applying the UTC day
// rollover to the dailies if the stored day has passed.
func (m *Manager) Metrics() domain.RiskMetrics {
	m.mu.RLock()
	metrics := m.metrics
	m.mu.RUnlock()

	if day := utcDay(time.Now()); !day.Equal(metrics.Day) {
		metrics.DailyPnL = 0
		metrics.DailyTrades = 0
		metrics.Day = day
	}
	return metrics
}

// rolloverLocked resets the daily counters when the UTC day has changed.
// Caller must hold m.mu.
func (m *Manager) rolloverLocked(now time.Time) {
	day := utcDay(now)
	if day.Equal(m.metrics.Day) {
		return
	}
	m.metrics.DailyPnL = 0
	m.metrics.DailyTrades = 0
	m.metrics.Day = day
}

// recomputeLocked rebuilds the derived metrics from the history window.
// Caller must hold m.mu.
func (m *Manager) recomputeLocked() {
	n := len(m.history)
	if n == 0 {
		return
	}

	var wins, losses int
	var winSum, lossSum, sum float64
	for _, t := range m.history {
		sum += t.NetProfit
		if t.NetProfit > 0 {
			wins++
			winSum += t.NetProfit
		} else if t.NetProfit < 0 {
			losses++
			lossSum += -t.NetProfit
		}
	}

	m.metrics.WinRate = float64(wins) / float64(n)
	if wins > 0 {
		m.metrics.AvgWin = winSum / float64(wins)
	} else {
		m.metrics.AvgWin = 0
	}
	if losses > 0 {
		m.metrics.AvgLoss = lossSum / float64(losses)
	} else {
		m.metrics.AvgLoss = 0
	}

	mean := sum / float64(n)
	var variance float64
	for _, t := range m.history {
		d := t.NetProfit - mean
		variance += d * d
	}
	variance /= float64(n)
	stdev := math.Sqrt(variance)

	m.metrics.Volatility = stdev
	if stdev > 0 {
		m.metrics.SharpeRatio = mean / stdev
	} else {
		m.metrics.SharpeRatio = 0
	}

	// Max drawdown: peak-to-trough on the cumulative PnL curve.
	var cumulative, peak, drawdown float64
	for _, t := range m.history {
		cumulative += t.NetProfit
		if cumulative > peak {
			peak = cumulative
		}
		if dd := peak - cumulative; dd > drawdown {
			drawdown = dd
		}
	}
	m.metrics.MaxDrawdown = drawdown
}

// breach records a failed check: structured log, bus event, and operator
// notification. Always returns false so callers can return it directly.
func (m *Manager) breach(ctx context.Context, opp domain.Opportunity, check string, value, limit float64) bool {
	m.logger.InfoContext(ctx, "opportunity rejected",
		slog.String("opportunity_id", opp.ID),
		slog.String("symbol", opp.Symbol),
		slog.String("check", check),
		slog.Float64("value", value),
		slog.Float64("limit", limit),
	)

	ev := domain.RiskBreachEvent{
		Event:         "risk_breach",
		OpportunityID: opp.ID,
		Symbol:        opp.Symbol,
		Check:         check,
		Value:         value,
		Limit:         limit,
		Timestamp:     time.Now().UTC(),
	}

	if m.bus != nil {
		if payload, err := json.Marshal(ev); err == nil {
			if err := m.bus.Publish(ctx, domain.ChannelRiskBreaches, payload); err != nil {
				m.logger.WarnContext(ctx, "breach publish failed", slog.String("error", err.Error()))
			}
			if err := m.bus.StreamAppend(ctx, domain.ChannelRiskBreaches, payload); err != nil {
				m.logger.WarnContext(ctx, "breach stream append failed", slog.String("error", err.Error()))
			}
		}
	}

	if m.notifier != nil {
		reason := fmt.Sprintf("%.4f against limit %.4f", value, limit)
		if err := m.notifier.NotifyRiskBreach(ctx, opp.Symbol, check, reason); err != nil {
			m.logger.WarnContext(ctx, "breach notify failed", slog.String("error", err.Error()))
		}
	}

	return false
}

// openExposure is the net unhedged notional a settled execution leaves
// behind. A fully completed pair is flat; a partial fill leaves the filled
// imbalance open.
func openExposure(exec domain.Execution) float64 {
	var buyNotional, sellNotional float64
	if exec.BuyOrder != nil {
		buyNotional = exec.BuyOrder.FilledQuantity * exec.BuyOrder.AveragePrice
	}
	if exec.SellOrder != nil {
		sellNotional = exec.SellOrder.FilledQuantity * exec.SellOrder.AveragePrice
	}
	return buyNotional - sellNotional
}

func utcDay(t time.Time) time.Time {
	return t.UTC().Truncate(24 * time.Hour)
}
