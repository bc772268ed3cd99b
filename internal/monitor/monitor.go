// Package monitor implements the price cache: it polls every connected venue
// and alternate data source on a fixed interval, keeps the latest quote per
// (symbol, venue) plus a bounded price history per symbol, and emits anomaly
// alerts for price deviations and volume spikes.
package monitor

import (
	"context"
	"encoding/json"
	"log/slog"
	"math"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/crossarb/crossarb/internal/domain"
)

// Config holds the monitor parameters.
type Config struct {
	RefreshInterval    time.Duration
	FetchTimeout       time.Duration
	HistorySize        int
	HistoryMaxAge      time.Duration
	DeviationThreshold float64
	VolumeSpikeFactor  float64
	AlertRetention     time.Duration
}

// minSpikeSamples is how many history points a venue needs before its
// trailing average volume is trusted for spike detection.
const minSpikeSamples = 5

// Dependencies are the collaborators injected into the monitor. Mirror and
// Bus are optional; when nil the corresponding side effects are skipped.
type Dependencies struct {
	Venues  []domain.VenueConnector
	Sources []domain.DataSource
	Mirror  domain.QuoteCache
	Bus     domain.SignalBus
	Logger  *slog.Logger
}

// Monitor is the price cache. The refresh loop is its single writer; readers
// (scanner, risk manager) go through the RWMutex-guarded accessors.
type Monitor struct {
	cfg     Config
	symbols []string
	venues  []domain.VenueConnector
	sources []domain.DataSource
	mirror  domain.QuoteCache
	bus     domain.SignalBus
	logger  *slog.Logger

	mu        sync.RWMutex
	quotes    map[string]map[string]domain.Quote // symbol -> venue/source -> quote
	history   map[string][]domain.PricePoint     // symbol -> bounded ring, oldest first
	alerts    []domain.AnomalyEvent
	lastPrune time.Time
}

// New creates a Monitor for the given symbols.
func New(cfg Config, symbols []string, deps Dependencies) *Monitor {
	return &Monitor{
		cfg:       cfg,
		symbols:   symbols,
		venues:    deps.Venues,
		sources:   deps.Sources,
		mirror:    deps.Mirror,
		bus:       deps.Bus,
		logger:    deps.Logger.With(slog.String("component", "monitor")),
		quotes:    make(map[string]map[string]domain.Quote),
		history:   make(map[string][]domain.PricePoint),
		lastPrune: time.Now().UTC(),
	}
}

// Run refreshes the cache on the configured interval until the context is
// cancelled.
func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.cfg.RefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			m.Refresh(ctx)
		}
	}
}

// Refresh polls every connected venue and configured source concurrently,
// bounded by the per-call fetch timeout. One venue failing never blocks the
// others from updating; failures are logged and skipped.
func (m *Monitor) Refresh(ctx context.Context) {
	g, gctx := errgroup.WithContext(ctx)

	for _, v := range m.venues {
		if !v.IsConnected() {
			continue
		}
		for _, symbol := range m.symbols {
			v, symbol := v, symbol
			g.Go(func() error {
				fetchCtx, cancel := context.WithTimeout(gctx, m.cfg.FetchTimeout)
				defer cancel()

				tick, err := v.GetTicker(fetchCtx, symbol)
				if err != nil {
					m.logger.WarnContext(ctx, "ticker fetch failed",
						slog.String("venue", v.Name()),
						slog.String("symbol", symbol),
						slog.String("error", err.Error()),
					)
					return nil
				}

				m.apply(ctx, domain.Quote{
					Symbol:     symbol,
					Venue:      v.Name(),
					Price:      tick.Price,
					Bid:        tick.Bid,
					Ask:        tick.Ask,
					Volume:     tick.Volume,
					ObservedAt: tick.Timestamp,
					Source:     domain.SourceExchange,
				})
				return nil
			})
		}
	}

	for _, src := range m.sources {
		for _, symbol := range m.symbols {
			src, symbol := src, symbol
			g.Go(func() error {
				fetchCtx, cancel := context.WithTimeout(gctx, m.cfg.FetchTimeout)
				defer cancel()

				tick, err := src.GetQuote(fetchCtx, symbol)
				if err != nil {
					m.logger.WarnContext(ctx, "source fetch failed",
						slog.String("source", src.Name()),
						slog.String("symbol", symbol),
						slog.String("error", err.Error()),
					)
					return nil
				}

				m.apply(ctx, domain.Quote{
					Symbol:     symbol,
					Venue:      src.Name(),
					Price:      tick.Price,
					Bid:        tick.Bid,
					Ask:        tick.Ask,
					Volume:     tick.Volume,
					ObservedAt: tick.Timestamp,
					Source:     domain.SourceAlternative,
				})
				return nil
			})
		}
	}

	// Fetch goroutines only ever return nil.
	_ = g.Wait()

	for _, symbol := range m.symbols {
		m.detectAnomalies(ctx, symbol)
	}
	m.pruneAlerts()
}

// apply stores a fresh quote, appends exchange quotes to the history ring,
// and mirrors the quote to the shared cache.
func (m *Monitor) apply(ctx context.Context, q domain.Quote) {
	m.mu.Lock()
	byVenue, ok := m.quotes[q.Symbol]
	if !ok {
		byVenue = make(map[string]domain.Quote)
		m.quotes[q.Symbol] = byVenue
	}
	byVenue[q.Venue] = q

	if q.Source == domain.SourceExchange {
		m.appendHistory(q)
	}
	m.mu.Unlock()

	if m.mirror != nil {
		if err := m.mirror.SetQuote(ctx, q); err != nil {
			m.logger.WarnContext(ctx, "quote mirror failed",
				slog.String("venue", q.Venue),
				slog.String("symbol", q.Symbol),
				slog.String("error", err.Error()),
			)
		}
	}
}

// appendHistory adds one point to the symbol's ring, evicting by count and
// by age. Caller must hold m.mu.
func (m *Monitor) appendHistory(q domain.Quote) {
	points := append(m.history[q.Symbol], domain.PricePoint{
		Price:      q.Price,
		Volume:     q.Volume,
		Venue:      q.Venue,
		ObservedAt: q.ObservedAt,
	})

	cutoff := time.Now().Add(-m.cfg.HistoryMaxAge)
	start := 0
	for start < len(points) && points[start].ObservedAt.Before(cutoff) {
		start++
	}
	points = points[start:]

	if m.cfg.HistorySize > 0 && len(points) > m.cfg.HistorySize {
		points = points[len(points)-m.cfg.HistorySize:]
	}

	m.history[q.Symbol] = points
}

// Quotes returns a copy of the latest quotes for a symbol, all sources.
func (m *Monitor) Quotes(symbol string) []domain.Quote {
	m.mu.RLock()
	defer m.mu.RUnlock()

	byVenue := m.quotes[symbol]
	quotes := make([]domain.Quote, 0, len(byVenue))
	for _, q := range byVenue {
		quotes = append(quotes, q)
	}
	return quotes
}

// BestPrices returns the lowest ask and highest bid across exchange-tagged
// quotes. Fails with ErrInsufficientVenues when fewer than two distinct
// venues have live tradable quotes.
func (m *Monitor) BestPrices(symbol string) (domain.BestPrices, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	best := domain.BestPrices{Symbol: symbol}
	venues := 0
	for _, q := range m.quotes[symbol] {
		if !q.Tradable() {
			continue
		}
		venues++
		if best.BuyVenue == "" || q.Ask < best.BuyPrice {
			best.BuyVenue = q.Venue
			best.BuyPrice = q.Ask
		}
		if best.SellVenue == "" || q.Bid > best.SellPrice {
			best.SellVenue = q.Venue
			best.SellPrice = q.Bid
		}
	}

	if venues < 2 {
		return domain.BestPrices{}, domain.ErrInsufficientVenues
	}
	return best, nil
}

// PriceTrend computes the least-squares slope and sample volatility
// (stdev/mean) over the symbol's history within the trailing window.
func (m *Monitor) PriceTrend(symbol string, window time.Duration) (domain.Trend, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cutoff := time.Now().Add(-window)
	var prices []float64
	for _, p := range m.history[symbol] {
		if p.ObservedAt.Before(cutoff) {
			continue
		}
		prices = append(prices, p.Price)
	}

	if len(prices) < 2 {
		return domain.Trend{}, domain.ErrNotFound
	}

	// Least squares over sample index.
	n := float64(len(prices))
	var sumX, sumY, sumXY, sumXX float64
	for i, p := range prices {
		x := float64(i)
		sumX += x
		sumY += p
		sumXY += x * p
		sumXX += x * x
	}
	slope := (n*sumXY - sumX*sumY) / (n*sumXX - sumX*sumX)

	mean := sumY / n
	var variance float64
	for _, p := range prices {
		d := p - mean
		variance += d * d
	}
	variance /= n

	volatility := 0.0
	if mean != 0 {
		volatility = math.Sqrt(variance) / mean
	}

	return domain.Trend{
		Symbol:     symbol,
		Slope:      slope,
		Volatility: volatility,
		Samples:    len(prices),
	}, nil
}

// Alerts returns a copy of the retained anomaly alerts.
func (m *Monitor) Alerts() []domain.AnomalyEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.AnomalyEvent, len(m.alerts))
	copy(out, m.alerts)
	return out
}

// detectAnomalies compares each venue's latest exchange quote against the
// cross-venue mean and its trailing average volume, recording informational
// alerts for deviations. Alerts never block the pipeline.
func (m *Monitor) detectAnomalies(ctx context.Context, symbol string) {
	m.mu.Lock()

	var mean float64
	var live []domain.Quote
	for _, q := range m.quotes[symbol] {
		if q.Source != domain.SourceExchange || q.Price <= 0 {
			continue
		}
		live = append(live, q)
		mean += q.Price
	}
	if len(live) < 2 {
		m.mu.Unlock()
		return
	}
	mean /= float64(len(live))

	now := time.Now().UTC()
	var events []domain.AnomalyEvent

	for _, q := range live {
		deviation := math.Abs(q.Price-mean) / mean
		if deviation > m.cfg.DeviationThreshold {
			events = append(events, domain.AnomalyEvent{
				Event:     "anomaly",
				Kind:      domain.AnomalyPriceDeviation,
				Symbol:    symbol,
				Venue:     q.Venue,
				Value:     q.Price,
				Reference: mean,
				Deviation: deviation,
				Timestamp: now,
			})
		}

		if avg, n := m.trailingVolume(symbol, q.Venue); n >= minSpikeSamples && avg > 0 && q.Volume > m.cfg.VolumeSpikeFactor*avg {
			events = append(events, domain.AnomalyEvent{
				Event:     "anomaly",
				Kind:      domain.AnomalyVolumeSpike,
				Symbol:    symbol,
				Venue:     q.Venue,
				Value:     q.Volume,
				Reference: avg,
				Deviation: q.Volume/avg - 1,
				Timestamp: now,
			})
		}
	}

	m.alerts = append(m.alerts, events...)
	m.mu.Unlock()

	for _, ev := range events {
		m.logger.WarnContext(ctx, "anomaly detected",
			slog.String("kind", string(ev.Kind)),
			slog.String("symbol", ev.Symbol),
			slog.String("venue", ev.Venue),
			slog.Float64("value", ev.Value),
			slog.Float64("reference", ev.Reference),
		)
		m.publish(ctx, ev)
	}
}

// trailingVolume averages the history volumes for one (symbol, venue).
// Caller must hold m.mu.
func (m *Monitor) trailingVolume(symbol, venue string) (avg float64, samples int) {
	var sum float64
	for _, p := range m.history[symbol] {
		if p.Venue != venue {
			continue
		}
		sum += p.Volume
		samples++
	}
	if samples == 0 {
		return 0, 0
	}
	return sum / float64(samples), samples
}

// pruneAlerts drops alerts older than the retention window, at most once per
// retention period.
func (m *Monitor) pruneAlerts() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	if now.Sub(m.lastPrune) < m.cfg.AlertRetention {
		return
	}
	m.lastPrune = now

	cutoff := now.Add(-m.cfg.AlertRetention)
	kept := m.alerts[:0]
	for _, a := range m.alerts {
		if a.Timestamp.After(cutoff) {
			kept = append(kept, a)
		}
	}
	m.alerts = kept
}

// publish forwards an anomaly event to the signal bus, best-effort.
func (m *Monitor) publish(ctx context.Context, ev domain.AnomalyEvent) {
	if m.bus == nil {
		return
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		return
	}
	if err := m.bus.Publish(ctx, domain.ChannelAnomalies, payload); err != nil {
		m.logger.WarnContext(ctx, "anomaly publish failed", slog.String("error", err.Error()))
	}
	if err := m.bus.StreamAppend(ctx, domain.ChannelAnomalies, payload); err != nil {
		m.logger.WarnContext(ctx, "anomaly stream append failed", slog.String("error", err.Error()))
	}
}
