// Package scanner computes arbitrage opportunities from the price cache:
// pairwise venue comparison per symbol, confidence and risk scoring, and the
// producer side of the ranked opportunity queue.
package scanner

import (
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/crossarb/crossarb/internal/domain"
)

// Config holds the scanner filter parameters.
type Config struct {
	MinSpreadPct  float64
	MaxSpreadPct  float64
	MinVolume     float64
	MinConfidence float64
	MaxRiskScore  float64
	StaleQuoteAge time.Duration
	ThinVolume    float64
}

// refDeviationThreshold is the cross-venue price disagreement beyond which an
// opportunity's confidence is discounted.
const refDeviationThreshold = 0.05

// defaultVenueLatency is assumed for venues without a configured base latency.
const defaultVenueLatency = 500 * time.Millisecond

// execEstimateFactor scales the latency sum into an execution-time estimate.
const execEstimateFactor = 1.5

// VenueInfo is the static per-venue data the scoring heuristics need.
type VenueInfo struct {
	Tier        int // 1 marks a top-tier venue
	BaseLatency time.Duration
}

// Scanner detects opportunities for one scan cycle at a time. It holds no
// mutable state; the queue owns the produced opportunities.
type Scanner struct {
	cfg    Config
	venues map[string]VenueInfo
	logger *slog.Logger
}

// New creates a Scanner. venues maps venue names to their tier and latency.
func New(cfg Config, venues map[string]VenueInfo, logger *slog.Logger) *Scanner {
	return &Scanner{
		cfg:    cfg,
		venues: venues,
		logger: logger.With(slog.String("component", "scanner")),
	}
}

// Scan takes the latest quotes for one symbol and returns the accepted
// opportunities ranked by gross profit, best first. Both legs always derive
// from exchange-tagged quotes; alternative-source quotes only feed the
// reference aggregate used for the confidence discount.
func (s *Scanner) Scan(symbol string, quotes []domain.Quote, now time.Time) []domain.Opportunity {
	var exchange []domain.Quote
	var refSum float64
	var refCount int
	for _, q := range quotes {
		if q.Price > 0 {
			refSum += q.Price
			refCount++
		}
		if q.Source == domain.SourceExchange {
			exchange = append(exchange, q)
		}
	}
	if len(exchange) < 2 {
		return nil
	}

	reference := 0.0
	if refCount > 0 {
		reference = refSum / float64(refCount)
	}

	sort.Slice(exchange, func(i, j int) bool {
		return exchange[i].Price < exchange[j].Price
	})

	var opps []domain.Opportunity
	for i := 0; i < len(exchange); i++ {
		for j := i + 1; j < len(exchange); j++ {
			buy, sell := exchange[i], exchange[j]

			buyPrice := buy.Ask
			sellPrice := sell.Bid
			if buyPrice <= 0 || sellPrice <= 0 {
				continue
			}

			spread := sellPrice - buyPrice
			spreadPct := spread / buyPrice
			if spreadPct < s.cfg.MinSpreadPct || spreadPct > s.cfg.MaxSpreadPct {
				continue
			}

			volume := math.Min(buy.Volume, sell.Volume)
			if volume < s.cfg.MinVolume {
				continue
			}

			confidence := s.confidence(buy, sell, reference, volume, now)
			riskScore := s.riskScore(spreadPct, volume, buy.Venue, sell.Venue)

			if riskScore > s.cfg.MaxRiskScore || confidence < s.cfg.MinConfidence {
				continue
			}

			opps = append(opps, domain.Opportunity{
				ID:               uuid.NewString(),
				Symbol:           symbol,
				BuyVenue:         buy.Venue,
				SellVenue:        sell.Venue,
				BuyPrice:         buyPrice,
				SellPrice:        sellPrice,
				Spread:           spread,
				SpreadPct:        spreadPct,
				VolumeAvailable:  volume,
				MaxProfit:        spread * volume,
				Confidence:       confidence,
				RiskScore:        riskScore,
				ExecTimeEstimate: s.execEstimate(buy.Venue, sell.Venue),
				CreatedAt:        now,
			})
		}
	}

	sort.Slice(opps, func(i, j int) bool {
		return opps[i].MaxProfit > opps[j].MaxProfit
	})

	if len(opps) > 0 {
		s.logger.Debug("scan produced opportunities",
			slog.String("symbol", symbol),
			slog.Int("count", len(opps)),
		)
	}

	return opps
}

// confidence starts at 1.0 and is discounted multiplicatively: x0.5 when
// either quote is stale, x0.7 when either price disagrees with the reference
// aggregate by more than 5%, x0.8 when the available volume is thin.
func (s *Scanner) confidence(buy, sell domain.Quote, reference, volume float64, now time.Time) float64 {
	confidence := 1.0

	if buy.Age(now) > s.cfg.StaleQuoteAge || sell.Age(now) > s.cfg.StaleQuoteAge {
		confidence *= 0.5
	}

	if reference > 0 {
		buyDev := math.Abs(buy.Price-reference) / reference
		sellDev := math.Abs(sell.Price-reference) / reference
		if buyDev > refDeviationThreshold || sellDev > refDeviationThreshold {
			confidence *= 0.7
		}
	}

	if volume < s.cfg.ThinVolume {
		confidence *= 0.8
	}

	return confidence
}

// riskScore is a weighted sum of three bands: spread size (unusually wide
// spreads are suspect), volume, and a per-leg penalty for non-top-tier
// venues. Clamped to [0,1]. The band constants are hand-picked heuristics.
func (s *Scanner) riskScore(spreadPct, volume float64, buyVenue, sellVenue string) float64 {
	var score float64

	switch {
	case spreadPct > 0.02:
		score += 0.4
	case spreadPct > 0.01:
		score += 0.3
	case spreadPct > 0.005:
		score += 0.2
	default:
		score += 0.1
	}

	switch {
	case volume < 100:
		score += 0.3
	case volume < 1000:
		score += 0.2
	case volume < 5000:
		score += 0.1
	}

	for _, venue := range []string{buyVenue, sellVenue} {
		if s.venues[venue].Tier != 1 {
			score += 0.15
		}
	}

	return math.Min(math.Max(score, 0), 1)
}

// execEstimate is 1.5x the sum of both venues' base latencies; venues with
// no configured latency are assumed to take half a second.
func (s *Scanner) execEstimate(buyVenue, sellVenue string) time.Duration {
	sum := s.venueLatency(buyVenue) + s.venueLatency(sellVenue)
	return time.Duration(execEstimateFactor * float64(sum))
}

func (s *Scanner) venueLatency(venue string) time.Duration {
	if info, ok := s.venues[venue]; ok && info.BaseLatency > 0 {
		return info.BaseLatency
	}
	return defaultVenueLatency
}
