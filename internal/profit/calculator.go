// Package profit contains the fee-aware profit model used pre-trade for
// sizing and post-trade for performance analysis. All functions are pure
// reads over the static fee table.
package profit

import (
	"math"
	"sort"

	"github.com/crossarb/crossarb/internal/domain"
)

// Calculator evaluates opportunities against the per-venue fee schedules and
// the per-symbol volatility factors.
type Calculator struct {
	fees             domain.FeeTable
	volFactors       map[string]float64
	defaultVolFactor float64
}

// New creates a Calculator. volFactors maps symbols to their volatility
// factor; symbols without an entry use defaultVolFactor.
func New(fees domain.FeeTable, volFactors map[string]float64, defaultVolFactor float64) *Calculator {
	if defaultVolFactor <= 0 {
		defaultVolFactor = 0.8
	}
	return &Calculator{
		fees:             fees,
		volFactors:       volFactors,
		defaultVolFactor: defaultVolFactor,
	}
}

// Gross is the spread profit at the given quantity before any fees.
func (c *Calculator) Gross(opp domain.Opportunity, quantity float64) float64 {
	return (opp.SellPrice - opp.BuyPrice) * quantity
}

// Fees is the total cost of both legs at the given quantity: taker fees on
// each leg's notional plus both venues' fixed withdrawal fees.
func (c *Calculator) Fees(opp domain.Opportunity, quantity float64) float64 {
	buyFees := c.fees.Lookup(opp.BuyVenue)
	sellFees := c.fees.Lookup(opp.SellVenue)

	variable := buyFees.TakerFee*opp.BuyPrice*quantity + sellFees.TakerFee*opp.SellPrice*quantity
	fixed := buyFees.WithdrawalFee + sellFees.WithdrawalFee
	return variable + fixed
}

// ExpectedProfit is the net profit at the given quantity: gross spread minus
// both legs' fees.
func (c *Calculator) ExpectedProfit(opp domain.Opportunity, quantity float64) float64 {
	return c.Gross(opp, quantity) - c.Fees(opp, quantity)
}

// OptimalQuantity sizes an order under an investment cap, discounted by risk
// and confidence.
func (c *Calculator) OptimalQuantity(opp domain.Opportunity, maxInvestment float64) float64 {
	if opp.BuyPrice <= 0 {
		return 0
	}
	base := math.Min(maxInvestment/opp.BuyPrice, opp.VolumeAvailable)
	q := base * (1 - opp.RiskScore) * opp.Confidence
	if q < 0 {
		return 0
	}
	return q
}

// BreakevenQuantity is the smallest quantity at which the net-of-variable-fee
// spread covers the fixed withdrawal fees. Returns +Inf when the fee-adjusted
// spread is non-positive, meaning the opportunity is not tradable at any size.
func (c *Calculator) BreakevenQuantity(opp domain.Opportunity) float64 {
	buyFees := c.fees.Lookup(opp.BuyVenue)
	sellFees := c.fees.Lookup(opp.SellVenue)

	perUnit := (opp.SellPrice - opp.BuyPrice) - buyFees.TakerFee*opp.BuyPrice - sellFees.TakerFee*opp.SellPrice
	if perUnit <= 0 {
		return math.Inf(1)
	}

	fixed := buyFees.WithdrawalFee + sellFees.WithdrawalFee
	return fixed / perUnit
}

// RiskAdjustedProfit discounts the expected net profit by the opportunity's
// risk, confidence, and the symbol's volatility factor. Returns the expected
// value and the implied success probability.
func (c *Calculator) RiskAdjustedProfit(opp domain.Opportunity, quantity float64) (expected, successProb float64) {
	factor := c.defaultVolFactor
	if f, ok := c.volFactors[opp.Symbol]; ok && f > 0 {
		factor = f
	}

	successProb = (1 - opp.RiskScore) * opp.Confidence * factor
	successProb = math.Min(math.Max(successProb, 0), 1)

	return c.ExpectedProfit(opp, quantity) * successProb, successProb
}

// PortfolioEntry is one opportunity's share of a portfolio evaluation.
type PortfolioEntry struct {
	Opportunity domain.Opportunity
	Quantity    float64
	Invested    float64
	NetProfit   float64
	ROI         float64
}

// PortfolioReport aggregates a batch of opportunities under an equal-split
// investment budget.
type PortfolioReport struct {
	Entries         []PortfolioEntry // ranked by net profit, best first
	TotalProfit     float64
	AvgROI          float64
	Diversification float64 // distinct venues used / (2 x opportunities used)
}

// Portfolio evaluates a batch of opportunities under an equal split of the
// budget, ranks them by net profit, and reports aggregate P&L, average ROI,
// and a venue diversification score.
func (c *Calculator) Portfolio(opps []domain.Opportunity, budget float64) PortfolioReport {
	if len(opps) == 0 || budget <= 0 {
		return PortfolioReport{}
	}

	allocation := budget / float64(len(opps))
	venues := make(map[string]struct{})
	var report PortfolioReport

	for _, opp := range opps {
		quantity := math.Min(allocation/opp.BuyPrice, opp.VolumeAvailable)
		if quantity <= 0 {
			continue
		}

		invested := opp.BuyPrice * quantity
		net := c.ExpectedProfit(opp, quantity)

		roi := 0.0
		if invested > 0 {
			roi = net / invested
		}

		report.Entries = append(report.Entries, PortfolioEntry{
			Opportunity: opp,
			Quantity:    quantity,
			Invested:    invested,
			NetProfit:   net,
			ROI:         roi,
		})
		report.TotalProfit += net
		venues[opp.BuyVenue] = struct{}{}
		venues[opp.SellVenue] = struct{}{}
	}

	if len(report.Entries) == 0 {
		return report
	}

	sort.Slice(report.Entries, func(i, j int) bool {
		return report.Entries[i].NetProfit > report.Entries[j].NetProfit
	})

	var roiSum float64
	for _, e := range report.Entries {
		roiSum += e.ROI
	}
	report.AvgROI = roiSum / float64(len(report.Entries))
	report.Diversification = float64(len(venues)) / (2 * float64(len(report.Entries)))

	return report
}
