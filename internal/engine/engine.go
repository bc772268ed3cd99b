// Package engine supervises the four long-running loops of the pipeline:
// price refresh, opportunity scanning, execution consumption, and the
// periodic statistics/housekeeping pass.
package engine

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/crossarb/crossarb/internal/domain"
	"github.com/crossarb/crossarb/internal/monitor"
	"github.com/crossarb/crossarb/internal/scanner"
)

// archiveInterval bounds how often the housekeeping pass archives old rows.
const archiveInterval = time.Hour

// Config holds the loop periods, the retention window, and the per-trade
// investment cap used for pre-trade valuation.
type Config struct {
	ScanInterval    time.Duration
	ConsumeInterval time.Duration
	StatsInterval   time.Duration
	RetentionDays   int
	MaxInvestment   float64
}

// Approver gates opportunities before execution; implemented by the risk
// manager.
type Approver interface {
	Approve(ctx context.Context, opp domain.Opportunity) bool
	Metrics() domain.RiskMetrics
}

// Trader runs one approved opportunity to settlement; implemented by the
// executor. Nil disables the consumption loop (monitor mode).
type Trader interface {
	Execute(ctx context.Context, opp domain.Opportunity) (domain.Execution, error)
}

// Archiver moves aged rows to blob storage; implemented by the s3 archiver.
// Optional.
type Archiver interface {
	ArchiveOpportunities(ctx context.Context, before time.Time) (int64, error)
	ArchiveExecutions(ctx context.Context, before time.Time) (int64, error)
}

// OpportunityNotifier delivers operator-facing opportunity alerts. Optional.
type OpportunityNotifier interface {
	NotifyOpportunity(ctx context.Context, opp domain.Opportunity) error
}

// ProfitModel values an opportunity pre-trade; implemented by the profit
// calculator. Optional: when nil every approved opportunity is traded.
type ProfitModel interface {
	OptimalQuantity(opp domain.Opportunity, maxInvestment float64) float64
	RiskAdjustedProfit(opp domain.Opportunity, quantity float64) (expected, successProb float64)
}

// Dependencies are the collaborators injected into the Engine.
type Dependencies struct {
	Monitor    *monitor.Monitor
	Scanner    *scanner.Scanner
	Queue      *scanner.Queue
	Risk       Approver
	Trader     Trader
	Opps       domain.OpportunityStore
	Executions domain.ExecutionStore
	Bus        domain.SignalBus
	Notifier   OpportunityNotifier
	Archiver   Archiver
	Profit     ProfitModel
	Logger     *slog.Logger
}

// Engine wires the pipeline together and owns the loop lifetimes.
type Engine struct {
	cfg     Config
	symbols []string

	monitor *monitor.Monitor
	scanner *scanner.Scanner
	queue   *scanner.Queue
	risk    Approver
	trader  Trader
	opps    domain.OpportunityStore
	execs   domain.ExecutionStore
	bus     domain.SignalBus
	notify  OpportunityNotifier
	arch    Archiver
	profit  ProfitModel
	logger  *slog.Logger

	lastArchive time.Time
}

// New creates an Engine for the given symbols.
func New(cfg Config, symbols []string, deps Dependencies) *Engine {
	return &Engine{
		cfg:     cfg,
		symbols: symbols,
		monitor: deps.Monitor,
		scanner: deps.Scanner,
		queue:   deps.Queue,
		risk:    deps.Risk,
		trader:  deps.Trader,
		opps:    deps.Opps,
		execs:   deps.Executions,
		bus:     deps.Bus,
		notify:  deps.Notifier,
		arch:    deps.Archiver,
		profit:  deps.Profit,
		logger:  deps.Logger.With(slog.String("component", "engine")),
	}
}

// Run starts every loop and blocks until the context is cancelled or a loop
// fails. The monitor refresh loop is supervised here alongside the others so
// shutdown tears the whole pipeline down together.
func (e *Engine) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return e.monitor.Run(gctx) })
	g.Go(func() error { return e.scanLoop(gctx) })
	g.Go(func() error { return e.statsLoop(gctx) })
	if e.trader != nil {
		g.Go(func() error { return e.consumeLoop(gctx) })
	}

	err := g.Wait()
	if err != nil && ctx.Err() != nil {
		// Normal shutdown.
		return nil
	}
	return err
}

// scanLoop runs the scanner over every tracked symbol on the scan interval,
// records accepted opportunities, and keeps the queue pruned.
func (e *Engine) scanLoop(ctx context.Context) error {
	ticker := time.NewTicker(e.cfg.ScanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			now := time.Now().UTC()
			for _, symbol := range e.symbols {
				opps := e.scanner.Scan(symbol, e.monitor.Quotes(symbol), now)
				if len(opps) == 0 {
					continue
				}
				e.queue.Push(opps...)
				for _, opp := range opps {
					e.recordOpportunity(ctx, opp)
				}
			}
			e.queue.Prune()
		}
	}
}

// consumeLoop polls the queue head, asks the risk manager for approval at
// dequeue time, and hands approved opportunities to the trader one at a time.
func (e *Engine) consumeLoop(ctx context.Context) error {
	ticker := time.NewTicker(e.cfg.ConsumeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			opp, ok := e.queue.PopBest()
			if !ok {
				continue
			}
			if !e.risk.Approve(ctx, opp) {
				continue
			}
			if !e.worthTrading(ctx, opp) {
				continue
			}

			if _, err := e.trader.Execute(ctx, opp); err != nil {
				e.logger.WarnContext(ctx, "execution failed",
					slog.String("opportunity_id", opp.ID),
					slog.String("symbol", opp.Symbol),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// worthTrading values the opportunity at its investment-capped size and
// rejects it when the fee-adjusted expected profit is not positive.
func (e *Engine) worthTrading(ctx context.Context, opp domain.Opportunity) bool {
	if e.profit == nil {
		return true
	}

	quantity := e.profit.OptimalQuantity(opp, e.cfg.MaxInvestment)
	expected, successProb := e.profit.RiskAdjustedProfit(opp, quantity)
	if quantity <= 0 || expected <= 0 {
		e.logger.InfoContext(ctx, "opportunity skipped on expected value",
			slog.String("opportunity_id", opp.ID),
			slog.String("symbol", opp.Symbol),
			slog.Float64("quantity", quantity),
			slog.Float64("expected_profit", expected),
			slog.Float64("success_prob", successProb),
		)
		return false
	}
	return true
}

// statsLoop logs pipeline statistics and runs housekeeping: pruning and, at
// most hourly, archival of rows past the retention window.
func (e *Engine) statsLoop(ctx context.Context) error {
	ticker := time.NewTicker(e.cfg.StatsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			metrics := e.risk.Metrics()
			e.logger.InfoContext(ctx, "pipeline stats",
				slog.Int("queue_len", e.queue.Len()),
				slog.Int("alerts", len(e.monitor.Alerts())),
				slog.Float64("daily_pnl", metrics.DailyPnL),
				slog.Int("daily_trades", metrics.DailyTrades),
				slog.Float64("win_rate", metrics.WinRate),
				slog.Float64("max_drawdown", metrics.MaxDrawdown),
			)

			e.archive(ctx)
		}
	}
}

// archive uploads and deletes rows older than the retention window, at most
// once per archiveInterval.
func (e *Engine) archive(ctx context.Context) {
	if e.arch == nil || e.cfg.RetentionDays <= 0 {
		return
	}

	now := time.Now().UTC()
	if now.Sub(e.lastArchive) < archiveInterval {
		return
	}
	e.lastArchive = now

	before := now.AddDate(0, 0, -e.cfg.RetentionDays)

	if n, err := e.arch.ArchiveOpportunities(ctx, before); err != nil {
		e.logger.ErrorContext(ctx, "opportunity archive failed", slog.String("error", err.Error()))
	} else if n > 0 {
		if deleted, err := e.opps.DeleteBefore(ctx, before); err != nil {
			e.logger.ErrorContext(ctx, "opportunity cleanup failed", slog.String("error", err.Error()))
		} else {
			e.logger.InfoContext(ctx, "opportunities archived",
				slog.Int64("archived", n),
				slog.Int64("deleted", deleted),
			)
		}
	}

	if n, err := e.arch.ArchiveExecutions(ctx, before); err != nil {
		e.logger.ErrorContext(ctx, "execution archive failed", slog.String("error", err.Error()))
	} else if n > 0 {
		if deleted, err := e.execs.DeleteBefore(ctx, before); err != nil {
			e.logger.ErrorContext(ctx, "execution cleanup failed", slog.String("error", err.Error()))
		} else {
			e.logger.InfoContext(ctx, "executions archived",
				slog.Int64("archived", n),
				slog.Int64("deleted", deleted),
			)
		}
	}
}

// recordOpportunity persists, publishes, and notifies one accepted
// opportunity, all best-effort.
func (e *Engine) recordOpportunity(ctx context.Context, opp domain.Opportunity) {
	if e.opps != nil {
		if err := e.opps.Insert(ctx, opp); err != nil {
			e.logger.WarnContext(ctx, "opportunity persist failed",
				slog.String("opportunity_id", opp.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	if e.bus != nil {
		ev := domain.OpportunityEvent{
			Event:      "opportunity_found",
			ID:         opp.ID,
			Symbol:     opp.Symbol,
			BuyVenue:   opp.BuyVenue,
			SellVenue:  opp.SellVenue,
			SpreadPct:  opp.SpreadPct,
			MaxProfit:  opp.MaxProfit,
			Confidence: opp.Confidence,
			RiskScore:  opp.RiskScore,
			Timestamp:  opp.CreatedAt,
		}
		if payload, err := json.Marshal(ev); err == nil {
			if err := e.bus.Publish(ctx, domain.ChannelOpportunities, payload); err != nil {
				e.logger.WarnContext(ctx, "opportunity publish failed", slog.String("error", err.Error()))
			}
			if err := e.bus.StreamAppend(ctx, domain.ChannelOpportunities, payload); err != nil {
				e.logger.WarnContext(ctx, "opportunity stream append failed", slog.String("error", err.Error()))
			}
		}
	}

	if e.notify != nil {
		if err := e.notify.NotifyOpportunity(ctx, opp); err != nil {
			e.logger.WarnContext(ctx, "opportunity notify failed", slog.String("error", err.Error()))
		}
	}
}
