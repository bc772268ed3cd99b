package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/crossarb/crossarb/internal/domain"
	"github.com/crossarb/crossarb/internal/engine"
	"github.com/crossarb/crossarb/internal/executor"
	"github.com/crossarb/crossarb/internal/monitor"
	"github.com/crossarb/crossarb/internal/profit"
	"github.com/crossarb/crossarb/internal/risk"
	"github.com/crossarb/crossarb/internal/scanner"
)

// engineLockKey guards against two trading instances running against the
// same venues at once.
const engineLockKey = "engine"

// engineLockTTL must outlive any single execution; the lock is released on
// shutdown.
const engineLockTTL = 5 * time.Minute

// TradeMode runs the full pipeline: monitor, scanner, risk gate, and live
// execution. A distributed lock ensures a single trading instance.
func (a *App) TradeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting trade mode",
		slog.Int("venues", len(deps.Venues)),
		slog.Any("symbols", a.cfg.Symbols),
	)

	unlock, err := deps.Locks.Acquire(ctx, engineLockKey, engineLockTTL)
	if err != nil {
		return fmt.Errorf("trade mode: acquiring engine lock: %w", err)
	}
	defer unlock()

	if err := a.connectVenues(ctx, deps.Venues); err != nil {
		return err
	}
	defer a.disconnectVenues(deps.Venues)

	mon := a.buildMonitor(deps)

	riskMgr := risk.New(a.riskLimits(), a.cfg.Risk.HistoryWindow, risk.Dependencies{
		Venues:   deps.Venues,
		TopTier:  deps.TopTier,
		Trends:   mon,
		Bus:      deps.SignalBus,
		Notifier: deps.Notifier,
		Logger:   a.logger,
	})

	exec := executor.New(executor.Config{
		MaxOrderSize:     a.cfg.Execution.MaxOrderSize,
		MinOrderVolume:   a.cfg.Execution.MinOrderVolume,
		RetryAttempts:    a.cfg.Execution.RetryAttempts,
		RetryDelay:       a.cfg.Execution.RetryDelay.Duration,
		PollInterval:     a.cfg.Execution.PollInterval.Duration,
		MaxExecutionTime: a.cfg.Execution.MaxExecutionTime.Duration,
		MaxFreshness:     a.cfg.Execution.MaxFreshness.Duration,
	}, executor.Dependencies{
		Venues:     deps.Venues,
		Fees:       deps.Fees,
		Risk:       riskMgr,
		Executions: deps.Executions,
		Opps:       deps.Opportunities,
		Bus:        deps.SignalBus,
		Notifier:   deps.Notifier,
		Logger:     a.logger,
	})

	eng := a.buildEngine(deps, mon, riskMgr, exec)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return eng.Run(gctx) })
	return g.Wait()
}

// MonitorMode runs the pipeline without execution: prices are cached,
// opportunities are scanned, recorded, and published, but nothing trades.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting monitor mode",
		slog.Int("venues", len(deps.Venues)),
		slog.Any("symbols", a.cfg.Symbols),
	)

	if err := a.connectVenues(ctx, deps.Venues); err != nil {
		return err
	}
	defer a.disconnectVenues(deps.Venues)

	mon := a.buildMonitor(deps)

	riskMgr := risk.New(a.riskLimits(), a.cfg.Risk.HistoryWindow, risk.Dependencies{
		Venues:   deps.Venues,
		TopTier:  deps.TopTier,
		Trends:   mon,
		Bus:      deps.SignalBus,
		Notifier: deps.Notifier,
		Logger:   a.logger,
	})

	eng := a.buildEngine(deps, mon, riskMgr, nil)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return eng.Run(gctx) })
	return g.Wait()
}

func (a *App) buildMonitor(deps *Dependencies) *monitor.Monitor {
	venues := make([]domain.VenueConnector, 0, len(deps.Venues))
	for _, v := range deps.Venues {
		venues = append(venues, v)
	}

	return monitor.New(monitor.Config{
		RefreshInterval:    a.cfg.Monitor.RefreshInterval.Duration,
		FetchTimeout:       a.cfg.Monitor.FetchTimeout.Duration,
		HistorySize:        a.cfg.Monitor.HistorySize,
		HistoryMaxAge:      a.cfg.Monitor.HistoryMaxAge.Duration,
		DeviationThreshold: a.cfg.Monitor.DeviationThreshold,
		VolumeSpikeFactor:  a.cfg.Monitor.VolumeSpikeFactor,
		AlertRetention:     a.cfg.Monitor.AlertRetention.Duration,
	}, a.cfg.Symbols, monitor.Dependencies{
		Venues:  venues,
		Sources: deps.Sources,
		Mirror:  deps.QuoteCache,
		Bus:     deps.SignalBus,
		Logger:  a.logger,
	})
}

func (a *App) buildEngine(deps *Dependencies, mon *monitor.Monitor, riskMgr *risk.Manager, trader engine.Trader) *engine.Engine {
	scn := scanner.New(scanner.Config{
		MinSpreadPct:  a.cfg.Scanner.MinSpreadPct,
		MaxSpreadPct:  a.cfg.Scanner.MaxSpreadPct,
		MinVolume:     a.cfg.Scanner.MinVolume,
		MinConfidence: a.cfg.Scanner.MinConfidence,
		MaxRiskScore:  a.cfg.Scanner.MaxRiskScore,
		StaleQuoteAge: a.cfg.Scanner.StaleQuoteAge.Duration,
		ThinVolume:    a.cfg.Scanner.ThinVolume,
	}, deps.Infos, a.logger)

	engDeps := engine.Dependencies{
		Monitor:    mon,
		Scanner:    scn,
		Queue:      scanner.NewQueue(a.cfg.Scanner.QueueTTL.Duration),
		Risk:       riskMgr,
		Profit:     profit.New(deps.Fees, a.cfg.Profit.VolatilityFactors, a.cfg.Profit.DefaultVolFactor),
		Trader:     trader,
		Opps:       deps.Opportunities,
		Executions: deps.Executions,
		Bus:        deps.SignalBus,
		Notifier:   deps.Notifier,
		Logger:     a.logger,
	}
	if deps.Archiver != nil {
		engDeps.Archiver = deps.Archiver
	}

	return engine.New(engine.Config{
		ScanInterval:    a.cfg.Scanner.ScanInterval.Duration,
		ConsumeInterval: a.cfg.Execution.ConsumeInterval.Duration,
		StatsInterval:   a.cfg.Execution.StatsInterval.Duration,
		RetentionDays:   a.cfg.Execution.RetentionDays,
		MaxInvestment:   a.cfg.Profit.MaxInvestment,
	}, a.cfg.Symbols, engDeps)
}

func (a *App) riskLimits() domain.RiskLimits {
	return domain.RiskLimits{
		MaxPositionSize:  a.cfg.Risk.MaxPositionSize,
		MaxDailyLoss:     a.cfg.Risk.MaxDailyLoss,
		MaxDailyTrades:   a.cfg.Risk.MaxDailyTrades,
		MinSpreadPct:     a.cfg.Scanner.MinSpreadPct,
		MaxSpreadPct:     a.cfg.Scanner.MaxSpreadPct,
		MinConfidence:    a.cfg.Scanner.MinConfidence,
		MaxRiskScore:     a.cfg.Scanner.MaxRiskScore,
		MaxExecutionTime: a.cfg.Execution.MaxExecutionTime.Duration,
		MinLiquidity:     a.cfg.Risk.MinLiquidity,
		MaxVolatility:    a.cfg.Risk.MaxVolatility,
		MaxTrendSlope:    a.cfg.Risk.MaxTrendSlope,
	}
}

// connectVenues connects every configured venue and fails fast on the first
// error, disconnecting any venues already connected.
func (a *App) connectVenues(ctx context.Context, venues map[string]domain.VenueConnector) error {
	var connected []domain.VenueConnector
	for name, v := range venues {
		if err := v.Connect(ctx); err != nil {
			for _, c := range connected {
				_ = c.Disconnect(context.WithoutCancel(ctx))
			}
			return fmt.Errorf("connecting venue %s: %w", name, err)
		}
		connected = append(connected, v)
		a.logger.InfoContext(ctx, "venue connected", slog.String("venue", name))
	}
	return nil
}

func (a *App) disconnectVenues(venues map[string]domain.VenueConnector) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for name, v := range venues {
		if err := v.Disconnect(ctx); err != nil {
			a.logger.Warn("venue disconnect failed",
				slog.String("venue", name),
				slog.String("error", err.Error()),
			)
		}
	}
}
