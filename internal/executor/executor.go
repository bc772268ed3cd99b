// Package executor places the paired buy/sell legs for an approved
// opportunity: concurrent placement with bounded retries, fill polling under
// a wall-clock timeout, partial-fill and shutdown handling, and fee-aware
// settlement.
package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/crossarb/crossarb/internal/domain"
)

// quantityDecimals is the fixed rounding precision for order sizing.
const quantityDecimals = 8

// Config holds the execution parameters.
type Config struct {
	MaxOrderSize     float64
	MinOrderVolume   float64
	RetryAttempts    int
	RetryDelay       time.Duration
	PollInterval     time.Duration
	MaxExecutionTime time.Duration
	MaxFreshness     time.Duration
}

// SettlementRecorder receives every settled execution; implemented by the
// risk manager.
type SettlementRecorder interface {
	RecordSettlement(exec domain.Execution)
}

// SettlementNotifier delivers operator-facing settlement alerts. Optional.
type SettlementNotifier interface {
	NotifyExecution(ctx context.Context, exec domain.Execution) error
}

// Dependencies are the collaborators injected into the Executor. Stores, bus
// and notifier are optional; Risk is required.
type Dependencies struct {
	Venues     map[string]domain.VenueConnector
	Fees       domain.FeeTable
	Risk       SettlementRecorder
	Executions domain.ExecutionStore
	Opps       domain.OpportunityStore
	Bus        domain.SignalBus
	Notifier   SettlementNotifier
	Logger     *slog.Logger
}

// Executor owns an execution from dequeue to settlement. One execution is
// processed at a time by the consuming loop; the two legs within it run
// concurrently.
type Executor struct {
	cfg    Config
	venues map[string]domain.VenueConnector
	fees   domain.FeeTable
	risk   SettlementRecorder
	execs  domain.ExecutionStore
	opps   domain.OpportunityStore
	bus    domain.SignalBus
	notify SettlementNotifier
	logger *slog.Logger
}

// New creates an Executor.
func New(cfg Config, deps Dependencies) *Executor {
	return &Executor{
		cfg:    cfg,
		venues: deps.Venues,
		fees:   deps.Fees,
		risk:   deps.Risk,
		execs:  deps.Executions,
		opps:   deps.Opps,
		bus:    deps.Bus,
		notify: deps.Notifier,
		logger: deps.Logger.With(slog.String("component", "executor")),
	}
}

// legResult is the outcome of one leg's placement.
type legResult struct {
	order domain.Order
	err   error
}

// Execute runs the full state machine for one opportunity:
//
//	pending -> executing -> {completed | partial | failed}
//
// with cancelled reachable from executing when ctx is cancelled (engine
// shutdown). The returned Execution is always settled and recorded, even on
// error.
func (e *Executor) Execute(ctx context.Context, opp domain.Opportunity) (domain.Execution, error) {
	start := time.Now()
	exec := domain.Execution{
		ID:          uuid.NewString(),
		Opportunity: opp,
		Status:      domain.ExecPending,
	}

	// Fail fast before placing any orders.
	if err := e.validate(opp); err != nil {
		exec.Status = domain.ExecFailed
		e.settle(ctx, &exec, start)
		return exec, err
	}

	quantity := e.orderQuantity(opp)
	if quantity <= 0 {
		exec.Status = domain.ExecFailed
		e.settle(ctx, &exec, start)
		return exec, fmt.Errorf("executor: sized quantity %f: %w", quantity, domain.ErrInvalidOrder)
	}

	exec.Status = domain.ExecExecuting
	e.logger.InfoContext(ctx, "executing opportunity",
		slog.String("execution_id", exec.ID),
		slog.String("opportunity_id", opp.ID),
		slog.String("symbol", opp.Symbol),
		slog.Float64("quantity", quantity),
	)

	buyVenue := e.venues[opp.BuyVenue]
	sellVenue := e.venues[opp.SellVenue]

	// Both legs are placed concurrently; neither is ordered before the other.
	var wg sync.WaitGroup
	var buyRes, sellRes legResult

	wg.Add(2)
	go func() {
		defer wg.Done()
		buyRes = e.placeWithRetry(ctx, buyVenue, domain.OrderRequest{
			Symbol:   opp.Symbol,
			Side:     domain.OrderSideBuy,
			Type:     domain.OrderTypeMarket,
			Quantity: quantity,
		})
	}()
	go func() {
		defer wg.Done()
		sellRes = e.placeWithRetry(ctx, sellVenue, domain.OrderRequest{
			Symbol:   opp.Symbol,
			Side:     domain.OrderSideSell,
			Type:     domain.OrderTypeMarket,
			Quantity: quantity,
		})
	}()
	wg.Wait()

	if buyRes.err == nil {
		order := buyRes.order
		exec.BuyOrder = &order
	}
	if sellRes.err == nil {
		order := sellRes.order
		exec.SellOrder = &order
	}

	// If either leg's placement ultimately failed, cancel the surviving leg.
	// A placement aborted by shutdown settles as cancelled, not failed.
	if buyRes.err != nil || sellRes.err != nil {
		e.cancelOpenLegs(ctx, &exec)
		exec.Status = domain.ExecFailed
		if errors.Is(buyRes.err, context.Canceled) || errors.Is(sellRes.err, context.Canceled) {
			exec.Status = domain.ExecCancelled
		}
		e.settle(ctx, &exec, start)

		err := buyRes.err
		if err == nil {
			err = sellRes.err
		}
		return exec, fmt.Errorf("executor: leg placement: %w", err)
	}

	// Wait for both fills under the wall-clock timeout.
	exec.Status = e.awaitFills(ctx, &exec)
	if exec.Status != domain.ExecCompleted {
		e.cancelOpenLegs(ctx, &exec)
	}

	e.settle(ctx, &exec, start)
	return exec, nil
}

// validate applies the fail-fast checks that must hold before any order is
// placed.
func (e *Executor) validate(opp domain.Opportunity) error {
	if opp.Age(time.Now()) > e.cfg.MaxFreshness {
		return fmt.Errorf("executor: opportunity %s: %w", opp.ID, domain.ErrStaleOpportunity)
	}
	for _, name := range []string{opp.BuyVenue, opp.SellVenue} {
		conn, ok := e.venues[name]
		if !ok || !conn.IsConnected() {
			return fmt.Errorf("executor: venue %s: %w", name, domain.ErrNotConnected)
		}
	}
	if opp.SellPrice <= opp.BuyPrice {
		return fmt.Errorf("executor: inverted spread: %w", domain.ErrInvalidOrder)
	}
	if opp.VolumeAvailable < e.cfg.MinOrderVolume {
		return fmt.Errorf("executor: volume %f below floor: %w", opp.VolumeAvailable, domain.ErrInvalidOrder)
	}
	return nil
}

// orderQuantity sizes the order, discounted by risk and confidence and
// rounded to the fixed precision.
func (e *Executor) orderQuantity(opp domain.Opportunity) float64 {
	base := math.Min(opp.VolumeAvailable, e.cfg.MaxOrderSize)
	q := base * (1 - opp.RiskScore) * opp.Confidence

	scale := math.Pow(10, quantityDecimals)
	return math.Round(q*scale) / scale
}

// placeWithRetry attempts placement up to RetryAttempts times with a fixed
// delay between attempts. Context cancellation aborts the retry loop.
func (e *Executor) placeWithRetry(ctx context.Context, venue domain.VenueConnector, req domain.OrderRequest) legResult {
	var lastErr error
	for attempt := 1; attempt <= e.cfg.RetryAttempts; attempt++ {
		order, err := venue.PlaceOrder(ctx, req)
		if err == nil {
			return legResult{order: order}
		}
		lastErr = err

		e.logger.WarnContext(ctx, "order placement failed",
			slog.String("venue", venue.Name()),
			slog.String("side", string(req.Side)),
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()),
		)

		if attempt == e.cfg.RetryAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return legResult{err: ctx.Err()}
		case <-time.After(e.cfg.RetryDelay):
		}
	}
	return legResult{err: lastErr}
}

// awaitFills polls both legs until both are filled, either is cancelled or
// rejected, the wall-clock timeout elapses, or ctx is cancelled. A timeout
// or dead leg yields partial, never completed; ctx cancellation yields
// cancelled.
func (e *Executor) awaitFills(ctx context.Context, exec *domain.Execution) domain.ExecStatus {
	deadline := time.NewTimer(e.cfg.MaxExecutionTime)
	defer deadline.Stop()
	ticker := time.NewTicker(e.cfg.PollInterval)
	defer ticker.Stop()

	for {
		buyStatus := e.pollLeg(ctx, exec.Opportunity.BuyVenue, exec.BuyOrder)
		sellStatus := e.pollLeg(ctx, exec.Opportunity.SellVenue, exec.SellOrder)

		if buyStatus == domain.OrderStatusFilled && sellStatus == domain.OrderStatusFilled {
			return domain.ExecCompleted
		}
		if buyStatus == domain.OrderStatusCancelled || buyStatus == domain.OrderStatusRejected ||
			sellStatus == domain.OrderStatusCancelled || sellStatus == domain.OrderStatusRejected {
			return domain.ExecPartial
		}

		select {
		case <-ctx.Done():
			return domain.ExecCancelled
		case <-deadline.C:
			return domain.ExecPartial
		case <-ticker.C:
		}
	}
}

// pollLeg refreshes one leg's status from its venue. A filled leg with no
// reported fill details falls back to the full requested quantity.
func (e *Executor) pollLeg(ctx context.Context, venueName string, order *domain.Order) domain.OrderStatus {
	if order == nil {
		return domain.OrderStatusRejected
	}
	if order.Status.Terminal() {
		return order.Status
	}

	venue, ok := e.venues[venueName]
	if !ok {
		return order.Status
	}

	status, err := venue.GetOrderStatus(ctx, order.ID, order.Symbol)
	if err != nil {
		e.logger.WarnContext(ctx, "order status poll failed",
			slog.String("venue", venueName),
			slog.String("order_id", order.ID),
			slog.String("error", err.Error()),
		)
		return order.Status
	}

	order.Status = status
	if status == domain.OrderStatusFilled && order.FilledQuantity == 0 {
		order.FilledQuantity = order.Quantity
	}
	return status
}

// cancelOpenLegs best-effort cancels every leg that is not yet terminal.
func (e *Executor) cancelOpenLegs(ctx context.Context, exec *domain.Execution) {
	for _, leg := range []struct {
		venue string
		order *domain.Order
	}{
		{exec.Opportunity.BuyVenue, exec.BuyOrder},
		{exec.Opportunity.SellVenue, exec.SellOrder},
	} {
		if leg.order == nil || leg.order.Status.Terminal() {
			continue
		}
		venue, ok := e.venues[leg.venue]
		if !ok {
			continue
		}

		// Cancellation still has to run during shutdown.
		cancelCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		err := venue.CancelOrder(cancelCtx, leg.order.ID, leg.order.Symbol)
		cancel()
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			e.logger.WarnContext(ctx, "leg cancellation failed",
				slog.String("venue", leg.venue),
				slog.String("order_id", leg.order.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		leg.order.Status = domain.OrderStatusCancelled
	}
}

// settle computes the realized outcome, forwards it to the risk manager,
// persists it, and publishes the settlement event.
func (e *Executor) settle(ctx context.Context, exec *domain.Execution, start time.Time) {
	exec.ExecutionTime = time.Since(start)
	exec.SettledAt = time.Now().UTC()

	filled := math.Min(legFilled(exec.BuyOrder), legFilled(exec.SellOrder))
	buyPrice := legFillPrice(exec.BuyOrder, exec.Opportunity.BuyPrice)
	sellPrice := legFillPrice(exec.SellOrder, exec.Opportunity.SellPrice)

	if filled > 0 {
		exec.ActualProfit = (sellPrice - buyPrice) * filled
	}

	// Fees accrue per leg on whatever each leg filled, matched or not; a
	// one-sided partial still paid its taker fee.
	buyFees := e.fees.Lookup(exec.Opportunity.BuyVenue)
	sellFees := e.fees.Lookup(exec.Opportunity.SellVenue)
	exec.FeesPaid = buyFees.TakerFee*buyPrice*legFilled(exec.BuyOrder) +
		sellFees.TakerFee*sellPrice*legFilled(exec.SellOrder)

	exec.NetProfit = exec.ActualProfit - exec.FeesPaid

	e.risk.RecordSettlement(*exec)

	if e.execs != nil {
		if err := e.execs.Insert(ctx, *exec); err != nil {
			e.logger.ErrorContext(ctx, "execution persist failed",
				slog.String("execution_id", exec.ID),
				slog.String("error", err.Error()),
			)
		}
	}
	if e.opps != nil {
		if err := e.opps.MarkExecuted(ctx, exec.Opportunity.ID); err != nil && !errors.Is(err, domain.ErrNotFound) {
			e.logger.WarnContext(ctx, "opportunity mark failed",
				slog.String("opportunity_id", exec.Opportunity.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	e.publish(ctx, *exec)

	if e.notify != nil {
		if err := e.notify.NotifyExecution(ctx, *exec); err != nil {
			e.logger.WarnContext(ctx, "settlement notify failed", slog.String("error", err.Error()))
		}
	}

	e.logger.InfoContext(ctx, "execution settled",
		slog.String("execution_id", exec.ID),
		slog.String("symbol", exec.Opportunity.Symbol),
		slog.String("status", string(exec.Status)),
		slog.Float64("net_profit", exec.NetProfit),
		slog.Duration("took", exec.ExecutionTime),
	)
}

func legFilled(order *domain.Order) float64 {
	if order == nil {
		return 0
	}
	return order.FilledQuantity
}

// legFillPrice prefers the venue-reported average fill price, falling back
// to the opportunity's leg price.
func legFillPrice(order *domain.Order, fallback float64) float64 {
	if order != nil && order.AveragePrice > 0 {
		return order.AveragePrice
	}
	return fallback
}

// publish forwards the settlement event to the signal bus, best-effort.
func (e *Executor) publish(ctx context.Context, exec domain.Execution) {
	if e.bus == nil {
		return
	}

	ev := domain.SettlementEvent{
		Event:        "execution_settled",
		ID:           exec.ID,
		Symbol:       exec.Opportunity.Symbol,
		Status:       string(exec.Status),
		ActualProfit: exec.ActualProfit,
		FeesPaid:     exec.FeesPaid,
		NetProfit:    exec.NetProfit,
		ExecutionMs:  exec.ExecutionTime.Milliseconds(),
		Timestamp:    exec.SettledAt,
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		return
	}
	if err := e.bus.Publish(ctx, domain.ChannelExecutions, payload); err != nil {
		e.logger.WarnContext(ctx, "settlement publish failed", slog.String("error", err.Error()))
	}
	if err := e.bus.StreamAppend(ctx, domain.ChannelExecutions, payload); err != nil {
		e.logger.WarnContext(ctx, "settlement stream append failed", slog.String("error", err.Error()))
	}
}
