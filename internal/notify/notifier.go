// Package notify provides a multi-channel notification system. Notifications
// are dispatched to all registered senders (Telegram, Discord, etc.) and can
// be filtered by event type so operators receive only the alerts they care
// about.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/crossarb/crossarb/internal/domain"
)

// Event types understood by the filter.
const (
	EventOpportunity = "opportunity"
	EventExecution   = "execution"
	EventRiskBreach  = "risk_breach"
	EventAnomaly     = "anomaly"
	EventLifecycle   = "lifecycle"
)

// Sender is the interface that each notification channel must implement.
type Sender interface {
	// Send delivers a notification with the given title and message body.
	Send(ctx context.Context, title, message string) error
	// Name returns a human-readable identifier for the sender (e.g. "telegram").
	Name() string
}

// Notifier dispatches notifications to one or more Senders. It maintains a
// set of allowed event types; Notify only forwards messages whose event type
// is in the allowed set, while NotifyAll bypasses the filter.
type Notifier struct {
	senders []Sender
	events  map[string]bool // allowed event types
	logger  *slog.Logger
}

// NewNotifier creates a Notifier that will deliver to the given senders. Only
// events whose type appears in the events slice will be forwarded by Notify.
// If events is empty, all event types are allowed.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		allowed[strings.TrimSpace(e)] = true
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Notify sends a notification to all senders only if the event type is in the
// allowed list. If no events were configured (empty list), all events pass.
func (n *Notifier) Notify(ctx context.Context, event, title, message string) error {
	if len(n.events) > 0 && !n.events[event] {
		n.logger.DebugContext(ctx, "event filtered out",
			slog.String("event", event),
		)
		return nil
	}

	return n.dispatch(ctx, title, message)
}

// NotifyAll sends a notification to all senders regardless of event type.
func (n *Notifier) NotifyAll(ctx context.Context, title, message string) error {
	return n.dispatch(ctx, title, message)
}

// NotifyOpportunity formats and sends an alert for a detected opportunity.
func (n *Notifier) NotifyOpportunity(ctx context.Context, opp domain.Opportunity) error {
	title := fmt.Sprintf("Opportunity: %s", opp.Symbol)
	message := fmt.Sprintf(
		"Buy %s @ %.8f, sell %s @ %.8f\nSpread %.4f%%, est. profit %.2f, confidence %.2f",
		opp.BuyVenue, opp.BuyPrice, opp.SellVenue, opp.SellPrice,
		opp.SpreadPct*100, opp.MaxProfit, opp.Confidence,
	)
	return n.Notify(ctx, EventOpportunity, title, message)
}

// NotifyExecution formats and sends an alert for a settled execution.
func (n *Notifier) NotifyExecution(ctx context.Context, exec domain.Execution) error {
	title := fmt.Sprintf("Execution %s: %s", exec.Status, exec.Opportunity.Symbol)
	message := fmt.Sprintf(
		"%s -> %s\nNet profit %.4f (fees %.4f), took %s",
		exec.Opportunity.BuyVenue, exec.Opportunity.SellVenue,
		exec.NetProfit, exec.FeesPaid, exec.ExecutionTime,
	)
	return n.Notify(ctx, EventExecution, title, message)
}

// NotifyRiskBreach formats and sends an alert for a rejected opportunity.
func (n *Notifier) NotifyRiskBreach(ctx context.Context, symbol, rule, reason string) error {
	title := fmt.Sprintf("Risk breach: %s", symbol)
	message := fmt.Sprintf("Rule %s\n%s", rule, reason)
	return n.Notify(ctx, EventRiskBreach, title, message)
}

// dispatch iterates over all senders and sends the notification. Errors from
// individual senders are collected and returned as a combined error; a single
// sender failure does not prevent delivery to the remaining senders.
func (n *Notifier) dispatch(ctx context.Context, title, message string) error {
	if len(n.senders) == 0 {
		return nil
	}

	var errs []string
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Sprintf("%s: %v", s.Name(), err))
		} else {
			n.logger.DebugContext(ctx, "notification sent",
				slog.String("sender", s.Name()),
				slog.String("title", title),
			)
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %s", len(errs), strings.Join(errs, "; "))
	}
	return nil
}
