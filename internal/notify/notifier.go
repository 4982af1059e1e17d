// Package notify tells operators about settlement events that may need a
// human: disputes, oracle failures, expiring dispute windows, resolutions.
// Notifications go to every registered sender (Telegram, Discord) and can be
// filtered by event type.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/alanyoungcy/narrativebet/internal/domain"
)

// Event types an operator can subscribe to.
const (
	EventMarketDisputed = "market_disputed"
	EventMarketResolved = "market_resolved"
	EventMarketVoided   = "market_voided"
	EventOracleFailed   = "oracle_failed"
	EventDisputeExpired = "dispute_expired"
	EventArchiveFailed  = "archive_failed"
)

// Sender is one notification channel.
type Sender interface {
	// Send delivers a notification with the given title and message body.
	Send(ctx context.Context, title, message string) error
	// Name returns a human-readable identifier for the sender (e.g. "telegram").
	Name() string
}

// Notifier dispatches notifications to one or more Senders. Notify only
// forwards event types in the allowed set; an empty set allows everything.
type Notifier struct {
	senders []Sender
	events  map[string]bool
	logger  *slog.Logger
}

// NewNotifier creates a Notifier that will deliver to the given senders.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			allowed[e] = true
		}
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Enabled reports whether any sender is registered.
func (n *Notifier) Enabled() bool {
	return n != nil && len(n.senders) > 0
}

// Notify sends to every sender if event passes the filter.
func (n *Notifier) Notify(ctx context.Context, event, title, message string) error {
	if !n.Enabled() {
		return nil
	}
	if len(n.events) > 0 && !n.events[event] {
		n.logger.DebugContext(ctx, "notify: event filtered out",
			slog.String("event", event),
		)
		return nil
	}
	return n.dispatch(ctx, title, message)
}

// dispatch sends to every sender. One sender failing does not stop the
// others; the failures are joined.
func (n *Notifier) dispatch(ctx context.Context, title, message string) error {
	var errs []error
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "notify: sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "notify: sent",
			slog.String("sender", s.Name()),
			slog.String("title", title),
		)
	}
	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %w", len(errs), errors.Join(errs...))
	}
	return nil
}

// Watch forwards market events from bus until ctx is done.
func (n *Notifier) Watch(ctx context.Context, bus domain.EventBus) error {
	sub, err := bus.Subscribe(ctx, domain.ChannelMarkets)
	if err != nil {
		return fmt.Errorf("notify: subscribe: %w", err)
	}
	n.logger.InfoContext(ctx, "notify: watching market events")
	for {
		select {
		case <-ctx.Done():
			return nil
		case payload, ok := <-sub:
			if !ok {
				return nil
			}
			var env domain.Envelope
			if err := json.Unmarshal(payload, &env); err != nil {
				n.logger.WarnContext(ctx, "notify: bad envelope", slog.String("error", err.Error()))
				continue
			}
			event, title, msg, ok := Describe(env)
			if !ok {
				continue
			}
			_ = n.Notify(ctx, event, title, msg)
		}
	}
}

// Describe renders the envelopes operators care about. ok is false for
// every other event kind.
func Describe(env domain.Envelope) (event, title, message string, ok bool) {
	ev, err := env.Decode()
	if err != nil {
		return "", "", "", false
	}
	switch e := ev.(type) {
	case domain.MarketDisputed:
		msg := fmt.Sprintf("Market %s is disputed: %s\nVoting closes %s", env.MarketID, e.Reason, e.Deadline.UTC().Format(time.RFC3339))
		if e.Verdict != nil {
			msg += fmt.Sprintf("\nOracle said outcome %d at %s confidence", e.Verdict.Outcome, bpsPercent(e.Verdict.ConfidenceBps))
		}
		return EventMarketDisputed, "Market disputed", msg, true
	case domain.MarketResolved:
		return EventMarketResolved, "Market resolved", fmt.Sprintf(
			"Market %s resolved via %s\nWinning: %v\nPool: %s  Payouts: %d  Subsidy: %s",
			env.MarketID, e.Source, e.Settlement.WinningSet, e.Settlement.TotalPool,
			len(e.Settlement.Payouts), e.Settlement.Subsidy,
		), true
	case domain.MarketVoided:
		return EventMarketVoided, "Market voided", fmt.Sprintf(
			"Market %s voided: %s\nRefunding %s to %d bettors",
			env.MarketID, e.Reason, e.Settlement.TotalPool, len(e.Settlement.Payouts),
		), true
	}
	return "", "", "", false
}

func bpsPercent(bps int64) string {
	return fmt.Sprintf("%d.%02d%%", bps/100, bps%100)
}
