package notify

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/klio/internal/domain"
	"github.com/alanyoungcy/klio/internal/events"
)

const queueSize = 256

type message struct {
	event, title, body string
}

// Subscriber turns bus events into chat notifications. Handlers only
// enqueue; Run does the network sends so the emitting request never waits
// on a chat API.
type Subscriber struct {
	notifier      *Notifier
	largeTradeMin decimal.Decimal
	queue         chan message
	logger        *slog.Logger
}

// NewSubscriber creates a Subscriber. Trades with an input of at least
// largeTradeMin raise EventLargeTrade; zero disables trade alerts.
func NewSubscriber(n *Notifier, largeTradeMin decimal.Decimal, logger *slog.Logger) *Subscriber {
	if logger == nil {
		logger = slog.Default()
	}
	return &Subscriber{
		notifier:      n,
		largeTradeMin: largeTradeMin,
		queue:         make(chan message, queueSize),
		logger:        logger.With(slog.String("component", "notify")),
	}
}

// Attach subscribes to the categories that produce notifications.
func (s *Subscriber) Attach(bus *events.Bus) (unsubscribe func()) {
	var unsubs []func()
	for _, c := range []events.Category{
		events.CategoryMarket, events.CategoryResolution, events.CategoryPosition, events.CategoryTrade,
	} {
		unsubs = append(unsubs, bus.Subscribe(c, s.Handle))
	}
	return func() {
		for _, u := range unsubs {
			u()
		}
	}
}

// Handle formats ev and queues it. Events without a notification are ignored.
func (s *Subscriber) Handle(_ context.Context, ev events.Event) error {
	msg, ok := s.format(ev)
	if !ok || !s.notifier.Allows(msg.event) {
		return nil
	}
	select {
	case s.queue <- msg:
	default:
		s.logger.Warn("notify: queue full, dropping notification", slog.String("event", msg.event))
	}
	return nil
}

// Run sends queued notifications until ctx is done.
func (s *Subscriber) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg := <-s.queue:
			if err := s.notifier.Notify(ctx, msg.event, msg.title, msg.body); err != nil {
				s.logger.Warn("notify: delivery failed",
					slog.String("event", msg.event),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// Pending returns the number of queued notifications.
func (s *Subscriber) Pending() int { return len(s.queue) }

func (s *Subscriber) format(ev events.Event) (message, bool) {
	switch p := ev.Payload.(type) {
	case domain.Market:
		switch ev.Action {
		case events.ActionCreated:
			return message{
				event: EventMarketCreated,
				title: "New market",
				body: fmt.Sprintf("%s\nCategory: %s\nCloses: %s\nCreator: %s",
					p.Description, p.Category, p.Deadline.UTC().Format("2006-01-02 15:04 MST"), p.Creator),
			}, true
		case events.ActionResolved:
			outcome := "NO"
			if p.Outcome != nil && *p.Outcome {
				outcome = "YES"
			}
			return message{
				event: EventMarketResolved,
				title: "Market resolved: " + outcome,
				body:  fmt.Sprintf("%s\nTotal volume: %s", p.Description, p.TotalVolume.StringFixed(2)),
			}, true
		}
	case domain.Position:
		if ev.Action == events.ActionClaimed && p.Payout != nil {
			return message{
				event: EventWinningsClaimed,
				title: "Winnings claimed",
				body:  fmt.Sprintf("%s claimed %s on market %s", p.User, p.Payout.StringFixed(2), p.MarketID),
			}, true
		}
	case domain.Trade:
		if s.largeTradeMin.IsPositive() && p.InputAmount.GreaterThanOrEqual(s.largeTradeMin) {
			return message{
				event: EventLargeTrade,
				title: "Large trade",
				body: fmt.Sprintf("%s bought %s %s tokens for %s on market %s",
					p.User, p.TokensReceived.StringFixed(2), p.Side, p.InputAmount.StringFixed(2), p.MarketID),
			}, true
		}
	}
	return message{}, false
}
