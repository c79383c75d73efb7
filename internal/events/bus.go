// Package events is the in-process notifier for market state changes.
// Handlers run synchronously on the emitting goroutine in the order they
// subscribed; a failing handler is logged and skipped.
package events

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Category groups related events.
type Category string

const (
	CategoryMarket     Category = "market"
	CategoryTrade      Category = "trade"
	CategoryPosition   Category = "position"
	CategoryResolution Category = "resolution"

	// CategoryAll subscribes to every category.
	CategoryAll Category = "*"
)

// Categories lists the concrete categories.
var Categories = []Category{CategoryMarket, CategoryTrade, CategoryPosition, CategoryResolution}

// Actions used by the engine.
const (
	ActionCreated  = "created"
	ActionExecuted = "executed"
	ActionUpdated  = "updated"
	ActionResolved = "resolved"
	ActionClaimed  = "claimed"
)

// DefaultHistorySize bounds the replay buffer.
const DefaultHistorySize = 100

// Event is one notification.
type Event struct {
	Seq       uint64    `json:"seq"`
	Category  Category  `json:"category"`
	Action    string    `json:"action"`
	MarketID  string    `json:"market_id,omitempty"`
	Payload   any       `json:"payload"`
	Timestamp time.Time `json:"timestamp"`
}

// Handler receives events. A returned error is logged and does not stop
// delivery to the remaining handlers.
type Handler func(ctx context.Context, ev Event) error

type subscription struct {
	id       uint64
	category Category
	handler  Handler
}

// Bus is a publish/subscribe notifier with a bounded history.
type Bus struct {
	mu     sync.Mutex
	subs   []subscription
	nextID uint64
	seq    uint64
	hist   *ring
	logger *slog.Logger
	now    func() time.Time
}

// NewBus creates a bus keeping the last historySize events. A size <= 0
// uses DefaultHistorySize.
func NewBus(historySize int, logger *slog.Logger) *Bus {
	if historySize <= 0 {
		historySize = DefaultHistorySize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		hist:   newRing(historySize),
		logger: logger.With(slog.String("component", "events")),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Subscribe registers h for category (or CategoryAll) and returns a func
// that removes it. Calling the returned func more than once is harmless.
func (b *Bus) Subscribe(category Category, h Handler) (unsubscribe func()) {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs = append(b.subs, subscription{id: id, category: category, handler: h})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			for i, s := range b.subs {
				if s.id == id {
					b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
					return
				}
			}
		})
	}
}

// Emit records the event in history and delivers it to every matching
// handler. Emit never fails; handler errors and panics are logged.
func (b *Bus) Emit(ctx context.Context, category Category, action, marketID string, payload any) Event {
	b.mu.Lock()
	b.seq++
	ev := Event{
		Seq:       b.seq,
		Category:  category,
		Action:    action,
		MarketID:  marketID,
		Payload:   payload,
		Timestamp: b.now(),
	}
	b.hist.push(ev)
	targets := make([]subscription, 0, len(b.subs))
	for _, s := range b.subs {
		if s.category == category || s.category == CategoryAll {
			targets = append(targets, s)
		}
	}
	b.mu.Unlock()

	for _, s := range targets {
		if err := b.deliver(ctx, s, ev); err != nil {
			b.logger.Warn("events: handler failed",
				slog.String("category", string(category)),
				slog.String("action", action),
				slog.Uint64("subscription", s.id),
				slog.String("error", err.Error()),
			)
		}
	}
	return ev
}

func (b *Bus) deliver(ctx context.Context, s subscription, ev Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return s.handler(ctx, ev)
}

// History returns buffered events oldest first, restricted to category
// unless it is empty or CategoryAll.
func (b *Bus) History(category Category) []Event {
	b.mu.Lock()
	all := b.hist.items()
	b.mu.Unlock()
	if category == "" || category == CategoryAll {
		return all
	}
	out := make([]Event, 0, len(all))
	for _, ev := range all {
		if ev.Category == category {
			out = append(out, ev)
		}
	}
	return out
}

// ClearHistory drops every buffered event.
func (b *Bus) ClearHistory() {
	b.mu.Lock()
	b.hist.reset()
	b.mu.Unlock()
}

// ListenerCount returns the number of handlers registered for category. An
// empty category counts every handler.
func (b *Bus) ListenerCount(category Category) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if category == "" {
		return len(b.subs)
	}
	n := 0
	for _, s := range b.subs {
		if s.category == category {
			n++
		}
	}
	return n
}
