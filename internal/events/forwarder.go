package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/klio/internal/domain"
)

// StreamName is the durable stream every event is appended to.
const StreamName = "klio:events"

// Channel returns the pub/sub channel for a category.
func Channel(c Category) string {
	return "klio:" + string(c)
}

// Forwarder republishes bus events on a SignalBus so that other processes
// and the WebSocket hub can observe them.
type Forwarder struct {
	signals domain.SignalBus
	logger  *slog.Logger
	stream  bool
}

// NewForwarder creates a forwarder. When stream is true events are also
// appended to StreamName.
func NewForwarder(signals domain.SignalBus, stream bool, logger *slog.Logger) *Forwarder {
	return &Forwarder{signals: signals, stream: stream, logger: logger}
}

// Attach subscribes the forwarder to every category on bus.
func (f *Forwarder) Attach(bus *Bus) (unsubscribe func()) {
	return bus.Subscribe(CategoryAll, f.Handle)
}

// Handle publishes one event.
func (f *Forwarder) Handle(ctx context.Context, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("forwarder: marshal %s/%s: %w", ev.Category, ev.Action, err)
	}
	if err := f.signals.Publish(ctx, Channel(ev.Category), payload); err != nil {
		return fmt.Errorf("forwarder: publish: %w", err)
	}
	if f.stream {
		if err := f.signals.StreamAppend(ctx, StreamName, payload); err != nil {
			return fmt.Errorf("forwarder: stream append: %w", err)
		}
	}
	f.logger.Debug("forwarder: event published",
		slog.String("category", string(ev.Category)),
		slog.String("action", ev.Action),
		slog.Uint64("seq", ev.Seq),
	)
	return nil
}
