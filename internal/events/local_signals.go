package events

import (
	"context"
	"fmt"
	"path"
	"strconv"
	"strings"
	"sync"

	"github.com/alanyoungcy/klio/internal/domain"
)

const localStreamMaxLen = 10000

type localSub struct {
	pattern string
	ch      chan []byte
}

// LocalSignals is an in-process domain.SignalBus used when Redis is
// disabled. Patterns follow path.Match globbing. Slow subscribers drop
// messages rather than block the publisher.
type LocalSignals struct {
	mu      sync.Mutex
	subs    map[*localSub]struct{}
	streams map[string][]domain.StreamMessage
	nextID  map[string]uint64
}

// NewLocalSignals creates an empty in-process signal bus.
func NewLocalSignals() *LocalSignals {
	return &LocalSignals{
		subs:    make(map[*localSub]struct{}),
		streams: make(map[string][]domain.StreamMessage),
		nextID:  make(map[string]uint64),
	}
}

// Publish delivers payload to every subscriber whose pattern matches channel.
func (l *LocalSignals) Publish(_ context.Context, channel string, payload []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for s := range l.subs {
		if !matchChannel(s.pattern, channel) {
			continue
		}
		select {
		case s.ch <- payload:
		default:
		}
	}
	return nil
}

// Subscribe returns a channel that is closed when ctx is cancelled.
func (l *LocalSignals) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	s := &localSub{pattern: channel, ch: make(chan []byte, 128)}
	l.mu.Lock()
	l.subs[s] = struct{}{}
	l.mu.Unlock()

	go func() {
		<-ctx.Done()
		l.mu.Lock()
		delete(l.subs, s)
		close(s.ch)
		l.mu.Unlock()
	}()
	return s.ch, nil
}

// StreamAppend appends payload to stream, trimming to the newest entries.
func (l *LocalSignals) StreamAppend(_ context.Context, stream string, payload []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.nextID[stream]++
	msg := domain.StreamMessage{
		ID:      fmt.Sprintf("%d-0", l.nextID[stream]),
		Payload: append([]byte(nil), payload...),
	}
	s := append(l.streams[stream], msg)
	if len(s) > localStreamMaxLen {
		s = s[len(s)-localStreamMaxLen:]
	}
	l.streams[stream] = s
	return nil
}

// StreamRead returns up to count entries with an ID after lastID. "0" and
// "0-0" read from the beginning; "$" returns nothing.
func (l *LocalSignals) StreamRead(_ context.Context, stream string, lastID string, count int) ([]domain.StreamMessage, error) {
	if lastID == "$" {
		return nil, nil
	}
	after, err := parseStreamID(lastID)
	if err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []domain.StreamMessage
	for _, m := range l.streams[stream] {
		id, _ := parseStreamID(m.ID)
		if id <= after {
			continue
		}
		out = append(out, m)
		if count > 0 && len(out) == count {
			break
		}
	}
	return out, nil
}

func parseStreamID(id string) (uint64, error) {
	head, _, _ := strings.Cut(id, "-")
	if head == "" {
		return 0, nil
	}
	n, err := strconv.ParseUint(head, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("events: bad stream id %q: %w", id, err)
	}
	return n, nil
}

func matchChannel(pattern, channel string) bool {
	if pattern == channel {
		return true
	}
	ok, err := path.Match(pattern, channel)
	return err == nil && ok
}

var _ domain.SignalBus = (*LocalSignals)(nil)
