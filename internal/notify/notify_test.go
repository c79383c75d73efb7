package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/klio/internal/domain"
	"github.com/alanyoungcy/klio/internal/events"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type recordingSender struct {
	name string
	err  error

	mu     sync.Mutex
	titles []string
	bodies []string
}

func (r *recordingSender) Send(_ context.Context, title, message string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.titles = append(r.titles, title)
	r.bodies = append(r.bodies, message)
	return r.err
}

func (r *recordingSender) Name() string { return r.name }

func (r *recordingSender) sent() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.titles...)
}

func TestNotifier_FilterAndFanOut(t *testing.T) {
	broken := &recordingSender{name: "broken", err: errors.New("offline")}
	ok := &recordingSender{name: "ok"}
	n := NewNotifier([]Sender{broken, ok}, []string{EventMarketResolved}, quietLogger())

	require.NoError(t, n.Notify(context.Background(), EventMarketCreated, "t", "m"))
	assert.Empty(t, ok.sent(), "filtered")

	err := n.Notify(context.Background(), EventMarketResolved, "resolved", "m")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken")
	assert.Equal(t, []string{"resolved"}, ok.sent(), "later senders still run")

	require.Error(t, n.NotifyAll(context.Background(), "all", "m"))
	assert.Len(t, ok.sent(), 2)
}

func TestNotifier_EmptyFilterAllowsAll(t *testing.T) {
	n := NewNotifier(nil, nil, quietLogger())
	assert.True(t, n.Allows("anything"))
	assert.False(t, n.Enabled())
	assert.NoError(t, n.Notify(context.Background(), "x", "t", "m"))
}

func TestDiscordSender(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	require.NoError(t, NewDiscordSender(srv.URL).Send(context.Background(), "Title", "body"))
	assert.Equal(t, "**Title**\nbody", got["content"])

	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad webhook", http.StatusNotFound)
	}))
	defer failing.Close()
	err := NewDiscordSender(failing.URL).Send(context.Background(), "Title", "body")
	assert.ErrorContains(t, err, "404")
}

func TestTelegramSender(t *testing.T) {
	var (
		mu    sync.Mutex
		texts []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case strings.HasSuffix(r.URL.Path, "/getMe"):
			_, _ = io.WriteString(w, `{"ok":true,"result":{"id":1,"is_bot":true,"first_name":"klio","username":"klio_bot"}}`)
		case strings.HasSuffix(r.URL.Path, "/sendMessage"):
			_ = r.ParseForm()
			mu.Lock()
			texts = append(texts, r.FormValue("text"))
			mu.Unlock()
			assert.Equal(t, "42", r.FormValue("chat_id"))
			_, _ = io.WriteString(w, `{"ok":true,"result":{"message_id":7,"date":0,"chat":{"id":42,"type":"private"}}}`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	s, err := NewTelegramSenderWithEndpoint("TOKEN", "42", srv.URL+"/bot%s/%s", srv.Client())
	require.NoError(t, err)
	require.NoError(t, s.Send(context.Background(), "Market resolved: YES", "Will BTC hit 100k?"))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, texts, 1)
	assert.Equal(t, "*Market resolved: YES*\nWill BTC hit 100k?", texts[0])

	_, err = NewTelegramSenderWithEndpoint("TOKEN", "not-a-number", srv.URL+"/bot%s/%s", srv.Client())
	assert.Error(t, err)
}

func TestEscapeMarkdownV2(t *testing.T) {
	assert.Equal(t, `a\_b \*c\* 1\.5 \(x\)\!`, escapeMarkdownV2("a_b *c* 1.5 (x)!"))
}

func TestSubscriber_FormatsAndDelivers(t *testing.T) {
	rec := &recordingSender{name: "rec"}
	n := NewNotifier([]Sender{rec}, nil, quietLogger())
	sub := NewSubscriber(n, decimal.NewFromInt(100), quietLogger())
	bus := events.NewBus(10, quietLogger())
	unsubscribe := sub.Attach(bus)
	defer unsubscribe()

	ctx := context.Background()
	yes := true
	m := domain.Market{ID: "m1", Description: "Will it snow?", Category: "Other", Creator: "alice", TotalVolume: decimal.NewFromInt(50), Outcome: &yes, Resolved: true}
	payout := decimal.RequireFromString("47.5")

	bus.Emit(ctx, events.CategoryMarket, events.ActionCreated, "m1", m)
	bus.Emit(ctx, events.CategoryTrade, events.ActionExecuted, "m1", domain.Trade{MarketID: "m1", User: "bob", Side: domain.SideYes, InputAmount: decimal.NewFromInt(5)})
	bus.Emit(ctx, events.CategoryTrade, events.ActionExecuted, "m1", domain.Trade{MarketID: "m1", User: "bob", Side: domain.SideYes, InputAmount: decimal.NewFromInt(150), TokensReceived: decimal.NewFromInt(300)})
	bus.Emit(ctx, events.CategoryResolution, events.ActionResolved, "m1", m)
	bus.Emit(ctx, events.CategoryPosition, events.ActionUpdated, "m1", domain.Position{MarketID: "m1", User: "bob"})
	bus.Emit(ctx, events.CategoryPosition, events.ActionClaimed, "m1", domain.Position{MarketID: "m1", User: "bob", Payout: &payout})
	assert.Equal(t, 4, sub.Pending())

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		_ = sub.Run(runCtx)
		close(done)
	}()
	require.Eventually(t, func() bool { return len(rec.sent()) == 4 }, 2*time.Second, 10*time.Millisecond)
	cancel()
	<-done

	assert.Equal(t, []string{"New market", "Large trade", "Market resolved: YES", "Winnings claimed"}, rec.sent())
	rec.mu.Lock()
	assert.Contains(t, rec.bodies[3], "47.50")
	rec.mu.Unlock()
}

func TestSubscriber_RespectsFilter(t *testing.T) {
	n := NewNotifier([]Sender{&recordingSender{name: "rec"}}, []string{EventMarketResolved}, quietLogger())
	sub := NewSubscriber(n, decimal.Zero, quietLogger())
	bus := events.NewBus(10, quietLogger())
	sub.Attach(bus)

	bus.Emit(context.Background(), events.CategoryMarket, events.ActionCreated, "m1", domain.Market{ID: "m1"})
	bus.Emit(context.Background(), events.CategoryTrade, events.ActionExecuted, "m1", domain.Trade{InputAmount: decimal.NewFromInt(1000)})
	assert.Equal(t, 0, sub.Pending())
}
