package ws

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func newTestClient() *client {
	return &client{
		subs:    map[string]bool{defaultSubscription: true},
		markets: make(map[string]bool),
	}
}

func TestClientWants(t *testing.T) {
	c := newTestClient()
	assert.True(t, c.wants("klio:trade", "m1"), "default matches every channel")

	c.handleSubscription(subscribeMsg{Action: "subscribe", Channels: []string{"klio:resolution"}})
	assert.False(t, c.wants("klio:trade", "m1"), "explicit channels replace the default")
	assert.True(t, c.wants("klio:resolution", "m1"))

	c.handleSubscription(subscribeMsg{Action: "subscribe", Markets: []string{"m2"}})
	assert.False(t, c.wants("klio:resolution", "m1"))
	assert.True(t, c.wants("klio:resolution", "m2"))

	c.handleSubscription(subscribeMsg{Action: "unsubscribe", Markets: []string{"m2"}, Channels: []string{"klio:resolution"}})
	assert.False(t, c.wants("klio:resolution", "m2"))
}

func TestMarketOf(t *testing.T) {
	assert.Equal(t, "abc", marketOf([]byte(`{"seq":1,"market_id":"abc"}`)))
	assert.Equal(t, "", marketOf([]byte(`not json`)))
}
