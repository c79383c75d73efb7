package category_test

import (
	"testing"

	"github.com/alanyoungcy/klio/internal/category"
	"github.com/stretchr/testify/assert"
)

func TestInfer(t *testing.T) {
	tests := []struct {
		desc string
		want string
	}{
		{"Will Bitcoin close above 100k this year?", category.Crypto},
		{"Will the new iPhone APP store policy change?", category.Tech},
		{"Will TSLA stock split twice?", category.Stocks},
		{"Will NASA land humans on Mars?", category.Space},
		{"Will DOGE flip the frog?", category.Memes},
		{"Who wins the basketball finals?", category.Sports},
		{"Will Lisbon see snow tomorrow?", category.Other},
		{"", category.Other},
	}
	for _, tt := range tests {
		t.Run(tt.desc, func(t *testing.T) {
			assert.Equal(t, tt.want, category.Infer(tt.desc))
		})
	}
}

func TestInfer_FirstRuleWins(t *testing.T) {
	// "solana" hits Crypto before "rocket" would hit Space.
	assert.Equal(t, category.Crypto, category.Infer("Solana rocket to 1000?"))
}

func TestValid(t *testing.T) {
	assert.True(t, category.Valid("Memes"))
	assert.True(t, category.Valid("Other"))
	assert.False(t, category.Valid("memes"))
	assert.Len(t, category.All(), 7)
}
