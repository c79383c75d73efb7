// Package category classifies market descriptions into display categories.
package category

import "strings"

const (
	Crypto = "Crypto"
	Tech   = "Tech"
	Stocks = "Stocks"
	Space  = "Space"
	Memes  = "Memes"
	Sports = "Sports"
	Other  = "Other"
)

// rule maps a category to the substrings that select it. Rules are checked
// in order and the first match wins.
type rule struct {
	name     string
	keywords []string
}

var table = []rule{
	{Crypto, []string{"bitcoin", "btc", "ethereum", "eth", "solana", "sol", "crypto", "coin"}},
	{Tech, []string{"ai", "artificial intelligence", "tech", "software", "app"}},
	{Stocks, []string{"tesla", "stock", "share", "nasdaq", "s&p"}},
	{Space, []string{"spacex", "mars", "space", "rocket", "nasa"}},
	{Memes, []string{"meme", "doge", "shib", "pepe", "wif"}},
	{Sports, []string{"football", "soccer", "basketball", "sports", "olympics"}},
}

// Infer returns the first category whose keywords occur in description, or
// Other. Matching is case-insensitive substring matching.
func Infer(description string) string {
	text := strings.ToLower(description)
	for _, r := range table {
		for _, kw := range r.keywords {
			if strings.Contains(text, kw) {
				return r.name
			}
		}
	}
	return Other
}

// All lists every category in table order, Other last.
func All() []string {
	out := make([]string, 0, len(table)+1)
	for _, r := range table {
		out = append(out, r.name)
	}
	return append(out, Other)
}

// Valid reports whether name is a known category.
func Valid(name string) bool {
	for _, c := range All() {
		if c == name {
			return true
		}
	}
	return false
}
