package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Side is one of the two exclusive outcomes of a market.
type Side string

const (
	SideYes Side = "yes"
	SideNo  Side = "no"
)

// ParseSide normalises s into a Side.
func ParseSide(s string) (Side, error) {
	switch Side(strings.ToLower(strings.TrimSpace(s))) {
	case SideYes:
		return SideYes, nil
	case SideNo:
		return SideNo, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidSide, s)
	}
}

// Valid reports whether s is yes or no.
func (s Side) Valid() bool {
	return s == SideYes || s == SideNo
}

// Trade is an immutable ledger entry for one execution.
type Trade struct {
	ID             string          `json:"id"`
	MarketID       string          `json:"market_id"`
	User           string          `json:"user"`
	Side           Side            `json:"side"`
	InputAmount    decimal.Decimal `json:"input_amount"`
	TokensReceived decimal.Decimal `json:"tokens_received"`
	Price          decimal.Decimal `json:"price"`
	FeeAmount      decimal.Decimal `json:"fee_amount"`
	NetToVault     decimal.Decimal `json:"net_to_vault"`
	ExecutionRef   string          `json:"execution_ref"`
	Timestamp      time.Time       `json:"timestamp"`
}

// TradeFilter selects trades by market or by user.
type TradeFilter struct {
	MarketID string
	User     string
	ListOpts
}

// Match reports whether t passes the filter (pagination is not considered).
func (f TradeFilter) Match(t Trade) bool {
	if f.MarketID != "" && t.MarketID != f.MarketID {
		return false
	}
	if f.User != "" && t.User != f.User {
		return false
	}
	return true
}

// TradeRequest is the input of an engine trade execution.
type TradeRequest struct {
	MarketID string
	User     string
	Side     Side
	Amount   decimal.Decimal
	// ExternalRef is a settlement reference obtained by the caller. When empty
	// the engine settles through its SettlementGateway.
	ExternalRef string
}

// TradeResult is returned after a committed trade.
type TradeResult struct {
	Trade          Trade           `json:"trade"`
	TokensReceived decimal.Decimal `json:"tokens_received"`
	NewPrice       decimal.Decimal `json:"new_price"`
	FeeAmount      decimal.Decimal `json:"fee_amount"`
	NetToVault     decimal.Decimal `json:"net_to_vault"`
}

// ClaimResult is returned after a committed claim.
type ClaimResult struct {
	MarketID      string          `json:"market_id"`
	User          string          `json:"user"`
	Payout        decimal.Decimal `json:"payout"`
	WinningTokens decimal.Decimal `json:"winning_tokens"`
	SettlementRef string          `json:"settlement_ref,omitempty"`
	Claimed       bool            `json:"claimed"`
}

// Quote holds the current floored prices of both sides.
type Quote struct {
	MarketID string          `json:"market_id"`
	Yes      decimal.Decimal `json:"yes"`
	No       decimal.Decimal `json:"no"`
}

// Stats summarises the contents of a store.
type Stats struct {
	TotalMarkets    int64           `json:"total_markets"`
	OpenMarkets     int64           `json:"open_markets"`
	ResolvedMarkets int64           `json:"resolved_markets"`
	TotalVolume     decimal.Decimal `json:"total_volume"`
	TotalTrades     int64           `json:"total_trades"`
	UniqueTraders   int64           `json:"unique_traders"`
	TotalPositions  int64           `json:"total_positions"`
}
