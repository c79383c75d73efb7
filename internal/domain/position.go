package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Position is one user's stake in one market, keyed by (MarketID, User).
type Position struct {
	MarketID      string           `json:"market_id"`
	User          string           `json:"user"`
	YesTokens     decimal.Decimal  `json:"yes_tokens"`
	NoTokens      decimal.Decimal  `json:"no_tokens"`
	TotalInvested decimal.Decimal  `json:"total_invested"`
	Claimed       bool             `json:"claimed"`
	Payout        *decimal.Decimal `json:"payout,omitempty"`
	ClaimedAt     *time.Time       `json:"claimed_at,omitempty"`
	CreatedAt     time.Time        `json:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at"`
}

// Tokens returns the holding on the given side.
func (p Position) Tokens(side Side) decimal.Decimal {
	if side == SideYes {
		return p.YesTokens
	}
	return p.NoTokens
}

// PositionDelta is accumulated into a position by UpsertPosition. Values are
// always added, never assigned.
type PositionDelta struct {
	YesTokens     decimal.Decimal
	NoTokens      decimal.Decimal
	TotalInvested decimal.Decimal
}

// Validate rejects negative amounts. Positions only ever grow.
func (d PositionDelta) Validate() error {
	if d.YesTokens.IsNegative() || d.NoTokens.IsNegative() || d.TotalInvested.IsNegative() {
		return fmt.Errorf("negative position delta: %w", ErrInvalidAmount)
	}
	return nil
}

// Apply adds the delta to p and returns the result.
func (d PositionDelta) Apply(p Position) Position {
	p.YesTokens = p.YesTokens.Add(d.YesTokens)
	p.NoTokens = p.NoTokens.Add(d.NoTokens)
	p.TotalInvested = p.TotalInvested.Add(d.TotalInvested)
	return p
}
