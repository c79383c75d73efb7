package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// MaxDescriptionLen is the maximum number of characters in a market description.
const MaxDescriptionLen = 280

// DefaultStartingOdds is the starting probability in basis points (50%).
const DefaultStartingOdds = 5000

// MarketStatus is the lifecycle state of a market.
type MarketStatus string

const (
	MarketStatusOpen     MarketStatus = "open"
	MarketStatusResolved MarketStatus = "resolved"
)

// Market is a single binary YES/NO prediction question.
type Market struct {
	ID           string          `json:"id"`
	Description  string          `json:"description"`
	Deadline     time.Time       `json:"deadline"`
	Creator      string          `json:"creator"`
	OracleSource string          `json:"oracle_source"`
	StartingOdds int             `json:"starting_odds"` // basis points, informational
	Category     string          `json:"category"`
	Vault        string          `json:"vault"`
	YesSupply    decimal.Decimal `json:"yes_supply"`
	NoSupply     decimal.Decimal `json:"no_supply"`
	TotalVolume  decimal.Decimal `json:"total_volume"`
	CreatorFees  decimal.Decimal `json:"creator_fees"`
	Resolved     bool            `json:"resolved"`
	Outcome      *bool           `json:"outcome,omitempty"` // true = YES wins
	ResolvedAt   *time.Time      `json:"resolved_at,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// Status derives the lifecycle state from the resolved flag.
func (m Market) Status() MarketStatus {
	if m.Resolved {
		return MarketStatusResolved
	}
	return MarketStatusOpen
}

// Supply returns the token supply of the given side.
func (m Market) Supply(side Side) decimal.Decimal {
	if side == SideYes {
		return m.YesSupply
	}
	return m.NoSupply
}

// WinningSide returns the side that won. ok is false while the market is open.
func (m Market) WinningSide() (side Side, ok bool) {
	if !m.Resolved || m.Outcome == nil {
		return "", false
	}
	if *m.Outcome {
		return SideYes, true
	}
	return SideNo, true
}

// CreateMarketRequest carries the caller-supplied fields of a new market.
type CreateMarketRequest struct {
	Description  string    `json:"description"`
	Deadline     time.Time `json:"deadline"`
	Creator      string    `json:"creator"`
	OracleSource string    `json:"oracle_source"`
	StartingOdds int       `json:"starting_odds"`
}

// MarketView is a market together with its current prices.
type MarketView struct {
	Market
	YesPrice decimal.Decimal `json:"yes_price"`
	NoPrice  decimal.Decimal `json:"no_price"`
}

// MarketDelta is a partial update applied by MarketStore.UpdateMarket. Nil
// fields are left untouched; supply, volume and fee fields are increments.
type MarketDelta struct {
	AddYesSupply   *decimal.Decimal
	AddNoSupply    *decimal.Decimal
	AddVolume      *decimal.Decimal
	AddCreatorFees *decimal.Decimal
	Resolved       *bool
	Outcome        *bool
	ResolvedAt     *time.Time
}

// Validate rejects negative increments.
func (d MarketDelta) Validate() error {
	for _, inc := range []*decimal.Decimal{d.AddYesSupply, d.AddNoSupply, d.AddVolume, d.AddCreatorFees} {
		if inc != nil && inc.IsNegative() {
			return fmt.Errorf("negative increment %s: %w", inc.String(), ErrInvalidAmount)
		}
	}
	return nil
}

// Check reports whether d may be applied to the stored market m. A resolved
// market accepts no further updates.
func (d MarketDelta) Check(m Market) error {
	if err := d.Validate(); err != nil {
		return err
	}
	if m.Resolved {
		return ErrAlreadyResolved
	}
	return nil
}

// Apply merges the delta into m and returns the result.
func (d MarketDelta) Apply(m Market) Market {
	if d.AddYesSupply != nil {
		m.YesSupply = m.YesSupply.Add(*d.AddYesSupply)
	}
	if d.AddNoSupply != nil {
		m.NoSupply = m.NoSupply.Add(*d.AddNoSupply)
	}
	if d.AddVolume != nil {
		m.TotalVolume = m.TotalVolume.Add(*d.AddVolume)
	}
	if d.AddCreatorFees != nil {
		m.CreatorFees = m.CreatorFees.Add(*d.AddCreatorFees)
	}
	if d.Resolved != nil {
		m.Resolved = *d.Resolved
	}
	if d.Outcome != nil {
		o := *d.Outcome
		m.Outcome = &o
	}
	if d.ResolvedAt != nil {
		t := *d.ResolvedAt
		m.ResolvedAt = &t
	}
	return m
}

// MarketFilter narrows ListMarkets results.
type MarketFilter struct {
	Status   MarketStatus // empty = all
	Category string
	Creator  string
	ListOpts
}

// Match reports whether m passes the filter (pagination is not considered).
func (f MarketFilter) Match(m Market) bool {
	if f.Status != "" && m.Status() != f.Status {
		return false
	}
	if f.Category != "" && m.Category != f.Category {
		return false
	}
	if f.Creator != "" && m.Creator != f.Creator {
		return false
	}
	return true
}
