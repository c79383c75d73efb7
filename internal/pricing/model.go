// Package pricing implements the bonding curve that prices YES and NO tokens
// from the current supply of each side.
package pricing

import (
	"fmt"

	"github.com/alanyoungcy/klio/internal/domain"
	"github.com/shopspring/decimal"
)

// Precision is the number of fractional digits kept by every division.
const Precision int32 = 18

var (
	// DefaultBaseLiquidity is the virtual liquidity added to the supply total.
	DefaultBaseLiquidity = decimal.NewFromInt(1000)
	// DefaultFloor is the lowest price a side can be quoted at.
	DefaultFloor = decimal.RequireFromString("0.01")
)

// Model prices a side as supply(side) / (yes + no + BaseLiquidity), clamped
// below at Floor.
type Model struct {
	BaseLiquidity decimal.Decimal
	Floor         decimal.Decimal
}

// Default returns the model with L=1000 and a 0.01 floor.
func Default() Model {
	return Model{BaseLiquidity: DefaultBaseLiquidity, Floor: DefaultFloor}
}

// New validates and returns a model.
func New(baseLiquidity, floor decimal.Decimal) (Model, error) {
	if !baseLiquidity.IsPositive() {
		return Model{}, fmt.Errorf("pricing: base liquidity must be positive, got %s", baseLiquidity)
	}
	if !floor.IsPositive() || floor.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return Model{}, fmt.Errorf("pricing: floor must be in (0,1), got %s", floor)
	}
	return Model{BaseLiquidity: baseLiquidity, Floor: floor}, nil
}

// Raw returns the unclamped price of side.
func (m Model) Raw(side domain.Side, yes, no decimal.Decimal) (decimal.Decimal, error) {
	if !side.Valid() {
		return decimal.Zero, fmt.Errorf("pricing: %w: %q", domain.ErrInvalidSide, side)
	}
	if yes.IsNegative() || no.IsNegative() {
		return decimal.Zero, fmt.Errorf("pricing: negative supply yes=%s no=%s: %w", yes, no, domain.ErrInvalidAmount)
	}
	total := yes.Add(no).Add(m.BaseLiquidity)
	supply := no
	if side == domain.SideYes {
		supply = yes
	}
	return supply.DivRound(total, Precision), nil
}

// Price returns the price of side, never below Floor.
func (m Model) Price(side domain.Side, yes, no decimal.Decimal) (decimal.Decimal, error) {
	raw, err := m.Raw(side, yes, no)
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.Max(raw, m.Floor), nil
}

// Quote returns the floored prices of both sides.
func (m Model) Quote(yes, no decimal.Decimal) (yesPrice, noPrice decimal.Decimal, err error) {
	if yesPrice, err = m.Price(domain.SideYes, yes, no); err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	if noPrice, err = m.Price(domain.SideNo, yes, no); err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	return yesPrice, noPrice, nil
}

// QuoteMarket prices both sides of a market.
func (m Model) QuoteMarket(mk domain.Market) (domain.Quote, error) {
	y, n, err := m.Quote(mk.YesSupply, mk.NoSupply)
	if err != nil {
		return domain.Quote{}, err
	}
	return domain.Quote{MarketID: mk.ID, Yes: y, No: n}, nil
}
