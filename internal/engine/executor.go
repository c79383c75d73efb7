package engine

import (
	"fmt"

	"github.com/alanyoungcy/klio/internal/domain"
	"github.com/alanyoungcy/klio/internal/pricing"
	"github.com/shopspring/decimal"
)

// Execution is the computed effect of one trade against a market snapshot.
// It is pure data; nothing is committed until the engine applies it.
type Execution struct {
	Side         domain.Side
	InputAmount  decimal.Decimal
	Price        decimal.Decimal
	TokensMinted decimal.Decimal
	FeeAmount    decimal.Decimal
	NetToVault   decimal.Decimal

	NewYesSupply decimal.Decimal
	NewNoSupply  decimal.Decimal
	NewVolume    decimal.Decimal
	NewPrice     decimal.Decimal
}

// Plan prices a trade of amount on side at the market's current supplies.
func Plan(m domain.Market, side domain.Side, amount decimal.Decimal, model pricing.Model, creatorFeeRate decimal.Decimal) (Execution, error) {
	if !side.Valid() {
		return Execution{}, fmt.Errorf("engine: plan: %w: %q", domain.ErrInvalidSide, side)
	}
	if !amount.IsPositive() {
		return Execution{}, fmt.Errorf("engine: plan: %w: %s", domain.ErrInvalidAmount, amount)
	}

	price, err := model.Price(side, m.YesSupply, m.NoSupply)
	if err != nil {
		return Execution{}, fmt.Errorf("engine: plan: %w", err)
	}
	tokens := amount.DivRound(price, pricing.Precision)
	fee := amount.Mul(creatorFeeRate)

	ex := Execution{
		Side:         side,
		InputAmount:  amount,
		Price:        price,
		TokensMinted: tokens,
		FeeAmount:    fee,
		NetToVault:   amount.Sub(fee),
		NewYesSupply: m.YesSupply,
		NewNoSupply:  m.NoSupply,
		NewVolume:    m.TotalVolume.Add(amount),
	}
	if side == domain.SideYes {
		ex.NewYesSupply = ex.NewYesSupply.Add(tokens)
	} else {
		ex.NewNoSupply = ex.NewNoSupply.Add(tokens)
	}

	ex.NewPrice, err = model.Price(side, ex.NewYesSupply, ex.NewNoSupply)
	if err != nil {
		return Execution{}, fmt.Errorf("engine: plan: %w", err)
	}
	return ex, nil
}

// MarketDelta returns the store update for the execution.
func (ex Execution) MarketDelta() domain.MarketDelta {
	vol := ex.InputAmount
	fee := ex.FeeAmount
	tokens := ex.TokensMinted
	d := domain.MarketDelta{AddVolume: &vol, AddCreatorFees: &fee}
	if ex.Side == domain.SideYes {
		d.AddYesSupply = &tokens
	} else {
		d.AddNoSupply = &tokens
	}
	return d
}

// PositionDelta returns the position accumulation for the execution.
func (ex Execution) PositionDelta() domain.PositionDelta {
	d := domain.PositionDelta{TotalInvested: ex.InputAmount}
	if ex.Side == domain.SideYes {
		d.YesTokens = ex.TokensMinted
	} else {
		d.NoTokens = ex.TokensMinted
	}
	return d
}

// Payout computes the winner-take-all share of a winning position:
// totalVolume * winning/winningSupply * (1 - platformFeeRate), truncated to
// pricing.Precision so that payouts never sum above the pool.
func Payout(totalVolume, winning, winningSupply, platformFeeRate decimal.Decimal) decimal.Decimal {
	if !winning.IsPositive() || !winningSupply.IsPositive() {
		return decimal.Zero
	}
	keep := decimal.NewFromInt(1).Sub(platformFeeRate)
	num := totalVolume.Mul(winning).Mul(keep)
	q, _ := num.QuoRem(winningSupply, pricing.Precision)
	return q
}
