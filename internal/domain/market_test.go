package domain

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestMarketDeltaCheck(t *testing.T) {
	neg := decimal.NewFromInt(-50)
	pos := decimal.NewFromInt(10)
	yes := true
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	open := Market{ID: "m1"}
	resolved := Market{ID: "m1", Resolved: true, Outcome: &yes, ResolvedAt: &now}

	assert.NoError(t, MarketDelta{AddYesSupply: &pos, AddVolume: &pos}.Check(open))
	assert.NoError(t, MarketDelta{Resolved: &yes, Outcome: &yes, ResolvedAt: &now}.Check(open))
	assert.ErrorIs(t, MarketDelta{AddYesSupply: &neg}.Check(open), ErrInvalidAmount)
	assert.ErrorIs(t, MarketDelta{AddCreatorFees: &neg}.Validate(), ErrInvalidAmount)
	assert.ErrorIs(t, MarketDelta{AddVolume: &pos}.Check(resolved), ErrAlreadyResolved)
	assert.ErrorIs(t, MarketDelta{Outcome: &yes}.Check(resolved), ErrAlreadyResolved)
	assert.Equal(t, "invalid_amount", Kind(MarketDelta{AddNoSupply: &neg}.Validate()))
}

func TestPositionDeltaValidate(t *testing.T) {
	assert.NoError(t, PositionDelta{YesTokens: decimal.NewFromInt(5), TotalInvested: decimal.NewFromInt(1)}.Validate())
	assert.NoError(t, PositionDelta{}.Validate())
	assert.ErrorIs(t, PositionDelta{NoTokens: decimal.NewFromInt(-1)}.Validate(), ErrInvalidAmount)
	assert.ErrorIs(t, PositionDelta{TotalInvested: decimal.RequireFromString("-0.000001")}.Validate(), ErrInvalidAmount)
}

func TestKindDeadlineNotReached(t *testing.T) {
	assert.Equal(t, "deadline_not_reached", Kind(ErrDeadlineNotReached))
}
