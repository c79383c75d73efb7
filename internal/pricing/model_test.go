package pricing_test

import (
	"testing"

	"github.com/alanyoungcy/klio/internal/domain"
	"github.com/alanyoungcy/klio/internal/pricing"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestPrice_EmptyMarketIsFloored(t *testing.T) {
	m := pricing.Default()
	p, err := m.Price(domain.SideYes, decimal.Zero, decimal.Zero)
	require.NoError(t, err)
	assert.True(t, p.Equal(d("0.01")), "got %s", p)
}

func TestPrice_Formula(t *testing.T) {
	m := pricing.Default()
	// 1000 / (1000 + 0 + 1000)
	p, err := m.Price(domain.SideYes, d("1000"), decimal.Zero)
	require.NoError(t, err)
	assert.True(t, p.Equal(d("0.5")), "got %s", p)

	// 500 / (1500 + 500 + 1000)
	p, err = m.Price(domain.SideNo, d("1500"), d("500"))
	require.NoError(t, err)
	assert.True(t, p.Round(6).Equal(d("0.166667")), "got %s", p)
}

func TestPrice_Bounds(t *testing.T) {
	m := pricing.Default()
	supplies := []string{"0", "0.5", "1", "9", "10", "999", "1000", "25000", "1000000", "123456789.123"}
	one := decimal.NewFromInt(1)
	for _, ys := range supplies {
		for _, ns := range supplies {
			yes, no := d(ys), d(ns)

			ry, err := m.Raw(domain.SideYes, yes, no)
			require.NoError(t, err)
			rn, err := m.Raw(domain.SideNo, yes, no)
			require.NoError(t, err)
			assert.True(t, ry.Add(rn).LessThan(one), "raw sum yes=%s no=%s", ys, ns)

			py, pn, err := m.Quote(yes, no)
			require.NoError(t, err)
			for _, p := range []decimal.Decimal{py, pn} {
				assert.True(t, p.GreaterThanOrEqual(m.Floor), "price %s below floor", p)
				assert.True(t, p.LessThan(one), "price %s not below 1", p)
			}
		}
	}
}

func TestPrice_MonotonicInOwnSupply(t *testing.T) {
	m := pricing.Default()
	prev := decimal.Zero
	for _, s := range []string{"20", "100", "500", "2000", "10000"} {
		p, err := m.Price(domain.SideYes, d(s), d("50"))
		require.NoError(t, err)
		assert.True(t, p.GreaterThan(prev), "supply %s: %s <= %s", s, p, prev)
		prev = p
	}
}

func TestPrice_FallsWithOtherSideAtFixedSum(t *testing.T) {
	m := pricing.Default()
	// yes+no held at 1000, shifting weight to the no side.
	a, err := m.Price(domain.SideYes, d("700"), d("300"))
	require.NoError(t, err)
	b, err := m.Price(domain.SideYes, d("600"), d("400"))
	require.NoError(t, err)
	assert.True(t, b.LessThan(a))
}

func TestPrice_RejectsBadInput(t *testing.T) {
	m := pricing.Default()
	_, err := m.Price(domain.SideYes, d("-1"), decimal.Zero)
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)

	_, err = m.Price(domain.Side("maybe"), decimal.Zero, decimal.Zero)
	assert.ErrorIs(t, err, domain.ErrInvalidSide)
}

func TestNew_Validation(t *testing.T) {
	_, err := pricing.New(decimal.Zero, d("0.01"))
	assert.Error(t, err)
	_, err = pricing.New(d("1000"), d("1"))
	assert.Error(t, err)
	m, err := pricing.New(d("500"), d("0.05"))
	require.NoError(t, err)
	assert.True(t, m.BaseLiquidity.Equal(d("500")))
}
