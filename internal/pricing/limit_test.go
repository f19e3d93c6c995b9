package pricing

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestSellLimit(t *testing.T) {
	cases := []struct {
		name        string
		bid, ask    decimal.Decimal
		ratio       decimal.Decimal
		want        decimal.Decimal
		wantErr     bool
	}{
		{"standard ratio", dec("0.40"), dec("0.50"), DefaultRatio, dec("0.42"), false},
		{"zero ratio returns bid", dec("0.40"), dec("0.50"), decimal.Zero, dec("0.40"), false},
		{"full ratio returns mid", dec("0.40"), dec("0.50"), decimal.NewFromInt(1), dec("0.45"), false},
		{"inverted spread errors", dec("0.50"), dec("0.40"), DefaultRatio, decimal.Zero, true},
		{"zero bid returns zero", decimal.Zero, dec("0.50"), DefaultRatio, decimal.Zero, false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got, err := SellLimit(c.bid, c.ask, c.ratio)
			if c.wantErr {
				require.ErrorIs(t, err, ErrInvalidSpread)
				return
			}
			require.NoError(t, err)
			assert.True(t, got.Equal(c.want), "got %s want %s", got, c.want)
			if c.bid.IsPositive() {
				assert.True(t, got.GreaterThanOrEqual(c.bid))
			}
		})
	}
}

func TestAdjustDown(t *testing.T) {
	floor := dec("0.20")
	step := dec("0.01")

	next, ok := AdjustDown(dec("0.45"), dec("0.40"), step, floor, 1, 2)
	require.True(t, ok)
	assert.True(t, next.Equal(dec("0.44")))

	_, ok = AdjustDown(dec("0.21"), dec("0.10"), step, floor, 1, 2)
	assert.True(t, ok) // 0.20 still meets floor

	_, ok = AdjustDown(dec("0.20"), dec("0.10"), step, floor, 1, 2)
	assert.False(t, ok) // would drop below floor

	_, ok = AdjustDown(dec("0.45"), dec("0.40"), step, floor, 3, 2)
	assert.False(t, ok) // attempt exceeds cap
}

func TestValidateVsBid(t *testing.T) {
	assert.True(t, ValidateVsBid(dec("0.42"), dec("0.40"), dec("0.10")))
	assert.False(t, ValidateVsBid(dec("0.50"), dec("0.40"), dec("0.10")))
	assert.False(t, ValidateVsBid(dec("0.50"), decimal.Zero, dec("0.10")))
}
