package payments

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rentpay/internal/common/money"
)

func brl(minor int64) money.Money { return money.New(minor, money.BRL) }

func TestComputeSplitExample(t *testing.T) {
	split, err := ComputeSplit(brl(100000), decimal.NewFromInt(10))
	require.NoError(t, err)

	assert.Equal(t, brl(10000), split.CompanyAmount)
	assert.Equal(t, brl(90000), split.OwnerAmount)
}

func TestComputeSplitRoundsHalfUp(t *testing.T) {
	tests := []struct {
		amount  int64
		pct     string
		company int64
	}{
		{amount: 33333, pct: "10", company: 3333},   // 33.3330
		{amount: 12345, pct: "12.5", company: 1543}, // 15.43125
		{amount: 10, pct: "25", company: 3},         // 0.025 -> 0.03
		{amount: 10, pct: "15", company: 2},         // 0.015 -> 0.02
		{amount: 100000, pct: "0", company: 0},
		{amount: 100000, pct: "100", company: 100000},
	}
	for _, tt := range tests {
		split, err := ComputeSplit(brl(tt.amount), decimal.RequireFromString(tt.pct))
		require.NoError(t, err)
		assert.Equal(t, tt.company, split.CompanyAmount.AmountMinor, "amount=%d pct=%s", tt.amount, tt.pct)
	}
}

func TestComputeSplitSumInvariant(t *testing.T) {
	pcts := []string{"0", "0.01", "3.33", "7.5", "10", "12.345", "33.333", "50", "66.67", "99.99", "100"}
	for amount := int64(1); amount <= 200003; amount += 997 {
		for _, p := range pcts {
			split, err := ComputeSplit(brl(amount), decimal.RequireFromString(p))
			require.NoError(t, err)
			assert.Equal(t, amount, split.OwnerAmount.AmountMinor+split.CompanyAmount.AmountMinor)
			assert.False(t, split.OwnerAmount.AmountMinor < 0)
		}
	}
}

func TestComputeSplitRejectsInvalidInput(t *testing.T) {
	_, err := ComputeSplit(brl(0), decimal.NewFromInt(10))
	assert.ErrorIs(t, err, ErrInvalidAmount)

	_, err = ComputeSplit(brl(-100), decimal.NewFromInt(10))
	assert.ErrorIs(t, err, ErrInvalidAmount)

	_, err = ComputeSplit(brl(100), decimal.RequireFromString("-0.01"))
	assert.ErrorIs(t, err, ErrInvalidPercentage)

	_, err = ComputeSplit(brl(100), decimal.RequireFromString("100.01"))
	assert.ErrorIs(t, err, ErrInvalidPercentage)
}
