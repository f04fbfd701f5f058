package money

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromDecimalRoundsHalfUp(t *testing.T) {
	tests := []struct {
		in   string
		want int64
	}{
		{"1000", 100000},
		{"1000.00", 100000},
		{"0.005", 1},
		{"0.004", 0},
		{"12.345", 1235},
	}
	for _, tt := range tests {
		got, err := FromDecimal(decimal.RequireFromString(tt.in), BRL)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got.AmountMinor, tt.in)
	}
}

func TestFromDecimalRejectsValuesOutsideInt64(t *testing.T) {
	for _, in := range []string{
		"184467440737095517.16",
		"92233720368547758.08",
		"-92233720368547758.09",
	} {
		_, err := FromDecimal(decimal.RequireFromString(in), BRL)
		assert.ErrorIs(t, err, ErrOutOfRange, in)
	}

	got, err := FromDecimal(decimal.RequireFromString("92233720368547758.07"), BRL)
	require.NoError(t, err)
	assert.Equal(t, int64(math.MaxInt64), got.AmountMinor)
}

func TestUnmarshalJSONRejectsOverflow(t *testing.T) {
	var in struct {
		Amount Money `json:"amount"`
	}
	err := json.Unmarshal([]byte(`{"amount":184467440737095517.16}`), &in)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrOutOfRange)
	assert.Zero(t, in.Amount.AmountMinor)
}

func TestUnmarshalJSONRejectsSubCentavoPrecision(t *testing.T) {
	var in struct {
		Amount Money `json:"amount"`
	}
	for _, raw := range []string{`{"amount":10.005}`, `{"amount":"0.001"}`, `{"amount":1000.999}`} {
		in.Amount = Money{}
		err := json.Unmarshal([]byte(raw), &in)
		assert.ErrorIs(t, err, ErrPrecision, raw)
		assert.Zero(t, in.Amount.AmountMinor, raw)
	}

	require.NoError(t, json.Unmarshal([]byte(`{"amount":10.0100}`), &in))
	assert.Equal(t, New(1001, BRL), in.Amount)
}

func TestMultiplyRate(t *testing.T) {
	m := New(100000, BRL)
	assert.Equal(t, int64(3500), m.MultiplyRate(decimal.RequireFromString("0.035")).AmountMinor)

	// 333.33 * 0.1 = 33.333 -> 33.33
	assert.Equal(t, int64(3333), New(33333, BRL).MultiplyRate(decimal.RequireFromString("0.1")).AmountMinor)
	// 0.05 * 0.5 = 0.025 -> 0.03
	assert.Equal(t, int64(3), New(5, BRL).MultiplyRate(decimal.RequireFromString("0.5")).AmountMinor)
}

func TestArithmeticRejectsCurrencyMismatch(t *testing.T) {
	_, err := New(1, BRL).Add(New(1, USD))
	assert.Error(t, err)
	_, err = New(1, BRL).Sub(New(1, USD))
	assert.Error(t, err)
	assert.False(t, New(1, BRL).LessThan(New(2, USD)))
}

func TestString(t *testing.T) {
	assert.Equal(t, "R$900.00", New(90000, BRL).String())
	assert.Equal(t, "R$0.05", New(5, BRL).String())
}

func TestJSON(t *testing.T) {
	raw, err := json.Marshal(struct {
		Amount Money `json:"amount"`
	}{New(90000, BRL)})
	require.NoError(t, err)
	assert.JSONEq(t, `{"amount":900.00}`, string(raw))

	var in struct {
		Amount Money `json:"amount"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"amount":1000.5}`), &in))
	assert.Equal(t, New(100050, BRL), in.Amount)

	require.NoError(t, json.Unmarshal([]byte(`{"amount":"12.34"}`), &in))
	assert.Equal(t, New(1234, BRL), in.Amount)
}

func TestSum(t *testing.T) {
	total, err := Sum(New(100, BRL), New(250, BRL))
	require.NoError(t, err)
	assert.Equal(t, int64(350), total.AmountMinor)
}
