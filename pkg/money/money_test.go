package money

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValueArithmetic(t *testing.T) {
	a := New(decimal.NewFromFloat(0.5), BTC)
	b := New(decimal.NewFromFloat(0.25), BTC)

	sum, err := a.Add(b)
	require.NoError(t, err)
	assert.True(t, sum.Amount.Equal(decimal.NewFromFloat(0.75)))

	diff, err := a.Sub(b)
	require.NoError(t, err)
	assert.True(t, diff.Amount.Equal(decimal.NewFromFloat(0.25)))

	_, err = a.Add(New(decimal.NewFromInt(1), GBP))
	assert.Error(t, err)
}

func TestConvert(t *testing.T) {
	amount := New(decimal.NewFromFloat(0.01), BTC)
	rate := New(decimal.NewFromInt(20000), GBP)

	converted := amount.Convert(rate)
	assert.Equal(t, "GBP", converted.Currency.Code)
	assert.True(t, converted.Amount.Equal(decimal.NewFromInt(200)), "got %s", converted.Amount)
}

func TestConvertInverseRoundTrip(t *testing.T) {
	rate := New(decimal.NewFromInt(20000), GBP)
	source := New(decimal.NewFromFloat(0.01), BTC)

	fiat := source.Convert(rate)
	back, err := fiat.ConvertInverse(rate, BTC)
	require.NoError(t, err)

	// Round trip recovers the original amount within currency precision.
	diff := back.Amount.Sub(source.Amount).Abs()
	limit := decimal.New(1, -BTC.Precision)
	assert.True(t, diff.LessThanOrEqual(limit), "diff %s", diff)
}

func TestConvertInverseZeroRate(t *testing.T) {
	fee := New(decimal.NewFromInt(1), GBP)
	_, err := fee.ConvertInverse(Zero(GBP), BTC)
	assert.Error(t, err)
}

func TestConvertInverseRejectsMismatchedRate(t *testing.T) {
	fee := New(decimal.NewFromFloat(0.00005), BTC)
	rate := New(decimal.NewFromInt(1), GBP)
	_, err := fee.ConvertInverse(rate, GBP)
	assert.ErrorContains(t, err, "cannot convert")
}

func TestPairInverse(t *testing.T) {
	pair := NewPair(BTC, New(decimal.NewFromInt(20000), GBP))
	inv := pair.Inverse()
	assert.Equal(t, "GBP", inv.Base.Currency.Code)
	assert.Equal(t, "BTC", inv.Quote.Currency.Code)
	assert.True(t, inv.Quote.Amount.Equal(decimal.RequireFromString("0.00005")))
}

func TestMinMax(t *testing.T) {
	a := New(decimal.NewFromInt(5), GBP)
	b := New(decimal.NewFromInt(9), GBP)

	lo, err := Min(a, b)
	require.NoError(t, err)
	assert.True(t, lo.Amount.Equal(a.Amount))

	hi, err := Max(a, b)
	require.NoError(t, err)
	assert.True(t, hi.Amount.Equal(b.Amount))
}
