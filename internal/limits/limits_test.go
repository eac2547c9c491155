package limits

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/coinpilot/txengine/internal/quotes"
	"github.com/coinpilot/txengine/pkg/money"
)

type stubTiers struct {
	tiers UserTiers
}

func (s *stubTiers) Tiers(ctx context.Context) (UserTiers, error) { return s.tiers, nil }

type stubTradeLimits struct {
	bounds TradeBounds
}

func (s *stubTradeLimits) FetchLimits(ctx context.Context, fiat money.Currency, product string) (TradeBounds, error) {
	return s.bounds, nil
}

func testQuote(price int64, staticFee, networkFee string) quotes.PricedQuote {
	return quotes.PricedQuote{
		ID:         uuid.New(),
		Pair:       quotes.OrderPair{Source: money.BTC, Destination: money.GBP},
		Price:      money.New(decimal.NewFromInt(price), money.GBP),
		StaticFee:  money.New(decimal.RequireFromString(staticFee), money.GBP),
		NetworkFee: money.New(decimal.RequireFromString(networkFee), money.GBP),
		CreatedAt:  time.Now(),
	}
}

type stubPrices struct {
	rate money.Value
}

func (s *stubPrices) Price(ctx context.Context, base, fiat money.Currency) (money.Value, error) {
	return s.rate, nil
}

func newCalculator(t *testing.T, tiers UserTiers, bounds TradeBounds) *Calculator {
	t.Helper()
	return NewCalculator(zaptest.NewLogger(t), &stubTiers{tiers: tiers}, &stubTradeLimits{bounds: bounds}, nil)
}

func TestComputeConvertsBoundsThroughQuote(t *testing.T) {
	calc := newCalculator(t,
		UserTiers{Tier: 2, Tier1Approved: true, Tier2Approved: true},
		TradeBounds{MinOrder: decimal.NewFromInt(10), MaxOrder: decimal.NewFromInt(10000)},
	)

	// 20000 GBP/BTC, 1 GBP static fee, 1 GBP network fee.
	l, err := calc.Compute(context.Background(), testQuote(20000, "1", "1"), money.BTC, money.GBP, "sell")
	require.NoError(t, err)

	// 10 GBP floor -> 0.0005 BTC, plus 2 GBP of fees -> 0.0001 BTC.
	assert.True(t, l.MinAPI.Amount.Equal(decimal.RequireFromString("0.0005")), "minAPI %s", l.MinAPI)
	assert.True(t, l.Min.Amount.Equal(decimal.RequireFromString("0.0006")), "min %s", l.Min)
	assert.True(t, l.Max.Amount.Equal(decimal.RequireFromString("0.5")), "max %s", l.Max)
	assert.True(t, l.Min.Amount.LessThanOrEqual(l.Max.Amount))
}

func TestComputeUsesPriceServiceForCryptoPairs(t *testing.T) {
	// BTC -> ETH swap quote; the fiat bounds need the BTC/GBP price.
	quote := quotes.PricedQuote{
		ID:         uuid.New(),
		Pair:       quotes.OrderPair{Source: money.BTC, Destination: money.ETH},
		Price:      money.New(decimal.NewFromInt(10), money.ETH),
		StaticFee:  money.Zero(money.ETH),
		NetworkFee: money.Zero(money.ETH),
		CreatedAt:  time.Now(),
	}
	calc := NewCalculator(
		zaptest.NewLogger(t),
		&stubTiers{tiers: UserTiers{Tier2Approved: true}},
		&stubTradeLimits{bounds: TradeBounds{MinOrder: decimal.NewFromInt(10), MaxOrder: decimal.NewFromInt(10000)}},
		&stubPrices{rate: money.New(decimal.NewFromInt(20000), money.GBP)},
	)

	l, err := calc.Compute(context.Background(), quote, money.BTC, money.GBP, "swap")
	require.NoError(t, err)
	assert.True(t, l.MinAPI.Amount.Equal(decimal.RequireFromString("0.0005")), "minAPI %s", l.MinAPI)
	assert.True(t, l.Max.Amount.Equal(decimal.RequireFromString("0.5")), "max %s", l.Max)
}

func TestRefreshRecomputesFloorOnly(t *testing.T) {
	calc := newCalculator(t,
		UserTiers{Tier2Approved: true},
		TradeBounds{MinOrder: decimal.NewFromInt(10), MaxOrder: decimal.NewFromInt(10000)},
	)
	l, err := calc.Compute(context.Background(), testQuote(20000, "1", "1"), money.BTC, money.GBP, "sell")
	require.NoError(t, err)

	refreshed, err := Refresh(l, testQuote(20000, "3", "1"))
	require.NoError(t, err)
	assert.True(t, refreshed.Min.Amount.Equal(decimal.RequireFromString("0.0007")), "min %s", refreshed.Min)
	assert.True(t, refreshed.Max.Amount.Equal(l.Max.Amount))
}

func validateState(t *testing.T, err error) ValidationState {
	t.Helper()
	require.Error(t, err)
	verr, ok := err.(*ValidationError)
	require.True(t, ok, "expected ValidationError, got %T", err)
	return verr.State
}

func TestValidateAmountClassification(t *testing.T) {
	calc := newCalculator(t, UserTiers{}, TradeBounds{})
	btc := func(s string) money.Value { return money.New(decimal.RequireFromString(s), money.BTC) }

	goldLimits := &Limits{
		Min:    btc("0.001"),
		Max:    btc("1"),
		MinAPI: btc("0.0005"),
		Tiers:  UserTiers{Tier2Approved: true},
	}
	silverLimits := &Limits{
		Min:    btc("0.001"),
		Max:    btc("1"),
		MinAPI: btc("0.0005"),
		Tiers:  UserTiers{Tier1Approved: true},
	}
	available := btc("2")

	tests := []struct {
		name      string
		amount    money.Value
		available money.Value
		limits    *Limits
		want      ValidationState
	}{
		{"below minimum", btc("0.0001"), available, goldLimits, ValidationBelowMinimumLimit},
		{"over gold ceiling", btc("1.5"), available, goldLimits, ValidationOverGoldTierLimit},
		{"over silver ceiling", btc("1.5"), available, silverLimits, ValidationOverSilverTierLimit},
		{"insufficient funds", btc("3"), available, goldLimits, ValidationInsufficientFunds},
		{"missing limits", btc("0.5"), available, nil, ValidationUnknownError},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := calc.ValidateAmount(tc.amount, tc.available, tc.limits)
			assert.Equal(t, tc.want, validateState(t, err))
		})
	}
}

func TestValidateAmountInBoundsSucceeds(t *testing.T) {
	calc := newCalculator(t, UserTiers{}, TradeBounds{})
	btc := func(s string) money.Value { return money.New(decimal.RequireFromString(s), money.BTC) }

	l := &Limits{Min: btc("0.001"), Max: btc("1"), MinAPI: btc("0.0005")}
	for _, amount := range []string{"0.001", "0.5", "1"} {
		assert.NoError(t, calc.ValidateAmount(btc(amount), btc("2"), l), "amount %s", amount)
	}
}
