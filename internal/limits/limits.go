// Package limits combines the user's KYC tier status with externally
// supplied trade bounds into validated per-transaction limits.
package limits

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/coinpilot/txengine/internal/quotes"
	"github.com/coinpilot/txengine/pkg/money"
)

// UserTiers is the user's KYC verification status. Tier 2 approved
// means fully verified (gold).
type UserTiers struct {
	Tier          int
	Tier1Approved bool
	Tier2Approved bool
}

// TierService looks up the user's tier status. External collaborator.
type TierService interface {
	Tiers(ctx context.Context) (UserTiers, error)
}

// TradeBounds are the fiat min/max order sizes for a product.
type TradeBounds struct {
	MinOrder decimal.Decimal
	MaxOrder decimal.Decimal
}

// TradeLimitsService fetches trade bounds. External collaborator.
type TradeLimitsService interface {
	FetchLimits(ctx context.Context, fiat money.Currency, product string) (TradeBounds, error)
}

// PriceService resolves a fiat price for a currency. External
// collaborator; only consulted when the active quote cannot supply the
// fiat rate itself (crypto-to-crypto pairs).
type PriceService interface {
	Price(ctx context.Context, base, fiat money.Currency) (money.Value, error)
}

// Limits are the validated bounds for one pending transaction, in the
// transaction's source currency.
type Limits struct {
	// Min is the effective floor: MinAPI plus the quote's fees
	// converted into the source currency.
	Min money.Value
	// Max is the tier ceiling.
	Max money.Value
	// MinAPI is the raw backend minimum before fees.
	MinAPI money.Value
	Tiers  UserTiers
}

// Calculator computes and validates transaction limits.
type Calculator struct {
	logger      *zap.Logger
	tierService TierService
	tradeLimits TradeLimitsService
	prices      PriceService
}

// NewCalculator creates a limits calculator. The price service may be
// nil when every engine using the calculator quotes against fiat
// directly.
func NewCalculator(logger *zap.Logger, tiers TierService, trade TradeLimitsService, prices PriceService) *Calculator {
	return &Calculator{logger: logger, tierService: tiers, tradeLimits: trade, prices: prices}
}

// Compute fetches tier status and fiat trade bounds, converts the
// bounds into the source currency through the quote, and folds the
// quote's fees into the floor. Re-run whenever the quote or the amount
// changes: the price moves the fiat-to-source conversion.
func (c *Calculator) Compute(
	ctx context.Context,
	quote quotes.PricedQuote,
	source money.Currency,
	fiat money.Currency,
	product string,
) (Limits, error) {
	tiers, err := c.tierService.Tiers(ctx)
	if err != nil {
		return Limits{}, fmt.Errorf("fetch tiers: %w", err)
	}
	bounds, err := c.tradeLimits.FetchLimits(ctx, fiat, product)
	if err != nil {
		return Limits{}, fmt.Errorf("fetch trade limits: %w", err)
	}

	// The fiat bounds convert into the source currency through the
	// inverse of a fiat-per-source rate. When the quote itself prices
	// against the requested fiat that rate is the quote price;
	// otherwise (crypto-to-crypto pairs) the price service supplies it.
	fiatRate := quote.Price
	if quote.Price.Currency.Code != fiat.Code {
		if c.prices == nil {
			return Limits{}, fmt.Errorf("no price service for %s in %s", source.Code, fiat.Code)
		}
		fiatRate, err = c.prices.Price(ctx, source, fiat)
		if err != nil {
			return Limits{}, fmt.Errorf("fetch %s price: %w", source.Code, err)
		}
	}

	minFiat := money.New(bounds.MinOrder, fiatRate.Currency)
	maxFiat := money.New(bounds.MaxOrder, fiatRate.Currency)

	minAPI, err := minFiat.ConvertInverse(fiatRate, source)
	if err != nil {
		return Limits{}, fmt.Errorf("convert minimum bound: %w", err)
	}
	max, err := maxFiat.ConvertInverse(fiatRate, source)
	if err != nil {
		return Limits{}, fmt.Errorf("convert maximum bound: %w", err)
	}

	min, err := minimumFloor(minAPI, quote, source)
	if err != nil {
		return Limits{}, err
	}

	return Limits{Min: min, Max: max, MinAPI: minAPI, Tiers: tiers}, nil
}

// minimumFloor is minAPI plus the quote's static and network fees
// converted into the source currency. One canonical conversion routine
// serves every engine variant.
func minimumFloor(minAPI money.Value, quote quotes.PricedQuote, source money.Currency) (money.Value, error) {
	totalFees, err := quote.NetworkFee.Add(quote.StaticFee)
	if err != nil {
		return money.Value{}, fmt.Errorf("sum quote fees: %w", err)
	}
	convertedFees, err := totalFees.ConvertInverse(quote.Price, source)
	if err != nil {
		return money.Value{}, fmt.Errorf("convert quote fees: %w", err)
	}
	return minAPI.Add(convertedFees)
}

// Refresh recomputes the floor of existing limits against a newer
// quote without refetching tier or bound data.
func Refresh(l Limits, quote quotes.PricedQuote) (Limits, error) {
	min, err := minimumFloor(l.MinAPI, quote, l.MinAPI.Currency)
	if err != nil {
		return Limits{}, err
	}
	l.Min = min
	return l, nil
}

// ValidateAmount checks an amount against the actionable balance and
// the limits. A nil limits pointer at validation time is an unknown
// error: fatal to this call, not to the engine.
func (c *Calculator) ValidateAmount(amount, available money.Value, l *Limits) error {
	over, err := amount.Cmp(available)
	if err != nil {
		return NewValidationError(ValidationUnknownError)
	}
	if over > 0 {
		return NewValidationError(ValidationInsufficientFunds)
	}
	if l == nil {
		c.logger.Error("limits missing at validation time",
			zap.String("amount", amount.String()))
		return NewValidationError(ValidationUnknownError)
	}
	below, err := amount.Cmp(l.Min)
	if err != nil {
		return NewValidationError(ValidationUnknownError)
	}
	if below < 0 {
		return NewValidationError(ValidationBelowMinimumLimit)
	}
	above, err := amount.Cmp(l.Max)
	if err != nil {
		return NewValidationError(ValidationUnknownError)
	}
	if above > 0 {
		if l.Tiers.Tier2Approved {
			return NewValidationError(ValidationOverGoldTierLimit)
		}
		return NewValidationError(ValidationOverSilverTierLimit)
	}
	return nil
}
