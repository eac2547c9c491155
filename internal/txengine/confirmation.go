package txengine

import (
	"fmt"

	"github.com/coinpilot/txengine/internal/quotes"
	"github.com/coinpilot/txengine/pkg/money"
)

// ConfirmationKind identifies a line item on the pre-execution
// summary.
type ConfirmationKind int

const (
	ConfirmationSourceValue ConfirmationKind = iota
	ConfirmationDestinationValue
	ConfirmationExchangeRate
	ConfirmationSource
	ConfirmationDestination
	ConfirmationStaticFee
	ConfirmationNetworkFee
	ConfirmationTotalCost
)

func (k ConfirmationKind) String() string {
	switch k {
	case ConfirmationSourceValue:
		return "source_value"
	case ConfirmationDestinationValue:
		return "destination_value"
	case ConfirmationExchangeRate:
		return "exchange_rate"
	case ConfirmationSource:
		return "source"
	case ConfirmationDestination:
		return "destination"
	case ConfirmationStaticFee:
		return "static_fee"
	case ConfirmationNetworkFee:
		return "network_fee"
	case ConfirmationTotalCost:
		return "total_cost"
	}
	return "unknown"
}

// Confirmation is one line item the user approves. Value carries the
// primary amount; Secondary the counter-currency equivalent where one
// applies, Label account names for source/destination rows. Order
// within a list is fixed per action by the builder and never
// reordered.
type Confirmation struct {
	Kind      ConfirmationKind
	Value     money.Value
	Secondary *money.Value
	Label     string
}

func (c Confirmation) String() string {
	if c.Label != "" {
		return fmt.Sprintf("%s: %s", c.Kind, c.Label)
	}
	return fmt.Sprintf("%s: %s", c.Kind, c.Value)
}

// buildSellConfirmations produces the fixed sell line-item order:
// source value, destination value, rate, source, static fee (when
// non-zero), destination, network fee, total cost. Deterministic for a
// given (pending, quote); totals reuse the same conversion as the
// line items.
func buildSellConfirmations(
	p PendingTransaction,
	quote quotes.PricedQuote,
	sourceLabel, targetLabel string,
) ([]Confirmation, error) {
	rate := quote.Price
	destinationValue := p.Amount.Convert(rate)
	fiatFee := p.FeeAmount.Convert(rate)

	out := []Confirmation{
		{Kind: ConfirmationSourceValue, Value: p.Amount},
		{Kind: ConfirmationDestinationValue, Value: destinationValue},
		{Kind: ConfirmationExchangeRate, Value: rate},
		{Kind: ConfirmationSource, Value: money.Zero(p.Amount.Currency), Label: sourceLabel},
	}
	if !quote.StaticFee.IsZero() {
		out = append(out, Confirmation{Kind: ConfirmationStaticFee, Value: quote.StaticFee})
	}
	out = append(out,
		Confirmation{Kind: ConfirmationDestination, Value: money.Zero(rate.Currency), Label: targetLabel},
		Confirmation{Kind: ConfirmationNetworkFee, Value: p.FeeAmount, Secondary: &fiatFee},
	)

	totalFiat, err := destinationValue.Add(fiatFee)
	if err != nil {
		return nil, fmt.Errorf("total cost: %w", err)
	}
	if !quote.StaticFee.IsZero() {
		if totalFiat, err = totalFiat.Add(quote.StaticFee); err != nil {
			return nil, fmt.Errorf("total cost: %w", err)
		}
	}
	totalSource, err := p.Amount.Add(p.FeeAmount)
	if err != nil {
		return nil, fmt.Errorf("total cost: %w", err)
	}
	out = append(out, Confirmation{Kind: ConfirmationTotalCost, Value: totalSource, Secondary: &totalFiat})
	return out, nil
}

// buildSwapConfirmations produces the fixed swap order: source value,
// destination value, rate, source, destination, destination-side
// network fee, source-side fee.
func buildSwapConfirmations(
	p PendingTransaction,
	quote quotes.PricedQuote,
	sourceLabel, targetLabel string,
) ([]Confirmation, error) {
	rate := quote.Price
	destinationValue := p.Amount.Convert(rate)

	return []Confirmation{
		{Kind: ConfirmationSourceValue, Value: p.Amount},
		{Kind: ConfirmationDestinationValue, Value: destinationValue},
		{Kind: ConfirmationExchangeRate, Value: rate},
		{Kind: ConfirmationSource, Value: money.Zero(p.Amount.Currency), Label: sourceLabel},
		{Kind: ConfirmationDestination, Value: money.Zero(rate.Currency), Label: targetLabel},
		{Kind: ConfirmationNetworkFee, Value: quote.NetworkFee},
		{Kind: ConfirmationNetworkFee, Value: p.FeeAmount},
	}, nil
}

// buildSendConfirmations produces the fixed send/withdraw order:
// source, destination, network fee (with fiat equivalent), total.
func buildSendConfirmations(
	p PendingTransaction,
	fiatRate money.Value,
	sourceLabel, targetLabel string,
) ([]Confirmation, error) {
	fiatFee := p.FeeAmount.Convert(fiatRate)
	fiatAmount := p.Amount.Convert(fiatRate)

	total, err := p.Amount.Add(p.FeeAmount)
	if err != nil {
		return nil, fmt.Errorf("total cost: %w", err)
	}
	totalFiat, err := fiatAmount.Add(fiatFee)
	if err != nil {
		return nil, fmt.Errorf("total cost: %w", err)
	}

	return []Confirmation{
		{Kind: ConfirmationSource, Value: money.Zero(p.Amount.Currency), Label: sourceLabel},
		{Kind: ConfirmationDestination, Value: money.Zero(p.Amount.Currency), Label: targetLabel},
		{Kind: ConfirmationNetworkFee, Value: p.FeeAmount, Secondary: &fiatFee},
		{Kind: ConfirmationTotalCost, Value: total, Secondary: &totalFiat},
	}, nil
}
