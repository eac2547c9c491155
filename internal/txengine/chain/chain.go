// Package chain provides per-asset on-chain sub-engines. They own
// address validation and fee math for their asset; signing and network
// submission stay behind the Broadcaster so the engines never hold key
// material.
package chain

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/coinpilot/txengine/pkg/money"
)

// Payment is a fully specified on-chain payment handed to the
// Broadcaster.
type Payment struct {
	Asset  money.Currency
	From   string
	To     string
	Amount money.Value
	Fee    money.Value
}

// Broadcaster signs and submits a payment, returning the transaction
// hash.
type Broadcaster interface {
	Broadcast(ctx context.Context, payment Payment) (txHash string, err error)
}

// FeeRates are per-unit fee rates in the asset's native fee unit:
// satoshi per virtual byte for bitcoin, gwei for ethereum.
type FeeRates struct {
	Regular  decimal.Decimal
	Priority decimal.Decimal
}

// FeeService supplies current fee rates for an asset. External
// collaborator.
type FeeService interface {
	FeeRates(ctx context.Context, asset money.Currency) (FeeRates, error)
}
