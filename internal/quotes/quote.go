package quotes

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/coinpilot/txengine/pkg/money"
)

// OrderDirection tells the quote and order backends which legs of the
// transaction are custodial.
type OrderDirection int

const (
	// DirectionInternal moves value between custodial balances.
	DirectionInternal OrderDirection = iota
	// DirectionFromUserKey spends from on-chain keys into custody.
	DirectionFromUserKey
	// DirectionToUserKey pays out of custody to on-chain keys.
	DirectionToUserKey
	// DirectionOnChain never touches custody.
	DirectionOnChain
)

func (d OrderDirection) String() string {
	switch d {
	case DirectionInternal:
		return "internal"
	case DirectionFromUserKey:
		return "from_user_key"
	case DirectionToUserKey:
		return "to_user_key"
	case DirectionOnChain:
		return "on_chain"
	}
	return "unknown"
}

// IsFromCustodial reports whether the source leg is custodial.
func (d OrderDirection) IsFromCustodial() bool {
	return d == DirectionInternal || d == DirectionToUserKey
}

// IsToCustodial reports whether the destination leg is custodial.
func (d OrderDirection) IsToCustodial() bool {
	return d == DirectionInternal || d == DirectionFromUserKey
}

// OrderPair is the source/destination currency pair a quote prices.
type OrderPair struct {
	Source      money.Currency
	Destination money.Currency
}

func (p OrderPair) String() string {
	return p.Source.Code + "-" + p.Destination.Code
}

// PricedQuote is one priced quote for a pair. Immutable once emitted;
// a newer quote simply supersedes it.
type PricedQuote struct {
	ID   uuid.UUID
	Pair OrderPair

	// Price is quoted in the destination currency per one unit of the
	// source currency.
	Price money.Value

	// StaticFee and NetworkFee are both in the destination currency.
	StaticFee  money.Value
	NetworkFee money.Value

	// SampleDepositAddress pre-initializes on-chain engines before the
	// real order deposit address is known.
	SampleDepositAddress string

	CreatedAt time.Time
}

// Fetcher obtains a quote from the pricing backend. The amount is the
// latest user-entered amount; backends with tiered fee schedules price
// against it.
type Fetcher interface {
	FetchQuote(ctx context.Context, direction OrderDirection, pair OrderPair, amount decimal.Decimal) (PricedQuote, error)
}
