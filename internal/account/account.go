// Package account defines the source and destination handles the
// transaction engines operate on. Balances and labels come from an
// external account provider; the in-memory implementations here back
// the example wiring and tests.
package account

import (
	"context"

	"github.com/google/uuid"

	"github.com/coinpilot/txengine/pkg/money"
)

// Kind is the backing model of an account.
type Kind int

const (
	// KindCustodial balances are held by the platform and settled by
	// ledger entry.
	KindCustodial Kind = iota
	// KindNonCustodial balances are controlled by on-chain keys and
	// settled by broadcasting a signed transaction.
	KindNonCustodial
)

// Account is a source or destination holding.
type Account interface {
	ID() uuid.UUID
	Label() string
	Currency() money.Currency
	Kind() Kind

	// Balance is the total balance; ActionableBalance is what can be
	// spent right now (total minus holds and pending).
	Balance(ctx context.Context) (money.Value, error)
	ActionableBalance(ctx context.Context) (money.Value, error)
}

// Target is a transaction destination: an account or a raw address.
type Target interface {
	Label() string
	Currency() money.Currency

	// OnTxCompleted is invoked after a successful execution so
	// custodial targets can reconcile a pending deposit.
	OnTxCompleted(ctx context.Context, txID string) error
}

// AddressTarget is a Target backed by a raw on-chain address.
type AddressTarget interface {
	Target
	Address() string
}

// Provider yields the accounts available for a given action. It is an
// external collaborator; the engine only reads from it.
type Provider interface {
	Accounts(ctx context.Context, currency money.Currency) ([]Account, error)
	Targets(ctx context.Context, source Account) ([]Target, error)
}
