// Package txengine implements the transaction engines that drive a
// user-initiated value movement from initiation to settlement. One
// concrete engine exists per valid (account kind, action) combination;
// the factory selects it at initialization time.
package txengine

import (
	"context"
	"errors"
	"fmt"

	"github.com/coinpilot/txengine/internal/account"
	"github.com/coinpilot/txengine/internal/limits"
	"github.com/coinpilot/txengine/pkg/money"
)

// AssetAction is the user-initiated action being processed.
type AssetAction int

const (
	ActionBuy AssetAction = iota
	ActionSell
	ActionSwap
	ActionSend
	ActionDeposit
	ActionWithdraw
)

func (a AssetAction) String() string {
	switch a {
	case ActionBuy:
		return "buy"
	case ActionSell:
		return "sell"
	case ActionSwap:
		return "swap"
	case ActionSend:
		return "send"
	case ActionDeposit:
		return "deposit"
	case ActionWithdraw:
		return "withdraw"
	}
	return "unknown"
}

// TransactionEngine owns the action-specific business rules of one
// transaction flow. Lifecycle calls are serialized by the transaction
// model; an engine never sees two concurrent calls for the same
// pending transaction.
type TransactionEngine interface {
	// Start binds source and target and asserts they are the kinds
	// this variant supports. A mismatch is a caller contract violation
	// and panics.
	Start(source account.Account, target account.Target) error

	// InitializeTransaction seeds the pending transaction: zero
	// amount, available balance, default fee selection, first limits
	// computation.
	InitializeTransaction(ctx context.Context) (PendingTransaction, error)

	// Update applies a new amount, recomputes fees and balances,
	// clears stale confirmations and pushes the amount to the quote
	// engine.
	Update(ctx context.Context, amount money.Value, p PendingTransaction) (PendingTransaction, error)

	// UpdateFeeLevel switches the fee level. Requesting a level not in
	// FeeSelection.Available panics: programming error, not a runtime
	// condition.
	UpdateFeeLevel(ctx context.Context, p PendingTransaction, level FeeLevel, custom *money.Value) (PendingTransaction, error)

	// BuildConfirmations snapshots exactly one quote, rebuilds the
	// ordered confirmation list and re-runs the limits computation.
	BuildConfirmations(ctx context.Context, p PendingTransaction) (PendingTransaction, error)

	// ValidateAll is the final gate before execution. Validation
	// failures are recorded on the returned pending transaction, not
	// returned as errors; errors are reserved for infrastructure
	// failures.
	ValidateAll(ctx context.Context, p PendingTransaction) (PendingTransaction, error)

	// Execute settles the transaction. It must only be called after
	// ValidateAll reported CanExecute.
	Execute(ctx context.Context, p PendingTransaction, secondPassword string) (TransactionResult, error)

	// PostExecute notifies the target that the transaction completed.
	PostExecute(ctx context.Context, result TransactionResult) error

	// Stop releases the quote poll and any other engine resources.
	Stop()
}

// OnChainEngine is the per-asset sub-engine non-custodial variants
// delegate signing and broadcasting to.
type OnChainEngine interface {
	Start(source account.Account, target account.Target) error
	Restart(target account.Target, p PendingTransaction) (PendingTransaction, error)
	InitializeTransaction(ctx context.Context) (PendingTransaction, error)
	Update(ctx context.Context, amount money.Value, p PendingTransaction) (PendingTransaction, error)
	UpdateFeeLevel(ctx context.Context, p PendingTransaction, level FeeLevel, custom *money.Value) (PendingTransaction, error)
	ValidateAmount(ctx context.Context, p PendingTransaction) (PendingTransaction, error)
	Execute(ctx context.Context, p PendingTransaction, secondPassword string) (TransactionResult, error)
}

// ErrNoEngine is returned by the factory for an unsupported
// (account kind, action) combination.
var ErrNoEngine = errors.New("no engine for account kind and action")

// validateUpdateAmount enforces the fiat-input invariant: engines that
// cannot transact fiat must never receive a fiat amount. A mismatch is
// an implementation error in the caller.
func validateUpdateAmount(amount money.Value, canTransactFiat bool) money.Value {
	if amount.Currency.IsFiat() && !canTransactFiat {
		panic(fmt.Sprintf("engine cannot transact fiat but amount is %s", amount.Currency.Code))
	}
	return amount
}

// applyValidation folds a validation outcome into the pending
// transaction. Validation failures become state; anything else is an
// infrastructure error and propagates.
func applyValidation(p PendingTransaction, err error) (PendingTransaction, error) {
	if err == nil {
		return p.WithValidationState(limits.ValidationCanExecute), nil
	}
	var verr *limits.ValidationError
	if errors.As(err, &verr) {
		return p.WithValidationState(verr.State), nil
	}
	return p, err
}

// defaultFeeLevel prefers priority when the asset offers it.
func defaultFeeLevel(selection FeeSelection) FeeLevel {
	if selection.Contains(FeeLevelPriority) {
		return FeeLevelPriority
	}
	return selection.Selected
}
