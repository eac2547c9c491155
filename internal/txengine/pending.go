package txengine

import (
	"github.com/coinpilot/txengine/internal/limits"
	"github.com/coinpilot/txengine/pkg/money"
)

// FeeLevel is a named fee tier for on-chain transactions.
type FeeLevel int

const (
	FeeLevelNone FeeLevel = iota
	FeeLevelRegular
	FeeLevelPriority
	FeeLevelCustom
)

func (l FeeLevel) String() string {
	switch l {
	case FeeLevelNone:
		return "none"
	case FeeLevelRegular:
		return "regular"
	case FeeLevelPriority:
		return "priority"
	case FeeLevelCustom:
		return "custom"
	}
	return "unknown"
}

// FeeSelection is the chosen fee level plus the levels the engine
// offers for the asset.
type FeeSelection struct {
	Selected     FeeLevel
	Available    []FeeLevel
	CustomAmount *money.Value
	Asset        money.Currency
}

// EmptyFeeSelection is a selection with no available levels, used by
// custodial engines where fees are not user-selectable.
func EmptyFeeSelection(asset money.Currency) FeeSelection {
	return FeeSelection{Selected: FeeLevelNone, Available: []FeeLevel{FeeLevelNone}, Asset: asset}
}

// Contains reports whether the level is offered.
func (s FeeSelection) Contains(level FeeLevel) bool {
	for _, l := range s.Available {
		if l == level {
			return true
		}
	}
	return false
}

// PendingTransaction is the in-flight, mutable record of one
// transaction attempt. It is created once per InitializeTransaction
// and threaded by value through every engine call; update helpers
// return copies so stale references never mutate under a caller.
// The amount currency is fixed for the lifetime of one pending
// transaction.
type PendingTransaction struct {
	Amount money.Value
	// Available is the source's actionable balance minus the fee for
	// the current fee level.
	Available           money.Value
	FeeAmount           money.Value
	FeeForFullAvailable money.Value
	FeeSelection        FeeSelection
	SelectedFiat        money.Currency

	// Limits are derived, never hand-edited; nil until the first
	// limits computation succeeds.
	Limits *limits.Limits

	// Confirmations are always rebuilt as a whole, never patched.
	Confirmations []Confirmation

	ValidationState limits.ValidationState
}

// NewPendingTransaction seeds a zeroed transaction in the source
// currency.
func NewPendingTransaction(source money.Currency, fiat money.Currency) PendingTransaction {
	return PendingTransaction{
		Amount:              money.Zero(source),
		Available:           money.Zero(source),
		FeeAmount:           money.Zero(source),
		FeeForFullAvailable: money.Zero(source),
		FeeSelection:        EmptyFeeSelection(source),
		SelectedFiat:        fiat,
		ValidationState:     limits.ValidationUninitialized,
	}
}

// WithAmount returns a copy with the amount replaced.
func (p PendingTransaction) WithAmount(amount money.Value) PendingTransaction {
	p.Amount = amount
	return p
}

// WithBalances returns a copy with amount, available balance and fees
// replaced, the usual result of an on-chain fee recomputation.
func (p PendingTransaction) WithBalances(amount, available, fee, feeForFull money.Value) PendingTransaction {
	p.Amount = amount
	p.Available = available
	p.FeeAmount = fee
	p.FeeForFullAvailable = feeForFull
	return p
}

// WithValidationState returns a copy with the validation state set.
func (p PendingTransaction) WithValidationState(state limits.ValidationState) PendingTransaction {
	p.ValidationState = state
	return p
}

// WithSelectedFeeLevel returns a copy with the fee level selected.
func (p PendingTransaction) WithSelectedFeeLevel(level FeeLevel, custom *money.Value) PendingTransaction {
	p.FeeSelection.Selected = level
	p.FeeSelection.CustomAmount = custom
	return p
}

// WithConfirmations returns a copy with the confirmation list
// replaced.
func (p PendingTransaction) WithConfirmations(confirmations []Confirmation) PendingTransaction {
	p.Confirmations = confirmations
	return p
}

// ClearConfirmations returns a copy with no confirmations; any amount
// or quote change makes the previous list stale.
func (p PendingTransaction) ClearConfirmations() PendingTransaction {
	p.Confirmations = nil
	return p
}

// WithLimits returns a copy with the limits replaced.
func (p PendingTransaction) WithLimits(l limits.Limits) PendingTransaction {
	p.Limits = &l
	return p
}

// MinLimit is the effective floor, zero before limits are known.
func (p PendingTransaction) MinLimit() money.Value {
	if p.Limits == nil {
		return money.Zero(p.Amount.Currency)
	}
	return p.Limits.Min
}

// MaxLimit is the ceiling, the available balance before limits are
// known.
func (p PendingTransaction) MaxLimit() money.Value {
	if p.Limits == nil {
		return p.Available
	}
	return p.Limits.Max
}

// MaxSpendable is the smaller of the ceiling minus fees and the
// available balance, floored at zero.
func (p PendingTransaction) MaxSpendable() money.Value {
	if p.Limits == nil {
		return p.Available
	}
	afterFee, err := p.Limits.Max.Sub(p.FeeAmount)
	if err != nil {
		return p.Available
	}
	capped, err := money.Min(p.Available, afterFee)
	if err != nil {
		return p.Available
	}
	if capped.IsNegative() {
		return money.Zero(p.Amount.Currency)
	}
	return capped
}

// CanExecute reports whether the last validation passed.
func (p PendingTransaction) CanExecute() bool {
	return p.ValidationState == limits.ValidationCanExecute
}
