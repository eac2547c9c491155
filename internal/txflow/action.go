package txflow

import (
	"github.com/coinpilot/txengine/internal/account"
	"github.com/coinpilot/txengine/internal/txengine"
	"github.com/coinpilot/txengine/pkg/money"
)

// Action is the closed set of events a flow accepts. Callers dispatch
// the exported actions; the lowercase result actions are dispatched by
// the model itself when an effect completes.
type Action interface {
	isAction()
}

// InitialiseWithNoSourceOrTarget starts a flow where the user picks
// the source first.
type InitialiseWithNoSourceOrTarget struct {
	AssetAction txengine.AssetAction
}

// InitialiseWithSourceAccount starts a flow with the source known and
// the destination still to be chosen.
type InitialiseWithSourceAccount struct {
	AssetAction txengine.AssetAction
	Source      account.Account
}

// InitialiseWithSourceAndTarget starts a fully specified flow.
type InitialiseWithSourceAndTarget struct {
	AssetAction txengine.AssetAction
	Source      account.Account
	Target      account.Target
}

// SourceAccountSelected reports the user's source choice.
type SourceAccountSelected struct {
	Source account.Account
}

// TargetSelected reports the user's destination choice.
type TargetSelected struct {
	Target account.Target
}

// AmountChanged carries a user-edited amount.
type AmountChanged struct {
	Amount money.Value
}

// FeeLevelChanged switches the fee level.
type FeeLevelChanged struct {
	Level  txengine.FeeLevel
	Custom *money.Value
}

// PrepareTransaction moves to the confirmation step and builds the
// confirmation list.
type PrepareTransaction struct{}

// ExecuteTransaction runs the final validation and settles.
type ExecuteTransaction struct {
	SecondPassword string
}

// ReturnToPreviousStep pops one step off the back stack.
type ReturnToPreviousStep struct{}

// ResetFlow terminates the flow. The step moves to closed and no
// further action is accepted.
type ResetFlow struct{}

// FatalError aborts the current step, leaving the rest of the state
// intact.
type FatalError struct {
	Err error
}

// Result actions, dispatched by the model when effects complete.

type sourcesLoaded struct {
	sources []account.Account
}

type targetsLoaded struct {
	targets []account.Target
}

type pendingUpdated struct {
	pending txengine.PendingTransaction
}

type executionSucceeded struct {
	result txengine.TransactionResult
}

type executionFailed struct {
	err error
}

func (InitialiseWithNoSourceOrTarget) isAction() {}
func (InitialiseWithSourceAccount) isAction()    {}
func (InitialiseWithSourceAndTarget) isAction()  {}
func (SourceAccountSelected) isAction()          {}
func (TargetSelected) isAction()                 {}
func (AmountChanged) isAction()                  {}
func (FeeLevelChanged) isAction()                {}
func (PrepareTransaction) isAction()             {}
func (ExecuteTransaction) isAction()             {}
func (ReturnToPreviousStep) isAction()           {}
func (ResetFlow) isAction()                      {}
func (FatalError) isAction()                     {}
func (sourcesLoaded) isAction()                  {}
func (targetsLoaded) isAction()                  {}
func (pendingUpdated) isAction()                 {}
func (executionSucceeded) isAction()             {}
func (executionFailed) isAction()                {}
