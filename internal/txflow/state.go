// Package txflow orchestrates one transaction flow: it holds the
// current TransactionState, reduces dispatched actions into new states
// and drives the selected transaction engine through its lifecycle.
// External actors only dispatch actions and observe states; nothing
// mutates state directly.
package txflow

import (
	"github.com/coinpilot/txengine/internal/account"
	"github.com/coinpilot/txengine/internal/txengine"
)

// Step is the current position in the flow's step machine.
type Step int

const (
	StepInitial Step = iota
	StepSelectSource
	StepEnterAmount
	StepSelectTarget
	StepConfirmDetail
	StepInProgress
	StepClosed
)

func (s Step) String() string {
	switch s {
	case StepInitial:
		return "initial"
	case StepSelectSource:
		return "select_source"
	case StepEnterAmount:
		return "enter_amount"
	case StepSelectTarget:
		return "select_target"
	case StepConfirmDetail:
		return "confirm_detail"
	case StepInProgress:
		return "in_progress"
	case StepClosed:
		return "closed"
	}
	return "unknown"
}

// AddsToBackStack reports whether entering this step records the
// previous one for back-navigation. Settlement steps are not
// back-navigable.
func (s Step) AddsToBackStack() bool {
	return s != StepInProgress && s != StepClosed
}

// ExecutionStatus tracks the settlement attempt.
type ExecutionStatus int

const (
	ExecutionNotStarted ExecutionStatus = iota
	ExecutionInProgress
	ExecutionCompleted
	ExecutionError
)

// TransactionState is the single observable surface of a flow. Values
// are immutable snapshots; the reducer returns fresh copies.
type TransactionState struct {
	AssetAction txengine.AssetAction
	Step        Step
	// StepsBackStack holds previously visited steps, oldest first. It
	// grows only on forward transitions into back-navigable steps and
	// shrinks only on ReturnToPreviousStep.
	StepsBackStack []Step

	Source      account.Account
	Destination account.Target

	AvailableSources []account.Account
	AvailableTargets []account.Target

	Pending txengine.PendingTransaction

	// IsGoingBack is set for exactly one reduction after a backward
	// transition so observers can collapse navigation, then cleared.
	IsGoingBack bool

	ErrorState      error
	ExecutionStatus ExecutionStatus
	NextEnabled     bool
}

// advance moves to a new step, recording the current one when the
// destination is back-navigable.
func (s TransactionState) advance(next Step) TransactionState {
	if next == s.Step {
		return s
	}
	if next.AddsToBackStack() {
		stack := make([]Step, len(s.StepsBackStack), len(s.StepsBackStack)+1)
		copy(stack, s.StepsBackStack)
		s.StepsBackStack = append(stack, s.Step)
	}
	s.Step = next
	return s
}

// popStep returns to the most recently recorded step. With an empty
// stack it is a no-op.
func (s TransactionState) popStep() TransactionState {
	if len(s.StepsBackStack) == 0 {
		return s
	}
	last := len(s.StepsBackStack) - 1
	s.Step = s.StepsBackStack[last]
	s.StepsBackStack = append([]Step{}, s.StepsBackStack[:last]...)
	s.IsGoingBack = true
	return s
}
