package txflow

import (
	"github.com/coinpilot/txengine/internal/account"
	"github.com/coinpilot/txengine/internal/txengine"
	"github.com/coinpilot/txengine/pkg/money"
)

// Effect is work the model performs after a reduction: engine
// lifecycle calls, collaborator fetches, teardown. Effects run
// serialized, never concurrently, and their results come back as
// actions.
type Effect interface {
	isEffect()
}

type loadSourcesEffect struct{}

type loadTargetsEffect struct {
	source account.Account
}

type initializeEffect struct {
	action txengine.AssetAction
	source account.Account
	target account.Target
}

type updateAmountEffect struct {
	amount  money.Value
	pending txengine.PendingTransaction
}

type updateFeeEffect struct {
	level   txengine.FeeLevel
	custom  *money.Value
	pending txengine.PendingTransaction
}

type buildConfirmationsEffect struct {
	pending txengine.PendingTransaction
}

type executeEffect struct {
	pending        txengine.PendingTransaction
	secondPassword string
}

type stopEffect struct{}

func (loadSourcesEffect) isEffect()        {}
func (loadTargetsEffect) isEffect()        {}
func (initializeEffect) isEffect()         {}
func (updateAmountEffect) isEffect()       {}
func (updateFeeEffect) isEffect()          {}
func (buildConfirmationsEffect) isEffect() {}
func (executeEffect) isEffect()            {}
func (stopEffect) isEffect()               {}

// Reduce is the pure state transition. It never performs I/O; all
// side work is returned as effects. Closed is terminal: every action
// reduces to the same state with no effects.
func Reduce(state TransactionState, action Action) (TransactionState, []Effect) {
	if state.Step == StepClosed {
		return state, nil
	}
	// IsGoingBack only survives the reduction that set it.
	state.IsGoingBack = false

	switch a := action.(type) {
	case InitialiseWithNoSourceOrTarget:
		state.AssetAction = a.AssetAction
		return state.advance(StepSelectSource), []Effect{loadSourcesEffect{}}

	case InitialiseWithSourceAccount:
		state.AssetAction = a.AssetAction
		state.Source = a.Source
		return state.advance(StepEnterAmount), []Effect{loadTargetsEffect{source: a.Source}}

	case InitialiseWithSourceAndTarget:
		state.AssetAction = a.AssetAction
		state.Source = a.Source
		state.Destination = a.Target
		return state.advance(StepEnterAmount), []Effect{initializeEffect{
			action: a.AssetAction, source: a.Source, target: a.Target,
		}}

	case sourcesLoaded:
		state.AvailableSources = a.sources
		return state, nil

	case targetsLoaded:
		state.AvailableTargets = a.targets
		return state, nil

	case SourceAccountSelected:
		state.Source = a.Source
		if state.Destination == nil {
			return state.advance(StepEnterAmount), []Effect{loadTargetsEffect{source: a.Source}}
		}
		return state.advance(StepEnterAmount), []Effect{initializeEffect{
			action: state.AssetAction, source: a.Source, target: state.Destination,
		}}

	case TargetSelected:
		if state.Source == nil {
			return state, nil
		}
		// A new pairing re-initializes engine-side data.
		state.Destination = a.Target
		return state.advance(StepEnterAmount), []Effect{initializeEffect{
			action: state.AssetAction, source: state.Source, target: a.Target,
		}}

	case AmountChanged:
		if state.Step != StepEnterAmount {
			return state, nil
		}
		// Step is unchanged; confirmations are stale the moment the
		// amount moves.
		state.Pending = state.Pending.ClearConfirmations()
		state.NextEnabled = false
		return state, []Effect{updateAmountEffect{amount: a.Amount, pending: state.Pending}}

	case FeeLevelChanged:
		return state, []Effect{updateFeeEffect{level: a.Level, custom: a.Custom, pending: state.Pending}}

	case pendingUpdated:
		state.Pending = a.pending
		state.ErrorState = nil
		state.NextEnabled = a.pending.CanExecute()
		return state, nil

	case PrepareTransaction:
		if state.Step != StepEnterAmount {
			return state, nil
		}
		// Proceeding without a destination detours through target
		// selection first.
		if state.Destination == nil {
			return state.advance(StepSelectTarget), nil
		}
		return state.advance(StepConfirmDetail), []Effect{buildConfirmationsEffect{pending: state.Pending}}

	case ExecuteTransaction:
		if state.Step != StepConfirmDetail {
			return state, nil
		}
		// A repeat execute while the first is still settling must not
		// enqueue a second settlement.
		if state.ExecutionStatus == ExecutionInProgress {
			return state, nil
		}
		state.ExecutionStatus = ExecutionInProgress
		state.NextEnabled = false
		return state, []Effect{executeEffect{pending: state.Pending, secondPassword: a.SecondPassword}}

	case executionSucceeded:
		state.ExecutionStatus = ExecutionCompleted
		state.ErrorState = nil
		return state.advance(StepInProgress), nil

	case executionFailed:
		// The step does not advance; the failure surfaces on the
		// current step.
		state.ExecutionStatus = ExecutionError
		state.ErrorState = a.err
		return state, nil

	case FatalError:
		state.ErrorState = a.Err
		state.ExecutionStatus = ExecutionError
		return state, nil

	case ReturnToPreviousStep:
		return state.popStep(), nil

	case ResetFlow:
		state.Step = StepClosed
		state.StepsBackStack = nil
		state.Pending = txengine.PendingTransaction{}
		state.NextEnabled = false
		return state, []Effect{stopEffect{}}
	}
	return state, nil
}
