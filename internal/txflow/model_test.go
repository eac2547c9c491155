package txflow

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/coinpilot/txengine/internal/account"
	"github.com/coinpilot/txengine/internal/limits"
	"github.com/coinpilot/txengine/internal/txengine"
	"github.com/coinpilot/txengine/pkg/money"
)

// fakeEngine records lifecycle calls and detects overlap.
type fakeEngine struct {
	mu        sync.Mutex
	inFlight  bool
	calls     []string
	stopped   int
	execErr   error
	execDelay time.Duration
}

func (f *fakeEngine) enter(name string) func() {
	f.mu.Lock()
	if f.inFlight {
		panic("overlapping lifecycle calls")
	}
	f.inFlight = true
	f.calls = append(f.calls, name)
	f.mu.Unlock()
	// Hold the call open long enough for overlap to be observable.
	time.Sleep(time.Millisecond)
	return func() {
		f.mu.Lock()
		f.inFlight = false
		f.mu.Unlock()
	}
}

func (f *fakeEngine) callNames() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	copy(out, f.calls)
	return out
}

func (f *fakeEngine) Start(source account.Account, target account.Target) error { return nil }

func (f *fakeEngine) InitializeTransaction(ctx context.Context) (txengine.PendingTransaction, error) {
	defer f.enter("initialize")()
	return txengine.NewPendingTransaction(money.BTC, money.GBP), nil
}

func (f *fakeEngine) Update(ctx context.Context, amount money.Value, p txengine.PendingTransaction) (txengine.PendingTransaction, error) {
	defer f.enter("update")()
	return p.WithAmount(amount), nil
}

func (f *fakeEngine) UpdateFeeLevel(ctx context.Context, p txengine.PendingTransaction, level txengine.FeeLevel, custom *money.Value) (txengine.PendingTransaction, error) {
	defer f.enter("update_fee")()
	return p.WithSelectedFeeLevel(level, custom), nil
}

func (f *fakeEngine) BuildConfirmations(ctx context.Context, p txengine.PendingTransaction) (txengine.PendingTransaction, error) {
	defer f.enter("confirmations")()
	return p.WithConfirmations([]txengine.Confirmation{{Kind: txengine.ConfirmationSourceValue, Value: p.Amount}}), nil
}

func (f *fakeEngine) ValidateAll(ctx context.Context, p txengine.PendingTransaction) (txengine.PendingTransaction, error) {
	defer f.enter("validate")()
	if !p.Amount.IsPositive() {
		return p.WithValidationState(limits.ValidationBelowMinimumLimit), nil
	}
	return p.WithValidationState(limits.ValidationCanExecute), nil
}

func (f *fakeEngine) Execute(ctx context.Context, p txengine.PendingTransaction, secondPassword string) (txengine.TransactionResult, error) {
	defer f.enter("execute")()
	if f.execDelay > 0 {
		time.Sleep(f.execDelay)
	}
	if f.execErr != nil {
		return txengine.TransactionResult{}, f.execErr
	}
	return txengine.TransactionResult{TxHash: "0xdone", Amount: p.Amount}, nil
}

func (f *fakeEngine) PostExecute(ctx context.Context, result txengine.TransactionResult) error {
	return nil
}

func (f *fakeEngine) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped++
}

func newTestModel(t *testing.T, engine *fakeEngine) *Model {
	t.Helper()
	m := NewModel(zaptest.NewLogger(t), txengine.Deps{}, nil)
	m.WithEngineFactory(func(kind account.Kind, action txengine.AssetAction) (txengine.TransactionEngine, error) {
		return engine, nil
	})
	t.Cleanup(m.Close)
	return m
}

func waitForStep(t *testing.T, m *Model, step Step) TransactionState {
	t.Helper()
	require.Eventually(t, func() bool {
		return m.CurrentState().Step == step
	}, 2*time.Second, 5*time.Millisecond, "waiting for step %s, at %s", step, m.CurrentState().Step)
	return m.CurrentState()
}

func waitFor(t *testing.T, m *Model, cond func(TransactionState) bool) TransactionState {
	t.Helper()
	require.Eventually(t, func() bool {
		return cond(m.CurrentState())
	}, 2*time.Second, 5*time.Millisecond)
	return m.CurrentState()
}

func startFlow(t *testing.T, m *Model) {
	t.Helper()
	source := account.NewMemoryAccount("BTC Keys", account.KindNonCustodial, money.New(decimal.NewFromInt(1), money.BTC))
	target := account.NewCryptoAddress("bc1qdest", "", money.BTC)
	m.Process(InitialiseWithSourceAndTarget{AssetAction: txengine.ActionSend, Source: source, Target: target})
	waitForStep(t, m, StepEnterAmount)
	waitFor(t, m, func(s TransactionState) bool {
		return s.Pending.Amount.Currency.Code == money.BTC.Code
	})
}

func TestModelDrivesFullLifecycle(t *testing.T) {
	engine := &fakeEngine{}
	m := newTestModel(t, engine)
	startFlow(t, m)

	m.Process(AmountChanged{Amount: money.New(decimal.RequireFromString("0.25"), money.BTC)})
	state := waitFor(t, m, func(s TransactionState) bool { return s.NextEnabled })
	assert.True(t, state.Pending.Amount.Amount.Equal(decimal.RequireFromString("0.25")))

	m.Process(PrepareTransaction{})
	state = waitFor(t, m, func(s TransactionState) bool {
		return s.Step == StepConfirmDetail && len(s.Pending.Confirmations) > 0
	})

	m.Process(ExecuteTransaction{})
	state = waitFor(t, m, func(s TransactionState) bool { return s.ExecutionStatus == ExecutionCompleted })
	assert.Equal(t, StepInProgress, state.Step)
	assert.Equal(t, []string{"initialize", "update", "validate", "confirmations", "validate", "execute"}, engine.callNames())
}

func TestModelSettlesOnceOnDoubleExecute(t *testing.T) {
	engine := &fakeEngine{execDelay: 100 * time.Millisecond}
	m := newTestModel(t, engine)
	startFlow(t, m)

	m.Process(AmountChanged{Amount: money.New(decimal.RequireFromString("0.25"), money.BTC)})
	waitFor(t, m, func(s TransactionState) bool { return s.NextEnabled })
	m.Process(PrepareTransaction{})
	waitForStep(t, m, StepConfirmDetail)

	// Double tap: the second dispatch lands while the first is still
	// settling.
	m.Process(ExecuteTransaction{})
	m.Process(ExecuteTransaction{})
	waitFor(t, m, func(s TransactionState) bool { return s.ExecutionStatus == ExecutionCompleted })

	executes := 0
	for _, call := range engine.callNames() {
		if call == "execute" {
			executes++
		}
	}
	assert.Equal(t, 1, executes)
}

func TestModelSurfacesExecutionFailureWithoutAdvancing(t *testing.T) {
	engine := &fakeEngine{execErr: errors.New("broadcast rejected")}
	m := newTestModel(t, engine)
	startFlow(t, m)

	m.Process(AmountChanged{Amount: money.New(decimal.RequireFromString("0.25"), money.BTC)})
	waitFor(t, m, func(s TransactionState) bool { return s.NextEnabled })
	m.Process(PrepareTransaction{})
	waitForStep(t, m, StepConfirmDetail)

	m.Process(ExecuteTransaction{})
	state := waitFor(t, m, func(s TransactionState) bool { return s.ExecutionStatus == ExecutionError })
	assert.Equal(t, StepConfirmDetail, state.Step)
	assert.ErrorIs(t, state.ErrorState, engine.execErr)
}

func TestModelBlocksExecuteWhenValidationFails(t *testing.T) {
	engine := &fakeEngine{}
	m := newTestModel(t, engine)
	startFlow(t, m)

	// Zero amount never validates.
	m.Process(PrepareTransaction{})
	waitForStep(t, m, StepConfirmDetail)
	m.Process(ExecuteTransaction{})

	state := waitFor(t, m, func(s TransactionState) bool { return s.ExecutionStatus == ExecutionError })
	var verr *limits.ValidationError
	require.ErrorAs(t, state.ErrorState, &verr)
	assert.Equal(t, limits.ValidationBelowMinimumLimit, verr.State)
	assert.Equal(t, StepConfirmDetail, state.Step)
	assert.NotContains(t, engine.callNames(), "execute")
}

func TestModelResetStopsEngineAndClosesFlow(t *testing.T) {
	engine := &fakeEngine{}
	m := newTestModel(t, engine)
	startFlow(t, m)

	m.Process(ResetFlow{})
	state := waitForStep(t, m, StepClosed)
	assert.Empty(t, state.StepsBackStack)

	waitFor(t, m, func(TransactionState) bool {
		engine.mu.Lock()
		defer engine.mu.Unlock()
		return engine.stopped > 0
	})

	// Closed is terminal: nothing dispatched afterwards changes state.
	m.Process(AmountChanged{Amount: money.New(decimal.RequireFromString("0.5"), money.BTC)})
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, StepClosed, m.CurrentState().Step)
	assert.True(t, m.CurrentState().Pending.Amount.IsZero())
}

func TestModelStateStreamPublishes(t *testing.T) {
	engine := &fakeEngine{}
	m := newTestModel(t, engine)

	source := account.NewMemoryAccount("BTC Keys", account.KindNonCustodial, money.New(decimal.NewFromInt(1), money.BTC))
	target := account.NewCryptoAddress("bc1qdest", "", money.BTC)
	m.Process(InitialiseWithSourceAndTarget{AssetAction: txengine.ActionSend, Source: source, Target: target})

	select {
	case state := <-m.States():
		assert.Equal(t, StepEnterAmount, state.Step)
	case <-time.After(2 * time.Second):
		t.Fatal("no state published")
	}
}
