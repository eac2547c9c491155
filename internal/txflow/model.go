package txflow

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/coinpilot/txengine/internal/account"
	"github.com/coinpilot/txengine/internal/limits"
	"github.com/coinpilot/txengine/internal/txengine"
	"github.com/coinpilot/txengine/pkg/money"
)

// EngineFactory selects an engine variant. Overridable in tests;
// defaults to txengine.NewEngine with the model's deps.
type EngineFactory func(kind account.Kind, action txengine.AssetAction) (txengine.TransactionEngine, error)

// Model drives one transaction flow. It owns a single reducer
// goroutine and a single effect worker: actions reduce in order,
// effects run serialized, so no two engine lifecycle calls are ever in
// flight for the same pending transaction. Quote polling stays
// decoupled inside the quote engine.
type Model struct {
	logger   *zap.Logger
	accounts account.Provider
	factory  EngineFactory

	actions chan taggedAction
	effects chan taggedEffect
	states  chan TransactionState
	done    chan struct{}

	closeOnce sync.Once

	mu         sync.Mutex
	state      TransactionState
	generation int
	engine     txengine.TransactionEngine
}

type taggedAction struct {
	action Action
	gen    int
}

type taggedEffect struct {
	effect Effect
	gen    int
}

// NewModel creates and starts a model. Close releases it.
func NewModel(logger *zap.Logger, deps txengine.Deps, accounts account.Provider) *Model {
	m := &Model{
		logger:   logger.Named("txflow"),
		accounts: accounts,
		factory: func(kind account.Kind, action txengine.AssetAction) (txengine.TransactionEngine, error) {
			return txengine.NewEngine(kind, action, deps)
		},
		actions: make(chan taggedAction, 64),
		effects: make(chan taggedEffect, 64),
		states:  make(chan TransactionState, 64),
		done:    make(chan struct{}),
		state:   TransactionState{Step: StepInitial},
	}
	go m.reduceLoop()
	go m.effectLoop()
	return m
}

// WithEngineFactory swaps the engine factory. Call before the first
// action is dispatched.
func (m *Model) WithEngineFactory(f EngineFactory) *Model {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.factory = f
	return m
}

// Process dispatches an action. Safe for concurrent use.
func (m *Model) Process(action Action) {
	m.mu.Lock()
	gen := m.generation
	m.mu.Unlock()
	m.dispatch(action, gen)
}

func (m *Model) dispatch(action Action, gen int) {
	select {
	case m.actions <- taggedAction{action: action, gen: gen}:
	case <-m.done:
	}
}

// States is the observable state stream. Slow readers lose the oldest
// snapshots, never the newest.
func (m *Model) States() <-chan TransactionState {
	return m.states
}

// CurrentState returns the latest reduced state.
func (m *Model) CurrentState() TransactionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Close stops both loops and the engine.
func (m *Model) Close() {
	m.closeOnce.Do(func() {
		close(m.done)
		m.mu.Lock()
		engine := m.engine
		m.mu.Unlock()
		if engine != nil {
			engine.Stop()
		}
	})
}

func (m *Model) reduceLoop() {
	for {
		select {
		case <-m.done:
			return
		case ta := <-m.actions:
			m.reduceOne(ta)
		}
	}
}

func (m *Model) reduceOne(ta taggedAction) {
	m.mu.Lock()
	// A reset invalidates every in-flight effect: results tagged with
	// an older generation are discarded here.
	if ta.gen < m.generation {
		m.mu.Unlock()
		return
	}
	if _, ok := ta.action.(ResetFlow); ok {
		m.generation++
	}
	state, effects := Reduce(m.state, ta.action)
	m.state = state
	gen := m.generation
	m.mu.Unlock()

	m.publish(state)
	for _, effect := range effects {
		select {
		case m.effects <- taggedEffect{effect: effect, gen: gen}:
		case <-m.done:
			return
		}
	}
}

func (m *Model) publish(state TransactionState) {
	for {
		select {
		case m.states <- state:
			return
		default:
		}
		// Full buffer: drop the oldest snapshot.
		select {
		case <-m.states:
		default:
		}
	}
}

func (m *Model) effectLoop() {
	ctx := context.Background()
	for {
		select {
		case <-m.done:
			return
		case te := <-m.effects:
			m.mu.Lock()
			stale := te.gen < m.generation
			m.mu.Unlock()
			if stale {
				continue
			}
			m.runEffect(ctx, te)
		}
	}
}

func (m *Model) currentEngine() txengine.TransactionEngine {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.engine
}

func (m *Model) runEffect(ctx context.Context, te taggedEffect) {
	switch e := te.effect.(type) {
	case loadSourcesEffect:
		if m.accounts == nil {
			return
		}
		// A zero currency filter asks the provider for everything.
		sources, err := m.accounts.Accounts(ctx, money.Currency{})
		if err != nil {
			m.dispatch(FatalError{Err: err}, te.gen)
			return
		}
		m.dispatch(sourcesLoaded{sources: sources}, te.gen)

	case loadTargetsEffect:
		if m.accounts == nil {
			return
		}
		targets, err := m.accounts.Targets(ctx, e.source)
		if err != nil {
			m.dispatch(FatalError{Err: err}, te.gen)
			return
		}
		m.dispatch(targetsLoaded{targets: targets}, te.gen)

	case initializeEffect:
		engine, err := m.factory(e.source.Kind(), e.action)
		if err != nil {
			m.dispatch(FatalError{Err: err}, te.gen)
			return
		}
		if err := engine.Start(e.source, e.target); err != nil {
			m.dispatch(FatalError{Err: err}, te.gen)
			return
		}
		m.setEngine(engine)
		pending, err := engine.InitializeTransaction(ctx)
		if err != nil {
			m.dispatch(FatalError{Err: err}, te.gen)
			return
		}
		m.dispatch(pendingUpdated{pending: pending}, te.gen)

	case updateAmountEffect:
		engine := m.currentEngine()
		if engine == nil {
			m.dispatch(pendingUpdated{pending: e.pending.WithAmount(e.amount)}, te.gen)
			return
		}
		pending, err := engine.Update(ctx, e.amount, e.pending)
		if err != nil {
			m.dispatch(FatalError{Err: err}, te.gen)
			return
		}
		pending, err = engine.ValidateAll(ctx, pending)
		if err != nil {
			m.dispatch(FatalError{Err: err}, te.gen)
			return
		}
		m.dispatch(pendingUpdated{pending: pending}, te.gen)

	case updateFeeEffect:
		engine := m.currentEngine()
		if engine == nil {
			return
		}
		pending, err := engine.UpdateFeeLevel(ctx, e.pending, e.level, e.custom)
		if err != nil {
			m.dispatch(FatalError{Err: err}, te.gen)
			return
		}
		m.dispatch(pendingUpdated{pending: pending}, te.gen)

	case buildConfirmationsEffect:
		engine := m.currentEngine()
		if engine == nil {
			return
		}
		pending, err := engine.BuildConfirmations(ctx, e.pending)
		if err != nil {
			m.dispatch(FatalError{Err: err}, te.gen)
			return
		}
		m.dispatch(pendingUpdated{pending: pending}, te.gen)

	case executeEffect:
		engine := m.currentEngine()
		if engine == nil {
			return
		}
		pending, err := engine.ValidateAll(ctx, e.pending)
		if err != nil {
			m.dispatch(executionFailed{err: err}, te.gen)
			return
		}
		if !pending.CanExecute() {
			m.dispatch(pendingUpdated{pending: pending}, te.gen)
			m.dispatch(executionFailed{err: limits.NewValidationError(pending.ValidationState)}, te.gen)
			return
		}
		result, err := engine.Execute(ctx, pending, e.secondPassword)
		if err != nil {
			m.dispatch(executionFailed{err: err}, te.gen)
			return
		}
		if err := engine.PostExecute(ctx, result); err != nil {
			m.logger.Warn("post-execute failed", zap.Error(err))
		}
		m.dispatch(executionSucceeded{result: result}, te.gen)

	case stopEffect:
		engine := m.currentEngine()
		if engine != nil {
			engine.Stop()
		}
	}
}

func (m *Model) setEngine(engine txengine.TransactionEngine) {
	m.mu.Lock()
	old := m.engine
	m.engine = engine
	m.mu.Unlock()
	// A re-initialized pairing releases the previous engine's quote
	// subscription.
	if old != nil {
		old.Stop()
	}
}
