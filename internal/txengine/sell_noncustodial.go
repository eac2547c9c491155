package txengine

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/coinpilot/txengine/internal/account"
	"github.com/coinpilot/txengine/internal/limits"
	"github.com/coinpilot/txengine/internal/quotes"
	"github.com/coinpilot/txengine/pkg/money"
)

// NonCustodialSellEngine sells from on-chain keys into fiat. Execution
// is two-phase: create the order to learn the deposit address, then
// have the on-chain sub-engine pay into it. If the on-chain leg fails
// after the order exists, the order is reported failed exactly once
// before the error propagates, so the backend never retains a
// dangling order.
type NonCustodialSellEngine struct {
	sellBase
	onChain OnChainEngine
}

// NewNonCustodialSellEngine creates the non-custodial sell variant.
func NewNonCustodialSellEngine(
	logger *zap.Logger,
	q *quotes.Engine,
	l *limits.Calculator,
	orders OrderService,
	onChain OnChainEngine,
) *NonCustodialSellEngine {
	return &NonCustodialSellEngine{
		sellBase: sellBase{
			logger:    logger.Named("noncustodial-sell"),
			quotes:    q,
			limits:    l,
			orders:    orders,
			direction: quotes.DirectionFromUserKey,
		},
		onChain: onChain,
	}
}

func (e *NonCustodialSellEngine) Start(source account.Account, target account.Target) error {
	if source.Kind() != account.KindNonCustodial {
		panic("non-custodial sell engine requires a non-custodial source")
	}
	if !target.Currency().IsFiat() {
		panic("non-custodial sell engine requires a fiat target")
	}
	e.source = source
	e.target = target
	return nil
}

func (e *NonCustodialSellEngine) InitializeTransaction(ctx context.Context) (PendingTransaction, error) {
	if _, err := e.quotes.StartPolling(ctx, e.direction, e.pair()); err != nil {
		return PendingTransaction{}, err
	}
	quote, err := e.quotes.Latest(ctx)
	if err != nil {
		return PendingTransaction{}, err
	}

	// Pre-initialize the on-chain leg against the sample deposit
	// address; the real address is only known once the order exists.
	sample := account.NewCryptoAddress(quote.SampleDepositAddress, "", e.source.Currency())
	if err := e.onChain.Start(e.source, sample); err != nil {
		return PendingTransaction{}, fmt.Errorf("start on-chain engine: %w", err)
	}

	p, err := e.onChain.InitializeTransaction(ctx)
	if err != nil {
		return PendingTransaction{}, err
	}
	p.SelectedFiat = e.target.Currency()
	p = p.WithSelectedFeeLevel(defaultFeeLevel(p.FeeSelection), nil)
	return e.updateLimits(ctx, p, quote)
}

func (e *NonCustodialSellEngine) Update(ctx context.Context, amount money.Value, p PendingTransaction) (PendingTransaction, error) {
	amount = validateUpdateAmount(amount, false)
	p, err := e.onChain.Update(ctx, amount, p)
	if err != nil {
		return p, err
	}
	e.quotes.UpdateAmount(p.Amount.Amount)
	return e.refreshLimits(ctx, p.ClearConfirmations())
}

func (e *NonCustodialSellEngine) UpdateFeeLevel(ctx context.Context, p PendingTransaction, level FeeLevel, custom *money.Value) (PendingTransaction, error) {
	if !p.FeeSelection.Contains(level) {
		panic(fmt.Sprintf("fee level %s not available", level))
	}
	return e.onChain.UpdateFeeLevel(ctx, p, level, custom)
}

func (e *NonCustodialSellEngine) BuildConfirmations(ctx context.Context, p PendingTransaction) (PendingTransaction, error) {
	return e.buildConfirmations(ctx, p)
}

func (e *NonCustodialSellEngine) ValidateAll(ctx context.Context, p PendingTransaction) (PendingTransaction, error) {
	p, err := e.onChain.ValidateAmount(ctx, p)
	if err != nil {
		return applyValidation(p, err)
	}
	if !p.CanExecute() {
		return p, nil
	}
	return applyValidation(p, e.validateAmount(ctx, p))
}

func (e *NonCustodialSellEngine) Execute(ctx context.Context, p PendingTransaction, secondPassword string) (TransactionResult, error) {
	if !p.CanExecute() {
		return TransactionResult{}, fmt.Errorf("execute called without passing validation: %s", p.ValidationState)
	}
	order, err := e.createOrder(ctx, p)
	if err != nil {
		return TransactionResult{}, err
	}
	if order.DepositAddress == "" {
		return TransactionResult{}, fmt.Errorf("order %s is missing a deposit address", order.ID)
	}

	deposit := account.NewCryptoAddress(order.DepositAddress, "", e.source.Currency())
	p, err = e.onChain.Restart(deposit, p)
	if err != nil {
		e.failOrder(ctx, order)
		return TransactionResult{}, err
	}

	result, err := e.onChain.Execute(ctx, p, secondPassword)
	if err != nil {
		e.failOrder(ctx, order)
		return TransactionResult{}, err
	}

	if updateErr := e.orders.UpdateOrder(ctx, order.ID, true); updateErr != nil {
		// The broadcast went out; a failed status report must not turn
		// a settled transaction into an error.
		e.logger.Warn("failed to report order success",
			zap.String("order_id", order.ID.String()),
			zap.Error(updateErr))
	}
	result.Order = &order
	return result, nil
}

// failOrder reports settlement failure to the ledger. Errors from the
// report itself are logged and dropped; the original failure is what
// the caller needs to see.
func (e *NonCustodialSellEngine) failOrder(ctx context.Context, order Order) {
	if err := e.orders.UpdateOrder(ctx, order.ID, false); err != nil {
		e.logger.Error("failed to report order failure",
			zap.String("order_id", order.ID.String()),
			zap.Error(err))
	}
}

func (e *NonCustodialSellEngine) PostExecute(ctx context.Context, result TransactionResult) error {
	id := result.TxHash
	if id == "" && result.Order != nil {
		id = result.Order.ID.String()
	}
	return e.target.OnTxCompleted(ctx, id)
}

func (e *NonCustodialSellEngine) Stop() { e.stop() }
