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

// swapBase is shared by the custodial and on-chain swap variants.
// Swaps pair two crypto currencies; limits resolve the extra fiat leg
// through the price service inside the calculator.
type swapBase struct {
	logger    *zap.Logger
	quotes    *quotes.Engine
	limits    *limits.Calculator
	orders    OrderService
	direction quotes.OrderDirection
	fiat      money.Currency

	source account.Account
	target account.Target
}

func (e *swapBase) pair() quotes.OrderPair {
	return quotes.OrderPair{
		Source:      e.source.Currency(),
		Destination: e.target.Currency(),
	}
}

func (e *swapBase) updateLimits(ctx context.Context, p PendingTransaction, quote quotes.PricedQuote) (PendingTransaction, error) {
	l, err := e.limits.Compute(ctx, quote, e.source.Currency(), e.fiat, "swap")
	if err != nil {
		return p, fmt.Errorf("update limits: %w", err)
	}
	return p.WithLimits(l), nil
}

func (e *swapBase) createOrder(ctx context.Context, p PendingTransaction) (Order, error) {
	quote, err := e.quotes.Latest(ctx)
	if err != nil {
		return Order{}, fmt.Errorf("create order: %w", err)
	}
	order, err := e.orders.CreateOrder(ctx, e.direction, quote.ID, p.Amount, e.target.Currency().Code)
	if err != nil {
		return Order{}, fmt.Errorf("create order: %w", err)
	}
	return order, nil
}

func (e *swapBase) validateAmount(ctx context.Context, p PendingTransaction) error {
	available, err := e.source.ActionableBalance(ctx)
	if err != nil {
		return fmt.Errorf("actionable balance: %w", err)
	}
	return e.limits.ValidateAmount(p.Amount, available, p.Limits)
}

// refreshLimits re-floors the bounds against the latest quote, so an
// edited amount validates against current fees.
func (e *swapBase) refreshLimits(ctx context.Context, p PendingTransaction) (PendingTransaction, error) {
	if p.Limits == nil {
		return p, nil
	}
	quote, err := e.quotes.Latest(ctx)
	if err != nil {
		return p, fmt.Errorf("refresh limits: %w", err)
	}
	l, err := limits.Refresh(*p.Limits, quote)
	if err != nil {
		return p, err
	}
	return p.WithLimits(l), nil
}

func (e *swapBase) buildConfirmations(ctx context.Context, p PendingTransaction) (PendingTransaction, error) {
	quote, err := e.quotes.Latest(ctx)
	if err != nil {
		return p, fmt.Errorf("build confirmations: %w", err)
	}
	confirmations, err := buildSwapConfirmations(p, quote, e.source.Label(), e.target.Label())
	if err != nil {
		return p, err
	}
	return e.updateLimits(ctx, p.WithConfirmations(confirmations), quote)
}

func (e *swapBase) assertCryptoLegs(source account.Account, target account.Target) {
	if !source.Currency().IsCrypto() || !target.Currency().IsCrypto() {
		panic("swap engine requires crypto source and target")
	}
	if source.Currency().Code == target.Currency().Code {
		panic("swap engine requires distinct source and target assets")
	}
}

// SwapEngine swaps between two custodial balances; both legs settle by
// ledger entry.
type SwapEngine struct {
	swapBase
}

// NewSwapEngine creates the custodial swap variant.
func NewSwapEngine(logger *zap.Logger, q *quotes.Engine, l *limits.Calculator, orders OrderService, fiat money.Currency) *SwapEngine {
	return &SwapEngine{swapBase{
		logger:    logger.Named("swap"),
		quotes:    q,
		limits:    l,
		orders:    orders,
		direction: quotes.DirectionInternal,
		fiat:      fiat,
	}}
}

func (e *SwapEngine) Start(source account.Account, target account.Target) error {
	if source.Kind() != account.KindCustodial {
		panic("swap engine requires a custodial source")
	}
	e.assertCryptoLegs(source, target)
	e.source = source
	e.target = target
	return nil
}

func (e *SwapEngine) InitializeTransaction(ctx context.Context) (PendingTransaction, error) {
	if _, err := e.quotes.StartPolling(ctx, e.direction, e.pair()); err != nil {
		return PendingTransaction{}, err
	}
	quote, err := e.quotes.Latest(ctx)
	if err != nil {
		return PendingTransaction{}, err
	}
	available, err := e.source.ActionableBalance(ctx)
	if err != nil {
		return PendingTransaction{}, fmt.Errorf("actionable balance: %w", err)
	}

	p := NewPendingTransaction(e.source.Currency(), e.fiat)
	p.Available = available
	return e.updateLimits(ctx, p, quote)
}

func (e *SwapEngine) Update(ctx context.Context, amount money.Value, p PendingTransaction) (PendingTransaction, error) {
	amount = validateUpdateAmount(amount, false)
	available, err := e.source.ActionableBalance(ctx)
	if err != nil {
		return p, fmt.Errorf("actionable balance: %w", err)
	}
	p = p.WithAmount(amount)
	p.Available = available
	e.quotes.UpdateAmount(amount.Amount)
	return e.refreshLimits(ctx, p.ClearConfirmations())
}

func (e *SwapEngine) UpdateFeeLevel(ctx context.Context, p PendingTransaction, level FeeLevel, custom *money.Value) (PendingTransaction, error) {
	if !p.FeeSelection.Contains(level) {
		panic(fmt.Sprintf("fee level %s not available", level))
	}
	return p, nil
}

func (e *SwapEngine) BuildConfirmations(ctx context.Context, p PendingTransaction) (PendingTransaction, error) {
	return e.buildConfirmations(ctx, p)
}

func (e *SwapEngine) ValidateAll(ctx context.Context, p PendingTransaction) (PendingTransaction, error) {
	return applyValidation(p, e.validateAmount(ctx, p))
}

func (e *SwapEngine) Execute(ctx context.Context, p PendingTransaction, secondPassword string) (TransactionResult, error) {
	if !p.CanExecute() {
		return TransactionResult{}, fmt.Errorf("execute called without passing validation: %s", p.ValidationState)
	}
	order, err := e.createOrder(ctx, p)
	if err != nil {
		return TransactionResult{}, err
	}
	e.logger.Info("swap order created", zap.String("order_id", order.ID.String()))
	return TransactionResult{Order: &order, Amount: p.Amount}, nil
}

func (e *SwapEngine) PostExecute(ctx context.Context, result TransactionResult) error {
	if result.Order == nil {
		return nil
	}
	return e.target.OnTxCompleted(ctx, result.Order.ID.String())
}

func (e *SwapEngine) Stop() { e.quotes.Stop() }

// OnChainSwapEngine swaps from on-chain keys into a custodial
// destination, reusing the two-phase order/broadcast commit of the
// non-custodial sell.
type OnChainSwapEngine struct {
	swapBase
	onChain OnChainEngine
}

// NewOnChainSwapEngine creates the non-custodial swap variant.
func NewOnChainSwapEngine(
	logger *zap.Logger,
	q *quotes.Engine,
	l *limits.Calculator,
	orders OrderService,
	onChain OnChainEngine,
	fiat money.Currency,
) *OnChainSwapEngine {
	return &OnChainSwapEngine{
		swapBase: swapBase{
			logger:    logger.Named("onchain-swap"),
			quotes:    q,
			limits:    l,
			orders:    orders,
			direction: quotes.DirectionFromUserKey,
			fiat:      fiat,
		},
		onChain: onChain,
	}
}

func (e *OnChainSwapEngine) Start(source account.Account, target account.Target) error {
	if source.Kind() != account.KindNonCustodial {
		panic("on-chain swap engine requires a non-custodial source")
	}
	e.assertCryptoLegs(source, target)
	e.source = source
	e.target = target
	return nil
}

func (e *OnChainSwapEngine) InitializeTransaction(ctx context.Context) (PendingTransaction, error) {
	if _, err := e.quotes.StartPolling(ctx, e.direction, e.pair()); err != nil {
		return PendingTransaction{}, err
	}
	quote, err := e.quotes.Latest(ctx)
	if err != nil {
		return PendingTransaction{}, err
	}

	sample := account.NewCryptoAddress(quote.SampleDepositAddress, "", e.source.Currency())
	if err := e.onChain.Start(e.source, sample); err != nil {
		return PendingTransaction{}, fmt.Errorf("start on-chain engine: %w", err)
	}
	p, err := e.onChain.InitializeTransaction(ctx)
	if err != nil {
		return PendingTransaction{}, err
	}
	p.SelectedFiat = e.fiat
	p = p.WithSelectedFeeLevel(defaultFeeLevel(p.FeeSelection), nil)
	return e.updateLimits(ctx, p, quote)
}

func (e *OnChainSwapEngine) Update(ctx context.Context, amount money.Value, p PendingTransaction) (PendingTransaction, error) {
	amount = validateUpdateAmount(amount, false)
	p, err := e.onChain.Update(ctx, amount, p)
	if err != nil {
		return p, err
	}
	e.quotes.UpdateAmount(p.Amount.Amount)
	return e.refreshLimits(ctx, p.ClearConfirmations())
}

func (e *OnChainSwapEngine) UpdateFeeLevel(ctx context.Context, p PendingTransaction, level FeeLevel, custom *money.Value) (PendingTransaction, error) {
	if !p.FeeSelection.Contains(level) {
		panic(fmt.Sprintf("fee level %s not available", level))
	}
	return e.onChain.UpdateFeeLevel(ctx, p, level, custom)
}

func (e *OnChainSwapEngine) BuildConfirmations(ctx context.Context, p PendingTransaction) (PendingTransaction, error) {
	return e.buildConfirmations(ctx, p)
}

func (e *OnChainSwapEngine) ValidateAll(ctx context.Context, p PendingTransaction) (PendingTransaction, error) {
	p, err := e.onChain.ValidateAmount(ctx, p)
	if err != nil {
		return applyValidation(p, err)
	}
	if !p.CanExecute() {
		return p, nil
	}
	return applyValidation(p, e.validateAmount(ctx, p))
}

func (e *OnChainSwapEngine) Execute(ctx context.Context, p PendingTransaction, secondPassword string) (TransactionResult, error) {
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
		e.logger.Warn("failed to report order success",
			zap.String("order_id", order.ID.String()),
			zap.Error(updateErr))
	}
	result.Order = &order
	return result, nil
}

func (e *OnChainSwapEngine) failOrder(ctx context.Context, order Order) {
	if err := e.orders.UpdateOrder(ctx, order.ID, false); err != nil {
		e.logger.Error("failed to report order failure",
			zap.String("order_id", order.ID.String()),
			zap.Error(err))
	}
}

func (e *OnChainSwapEngine) PostExecute(ctx context.Context, result TransactionResult) error {
	id := result.TxHash
	if id == "" && result.Order != nil {
		id = result.Order.ID.String()
	}
	return e.target.OnTxCompleted(ctx, id)
}

func (e *OnChainSwapEngine) Stop() { e.quotes.Stop() }
