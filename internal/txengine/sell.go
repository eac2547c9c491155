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

// sellBase carries the behavior shared by the sell engine variants:
// quote pairing, limits refresh, order creation and amount validation.
type sellBase struct {
	logger    *zap.Logger
	quotes    *quotes.Engine
	limits    *limits.Calculator
	orders    OrderService
	direction quotes.OrderDirection

	source account.Account
	target account.Target
}

func (e *sellBase) pair() quotes.OrderPair {
	return quotes.OrderPair{
		Source:      e.source.Currency(),
		Destination: e.target.Currency(),
	}
}

// updateLimits recomputes limits against the given quote. The sell
// destination is fiat, so the trade bounds arrive in the target
// currency.
func (e *sellBase) updateLimits(ctx context.Context, p PendingTransaction, quote quotes.PricedQuote) (PendingTransaction, error) {
	l, err := e.limits.Compute(ctx, quote, e.source.Currency(), e.target.Currency(), "sell")
	if err != nil {
		return p, fmt.Errorf("update limits: %w", err)
	}
	return p.WithLimits(l), nil
}

// refreshLimits re-floors the bounds against the latest quote, so an
// edited amount validates against current fees rather than the fees
// seen at initialization.
func (e *sellBase) refreshLimits(ctx context.Context, p PendingTransaction) (PendingTransaction, error) {
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

func (e *sellBase) createOrder(ctx context.Context, p PendingTransaction) (Order, error) {
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

// validateAmount checks the amount against the live actionable balance
// and the last computed limits.
func (e *sellBase) validateAmount(ctx context.Context, p PendingTransaction) error {
	available, err := e.source.ActionableBalance(ctx)
	if err != nil {
		return fmt.Errorf("actionable balance: %w", err)
	}
	return e.limits.ValidateAmount(p.Amount, available, p.Limits)
}

func (e *sellBase) buildConfirmations(ctx context.Context, p PendingTransaction) (PendingTransaction, error) {
	quote, err := e.quotes.Latest(ctx)
	if err != nil {
		return p, fmt.Errorf("build confirmations: %w", err)
	}
	confirmations, err := buildSellConfirmations(p, quote, e.source.Label(), e.target.Label())
	if err != nil {
		return p, err
	}
	p = p.WithConfirmations(confirmations)
	// Re-run limits so the confirmation screen reflects current
	// bounds.
	return e.updateLimits(ctx, p, quote)
}

func (e *sellBase) stop() {
	e.quotes.Stop()
}

// TradingSellEngine sells from a custodial balance into fiat. The
// order settles by ledger entry; execution returns a pending result.
type TradingSellEngine struct {
	sellBase
}

// NewTradingSellEngine creates the custodial sell variant.
func NewTradingSellEngine(logger *zap.Logger, q *quotes.Engine, l *limits.Calculator, orders OrderService) *TradingSellEngine {
	return &TradingSellEngine{sellBase{
		logger:    logger.Named("trading-sell"),
		quotes:    q,
		limits:    l,
		orders:    orders,
		direction: quotes.DirectionInternal,
	}}
}

func (e *TradingSellEngine) Start(source account.Account, target account.Target) error {
	if source.Kind() != account.KindCustodial {
		panic("trading sell engine requires a custodial source")
	}
	if !target.Currency().IsFiat() {
		panic("trading sell engine requires a fiat target")
	}
	e.source = source
	e.target = target
	return nil
}

func (e *TradingSellEngine) InitializeTransaction(ctx context.Context) (PendingTransaction, error) {
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

	p := NewPendingTransaction(e.source.Currency(), e.target.Currency())
	p.Available = available
	return e.updateLimits(ctx, p, quote)
}

func (e *TradingSellEngine) Update(ctx context.Context, amount money.Value, p PendingTransaction) (PendingTransaction, error) {
	amount = validateUpdateAmount(amount, true)
	available, err := e.source.ActionableBalance(ctx)
	if err != nil {
		return p, fmt.Errorf("actionable balance: %w", err)
	}
	p = p.WithAmount(amount)
	p.Available = available
	e.quotes.UpdateAmount(amount.Amount)
	return e.refreshLimits(ctx, p.ClearConfirmations())
}

func (e *TradingSellEngine) UpdateFeeLevel(ctx context.Context, p PendingTransaction, level FeeLevel, custom *money.Value) (PendingTransaction, error) {
	if !p.FeeSelection.Contains(level) {
		panic(fmt.Sprintf("fee level %s not available", level))
	}
	// Custodial sells carry no user-selectable fee.
	return p, nil
}

func (e *TradingSellEngine) BuildConfirmations(ctx context.Context, p PendingTransaction) (PendingTransaction, error) {
	return e.buildConfirmations(ctx, p)
}

func (e *TradingSellEngine) ValidateAll(ctx context.Context, p PendingTransaction) (PendingTransaction, error) {
	return applyValidation(p, e.validateAmount(ctx, p))
}

func (e *TradingSellEngine) Execute(ctx context.Context, p PendingTransaction, secondPassword string) (TransactionResult, error) {
	if !p.CanExecute() {
		return TransactionResult{}, fmt.Errorf("execute called without passing validation: %s", p.ValidationState)
	}
	order, err := e.createOrder(ctx, p)
	if err != nil {
		return TransactionResult{}, err
	}
	e.logger.Info("sell order created",
		zap.String("order_id", order.ID.String()),
		zap.String("volume", order.Volume.String()))
	return TransactionResult{Order: &order, Amount: p.Amount}, nil
}

func (e *TradingSellEngine) PostExecute(ctx context.Context, result TransactionResult) error {
	if result.Order == nil {
		return nil
	}
	return e.target.OnTxCompleted(ctx, result.Order.ID.String())
}

func (e *TradingSellEngine) Stop() { e.stop() }
