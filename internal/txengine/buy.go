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

// TradingBuyEngine buys crypto with a custodial fiat balance. The
// amount is entered in fiat; settlement is a ledger entry and the
// target reconciles its pending deposit in PostExecute.
type TradingBuyEngine struct {
	logger *zap.Logger
	quotes *quotes.Engine
	limits *limits.Calculator
	orders OrderService

	source account.Account
	target account.Target
}

// NewTradingBuyEngine creates the custodial buy/deposit variant.
func NewTradingBuyEngine(logger *zap.Logger, q *quotes.Engine, l *limits.Calculator, orders OrderService) *TradingBuyEngine {
	return &TradingBuyEngine{
		logger: logger.Named("trading-buy"),
		quotes: q,
		limits: l,
		orders: orders,
	}
}

func (e *TradingBuyEngine) Start(source account.Account, target account.Target) error {
	if source.Kind() != account.KindCustodial {
		panic("trading buy engine requires a custodial source")
	}
	if !source.Currency().IsFiat() {
		panic("trading buy engine requires a fiat source")
	}
	if !target.Currency().IsCrypto() {
		panic("trading buy engine requires a crypto target")
	}
	e.source = source
	e.target = target
	return nil
}

func (e *TradingBuyEngine) pair() quotes.OrderPair {
	return quotes.OrderPair{Source: e.source.Currency(), Destination: e.target.Currency()}
}

// updateLimits recomputes limits. Buys are priced in fiat already, so
// the bounds need no conversion beyond what the calculator does with a
// price of one.
func (e *TradingBuyEngine) updateLimits(ctx context.Context, p PendingTransaction, quote quotes.PricedQuote) (PendingTransaction, error) {
	bound, err := fiatBoundQuote(quote, e.source.Currency())
	if err != nil {
		return p, fmt.Errorf("update limits: %w", err)
	}
	l, err := e.limits.Compute(ctx, bound, e.source.Currency(), e.source.Currency(), "buy")
	if err != nil {
		return p, fmt.Errorf("update limits: %w", err)
	}
	return p.WithLimits(l), nil
}

// fiatBoundQuote rewrites a fiat-to-crypto quote so its price and fees
// are expressed in the fiat source currency, which is the currency the
// buy bounds validate in. Fees arrive in the crypto destination; they
// convert out through the real price before it collapses to one.
func fiatBoundQuote(quote quotes.PricedQuote, fiat money.Currency) (quotes.PricedQuote, error) {
	staticFee, err := quote.StaticFee.ConvertInverse(quote.Price, fiat)
	if err != nil {
		return quotes.PricedQuote{}, fmt.Errorf("convert static fee: %w", err)
	}
	networkFee, err := quote.NetworkFee.ConvertInverse(quote.Price, fiat)
	if err != nil {
		return quotes.PricedQuote{}, fmt.Errorf("convert network fee: %w", err)
	}
	quote.StaticFee = staticFee
	quote.NetworkFee = networkFee
	quote.Price = money.One(fiat)
	return quote, nil
}

// refreshLimits re-floors the bounds against the latest quote.
func (e *TradingBuyEngine) refreshLimits(ctx context.Context, p PendingTransaction) (PendingTransaction, error) {
	if p.Limits == nil {
		return p, nil
	}
	quote, err := e.quotes.Latest(ctx)
	if err != nil {
		return p, fmt.Errorf("refresh limits: %w", err)
	}
	bound, err := fiatBoundQuote(quote, e.source.Currency())
	if err != nil {
		return p, err
	}
	l, err := limits.Refresh(*p.Limits, bound)
	if err != nil {
		return p, err
	}
	return p.WithLimits(l), nil
}

func (e *TradingBuyEngine) InitializeTransaction(ctx context.Context) (PendingTransaction, error) {
	if _, err := e.quotes.StartPolling(ctx, quotes.DirectionInternal, e.pair()); err != nil {
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

	p := NewPendingTransaction(e.source.Currency(), e.source.Currency())
	p.Available = available
	return e.updateLimits(ctx, p, quote)
}

func (e *TradingBuyEngine) Update(ctx context.Context, amount money.Value, p PendingTransaction) (PendingTransaction, error) {
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

func (e *TradingBuyEngine) UpdateFeeLevel(ctx context.Context, p PendingTransaction, level FeeLevel, custom *money.Value) (PendingTransaction, error) {
	if !p.FeeSelection.Contains(level) {
		panic(fmt.Sprintf("fee level %s not available", level))
	}
	return p, nil
}

func (e *TradingBuyEngine) BuildConfirmations(ctx context.Context, p PendingTransaction) (PendingTransaction, error) {
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

func (e *TradingBuyEngine) ValidateAll(ctx context.Context, p PendingTransaction) (PendingTransaction, error) {
	available, err := e.source.ActionableBalance(ctx)
	if err != nil {
		return p, fmt.Errorf("actionable balance: %w", err)
	}
	return applyValidation(p, e.limits.ValidateAmount(p.Amount, available, p.Limits))
}

func (e *TradingBuyEngine) Execute(ctx context.Context, p PendingTransaction, secondPassword string) (TransactionResult, error) {
	if !p.CanExecute() {
		return TransactionResult{}, fmt.Errorf("execute called without passing validation: %s", p.ValidationState)
	}
	quote, err := e.quotes.Latest(ctx)
	if err != nil {
		return TransactionResult{}, fmt.Errorf("create order: %w", err)
	}
	order, err := e.orders.CreateOrder(ctx, quotes.DirectionInternal, quote.ID, p.Amount, e.target.Currency().Code)
	if err != nil {
		return TransactionResult{}, fmt.Errorf("create order: %w", err)
	}
	e.logger.Info("buy order created", zap.String("order_id", order.ID.String()))
	return TransactionResult{Order: &order, Amount: p.Amount}, nil
}

func (e *TradingBuyEngine) PostExecute(ctx context.Context, result TransactionResult) error {
	if result.Order == nil {
		return nil
	}
	return e.target.OnTxCompleted(ctx, result.Order.ID.String())
}

func (e *TradingBuyEngine) Stop() { e.quotes.Stop() }
