package txengine

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/coinpilot/txengine/internal/account"
	"github.com/coinpilot/txengine/internal/quotes"
	"github.com/coinpilot/txengine/pkg/money"
)

// NonCustodialSendEngine sends from on-chain keys straight to an
// address. There is no backend order; the engine is a thin shell that
// delegates fee math, validation and broadcast to the per-asset
// on-chain sub-engine and keeps a fiat quote polling for display.
type NonCustodialSendEngine struct {
	logger  *zap.Logger
	quotes  *quotes.Engine
	onChain OnChainEngine
	fiat    money.Currency

	source account.Account
	target account.Target
}

// NewNonCustodialSendEngine creates the non-custodial send variant.
func NewNonCustodialSendEngine(logger *zap.Logger, q *quotes.Engine, onChain OnChainEngine, fiat money.Currency) *NonCustodialSendEngine {
	return &NonCustodialSendEngine{
		logger:  logger.Named("noncustodial-send"),
		quotes:  q,
		onChain: onChain,
		fiat:    fiat,
	}
}

func (e *NonCustodialSendEngine) Start(source account.Account, target account.Target) error {
	if source.Kind() != account.KindNonCustodial {
		panic("non-custodial send engine requires a non-custodial source")
	}
	if source.Currency().Code != target.Currency().Code {
		panic("non-custodial send engine requires matching source and target assets")
	}
	e.source = source
	e.target = target
	return e.onChain.Start(source, target)
}

func (e *NonCustodialSendEngine) InitializeTransaction(ctx context.Context) (PendingTransaction, error) {
	pair := quotes.OrderPair{Source: e.source.Currency(), Destination: e.fiat}
	if _, err := e.quotes.StartPolling(ctx, quotes.DirectionOnChain, pair); err != nil {
		return PendingTransaction{}, err
	}
	p, err := e.onChain.InitializeTransaction(ctx)
	if err != nil {
		return PendingTransaction{}, err
	}
	p.SelectedFiat = e.fiat
	return p.WithSelectedFeeLevel(defaultFeeLevel(p.FeeSelection), nil), nil
}

func (e *NonCustodialSendEngine) Update(ctx context.Context, amount money.Value, p PendingTransaction) (PendingTransaction, error) {
	amount = validateUpdateAmount(amount, false)
	p, err := e.onChain.Update(ctx, amount, p)
	if err != nil {
		return p, err
	}
	e.quotes.UpdateAmount(p.Amount.Amount)
	return p.ClearConfirmations(), nil
}

func (e *NonCustodialSendEngine) UpdateFeeLevel(ctx context.Context, p PendingTransaction, level FeeLevel, custom *money.Value) (PendingTransaction, error) {
	if !p.FeeSelection.Contains(level) {
		panic(fmt.Sprintf("fee level %s not available", level))
	}
	return e.onChain.UpdateFeeLevel(ctx, p, level, custom)
}

func (e *NonCustodialSendEngine) BuildConfirmations(ctx context.Context, p PendingTransaction) (PendingTransaction, error) {
	quote, err := e.quotes.Latest(ctx)
	if err != nil {
		return p, fmt.Errorf("build confirmations: %w", err)
	}
	confirmations, err := buildSendConfirmations(p, quote.Price, e.source.Label(), e.target.Label())
	if err != nil {
		return p, err
	}
	return p.WithConfirmations(confirmations), nil
}

func (e *NonCustodialSendEngine) ValidateAll(ctx context.Context, p PendingTransaction) (PendingTransaction, error) {
	p, err := e.onChain.ValidateAmount(ctx, p)
	return applyValidation(p, err)
}

func (e *NonCustodialSendEngine) Execute(ctx context.Context, p PendingTransaction, secondPassword string) (TransactionResult, error) {
	if !p.CanExecute() {
		return TransactionResult{}, fmt.Errorf("execute called without passing validation: %s", p.ValidationState)
	}
	result, err := e.onChain.Execute(ctx, p, secondPassword)
	if err != nil {
		return TransactionResult{}, err
	}
	e.logger.Info("transaction broadcast", zap.String("tx_hash", result.TxHash))
	return result, nil
}

func (e *NonCustodialSendEngine) PostExecute(ctx context.Context, result TransactionResult) error {
	return e.target.OnTxCompleted(ctx, result.TxHash)
}

func (e *NonCustodialSendEngine) Stop() { e.quotes.Stop() }
